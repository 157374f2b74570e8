package heap_test

import (
	"testing"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/testutil"
)

func TestCollectJunkKeepsReachable(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	nodes := l.Chain(sh, 3, "next")
	l.Anchor(sh, "x", nodes[0])

	if junk := sh.CollectJunk(); len(junk) != 0 {
		t.Errorf("anchored chain collected: %v", junk)
	}
	for _, o := range nodes {
		if !sh.ObjValid(o) {
			t.Errorf("reachable node %s destroyed", o)
		}
	}
}

func TestCollectJunkUnreachableChain(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	nodes := l.Chain(sh, 2, "next")
	x := l.Anchor(sh, "x", nodes[0])

	xo, _ := sh.VarObjByUID(x.UID)
	sh.WriteField(xo, 0, l.Ptr, heap.ValNull)

	junk := sh.CollectJunk()
	if len(junk) != 2 {
		t.Fatalf("collected %v, want both chain nodes", junk)
	}
	for _, o := range nodes {
		if sh.ObjValid(o) {
			t.Errorf("orphaned node %s survived", o)
		}
	}
}

func TestCollectJunkKeepsRetValTarget(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	o := l.Chain(sh, 1, "next")[0]
	sh.SetRetVal(sh.AddrOf(o, 0))

	if junk := sh.CollectJunk(); len(junk) != 0 {
		t.Errorf("pending return target collected: %v", junk)
	}
}

func TestCollectJunkPrunesDeadPredicates(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	o := l.Chain(sh, 1, "next")[0]
	x := l.Anchor(sh, "x", o)

	// a comparison operand nothing stores anymore
	dead := sh.NewUnknown(heap.OrHeap)
	if err := sh.AddNeq(dead, heap.ValNull); err != nil {
		t.Fatalf("recording neq: %v", err)
	}
	// a predicate over stored values
	live := sh.NewUnknown(heap.OrHeap)
	sh.WriteAtOff(o, l.Offs["data"], live)
	if err := sh.AddNeq(live, heap.ValNull); err != nil {
		t.Fatalf("recording neq: %v", err)
	}
	// a predicate over a live object's address
	xo, _ := sh.VarObjByUID(x.UID)
	head := sh.ValueAtOff(xo, 0)
	if err := sh.AddNeq(head, heap.ValNull); err != nil {
		t.Fatalf("recording neq: %v", err)
	}

	sh.CollectJunk()
	if sh.HasNeq(dead, heap.ValNull) {
		t.Errorf("predicate over a dead value survived: %s", testutil.Dump(sh.NeqPairs()))
	}
	if !sh.HasNeq(live, heap.ValNull) {
		t.Errorf("predicate over a stored value pruned")
	}
	if !sh.HasNeq(head, heap.ValNull) {
		t.Errorf("predicate over a live address pruned")
	}
}

func TestCollectJunkPrunesPredicatesOfCollected(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	o := l.Chain(sh, 1, "next")[0]
	x := l.Anchor(sh, "x", o)

	u := sh.NewUnknown(heap.OrHeap)
	sh.WriteAtOff(o, l.Offs["data"], u)
	if err := sh.AddNeq(u, heap.ValNull); err != nil {
		t.Fatalf("recording neq: %v", err)
	}

	xo, _ := sh.VarObjByUID(x.UID)
	sh.WriteField(xo, 0, l.Ptr, heap.ValNull)

	if junk := sh.CollectJunk(); len(junk) != 1 {
		t.Fatalf("collected %v, want the orphaned node", junk)
	}
	if got := sh.NeqCount(); got != 0 {
		t.Errorf("%d predicates survived the collected node", got)
	}
}
