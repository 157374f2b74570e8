package shape_test

import (
	"testing"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/shape"
	"github.com/plover-tools/plover/testutil"
)

func segments(sh *heap.SymHeap) []heap.ObjID {
	var out []heap.ObjID
	for _, o := range sh.Objs() {
		if sh.IsAbstract(o) {
			out = append(out, o)
		}
	}
	return out
}

func TestAbstractBelowThreshold(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	l.Anchor(sh, "x", l.Chain(sh, 1, "next")[0])

	shape.AbstractIfNeeded(sh, shape.DefaultConfig)
	if segs := segments(sh); len(segs) != 0 {
		t.Errorf("single node folded into %v", segs)
	}
}

func TestAbstractLeavesSpareHead(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	nodes := l.Chain(sh, 2, "next")
	l.Anchor(sh, "x", nodes[0])

	shape.AbstractIfNeeded(sh, shape.DefaultConfig)

	if sh.IsAbstract(nodes[0]) {
		t.Errorf("chain head folded away")
	}
	segs := segments(sh)
	if len(segs) != 1 || sh.ObjKind(segs[0]) != heap.KindSLS {
		t.Fatalf("segments after folding: %v", segs)
	}
	seg := segs[0]
	if b := sh.ObjBinding(seg); b.Next != l.Offs["next"] {
		t.Errorf("segment bound at offset %d, want %d", b.Next, l.Offs["next"])
	}
	if got := sh.MinLength(seg); got != 1 {
		t.Errorf("fresh segment min-length is %d, want 1", got)
	}
	tgt, _, ok := sh.TargetOf(sh.ValueAtOff(nodes[0], l.Offs["next"]))
	if !ok || tgt != seg {
		t.Errorf("head does not hand over to the segment")
	}
	if got := sh.NextValOf(seg); got != heap.ValNull {
		t.Errorf("segment outward value is %s, want NULL", got)
	}
}

func TestAbstractLongChainAndStability(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	nodes := l.Chain(sh, 5, "next")
	l.Anchor(sh, "x", nodes[0])

	shape.AbstractIfNeeded(sh, shape.DefaultConfig)
	if segs := segments(sh); len(segs) != 1 {
		t.Fatalf("long chain folded into %d segments", len(segs))
	}
	before := len(sh.Objs())

	shape.AbstractIfNeeded(sh, shape.DefaultConfig)
	if after := len(sh.Objs()); after != before {
		t.Errorf("refolding changed the heap: %d objects, was %d", after, before)
	}
}

func TestAbstractDisabled(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	l.Anchor(sh, "x", l.Chain(sh, 5, "next")[0])

	shape.AbstractIfNeeded(sh, shape.Config{})
	if segs := segments(sh); len(segs) != 0 {
		t.Errorf("disabled abstraction still folded %v", segs)
	}
}

func TestAbstractClobbersMismatchingData(t *testing.T) {
	l := testutil.NewList("node", "next")

	build := func(payloads []int64) (*heap.SymHeap, heap.ObjID) {
		sh := heap.New()
		nodes := l.Chain(sh, 3, "next")
		l.Anchor(sh, "x", nodes[0])
		for i, p := range payloads {
			sh.WriteAtOff(nodes[i], l.Offs["data"], sh.NewCustom(heap.IntVal(p)))
		}
		shape.AbstractIfNeeded(sh, shape.DefaultConfig)
		segs := segments(sh)
		if len(segs) != 1 {
			t.Fatalf("chain folded into %d segments", len(segs))
		}
		return sh, segs[0]
	}

	sh, seg := build([]int64{7, 7, 7})
	if c, ok := sh.ValCustom(sh.ValueAtOff(seg, l.Offs["data"])); !ok || c.Int != 7 {
		t.Errorf("matching payload not preserved: (%v, %v)", c, ok)
	}

	sh, seg = build([]int64{7, 1, 2})
	v := sh.ValueAtOff(seg, l.Offs["data"])
	if origin, ok := sh.ValOrigin(v); !ok || origin != heap.OrUnknown {
		t.Errorf("mismatching payload kept as %s", v)
	}
}

func TestAbstractDoublyLinked(t *testing.T) {
	l := testutil.NewList("node", "next", "prev")
	sh := heap.New()
	nodes := l.DChain(sh, 3, "next", "prev")
	l.Anchor(sh, "x", nodes[0])

	shape.AbstractIfNeeded(sh, shape.Config{EnableDLS: true})

	if k := sh.ObjKind(nodes[0]); k != heap.KindDLS {
		t.Fatalf("front node has kind %s, want DLS", k)
	}
	if k := sh.ObjKind(nodes[1]); k != heap.KindDLS {
		t.Fatalf("second node has kind %s, want DLS", k)
	}
	if sh.IsAbstract(nodes[2]) {
		t.Errorf("tail node folded despite its single incoming pointer")
	}
	if got := sh.PeerOf(nodes[0]); got != nodes[1] {
		t.Errorf("peer of front end is %s, want %s", got, nodes[1])
	}
	if got := sh.PeerOf(nodes[1]); got != nodes[0] {
		t.Errorf("peer of far end is %s, want %s", got, nodes[0])
	}

	// outward links: backward out of the front end, onward to the tail
	if got := sh.NextValOf(nodes[0]); got != heap.ValNull {
		t.Errorf("front outward value is %s, want NULL", got)
	}
	tgt, _, ok := sh.TargetOf(sh.NextValOf(nodes[1]))
	if !ok || tgt != nodes[2] {
		t.Errorf("far end does not hand over to the tail")
	}

	before := len(sh.Objs())
	shape.AbstractIfNeeded(sh, shape.Config{EnableDLS: true})
	if after := len(sh.Objs()); after != before {
		t.Errorf("refolding changed the heap: %d objects, was %d", after, before)
	}
}

func TestAbstractDoublyLinkedGobblesTail(t *testing.T) {
	l := testutil.NewList("node", "next", "prev")
	sh := heap.New()
	nodes := l.DChain(sh, 4, "next", "prev")
	l.Anchor(sh, "x", nodes[0])
	// an extra anchor on the tail raises its incoming-pointer count, so
	// the whole chain folds into one pair and the anchor lands on an end
	y := l.Anchor(sh, "y", nodes[3])

	shape.AbstractIfNeeded(sh, shape.Config{EnableDLS: true})

	segs := segments(sh)
	if len(segs) != 2 {
		t.Fatalf("folded into %d segment ends, want one pair: %s",
			len(segs), testutil.Dump(segs))
	}
	e1, e2 := segs[0], segs[1]
	if sh.PeerOf(e1) != e2 || sh.PeerOf(e2) != e1 {
		t.Fatalf("segment ends are not peers")
	}
	if sh.ObjValid(nodes[3]) {
		t.Errorf("absorbed tail still live")
	}
	yo, _ := sh.VarObjByUID(y.UID)
	tgt, off, ok := sh.TargetOf(sh.ValueAtOff(yo, 0))
	if !ok || off != 0 || (tgt != e1 && tgt != e2) {
		t.Errorf("tail anchor not redirected to a segment end: (%s, %d)", tgt, off)
	}
}
