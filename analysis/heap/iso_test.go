package heap_test

import (
	"testing"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/testutil"
)

// bind writes the head address of o into the object backing v. The
// same variable descriptor is reused across heaps so that both sides
// agree on the bound uid set.
func bind(sh *heap.SymHeap, v *storage.Var, ptr *storage.Type, o heap.ObjID) {
	sh.WriteField(sh.VarObj(v), 0, ptr, sh.AddrOf(o, 0))
}

func TestEqModuloRenaming(t *testing.T) {
	l := testutil.NewList("node", "next")
	x := &storage.Var{UID: 1, Name: "x", Typ: l.Ptr}

	// same shape, different construction order, so the arena ids differ
	h1 := heap.New()
	ns := l.Chain(h1, 2, "next")
	bind(h1, x, l.Ptr, ns[0])

	h2 := heap.New()
	h2.VarObj(x)
	ns = l.Chain(h2, 2, "next")
	bind(h2, x, l.Ptr, ns[0])

	if !heap.Eq(h1, h2) {
		t.Errorf("renamed heaps not recognized as isomorphic")
	}
	if !heap.Eq(h2, h1) {
		t.Errorf("isomorphism is not symmetric")
	}
	if h1.Digest() != h2.Digest() {
		t.Errorf("digests differ on isomorphic heaps: %08x vs %08x",
			h1.Digest(), h2.Digest())
	}
}

func TestEqDistinguishesLength(t *testing.T) {
	l := testutil.NewList("node", "next")
	x := &storage.Var{UID: 1, Name: "x", Typ: l.Ptr}

	h1 := heap.New()
	bind(h1, x, l.Ptr, l.Chain(h1, 2, "next")[0])
	h2 := heap.New()
	bind(h2, x, l.Ptr, l.Chain(h2, 3, "next")[0])

	if heap.Eq(h1, h2) {
		t.Errorf("chains of different length reported isomorphic")
	}
}

func TestEqDistinguishesPredicates(t *testing.T) {
	l := testutil.NewList("node", "next")
	x := &storage.Var{UID: 1, Name: "x", Typ: l.Ptr}

	h1 := heap.New()
	bind(h1, x, l.Ptr, l.Chain(h1, 1, "next")[0])
	h2 := h1.Clone()

	v := h2.ValueAtOff(h2.VarObj(x), 0)
	if err := h2.AddNeq(v, heap.ValNull); err != nil {
		t.Fatalf("recording neq: %v", err)
	}
	if heap.Eq(h1, h2) {
		t.Errorf("heaps with different predicate sets reported isomorphic")
	}
}

func TestEqDistinguishesSegmentAttrs(t *testing.T) {
	l := testutil.NewList("node", "next")
	x := &storage.Var{UID: 1, Name: "x", Typ: l.Ptr}
	seg := func(minLen int) *heap.SymHeap {
		sh := heap.New()
		o := l.Chain(sh, 1, "next")[0]
		bind(sh, x, l.Ptr, o)
		sh.AbstractAsSeg(o, heap.KindSLS, heap.Binding{Head: 0, Next: l.Offs["next"]})
		sh.SetMinLength(o, minLen)
		return sh
	}

	if !heap.Eq(seg(1), seg(1)) {
		t.Errorf("identically built segments not isomorphic")
	}
	if heap.Eq(seg(0), seg(1)) {
		t.Errorf("segments with different min-length reported isomorphic")
	}
}

func TestEqDistinguishesCustoms(t *testing.T) {
	l := testutil.NewList("node", "next")
	x := &storage.Var{UID: 1, Name: "x", Typ: l.Ptr}
	with := func(n int64) *heap.SymHeap {
		sh := heap.New()
		o := l.Chain(sh, 1, "next")[0]
		bind(sh, x, l.Ptr, o)
		sh.WriteAtOff(o, l.Offs["data"], sh.NewCustom(heap.IntVal(n)))
		return sh
	}

	if !heap.Eq(with(42), with(42)) {
		t.Errorf("equal payloads not isomorphic")
	}
	if heap.Eq(with(42), with(43)) {
		t.Errorf("distinct payloads reported isomorphic")
	}
}

func TestUnionDeduplicates(t *testing.T) {
	l := testutil.NewList("node", "next")
	x := &storage.Var{UID: 1, Name: "x", Typ: l.Ptr}

	h1 := heap.New()
	ns := l.Chain(h1, 2, "next")
	bind(h1, x, l.Ptr, ns[0])

	h2 := heap.New()
	h2.VarObj(x)
	ns = l.Chain(h2, 2, "next")
	bind(h2, x, l.Ptr, ns[0])

	h3 := heap.New()
	bind(h3, x, l.Ptr, l.Chain(h3, 3, "next")[0])

	u := &heap.SymHeapUnion{}
	if !u.Insert(h1) {
		t.Fatalf("first insert rejected")
	}
	if u.Insert(h2) {
		t.Errorf("isomorphic heap grew the union")
	}
	if !u.Insert(h3) {
		t.Errorf("distinct heap did not grow the union")
	}
	if u.Len() != 2 {
		t.Fatalf("union has %d heaps, want 2", u.Len())
	}
	if idx, ok := u.Lookup(h2); !ok || idx != 0 {
		t.Errorf("lookup of isomorphic heap = (%d, %v), want (0, true)", idx, ok)
	}
}
