package heap_test

import (
	"errors"
	"testing"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/testutil"
)

func TestNeqRoundTrip(t *testing.T) {
	sh := heap.New()
	a := sh.NewUnknown(heap.OrAssigned)
	b := sh.NewUnknown(heap.OrAssigned)

	if sh.HasNeq(a, b) {
		t.Errorf("fresh heap already stores neq(%s, %s)", a, b)
	}
	if err := sh.AddNeq(a, b); err != nil {
		t.Fatalf("recording neq: %v", err)
	}
	if !sh.HasNeq(a, b) || !sh.HasNeq(b, a) {
		t.Errorf("stored predicate not symmetric")
	}
	sh.DelNeq(b, a)
	if sh.HasNeq(a, b) {
		t.Errorf("predicate survived removal")
	}
}

func TestNeqContradiction(t *testing.T) {
	sh := heap.New()
	v := sh.NewUnknown(heap.OrAssigned)
	if err := sh.AddNeq(v, v); !errors.Is(err, heap.ErrContradiction) {
		t.Errorf("neq over one value gave %v, want contradiction", err)
	}

	c := sh.NewCustom(heap.IntVal(7))
	d := sh.NewCustom(heap.IntVal(7))
	if err := sh.AddNeq(c, d); !errors.Is(err, heap.ErrContradiction) {
		t.Errorf("neq over one interned constant gave %v, want contradiction", err)
	}
}

func TestProveEq(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	nodes := l.Chain(sh, 2, "next")
	l.Anchor(sh, "x", nodes[0])

	check := func(name string, a, b heap.ValID, wantEq, wantProven bool) {
		t.Helper()
		eq, proven := sh.ProveEq(a, b)
		if eq != wantEq || proven != wantProven {
			t.Errorf("%s: ProveEq(%s, %s) = (%v, %v), want (%v, %v)",
				name, a, b, eq, proven, wantEq, wantProven)
		}
	}

	a0 := sh.AddrOf(nodes[0], 0)
	a1 := sh.AddrOf(nodes[1], 0)
	inner := sh.AddrOf(nodes[0], 8)

	check("identity", a0, a0, true, true)
	check("sentinels", heap.ValNull, heap.ValTrue, false, true)
	check("offsets of one object", a0, inner, false, true)
	check("concrete roots", a0, a1, false, true)
	check("concrete vs null", a0, heap.ValNull, false, true)
	check("customs", sh.NewCustom(heap.IntVal(1)), sh.NewCustom(heap.IntVal(2)), false, true)

	u := sh.NewUnknown(heap.OrAssigned)
	check("unknown unproven", u, a0, false, false)
	if err := sh.AddNeq(u, a0); err != nil {
		t.Fatalf("recording neq: %v", err)
	}
	check("recorded neq", u, a0, false, true)
}

func TestProveEqSegmentVsNull(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	o := l.Chain(sh, 1, "next")[0]
	l.Anchor(sh, "x", o)
	sh.AbstractAsSeg(o, heap.KindSLS, heap.Binding{Head: 0, Next: l.Offs["next"]})
	addr := sh.AddrOf(o, 0)

	if eq, proven := sh.ProveEq(addr, heap.ValNull); eq || !proven {
		t.Errorf("non-empty segment vs null = (%v, %v), want (false, true)", eq, proven)
	}

	sh.SetMinLength(o, 0)
	if _, proven := sh.ProveEq(addr, heap.ValNull); proven {
		t.Errorf("possibly-empty segment vs null decided")
	}
}
