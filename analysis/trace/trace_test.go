package trace_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/plover-tools/plover/analysis/trace"
)

func TestWaive(t *testing.T) {
	root := trace.NewRoot()
	insn := trace.NewInsn(root, nil)
	clone := trace.NewClone(insn)

	if got := clone.Waive(); got != insn {
		t.Errorf("waived clone is %p, want its parent %p", got, insn)
	}
	if got := insn.Waive(); got != insn {
		t.Errorf("waiving a %s node replaced it", insn.Kind())
	}
}

func TestResolveIDMappingIdentity(t *testing.T) {
	n := trace.NewRoot()
	m, ok := trace.ResolveIDMapping(n, n)
	if !ok {
		t.Fatalf("node not an ancestor of itself")
	}
	if len(m) != 0 {
		t.Errorf("empty path renamed objects: %v", m)
	}
}

func TestResolveIDMappingComposition(t *testing.T) {
	root := trace.NewRoot()
	fold := trace.NewAbstraction(root)
	fold.MapObj(1, 2)
	unroll := trace.NewConcretization(fold)
	unroll.MapObj(2, 3)
	unroll.MapObj(4, 5)

	got, ok := trace.ResolveIDMapping(root, unroll)
	if !ok {
		t.Fatalf("root not recognized as ancestor")
	}
	want := map[int]int{1: 3, 4: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("composed mapping mismatch (-want +got):\n%s", diff)
	}

	got, ok = trace.ResolveIDMapping(fold, unroll)
	if !ok {
		t.Fatalf("intermediate node not recognized as ancestor")
	}
	want = map[int]int{2: 3, 4: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("single-step mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveIDMappingUnrelated(t *testing.T) {
	a := trace.NewRoot()
	b := trace.NewRoot()
	if _, ok := trace.ResolveIDMapping(a, b); ok {
		t.Errorf("mapping resolved between unrelated nodes")
	}
}

func TestResolveIDMappingSecondParent(t *testing.T) {
	main := trace.NewRoot()
	side := trace.NewRoot()
	splice := trace.NewSpliceOut(side)
	splice.MapObj(7, 8)

	join := trace.NewInsn(main, nil)
	join.AddParent(splice)

	got, ok := trace.ResolveIDMapping(side, join)
	if !ok {
		t.Fatalf("ancestor via the second parent not found")
	}
	if diff := cmp.Diff(map[int]int{7: 8}, got); diff != "" {
		t.Errorf("mapping along the second parent (-want +got):\n%s", diff)
	}
}
