package fixpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/plover-tools/plover/analysis/exec"
	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/shape"
	"github.com/plover-tools/plover/testutil"
)

func TestShapeMapsTo(t *testing.T) {
	src := Shape{Objs: []heap.ObjID{1, 2}}
	dst := Shape{Objs: []heap.ObjID{5, 2}}

	if !shapeMapsTo(src, dst, map[int]int{1: 5}) {
		t.Errorf("renaming onto the destination set rejected")
	}
	if shapeMapsTo(src, dst, map[int]int{1: 7}) {
		t.Errorf("renaming outside the destination set accepted")
	}
	if shapeMapsTo(src, dst, map[int]int{1: 2}) {
		t.Errorf("non-injective renaming accepted")
	}
	if shapeMapsTo(Shape{Objs: []heap.ObjID{1}}, dst, nil) {
		t.Errorf("shapes of different size matched")
	}
}

func TestReverseEntry(t *testing.T) {
	m := map[int]int{3: 9}

	if got, ok := reverseEntry(m, 9); !ok || got != 3 {
		t.Errorf("mapped entry reversed to (%s, %v)", got, ok)
	}
	if got, ok := reverseEntry(m, 4); !ok || got != 4 {
		t.Errorf("untouched entry reversed to (%s, %v), want identity", got, ok)
	}
	if _, ok := reverseEntry(m, 3); ok {
		t.Errorf("renamed-away entry still reversed via identity")
	}
}

func TestImpliedSingleton(t *testing.T) {
	l := testutil.NewList("node", "next")

	srcHeap := heap.New()
	cand := l.Chain(srcHeap, 1, "next")[0]

	dstHeap := heap.New()
	seg := l.Chain(dstHeap, 1, "next")[0]
	dstHeap.AbstractAsSeg(seg, heap.KindSLS, heap.Binding{Head: 0, Next: l.Offs["next"]})
	dst := Shape{Entry: seg, Kind: heap.KindSLS,
		Binding: heap.Binding{Head: 0, Next: l.Offs["next"]}}

	if !impliedSingleton(srcHeap, dstHeap, cand, dst) {
		t.Errorf("isolated node with null link not accepted as singleton")
	}

	srcHeap.WriteAtOff(cand, l.Offs["next"], srcHeap.AddrOf(cand, 0))
	if impliedSingleton(srcHeap, dstHeap, cand, dst) {
		t.Errorf("node with a live link accepted as singleton")
	}
}

func TestDetectShapesSinglyLinked(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	nodes := l.Chain(sh, 3, "next")
	l.Anchor(sh, "x", nodes[0])

	if got := detectShapes(sh); len(got) != 0 {
		t.Fatalf("concrete chain reported %d shapes", len(got))
	}

	shape.AbstractIfNeeded(sh, shape.DefaultConfig)
	var seg heap.ObjID
	for _, o := range sh.Objs() {
		if sh.IsAbstract(o) {
			seg = o
		}
	}
	if seg == 0 {
		t.Fatalf("fixture did not fold")
	}

	shapes := detectShapes(sh)
	if len(shapes) != 1 {
		t.Fatalf("folded chain reported %d shapes:\n%s", len(shapes), testutil.Dump(shapes))
	}
	s := shapes[0]
	if s.Kind != heap.KindSLS || s.Length != 2 || s.Entry != nodes[0] {
		t.Errorf("chain reported as {kind: %s, length: %d, entry: %s}",
			s.Kind, s.Length, s.Entry)
	}
	if diff := cmp.Diff([]heap.ObjID{nodes[0], seg}, s.Objs); diff != "" {
		t.Errorf("chain members (-want +got):\n%s", diff)
	}
	if s.Binding.Next != l.Offs["next"] {
		t.Errorf("chain bound at offset %d, want %d", s.Binding.Next, l.Offs["next"])
	}
}

func TestDetectShapesDoublyLinked(t *testing.T) {
	l := testutil.NewList("node", "next", "prev")
	sh := heap.New()
	nodes := l.DChain(sh, 3, "next", "prev")
	l.Anchor(sh, "x", nodes[0])
	shape.AbstractIfNeeded(sh, shape.Config{EnableDLS: true})
	if sh.ObjKind(nodes[0]) != heap.KindDLS {
		t.Fatalf("fixture did not fold into a pair")
	}

	shapes := detectShapes(sh)
	if len(shapes) != 1 {
		t.Fatalf("folded pair reported %d shapes:\n%s", len(shapes), testutil.Dump(shapes))
	}
	s := shapes[0]
	if s.Kind != heap.KindDLS || s.Length != 2 {
		t.Errorf("chain reported as {kind: %s, length: %d}", s.Kind, s.Length)
	}
	want := []heap.ObjID{nodes[0], sh.PeerOf(nodes[0]), nodes[2]}
	if diff := cmp.Diff(want, s.Objs); diff != "" {
		t.Errorf("chain members, both pair ends included (-want +got):\n%s", diff)
	}
}

const nodeTypes = `
types:
  - name: node
    size: 16
    items:
      - {name: next, type: "*node", off: 0}
      - {name: data, type: "int", off: 8}
`

func computeState(t *testing.T, src, fnc string) *GlobalState {
	t.Helper()
	prog := testutil.LoadProgram(t, src)
	f := testutil.FncOf(t, prog, fnc)
	eng := exec.New(exec.Params{Shape: shape.DefaultConfig})
	if err := eng.ExecFnc(f); err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	return ComputeStateOf(f, eng.States().StateMap())
}

func TestComputeStateStraightLine(t *testing.T) {
	g := computeState(t, nodeTypes+`
functions:
  - name: straight
    vars: [{name: p, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 1
          - call: {fnc: free, args: [p]}
            line: 2
          - ret: ""
            line: 3
`, "straight")

	if len(g.Locs) != 3 {
		t.Fatalf("%d locations, want one per opaque instruction", len(g.Locs))
	}
	for i, ls := range g.Locs {
		if got, ok := g.LocByInsn(ls.Insn); !ok || got != LocIdx(i) {
			t.Errorf("location %d not indexed by its instruction", i)
		}
		if ls.Heaps.Len() != 1 {
			t.Errorf("location %d holds %d heaps", i, ls.Heaps.Len())
		}
		if len(ls.Shapes) != ls.Heaps.Len() {
			t.Errorf("location %d has %d shape rows", i, len(ls.Shapes))
		}
	}

	for i := 0; i < 2; i++ {
		out := g.Locs[i].CfgOut
		if len(out) != 1 || out[0].Target != LocIdx(i+1) || out[0].ClosesLoop {
			t.Errorf("edges out of location %d: %v", i, out)
		}
	}
	if out := g.Locs[2].CfgOut; len(out) != 0 {
		t.Errorf("return location has successors: %v", out)
	}

	free := g.Locs[1]
	if len(free.TraceIn) != 1 {
		t.Fatalf("%d trace edges into the free, want 1", len(free.TraceIn))
	}
	e := free.TraceIn[0]
	if e.Src.Loc != 0 || e.Dst != (HeapIdent{Loc: 1, Heap: 0}) {
		t.Errorf("trace edge runs %s -> %s", e.Src, e.Dst)
	}
}

func TestComputeStateLoop(t *testing.T) {
	g := computeState(t, nodeTypes+`
functions:
  - name: grow
    vars:
      - {name: list, type: "*node"}
      - {name: p, type: "*node"}
      - {name: c, type: "int"}
    blocks:
      - name: entry
        insns:
          - assign: {dst: list, src: "null"}
            line: 1
          - goto: loop
            line: 2
      - name: loop
        insns:
          - call: {dst: c, fnc: nondet}
            line: 3
          - cond: {rel: ne, lhs: c, rhs: "0", then: push, else: out}
            line: 4
      - name: push
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 5
          - assign: {dst: p->next, src: list}
            line: 6
          - assign: {dst: list, src: p}
            line: 7
          - goto: loop
            line: 8
            closes_loop: [0]
      - name: out
        insns:
          - ret: ""
            line: 9
`, "grow")

	entryGoto := g.Fnc.Blocks[0].Insns[1]
	if _, ok := g.LocByInsn(entryGoto); ok {
		t.Errorf("transparent jump got a location")
	}

	head, ok := g.LocByInsn(g.Fnc.Blocks[1].Insns[0])
	if !ok {
		t.Fatalf("loop head has no location")
	}
	hd := g.Locs[head]

	var closing, plain int
	for _, in := range hd.CfgIn {
		if in.ClosesLoop {
			closing++
		} else {
			plain++
		}
	}
	if closing != 1 || plain != 1 {
		t.Errorf("loop head has %d closing and %d plain predecessors", closing, plain)
	}

	if hd.Heaps.Len() < 2 {
		t.Fatalf("loop head converged on %d heaps", hd.Heaps.Len())
	}
	var folded int
	for _, row := range hd.Shapes {
		for _, s := range row {
			if s.Kind == heap.KindSLS && s.Length == 2 {
				folded++
			}
		}
	}
	if folded == 0 {
		t.Errorf("no folded list detected at the loop head:\n%s", testutil.Dump(hd.Shapes))
	}

	var mapped int
	for _, ls := range g.Locs {
		for _, e := range ls.TraceIn {
			mapped += len(e.Shapes)
		}
	}
	if mapped == 0 {
		t.Errorf("no shape survived along any trace edge")
	}
}
