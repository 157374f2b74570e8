// Package fixpoint assembles the per-instruction heap sets computed by
// the executor into a global view of one function: locations in
// instruction order, CFG edges between them, trace edges connecting
// each heap to its ancestors in the predecessor locations, and
// container shapes mapped along those edges.
package fixpoint

import (
	"fmt"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
)

// LocIdx indexes a location within a GlobalState.
type LocIdx int

// HeapIdx indexes a heap within one location's SymHeapUnion.
type HeapIdx int

// HeapIdent addresses a single heap in the global state.
type HeapIdent struct {
	Loc  LocIdx
	Heap HeapIdx
}

func (hi HeapIdent) String() string {
	return fmt.Sprintf("L%d/H%d", hi.Loc, hi.Heap)
}

// CfgEdge is one control-flow edge between locations. ClosesLoop
// carries the front-end's back-edge marking.
type CfgEdge struct {
	Target     LocIdx
	ClosesLoop bool
}

// TraceEdge connects a heap to an ancestor heap at a CFG predecessor.
// ObjMap renames source object ids to destination object ids as
// recorded along the trace path; ids absent from the map survived
// unrenamed. Shapes pairs source and destination shape indices that
// the mapping proves to denote the same container.
type TraceEdge struct {
	Src, Dst HeapIdent
	ObjMap   map[int]int
	Shapes   [][2]int
}

// LocalState is the per-location record: the instruction, its heap
// set, CFG edges in both directions, incoming trace edges, and the
// shapes detected on each heap.
type LocalState struct {
	Insn    *storage.Insn
	Heaps   *heap.SymHeapUnion
	CfgIn   []CfgEdge
	CfgOut  []CfgEdge
	TraceIn []*TraceEdge

	// Shapes[i] lists the container shapes of Heaps.At(i).
	Shapes [][]Shape
}

// GlobalState is the assembled view of one function after the
// executor's fixed point.
type GlobalState struct {
	Fnc    *storage.Fnc
	Locs   []*LocalState
	byInsn map[*storage.Insn]LocIdx
}

// LocByInsn resolves the location of an instruction, reporting false
// for transparent instructions that carry no location.
func (g *GlobalState) LocByInsn(in *storage.Insn) (LocIdx, bool) {
	idx, ok := g.byInsn[in]
	return idx, ok
}

// HeapOf resolves a HeapIdent to the underlying symbolic heap.
func (g *GlobalState) HeapOf(hi HeapIdent) *heap.SymHeap {
	return g.Locs[hi.Loc].Heaps.At(int(hi.Heap))
}

// ShapeOf resolves a (heap, shape index) pair at the given location.
func (g *GlobalState) ShapeOf(hi HeapIdent, idx int) Shape {
	return g.Locs[hi.Loc].Shapes[hi.Heap][idx]
}
