package exec

import (
	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
)

// StateByInsn accumulates, for every instruction reached, jumps and
// conditionals included, the set of heaps that reached it. The per-instruction sets feed the fixed-point
// assembler after execution finishes.
type StateByInsn struct {
	m map[*storage.Insn]*heap.SymHeapUnion
}

func NewStateByInsn() *StateByInsn {
	return &StateByInsn{m: map[*storage.Insn]*heap.SymHeapUnion{}}
}

// Collect inserts a heap into the instruction's set. The heap must not
// be mutated afterwards; callers continue on a clone.
func (s *StateByInsn) Collect(in *storage.Insn, sh *heap.SymHeap) {
	u := s.m[in]
	if u == nil {
		u = &heap.SymHeapUnion{}
		s.m[in] = u
	}
	u.Insert(sh)
}

// At returns the heap set collected for an instruction, nil when the
// instruction was never reached.
func (s *StateByInsn) At(in *storage.Insn) *heap.SymHeapUnion {
	return s.m[in]
}

// StateMap exposes the raw per-instruction map.
func (s *StateByInsn) StateMap() map[*storage.Insn]*heap.SymHeapUnion {
	return s.m
}
