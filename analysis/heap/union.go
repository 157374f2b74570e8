package heap

// SymHeapUnion is the per-location set of symbolic heaps. Insertion
// deduplicates by isomorphism and appends at the tail, so indices are
// stable and insertion order observable.
type SymHeapUnion struct {
	heaps   []*SymHeap
	digests []uint32
}

// Insert adds h unless an isomorphic heap is already present. Reports
// whether the union grew. Heaps in a union are frozen; callers clone
// before mutating.
func (u *SymHeapUnion) Insert(h *SymHeap) bool {
	d := h.Digest()
	if _, ok := u.lookup(h, d); ok {
		return false
	}
	u.heaps = append(u.heaps, h)
	u.digests = append(u.digests, d)
	return true
}

// Lookup finds the index of a heap isomorphic to h.
func (u *SymHeapUnion) Lookup(h *SymHeap) (int, bool) {
	return u.lookup(h, h.Digest())
}

// lookup filters candidates by digest before running the full
// isomorphism check.
func (u *SymHeapUnion) lookup(h *SymHeap, d uint32) (int, bool) {
	for i, cand := range u.heaps {
		if u.digests[i] != d {
			continue
		}
		if Eq(cand, h) {
			return i, true
		}
	}
	return 0, false
}

func (u *SymHeapUnion) Len() int {
	return len(u.heaps)
}

func (u *SymHeapUnion) At(i int) *SymHeap {
	return u.heaps[i]
}

// Heaps exposes the backing slice; callers must not mutate it.
func (u *SymHeapUnion) Heaps() []*SymHeap {
	return u.heaps
}
