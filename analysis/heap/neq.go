package heap

import "github.com/pkg/errors"

// ErrContradiction signals that recording a predicate would make the
// state infeasible. The executor discards the heap.
var ErrContradiction = errors.New("contradiction")

// HasNeq reports whether a disequality between a and b is stored
// directly.
func (h *SymHeap) HasNeq(a, b ValID) bool {
	if a == b {
		return false
	}
	_, ok := h.neqs.Get(mkNeqKey(a, b))
	return ok
}

// AddNeq records a disequality. Inserting neq(v, v), or a disequality
// over a provably equal pair, fails with ErrContradiction.
func (h *SymHeap) AddNeq(a, b ValID) error {
	if eq, proven := h.ProveEq(a, b); proven && eq {
		return errors.Wrapf(ErrContradiction, "neq(%s, %s)", a, b)
	}
	h.neqs = h.neqs.Set(mkNeqKey(a, b), struct{}{})
	return nil
}

// DelNeq removes a stored disequality, a no-op when absent.
func (h *SymHeap) DelNeq(a, b ValID) {
	h.neqs = h.neqs.Delete(mkNeqKey(a, b))
}

// NeqCount returns the number of stored disequalities.
func (h *SymHeap) NeqCount() int {
	return h.neqs.Len()
}

// NeqPairs lists all stored disequalities in canonical order.
func (h *SymHeap) NeqPairs() [][2]ValID {
	out := make([][2]ValID, 0, h.neqs.Len())
	it := h.neqs.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		out = append(out, [2]ValID{k.lo, k.hi})
	}
	return out
}

// replaceInNeqs rewrites stored predicates after a value substitution.
// Predicates collapsing onto a single value are dropped.
func (h *SymHeap) replaceInNeqs(old, new ValID) {
	var hit []neqKey
	it := h.neqs.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		if k.lo == old || k.hi == old {
			hit = append(hit, k)
		}
	}
	for _, k := range hit {
		h.neqs = h.neqs.Delete(k)
		other := k.lo
		if other == old {
			other = k.hi
		}
		if other == new {
			continue
		}
		h.neqs = h.neqs.Set(mkNeqKey(new, other), struct{}{})
	}
}

// DropNeqsOf removes every predicate involving any of the given
// values, the conservative recovery after merging segment ends.
func (h *SymHeap) DropNeqsOf(vals ...ValID) {
	in := map[ValID]struct{}{}
	for _, v := range vals {
		in[v] = struct{}{}
	}
	var hit []neqKey
	it := h.neqs.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		if _, lo := in[k.lo]; lo {
			hit = append(hit, k)
			continue
		}
		if _, hi := in[k.hi]; hi {
			hit = append(hit, k)
		}
	}
	for _, k := range hit {
		h.neqs = h.neqs.Delete(k)
	}
}

// ProveEq decides equality of two values. The first result is the
// verdict, valid only when the second is true; an unproven pair
// returns (false, false).
func (h *SymHeap) ProveEq(a, b ValID) (eq bool, proven bool) {
	if a == b {
		return true, true
	}
	if h.HasNeq(a, b) {
		return false, true
	}
	// distinct sentinels are pairwise unequal
	if a <= 0 && b <= 0 && a != ValInvalid && b != ValInvalid {
		return false, true
	}

	ea, aOK := h.lookup(a)
	eb, bOK := h.lookup(b)

	switch {
	case aOK && ea.code == valPtr && bOK && eb.code == valPtr:
		if ea.obj == eb.obj {
			// interning makes same-target pointers identical, so the
			// offsets must differ here
			return false, true
		}
		if h.concreteRoot(ea.obj) && h.concreteRoot(eb.obj) {
			return false, true
		}
		return false, false

	case aOK && ea.code == valPtr && b == ValNull,
		bOK && eb.code == valPtr && a == ValNull:
		e := ea
		if b != ValNull {
			e = eb
		}
		if h.concreteRoot(e.obj) {
			return false, true
		}
		if h.ObjValid(e.obj) && h.obj(e.obj).minLen >= 1 {
			return false, true
		}
		return false, false

	case aOK && ea.code == valCustom && bOK && eb.code == valCustom:
		// customs are interned, distinct ids mean distinct payloads
		return false, true
	}
	return false, false
}

func (h *SymHeap) lookup(v ValID) (valEntry, bool) {
	if v <= 0 {
		return valEntry{}, false
	}
	return h.vals.Get(v)
}

// concreteRoot reports whether o is a live concrete region, whose
// address therefore denotes exactly one cell.
func (h *SymHeap) concreteRoot(o ObjID) bool {
	if !h.ObjValid(o) {
		return false
	}
	return h.obj(o).kind == KindRegion
}
