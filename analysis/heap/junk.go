package heap

import (
	"golang.org/x/tools/container/intsets"

	"github.com/plover-tools/plover/utils/worklist"
)

// reachable collects the ids of every object reachable from the given
// roots by following pointer-valued live fields and uniform-block
// templates.
func (h *SymHeap) reachable(roots []ObjID) *intsets.Sparse {
	var seen intsets.Sparse
	wl := worklist.Empty[ObjID]()
	for _, o := range roots {
		wl.Schedule(o)
	}
	wl.Process(func(o ObjID, schedule func(ObjID)) {
		if !h.ObjValid(o) {
			return
		}
		seen.Insert(int(o))
		for _, f := range h.LiveFields(o) {
			v, _ := h.fields.Get(f)
			if tgt, _, ok := h.TargetOf(v); ok {
				schedule(tgt)
			}
		}
		for _, b := range h.UniformBlocks(o) {
			if tgt, _, ok := h.TargetOf(ValID(b[2])); ok {
				schedule(tgt)
			}
		}
	})
	return &seen
}

// CollectJunk destroys every live heap-class object unreachable from
// the program's variables and the pending return value, returning the
// destroyed ids for leak reporting. Destruction may orphan further
// objects, so the scan repeats until stable.
func (h *SymHeap) CollectJunk() []ObjID {
	var junk []ObjID
	for {
		var roots []ObjID
		it := h.vars.Iterator()
		for !it.Done() {
			_, o, _ := it.Next()
			roots = append(roots, o)
		}
		if tgt, _, ok := h.TargetOf(h.retVal); ok {
			roots = append(roots, tgt)
		}
		live := h.reachable(roots)

		var round []ObjID
		for _, o := range h.Objs() {
			if h.obj(o).class != ClassOnHeap {
				continue
			}
			if !live.Has(int(o)) {
				round = append(round, o)
			}
		}
		if len(round) == 0 {
			h.pruneDeadNeqs()
			return junk
		}
		for _, o := range round {
			h.Destroy(o)
			junk = append(junk, o)
		}
	}
}

// pruneDeadNeqs drops predicates mentioning a dead value. Overwritten
// comparison operands leave behind unknowns nothing stores anymore;
// their predicates constrain nothing but keep otherwise identical
// states apart.
func (h *SymHeap) pruneDeadNeqs() {
	var hit []neqKey
	it := h.neqs.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		if h.valDead(k.lo) || h.valDead(k.hi) {
			hit = append(hit, k)
		}
	}
	for _, k := range hit {
		h.neqs = h.neqs.Delete(k)
	}
}

// valDead reports whether nothing can observe v anymore: no live field
// stores it, it is not the pending return value, no uniform block uses
// it as template, and it is not the address of a live object. Sentinels
// and interned constants are never dead.
func (h *SymHeap) valDead(v ValID) bool {
	if v <= 0 {
		return false
	}
	e, ok := h.vals.Get(v)
	if !ok {
		return true
	}
	if e.code == valCustom {
		return false
	}
	if e.code == valPtr && h.ObjValid(e.obj) {
		return false
	}
	if v == h.retVal || h.UsedByCount(v) > 0 {
		return false
	}
	it := h.ublocks.Iterator()
	for !it.Done() {
		_, b, _ := it.Next()
		if b.tpl == v {
			return false
		}
	}
	return true
}
