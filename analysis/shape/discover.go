// Package shape implements the two halves of list-segment handling:
// abstraction, which folds maximal chains of linkable objects into SLS
// or DLS segments, and concretization, which unrolls a segment by one
// step when the executor is about to dereference it.
package shape

import (
	"golang.org/x/tools/container/intsets"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
)

// threshold gates abstraction per segment kind: a chain of raw length
// L qualifies iff L >= sparePrefix + inner + spareSuffix. The SLS spare
// prefix stays concrete; a qualifying DLS chain is folded whole, so its
// spare suffix only raises the minimum length and no suffix node is
// kept concrete.
type threshold struct {
	sparePrefix int
	inner       int
	spareSuffix int
}

func (t threshold) minLength() int {
	return t.sparePrefix + t.inner + t.spareSuffix
}

var (
	slsThreshold = threshold{sparePrefix: 1, inner: 1, spareSuffix: 0}
	dlsThreshold = threshold{sparePrefix: 0, inner: 1, spareSuffix: 1}
)

// selector is a candidate binding: byte offsets of the next and, for
// DLS, prev pointer fields within the node type.
type selector struct {
	next    int
	prev    int
	nextTyp *storage.Type
	prevTyp *storage.Type
}

// candidate is a discovered foldable chain.
type candidate struct {
	kind  heap.Kind
	sel   selector
	nodes []heap.ObjID
}

func (c *candidate) len() int {
	return len(c.nodes)
}

// productive reports whether folding the candidate actually changes
// the heap: at least one concrete node gets folded, or two existing
// segments merge. Unproductive candidates would loop the fixed point.
func (c *candidate) productive(sh *heap.SymHeap) bool {
	fold := c.nodes
	if c.kind == heap.KindSLS {
		fold = fold[slsThreshold.sparePrefix:]
	}
	segs := 0
	for _, o := range fold {
		if sh.ObjKind(o) == heap.KindRegion {
			return true
		}
		segs++
	}
	return segs >= 2
}

// ptrSelectors enumerates the pointer fields of typ that point back to
// typ itself, in declaration order.
func ptrSelectors(typ *storage.Type) []storage.TypeItem {
	if typ == nil || typ.Code != storage.TypeStruct {
		return nil
	}
	var out []storage.TypeItem
	for _, it := range typ.Items {
		if it.Typ != nil && it.Typ.Code == storage.TypePtr && it.Typ.Target == typ {
			out = append(out, it)
		}
	}
	return out
}

// probeNode checks whether o can participate in a segment: anonymous,
// top-level, opaque from the outside, with the expected number of
// incoming pointers (one for SLS chains, two for DLS chains).
func probeNode(sh *heap.SymHeap, o heap.ObjID, typ *storage.Type, arity int) bool {
	if !sh.ObjValid(o) {
		return false
	}
	if sh.ObjVar(o) != nil || sh.ProtoLevel(o) != 0 {
		return false
	}
	if sh.EstType(o) != typ {
		return false
	}
	if sh.DoesAnyonePointInside(o) {
		return false
	}
	return sh.UsedByCount(sh.AddrOf(o, 0)) == arity
}

// segNext resolves the object a chain node hands over to, following
// the next selector. For a DLS end the outward pointer of the far peer
// is taken, so an existing segment counts as a single chain node.
func segNext(sh *heap.SymHeap, o heap.ObjID, nextOff int) (heap.ObjID, bool) {
	cur := o
	if sh.ObjKind(o) == heap.KindDLS {
		cur = sh.PeerOf(o)
	}
	var v heap.ValID
	if sh.ObjKind(cur) == heap.KindDLS {
		v = sh.NextValOf(cur)
	} else {
		v = sh.ValueAtOff(cur, nextOff)
	}
	tgt, off, ok := sh.TargetOf(v)
	if !ok || off != 0 || !sh.ObjValid(tgt) {
		return heap.ObjInvalid, false
	}
	return tgt, true
}

// discoverSeg walks forward from entry along the candidate selectors,
// collecting the chain of foldable nodes. A visited set bounds the
// walk on cyclic lists. Existing DLS segments are jumped through as
// one node, and only chains starting at a DLS may contain one.
func discoverSeg(sh *heap.SymHeap, entry heap.ObjID, kind heap.Kind, sel selector) *candidate {
	typ := sh.EstType(entry)
	arity := 1
	if kind == heap.KindDLS {
		arity = 2
	}

	var visited intsets.Sparse
	cand := &candidate{kind: kind, sel: sel}
	cur := entry
	for {
		curKind := sh.ObjKind(cur)
		switch curKind {
		case heap.KindRegion:
			if !probeNode(sh, cur, typ, arity) {
				return cand
			}
		case heap.KindDLS:
			if kind != heap.KindDLS {
				return cand
			}
			if cur != entry && sh.ObjKind(entry) != heap.KindDLS {
				// a path containing a DLS must start at one
				return cand
			}
			if sh.EstType(cur) != typ || sh.ProtoLevel(cur) != 0 {
				return cand
			}
		case heap.KindSLS:
			if kind != heap.KindSLS || sh.EstType(cur) != typ {
				return cand
			}
			if sh.ObjBinding(cur).Next != sel.next {
				return cand
			}
		default:
			return cand
		}
		if visited.Has(int(cur)) {
			return cand
		}
		visited.Insert(int(cur))
		if curKind == heap.KindDLS {
			visited.Insert(int(sh.PeerOf(cur)))
		}
		cand.nodes = append(cand.nodes, cur)

		next, ok := segNext(sh, cur, sel.next)
		if !ok || next == cur {
			return cand
		}
		if kind == heap.KindDLS && !backLinkOK(sh, cur, next, sel) {
			return cand
		}
		cur = next
	}
}

// backLinkOK verifies prev(next(o)) == &o, taking the far peer as the
// reference end when o is an existing DLS.
func backLinkOK(sh *heap.SymHeap, o, next heap.ObjID, sel selector) bool {
	ref := o
	if sh.ObjKind(o) == heap.KindDLS {
		ref = sh.PeerOf(o)
	}
	var back heap.ValID
	if sh.ObjKind(next) == heap.KindDLS {
		back = sh.NextValOf(next)
	} else {
		back = sh.ValueAtOff(next, sel.prev)
	}
	tgt, off, ok := sh.TargetOf(back)
	return ok && off == 0 && tgt == ref
}

// discoverBest scans all roots and all selector tuples of the given
// kind, returning the longest chain passing the threshold. Roots are
// visited in ascending id order and selectors in declaration order, so
// ties resolve to the lexicographically first candidate.
func discoverBest(sh *heap.SymHeap, kind heap.Kind) *candidate {
	th := slsThreshold
	if kind == heap.KindDLS {
		th = dlsThreshold
	}
	var best *candidate
	for _, o := range sh.Objs() {
		typ := sh.EstType(o)
		items := ptrSelectors(typ)
		if len(items) == 0 {
			continue
		}
		if sh.ObjVar(o) != nil || sh.ProtoLevel(o) != 0 {
			continue
		}
		switch kind {
		case heap.KindSLS:
			for _, it := range items {
				cand := discoverSeg(sh, o, kind, selector{next: it.Off, nextTyp: it.Typ})
				if cand.len() < th.minLength() || !cand.productive(sh) {
					continue
				}
				if best == nil || cand.len() > best.len() {
					best = cand
				}
			}
		case heap.KindDLS:
			for _, nx := range items {
				for _, pv := range items {
					if nx.Off == pv.Off {
						continue
					}
					sel := selector{next: nx.Off, prev: pv.Off, nextTyp: nx.Typ, prevTyp: pv.Typ}
					cand := discoverSeg(sh, o, kind, sel)
					if cand.len() < th.minLength() || !cand.productive(sh) {
						continue
					}
					if best == nil || cand.len() > best.len() {
						best = cand
					}
				}
			}
		}
	}
	return best
}
