package shape

import (
	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/trace"
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// spliceOut builds the possibly-empty variant: a clone in which the
// segment vanishes and its neighbours connect directly.
func spliceOut(sh *heap.SymHeap, seg heap.ObjID) *heap.SymHeap {
	dup := sh.Clone()
	dup.SetTraceNode(trace.NewSpliceOut(dup.TraceNode()))

	switch dup.ObjKind(seg) {
	case heap.KindDLS:
		peer := dup.PeerOf(seg)
		addrSeg := dup.AddrOf(seg, 0)
		addrPeer := dup.AddrOf(peer, 0)
		fwd := dup.NextValOf(peer)
		back := dup.NextValOf(seg)
		dup.DropNeqsOf(addrSeg, addrPeer)
		dup.ValReplace(addrSeg, fwd)
		dup.ValReplace(addrPeer, back)
		dup.Destroy(seg)
		dup.Destroy(peer)

	case heap.KindObjOrNull:
		addr := dup.AddrOf(seg, 0)
		dup.DropNeqsOf(addr)
		dup.ValReplace(addr, heap.ValNull)
		dup.Destroy(seg)

	default:
		addr := dup.AddrOf(seg, 0)
		next := dup.NextValOf(seg)
		dup.DropNeqsOf(addr)
		dup.ValReplace(addr, next)
		dup.Destroy(seg)
	}
	return dup
}

// Concretize materializes one concrete node of an abstract object the
// executor is about to dereference. The unrolled continuation is left
// in sh; the returned heaps are the additional case-split variants,
// each an independent successor state.
func Concretize(sh *heap.SymHeap, seg heap.ObjID) []*heap.SymHeap {
	kind := sh.ObjKind(seg)
	if !kind.IsAbstract() {
		panic("concretizing a concrete region")
	}
	log.Debugf("shape: concretizing %s of kind %s", seg, kind)

	var out []*heap.SymHeap
	if !provenNonEmpty(sh, seg) {
		out = append(out, spliceOut(sh, seg))
	}

	node := trace.NewConcretization(sh.TraceNode())
	sh.SetTraceNode(node)

	switch kind {
	case heap.KindSLS:
		m := sh.MinLength(seg)
		b := sh.ObjBinding(seg)
		sh.DelNeq(sh.AddrOf(seg, 0), sh.NextValOf(seg))

		dup := sh.ObjDup(seg)
		node.MapObj(int(seg), int(dup))
		sh.SetMinLength(dup, maxInt(0, m-1))
		sh.WriteAtOff(seg, b.Next, sh.AddrOf(dup, 0))
		sh.MakeRegion(seg)
		if sh.MinLength(dup) >= 1 {
			if err := sh.AddNeq(sh.AddrOf(dup, 0), sh.NextValOf(dup)); err != nil {
				log.Debugf("shape: dropping contradictory neq on unrolled SLS %s", dup)
			}
		}

	case heap.KindDLS:
		peer := sh.PeerOf(seg)
		m := sh.MinLength(seg)
		b := sh.ObjBinding(seg)
		sh.DelNeq(sh.AddrOf(seg, 0), sh.NextValOf(seg))
		sh.DelNeq(sh.AddrOf(peer, 0), sh.NextValOf(peer))
		sh.DelNeq(sh.NextValOf(seg), sh.NextValOf(peer))

		dup := sh.ObjDup(seg)
		node.MapObj(int(seg), int(dup))
		sh.SetMinLength(dup, maxInt(0, m-1))
		sh.SetMinLength(peer, maxInt(0, m-1))

		// the original turns into the first concrete node, linked
		// forward to the remaining segment, which links back
		sh.WriteAtOff(seg, b.Prev, sh.AddrOf(dup, 0))
		sh.WriteAtOff(dup, b.Next, sh.AddrOf(seg, 0))
		sh.WriteAtOff(peer, sh.ObjBinding(peer).Prev, sh.AddrOf(dup, 0))
		sh.MakeRegion(seg)
		if sh.MinLength(dup) >= 1 {
			dlsStoreCrossNeq(sh, dup, peer)
		}

	default:
		// OBJ_OR_NULL and the see-through kinds stand for at most one
		// concrete node
		sh.MakeRegion(seg)
	}
	return out
}

// MayBeEmpty reports whether the segment admits the empty
// instantiation, in which it stands for zero concrete nodes.
func MayBeEmpty(sh *heap.SymHeap, seg heap.ObjID) bool {
	return !provenNonEmpty(sh, seg)
}

// SpliceOut returns the variant of sh in which the segment vanishes
// and its neighbours connect directly. sh itself is left untouched.
func SpliceOut(sh *heap.SymHeap, seg heap.ObjID) *heap.SymHeap {
	return spliceOut(sh, seg)
}

// provenNonEmpty reports whether the segment's length is proven to be
// at least one, either by its min-length or by a recorded disequality
// between its address and its next value.
func provenNonEmpty(sh *heap.SymHeap, seg heap.ObjID) bool {
	if sh.MinLength(seg) >= 1 {
		return true
	}
	switch sh.ObjKind(seg) {
	case heap.KindObjOrNull:
		return false
	case heap.KindDLS:
		peer := sh.PeerOf(seg)
		return sh.HasNeq(sh.NextValOf(seg), sh.NextValOf(peer)) ||
			sh.HasNeq(sh.AddrOf(seg, 0), sh.NextValOf(seg))
	default:
		return sh.HasNeq(sh.AddrOf(seg, 0), sh.NextValOf(seg))
	}
}
