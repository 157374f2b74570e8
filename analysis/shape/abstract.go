package shape

import (
	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/trace"
)

// Config selects which segment kinds the abstraction introduces.
type Config struct {
	EnableSLS bool
	EnableDLS bool
}

// DefaultConfig abstracts both singly- and doubly-linked lists.
var DefaultConfig = Config{EnableSLS: true, EnableDLS: true}

// abstractNonMatchingValues clobbers every field of dst whose value is
// not provably equal to the corresponding field of src with a fresh
// unknown. Binding pointer fields are never touched.
func abstractNonMatchingValues(sh *heap.SymHeap, src, dst heap.ObjID, preserve ...int) {
	keep := map[int]bool{}
	for _, off := range preserve {
		keep[off] = true
	}
	fields := sh.LiveFields(dst)
	for _, f := range fields {
		if keep[f.Key.Off] {
			continue
		}
		dstV, _ := sh.FieldVal(f)
		srcV, ok := sh.FieldVal(heap.Field{Obj: src, Key: f.Key})
		if ok {
			if eq, proven := sh.ProveEq(srcV, dstV); proven && eq {
				continue
			}
		}
		sh.WriteField(dst, f.Key.Off, sh.FieldType(f), sh.NewUnknown(heap.OrUnknown))
	}
}

func abstractNonMatchingValuesBidir(sh *heap.SymHeap, o1, o2 heap.ObjID, preserve ...int) {
	abstractNonMatchingValues(sh, o1, o2, preserve...)
	abstractNonMatchingValues(sh, o2, o1, preserve...)
}

// ensureSls makes obj an SLS bound at the given next offset. A freshly
// abstracted object is known non-empty, which the address/next
// disequality records.
func ensureSls(sh *heap.SymHeap, obj heap.ObjID, nextOff int) {
	if sh.ObjKind(obj) == heap.KindSLS {
		if sh.ObjBinding(obj).Next != nextOff {
			panic("SLS binding mismatch after discovery")
		}
		return
	}
	sh.AbstractAsSeg(obj, heap.KindSLS, heap.Binding{Next: nextOff})
	addr := sh.AddrOf(obj, 0)
	next := sh.NextValOf(obj)
	if err := sh.AddNeq(addr, next); err != nil {
		log.Debugf("shape: dropping contradictory neq on fresh SLS %s", obj)
	}
}

// slsAbstract folds the given chain nodes into a single SLS, folding
// forward so the segment ends up at the last node.
func slsAbstract(sh *heap.SymHeap, nodes []heap.ObjID, sel selector) {
	node := trace.NewAbstraction(sh.TraceNode())
	sh.SetTraceNode(node)

	cursor := nodes[0]
	ensureSls(sh, cursor, sel.next)
	for _, next := range nodes[1:] {
		ensureSls(sh, next, sel.next)
		abstractNonMatchingValues(sh, cursor, next, sel.next)
		node.MapObj(int(cursor), int(next))
		sh.ObjReplace(cursor, next)
		cursor = next
	}
}

// dlsStoreCrossNeq records the disequality between the outward values
// of the two ends, the witness that the segment is non-empty, and the
// disequality between each end's address and its own outward value.
func dlsStoreCrossNeq(sh *heap.SymHeap, e1, e2 heap.ObjID) {
	for _, p := range [][2]heap.ValID{
		{sh.NextValOf(e1), sh.NextValOf(e2)},
		{sh.AddrOf(e1, 0), sh.NextValOf(e1)},
		{sh.AddrOf(e2, 0), sh.NextValOf(e2)},
	} {
		if err := sh.AddNeq(p[0], p[1]); err != nil {
			log.Debugf("shape: dropping contradictory DLS neq between %s and %s", p[0], p[1])
		}
	}
}

// dlsCreate folds two adjacent concrete nodes into a fresh DLS pair.
// Each end's binding has its outward pointer at Next and the peer link
// at Prev; the existing next/prev fields already cross-link the pair.
func dlsCreate(sh *heap.SymHeap, o1, o2 heap.ObjID, sel selector) {
	sh.AbstractAsSeg(o1, heap.KindDLS, heap.Binding{Next: sel.prev, Prev: sel.next})
	sh.AbstractAsSeg(o2, heap.KindDLS, heap.Binding{Next: sel.next, Prev: sel.prev})
	abstractNonMatchingValuesBidir(sh, o1, o2, sel.next, sel.prev)
	dlsStoreCrossNeq(sh, o1, o2)
}

// dlsGobbleFwd consumes the concrete region following the pair: the
// far end absorbs it and takes over its forward link.
func dlsGobbleFwd(sh *heap.SymHeap, node *trace.Node, seg, reg heap.ObjID) {
	end := sh.PeerOf(seg)
	b := sh.ObjBinding(end)
	onward := sh.ValueAtOff(reg, b.Next)
	abstractNonMatchingValues(sh, reg, end, b.Next, b.Prev)
	sh.WriteAtOff(end, b.Next, onward)
	node.MapObj(int(reg), int(end))
	sh.ObjReplace(reg, end)
}

// dlsGobbleBwd consumes the concrete region preceding the pair, the
// mirror move on the near end.
func dlsGobbleBwd(sh *heap.SymHeap, node *trace.Node, reg, seg heap.ObjID) {
	b := sh.ObjBinding(seg)
	onward := sh.ValueAtOff(reg, b.Next)
	abstractNonMatchingValues(sh, reg, seg, b.Next, b.Prev)
	sh.WriteAtOff(seg, b.Next, onward)
	node.MapObj(int(reg), int(seg))
	sh.ObjReplace(reg, seg)
}

// dlsMerge joins two adjacent DLS pairs into one, keeping the second
// pair's ends. Disequalities involving the first pair's ends are
// dropped and must be re-proven downstream.
func dlsMerge(sh *heap.SymHeap, node *trace.Node, seg1, seg2 heap.ObjID) {
	a1, a2 := seg1, sh.PeerOf(seg1)
	b1, b2 := seg2, sh.PeerOf(seg2)

	backOut := sh.NextValOf(a1)
	m := sh.MinLength(b1)
	if n := sh.MinLength(a1); n > m {
		m = n
	}

	b := sh.ObjBinding(a1)
	abstractNonMatchingValuesBidir(sh, a1, b1, b.Next, b.Prev)
	abstractNonMatchingValuesBidir(sh, a2, b2, b.Next, b.Prev)

	sh.WriteAtOff(b1, sh.ObjBinding(b1).Next, backOut)
	sh.DropNeqsOf(sh.AddrOf(a1, 0), sh.AddrOf(a2, 0))

	node.MapObj(int(a1), int(b1))
	node.MapObj(int(a2), int(b2))
	sh.ObjReplace(a1, b1)
	sh.ObjReplace(a2, b2)

	sh.SetMinLength(b1, m)
	sh.SetMinLength(b2, m)
}

// dlsAbstract folds the chain pairwise: each step combines the cursor
// with its successor by the kinds of the two.
func dlsAbstract(sh *heap.SymHeap, nodes []heap.ObjID, sel selector) {
	node := trace.NewAbstraction(sh.TraceNode())
	sh.SetTraceNode(node)

	cursor := nodes[0]
	for _, next := range nodes[1:] {
		k1 := sh.ObjKind(cursor)
		k2 := sh.ObjKind(next)
		switch {
		case k1 == heap.KindRegion && k2 == heap.KindRegion:
			dlsCreate(sh, cursor, next, sel)
		case k1 == heap.KindDLS && k2 == heap.KindRegion:
			dlsGobbleFwd(sh, node, cursor, next)
		case k1 == heap.KindRegion && k2 == heap.KindDLS:
			dlsGobbleBwd(sh, node, cursor, next)
			cursor = next
		default:
			dlsMerge(sh, node, cursor, next)
			cursor = next
		}
	}
}

// AbstractIfNeeded repeats segment discovery and folding until no
// candidate of either enabled kind passes its threshold.
func AbstractIfNeeded(sh *heap.SymHeap, cfg Config) {
	for {
		changed := false
		if cfg.EnableSLS {
			if cand := discoverBest(sh, heap.KindSLS); cand != nil {
				log.Debugf("shape: abstracting SLS chain of length %d", cand.len())
				nodes := cand.nodes[slsThreshold.sparePrefix:]
				slsAbstract(sh, nodes, cand.sel)
				changed = true
			}
		}
		if cfg.EnableDLS {
			if cand := discoverBest(sh, heap.KindDLS); cand != nil {
				log.Debugf("shape: abstracting DLS chain of length %d", cand.len())
				dlsAbstract(sh, cand.nodes, cand.sel)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}
