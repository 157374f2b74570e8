package fixpoint

import (
	uf "github.com/spakin/disjoint"
	"golang.org/x/tools/container/intsets"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
)

// Shape is one maximal list-segment chain found on a heap. Objs lists
// the member objects in chain order, both ends of a DLS included, and
// Length counts chain positions, a DLS pair being one position.
type Shape struct {
	Entry   heap.ObjID
	Kind    heap.Kind
	Binding heap.Binding
	Length  int
	Objs    []heap.ObjID
}

// chainKey identifies the chains one segment can belong to: the node
// type plus the binding with DLS offsets put in canonical order, so
// the two crossed ends of a pair share a key.
type chainKey struct {
	typ   *storage.Type
	kind  heap.Kind
	head  int
	loOff int
	hiOff int
}

func keyOf(sh *heap.SymHeap, o heap.ObjID) chainKey {
	b := sh.ObjBinding(o)
	k := chainKey{typ: sh.EstType(o), kind: sh.ObjKind(o), head: b.Head}
	if k.kind == heap.KindDLS && b.Prev < b.Next {
		k.loOff, k.hiOff = b.Prev, b.Next
	} else {
		k.loOff, k.hiOff = b.Next, b.Prev
	}
	return k
}

// canonical maps a DLS end to the lower-id end of its pair, the
// representative of the pair as a single chain position.
func canonical(sh *heap.SymHeap, o heap.ObjID) heap.ObjID {
	if sh.ObjKind(o) == heap.KindDLS {
		if peer := sh.PeerOf(o); peer < o {
			return peer
		}
	}
	return o
}

// outwardTargets lists the chain positions an object links to. A
// region is probed at both candidate offsets, a segment hands out the
// outward values of its ends. Targets are canonicalized, so the
// resulting adjacency is between positions, not raw objects.
func outwardTargets(sh *heap.SymHeap, o heap.ObjID, key chainKey) []heap.ObjID {
	var vals []heap.ValID
	switch sh.ObjKind(o) {
	case heap.KindDLS:
		vals = append(vals, sh.NextValOf(o), sh.NextValOf(sh.PeerOf(o)))
	case heap.KindSLS:
		vals = append(vals, sh.NextValOf(o))
	default:
		vals = append(vals, sh.ValueAtOff(o, key.loOff))
		if key.kind == heap.KindDLS {
			vals = append(vals, sh.ValueAtOff(o, key.hiOff))
		}
	}
	var out []heap.ObjID
	for _, v := range vals {
		tgt, off, ok := sh.TargetOf(v)
		if !ok || off != 0 || !sh.ObjValid(tgt) || tgt == o {
			continue
		}
		out = append(out, canonical(sh, tgt))
	}
	return out
}

// member reports whether o can sit in a chain of the given key:
// anonymous, top-level, of the node type, and either a concrete
// region or a segment with the matching canonical binding.
func member(sh *heap.SymHeap, o heap.ObjID, key chainKey) bool {
	if !sh.ObjValid(o) || sh.ObjVar(o) != nil || sh.ProtoLevel(o) != 0 {
		return false
	}
	if sh.EstType(o) != key.typ {
		return false
	}
	switch sh.ObjKind(o) {
	case heap.KindRegion:
		return true
	case key.kind:
		return keyOf(sh, o) == key
	}
	return false
}

// detectShapes enumerates the maximal list-segment chains of a heap.
// Positions of one key are grouped by link connectivity, and every
// group containing at least one segment becomes a Shape, ordered from
// an endpoint. Chains are reported in ascending order of their lowest
// member id.
func detectShapes(sh *heap.SymHeap) []Shape {
	objs := sh.Objs()

	var keys []chainKey
	seenKey := map[chainKey]bool{}
	for _, o := range objs {
		k := sh.ObjKind(o)
		if k != heap.KindSLS && k != heap.KindDLS {
			continue
		}
		key := keyOf(sh, o)
		if !seenKey[key] {
			seenKey[key] = true
			keys = append(keys, key)
		}
	}

	var shapes []Shape
	var claimed intsets.Sparse
	for _, key := range keys {
		var positions []heap.ObjID
		for _, o := range objs {
			if claimed.Has(int(o)) || !member(sh, o, key) {
				continue
			}
			if canonical(sh, o) != o {
				continue
			}
			positions = append(positions, o)
		}

		elems := map[heap.ObjID]*uf.Element{}
		for _, p := range positions {
			elems[p] = uf.NewElement()
		}
		adj := map[heap.ObjID][]heap.ObjID{}
		link := func(a, b heap.ObjID) {
			for _, n := range adj[a] {
				if n == b {
					return
				}
			}
			adj[a] = append(adj[a], b)
		}
		for _, p := range positions {
			for _, t := range outwardTargets(sh, p, key) {
				if t == p {
					continue
				}
				if _, ok := elems[t]; !ok {
					continue
				}
				uf.Union(elems[p], elems[t])
				link(p, t)
				link(t, p)
			}
		}

		groupIdx := map[*uf.Element]int{}
		var groups [][]heap.ObjID
		for _, p := range positions {
			rep := elems[p].Find()
			gi, ok := groupIdx[rep]
			if !ok {
				gi = len(groups)
				groupIdx[rep] = gi
				groups = append(groups, nil)
			}
			groups[gi] = append(groups[gi], p)
		}

		for _, grp := range groups {
			s, ok := chainOf(sh, grp, adj, key)
			if !ok {
				continue
			}
			for _, m := range s.Objs {
				claimed.Insert(int(m))
			}
			shapes = append(shapes, s)
		}
	}
	return shapes
}

// chainOf orders one connectivity group into a chain. The entry is
// the lowest-id endpoint, or the lowest-id member on a cycle. Groups
// made of regions only are not containers and are dropped.
func chainOf(sh *heap.SymHeap, grp []heap.ObjID, adj map[heap.ObjID][]heap.ObjID, key chainKey) (Shape, bool) {
	abstract := false
	entry := grp[0]
	endpoint := heap.ObjInvalid
	for _, p := range grp {
		if sh.ObjKind(p) == key.kind && key.kind != heap.KindRegion {
			abstract = true
		}
		if len(adj[p]) <= 1 && endpoint == heap.ObjInvalid {
			endpoint = p
		}
	}
	if !abstract {
		return Shape{}, false
	}
	if endpoint != heap.ObjInvalid {
		entry = endpoint
	}

	s := Shape{Entry: entry, Kind: key.kind,
		Binding: heap.Binding{Head: key.head, Next: key.loOff, Prev: key.hiOff}}
	var visited intsets.Sparse
	cur := entry
	for cur != heap.ObjInvalid && !visited.Has(int(cur)) {
		visited.Insert(int(cur))
		s.Objs = append(s.Objs, cur)
		if sh.ObjKind(cur) == heap.KindDLS {
			s.Objs = append(s.Objs, sh.PeerOf(cur))
		}
		s.Length++
		next := heap.ObjInvalid
		for _, n := range adj[cur] {
			if !visited.Has(int(n)) {
				next = n
				break
			}
		}
		cur = next
	}
	return s, true
}

// detectContainers runs shape detection on every heap, maps shapes
// along all trace edges, and runs one round of backward length-1
// inference followed by a final mapping pass.
func (g *GlobalState) detectContainers() {
	for _, ls := range g.Locs {
		ls.Shapes = make([][]Shape, ls.Heaps.Len())
		for i := 0; i < ls.Heaps.Len(); i++ {
			ls.Shapes[i] = detectShapes(ls.Heaps.At(i))
		}
	}
	g.mapAllShapes()
	if g.inferEntryShapes() {
		g.mapAllShapes()
	}
}

func (g *GlobalState) mapAllShapes() {
	for _, ls := range g.Locs {
		for _, e := range ls.TraceIn {
			e.Shapes = g.matchShapes(e)
		}
	}
}

// matchShapes pairs source and destination shapes of one trace edge.
// A pair matches iff the edge's object mapping sends the source
// shape's object set bijectively onto the destination shape's set.
func (g *GlobalState) matchShapes(e *TraceEdge) [][2]int {
	srcShapes := g.Locs[e.Src.Loc].Shapes[e.Src.Heap]
	dstShapes := g.Locs[e.Dst.Loc].Shapes[e.Dst.Heap]
	var out [][2]int
	for i, src := range srcShapes {
		for j, dst := range dstShapes {
			if shapeMapsTo(src, dst, e.ObjMap) {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

func shapeMapsTo(src, dst Shape, objMap map[int]int) bool {
	if len(src.Objs) != len(dst.Objs) {
		return false
	}
	var dstSet intsets.Sparse
	for _, o := range dst.Objs {
		dstSet.Insert(int(o))
	}
	var image intsets.Sparse
	for _, o := range src.Objs {
		m := int(o)
		if to, ok := objMap[m]; ok {
			m = to
		}
		if !dstSet.Has(m) || image.Has(m) {
			return false
		}
		image.Insert(m)
	}
	return true
}

// inferEntryShapes attempts, for every destination shape without a
// mapped predecessor, to imply a length-1 shape in the predecessor
// heap: the reverse-mapped entry object must still exist there as a
// region of the same size and estimated type whose candidate link
// fields are all null. Reports whether any shape was added.
func (g *GlobalState) inferEntryShapes() bool {
	added := false
	for _, ls := range g.Locs {
		for _, e := range ls.TraceIn {
			dstShapes := g.Locs[e.Dst.Loc].Shapes[e.Dst.Heap]
			for j, dst := range dstShapes {
				if hasMappedSrc(e.Shapes, j) {
					continue
				}
				cand, ok := reverseEntry(e.ObjMap, dst.Entry)
				if !ok {
					continue
				}
				srcHeap := g.HeapOf(e.Src)
				dstHeap := g.HeapOf(e.Dst)
				if !impliedSingleton(srcHeap, dstHeap, cand, dst) {
					continue
				}
				srcShapes := &g.Locs[e.Src.Loc].Shapes[e.Src.Heap]
				if containsSingleton(*srcShapes, cand, dst) {
					continue
				}
				*srcShapes = append(*srcShapes, Shape{
					Entry:   cand,
					Kind:    dst.Kind,
					Binding: dst.Binding,
					Length:  1,
					Objs:    []heap.ObjID{cand},
				})
				added = true
			}
		}
	}
	return added
}

func hasMappedSrc(pairs [][2]int, dstIdx int) bool {
	for _, p := range pairs {
		if p[1] == dstIdx {
			return true
		}
	}
	return false
}

// reverseEntry finds the source object the edge maps onto the entry.
// An unmapped entry falls back to the identity, unless that same id is
// itself renamed by the edge.
func reverseEntry(objMap map[int]int, entry heap.ObjID) (heap.ObjID, bool) {
	for from, to := range objMap {
		if to == int(entry) {
			return heap.ObjID(from), true
		}
	}
	if _, renamed := objMap[int(entry)]; renamed {
		return heap.ObjInvalid, false
	}
	return entry, true
}

func impliedSingleton(srcHeap, dstHeap *heap.SymHeap, cand heap.ObjID, dst Shape) bool {
	if !srcHeap.ObjValid(cand) || srcHeap.ObjKind(cand) != heap.KindRegion {
		return false
	}
	if srcHeap.ObjSize(cand) != dstHeap.ObjSize(dst.Entry) {
		return false
	}
	if srcHeap.EstType(cand) != dstHeap.EstType(dst.Entry) {
		return false
	}
	if srcHeap.ValueAtOff(cand, dst.Binding.Next) != heap.ValNull {
		return false
	}
	if dst.Kind == heap.KindDLS &&
		srcHeap.ValueAtOff(cand, dst.Binding.Prev) != heap.ValNull {
		return false
	}
	return true
}

func containsSingleton(shapes []Shape, entry heap.ObjID, dst Shape) bool {
	for _, s := range shapes {
		if s.Entry == entry && s.Kind == dst.Kind && s.Binding == dst.Binding {
			return true
		}
	}
	return false
}
