package fixpoint

import (
	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/analysis/trace"
)

// transparent instructions carry no program state of their own and get
// no location; heap sets the executor recorded for them are ignored.
func transparent(in *storage.Insn) bool {
	switch in.Code {
	case storage.InsnJmp, storage.InsnCond, storage.InsnLabel:
		return true
	}
	return false
}

// ComputeStateOf assembles the global state of one function from the
// per-instruction heap sets left behind by the executor's fixed
// point. Instructions without a recorded set get an empty one.
func ComputeStateOf(fnc *storage.Fnc, states map[*storage.Insn]*heap.SymHeapUnion) *GlobalState {
	g := &GlobalState{Fnc: fnc, byInsn: map[*storage.Insn]LocIdx{}}
	for _, bb := range fnc.Blocks {
		for _, in := range bb.Insns {
			if transparent(in) {
				continue
			}
			heaps := states[in]
			if heaps == nil {
				heaps = &heap.SymHeapUnion{}
			}
			g.byInsn[in] = LocIdx(len(g.Locs))
			g.Locs = append(g.Locs, &LocalState{Insn: in, Heaps: heaps})
		}
	}
	g.connectCfg()
	g.connectTraces()
	g.detectContainers()
	return g
}

type flowTarget struct {
	in     *storage.Insn
	closes bool
}

func closesAt(in *storage.Insn, i int) bool {
	for _, c := range in.LoopClosingTargets {
		if c == i {
			return true
		}
	}
	return false
}

// directSuccs lists the immediate control-flow successors of an
// instruction, before transparent ones are chased through.
func directSuccs(in *storage.Insn) []flowTarget {
	switch in.Code {
	case storage.InsnJmp, storage.InsnCond:
		out := make([]flowTarget, 0, len(in.Targets))
		for i, tgt := range in.Targets {
			out = append(out, flowTarget{tgt.Front(), closesAt(in, i)})
		}
		return out
	case storage.InsnRet, storage.InsnAbort:
		return nil
	}
	bb := in.Block
	for i, x := range bb.Insns {
		if x == in && i+1 < len(bb.Insns) {
			return []flowTarget{{bb.Insns[i+1], false}}
		}
	}
	return nil
}

// opaqueSuccs resolves the opaque successors of a location, chasing
// through transparent instructions and carrying the closes-loop flag
// along the path. Successors reached via several paths collapse into
// one edge with the flags combined.
func (g *GlobalState) opaqueSuccs(in *storage.Insn) []flowTarget {
	var out []flowTarget
	emitted := map[*storage.Insn]int{}
	var walk func(t flowTarget, seen map[*storage.Insn]bool)
	walk = func(t flowTarget, seen map[*storage.Insn]bool) {
		if !transparent(t.in) {
			if i, ok := emitted[t.in]; ok {
				out[i].closes = out[i].closes || t.closes
				return
			}
			emitted[t.in] = len(out)
			out = append(out, t)
			return
		}
		if seen[t.in] {
			return
		}
		seen[t.in] = true
		for _, next := range directSuccs(t.in) {
			walk(flowTarget{next.in, t.closes || next.closes}, seen)
		}
	}
	for _, t := range directSuccs(in) {
		walk(t, map[*storage.Insn]bool{})
	}
	return out
}

func (g *GlobalState) connectCfg() {
	for idx, ls := range g.Locs {
		for _, s := range g.opaqueSuccs(ls.Insn) {
			tgt, ok := g.byInsn[s.in]
			if !ok {
				continue
			}
			ls.CfgOut = append(ls.CfgOut, CfgEdge{Target: tgt, ClosesLoop: s.closes})
			g.Locs[tgt].CfgIn = append(g.Locs[tgt].CfgIn,
				CfgEdge{Target: LocIdx(idx), ClosesLoop: s.closes})
		}
	}
}

// connectTraces emits the trace edges of every location, iterating
// predecessors in CFG-in order and destination heaps in index order.
func (g *GlobalState) connectTraces() {
	for dIdx, dst := range g.Locs {
		for _, in := range dst.CfgIn {
			src := g.Locs[in.Target]
			index := map[*trace.Node]HeapIdent{}
			for i := 0; i < src.Heaps.Len(); i++ {
				n := src.Heaps.At(i).TraceNode()
				if _, dup := index[n]; !dup {
					index[n] = HeapIdent{Loc: in.Target, Heap: HeapIdx(i)}
				}
			}
			for j := 0; j < dst.Heaps.Len(); j++ {
				g.emitTraceEdges(dst, HeapIdent{Loc: LocIdx(dIdx), Heap: HeapIdx(j)}, index)
			}
		}
	}
}

// emitTraceEdges walks a heap's trace ancestors breadth-first and
// emits an edge for every nearest ancestor present in the predecessor
// index. The walk does not expand past a matched ancestor, so only
// the closest hit along each branch yields an edge.
func (g *GlobalState) emitTraceEdges(dst *LocalState, di HeapIdent, index map[*trace.Node]HeapIdent) {
	node := g.HeapOf(di).TraceNode()
	queue := []*trace.Node{node}
	visited := map[*trace.Node]bool{node: true}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if si, ok := index[n]; ok {
			objMap, resolved := trace.ResolveIDMapping(n, node)
			if !resolved {
				log.Debugf("fixpoint: unresolvable id mapping %s -> %s", si, di)
				continue
			}
			dst.TraceIn = append(dst.TraceIn, &TraceEdge{Src: si, Dst: di, ObjMap: objMap})
			continue
		}
		for _, p := range n.Parents() {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
}
