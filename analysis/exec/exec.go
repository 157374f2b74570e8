// Package exec interprets the three-address-code instruction stream of
// one function over symbolic heaps: a block-level worklist reaches a
// fixed point on per-block-entry heap sets, folding list segments after
// every instruction and unrolling them before every dereference.
package exec

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/plot"
	"github.com/plover-tools/plover/analysis/shape"
	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/analysis/trace"
	"github.com/plover-tools/plover/utils/worklist"
)

// Params tunes one engine run.
type Params struct {
	Shape   shape.Config
	Plotter *plot.Plotter
}

// Engine drives the symbolic execution of one function at a time. It
// is not safe for concurrent use; parallel drivers run one engine per
// worker.
type Engine struct {
	params   Params
	reporter *Reporter
	states   *StateByInsn

	fnc     *storage.Fnc
	entries map[*storage.Block]*heap.SymHeapUnion
	procIdx map[*storage.Block]int
	queue   *worklist.Queue[*storage.Block]
	ends    *heap.SymHeapUnion
}

func New(params Params) *Engine {
	return &Engine{
		params:   params,
		reporter: NewReporter(),
		states:   NewStateByInsn(),
	}
}

func (e *Engine) Reporter() *Reporter { return e.reporter }

func (e *Engine) States() *StateByInsn { return e.states }

// Results returns the heap set at the function's return points.
func (e *Engine) Results() *heap.SymHeapUnion { return e.ends }

// ExecFnc runs the function to its fixed point, starting from an empty
// heap. Internal contract violations are recovered at this boundary
// and turn into an error flagging the function's results unreliable.
func (e *Engine) ExecFnc(fnc *storage.Fnc) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ie, ok := r.(heap.InternalError)
		if !ok {
			panic(r)
		}
		e.reporter.Report(Internal, fnc.Loc, "%v", ie.Err)
		err = errors.Wrapf(ie.Err, "analysis of %s is unreliable", fnc.Name)
	}()

	log.Debugf("exec: analyzing %s", fnc.Name)
	e.fnc = fnc
	e.entries = map[*storage.Block]*heap.SymHeapUnion{}
	e.procIdx = map[*storage.Block]int{}
	e.queue = worklist.NewQueue[*storage.Block]()
	e.ends = &heap.SymHeapUnion{}

	e.scheduleBlock(fnc.Entry, heap.New())
	for {
		bb, ok := e.queue.Next()
		if !ok {
			break
		}
		e.execBlock(bb)
	}
	log.Debugf("exec: %s done, %d end states, %d reports",
		fnc.Name, e.ends.Len(), len(e.reporter.Reports))
	return nil
}

// scheduleBlock folds the heap and inserts it into the block's entry
// set, queuing the block when the set grew.
func (e *Engine) scheduleBlock(bb *storage.Block, sh *heap.SymHeap) {
	shape.AbstractIfNeeded(sh, e.params.Shape)
	entry := e.entries[bb]
	if entry == nil {
		entry = &heap.SymHeapUnion{}
		e.entries[bb] = entry
	}
	if entry.Insert(sh) {
		e.queue.Schedule(bb)
	}
}

// execBlock pushes the entry heaps not yet processed through the
// block. Heaps taken from a union are frozen; execution continues on
// clones.
func (e *Engine) execBlock(bb *storage.Block) {
	entry := e.entries[bb]
	start := e.procIdx[bb]
	e.procIdx[bb] = entry.Len()
	cur := append([]*heap.SymHeap(nil), entry.Heaps()[start:]...)
	if len(cur) == 0 {
		return
	}

	for _, in := range bb.Insns {
		if in.IsTerm() {
			e.execTerm(in, cur)
			return
		}
		var next []*heap.SymHeap
		for _, h := range cur {
			e.states.Collect(in, h)
			next = append(next, e.stepHeap(h.Clone(), in)...)
		}
		for _, h := range next {
			shape.AbstractIfNeeded(h, e.params.Shape)
		}
		cur = next
	}
}

func (e *Engine) execTerm(in *storage.Insn, heaps []*heap.SymHeap) {
	for _, h := range heaps {
		e.states.Collect(in, h)
		work := h.Clone()
		work.SetTraceNode(trace.NewInsn(work.TraceNode(), in))

		switch in.Code {
		case storage.InsnJmp:
			e.scheduleBlock(in.Targets[0], work)
		case storage.InsnCond:
			for _, pre := range e.concretizeForInsn(work, in) {
				e.execCond(in, pre)
			}
		case storage.InsnRet:
			e.execRet(in, work)
		case storage.InsnAbort:
			e.scanJunk(work, in.Loc)
		}
	}
}

// execCond decides or forks a conditional. An undecided comparison
// forks both ways: the equal branch is refined by eqVariant, the
// unequal branch records the disequality and dies when that contradicts
// the state.
func (e *Engine) execCond(in *storage.Insn, sh *heap.SymHeap) {
	v1 := e.rval(sh, in.Src, in.Loc)
	v2 := e.rval(sh, in.Src2, in.Loc)

	eqTarget, neTarget := in.Targets[0], in.Targets[1]
	if in.Rel == storage.RelNE {
		eqTarget, neTarget = neTarget, eqTarget
	}

	if eq, proven := sh.ProveEq(v1, v2); proven {
		if eq {
			e.scheduleBlock(eqTarget, sh)
		} else {
			e.scheduleBlock(neTarget, sh)
		}
		return
	}

	if eqH := e.eqVariant(sh.Clone(), v1, v2); eqH != nil {
		e.scheduleBlock(eqTarget, eqH)
	}

	if err := sh.AddNeq(v1, v2); err != nil {
		log.Debugf("exec: infeasible branch at %s: %v", in.Loc, err)
		return
	}
	e.scheduleBlock(neTarget, sh)
}

// eqVariant refines sh under the assumption v1 == v2. An unknown side
// is joined onto the other; a side addressing a possibly-empty segment
// can only be equal in the worlds where the segment vanishes, so it is
// spliced out and the comparison re-proven. Returns nil when the
// assumption turns out infeasible.
func (e *Engine) eqVariant(sh *heap.SymHeap, v1, v2 heap.ValID) *heap.SymHeap {
	for {
		if eq, proven := sh.ProveEq(v1, v2); proven {
			if !eq {
				return nil
			}
			return sh
		}
		switch {
		case sh.IsUnknown(v1):
			sh.ValReplace(v1, v2)
			return sh
		case sh.IsUnknown(v2):
			sh.ValReplace(v2, v1)
			return sh
		}
		if spliced, nv, ok := spliceEmptyableTarget(sh, v1); ok {
			sh, v1 = spliced, nv
			continue
		}
		if spliced, nv, ok := spliceEmptyableTarget(sh, v2); ok {
			sh, v2 = spliced, nv
			continue
		}
		return sh
	}
}

// spliceEmptyableTarget splices out the possibly-empty segment v points
// at, returning the variant together with the value v maps to in it.
func spliceEmptyableTarget(sh *heap.SymHeap, v heap.ValID) (*heap.SymHeap, heap.ValID, bool) {
	seg, off, ok := sh.TargetOf(v)
	if !ok || off != 0 || !sh.ObjValid(seg) || !sh.IsAbstract(seg) {
		return nil, heap.ValInvalid, false
	}
	if !shape.MayBeEmpty(sh, seg) {
		return nil, heap.ValInvalid, false
	}
	var nv heap.ValID
	switch sh.ObjKind(seg) {
	case heap.KindDLS:
		nv = sh.NextValOf(sh.PeerOf(seg))
	case heap.KindObjOrNull:
		nv = heap.ValNull
	default:
		nv = sh.NextValOf(seg)
	}
	return shape.SpliceOut(sh, seg), nv, true
}

// execRet evaluates the return value, kills the function's stack
// frame, and scans for leaked heap objects.
func (e *Engine) execRet(in *storage.Insn, sh *heap.SymHeap) {
	if in.Src != nil {
		sh.SetRetVal(e.rval(sh, in.Src, in.Loc))
	}
	for _, uid := range sh.Vars() {
		o, ok := sh.VarObjByUID(uid)
		if !ok {
			continue
		}
		if v := sh.ObjVar(o); v != nil && v.Fnc == e.fnc {
			sh.Destroy(o)
		}
	}
	e.scanJunk(sh, in.Loc)
	e.ends.Insert(sh)
}
