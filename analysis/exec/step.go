package exec

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/shape"
	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/analysis/trace"
)

// concretizeForInsn unrolls every abstract object the instruction is
// about to dereference, returning all resulting pre-states. The
// splice-out variants produced along the way are queued again, since
// unrolling one operand may expose another abstract target.
func (e *Engine) concretizeForInsn(sh *heap.SymHeap, in *storage.Insn) []*heap.SymHeap {
	var out []*heap.SymHeap
	queue := []*heap.SymHeap{sh}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		seg, ok := e.abstractDerefTarget(h, in)
		if !ok {
			out = append(out, h)
			continue
		}
		variants := shape.Concretize(h, seg)
		queue = append(queue, h)
		queue = append(queue, variants...)
	}
	return out
}

// stepHeap executes one non-terminal instruction on a heap the caller
// owns, returning the successor states. The instruction's trace node
// is pushed first, so every pre-state descends from it.
func (e *Engine) stepHeap(sh *heap.SymHeap, in *storage.Insn) []*heap.SymHeap {
	sh.SetTraceNode(trace.NewInsn(sh.TraceNode(), in))
	var out []*heap.SymHeap
	for _, h := range e.concretizeForInsn(sh, in) {
		if e.execCore(h, in) {
			out = append(out, h)
		}
	}
	return out
}

// execCore applies the instruction's effect in place, reporting false
// when the path ends here.
func (e *Engine) execCore(sh *heap.SymHeap, in *storage.Insn) bool {
	switch in.Code {
	case storage.InsnAssign:
		v := e.rval(sh, in.Src, in.Loc)
		e.writeOperand(sh, in.Dst, v, in.Loc)
		e.scanJunk(sh, in.Loc)
		return true
	case storage.InsnCall:
		return e.execCall(sh, in)
	case storage.InsnLabel:
		return true
	}
	return true
}

// scanJunk destroys unreachable heap objects and reports them as
// leaked.
func (e *Engine) scanJunk(sh *heap.SymHeap, loc storage.Loc) {
	for _, o := range sh.CollectJunk() {
		e.reporter.Report(Leak, loc, "memory leak of %s", o)
	}
}

func (e *Engine) execCall(sh *heap.SymHeap, in *storage.Insn) bool {
	switch in.Callee {
	case "malloc":
		e.execMalloc(sh, in, false)
	case "calloc":
		e.execMalloc(sh, in, true)
	case "free":
		e.execFree(sh, in)
	case "abort", "exit":
		e.scanJunk(sh, in.Loc)
		return false
	case "nondet", "__nondet":
		if in.Dst != nil {
			e.writeOperand(sh, in.Dst, sh.NewUnknown(heap.OrAssigned), in.Loc)
		}
	case "plot":
		e.execPlot(sh, in)
	default:
		log.Warnf("exec: call of unknown function %q at %s", in.Callee, in.Loc)
		if in.Dst != nil {
			e.writeOperand(sh, in.Dst, sh.NewUnknown(heap.OrAssigned), in.Loc)
		}
	}
	return true
}

// allocSize reads the byte count requested from an allocation
// builtin, falling back to an unbounded range for symbolic sizes.
func (e *Engine) allocSize(sh *heap.SymHeap, in *storage.Insn) heap.SizeRange {
	if len(in.Args) == 0 {
		return heap.Size(0)
	}
	n := int64(1)
	for _, arg := range in.Args {
		v := e.rval(sh, arg, in.Loc)
		c, ok := sh.ValCustom(v)
		if !ok || c.Kind != heap.CustomInt {
			return heap.SizeRange{Lo: 0, Hi: math.MaxInt}
		}
		n *= c.Int
	}
	return heap.Size(int(n))
}

func (e *Engine) execMalloc(sh *heap.SymHeap, in *storage.Insn, nullify bool) {
	size := e.allocSize(sh, in)
	var typ *storage.Type
	if in.Dst != nil && in.Dst.Typ != nil && in.Dst.Typ.Code == storage.TypePtr {
		typ = in.Dst.Typ.Target
	}
	obj := sh.CreateHeapObj(size, typ)
	if nullify {
		sh.WriteUniformBlock(obj, 0, size.Lo, heap.ValNull)
	}
	if in.Dst != nil {
		e.writeOperand(sh, in.Dst, sh.AddrOf(obj, 0), in.Loc)
	}
	e.scanJunk(sh, in.Loc)
}

func (e *Engine) execFree(sh *heap.SymHeap, in *storage.Insn) {
	if len(in.Args) == 0 {
		return
	}
	v := e.rval(sh, in.Args[0], in.Loc)
	if v == heap.ValNull {
		return
	}
	tgt, off, ok := sh.TargetOf(v)
	if !ok {
		e.reporter.Report(DoubleFree, in.Loc, "free() called on unknown value %s", v)
		return
	}
	if !sh.ObjValid(tgt) || sh.ObjClass(tgt) != heap.ClassOnHeap {
		e.reporter.Report(DoubleFree, in.Loc, "free() called on a value not pointing at a live heap object")
		return
	}
	if off != 0 {
		e.reporter.Report(DoubleFree, in.Loc, "free() called with offset %+d into the object", off)
		return
	}
	sh.Destroy(tgt)
	e.scanJunk(sh, in.Loc)
}

func (e *Engine) execPlot(sh *heap.SymHeap, in *storage.Insn) {
	if e.params.Plotter == nil {
		return
	}
	name := "snapshot"
	if len(in.Args) > 0 && in.Args[0].Lit != nil && in.Args[0].Lit.Code == storage.LitStr {
		name = in.Args[0].Lit.Str
	}
	if _, err := e.params.Plotter.Plot(sh, name); err != nil {
		log.Warnf("exec: plotting %q failed: %v", name, err)
	}
}
