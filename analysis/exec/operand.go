package exec

import (
	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
)

// cell is a resolved storage location: an object and a byte offset
// within it.
type cell struct {
	obj heap.ObjID
	off int
}

// shiftPtr displaces a pointer value by delta bytes, the container-of
// arithmetic of the front-end.
func (e *Engine) shiftPtr(sh *heap.SymHeap, v heap.ValID, delta int, loc storage.Loc) (heap.ValID, bool) {
	tgt, off, ok := sh.TargetOf(v)
	if !ok {
		e.reporter.Report(InvalidDeref, loc, "pointer arithmetic on non-pointer value %s", v)
		return heap.ValInvalid, false
	}
	return sh.AddrOf(tgt, off+delta), true
}

// derefPtr resolves a pointer value to its target cell, reporting
// null and dangling dereferences.
func (e *Engine) derefPtr(sh *heap.SymHeap, v heap.ValID, loc storage.Loc) (heap.ObjID, int, bool) {
	if v == heap.ValNull {
		e.reporter.Report(NullDeref, loc, "dereference of NULL")
		return heap.ObjInvalid, 0, false
	}
	if origin, ok := sh.ValOrigin(v); ok && origin == heap.OrDerefFailed {
		e.reporter.Report(InvalidDeref, loc, "dereference of a value obtained by a failed dereference")
		return heap.ObjInvalid, 0, false
	}
	tgt, off, ok := sh.TargetOf(v)
	if !ok {
		e.reporter.Report(InvalidDeref, loc, "dereference of unknown value %s", v)
		return heap.ObjInvalid, 0, false
	}
	if !sh.ObjValid(tgt) {
		e.reporter.Report(InvalidDeref, loc, "dereference of a pointer into a destroyed object")
		return heap.ObjInvalid, 0, false
	}
	return tgt, off, true
}

// lvalCell resolves an operand to the cell it designates. The
// variable's cell is taken, optionally dereferenced with the PtrAdd
// displacement applied to the pointer first, then displaced by Off.
func (e *Engine) lvalCell(sh *heap.SymHeap, op *storage.Operand, loc storage.Loc) (cell, bool) {
	base := sh.VarObj(op.Var)
	if !op.Deref {
		return cell{obj: base, off: op.Off}, true
	}
	ptr := sh.ReadField(base, 0, op.Var.Typ)
	if op.PtrAdd != 0 {
		var ok bool
		if ptr, ok = e.shiftPtr(sh, ptr, op.PtrAdd, loc); !ok {
			return cell{}, false
		}
	}
	tgt, off, ok := e.derefPtr(sh, ptr, loc)
	if !ok {
		return cell{}, false
	}
	return cell{obj: tgt, off: off + op.Off}, true
}

func (e *Engine) litVal(sh *heap.SymHeap, lit *storage.Literal) heap.ValID {
	switch lit.Code {
	case storage.LitNull:
		return heap.ValNull
	case storage.LitStr:
		return sh.NewCustom(heap.StrVal(lit.Str))
	case storage.LitFnc:
		return sh.NewCustom(heap.FncVal(lit.Fnc))
	default:
		return sh.NewCustom(heap.IntVal(lit.Int))
	}
}

// rval evaluates an operand to a value. Failed dereferences yield a
// fresh unknown of origin deref-failed, so execution continues on the
// reporting heap.
func (e *Engine) rval(sh *heap.SymHeap, op *storage.Operand, loc storage.Loc) heap.ValID {
	if op == nil {
		return heap.ValInvalid
	}
	if op.Lit != nil {
		return e.litVal(sh, op.Lit)
	}
	if op.Addr {
		c, ok := e.lvalCell(sh, op, loc)
		if !ok {
			return sh.NewUnknown(heap.OrDerefFailed)
		}
		v := sh.AddrOf(c.obj, c.off)
		if op.PtrAdd != 0 {
			if shifted, ok := e.shiftPtr(sh, v, op.PtrAdd, loc); ok {
				return shifted
			}
			return sh.NewUnknown(heap.OrDerefFailed)
		}
		return v
	}
	if op.Deref {
		c, ok := e.lvalCell(sh, op, loc)
		if !ok {
			return sh.NewUnknown(heap.OrDerefFailed)
		}
		return sh.ReadField(c.obj, c.off, op.Typ)
	}
	base := sh.VarObj(op.Var)
	v := sh.ReadField(base, op.Off, op.Typ)
	if op.PtrAdd != 0 {
		if shifted, ok := e.shiftPtr(sh, v, op.PtrAdd, loc); ok {
			return shifted
		}
		return sh.NewUnknown(heap.OrDerefFailed)
	}
	return v
}

// writeOperand stores a value into the cell an operand designates. A
// failed resolution drops the write but keeps the heap alive.
func (e *Engine) writeOperand(sh *heap.SymHeap, op *storage.Operand, v heap.ValID, loc storage.Loc) {
	c, ok := e.lvalCell(sh, op, loc)
	if !ok {
		return
	}
	sh.WriteField(c.obj, c.off, op.Typ, v)
}

func insnOperands(in *storage.Insn) []*storage.Operand {
	ops := []*storage.Operand{in.Dst, in.Src, in.Src2}
	return append(ops, in.Args...)
}

// abstractDerefTarget peeks at the instruction's dereferencing
// operands and returns the first abstract object about to be touched,
// the trigger for concretization.
func (e *Engine) abstractDerefTarget(sh *heap.SymHeap, in *storage.Insn) (heap.ObjID, bool) {
	for _, op := range insnOperands(in) {
		if op == nil || op.Var == nil || !op.Deref {
			continue
		}
		base := sh.VarObj(op.Var)
		ptr := sh.ReadField(base, 0, op.Var.Typ)
		// a PtrAdd displacement stays within the same root, so the
		// peeked target is the right one either way
		tgt, _, ok := sh.TargetOf(ptr)
		if ok && sh.ObjValid(tgt) && sh.ObjKind(tgt).IsAbstract() {
			return tgt, true
		}
	}
	return heap.ObjInvalid, false
}
