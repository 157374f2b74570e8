package storage

import (
	"fmt"
	"strings"
)

type InsnCode int

const (
	InsnAssign InsnCode = iota
	InsnCall
	InsnCond
	InsnJmp
	InsnRet
	InsnAbort
	InsnLabel
)

// Relation is the comparison evaluated by a conditional jump.
type Relation int

const (
	RelEQ Relation = iota
	RelNE
)

func (r Relation) String() string {
	if r == RelEQ {
		return "=="
	}
	return "!="
}

type LitCode int

const (
	LitInt LitCode = iota
	LitNull
	LitStr
	LitFnc
)

// Literal is a constant operand.
type Literal struct {
	Code LitCode
	Int  int64
	Str  string
	Fnc  string
}

// Operand designates a storage cell or a constant. The accessor fields
// compose as follows: the variable's cell is taken, optionally
// dereferenced (Deref), displaced by Off bytes, and read/written with
// type Typ. Addr takes the address of the resulting cell instead of its
// content; PtrAdd displaces the *pointer value* itself, which is how the
// front-end encodes container-of arithmetic.
type Operand struct {
	Var    *Var
	Lit    *Literal
	Deref  bool
	Addr   bool
	Off    int
	PtrAdd int
	Typ    *Type
}

func (op *Operand) String() string {
	if op == nil {
		return "_"
	}
	if op.Lit != nil {
		switch op.Lit.Code {
		case LitNull:
			return "NULL"
		case LitStr:
			return fmt.Sprintf("%q", op.Lit.Str)
		case LitFnc:
			return op.Lit.Fnc + "()"
		default:
			return fmt.Sprintf("%d", op.Lit.Int)
		}
	}

	var sb strings.Builder
	if op.Addr {
		sb.WriteByte('&')
	}
	if op.Deref && op.Off == 0 {
		sb.WriteByte('*')
	}
	sb.WriteString(op.Var.Name)
	if op.Deref && op.Off != 0 {
		fmt.Fprintf(&sb, "->+%d", op.Off)
	} else if op.Off != 0 {
		fmt.Fprintf(&sb, ".+%d", op.Off)
	}
	if op.PtrAdd != 0 {
		fmt.Fprintf(&sb, "%+d", op.PtrAdd)
	}
	return sb.String()
}

// Insn is a single three-address-code instruction.
type Insn struct {
	Code InsnCode
	Loc  Loc

	Dst  *Operand // assign/call destination
	Src  *Operand // assign source, ret value, cond lhs
	Src2 *Operand // cond rhs
	Rel  Relation // cond relation

	Callee string     // call target
	Args   []*Operand // call arguments

	// Targets lists successor blocks: [then, else] for InsnCond, the
	// jump target for InsnJmp. LoopClosingTargets indexes into Targets,
	// naming the edges the front-end identified as closing a loop.
	Targets            []*Block
	LoopClosingTargets []int

	Block *Block
}

// IsTerm reports whether the instruction terminates a basic block.
func (in *Insn) IsTerm() bool {
	switch in.Code {
	case InsnCond, InsnJmp, InsnRet, InsnAbort:
		return true
	}
	return false
}

func (in *Insn) String() string {
	switch in.Code {
	case InsnAssign:
		return fmt.Sprintf("%s := %s", in.Dst, in.Src)
	case InsnCall:
		args := make([]string, len(in.Args))
		for i, a := range in.Args {
			args[i] = a.String()
		}
		call := fmt.Sprintf("%s(%s)", in.Callee, strings.Join(args, ", "))
		if in.Dst != nil {
			return fmt.Sprintf("%s := %s", in.Dst, call)
		}
		return call
	case InsnCond:
		return fmt.Sprintf("if (%s %s %s) goto %s else %s",
			in.Src, in.Rel, in.Src2, in.Targets[0].Name, in.Targets[1].Name)
	case InsnJmp:
		return "goto " + in.Targets[0].Name
	case InsnRet:
		if in.Src != nil {
			return "ret " + in.Src.String()
		}
		return "ret"
	case InsnAbort:
		return "abort"
	default:
		return "label"
	}
}
