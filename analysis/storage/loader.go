package storage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// The YAML interchange format is the concrete shape of the narrow
// front-end interface: an external front-end lowers source code into
// types, variables and per-function instruction CFGs and dumps them as a
// single document consumed here.

type yamlProgram struct {
	Types     []yamlType `yaml:"types"`
	Functions []yamlFnc  `yaml:"functions"`
}

type yamlType struct {
	Name  string     `yaml:"name"`
	Size  int        `yaml:"size"`
	Items []yamlItem `yaml:"items"`
}

type yamlItem struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Off  int    `yaml:"off"`
}

type yamlFnc struct {
	Name   string      `yaml:"name"`
	Vars   []yamlVar   `yaml:"vars"`
	Blocks []yamlBlock `yaml:"blocks"`
}

type yamlVar struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type yamlBlock struct {
	Name  string     `yaml:"name"`
	Insns []yamlInsn `yaml:"insns"`
}

type yamlInsn struct {
	Assign *yamlAssign `yaml:"assign"`
	Call   *yamlCall   `yaml:"call"`
	Cond   *yamlCond   `yaml:"cond"`
	Goto   string      `yaml:"goto"`
	Ret    *string     `yaml:"ret"`
	Abort  bool        `yaml:"abort"`
	Line   int         `yaml:"line"`

	ClosesLoop []int `yaml:"closes_loop"`
}

type yamlAssign struct {
	Dst string `yaml:"dst"`
	Src string `yaml:"src"`
}

type yamlCall struct {
	Dst  string   `yaml:"dst"`
	Fnc  string   `yaml:"fnc"`
	Args []string `yaml:"args"`
}

type yamlCond struct {
	Rel  string `yaml:"rel"`
	Lhs  string `yaml:"lhs"`
	Rhs  string `yaml:"rhs"`
	Then string `yaml:"then"`
	Else string `yaml:"else"`
}

// loader interns types and resolves names while translating the YAML
// document into a Program.
type loader struct {
	prog     *Program
	byName   map[string]*Type
	ptrTo    map[*Type]*Type
	nextUID  int
	nextVar  int
	file     string
	sizeofRe *regexp.Regexp
}

// Load parses a YAML program document.
func Load(src []byte, file string) (*Program, error) {
	var doc yamlProgram
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing program document")
	}

	ld := &loader{
		prog:     &Program{},
		byName:   map[string]*Type{},
		ptrTo:    map[*Type]*Type{},
		file:     file,
		sizeofRe: regexp.MustCompile(`^sizeof\((\w+)\)$`),
	}
	ld.internBuiltins()

	// first pass allocates the struct descriptors so that members may
	// refer to not-yet-loaded structs (next pointers)
	for _, yt := range doc.Types {
		t := ld.intern(&Type{Code: TypeStruct, Name: yt.Name, Size: yt.Size})
		ld.byName[yt.Name] = t
	}
	for _, yt := range doc.Types {
		t := ld.byName[yt.Name]
		for _, yi := range yt.Items {
			it, err := ld.typeRef(yi.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "type %s", yt.Name)
			}
			t.Items = append(t.Items, TypeItem{Name: yi.Name, Off: yi.Off, Typ: it})
		}
	}

	for _, yf := range doc.Functions {
		fnc, err := ld.loadFnc(yf)
		if err != nil {
			return nil, errors.Wrapf(err, "function %s", yf.Name)
		}
		ld.prog.Fncs = append(ld.prog.Fncs, fnc)
	}
	return ld.prog, nil
}

func (ld *loader) internBuiltins() {
	for _, b := range []struct {
		name string
		code TypeCode
		size int
	}{
		{"void", TypeVoid, 0},
		{"int", TypeInt, 8},
		{"bool", TypeBool, 1},
		{"real", TypeReal, 8},
		{"string", TypeString, 8},
	} {
		ld.byName[b.name] = ld.intern(&Type{Code: b.code, Name: b.name, Size: b.size})
	}
}

func (ld *loader) intern(t *Type) *Type {
	t.UID = ld.nextUID
	ld.nextUID++
	ld.prog.Types = append(ld.prog.Types, t)
	return t
}

// typeRef resolves "int", "node", "*node", "**node", ...
func (ld *loader) typeRef(s string) (*Type, error) {
	if strings.HasPrefix(s, "*") {
		target, err := ld.typeRef(s[1:])
		if err != nil {
			return nil, err
		}
		ptr, found := ld.ptrTo[target]
		if !found {
			ptr = ld.intern(&Type{Code: TypePtr, Size: 8, Target: target})
			ld.ptrTo[target] = ptr
		}
		return ptr, nil
	}
	t, found := ld.byName[s]
	if !found {
		return nil, errors.Errorf("unknown type %q", s)
	}
	return t, nil
}

func (ld *loader) loadFnc(yf yamlFnc) (*Fnc, error) {
	fnc := &Fnc{Name: yf.Name, Loc: Loc{File: ld.file}}

	vars := map[string]*Var{}
	for _, yv := range yf.Vars {
		t, err := ld.typeRef(yv.Type)
		if err != nil {
			return nil, err
		}
		v := &Var{UID: ld.nextVar, Name: yv.Name, Typ: t, Fnc: fnc}
		ld.nextVar++
		fnc.Vars = append(fnc.Vars, v)
		vars[yv.Name] = v
	}

	blocks := map[string]*Block{}
	for _, yb := range yf.Blocks {
		bb := &Block{Name: yb.Name, Fnc: fnc}
		fnc.Blocks = append(fnc.Blocks, bb)
		blocks[yb.Name] = bb
	}
	if len(fnc.Blocks) == 0 {
		return nil, errors.New("function has no blocks")
	}
	fnc.Entry = fnc.Blocks[0]

	for bi, yb := range yf.Blocks {
		bb := fnc.Blocks[bi]
		for _, yi := range yb.Insns {
			in, err := ld.loadInsn(yi, vars, blocks)
			if err != nil {
				return nil, errors.Wrapf(err, "block %s", yb.Name)
			}
			in.Block = bb
			bb.Insns = append(bb.Insns, in)
		}
		if len(bb.Insns) == 0 || !bb.Back().IsTerm() {
			return nil, errors.Errorf("block %s lacks a terminator", yb.Name)
		}
	}
	return fnc, nil
}

func (ld *loader) loadInsn(yi yamlInsn, vars map[string]*Var, blocks map[string]*Block) (*Insn, error) {
	loc := Loc{File: ld.file, Line: yi.Line}

	target := func(name string) (*Block, error) {
		bb, found := blocks[name]
		if !found {
			return nil, errors.Errorf("unknown block %q", name)
		}
		return bb, nil
	}

	switch {
	case yi.Assign != nil:
		dst, err := ld.operand(yi.Assign.Dst, vars)
		if err != nil {
			return nil, err
		}
		src, err := ld.operand(yi.Assign.Src, vars)
		if err != nil {
			return nil, err
		}
		return &Insn{Code: InsnAssign, Loc: loc, Dst: dst, Src: src}, nil

	case yi.Call != nil:
		in := &Insn{Code: InsnCall, Loc: loc, Callee: yi.Call.Fnc}
		if yi.Call.Dst != "" {
			dst, err := ld.operand(yi.Call.Dst, vars)
			if err != nil {
				return nil, err
			}
			in.Dst = dst
		}
		for _, arg := range yi.Call.Args {
			op, err := ld.operand(arg, vars)
			if err != nil {
				return nil, err
			}
			in.Args = append(in.Args, op)
		}
		return in, nil

	case yi.Cond != nil:
		lhs, err := ld.operand(yi.Cond.Lhs, vars)
		if err != nil {
			return nil, err
		}
		rhs, err := ld.operand(yi.Cond.Rhs, vars)
		if err != nil {
			return nil, err
		}
		rel := RelEQ
		if yi.Cond.Rel == "ne" {
			rel = RelNE
		}
		then, err := target(yi.Cond.Then)
		if err != nil {
			return nil, err
		}
		els, err := target(yi.Cond.Else)
		if err != nil {
			return nil, err
		}
		return &Insn{
			Code: InsnCond, Loc: loc, Rel: rel, Src: lhs, Src2: rhs,
			Targets: []*Block{then, els}, LoopClosingTargets: yi.ClosesLoop,
		}, nil

	case yi.Goto != "":
		bb, err := target(yi.Goto)
		if err != nil {
			return nil, err
		}
		return &Insn{
			Code: InsnJmp, Loc: loc,
			Targets: []*Block{bb}, LoopClosingTargets: yi.ClosesLoop,
		}, nil

	case yi.Ret != nil:
		in := &Insn{Code: InsnRet, Loc: loc}
		if *yi.Ret != "" {
			src, err := ld.operand(*yi.Ret, vars)
			if err != nil {
				return nil, err
			}
			in.Src = src
		}
		return in, nil

	case yi.Abort:
		return &Insn{Code: InsnAbort, Loc: loc}, nil
	}

	return nil, errors.New("unrecognized instruction")
}

var ptrAddRe = regexp.MustCompile(`^(\w+)([+-]\d+)$`)

// operand parses the compact accessor syntax used by the dump format:
//
//	null, 42, sizeof(node)    literals
//	x                         variable cell
//	&x, &x.f                  address of a cell
//	*p, p->f                  access through a pointer
//	p+8, p-8                  pointer displacement (container-of)
func (ld *loader) operand(s string, vars map[string]*Var) (*Operand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty operand")
	}

	if s == "null" {
		return &Operand{Lit: &Literal{Code: LitNull}}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &Operand{Lit: &Literal{Code: LitInt, Int: n}, Typ: ld.byName["int"]}, nil
	}
	if m := ld.sizeofRe.FindStringSubmatch(s); m != nil {
		t, err := ld.typeRef(m[1])
		if err != nil {
			return nil, err
		}
		return &Operand{Lit: &Literal{Code: LitInt, Int: int64(t.Size)}, Typ: ld.byName["int"]}, nil
	}

	op := &Operand{}
	if strings.HasPrefix(s, "&") {
		op.Addr = true
		s = s[1:]
	} else if strings.HasPrefix(s, "*") {
		op.Deref = true
		s = s[1:]
	}

	if m := ptrAddRe.FindStringSubmatch(s); m != nil && !op.Addr && !op.Deref {
		delta, _ := strconv.Atoi(m[2])
		op.PtrAdd = delta
		s = m[1]
	}

	var field string
	if idx := strings.Index(s, "->"); idx >= 0 {
		if op.Addr || op.Deref {
			return nil, errors.Errorf("malformed operand %q", s)
		}
		op.Deref = true
		field = s[idx+2:]
		s = s[:idx]
	} else if idx := strings.Index(s, "."); idx >= 0 {
		field = s[idx+1:]
		s = s[:idx]
	}

	v, found := vars[s]
	if !found {
		return nil, errors.Errorf("unknown variable %q", s)
	}
	op.Var = v
	op.Typ = v.Typ

	if field != "" {
		base := v.Typ
		if op.Deref {
			if base.Code != TypePtr {
				return nil, errors.Errorf("%s is not a pointer", v.Name)
			}
			base = base.Target
		}
		it, found := base.ItemByName(field)
		if !found {
			return nil, errors.Errorf("type %s has no member %q", base, field)
		}
		op.Off = it.Off
		op.Typ = it.Typ
	} else if op.Deref {
		if v.Typ.Code != TypePtr {
			return nil, errors.Errorf("%s is not a pointer", v.Name)
		}
		op.Typ = v.Typ.Target
	}

	if op.Addr {
		ptr, found := ld.ptrTo[op.Typ]
		if !found {
			ptr = ld.intern(&Type{Code: TypePtr, Size: 8, Target: op.Typ})
			ld.ptrTo[op.Typ] = ptr
		}
		op.Typ = ptr
	}
	return op, nil
}
