package heap

import (
	"fmt"

	"github.com/benbjohnson/immutable"
)

// ValID identifies a value in its owning heap. Zero and negative ids
// are sentinels shared by all heaps; positive ids are arena indices.
type ValID int

const (
	ValNull    ValID = 0
	ValInvalid ValID = -1
	ValTrue    ValID = -2
)

func (v ValID) String() string {
	switch v {
	case ValNull:
		return "NULL"
	case ValInvalid:
		return "VAL_INVALID"
	case ValTrue:
		return "TRUE"
	default:
		return fmt.Sprintf("#%d", int(v))
	}
}

// ObjID identifies an object in its owning heap.
type ObjID int

const (
	ObjInvalid ObjID = -1
	ObjReturn  ObjID = -2
)

func (o ObjID) String() string {
	switch o {
	case ObjInvalid:
		return "OBJ_INVALID"
	case ObjReturn:
		return "OBJ_RETURN"
	default:
		return fmt.Sprintf("obj#%d", int(o))
	}
}

// Origin tags an unknown value with the operation that produced it.
type Origin int

const (
	OrAssigned Origin = iota
	OrUnknown
	OrReinterpret
	OrDerefFailed
	OrStack
	OrHeap
)

func (o Origin) String() string {
	switch o {
	case OrAssigned:
		return "assigned"
	case OrUnknown:
		return "unknown"
	case OrReinterpret:
		return "reinterpret"
	case OrDerefFailed:
		return "deref-failed"
	case OrStack:
		return "stack"
	case OrHeap:
		return "heap"
	default:
		return fmt.Sprintf("heap.Origin(%d)", int(o))
	}
}

// StorageClass classifies where an object lives.
type StorageClass int

const (
	ClassInvalid StorageClass = iota
	ClassUnknown
	ClassStatic
	ClassOnStack
	ClassOnHeap
)

func (c StorageClass) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassOnStack:
		return "on-stack"
	case ClassOnHeap:
		return "on-heap"
	case ClassUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Kind is the segment discriminator of an object.
type Kind int

const (
	KindRegion Kind = iota
	KindSLS
	KindDLS
	KindObjOrNull
	KindSeeThrough
	KindSeeThrough2N
)

func (k Kind) String() string {
	switch k {
	case KindRegion:
		return "region"
	case KindSLS:
		return "SLS"
	case KindDLS:
		return "DLS"
	case KindObjOrNull:
		return "OBJ_OR_NULL"
	case KindSeeThrough:
		return "see-through"
	case KindSeeThrough2N:
		return "see-through-2N"
	default:
		return fmt.Sprintf("heap.Kind(%d)", int(k))
	}
}

// IsAbstract reports whether objects of this kind summarize more than
// one concrete object.
func (k Kind) IsAbstract() bool {
	return k != KindRegion
}

// Binding describes how a segment's internal pointers are laid out:
// byte offsets of the node head within the enclosing object, of the
// next selector, and (DLS only) of the prev selector.
type Binding struct {
	Head int
	Next int
	Prev int
}

func (b Binding) String() string {
	return fmt.Sprintf("{head: %d, next: %d, prev: %d}", b.Head, b.Next, b.Prev)
}

// SizeRange bounds an object's size in bytes, lo <= hi.
type SizeRange struct {
	Lo int
	Hi int
}

func Size(n int) SizeRange {
	return SizeRange{Lo: n, Hi: n}
}

func (s SizeRange) Singular() bool {
	return s.Lo == s.Hi
}

// CustomKind discriminates custom (non-pointer) constants.
type CustomKind int

const (
	CustomInt CustomKind = iota
	CustomReal
	CustomFnc
	CustomStr
)

// Custom is the payload of a custom value.
type Custom struct {
	Kind CustomKind
	Int  int64
	Real float64
	Fnc  string
	Str  string
}

func IntVal(n int64) Custom     { return Custom{Kind: CustomInt, Int: n} }
func RealVal(r float64) Custom  { return Custom{Kind: CustomReal, Real: r} }
func FncVal(name string) Custom { return Custom{Kind: CustomFnc, Fnc: name} }
func StrVal(s string) Custom    { return Custom{Kind: CustomStr, Str: s} }

func (c Custom) String() string {
	switch c.Kind {
	case CustomInt:
		return fmt.Sprintf("%d", c.Int)
	case CustomReal:
		return fmt.Sprintf("%g", c.Real)
	case CustomFnc:
		return c.Fnc + "()"
	default:
		return fmt.Sprintf("%q", c.Str)
	}
}

// FieldKey addresses a live field within an object: the byte offset
// together with the interned uid of the field's type. Two fields with
// the same offset but different types are distinct (reinterpretation).
type FieldKey struct {
	Off     int
	TypeUID int
}

// Field is a fully qualified live field.
type Field struct {
	Obj ObjID
	Key FieldKey
}

func (f Field) String() string {
	return fmt.Sprintf("%s.+%d", f.Obj, f.Key.Off)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// The immutable sorted maps need explicit comparers: the library's
// default comparer only recognizes built-in key types, not defined
// ones like ValID.

type valIDComparer struct{}

func (valIDComparer) Compare(a, b ValID) int { return cmpInt(int(a), int(b)) }

type objIDComparer struct{}

func (objIDComparer) Compare(a, b ObjID) int { return cmpInt(int(a), int(b)) }

type intComparer struct{}

func (intComparer) Compare(a, b int) int { return cmpInt(a, b) }

type fieldComparer struct{}

func (fieldComparer) Compare(a, b Field) int {
	if c := cmpInt(int(a.Obj), int(b.Obj)); c != 0 {
		return c
	}
	if c := cmpInt(a.Key.Off, b.Key.Off); c != 0 {
		return c
	}
	return cmpInt(a.Key.TypeUID, b.Key.TypeUID)
}

type addrKey struct {
	obj ObjID
	off int
}

type addrComparer struct{}

func (addrComparer) Compare(a, b addrKey) int {
	if c := cmpInt(int(a.obj), int(b.obj)); c != 0 {
		return c
	}
	return cmpInt(a.off, b.off)
}

type usedByKey struct {
	val   ValID
	field Field
}

type usedByComparer struct{}

func (usedByComparer) Compare(a, b usedByKey) int {
	if c := cmpInt(int(a.val), int(b.val)); c != 0 {
		return c
	}
	return fieldComparer{}.Compare(a.field, b.field)
}

type neqKey struct {
	lo ValID
	hi ValID
}

func mkNeqKey(a, b ValID) neqKey {
	if a > b {
		a, b = b, a
	}
	return neqKey{lo: a, hi: b}
}

type neqComparer struct{}

func (neqComparer) Compare(a, b neqKey) int {
	if c := cmpInt(int(a.lo), int(b.lo)); c != 0 {
		return c
	}
	return cmpInt(int(a.hi), int(b.hi))
}

type customKey struct {
	kind CustomKind
	i    int64
	r    float64
	s    string
}

func mkCustomKey(c Custom) customKey {
	k := customKey{kind: c.Kind}
	switch c.Kind {
	case CustomInt:
		k.i = c.Int
	case CustomReal:
		k.r = c.Real
	case CustomFnc:
		k.s = c.Fnc
	default:
		k.s = c.Str
	}
	return k
}

type customComparer struct{}

func (customComparer) Compare(a, b customKey) int {
	if c := cmpInt(int(a.kind), int(b.kind)); c != 0 {
		return c
	}
	if a.i != b.i {
		if a.i < b.i {
			return -1
		}
		return 1
	}
	if a.r != b.r {
		if a.r < b.r {
			return -1
		}
		return 1
	}
	switch {
	case a.s < b.s:
		return -1
	case a.s > b.s:
		return 1
	default:
		return 0
	}
}

var (
	_ immutable.Comparer[ValID]     = valIDComparer{}
	_ immutable.Comparer[ObjID]     = objIDComparer{}
	_ immutable.Comparer[int]       = intComparer{}
	_ immutable.Comparer[Field]     = fieldComparer{}
	_ immutable.Comparer[addrKey]   = addrComparer{}
	_ immutable.Comparer[usedByKey] = usedByComparer{}
	_ immutable.Comparer[neqKey]    = neqComparer{}
	_ immutable.Comparer[customKey] = customComparer{}
)
