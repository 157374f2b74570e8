// Package heap implements the symbolic heap: a typed graph of values
// and objects over-approximating a set of concrete program heaps, with
// list segments summarizing repetitive pointer structures. It also
// provides the isomorphism check and the deduplicating state union the
// executor inserts into.
//
// All relations (live fields, address interning, usedBy, disequalities)
// live in persistent sorted maps, so cloning a heap is a constant-time
// struct copy with full structural sharing. Mutators rebuild only the
// touched paths.
package heap

import (
	"math"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"

	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/analysis/trace"
)

// InternalError marks a contract violation inside the engine. The
// executor recovers it at the function boundary and flags the result as
// unreliable; it is never a defect of the analyzed program.
type InternalError struct {
	Err error
}

func (e InternalError) Error() string {
	return "internal: " + e.Err.Error()
}

func internalf(format string, args ...interface{}) {
	panic(InternalError{Err: errors.Errorf(format, args...)})
}

type valCode int

const (
	valUnknown valCode = iota
	valPtr
	valCustom
	valComposite
)

type valEntry struct {
	code   valCode
	obj    ObjID // pointer target root, or composite object
	off    int
	origin Origin
	custom Custom
}

type objEntry struct {
	class StorageClass
	kind  Kind
	bind  Binding
	// minLen is the lower bound on represented concrete nodes; for
	// regions it is pinned at 1.
	minLen int
	proto  int
	size   SizeRange
	typ    *storage.Type
	v      *storage.Var
	valid  bool
}

type ublock struct {
	size int
	tpl  ValID
}

// SymHeap is one symbolic program state. Heaps are logical value types:
// clone on fork, mutate in place.
type SymHeap struct {
	vals    *immutable.SortedMap[ValID, valEntry]
	objs    *immutable.SortedMap[ObjID, objEntry]
	fields  *immutable.SortedMap[Field, ValID]
	addrs   *immutable.SortedMap[addrKey, ValID]
	ublocks *immutable.SortedMap[addrKey, ublock]
	used    *immutable.SortedMap[usedByKey, struct{}]
	usedCnt *immutable.SortedMap[ValID, int]
	neqs    *immutable.SortedMap[neqKey, struct{}]
	vars    *immutable.SortedMap[int, ObjID]
	customs *immutable.SortedMap[customKey, ValID]
	types   *immutable.SortedMap[int, *storage.Type]

	nextVal ValID
	nextObj ObjID
	retVal  ValID

	node *trace.Node
}

// New creates an empty heap rooted at a fresh trace node.
func New() *SymHeap {
	return &SymHeap{
		vals:    immutable.NewSortedMap[ValID, valEntry](valIDComparer{}),
		objs:    immutable.NewSortedMap[ObjID, objEntry](objIDComparer{}),
		fields:  immutable.NewSortedMap[Field, ValID](fieldComparer{}),
		addrs:   immutable.NewSortedMap[addrKey, ValID](addrComparer{}),
		ublocks: immutable.NewSortedMap[addrKey, ublock](addrComparer{}),
		used:    immutable.NewSortedMap[usedByKey, struct{}](usedByComparer{}),
		usedCnt: immutable.NewSortedMap[ValID, int](valIDComparer{}),
		neqs:    immutable.NewSortedMap[neqKey, struct{}](neqComparer{}),
		vars:    immutable.NewSortedMap[int, ObjID](intComparer{}),
		customs: immutable.NewSortedMap[customKey, ValID](customComparer{}),
		types:   immutable.NewSortedMap[int, *storage.Type](intComparer{}),
		nextVal: 1,
		nextObj: 1,
		retVal:  ValInvalid,
		node:    trace.NewRoot(),
	}
}

// Clone returns an independent copy sharing all internal structure.
// The copy is linked to the original through a clone trace node; waive
// it if the copy replaces the original instead of forking it.
func (h *SymHeap) Clone() *SymHeap {
	dup := *h
	dup.node = trace.NewClone(h.node)
	return &dup
}

func (h *SymHeap) TraceNode() *trace.Node { return h.node }

func (h *SymHeap) SetTraceNode(n *trace.Node) { h.node = n }

// WaiveClone drops the pending clone trace node, keeping the parent's.
func (h *SymHeap) WaiveClone() { h.node = h.node.Waive() }

func (h *SymHeap) val(v ValID) valEntry {
	e, ok := h.vals.Get(v)
	if !ok {
		internalf("no such value: %s", v)
	}
	return e
}

func (h *SymHeap) obj(o ObjID) objEntry {
	e, ok := h.objs.Get(o)
	if !ok {
		internalf("no such object: %s", o)
	}
	return e
}

func (h *SymHeap) newVal(e valEntry) ValID {
	v := h.nextVal
	h.nextVal++
	h.vals = h.vals.Set(v, e)
	return v
}

// NewUnknown mints a fresh unknown value of the given origin. Unknowns
// are equal only to themselves.
func (h *SymHeap) NewUnknown(origin Origin) ValID {
	return h.newVal(valEntry{code: valUnknown, origin: origin})
}

// NewCustom interns a custom constant; identical payloads share a
// value id.
func (h *SymHeap) NewCustom(c Custom) ValID {
	key := mkCustomKey(c)
	if v, ok := h.customs.Get(key); ok {
		return v
	}
	v := h.newVal(valEntry{code: valCustom, custom: c})
	h.customs = h.customs.Set(key, v)
	return v
}

// ValCustom returns the payload of a custom value.
func (h *SymHeap) ValCustom(v ValID) (Custom, bool) {
	if v <= 0 {
		return Custom{}, false
	}
	e := h.val(v)
	if e.code != valCustom {
		return Custom{}, false
	}
	return e.custom, true
}

// ValOrigin returns the origin tag of an unknown value.
func (h *SymHeap) ValOrigin(v ValID) (Origin, bool) {
	if v <= 0 {
		return 0, false
	}
	e := h.val(v)
	if e.code != valUnknown {
		return 0, false
	}
	return e.origin, true
}

// IsUnknown reports whether v is an unknown value.
func (h *SymHeap) IsUnknown(v ValID) bool {
	_, ok := h.ValOrigin(v)
	return ok
}

// TargetOf decomposes a pointer value into its root object and offset.
func (h *SymHeap) TargetOf(v ValID) (ObjID, int, bool) {
	if v <= 0 {
		return ObjInvalid, 0, false
	}
	e := h.val(v)
	if e.code != valPtr {
		return ObjInvalid, 0, false
	}
	return e.obj, e.off, true
}

// AddrOf interns the address of o at the given byte offset: calling
// twice with the same pair yields the same value id. The address of a
// destroyed object is ValInvalid.
func (h *SymHeap) AddrOf(o ObjID, off int) ValID {
	if o == ObjInvalid {
		return ValInvalid
	}
	if !h.obj(o).valid {
		return ValInvalid
	}
	key := addrKey{obj: o, off: off}
	if v, ok := h.addrs.Get(key); ok {
		return v
	}
	v := h.newVal(valEntry{code: valPtr, obj: o, off: off})
	h.addrs = h.addrs.Set(key, v)
	return v
}

// ObjValid reports whether o refers to a live object.
func (h *SymHeap) ObjValid(o ObjID) bool {
	if o <= ObjInvalid || o == 0 {
		return false
	}
	e, ok := h.objs.Get(o)
	return ok && e.valid
}

func (h *SymHeap) createObj(e objEntry) ObjID {
	o := h.nextObj
	h.nextObj++
	e.valid = true
	if e.minLen == 0 && e.kind == KindRegion {
		e.minLen = 1
	}
	h.objs = h.objs.Set(o, e)
	return o
}

// CreateHeapObj allocates a fresh heap-class region of the given size.
func (h *SymHeap) CreateHeapObj(size SizeRange, typ *storage.Type) ObjID {
	return h.createObj(objEntry{class: ClassOnHeap, kind: KindRegion, size: size, typ: typ})
}

// CreateVarObj allocates the object backing a program variable. The
// object is static for globals and stack-class otherwise, and is
// registered in the variable index.
func (h *SymHeap) CreateVarObj(v *storage.Var) ObjID {
	class := ClassStatic
	if v.Fnc != nil {
		class = ClassOnStack
	}
	size := 0
	if v.Typ != nil {
		size = v.Typ.Size
	}
	o := h.createObj(objEntry{class: class, kind: KindRegion, size: Size(size), typ: v.Typ, v: v})
	h.vars = h.vars.Set(v.UID, o)
	return o
}

// VarObj finds the object backing the variable with the given uid,
// creating it on first use.
func (h *SymHeap) VarObj(v *storage.Var) ObjID {
	if o, ok := h.vars.Get(v.UID); ok {
		return o
	}
	return h.CreateVarObj(v)
}

// ObjVar returns the program variable backing o, nil for anonymous
// objects.
func (h *SymHeap) ObjVar(o ObjID) *storage.Var {
	return h.obj(o).v
}

// Vars lists the uids of all bound program variables in ascending
// order.
func (h *SymHeap) Vars() []int {
	uids := make([]int, 0, h.vars.Len())
	it := h.vars.Iterator()
	for !it.Done() {
		uid, _, _ := it.Next()
		uids = append(uids, uid)
	}
	return uids
}

// VarObjByUID resolves a bound variable uid to its object.
func (h *SymHeap) VarObjByUID(uid int) (ObjID, bool) {
	return h.vars.Get(uid)
}

// Objs lists all live objects in ascending id order.
func (h *SymHeap) Objs() []ObjID {
	var out []ObjID
	it := h.objs.Iterator()
	for !it.Done() {
		o, e, _ := it.Next()
		if e.valid {
			out = append(out, o)
		}
	}
	return out
}

// Destroy invalidates o: its live fields are dropped, its variable
// binding removed, and its address becomes invalid on subsequent
// queries. Pointers stored elsewhere keep dangling at o.
func (h *SymHeap) Destroy(o ObjID) {
	e := h.obj(o)
	if !e.valid {
		internalf("double destroy of %s", o)
	}
	for _, f := range h.LiveFields(o) {
		h.dropField(f)
	}
	it := h.ublocks.Iterator()
	it.Seek(addrKey{obj: o, off: math.MinInt})
	for !it.Done() {
		k, _, _ := it.Next()
		if k.obj != o {
			break
		}
		h.ublocks = h.ublocks.Delete(k)
	}
	if e.v != nil {
		h.vars = h.vars.Delete(e.v.UID)
	}
	e.valid = false
	e.class = ClassInvalid
	e.v = nil
	h.objs = h.objs.Set(o, e)
}

// --- live fields -----------------------------------------------------

func (h *SymHeap) addUse(v ValID, f Field) {
	h.used = h.used.Set(usedByKey{val: v, field: f}, struct{}{})
	n, _ := h.usedCnt.Get(v)
	h.usedCnt = h.usedCnt.Set(v, n+1)
}

func (h *SymHeap) delUse(v ValID, f Field) {
	h.used = h.used.Delete(usedByKey{val: v, field: f})
	n, _ := h.usedCnt.Get(v)
	if n <= 1 {
		h.usedCnt = h.usedCnt.Delete(v)
	} else {
		h.usedCnt = h.usedCnt.Set(v, n-1)
	}
}

// UsedByCount counts the live fields whose stored value is exactly v.
func (h *SymHeap) UsedByCount(v ValID) int {
	n, _ := h.usedCnt.Get(v)
	return n
}

// UsedBy lists the live fields storing v, in deterministic order.
func (h *SymHeap) UsedBy(v ValID) []Field {
	var out []Field
	it := h.used.Iterator()
	it.Seek(usedByKey{val: v, field: Field{Obj: ObjID(math.MinInt)}})
	for !it.Done() {
		k, _, _ := it.Next()
		if k.val != v {
			break
		}
		out = append(out, k.field)
	}
	return out
}

// LiveFields lists o's live fields in (offset, type) order.
func (h *SymHeap) LiveFields(o ObjID) []Field {
	var out []Field
	it := h.fields.Iterator()
	it.Seek(Field{Obj: o, Key: FieldKey{Off: math.MinInt}})
	for !it.Done() {
		f, _, _ := it.Next()
		if f.Obj != o {
			break
		}
		out = append(out, f)
	}
	return out
}

// FieldVal reads the value stored in a live field.
func (h *SymHeap) FieldVal(f Field) (ValID, bool) {
	return h.fields.Get(f)
}

func (h *SymHeap) dropField(f Field) {
	v, ok := h.fields.Get(f)
	if !ok {
		return
	}
	h.delUse(v, f)
	h.fields = h.fields.Delete(f)
}

func (h *SymHeap) setField(f Field, v ValID) {
	if old, ok := h.fields.Get(f); ok {
		if old == v {
			return
		}
		h.delUse(old, f)
	}
	h.fields = h.fields.Set(f, v)
	h.addUse(v, f)
}

func typeSize(typ *storage.Type) int {
	if typ == nil {
		return 0
	}
	return typ.Size
}

// typeUID keys live fields by their interned type. The front-end
// guarantees structural identity, so the uid fully determines the type.
func typeUID(typ *storage.Type) int {
	if typ == nil {
		return 0
	}
	return typ.UID
}

func (h *SymHeap) internType(typ *storage.Type) {
	if typ == nil {
		return
	}
	if _, ok := h.types.Get(typ.UID); !ok {
		h.types = h.types.Set(typ.UID, typ)
	}
}

// FieldType resolves the type a live field was accessed with, nil for
// untyped accesses.
func (h *SymHeap) FieldType(f Field) *storage.Type {
	typ, _ := h.types.Get(f.Key.TypeUID)
	return typ
}

func overlap(aOff, aSize, bOff, bSize int) bool {
	return aOff < bOff+bSize && bOff < aOff+aSize
}

// ReadField reads o's field at the given offset and type. Missing
// fields are materialized lazily as fresh unknowns whose origin follows
// the storage class; reads crossing differently-typed live fields
// produce a reinterpretation unknown.
func (h *SymHeap) ReadField(o ObjID, off int, typ *storage.Type) ValID {
	h.internType(typ)
	e := h.obj(o)
	if !e.valid {
		return h.NewUnknown(OrDerefFailed)
	}
	key := Field{Obj: o, Key: FieldKey{Off: off, TypeUID: typeUID(typ)}}
	if v, ok := h.fields.Get(key); ok {
		return v
	}
	size := typeSize(typ)
	for _, f := range h.LiveFields(o) {
		if overlap(off, size, f.Key.Off, h.fieldSize(f)) {
			return h.NewUnknown(OrReinterpret)
		}
	}
	if tpl, ok := h.ublockAt(o, off, size); ok {
		h.setField(key, tpl)
		return tpl
	}
	var v ValID
	switch e.class {
	case ClassOnHeap:
		v = h.NewUnknown(OrHeap)
	case ClassOnStack:
		v = h.NewUnknown(OrStack)
	case ClassStatic:
		// static storage is zero-initialized
		v = ValNull
	default:
		v = h.NewUnknown(OrUnknown)
	}
	h.setField(key, v)
	return v
}

func (h *SymHeap) fieldSize(f Field) int {
	return typeSize(h.FieldType(f))
}

// WriteField stores v into o's field at the given offset and type,
// invalidating any live field the write overlaps and puncturing
// overlapped uniform blocks.
func (h *SymHeap) WriteField(o ObjID, off int, typ *storage.Type, v ValID) {
	h.internType(typ)
	e := h.obj(o)
	if !e.valid {
		internalf("write into destroyed object %s", o)
	}
	if v == ValInvalid {
		internalf("write of VAL_INVALID into %s", o)
	}
	size := typeSize(typ)
	key := Field{Obj: o, Key: FieldKey{Off: off, TypeUID: typeUID(typ)}}
	for _, f := range h.LiveFields(o) {
		if f == key {
			continue
		}
		if overlap(off, size, f.Key.Off, h.fieldSize(f)) {
			h.dropField(f)
		}
	}
	h.punctureUBlocks(o, off, size)
	h.setField(key, v)
}

// --- uniform blocks --------------------------------------------------

// WriteUniformBlock fills [off, off+size) of o with the template value,
// the compact form of zeroed or memset regions. Overlapped live fields
// are dropped.
func (h *SymHeap) WriteUniformBlock(o ObjID, off, size int, tpl ValID) {
	if !h.obj(o).valid {
		internalf("uniform write into destroyed object %s", o)
	}
	for _, f := range h.LiveFields(o) {
		if overlap(off, size, f.Key.Off, h.fieldSize(f)) {
			h.dropField(f)
		}
	}
	h.punctureUBlocks(o, off, size)
	h.ublocks = h.ublocks.Set(addrKey{obj: o, off: off}, ublock{size: size, tpl: tpl})
}

// UniformBlocks lists o's uniform blocks as (off, size, template).
func (h *SymHeap) UniformBlocks(o ObjID) [][3]int {
	var out [][3]int
	it := h.ublocks.Iterator()
	it.Seek(addrKey{obj: o, off: math.MinInt})
	for !it.Done() {
		k, b, _ := it.Next()
		if k.obj != o {
			break
		}
		out = append(out, [3]int{k.off, b.size, int(b.tpl)})
	}
	return out
}

func (h *SymHeap) ublockAt(o ObjID, off, size int) (ValID, bool) {
	it := h.ublocks.Iterator()
	it.Seek(addrKey{obj: o, off: math.MinInt})
	for !it.Done() {
		k, b, _ := it.Next()
		if k.obj != o {
			break
		}
		if k.off <= off && off+size <= k.off+b.size {
			return b.tpl, true
		}
	}
	return ValInvalid, false
}

func (h *SymHeap) punctureUBlocks(o ObjID, off, size int) {
	type rem struct {
		off int
		b   ublock
	}
	var drop []addrKey
	var add []rem
	it := h.ublocks.Iterator()
	it.Seek(addrKey{obj: o, off: math.MinInt})
	for !it.Done() {
		k, b, _ := it.Next()
		if k.obj != o {
			break
		}
		if !overlap(off, size, k.off, b.size) {
			continue
		}
		drop = append(drop, k)
		if k.off < off {
			add = append(add, rem{off: k.off, b: ublock{size: off - k.off, tpl: b.tpl}})
		}
		if end := k.off + b.size; end > off+size {
			add = append(add, rem{off: off + size, b: ublock{size: end - (off + size), tpl: b.tpl}})
		}
	}
	for _, k := range drop {
		h.ublocks = h.ublocks.Delete(k)
	}
	for _, r := range add {
		h.ublocks = h.ublocks.Set(addrKey{obj: o, off: r.off}, r.b)
	}
}

// --- object attributes -----------------------------------------------

func (h *SymHeap) ObjClass(o ObjID) StorageClass { return h.obj(o).class }

func (h *SymHeap) ObjKind(o ObjID) Kind { return h.obj(o).kind }

func (h *SymHeap) ObjSize(o ObjID) SizeRange { return h.obj(o).size }

// EstType returns the front-end type estimate for o, possibly nil.
func (h *SymHeap) EstType(o ObjID) *storage.Type { return h.obj(o).typ }

// SetEstType refines the type estimate, as done after a cast of a
// freshly allocated block.
func (h *SymHeap) SetEstType(o ObjID, typ *storage.Type) {
	e := h.obj(o)
	e.typ = typ
	h.objs = h.objs.Set(o, e)
}

func (h *SymHeap) ObjBinding(o ObjID) Binding { return h.obj(o).bind }

func (h *SymHeap) MinLength(o ObjID) int { return h.obj(o).minLen }

func (h *SymHeap) SetMinLength(o ObjID, n int) {
	e := h.obj(o)
	if e.kind == KindRegion && n != 1 {
		internalf("region %s cannot have min-length %d", o, n)
	}
	if n < 0 {
		n = 0
	}
	e.minLen = n
	h.objs = h.objs.Set(o, e)
}

func (h *SymHeap) ProtoLevel(o ObjID) int { return h.obj(o).proto }

func (h *SymHeap) SetProtoLevel(o ObjID, lvl int) {
	e := h.obj(o)
	e.proto = lvl
	h.objs = h.objs.Set(o, e)
}

// IsAbstract reports whether o is a list segment or other summary
// object.
func (h *SymHeap) IsAbstract(o ObjID) bool {
	return h.obj(o).kind.IsAbstract()
}

// AbstractAsSeg transitions a concrete region into a segment of the
// given kind with min-length 1.
func (h *SymHeap) AbstractAsSeg(o ObjID, kind Kind, bind Binding) {
	e := h.obj(o)
	if !e.valid {
		internalf("abstracting destroyed object %s", o)
	}
	if !kind.IsAbstract() {
		internalf("abstracting %s as non-abstract kind %s", o, kind)
	}
	if e.kind != KindRegion {
		internalf("abstracting non-region %s of kind %s", o, e.kind)
	}
	e.kind = kind
	e.bind = bind
	e.minLen = 1
	h.objs = h.objs.Set(o, e)
}

// MakeRegion turns a segment back into a concrete region, the final
// move of a one-step unrolling.
func (h *SymHeap) MakeRegion(o ObjID) {
	e := h.obj(o)
	e.kind = KindRegion
	e.bind = Binding{}
	e.minLen = 1
	h.objs = h.objs.Set(o, e)
}

// ValueAtOff reads the value stored at the given offset of o
// regardless of the field's type, ValInvalid when no live field sits
// exactly there. A field holding a pointer or NULL wins over other
// same-offset fields.
func (h *SymHeap) ValueAtOff(o ObjID, off int) ValID {
	found := ValID(ValInvalid)
	for _, f := range h.LiveFields(o) {
		if f.Key.Off != off {
			continue
		}
		v, _ := h.fields.Get(f)
		if found == ValInvalid {
			found = v
		}
		if _, _, isPtr := h.TargetOf(v); isPtr || v == ValNull {
			return v
		}
	}
	return found
}

// fieldAtOff finds o's live field at exactly the given offset.
func (h *SymHeap) fieldAtOff(o ObjID, off int) (Field, bool) {
	for _, f := range h.LiveFields(o) {
		if f.Key.Off == off {
			return f, true
		}
	}
	return Field{}, false
}

// WriteAtOff overwrites the live field at the given offset, keeping
// its type key. A missing field is created untyped.
func (h *SymHeap) WriteAtOff(o ObjID, off int, v ValID) {
	if f, ok := h.fieldAtOff(o, off); ok {
		h.setField(f, v)
		return
	}
	h.WriteField(o, off, nil, v)
}

// PeerOf returns the opposite end of a DLS, or o itself for any other
// kind. The peer link is the pointer at the prev selector offset.
func (h *SymHeap) PeerOf(o ObjID) ObjID {
	e := h.obj(o)
	if e.kind != KindDLS {
		return o
	}
	v := h.ValueAtOff(o, e.bind.Prev)
	peer, off, ok := h.TargetOf(v)
	if !ok || off != 0 {
		internalf("DLS %s has no peer link at offset %d", o, e.bind.Prev)
	}
	return peer
}

// NextValOf reads the segment's outward pointer, the value stored at
// its next selector offset.
func (h *SymHeap) NextValOf(o ObjID) ValID {
	return h.ValueAtOff(o, h.obj(o).bind.Next)
}

// DoesAnyonePointInside reports whether any live field stores a
// pointer into o at a non-zero offset.
func (h *SymHeap) DoesAnyonePointInside(o ObjID) bool {
	it := h.addrs.Iterator()
	it.Seek(addrKey{obj: o, off: math.MinInt})
	for !it.Done() {
		k, v, _ := it.Next()
		if k.obj != o {
			break
		}
		if k.off != 0 && h.UsedByCount(v) > 0 {
			return true
		}
	}
	return false
}

// --- replacement -----------------------------------------------------

// ValReplace substitutes every occurrence of old with new across all
// live fields, uniform-block templates and disequality predicates.
func (h *SymHeap) ValReplace(old, new ValID) {
	if old == new {
		return
	}
	for _, f := range h.UsedBy(old) {
		h.setField(f, new)
	}
	var blocks []addrKey
	it := h.ublocks.Iterator()
	for !it.Done() {
		k, b, _ := it.Next()
		if b.tpl == old {
			blocks = append(blocks, k)
		}
	}
	for _, k := range blocks {
		b, _ := h.ublocks.Get(k)
		b.tpl = new
		h.ublocks = h.ublocks.Set(k, b)
	}
	if h.retVal == old {
		h.retVal = new
	}
	h.replaceInNeqs(old, new)
}

// ObjReplace redirects every pointer into old toward the same offset
// of new, then destroys old. Both must be live roots.
func (h *SymHeap) ObjReplace(old, new ObjID) {
	if !h.ObjValid(old) || !h.ObjValid(new) {
		internalf("obj-replace over destroyed object: %s -> %s", old, new)
	}
	var offs []int
	it := h.addrs.Iterator()
	it.Seek(addrKey{obj: old, off: math.MinInt})
	for !it.Done() {
		k, _, _ := it.Next()
		if k.obj != old {
			break
		}
		offs = append(offs, k.off)
	}
	for _, off := range offs {
		from, _ := h.addrs.Get(addrKey{obj: old, off: off})
		h.ValReplace(from, h.AddrOf(new, off))
	}
	h.Destroy(old)
}

// ObjDup clones o into a fresh object with the same attributes, live
// fields and uniform blocks. The variable binding is not duplicated.
func (h *SymHeap) ObjDup(o ObjID) ObjID {
	e := h.obj(o)
	if !e.valid {
		internalf("duplicating destroyed object %s", o)
	}
	ne := e
	ne.v = nil
	dup := h.createObj(ne)
	for _, f := range h.LiveFields(o) {
		v, _ := h.fields.Get(f)
		h.setField(Field{Obj: dup, Key: f.Key}, v)
	}
	it := h.ublocks.Iterator()
	it.Seek(addrKey{obj: o, off: math.MinInt})
	var blocks []struct {
		off int
		b   ublock
	}
	for !it.Done() {
		k, b, _ := it.Next()
		if k.obj != o {
			break
		}
		blocks = append(blocks, struct {
			off int
			b   ublock
		}{k.off, b})
	}
	for _, bl := range blocks {
		h.ublocks = h.ublocks.Set(addrKey{obj: dup, off: bl.off}, bl.b)
	}
	return dup
}

// --- return value ----------------------------------------------------

func (h *SymHeap) SetRetVal(v ValID) { h.retVal = v }

func (h *SymHeap) RetVal() ValID { return h.retVal }
