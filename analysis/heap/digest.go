package heap

import (
	"math"

	"github.com/plover-tools/plover/utils"
)

// digester folds the structure Eq would traverse into a single hash.
// Values and objects are keyed by their discovery index rather than
// their arena id, so the result is stable under the renamings Eq
// tolerates.
type digester struct {
	h    *SymHeap
	vals map[ValID]uint32
	objs map[ObjID]uint32
	que  []ValID
	sum  uint32
}

// Digest returns a hash that agrees on isomorphic heaps: Eq(h1, h2)
// implies h1.Digest() == h2.Digest(). The union uses it to skip the
// full isomorphism check against non-matching candidates.
func (h *SymHeap) Digest() uint32 {
	d := &digester{
		h:    h,
		vals: map[ValID]uint32{},
		objs: map[ObjID]uint32{},
	}
	for _, uid := range h.Vars() {
		d.mix(uint32(uid))
		o, _ := h.VarObjByUID(uid)
		d.obj(o)
	}
	d.ref(h.retVal)
	for len(d.que) > 0 {
		v := d.que[0]
		d.que = d.que[1:]
		d.entry(v)
	}
	d.mix(uint32(h.neqs.Len()))
	return d.sum
}

func (d *digester) mix(hs ...uint32) {
	d.sum = utils.HashCombine(append([]uint32{d.sum}, hs...)...)
}

// ref folds a value reference: sentinels by identity, arena values by
// discovery index, queuing each one once for a structural fold.
func (d *digester) ref(v ValID) {
	if v <= 0 {
		d.mix(0x5e, uint32(int32(v)))
		return
	}
	idx, ok := d.vals[v]
	if !ok {
		idx = uint32(len(d.vals))
		d.vals[v] = idx
		d.que = append(d.que, v)
	}
	d.mix(0xa1, idx)
}

func (d *digester) entry(v ValID) {
	e, ok := d.h.vals.Get(v)
	if !ok {
		d.mix(0)
		return
	}
	switch e.code {
	case valUnknown:
		d.mix(1, uint32(e.origin))
	case valCustom:
		d.mix(2, uint32(e.custom.Kind),
			uint32(e.custom.Int), uint32(e.custom.Int>>32))
		bits := math.Float64bits(e.custom.Real)
		d.mix(uint32(bits), uint32(bits>>32))
		d.str(e.custom.Fnc)
		d.str(e.custom.Str)
	default:
		d.mix(3, uint32(e.off))
		d.obj(e.obj)
	}
}

// obj folds the object's attributes, fields and uniform blocks the
// first time it is seen, its discovery index afterwards.
func (d *digester) obj(o ObjID) {
	if idx, ok := d.objs[o]; ok {
		d.mix(0xb2, idx)
		return
	}
	idx := uint32(len(d.objs))
	d.objs[o] = idx
	d.mix(0xc3, idx)

	if o <= ObjInvalid || o == 0 {
		d.mix(uint32(int32(o)))
		return
	}
	e, ok := d.h.objs.Get(o)
	if !ok {
		d.mix(0)
		return
	}
	valid := uint32(0)
	if e.valid {
		valid = 1
	}
	d.mix(valid, uint32(e.class), uint32(e.kind),
		uint32(e.size.Lo), uint32(e.size.Hi), uint32(e.proto))
	if e.typ != nil {
		d.mix(uint32(e.typ.UID))
	} else {
		d.mix(0)
	}
	if e.kind.IsAbstract() {
		d.mix(uint32(e.bind.Head), uint32(e.bind.Next),
			uint32(e.bind.Prev), uint32(e.minLen))
	}
	if e.v != nil {
		d.mix(uint32(e.v.UID))
	} else {
		d.mix(0)
	}

	for _, f := range d.h.LiveFields(o) {
		d.mix(uint32(f.Key.Off), uint32(f.Key.TypeUID))
		fv, _ := d.h.FieldVal(f)
		d.ref(fv)
	}
	for _, b := range d.h.UniformBlocks(o) {
		d.mix(uint32(b[0]), uint32(b[1]))
		d.ref(ValID(b[2]))
	}
}

func (d *digester) str(s string) {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h = (h ^ uint32(s[i])) * 16777619
	}
	d.mix(h)
}
