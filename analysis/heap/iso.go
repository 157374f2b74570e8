package heap

import "github.com/plover-tools/plover/utils/worklist"

type valPair struct {
	v1 ValID
	v2 ValID
}

// isoCtx carries the partial bijections built while proving two heaps
// isomorphic: values onto values and objects onto objects, maintained
// in both directions.
type isoCtx struct {
	h1, h2   *SymHeap
	v12, v21 map[ValID]ValID
	o12, o21 map[ObjID]ObjID
	wl       *worklist.Worklist[valPair]
}

// Eq reports whether two heaps are isomorphic modulo a bijective
// renaming of value identifiers.
func Eq(h1, h2 *SymHeap) bool {
	if h1 == h2 {
		return true
	}
	if h1.vars.Len() != h2.vars.Len() || h1.neqs.Len() != h2.neqs.Len() {
		return false
	}

	ctx := &isoCtx{
		h1: h1, h2: h2,
		v12: map[ValID]ValID{}, v21: map[ValID]ValID{},
		o12: map[ObjID]ObjID{}, o21: map[ObjID]ObjID{},
		wl: worklist.Empty[valPair](),
	}

	uids := h1.Vars()
	for i, uid := range h2.Vars() {
		if i >= len(uids) || uids[i] != uid {
			return false
		}
	}
	for _, uid := range uids {
		o1, _ := h1.VarObjByUID(uid)
		o2, _ := h2.VarObjByUID(uid)
		if !ctx.matchObjs(o1, o2) {
			return false
		}
	}
	if !ctx.schedule(h1.retVal, h2.retVal) {
		return false
	}

	for {
		p, ok := ctx.wl.Next()
		if !ok {
			break
		}
		if !ctx.matchPair(p.v1, p.v2) {
			return false
		}
	}
	return ctx.matchPreds()
}

// schedule binds (v1, v2) in the value mapping and queues the pair for
// a structural check. Sentinels must match by identity.
func (c *isoCtx) schedule(v1, v2 ValID) bool {
	if v1 <= 0 || v2 <= 0 {
		return v1 == v2
	}
	if m, ok := c.v12[v1]; ok {
		return m == v2
	}
	if m, ok := c.v21[v2]; ok {
		return m == v1
	}
	c.v12[v1] = v2
	c.v21[v2] = v1
	c.wl.Schedule(valPair{v1: v1, v2: v2})
	return true
}

func (c *isoCtx) matchPair(v1, v2 ValID) bool {
	e1, ok1 := c.h1.lookup(v1)
	e2, ok2 := c.h2.lookup(v2)
	if !ok1 || !ok2 || e1.code != e2.code {
		return false
	}
	switch e1.code {
	case valUnknown:
		return e1.origin == e2.origin
	case valCustom:
		return e1.custom == e2.custom
	default:
		if e1.off != e2.off {
			return false
		}
		return c.matchObjs(e1.obj, e2.obj)
	}
}

func (c *isoCtx) matchObjs(o1, o2 ObjID) bool {
	if m, ok := c.o12[o1]; ok {
		return m == o2
	}
	if m, ok := c.o21[o2]; ok {
		return m == o1
	}
	c.o12[o1] = o2
	c.o21[o2] = o1

	e1 := c.h1.obj(o1)
	e2 := c.h2.obj(o2)
	if e1.valid != e2.valid || e1.class != e2.class || e1.kind != e2.kind {
		return false
	}
	if e1.size != e2.size || e1.typ != e2.typ || e1.proto != e2.proto {
		return false
	}
	if e1.kind.IsAbstract() && (e1.bind != e2.bind || e1.minLen != e2.minLen) {
		return false
	}
	switch {
	case e1.v == nil && e2.v != nil, e1.v != nil && e2.v == nil:
		return false
	case e1.v != nil && e1.v.UID != e2.v.UID:
		return false
	}

	f1 := c.h1.LiveFields(o1)
	f2 := c.h2.LiveFields(o2)
	if len(f1) != len(f2) {
		return false
	}
	for i := range f1 {
		if f1[i].Key != f2[i].Key {
			return false
		}
		a, _ := c.h1.FieldVal(f1[i])
		b, _ := c.h2.FieldVal(f2[i])
		if !c.schedule(a, b) {
			return false
		}
	}

	b1 := c.h1.UniformBlocks(o1)
	b2 := c.h2.UniformBlocks(o2)
	if len(b1) != len(b2) {
		return false
	}
	for i := range b1 {
		if b1[i][0] != b2[i][0] || b1[i][1] != b2[i][1] {
			return false
		}
		if !c.schedule(ValID(b1[i][2]), ValID(b2[i][2])) {
			return false
		}
	}
	return true
}

// matchPreds checks the disequality sets: equal cardinality was
// verified up front, and every predicate of h1 whose values are both
// covered by the bijection must appear in h2.
func (c *isoCtx) matchPreds() bool {
	for _, p := range c.h1.NeqPairs() {
		a, aOK := c.mapVal(p[0])
		b, bOK := c.mapVal(p[1])
		if !aOK || !bOK {
			continue
		}
		if !c.h2.HasNeq(a, b) {
			return false
		}
	}
	return true
}

func (c *isoCtx) mapVal(v ValID) (ValID, bool) {
	if v <= 0 {
		return v, true
	}
	m, ok := c.v12[v]
	return m, ok
}
