// Package testutil provides the shared fixtures of the analysis tests:
// loading programs from inline YAML documents and building linked heap
// structures node by node.
package testutil

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
)

var dumper = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true}

// Dump renders a value for failure messages, with pointer addresses
// suppressed so runs stay comparable.
func Dump(v interface{}) string {
	return dumper.Sdump(v)
}

// LoadProgram parses an inline program document, failing the test on
// any front-end error.
func LoadProgram(t *testing.T, src string) *storage.Program {
	t.Helper()
	prog, err := storage.Load([]byte(src), t.Name()+".yml")
	if err != nil {
		t.Fatalf("loading program: %v", err)
	}
	return prog
}

// FncOf resolves a function by name, failing the test when absent.
func FncOf(t *testing.T, prog *storage.Program, name string) *storage.Fnc {
	t.Helper()
	fnc := prog.FncByName(name)
	if fnc == nil {
		t.Fatalf("program has no function %q", name)
	}
	return fnc
}

// nextUID hands out identifiers for hand-built types and variables.
// Starting high keeps them clear of loader-assigned ones.
var nextUID = 1000

func freshUID() int {
	nextUID++
	return nextUID
}

// List describes a hand-built list node type: the struct descriptor,
// its interned pointer type, and the byte offsets of its members by
// name, the pointer members and the data payload alike.
type List struct {
	Node *storage.Type
	Ptr  *storage.Type
	Offs map[string]int
}

// NewList builds a list node struct with the named self-referential
// pointer members at 8-byte strides, followed by an int payload member
// named data.
func NewList(name string, ptrFields ...string) *List {
	node := &storage.Type{UID: freshUID(), Code: storage.TypeStruct, Name: name}
	ptr := &storage.Type{UID: freshUID(), Code: storage.TypePtr, Size: 8, Target: node}
	intT := &storage.Type{UID: freshUID(), Code: storage.TypeInt, Name: "int", Size: 8}

	l := &List{Node: node, Ptr: ptr, Offs: map[string]int{}}
	off := 0
	for _, f := range ptrFields {
		node.Items = append(node.Items, storage.TypeItem{Name: f, Off: off, Typ: ptr})
		l.Offs[f] = off
		off += 8
	}
	node.Items = append(node.Items, storage.TypeItem{Name: "data", Off: off, Typ: intT})
	l.Offs["data"] = off
	node.Size = off + 8
	return l
}

// Anchor binds a fresh static pointer variable to o, keeping the chain
// reachable with exactly one incoming pointer at its head.
func (l *List) Anchor(sh *heap.SymHeap, name string, o heap.ObjID) *storage.Var {
	v := &storage.Var{UID: freshUID(), Name: name, Typ: l.Ptr}
	vo := sh.CreateVarObj(v)
	sh.WriteField(vo, 0, l.Ptr, sh.AddrOf(o, 0))
	return v
}

// Chain allocates n heap nodes linked front to back through the given
// next member and terminated with null, returning the ids front first.
func (l *List) Chain(sh *heap.SymHeap, n int, next string) []heap.ObjID {
	nodes := make([]heap.ObjID, n)
	for i := range nodes {
		nodes[i] = sh.CreateHeapObj(heap.Size(l.Node.Size), l.Node)
	}
	for i, o := range nodes {
		v := heap.ValNull
		if i+1 < n {
			v = sh.AddrOf(nodes[i+1], 0)
		}
		sh.WriteField(o, l.Offs[next], l.Ptr, v)
	}
	return nodes
}

// DChain allocates a doubly-linked chain: next links run front to back,
// prev links back to front, both ends terminated with null.
func (l *List) DChain(sh *heap.SymHeap, n int, next, prev string) []heap.ObjID {
	nodes := l.Chain(sh, n, next)
	for i, o := range nodes {
		v := heap.ValNull
		if i > 0 {
			v = sh.AddrOf(nodes[i-1], 0)
		}
		sh.WriteField(o, l.Offs[prev], l.Ptr, v)
	}
	return nodes
}
