// Package trace maintains the proof graph recording how each symbolic
// heap was derived. Nodes form a DAG with parent links only; heaps hold
// a reference to their current node and the fixed-point assembler walks
// ancestor chains to reconstruct edges between locations.
package trace

import (
	"fmt"

	"github.com/plover-tools/plover/analysis/storage"
)

type Kind int

const (
	KindRoot Kind = iota
	KindInsn
	KindClone
	KindAbstraction
	KindConcretization
	KindSpliceOut
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindInsn:
		return "insn"
	case KindClone:
		return "clone"
	case KindAbstraction:
		return "abstraction"
	case KindConcretization:
		return "concretization"
	case KindSpliceOut:
		return "splice-out"
	default:
		return fmt.Sprintf("trace.Kind(%d)", int(k))
	}
}

// Node is one derivation step. Nodes never link to their children, so a
// drained branch of the exploration is collected once the last heap
// referencing it is dropped.
type Node struct {
	kind    Kind
	parents []*Node
	insn    *storage.Insn

	// idMap records object renames performed by this step, as old
	// object id to new object id. Only abstraction, concretization and
	// splice-out steps rename objects.
	idMap map[int]int
}

func NewRoot() *Node {
	return &Node{kind: KindRoot}
}

func NewInsn(parent *Node, insn *storage.Insn) *Node {
	return &Node{kind: KindInsn, parents: []*Node{parent}, insn: insn}
}

func NewClone(parent *Node) *Node {
	return &Node{kind: KindClone, parents: []*Node{parent}}
}

func NewAbstraction(parent *Node) *Node {
	return &Node{kind: KindAbstraction, parents: []*Node{parent}}
}

func NewConcretization(parent *Node) *Node {
	return &Node{kind: KindConcretization, parents: []*Node{parent}}
}

func NewSpliceOut(parent *Node) *Node {
	return &Node{kind: KindSpliceOut, parents: []*Node{parent}}
}

func (n *Node) Kind() Kind { return n.kind }

func (n *Node) Insn() *storage.Insn { return n.insn }

// Parent returns the primary parent, nil for the root.
func (n *Node) Parent() *Node {
	if len(n.parents) == 0 {
		return nil
	}
	return n.parents[0]
}

func (n *Node) Parents() []*Node { return n.parents }

// AddParent links an additional derivation source, used when two
// exploration branches produce the same heap.
func (n *Node) AddParent(p *Node) {
	n.parents = append(n.parents, p)
}

// MapObj records that this step renamed object old to object new.
func (n *Node) MapObj(old, new int) {
	if n.idMap == nil {
		n.idMap = map[int]int{}
	}
	n.idMap[old] = new
}

// Waive undoes a clone step: when a cloned heap turns out to be a plain
// value copy rather than a fork, the clone node is dropped and the heap
// keeps sharing the parent node.
func (n *Node) Waive() *Node {
	if n.kind == KindClone {
		return n.Parent()
	}
	return n
}

// pathTo finds a parent path from n up to anc, breadth-first, returning
// it ordered from anc down to n. The second result is false when anc is
// not an ancestor of n.
func pathTo(n, anc *Node) ([]*Node, bool) {
	type item struct {
		node *Node
		prev *item
	}
	seen := map[*Node]struct{}{n: {}}
	queue := []*item{{node: n}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.node == anc {
			var path []*Node
			for ; it != nil; it = it.prev {
				path = append(path, it.node)
			}
			return path, true
		}
		for _, p := range it.node.parents {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			queue = append(queue, &item{node: p, prev: it})
		}
	}
	return nil, false
}

// ResolveIDMapping composes the object renames of every step between
// anc and desc, returning a map from anc-side object ids to desc-side
// object ids. Objects never renamed map to themselves implicitly and do
// not appear in the result.
func ResolveIDMapping(anc, desc *Node) (map[int]int, bool) {
	path, ok := pathTo(desc, anc)
	if !ok {
		return nil, false
	}
	acc := map[int]int{}
	mid := map[int]bool{}
	for _, step := range path {
		if step == anc {
			continue
		}
		if len(step.idMap) == 0 {
			continue
		}
		// rewrite accumulated targets through this step first
		for src, dst := range acc {
			if to, ok := step.idMap[dst]; ok {
				acc[src] = to
			}
		}
		for old, new := range step.idMap {
			// ids minted by an earlier step are not anc-side ids
			if mid[old] {
				continue
			}
			if _, ok := acc[old]; !ok {
				acc[old] = new
			}
		}
		for _, new := range step.idMap {
			mid[new] = true
		}
	}
	return acc, true
}
