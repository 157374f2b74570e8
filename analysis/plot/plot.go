// Package plot serializes symbolic heaps to Graphviz dot, one file
// per snapshot, for offline inspection of the analysis.
package plot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/utils/dot"
)

// Enumerator decorates snapshot names with a per-name counter so that
// repeated plots of the same point never overwrite each other.
type Enumerator struct {
	counts map[string]int
}

func NewEnumerator() *Enumerator {
	return &Enumerator{counts: map[string]int{}}
}

// Decorate returns name suffixed with its next ordinal.
func (e *Enumerator) Decorate(name string) string {
	n := e.counts[name]
	e.counts[name]++
	return fmt.Sprintf("%s-%04d", name, n)
}

// Plotter writes heap snapshots into a directory. When Format is
// non-empty every dot file is also rendered to an image.
type Plotter struct {
	Dir    string
	Format string

	enum *Enumerator
}

func New(dir string) *Plotter {
	return &Plotter{Dir: dir, enum: NewEnumerator()}
}

// Plot serializes the heap under a decorated name and returns the
// path of the written dot file.
func (p *Plotter) Plot(sh *heap.SymHeap, name string) (string, error) {
	decorated := p.enum.Decorate(name)
	path := filepath.Join(p.Dir, decorated+".dot")
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "creating plot file")
	}
	defer f.Close()
	if err := WriteHeap(f, sh, decorated); err != nil {
		return "", errors.Wrapf(err, "plotting %s", decorated)
	}
	log.Debugf("plot: wrote %s", path)

	if p.Format != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return "", errors.Wrap(err, "re-reading plot file")
		}
		base := filepath.Join(p.Dir, decorated)
		if _, err := dot.RenderImage(base, p.Format, src); err != nil {
			return "", errors.Wrapf(err, "rendering %s", decorated)
		}
	}
	return path, nil
}

// WriteHeap serializes one heap as a dot digraph.
func WriteHeap(w io.Writer, sh *heap.SymHeap, title string) error {
	return Build(sh, title).WriteDot(w)
}

func objNodeID(o heap.ObjID) string {
	return fmt.Sprintf("obj%d", int(o))
}

func fieldNodeID(f heap.Field) string {
	return fmt.Sprintf("obj%d.%d.%d", int(f.Obj), f.Key.Off, f.Key.TypeUID)
}

func valNodeID(v heap.ValID) string {
	return fmt.Sprintf("val%d", int(v))
}

func clusterColor(sh *heap.SymHeap, o heap.ObjID) string {
	switch sh.ObjKind(o) {
	case heap.KindSLS:
		return "red"
	case heap.KindDLS:
		return "gold"
	case heap.KindObjOrNull, heap.KindSeeThrough, heap.KindSeeThrough2N:
		return "green"
	}
	switch sh.ObjClass(o) {
	case heap.ClassOnStack, heap.ClassStatic:
		return "blue"
	case heap.ClassOnHeap:
		return "black"
	default:
		return "red"
	}
}

func objLabel(sh *heap.SymHeap, o heap.ObjID) string {
	label := fmt.Sprintf("%s %s %s", o, sh.ObjKind(o), sh.ObjClass(o))
	if v := sh.ObjVar(o); v != nil {
		label += " " + v.String()
	}
	if sh.IsAbstract(o) {
		label += fmt.Sprintf(" len>=%d", sh.MinLength(o))
	}
	if lvl := sh.ProtoLevel(o); lvl != 0 {
		label += fmt.Sprintf(" proto:%d", lvl)
	}
	return label
}

func valAttrs(sh *heap.SymHeap, v heap.ValID) dot.Attrs {
	attrs := dot.Attrs{
		"shape":    "ellipse",
		"penwidth": fmt.Sprintf("%d", 1+sh.UsedByCount(v)),
		"label":    v.String(),
	}
	if c, ok := sh.ValCustom(v); ok {
		switch c.Kind {
		case heap.CustomInt, heap.CustomReal:
			attrs["fontcolor"] = "red"
		case heap.CustomStr:
			attrs["fontcolor"] = "blue"
		case heap.CustomFnc:
			attrs["fontcolor"] = "green"
		}
		attrs["label"] = c.String()
		return attrs
	}
	if origin, ok := sh.ValOrigin(v); ok {
		attrs["label"] = fmt.Sprintf("%s (%s)", v, origin)
	}
	return attrs
}

// Build assembles the dot graph: objects as clusters of field boxes,
// values as ellipses, plus pointer, usage and neq edges.
func Build(sh *heap.SymHeap, title string) *dot.Graph {
	g := &dot.Graph{Title: title, Options: map[string]string{"rankdir": "LR"}}

	vals := map[heap.ValID]bool{}
	noteVal := func(v heap.ValID) {
		if v != heap.ValInvalid {
			vals[v] = true
		}
	}

	for _, o := range sh.Objs() {
		kind := sh.ObjKind(o)
		bind := sh.ObjBinding(o)

		cl := dot.NewCluster(objNodeID(o))
		cl.Attrs["label"] = objLabel(sh, o)
		cl.Attrs["color"] = clusterColor(sh, o)
		if sh.IsAbstract(o) {
			cl.Attrs["penwidth"] = "3.0"
		}

		head := &dot.Node{ID: objNodeID(o), Attrs: dot.Attrs{
			"shape": "box",
			"style": "bold",
			"label": fmt.Sprintf("%s [%s]", o, sh.EstType(o)),
		}}
		cl.Nodes = append(cl.Nodes, head)

		for _, f := range sh.LiveFields(o) {
			typ := sh.FieldType(f)
			style := "dotted"
			if typ != nil && typ.Code == storage.TypePtr {
				style = "solid"
			}
			fn := &dot.Node{ID: fieldNodeID(f), Attrs: dot.Attrs{
				"shape": "box",
				"style": style,
				"label": fmt.Sprintf("+%d [%s]", f.Key.Off, typ),
			}}
			if kind.IsAbstract() {
				switch f.Key.Off {
				case bind.Next:
					fn.Attrs["color"] = "red"
				case bind.Prev:
					if kind == heap.KindDLS {
						fn.Attrs["color"] = "gold"
					}
				}
			}
			cl.Nodes = append(cl.Nodes, fn)

			v, _ := sh.FieldVal(f)
			noteVal(v)
			eattrs := dot.Attrs{}
			if kind.IsAbstract() && f.Key.Off == bind.Next {
				eattrs["color"] = "red"
			} else if kind == heap.KindDLS && f.Key.Off == bind.Prev {
				eattrs["color"] = "gold"
			}
			g.Edges = append(g.Edges, &dot.Edge{From: fn, To: &dot.Node{ID: valNodeID(v)}, Attrs: eattrs})
		}
		g.Clusters = append(g.Clusters, cl)
	}

	for _, pair := range sh.NeqPairs() {
		noteVal(pair[0])
		noteVal(pair[1])
	}
	if rv := sh.RetVal(); rv != heap.ValNull {
		noteVal(rv)
	}

	ordered := make([]heap.ValID, 0, len(vals))
	for v := range vals {
		ordered = append(ordered, v)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, v := range ordered {
		g.Nodes = append(g.Nodes, &dot.Node{ID: valNodeID(v), Attrs: valAttrs(sh, v)})
		if tgt, off, ok := sh.TargetOf(v); ok && sh.ObjValid(tgt) {
			attrs := dot.Attrs{"style": "dashed"}
			if off != 0 {
				attrs["label"] = fmt.Sprintf("+%d", off)
			}
			g.Edges = append(g.Edges, &dot.Edge{
				From:  &dot.Node{ID: valNodeID(v)},
				To:    &dot.Node{ID: objNodeID(tgt)},
				Attrs: attrs,
			})
		}
	}

	for _, pair := range sh.NeqPairs() {
		g.Edges = append(g.Edges, &dot.Edge{
			From: &dot.Node{ID: valNodeID(pair[0])},
			To:   &dot.Node{ID: valNodeID(pair[1])},
			Attrs: dot.Attrs{
				"style":     "dashed",
				"color":     "red",
				"label":     "neq",
				"fontcolor": "gold",
			},
		})
	}
	return g
}
