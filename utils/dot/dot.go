package dot

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"github.com/goccy/go-graphviz"
)

const tmplCluster = `{{define "cluster" -}}
	{{printf "subgraph %q {" .}}
		{{printf "%s" .Attrs.Lines}}
		{{range .Nodes}}
		{{template "node" .}}
		{{- end}}
		{{range .Clusters}}
		{{template "cluster" .}}
		{{- end}}
	{{println "}" }}
{{- end}}`

const tmplEdge = `{{define "edge" -}}
	{{printf "%q -> %q [ %s ]" .From .To .Attrs}}
{{- end}}`

const tmplNode = `{{define "node" -}}
	{{printf "%q [ %s ]" .ID .Attrs}}
{{- end}}`

const tmplGraph = `digraph SymbolicHeap {
	label="{{.Title}}";
	labeljust="l";
	clusterrank="local";
	rankdir="{{or .Options.rankdir "TB"}}";

	node [fontname="Verdana" margin="0.05,0.0"];

	{{- range .Clusters}}
	{{template "cluster" .}}
	{{- end}}

	{{range .Nodes}}
	{{template "node" .}}
	{{- end}}

	{{- range .Edges}}
	{{template "edge" .}}
	{{- end}}
}
`

// Cluster is a subgraph holding nodes of a single heap object.
type Cluster struct {
	ID       string
	Clusters []*Cluster
	Nodes    []*Node
	Attrs    Attrs
}

func NewCluster(id string) *Cluster {
	return &Cluster{ID: id, Attrs: Attrs{}}
}

func (c *Cluster) String() string {
	return fmt.Sprintf("cluster_%s", c.ID)
}

// Node is a single dot node.
type Node struct {
	ID    string
	Attrs Attrs
}

func (n *Node) String() string {
	return n.ID
}

// Edge connects two dot nodes.
type Edge struct {
	From  *Node
	To    *Node
	Attrs Attrs
}

// Attrs maps dot attribute names to values.
type Attrs map[string]string

func (p Attrs) list() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	// deterministic output, or golden tests would flicker
	sort.Strings(keys)

	l := make([]string, 0, len(p))
	for _, k := range keys {
		l = append(l, fmt.Sprintf("%s=%q;", k, p[k]))
	}
	return l
}

func (p Attrs) String() string {
	return strings.Join(p.list(), " ")
}

func (p Attrs) Lines() string {
	return strings.Join(p.list(), "\n")
}

// Graph is a dot digraph assembled from clusters, free-standing nodes and
// edges.
type Graph struct {
	Title    string
	Clusters []*Cluster
	Nodes    []*Node
	Edges    []*Edge
	Options  map[string]string
}

func (g *Graph) WriteDot(w io.Writer) error {
	t := template.New("dot")
	t.Option("missingkey=zero")
	for _, s := range []string{tmplCluster, tmplNode, tmplEdge, tmplGraph} {
		if _, err := t.Parse(s); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, g); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// RenderImage converts dot source to an image file next to the given
// basename, returning the image path.
func RenderImage(basename, format string, src []byte) (string, error) {
	g := graphviz.New()
	graph, err := graphviz.ParseBytes(src)
	if err != nil {
		return "", err
	}
	defer func() {
		graph.Close()
		g.Close()
	}()

	img := fmt.Sprintf("%s.%s", basename, format)
	if err := g.RenderFilename(graph, graphviz.Format(format), img); err != nil {
		return "", err
	}
	return img, nil
}
