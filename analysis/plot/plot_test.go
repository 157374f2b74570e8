package plot_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/plover-tools/plover/analysis/heap"
	"github.com/plover-tools/plover/analysis/plot"
	"github.com/plover-tools/plover/analysis/storage"
	"github.com/plover-tools/plover/testutil"
)

func render(t *testing.T, sh *heap.SymHeap, title string) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := plot.WriteHeap(&buf, sh, title); err != nil {
		t.Fatalf("serializing heap: %v", err)
	}
	return buf.Bytes()
}

func TestWriteEmptyHeap(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "empty", render(t, heap.New(), "empty"))
}

func TestWriteSingleInt(t *testing.T) {
	intT := &storage.Type{UID: 5, Code: storage.TypeInt, Name: "int", Size: 8}
	x := &storage.Var{UID: 1, Name: "x", Typ: intT}
	sh := heap.New()
	o := sh.CreateVarObj(x)
	sh.WriteField(o, 0, intT, sh.NewCustom(heap.IntVal(42)))

	g := goldie.New(t)
	g.Assert(t, "one-int", render(t, sh, "one-int"))
}

func TestSegmentDecoration(t *testing.T) {
	l := testutil.NewList("node", "next")
	sh := heap.New()
	o := l.Chain(sh, 1, "next")[0]
	l.Anchor(sh, "x", o)
	sh.AbstractAsSeg(o, heap.KindSLS, heap.Binding{Head: 0, Next: l.Offs["next"]})
	if err := sh.AddNeq(sh.AddrOf(o, 0), heap.ValNull); err != nil {
		t.Fatalf("recording neq: %v", err)
	}

	out := string(render(t, sh, "seg"))
	for _, want := range []string{
		`penwidth="3.0"`, // abstract cluster outline
		"len>=1",
		`color="red"`, // SLS cluster and next selector
		`label="neq"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("serialized segment lacks %s:\n%s", want, out)
		}
	}
}

func TestEnumerator(t *testing.T) {
	e := plot.NewEnumerator()
	if got := e.Decorate("snapshot"); got != "snapshot-0000" {
		t.Errorf("first decoration is %q", got)
	}
	if got := e.Decorate("snapshot"); got != "snapshot-0001" {
		t.Errorf("second decoration is %q", got)
	}
	if got := e.Decorate("exit"); got != "exit-0000" {
		t.Errorf("fresh name decorated as %q", got)
	}
}
