package exec_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plover-tools/plover/analysis/exec"
	"github.com/plover-tools/plover/analysis/plot"
	"github.com/plover-tools/plover/analysis/shape"
	"github.com/plover-tools/plover/testutil"
)

func analyze(t *testing.T, src, fnc string) (*exec.Engine, error) {
	t.Helper()
	return analyzeParams(t, src, fnc, exec.Params{Shape: shape.DefaultConfig})
}

func analyzeParams(t *testing.T, src, fnc string, params exec.Params) (*exec.Engine, error) {
	t.Helper()
	prog := testutil.LoadProgram(t, src)
	eng := exec.New(params)
	err := eng.ExecFnc(testutil.FncOf(t, prog, fnc))
	return eng, err
}

func expectClean(t *testing.T, eng *exec.Engine, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	if reps := eng.Reporter().Reports; len(reps) != 0 {
		t.Fatalf("unexpected defects:\n%s", testutil.Dump(reps))
	}
}

func expectReport(t *testing.T, eng *exec.Engine, kind exec.ErrorKind, line int) {
	t.Helper()
	for _, rep := range eng.Reporter().ByKind(kind) {
		if rep.Loc.Line == line {
			return
		}
	}
	t.Errorf("no %s report at line %d, got:\n%s",
		kind, line, testutil.Dump(eng.Reporter().Reports))
}

const nodeTypes = `
types:
  - name: node
    size: 16
    items:
      - {name: next, type: "*node", off: 0}
      - {name: data, type: "int", off: 8}
`

// An unbounded build loop followed by a full drain. The fixed point
// must close over lists of any length without reporting anything.
const sllBuildFree = nodeTypes + `
functions:
  - name: build_free
    vars:
      - {name: list, type: "*node"}
      - {name: p, type: "*node"}
      - {name: c, type: "int"}
    blocks:
      - name: entry
        insns:
          - assign: {dst: list, src: "null"}
            line: 1
          - goto: loop
            line: 2
      - name: loop
        insns:
          - call: {dst: c, fnc: nondet}
            line: 3
          - cond: {rel: ne, lhs: c, rhs: "0", then: push, else: drain}
            line: 4
      - name: push
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 5
          - assign: {dst: p->next, src: list}
            line: 6
          - assign: {dst: list, src: p}
            line: 7
          - goto: loop
            line: 8
            closes_loop: [0]
      - name: drain
        insns:
          - cond: {rel: ne, lhs: list, rhs: "null", then: pop, else: done}
            line: 9
      - name: pop
        insns:
          - assign: {dst: p, src: list}
            line: 10
          - assign: {dst: list, src: p->next}
            line: 11
          - call: {fnc: free, args: [p]}
            line: 12
          - goto: drain
            line: 13
            closes_loop: [0]
      - name: done
        insns:
          - ret: ""
            line: 14
`

func TestListBuildAndFree(t *testing.T) {
	eng, err := analyze(t, sllBuildFree, "build_free")
	expectClean(t, eng, err)
	if eng.Results().Len() == 0 {
		t.Errorf("no end states reached")
	}
}

func TestLeakAtOverwrite(t *testing.T) {
	eng, err := analyze(t, nodeTypes+`
functions:
  - name: leak
    vars: [{name: p, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 3
          - assign: {dst: p, src: "null"}
            line: 4
          - ret: ""
            line: 5
`, "leak")
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	expectReport(t, eng, exec.Leak, 4)
	if n := len(eng.Reporter().Reports); n != 1 {
		t.Errorf("%d reports, want only the leak:\n%s", n, testutil.Dump(eng.Reporter().Reports))
	}
}

func TestLeakAtAbort(t *testing.T) {
	eng, err := analyze(t, nodeTypes+`
functions:
  - name: bail
    vars: [{name: p, type: "*node"}, {name: q, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 3
          - assign: {dst: q, src: "null"}
            line: 4
          - assign: {dst: p, src: q}
            line: 5
          - abort: true
            line: 6
`, "bail")
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	expectReport(t, eng, exec.Leak, 5)
}

func TestNullDereference(t *testing.T) {
	eng, err := analyze(t, nodeTypes+`
functions:
  - name: oops
    vars: [{name: p, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - assign: {dst: p, src: "null"}
            line: 3
          - assign: {dst: p->next, src: "null"}
            line: 4
          - ret: ""
            line: 5
`, "oops")
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	expectReport(t, eng, exec.NullDeref, 4)
}

func TestUnknownDereference(t *testing.T) {
	eng, err := analyze(t, nodeTypes+`
functions:
  - name: wild
    vars: [{name: p, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - call: {dst: p, fnc: nondet}
            line: 3
          - assign: {dst: p->next, src: "null"}
            line: 4
          - ret: ""
            line: 5
`, "wild")
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	expectReport(t, eng, exec.InvalidDeref, 4)
}

func TestDoubleFree(t *testing.T) {
	eng, err := analyze(t, nodeTypes+`
functions:
  - name: twice
    vars: [{name: p, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 3
          - call: {fnc: free, args: [p]}
            line: 4
          - call: {fnc: free, args: [p]}
            line: 5
          - ret: ""
            line: 6
`, "twice")
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	expectReport(t, eng, exec.DoubleFree, 5)
}

// A pointer into the middle of a block must not be freed; shifting it
// back to the block's base must.
func TestFreeOfShiftedPointer(t *testing.T) {
	eng, err := analyze(t, `
types:
  - name: item
    size: 24
    items:
      - {name: refcnt, type: "int", off: 0}
      - {name: link, type: "*item", off: 8}
functions:
  - name: inner
    vars:
      - {name: o, type: "*item"}
      - {name: q, type: "*item"}
    blocks:
      - name: entry
        insns:
          - call: {dst: o, fnc: malloc, args: ["sizeof(item)"]}
            line: 2
          - assign: {dst: q, src: "o+8"}
            line: 3
          - call: {fnc: free, args: [q]}
            line: 4
          - call: {fnc: free, args: ["q-8"]}
            line: 5
          - ret: ""
            line: 6
`, "inner")
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	expectReport(t, eng, exec.DoubleFree, 4)
	if leaks := eng.Reporter().ByKind(exec.Leak); len(leaks) != 0 {
		t.Errorf("shifted free leaked the block:\n%s", testutil.Dump(leaks))
	}
	if n := len(eng.Reporter().Reports); n != 1 {
		t.Errorf("%d reports, want only the offset free:\n%s",
			n, testutil.Dump(eng.Reporter().Reports))
	}
}

const dllTypes = `
types:
  - name: dnode
    size: 24
    items:
      - {name: next, type: "*dnode", off: 0}
      - {name: prev, type: "*dnode", off: 8}
      - {name: data, type: "int", off: 16}
`

const dllBuildFree = dllTypes + `
functions:
  - name: dll
    vars:
      - {name: list, type: "*dnode"}
      - {name: p, type: "*dnode"}
      - {name: c, type: "int"}
    blocks:
      - name: entry
        insns:
          - assign: {dst: list, src: "null"}
            line: 1
          - goto: loop
            line: 2
      - name: loop
        insns:
          - call: {dst: c, fnc: nondet}
            line: 3
          - cond: {rel: ne, lhs: c, rhs: "0", then: push, else: drain}
            line: 4
      - name: push
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(dnode)"]}
            line: 5
          - assign: {dst: p->next, src: list}
            line: 6
          - assign: {dst: p->prev, src: "null"}
            line: 7
          - cond: {rel: ne, lhs: list, rhs: "null", then: linkback, else: setlist}
            line: 8
      - name: linkback
        insns:
          - assign: {dst: list->prev, src: p}
            line: 9
          - goto: setlist
            line: 10
      - name: setlist
        insns:
          - assign: {dst: list, src: p}
            line: 11
          - goto: loop
            line: 12
            closes_loop: [0]
      - name: drain
        insns:
          - cond: {rel: ne, lhs: list, rhs: "null", then: pop, else: done}
            line: 13
      - name: pop
        insns:
          - assign: {dst: p, src: list}
            line: 14
          - assign: {dst: list, src: p->next}
            line: 15
          - call: {fnc: free, args: [p]}
            line: 16
          - goto: fixprev
            line: 17
      - name: fixprev
        insns:
          - cond: {rel: ne, lhs: list, rhs: "null", then: dofix, else: drain}
            line: 18
            closes_loop: [1]
      - name: dofix
        insns:
          - assign: {dst: list->prev, src: "null"}
            line: 19
          - goto: drain
            line: 20
            closes_loop: [0]
      - name: done
        insns:
          - ret: ""
            line: 21
`

func TestDoublyLinkedBuildAndFree(t *testing.T) {
	eng, err := analyze(t, dllBuildFree, "dll")
	expectClean(t, eng, err)
	if eng.Results().Len() == 0 {
		t.Errorf("no end states reached")
	}
}

func TestPlotCallback(t *testing.T) {
	dir := t.TempDir()
	params := exec.Params{Shape: shape.DefaultConfig, Plotter: plot.New(dir)}
	eng, err := analyzeParams(t, nodeTypes+`
functions:
  - name: snap
    vars: [{name: p, type: "*node"}]
    blocks:
      - name: entry
        insns:
          - call: {dst: p, fnc: malloc, args: ["sizeof(node)"]}
            line: 3
          - call: {fnc: plot}
            line: 4
          - call: {fnc: free, args: [p]}
            line: 5
          - ret: ""
            line: 6
`, "snap", params)
	expectClean(t, eng, err)

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatalf("reading plot directory: %v", rerr)
	}
	var dots []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".dot" {
			dots = append(dots, e.Name())
		}
	}
	if len(dots) != 1 || !strings.HasPrefix(dots[0], "snapshot") {
		t.Errorf("plotted files %v, want one snapshot", dots)
	}
}
