package exec

import (
	"fmt"

	"github.com/plover-tools/plover/analysis/storage"
)

// ErrorKind classifies a defect found during execution.
type ErrorKind int

const (
	NullDeref ErrorKind = iota
	InvalidDeref
	DoubleFree
	Leak
	Contradiction
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case NullDeref:
		return "NULL_DEREF"
	case InvalidDeref:
		return "INVALID_DEREF"
	case DoubleFree:
		return "DOUBLE_FREE"
	case Leak:
		return "LEAK"
	case Contradiction:
		return "CONTRADICTION"
	case Internal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("exec.ErrorKind(%d)", int(k))
	}
}

// Report is one user-visible defect, attached to a source location.
type Report struct {
	Kind ErrorKind
	Loc  storage.Loc
	Msg  string
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %s: %s", r.Loc, r.Kind, r.Msg)
}

type reportKey struct {
	loc  storage.Loc
	kind ErrorKind
}

// Reporter collects defect reports, keeping at most one per source
// location and kind. Execution continues on the reporting heap.
type Reporter struct {
	seen    map[reportKey]bool
	Reports []Report
}

func NewReporter() *Reporter {
	return &Reporter{seen: map[reportKey]bool{}}
}

// Report records a defect unless one of the same kind was already
// seen at the location, reporting whether it was recorded.
func (r *Reporter) Report(kind ErrorKind, loc storage.Loc, format string, args ...interface{}) bool {
	key := reportKey{loc: loc, kind: kind}
	if r.seen[key] {
		return false
	}
	r.seen[key] = true
	r.Reports = append(r.Reports, Report{Kind: kind, Loc: loc, Msg: fmt.Sprintf(format, args...)})
	return true
}

// ByKind filters the collected reports.
func (r *Reporter) ByKind(kind ErrorKind) []Report {
	var out []Report
	for _, rep := range r.Reports {
		if rep.Kind == kind {
			out = append(out, rep)
		}
	}
	return out
}
