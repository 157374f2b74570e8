package main

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/exec"
	"github.com/plover-tools/plover/analysis/fixpoint"
	"github.com/plover-tools/plover/analysis/plot"
	"github.com/plover-tools/plover/analysis/shape"
	"github.com/plover-tools/plover/analysis/storage"
)

// pipeline runs the per-function analysis over a loaded program.
type pipeline struct {
	prog *storage.Program
	conf Config
}

// fncResult is the outcome of analyzing one function.
type fncResult struct {
	fnc     *storage.Fnc
	reports []exec.Report
	global  *fixpoint.GlobalState
	err     error
}

// analyzeFnc executes one function to its fixed point and assembles
// the global state. Every call uses a fresh engine, so workers never
// share mutable state.
func (p pipeline) analyzeFnc(fnc *storage.Fnc) fncResult {
	params := exec.Params{
		Shape: shape.Config{EnableSLS: p.conf.EnableSLS, EnableDLS: p.conf.EnableDLS},
	}
	if p.conf.PlotDir != "" {
		plotter := plot.New(p.conf.PlotDir)
		plotter.Format = p.conf.PlotFormat
		params.Plotter = plotter
	}

	eng := exec.New(params)
	res := fncResult{fnc: fnc}
	res.err = eng.ExecFnc(fnc)
	res.reports = eng.Reporter().Reports
	if res.err == nil {
		res.global = fixpoint.ComputeStateOf(fnc, eng.States().StateMap())
	}
	return res
}

// run analyzes every function, optionally in parallel. Results come
// back in program order regardless of scheduling.
func (p pipeline) run() []fncResult {
	fncs := p.prog.Fncs
	results := make([]fncResult, len(fncs))

	workers := p.conf.Parallel
	if workers < 1 {
		workers = 1
	}
	if workers > len(fncs) {
		workers = len(fncs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.analyzeFnc(fncs[i])
			}
		}()
	}
	for i := range fncs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			log.Errorf("pipeline: %v", res.err)
		}
	}
	return results
}
