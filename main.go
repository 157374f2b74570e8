// Command plover analyzes heap-manipulating programs given as
// three-address code: it symbolically executes every function over
// symbolic heaps with list-segment abstraction and reports memory
// safety defects.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/plover-tools/plover/analysis/exec"
	"github.com/plover-tools/plover/analysis/storage"
)

func parseArgs() (Config, string) {
	conf := DefaultConfig()

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	confPath := fs.String("config", "", "YAML config file")
	conf.registerFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] <program.yml>\n", os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if *confPath != "" {
		loaded, err := LoadConfig(*confPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		conf = loaded
		// flags given explicitly win over the file
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "sls":
				conf.EnableSLS = f.Value.String() == "true"
			case "dls":
				conf.EnableDLS = f.Value.String() == "true"
			case "plot-dir":
				conf.PlotDir = f.Value.String()
			case "plot-format":
				conf.PlotFormat = f.Value.String()
			case "parallel":
				fmt.Sscanf(f.Value.String(), "%d", &conf.Parallel)
			case "timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					conf.Timeout = d
				}
			case "verbose":
				conf.Verbose = f.Value.String() == "true"
			}
		})
	}

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	return conf, fs.Arg(0)
}

func colorize(kind exec.ErrorKind) func(format string, a ...interface{}) string {
	switch kind {
	case exec.Leak:
		return color.YellowString
	case exec.Internal:
		return color.HiRedString
	case exec.Contradiction:
		return color.MagentaString
	default:
		return color.RedString
	}
}

func printReports(results []fncResult) int {
	defects := 0
	for _, res := range results {
		for _, rep := range res.reports {
			defects++
			fmt.Printf("%s: %s: %s [%s]\n",
				rep.Loc, colorize(rep.Kind)("%s", rep.Kind), rep.Msg,
				color.CyanString(res.fnc.Name))
		}
	}
	return defects
}

func main() {
	conf, progPath := parseArgs()

	if conf.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if conf.Timeout > 0 {
		time.AfterFunc(conf.Timeout, func() {
			log.Fatalf("wall-clock budget of %s exceeded, aborting", conf.Timeout)
		})
	}
	if conf.PlotDir != "" {
		if err := os.MkdirAll(conf.PlotDir, 0o755); err != nil {
			log.Fatalf("creating plot directory: %v", err)
		}
	}

	src, err := os.ReadFile(progPath)
	if err != nil {
		log.Fatalf("reading program: %v", err)
	}
	prog, err := storage.Load(src, progPath)
	if err != nil {
		log.Fatalf("loading program: %v", err)
	}

	results := pipeline{prog: prog, conf: conf}.run()

	if defects := printReports(results); defects > 0 {
		fmt.Printf("%s: %d defect(s) found\n", color.RedString("FAIL"), defects)
		os.Exit(1)
	}
	fmt.Println(color.GreenString("OK") + ": no defects found")
}
