package main

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config tunes one analyzer run. Fields map 1:1 onto the YAML config
// file and onto command-line flags; flags given explicitly win over
// the file.
type Config struct {
	EnableSLS  bool          `yaml:"enable-sls"`
	EnableDLS  bool          `yaml:"enable-dls"`
	PlotDir    string        `yaml:"plot-dir"`
	PlotFormat string        `yaml:"plot-format"`
	Parallel   int           `yaml:"parallel"`
	Timeout    time.Duration `yaml:"timeout"`
	Verbose    bool          `yaml:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		EnableSLS: true,
		EnableDLS: true,
		Parallel:  1,
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	src, err := os.ReadFile(path)
	if err != nil {
		return conf, errors.Wrap(err, "reading config")
	}
	if err := yaml.UnmarshalStrict(src, &conf); err != nil {
		return conf, errors.Wrapf(err, "parsing config %s", path)
	}
	return conf, nil
}

// registerFlags binds the config fields to flags, using the current
// values as defaults.
func (c *Config) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.EnableSLS, "sls", c.EnableSLS, "abstract singly-linked list segments")
	fs.BoolVar(&c.EnableDLS, "dls", c.EnableDLS, "abstract doubly-linked list segments")
	fs.StringVar(&c.PlotDir, "plot-dir", c.PlotDir, "directory for heap plots (empty disables plotting)")
	fs.StringVar(&c.PlotFormat, "plot-format", c.PlotFormat, "also render plots to this image format (e.g. svg)")
	fs.IntVar(&c.Parallel, "parallel", c.Parallel, "number of functions analyzed in parallel")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "wall-clock budget for the whole run (0 disables)")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "enable debug logging")
}
