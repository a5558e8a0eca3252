// Package config handles rite.toml engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/rite/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "rite.toml"

// Config represents a rite.toml file.
type Config struct {
	VM  VMConfig  `toml:"vm"`
	Log LogConfig `toml:"log"`

	// Dir is the directory containing the rite.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig sets engine limits. Zero values fall back to vm.DefaultOptions.
type VMConfig struct {
	MaxDepth      int    `toml:"max-depth"`
	StackSize     int    `toml:"stack-size"`
	FrameCapacity int    `toml:"frame-capacity"`
	StepLimit     uint64 `toml:"step-limit"`
	CheckInterval int    `toml:"check-interval"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no rite.toml exists.
func Default() *Config {
	d := vm.DefaultOptions()
	return &Config{
		VM: VMConfig{
			MaxDepth:      d.MaxDepth,
			StackSize:     d.StackSize,
			FrameCapacity: d.FrameCapacity,
			StepLimit:     d.StepLimit,
			CheckInterval: d.CheckInterval,
		},
	}
}

// Load parses rite.toml from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a rite.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	v := c.VM
	switch {
	case v.MaxDepth < 0:
		return fmt.Errorf("vm.max-depth must not be negative")
	case v.StackSize < 0:
		return fmt.Errorf("vm.stack-size must not be negative")
	case v.FrameCapacity < 0:
		return fmt.Errorf("vm.frame-capacity must not be negative")
	case v.CheckInterval < 0:
		return fmt.Errorf("vm.check-interval must not be negative")
	case c.Log.Verbosity < -4 || c.Log.Verbosity > 4:
		return fmt.Errorf("log.verbosity %d out of range", c.Log.Verbosity)
	}
	return nil
}

// Options converts the configuration to engine options. Unset limits take
// the engine defaults.
func (c *Config) Options() vm.Options {
	d := vm.DefaultOptions()
	o := vm.Options{
		MaxDepth:      c.VM.MaxDepth,
		StackSize:     c.VM.StackSize,
		FrameCapacity: c.VM.FrameCapacity,
		StepLimit:     c.VM.StepLimit,
		CheckInterval: c.VM.CheckInterval,
		Stdout:        d.Stdout,
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.StackSize == 0 {
		o.StackSize = d.StackSize
	}
	if o.FrameCapacity == 0 {
		o.FrameCapacity = d.FrameCapacity
	}
	if o.CheckInterval == 0 {
		o.CheckInterval = d.CheckInterval
	}
	return o
}

// LogPath returns the log file path resolved against Dir, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.File == "" {
		return nil
	}
	p := c.Log.File
	if !filepath.IsAbs(p) && c.Dir != "" {
		p = filepath.Join(c.Dir, p)
	}
	return &p
}
