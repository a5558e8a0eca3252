package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/rite/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[vm]
max-depth = 64
stack-size = 256
frame-capacity = 8
step-limit = 100000
check-interval = 16

[log]
verbosity = 2
file = "rite.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.VM.MaxDepth != 64 {
		t.Errorf("max-depth = %d, want 64", c.VM.MaxDepth)
	}
	if c.VM.StackSize != 256 {
		t.Errorf("stack-size = %d, want 256", c.VM.StackSize)
	}
	if c.VM.FrameCapacity != 8 {
		t.Errorf("frame-capacity = %d, want 8", c.VM.FrameCapacity)
	}
	if c.VM.StepLimit != 100000 {
		t.Errorf("step-limit = %d, want 100000", c.VM.StepLimit)
	}
	if c.VM.CheckInterval != 16 {
		t.Errorf("check-interval = %d, want 16", c.VM.CheckInterval)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if p := c.LogPath(); p == nil || *p != filepath.Join(c.Dir, "rite.log") {
		t.Errorf("LogPath = %v", p)
	}

	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[vm]
max-depth = 100
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d := vm.DefaultOptions()
	if c.VM.StackSize != d.StackSize {
		t.Errorf("stack-size = %d, want default %d", c.VM.StackSize, d.StackSize)
	}
	if c.LogPath() != nil {
		t.Errorf("LogPath = %q, want nil", *c.LogPath())
	}

	o := c.Options()
	if o.MaxDepth != 100 || o.CheckInterval != d.CheckInterval || o.Stdout == nil {
		t.Errorf("Options = %+v", o)
	}
}

func TestOptionsFillZeroLimits(t *testing.T) {
	c := &Config{VM: VMConfig{StepLimit: 5}}
	o := c.Options()
	d := vm.DefaultOptions()
	if o.MaxDepth != d.MaxDepth || o.StackSize != d.StackSize || o.FrameCapacity != d.FrameCapacity {
		t.Errorf("Options = %+v, want default limits", o)
	}
	if o.StepLimit != 5 {
		t.Errorf("StepLimit = %d, want 5", o.StepLimit)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":   "[vm\nmax-depth = 1",
		"unknown":  "[vm]\nmax-dpth = 1",
		"negative": "[vm]\nmax-depth = -1",
		"type":     "[vm]\nmax-depth = \"deep\"",
		"verbose":  "[log]\nverbosity = 9",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load succeeded")
			}
			if !strings.Contains(err.Error(), FileName) {
				t.Errorf("error %q does not name the file", err)
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without rite.toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[vm]\nmax-depth = 77\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil || c.VM.MaxDepth != 77 {
		t.Fatalf("config = %+v, want max-depth 77", c)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	// Temp dirs normally sit under a tree without rite.toml
	dir := t.TempDir()
	c, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if c != nil {
		t.Skipf("found a rite.toml above the temp dir in %s", c.Dir)
	}
}
