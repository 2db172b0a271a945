package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

func TestParse_Full(t *testing.T) {
	c, err := Parse(`
[memory]
size = 8192
heap = 2048
stack-direction = -1
heap-profile = "header8"

[run]
max-ticks = 1000
timeout = "250ms"

[log]
level = "debug"
json = "bbvm.log.json"
`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if c.Memory.Size != 8192 || c.Memory.Heap != 2048 || c.Memory.StackDirection != -1 {
		t.Errorf("memory = %+v", c.Memory)
	}
	if c.Memory.HeapProfile != "header8" {
		t.Errorf("heap profile = %q", c.Memory.HeapProfile)
	}
	if c.Run.MaxTicks != 1000 || c.Run.Timeout != 250*time.Millisecond {
		t.Errorf("run = %+v", c.Run)
	}
	level, err := c.LogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("log level = %v, %v", level, err)
	}
	if c.Log.JSON != "bbvm.log.json" {
		t.Errorf("log json = %q", c.Log.JSON)
	}
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse("[run]\nmax-ticks = 5\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := Default()
	if c.Memory != want.Memory {
		t.Errorf("memory = %+v, want defaults %+v", c.Memory, want.Memory)
	}
	if c.Run.MaxTicks != 5 {
		t.Errorf("max-ticks = %d", c.Run.MaxTicks)
	}
	if c.Log.Level != "warn" {
		t.Errorf("log level = %q", c.Log.Level)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"unknown key", "[memory]\nsize = 4096\ncolour = 3\n", ErrUnknownKey},
		{"unknown section", "[network]\nport = 1\n", ErrUnknownKey},
		{"zero memory", "[memory]\nsize = 0\n", ErrInvalid},
		{"heap fills memory", "[memory]\nsize = 100\nheap = 100\n", ErrInvalid},
		{"negative heap", "[memory]\nheap = -1\n", ErrInvalid},
		{"direction", "[memory]\nstack-direction = 2\n", ErrInvalid},
		{"heap profile", "[memory]\nheap-profile = \"header16\"\n", ErrInvalid},
		{"negative ticks", "[run]\nmax-ticks = -1\n", ErrInvalid},
		{"log level", "[log]\nlevel = \"loud\"\n", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Parse("[memory\nsize = 1"); err == nil {
		t.Error("expected a TOML syntax error")
	}
}

func TestOptions(t *testing.T) {
	c, err := Parse(`
[memory]
size = 1024
heap = 256
stack-direction = -1
heap-profile = "header8"
`)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := c.Options()
	if err != nil {
		t.Fatal(err)
	}
	p, err := vm.New([]vm.Instruction{vm.NewInstruction(vm.OpExit)}, opts...)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	if len(p.Memory) != 1024 {
		t.Errorf("memory size = %d", len(p.Memory))
	}
	if p.StackDirection() != -1 {
		t.Errorf("stack direction = %d", p.StackDirection())
	}

	mem, err := c.MemoryOptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(mem) != len(opts)-1 {
		t.Errorf("MemoryOptions returned %d options, Options %d", len(mem), len(opts))
	}
}

func TestLoadAndFind(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte("[run]\nmax-ticks = 42\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Run.MaxTicks != 42 {
		t.Errorf("max-ticks = %d", c.Run.MaxTicks)
	}
	if c.Path != path {
		t.Errorf("path = %q, want %q", c.Path, path)
	}

	if _, err := Load(filepath.Join(root, "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestFindAndLoad_NoFile(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// Some ancestor of the temp dir could carry a bbvm.toml; only check
	// that a usable configuration came back.
	if err := c.Validate(); err != nil {
		t.Errorf("configuration is invalid: %v", err)
	}
}
