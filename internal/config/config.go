// Package config handles bbvm.toml processor configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "bbvm.toml"

// Common errors
var (
	ErrUnknownKey = errors.New("unknown configuration key")
	ErrInvalid    = errors.New("invalid configuration")
)

// Config represents a bbvm.toml file.
type Config struct {
	Memory Memory `toml:"memory"`
	Run    Run    `toml:"run"`
	Log    Log    `toml:"log"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

// Memory configures the processor's memory layout.
type Memory struct {
	Size           int    `toml:"size"`
	Heap           int    `toml:"heap"`
	StackDirection int    `toml:"stack-direction"`
	HeapProfile    string `toml:"heap-profile"`
}

// Run configures execution limits.
type Run struct {
	MaxTicks int64         `toml:"max-ticks"`
	Timeout  time.Duration `toml:"timeout"`
}

// Log configures the CLI logger.
type Log struct {
	Level string `toml:"level"`
	JSON  string `toml:"json"` // optional path of a JSON log file
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Memory: Memory{
			Size:           vm.DefaultMemorySize,
			Heap:           vm.DefaultHeapSize,
			StackDirection: 1,
			HeapProfile:    vm.HeapProfile32.String(),
		},
		Log: Log{Level: "warn"},
	}
}

// Parse decodes TOML text over the defaults. Unknown keys are an error.
func Parse(text string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// FindAndLoad walks up from startDir looking for bbvm.toml. When none is
// found it returns the defaults.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges. The memory layout itself is checked again
// by vm.New.
func (c *Config) Validate() error {
	switch {
	case c.Memory.Size <= 0:
		return fmt.Errorf("%w: memory.size must be positive, got %d", ErrInvalid, c.Memory.Size)
	case c.Memory.Heap < 0:
		return fmt.Errorf("%w: memory.heap must not be negative, got %d", ErrInvalid, c.Memory.Heap)
	case c.Memory.Heap >= c.Memory.Size:
		return fmt.Errorf("%w: memory.heap %d leaves no stack in %d bytes", ErrInvalid, c.Memory.Heap, c.Memory.Size)
	case c.Memory.StackDirection != 1 && c.Memory.StackDirection != -1:
		return fmt.Errorf("%w: memory.stack-direction must be 1 or -1, got %d", ErrInvalid, c.Memory.StackDirection)
	case c.Run.MaxTicks < 0:
		return fmt.Errorf("%w: run.max-ticks must not be negative", ErrInvalid)
	case c.Run.Timeout < 0:
		return fmt.Errorf("%w: run.timeout must not be negative", ErrInvalid)
	}
	if _, err := vm.ParseHeapProfile(c.Memory.HeapProfile); err != nil {
		return fmt.Errorf("%w: memory.heap-profile: %v", ErrInvalid, err)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return level, nil
}

// MemoryOptions converts the memory section to processor options.
func (c *Config) MemoryOptions() ([]vm.Option, error) {
	profile, err := vm.ParseHeapProfile(c.Memory.HeapProfile)
	if err != nil {
		return nil, err
	}
	return []vm.Option{
		vm.MemorySize(c.Memory.Size),
		vm.HeapSize(c.Memory.Heap),
		vm.StackDirection(c.Memory.StackDirection),
		vm.WithHeapProfile(profile),
	}, nil
}

// Options converts the memory and run sections to processor options.
func (c *Config) Options() ([]vm.Option, error) {
	opts, err := c.MemoryOptions()
	if err != nil {
		return nil, err
	}
	return append(opts, vm.MaxTicks(c.Run.MaxTicks)), nil
}
