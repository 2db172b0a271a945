package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/BBpezsgo/Interpreter-sub015/internal/config"
	"github.com/BBpezsgo/Interpreter-sub015/internal/logging"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/compiler"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/embed"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/repl"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// execFlags are shared by run, exec and profile.
type execFlags struct {
	config   string
	maxTicks int64
	timeout  time.Duration
	input    string
	report   string
	logLevel string
	logJSON  string
	verbose  bool
	value    bool
}

func (f *execFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "configuration file (default: nearest "+config.FileName+")")
	fs.Int64Var(&f.maxTicks, "max-ticks", -1, "instruction budget, 0 for unlimited (default: from config)")
	fs.DurationVar(&f.timeout, "timeout", -1, "wall clock limit, 0 for none (default: from config)")
	fs.StringVar(&f.input, "input", "", "text queued for the stdin built-in")
	fs.StringVar(&f.report, "report", "", "write a JSON run report to this file")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (default: from config)")
	fs.StringVar(&f.logJSON, "log-json", "", "also append JSON log records to this file")
	fs.BoolVar(&f.verbose, "v", false, "verbose output")
	fs.BoolVar(&f.value, "value", false, "print RAX when the program exits")
}

// loadConfig reads the configuration for the program at path and applies
// the command line overrides.
func (f *execFlags) loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.config != "" {
		cfg, err = config.Load(f.config)
	} else {
		cfg, err = config.FindAndLoad(filepath.Dir(path))
	}
	if err != nil {
		return nil, err
	}
	if f.maxTicks >= 0 {
		cfg.Run.MaxTicks = f.maxTicks
	}
	if f.timeout >= 0 {
		cfg.Run.Timeout = f.timeout
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logJSON != "" {
		cfg.Log.JSON = f.logJSON
	}
	if err := cfg.Validate(); err != nil {
		if cfg.Path != "" {
			return nil, fmt.Errorf("%s: %w", cfg.Path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// loadProgram assembles a source file or decodes a bytecode file.
func loadProgram(path string) (*vm.Program, error) {
	if filepath.Ext(path) == embed.BytecodeExt {
		return vm.LoadProgram(path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	program, err := compiler.CompileFile(filepath.Base(path), string(source))
	if err != nil {
		return nil, fmt.Errorf("compiling: %w", err)
	}
	return program, nil
}

// runReport is the document written by -report.
type runReport struct {
	Program      string          `json:"program"`
	Value        uint64          `json:"value"`
	Output       string          `json:"output"`
	Instructions int64           `json:"instructions"`
	Ticks        int64           `json:"ticks"`
	Opcodes      map[string]int  `json:"opcodes,omitempty"`
	Error        string          `json:"error,omitempty"`
	Fault        *vm.FaultReport `json:"fault,omitempty"`
}

func writeReport(path, program string, result *embed.Result, runErr error) error {
	report := runReport{Program: program}
	if result != nil {
		report.Value = result.Value
		report.Output = result.Output
		report.Instructions = result.Stats.Instructions
		report.Ticks = result.Stats.Ticks
		report.Opcodes = result.Stats.OpCounts
	}
	if runErr != nil {
		report.Error = runErr.Error()
		var fault *vm.RuntimeFault
		if errors.As(runErr, &fault) {
			r := fault.Report()
			report.Fault = &r
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// execute runs program with the configuration for path. Built-in output
// goes to out. A runtime fault is rendered to stderr and reported as
// errFault.
func (c *cli) execute(program *vm.Program, path string, f *execFlags, out io.Writer, extra ...embed.Option) (*embed.Result, error) {
	cfg, err := f.loadConfig(path)
	if err != nil {
		return nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(level, c.stderr, cfg.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer logger.Close()

	vmOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts := []embed.Option{
		embed.WithOutput(out),
		embed.WithStdin(c.stdin),
		embed.WithMaxTicks(cfg.Run.MaxTicks),
		embed.WithTimeout(cfg.Run.Timeout),
		embed.WithLogger(logger.Logger),
		embed.WithVMOptions(vmOpts...),
	}
	if f.input != "" {
		opts = append(opts, embed.WithInput(f.input))
	}
	opts = append(opts, extra...)

	logger.Debug("executing", slog.String("program", path), slog.Int("instructions", len(program.Code)))
	result, runErr := embed.ExecuteProgram(program, opts...)

	if f.report != "" {
		if err := writeReport(f.report, path, result, runErr); err != nil {
			return result, fmt.Errorf("writing report: %w", err)
		}
	}

	if result != nil && result.Output != "" && !strings.HasSuffix(result.Output, "\n") {
		fmt.Fprintln(out)
	}

	var fault *vm.RuntimeFault
	if errors.As(runErr, &fault) {
		if err := fault.Render(c.stderr); err != nil {
			return result, err
		}
		return result, errFault
	}
	if runErr != nil {
		return result, runErr
	}

	if f.verbose {
		fmt.Fprintf(c.stderr, "Executed %d instructions in %d ticks (%d external calls, %d user calls)\n",
			result.Stats.Instructions, result.Stats.Ticks, result.Stats.ExternalCalls, result.Stats.UserCalls)
	}
	if f.value {
		fmt.Fprintf(c.stdout, "%d\n", int64(result.Value))
	}
	return result, nil
}

func (c *cli) runCommand(args []string) error {
	fs := c.newFlagSet("run")
	var f execFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: bbvm run [options] <file>")
	}

	path := fs.Arg(0)
	if f.verbose {
		fmt.Fprintf(c.stderr, "Executing: %s\n", path)
	}
	program, err := loadProgram(path)
	if err != nil {
		return err
	}
	_, err = c.execute(program, path, &f, c.stdout)
	return err
}

func (c *cli) execCommand(args []string) error {
	fs := c.newFlagSet("exec")
	var f execFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: bbvm exec [options] <file%s>", embed.BytecodeExt)
	}

	path := fs.Arg(0)
	program, err := vm.LoadProgram(path)
	if err != nil {
		return err
	}
	if f.verbose {
		fmt.Fprintf(c.stderr, "Loaded %d instructions from %s\n", len(program.Code), path)
	}
	_, err = c.execute(program, path, &f, c.stdout)
	return err
}

func (c *cli) compileCommand(args []string) error {
	fs := c.newFlagSet("compile")
	output := fs.String("o", "", "output file (default: input with "+embed.BytecodeExt+" extension)")
	strip := fs.Bool("strip", false, "drop debug information")
	verbose := fs.Bool("v", false, "verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: bbvm compile [-o output%s] <file.bb>", embed.BytecodeExt)
	}

	inputPath := fs.Arg(0)
	outputPath := *output
	if outputPath == "" {
		ext := filepath.Ext(inputPath)
		outputPath = strings.TrimSuffix(inputPath, ext) + embed.BytecodeExt
	}
	if *verbose {
		fmt.Fprintf(c.stdout, "Compiling: %s -> %s\n", inputPath, outputPath)
	}

	program, err := loadProgram(inputPath)
	if err != nil {
		return err
	}
	if *strip {
		program.Debug = nil
	}
	if err := vm.SaveProgram(outputPath, program); err != nil {
		return err
	}

	if *verbose {
		functions := 0
		if program.Debug != nil {
			functions = len(program.Debug.Functions)
		}
		fmt.Fprintf(c.stdout, "Compiled %d instructions, %d functions\n", len(program.Code), functions)
	}
	fmt.Fprintf(c.stdout, "Compiled: %s\n", outputPath)
	return nil
}

func (c *cli) disasmCommand(args []string) error {
	fs := c.newFlagSet("disasm")
	output := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: bbvm disasm [-o output] <file>")
	}

	program, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	asm := vm.Disassemble(program)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(asm), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(c.stdout, "Disassembled to: %s\n", *output)
		return nil
	}
	fmt.Fprint(c.stdout, asm)
	return nil
}

func (c *cli) replCommand(args []string) error {
	fs := c.newFlagSet("repl")
	edit := fs.Bool("edit", false, "start in edit mode")
	configPath := fs.String("config", "", "configuration file (default: nearest "+config.FileName+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}
	opts, err := cfg.MemoryOptions()
	if err != nil {
		return err
	}

	r := repl.New(opts...)
	if cfg.Run.MaxTicks > 0 {
		r.SetMaxTicks(cfg.Run.MaxTicks)
	}
	if *edit {
		r.SetMode(repl.ModeEdit)
	}
	r.Start(c.stdin, c.stdout)
	return nil
}
