// Package embed provides the Go embedding API for BBVM.
//
// Pass assembly source, get a result.
//
// Basic usage:
//
//	result, err := embed.Execute(`
//	    MOVE   EAX, 6
//	    MUL    EAX, 7
//	    EXIT
//	`)
//	// result.Value == 42
//
// With limits and host functions:
//
//	result, err := embed.ExecuteWithOptions(code,
//	    embed.WithTimeout(5*time.Second),
//	    embed.WithMaxTicks(10000),
//	    embed.WithInput("hello\n"),
//	    embed.WithExternals(vm.ExternalFunction{Name: "host", ...}),
//	)
package embed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/compiler"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// Common errors
var (
	ErrTimeout        = errors.New("execution timeout exceeded")
	ErrTickLimit      = errors.New("tick limit exceeded")
	ErrInputExhausted = errors.New("program awaits input but none is left")
)

// BytecodeExt is the file extension ExecuteFile treats as a compiled
// program rather than assembly source.
const BytecodeExt = ".bbc"

// Result is the outcome of a finished run.
type Result struct {
	// Value is RAX when the program finished.
	Value uint64

	// Output is everything written by the stdout and console built-ins.
	Output string

	Stats vm.ExecutionStats
}

// Execute compiles and runs assembly code with default settings.
func Execute(code string) (*Result, error) {
	return ExecuteWithOptions(code)
}

// ExecuteFile runs a file. Files ending in BytecodeExt are decoded as
// compiled programs; anything else is assembled.
func ExecuteFile(path string, opts ...Option) (*Result, error) {
	if filepath.Ext(path) == BytecodeExt {
		program, err := vm.LoadProgram(path)
		if err != nil {
			return nil, err
		}
		return ExecuteProgram(program, opts...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program, err := compiler.CompileFile(filepath.Base(path), string(data))
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// Options configures execution behavior for ExecuteWithOptions.
type Options struct {
	// Timeout sets maximum execution time. Zero means no timeout.
	Timeout time.Duration

	// MaxTicks limits the number of instructions executed.
	// Zero means unlimited.
	MaxTicks int64

	// Input is queued for the stdin built-in before the run starts.
	Input string

	// Stdin is read one line at a time whenever the program waits for
	// input and the queue is empty.
	Stdin io.Reader

	// Output receives built-in output as it is produced, in addition to
	// Result.Output.
	Output io.Writer

	Externals []vm.ExternalFunction
	Logger    *slog.Logger

	// VM holds additional processor options such as vm.MemorySize.
	VM []vm.Option

	// Setup is called with the processor before it starts running.
	Setup func(*vm.Processor)

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxTicks sets the instruction limit.
func WithMaxTicks(n int64) Option {
	return func(o *Options) {
		o.MaxTicks = n
	}
}

// WithInput queues stdin input.
func WithInput(s string) Option {
	return func(o *Options) {
		o.Input += s
	}
}

// WithStdin sets a reader that supplies input on demand.
func WithStdin(r io.Reader) Option {
	return func(o *Options) {
		o.Stdin = r
	}
}

// WithOutput mirrors program output to w.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// WithExternals registers host external functions.
func WithExternals(fns ...vm.ExternalFunction) Option {
	return func(o *Options) {
		o.Externals = append(o.Externals, fns...)
	}
}

// WithLogger sets the processor logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithVMOptions passes options straight to vm.New.
func WithVMOptions(opts ...vm.Option) Option {
	return func(o *Options) {
		o.VM = append(o.VM, opts...)
	}
}

// WithSetup registers fn to be called with the processor before it runs,
// for example to attach a profiler.
func WithSetup(fn func(*vm.Processor)) Option {
	return func(o *Options) {
		o.Setup = fn
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// ExecuteWithOptions compiles and executes code with advanced
// configuration.
//
// Example:
//
//	result, err := embed.ExecuteWithOptions(code,
//	    embed.WithTimeout(5*time.Second),
//	    embed.WithMaxTicks(10000),
//	)
func ExecuteWithOptions(code string, opts ...Option) (*Result, error) {
	program, err := compiler.Compile(code)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteProgram runs an already compiled program. A runtime fault is
// returned as a *vm.RuntimeFault together with the partial result.
func ExecuteProgram(program *vm.Program, opts ...Option) (*Result, error) {
	options := &Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}

	var output bytes.Buffer
	var out io.Writer = &output
	if options.Output != nil {
		out = io.MultiWriter(&output, options.Output)
	}

	vmOpts := []vm.Option{vm.WithOutput(out), vm.MaxTicks(options.MaxTicks)}
	if options.Input != "" {
		vmOpts = append(vmOpts, vm.WithInput(options.Input))
	}
	if len(options.Externals) > 0 {
		vmOpts = append(vmOpts, vm.WithExternals(options.Externals...))
	}
	if options.Logger != nil {
		vmOpts = append(vmOpts, vm.WithLogger(options.Logger))
	}
	vmOpts = append(vmOpts, options.VM...)

	machine, err := vm.NewFromProgram(program, vmOpts...)
	if err != nil {
		return nil, err
	}
	if options.Setup != nil {
		options.Setup(machine)
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	err = run(ctx, machine, options.Stdin)
	result := &Result{
		Value:  machine.Registers.Get(vm.RegRAX),
		Output: output.String(),
		Stats:  machine.Stats(),
	}
	if err != nil {
		// Map VM errors to embed package errors
		switch {
		case errors.Is(err, vm.ErrTickLimit):
			return result, ErrTickLimit
		case errors.Is(err, context.DeadlineExceeded):
			return result, ErrTimeout
		}
		return result, err
	}
	return result, nil
}

// run drives the processor to completion, feeding stdin lines whenever it
// stalls on input.
func run(ctx context.Context, machine *vm.Processor, stdin io.Reader) error {
	var lines *bufio.Reader
	if stdin != nil {
		lines = bufio.NewReader(stdin)
	}
	for {
		err := machine.Run(ctx)
		if !errors.Is(err, vm.ErrAwaitInput) {
			return err
		}
		if lines == nil {
			return ErrInputExhausted
		}
		line, readErr := lines.ReadString('\n')
		if line == "" {
			if readErr == nil || readErr == io.EOF {
				return ErrInputExhausted
			}
			return readErr
		}
		machine.FeedInput(line)
	}
}
