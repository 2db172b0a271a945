// Package vm implements the BBVM bytecode processor.
//
// The processor owns one linear memory split into a heap region at the
// bottom and a stack region above it, a register file with x86-style width
// aliases, and an immutable instruction stream. It is driven one
// instruction at a time through Tick so that a host can interleave its own
// work, answer external calls, and inject calls into compiled functions.
//
// Basic usage:
//
//	p, err := vm.New(code)
//	if err != nil { ... }
//	err = p.Run(ctx)
//
// Driving the tick loop directly:
//
//	for !p.Idle() {
//		if err := p.Tick(); err != nil {
//			var fault *vm.RuntimeFault
//			if errors.As(err, &fault) {
//				fault.Render(os.Stderr)
//			}
//			break
//		}
//	}
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// Error definitions
var (
	ErrInvalidConfig = errors.New("invalid processor configuration")
	ErrTickLimit     = errors.New("tick limit exceeded")
)

// Defaults used by New.
const (
	DefaultMemorySize = 64 * 1024
	DefaultHeapSize   = 16 * 1024
)

// Clock is the time source used by sleep and the time built-ins.
// github.com/juju/clock.WallClock satisfies it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// ExecutionStats contains metrics about processor execution.
type ExecutionStats struct {
	Ticks         int64          // every Tick call, including no-work ticks
	Instructions  int64          // instructions executed
	ExternalCalls int64          // CALLEXT dispatches that completed
	UserCalls     int64          // user calls spliced
	OpCounts      map[string]int // executions per opcode mnemonic
}

// TickEvent is passed to the OnTick observer after every executed
// instruction.
type TickEvent struct {
	Tick         int64
	CodePointer  int
	Opcode       Opcode
	StackPointer int
	BasePointer  int
}

// Processor is a BBVM instance.
type Processor struct {
	Registers Registers
	Memory    Memory

	code      []Instruction
	debug     *DebugInformation
	stack     stackLayout
	heap      Allocator
	externals *ExternalTable

	queue      []*UserCall
	active     *userCallFrame
	nextCallID int

	clock      Clock
	sleepUntil time.Time

	input     []uint16
	awaiting  bool
	output    io.Writer
	surrogate uint16

	logger   *slog.Logger
	fault    *RuntimeFault
	maxTicks int64
	stats    ExecutionStats
	onTick   func(TickEvent)
}

type config struct {
	memorySize int
	heapSize   int
	direction  int
	profile    HeapProfile
	clock      Clock
	output     io.Writer
	input      string
	logger     *slog.Logger
	externals  []ExternalFunction
	debug      *DebugInformation
	maxTicks   int64
}

// Option configures a Processor.
type Option func(*config) error

// MemorySize sets the total memory size in bytes.
func MemorySize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: memory size %d", ErrInvalidConfig, n)
		}
		c.memorySize = n
		return nil
	}
}

// HeapSize sets the size of the heap region at the bottom of memory.
func HeapSize(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: heap size %d", ErrInvalidConfig, n)
		}
		c.heapSize = n
		return nil
	}
}

// StackDirection sets whether the stack grows up (+1) or down (-1).
func StackDirection(d int) Option {
	return func(c *config) error {
		if d != 1 && d != -1 {
			return fmt.Errorf("%w: stack direction must be 1 or -1, got %d", ErrInvalidConfig, d)
		}
		c.direction = d
		return nil
	}
}

// WithHeapProfile selects the heap block header format.
func WithHeapProfile(p HeapProfile) Option {
	return func(c *config) error {
		c.profile = p
		return nil
	}
}

// WithClock replaces the wall clock.
func WithClock(clk Clock) Option {
	return func(c *config) error {
		c.clock = clk
		return nil
	}
}

// WithOutput sets the writer used by the stdout and console built-ins.
func WithOutput(w io.Writer) Option {
	return func(c *config) error {
		c.output = w
		return nil
	}
}

// WithInput queues s as pending stdin input.
func WithInput(s string) Option {
	return func(c *config) error {
		c.input += s
		return nil
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// WithExternals registers host external functions after the built-ins.
func WithExternals(fns ...ExternalFunction) Option {
	return func(c *config) error {
		c.externals = append(c.externals, fns...)
		return nil
	}
}

// WithDebugInfo attaches compiler metadata used by fault reports.
func WithDebugInfo(info *DebugInformation) Option {
	return func(c *config) error {
		c.debug = info
		return nil
	}
}

// MaxTicks bounds the number of instructions Run may execute. Zero means
// unlimited.
func MaxTicks(n int64) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: tick limit %d", ErrInvalidConfig, n)
		}
		c.maxTicks = n
		return nil
	}
}

// New creates a processor for code.
func New(code []Instruction, opts ...Option) (*Processor, error) {
	c := config{
		memorySize: DefaultMemorySize,
		heapSize:   DefaultHeapSize,
		direction:  1,
		clock:      clock.WallClock,
		output:     io.Discard,
	}
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, err
		}
	}
	if c.heapSize+16 > c.memorySize {
		return nil, fmt.Errorf("%w: heap of %d bytes leaves no stack in %d bytes of memory", ErrInvalidConfig, c.heapSize, c.memorySize)
	}
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	externals, err := NewExternalTable(c.externals...)
	if err != nil {
		return nil, err
	}
	heap, err := newAllocator(c.profile, 0, c.heapSize)
	if err != nil {
		return nil, err
	}
	logger := c.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Processor{
		Memory:    make(Memory, c.memorySize),
		code:      code,
		debug:     c.debug,
		stack:     newStackLayout(c.heapSize, c.memorySize, c.direction),
		heap:      heap,
		externals: externals,
		clock:     c.clock,
		output:    c.output,
		logger:    logger,
		maxTicks:  c.maxTicks,
		stats:     ExecutionStats{OpCounts: make(map[string]int)},
	}
	if c.heapSize > 0 {
		if err := heap.Init(p.Memory); err != nil {
			return nil, err
		}
	}
	p.FeedInput(c.input)
	p.Registers.StackPointer = p.stack.start
	p.Registers.BasePointer = p.stack.start
	return p, nil
}

// NewFromProgram creates a processor for a decoded program, attaching its
// debug information.
func NewFromProgram(prog *Program, opts ...Option) (*Processor, error) {
	if prog.Debug != nil {
		opts = append([]Option{WithDebugInfo(prog.Debug)}, opts...)
	}
	return New(prog.Code, opts...)
}

// Code returns the instruction stream.
func (p *Processor) Code() []Instruction { return p.code }

// Debug returns the attached debug information, possibly nil.
func (p *Processor) Debug() *DebugInformation { return p.debug }

// Heap returns the heap allocator.
func (p *Processor) Heap() Allocator { return p.heap }

// Externals returns the external function table.
func (p *Processor) Externals() *ExternalTable { return p.externals }

// StackStart returns the value of SP when the stack is empty.
func (p *Processor) StackStart() int { return p.stack.start }

// StackDirection returns +1 when the stack grows up and -1 when it grows down.
func (p *Processor) StackDirection() int { return p.stack.direction }

// StackUsed returns the number of bytes currently on the stack.
func (p *Processor) StackUsed() int { return p.stack.used(p.Registers.StackPointer) }

// SetMaxTicks sets the instruction limit used by Run.
func (p *Processor) SetMaxTicks(n int64) { p.maxTicks = n }

// OnTick installs an observer called after every executed instruction.
func (p *Processor) OnTick(fn func(TickEvent)) { p.onTick = fn }

// Stats returns a copy of the execution statistics.
func (p *Processor) Stats() ExecutionStats {
	s := p.stats
	s.OpCounts = make(map[string]int, len(p.stats.OpCounts))
	for k, v := range p.stats.OpCounts {
		s.OpCounts[k] = v
	}
	return s
}

// IsDone reports whether CP has left the instruction stream.
func (p *Processor) IsDone() bool {
	cp := p.Registers.CodePointer
	return cp < 0 || cp >= len(p.code)
}

// Idle reports whether the processor has nothing left to do: the program is
// done, no user call is active and none is queued.
func (p *Processor) Idle() bool {
	return p.IsDone() && p.active == nil && len(p.queue) == 0
}

// Fault returns the fault that stopped the processor, or nil.
func (p *Processor) Fault() *RuntimeFault { return p.fault }

// Sleeping reports whether a sleep built-in is still pending.
func (p *Processor) Sleeping() bool {
	return !p.sleepUntil.IsZero() && p.clock.Now().Before(p.sleepUntil)
}

// AwaitingInput reports whether the last tick stalled on an empty stdin queue.
func (p *Processor) AwaitingInput() bool { return p.awaiting }

// FeedInput queues s as UTF-16 code units for the stdin built-in.
func (p *Processor) FeedInput(s string) {
	for _, r := range s {
		if r1, r2 := utf16EncodeRune(r); r2 != 0 {
			p.input = append(p.input, r1, r2)
		} else {
			p.input = append(p.input, r1)
		}
	}
	if len(p.input) > 0 {
		p.awaiting = false
	}
}

// Resolve maps an operand to the location it denotes in the current state.
func (p *Processor) Resolve(op Operand) (Location, error) {
	return resolve(&p.Registers, p.stack.direction, op)
}

// Tick executes at most one instruction.
//
// A sleeping processor, one awaiting input, and a finished program with no
// user call to service all return nil without doing work. A fatal signal is
// returned as a *RuntimeFault; once faulted, every later Tick returns the
// same fault.
func (p *Processor) Tick() error {
	if p.fault != nil {
		return p.fault
	}
	p.stats.Ticks++
	if !p.sleepUntil.IsZero() {
		if p.clock.Now().Before(p.sleepUntil) {
			return nil
		}
		p.sleepUntil = time.Time{}
	}
	if p.IsDone() {
		if err := p.serviceUserCalls(); err != nil {
			return p.raise(err)
		}
		return nil
	}

	cp := p.Registers.CodePointer
	op := p.code[cp].Opcode()
	if err := p.step(); err != nil {
		if errors.Is(err, errStall) {
			return nil
		}
		return p.raise(err)
	}

	p.stats.Instructions++
	p.stats.OpCounts[op.String()]++
	if p.onTick != nil {
		p.onTick(TickEvent{
			Tick:         p.stats.Instructions,
			CodePointer:  cp,
			Opcode:       op,
			StackPointer: p.Registers.StackPointer,
			BasePointer:  p.Registers.BasePointer,
		})
	}
	return nil
}

// Run ticks until the processor is idle, the context is cancelled, the tick
// limit is reached, or a fault occurs. While the program sleeps Run waits on
// the clock. When the program needs input that has not been fed Run returns
// ErrAwaitInput; feed input and call Run again.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.fault != nil {
			return p.fault
		}
		if p.Idle() {
			return nil
		}
		if p.maxTicks > 0 && p.stats.Instructions >= p.maxTicks {
			return fmt.Errorf("%w: %d instructions", ErrTickLimit, p.maxTicks)
		}
		if p.Sleeping() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(p.sleepUntil.Sub(p.clock.Now())):
			}
		}
		if err := p.Tick(); err != nil {
			return err
		}
		if p.awaiting {
			return ErrAwaitInput
		}
	}
}

// raise freezes the processor state into a RuntimeFault.
func (p *Processor) raise(err error) error {
	var se *signalError
	if !errors.As(err, &se) {
		se = &signalError{signal: SignalInvalidInstruction, message: err.Error()}
	}
	p.fault = newRuntimeFault(p, se.signal, se.message)
	p.logger.Debug("runtime fault",
		"signal", se.signal.String(),
		"message", se.message,
		"cp", p.Registers.CodePointer,
		"sp", p.Registers.StackPointer,
		"bp", p.Registers.BasePointer)
	return p.fault
}

// AllocateString copies s into a fresh heap block as a zero-terminated
// UTF-16LE string and returns its address.
func (p *Processor) AllocateString(s string) (int, error) {
	encoded, err := encodeUTF16(s)
	if err != nil {
		return 0, err
	}
	ptr, err := p.heap.Allocate(p.Memory, len(encoded)+2)
	if err != nil {
		return 0, err
	}
	if _, err := WriteString(p.Memory, ptr, s); err != nil {
		return 0, err
	}
	return ptr, nil
}
