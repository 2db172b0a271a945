// Package repl implements an interactive assembler shell for BBVM.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/compiler"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/embed"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

const (
	promptRun  = "bbvm> "
	promptEdit = "edit> "
	promptCont = "...> "
)

// DefaultMaxTicks bounds every run started from the REPL.
const DefaultMaxTicks = 1_000_000

// Mode represents the REPL input mode.
type Mode int

const (
	ModeRun  Mode = iota // every input is assembled and run on its own
	ModeEdit             // input lines build up a program that can be stepped
)

// REPL provides an interactive Read-Eval-Print Loop.
type REPL struct {
	mode     Mode
	options  []vm.Option
	maxTicks int64
	timeout  time.Duration

	source  []string
	program *vm.Program
	proc    *vm.Processor
	breaks  breakpoints

	history     []string
	multiline   strings.Builder
	inMultiline bool
	quit        bool
}

// New creates a new REPL. opts are applied to every processor it creates.
func New(opts ...vm.Option) *REPL {
	return &REPL{
		mode:     ModeRun,
		options:  opts,
		maxTicks: DefaultMaxTicks,
		timeout:  10 * time.Second,
	}
}

// SetMode sets the REPL input mode.
func (r *REPL) SetMode(mode Mode) {
	r.mode = mode
}

// SetMaxTicks changes the instruction budget of each run. Zero removes it.
func (r *REPL) SetMaxTicks(n int64) {
	r.maxTicks = n
}

// Start runs the loop until in is exhausted or the user quits.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "BBVM REPL - BBVM assembly shell")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.quit {
		switch {
		case r.inMultiline:
			fmt.Fprint(out, promptCont)
		case r.mode == ModeEdit:
			fmt.Fprint(out, promptEdit)
		default:
			fmt.Fprint(out, promptRun)
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if r.inMultiline {
			if line == "" {
				r.inMultiline = false
				input := r.multiline.String()
				r.multiline.Reset()
				r.eval(input, out)
			} else {
				r.multiline.WriteString(line)
				r.multiline.WriteString("\n")
			}
			continue
		}

		if handled := r.handleCommand(line, out); handled {
			continue
		}

		if strings.HasSuffix(line, "\\") {
			r.inMultiline = true
			r.multiline.WriteString(strings.TrimSuffix(line, "\\"))
			r.multiline.WriteString("\n")
			continue
		}

		r.eval(line, out)
	}
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}

	switch parts[0] {
	case "quit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.quit = true

	case "help", "h", "?":
		r.printHelp(out)

	case "mode":
		if len(parts) == 1 {
			if r.mode == ModeEdit {
				fmt.Fprintln(out, "Current mode: edit")
			} else {
				fmt.Fprintln(out, "Current mode: run")
			}
			return true
		}
		switch parts[1] {
		case "run":
			r.mode = ModeRun
			fmt.Fprintln(out, "Switched to run mode")
		case "edit":
			r.mode = ModeEdit
			fmt.Fprintln(out, "Switched to edit mode")
		default:
			fmt.Fprintln(out, "Unknown mode. Use 'run' or 'edit'")
		}

	case "list":
		if len(r.source) == 0 {
			fmt.Fprintln(out, "Program is empty")
		}
		for i, l := range r.source {
			fmt.Fprintf(out, "%3d  %s\n", i+1, l)
		}

	case "clear":
		r.source = nil
		r.breaks.reset()
		r.reset()
		fmt.Fprintln(out, "Program cleared")

	case "load":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: load <path>")
			return true
		}
		r.load(parts[1], out)

	case "run":
		r.runBuffer(out)

	case "step":
		n := 1
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v <= 0 {
				fmt.Fprintln(out, "Usage: step [n]")
				return true
			}
			n = v
		}
		r.step(n, out)

	case "break", "b":
		if len(parts) == 1 {
			r.listBreakpoints(out)
			return true
		}
		cp, err := strconv.Atoi(parts[1])
		if err != nil || cp < 0 {
			fmt.Fprintln(out, "Usage: break [addr]")
			return true
		}
		r.breaks.set(cp)
		fmt.Fprintf(out, "Breakpoint set at %04d\n", cp)

	case "delete":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: delete <addr>")
			return true
		}
		cp, err := strconv.Atoi(parts[1])
		if err != nil || !r.breaks.has(cp) {
			fmt.Fprintf(out, "No breakpoint at %s\n", parts[1])
			return true
		}
		r.breaks.clear(cp)
		fmt.Fprintf(out, "Breakpoint at %04d deleted\n", cp)

	case "continue", "c":
		r.cont(out)

	case "reset":
		r.reset()
		fmt.Fprintln(out, "Processor reset")

	case "regs":
		if p := r.processor(out); p != nil {
			vm.WriteRegisterTable(out, &p.Registers)
		}

	case "mem":
		r.dumpMemory(parts[1:], out)

	case "stack":
		if p := r.processor(out); p != nil {
			fmt.Fprintf(out, "SP %d  BP %d  used %d bytes (direction %+d)\n",
				p.Registers.StackPointer, p.Registers.BasePointer, p.StackUsed(), p.StackDirection())
		}

	case "heap":
		if p := r.processor(out); p != nil {
			for b := range p.Heap().Blocks(p.Memory) {
				state := "free"
				if b.Used {
					state = "used"
				}
				fmt.Fprintf(out, "  %6d: %s %d bytes\n", b.Data, state, b.Size)
			}
		}

	case "disasm":
		if r.compileBuffer(out) {
			fmt.Fprint(out, vm.Disassemble(r.program))
		}

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}

	default:
		return false
	}
	return true
}

func (r *REPL) eval(input string, out io.Writer) {
	if strings.TrimSpace(input) == "" {
		return
	}
	r.history = append(r.history, input)

	if r.mode == ModeEdit {
		r.source = append(r.source, strings.Split(strings.TrimRight(input, "\n"), "\n")...)
		r.reset()
		return
	}

	program, err := compiler.CompileFile("repl", input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	result, err := embed.ExecuteProgram(program,
		embed.WithVMOptions(r.options...),
		embed.WithMaxTicks(r.maxTicks),
		embed.WithTimeout(r.timeout),
	)
	if result != nil {
		writeOutput(out, result.Output)
	}
	if err != nil {
		reportError(out, err)
		return
	}
	fmt.Fprintf(out, "=> %d\n", int64(result.Value))
}

func (r *REPL) load(path string, out io.Writer) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "Error loading %s: %v\n", path, err)
		return
	}
	r.source = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	r.mode = ModeEdit
	r.reset()
	fmt.Fprintf(out, "Loaded %d lines from %s\n", len(r.source), path)
}

// reset drops the compiled program and processor so the next command
// rebuilds them from the buffer.
func (r *REPL) reset() {
	r.program = nil
	r.proc = nil
}

func (r *REPL) compileBuffer(out io.Writer) bool {
	if r.program != nil {
		return true
	}
	if len(r.source) == 0 {
		fmt.Fprintln(out, "Program is empty")
		return false
	}
	program, err := compiler.CompileFile("repl", strings.Join(r.source, "\n"))
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return false
	}
	r.program = program
	return true
}

// processor returns the processor for the buffer, creating it on first use.
func (r *REPL) processor(out io.Writer) *vm.Processor {
	if r.proc != nil {
		return r.proc
	}
	if !r.compileBuffer(out) {
		return nil
	}
	opts := append([]vm.Option{vm.WithOutput(out), vm.MaxTicks(r.maxTicks)}, r.options...)
	p, err := vm.NewFromProgram(r.program, opts...)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return nil
	}
	r.proc = p
	return p
}

func (r *REPL) runBuffer(out io.Writer) {
	r.proc = nil
	p := r.processor(out)
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		reportError(out, err)
		return
	}
	fmt.Fprintf(out, "=> %d\n", int64(p.Registers.Get(vm.RegRAX)))
}

func (r *REPL) step(n int, out io.Writer) {
	p := r.processor(out)
	if p == nil {
		return
	}
	for i := 0; i < n; i++ {
		if p.Idle() {
			fmt.Fprintln(out, "Program finished")
			return
		}
		cp := p.Registers.CodePointer
		if err := p.Tick(); err != nil {
			reportError(out, err)
			return
		}
		if cp < len(p.Code()) {
			fmt.Fprintf(out, "%04d: %s\n", cp, p.Code()[cp])
		}
		if p.AwaitingInput() {
			fmt.Fprintln(out, "Program is waiting for input")
			return
		}
	}
}

// cont ticks until the program finishes, faults, waits for input or is
// about to execute an instruction with a breakpoint. The instruction at the
// starting address always runs, so repeated continues make progress.
func (r *REPL) cont(out io.Writer) {
	p := r.processor(out)
	if p == nil {
		return
	}
	for n := int64(0); !p.Idle(); n++ {
		cp := p.Registers.CodePointer
		if n > 0 && r.breaks.has(cp) && cp < len(p.Code()) {
			fmt.Fprintf(out, "Breakpoint at %04d: %s\n", cp, p.Code()[cp])
			return
		}
		if r.maxTicks > 0 && n >= r.maxTicks {
			fmt.Fprintf(out, "Error: %v: %d instructions\n", embed.ErrTickLimit, r.maxTicks)
			return
		}
		if err := p.Tick(); err != nil {
			reportError(out, err)
			return
		}
		if p.AwaitingInput() {
			fmt.Fprintln(out, "Program is waiting for input")
			return
		}
	}
	fmt.Fprintf(out, "=> %d\n", int64(p.Registers.Get(vm.RegRAX)))
}

func (r *REPL) listBreakpoints(out io.Writer) {
	addrs := r.breaks.addrs()
	if len(addrs) == 0 {
		fmt.Fprintln(out, "No breakpoints")
		return
	}
	for _, cp := range addrs {
		line := ""
		if r.program != nil && cp < len(r.program.Code) {
			line = r.program.Code[cp].String()
		}
		fmt.Fprintf(out, "  %04d  %s\n", cp, line)
	}
}

func (r *REPL) dumpMemory(args []string, out io.Writer) {
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(out, "Usage: mem <addr> [n]")
		return
	}
	addr, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		fmt.Fprintf(out, "Invalid address %q\n", args[0])
		return
	}
	n := int64(32)
	if len(args) == 2 {
		if n, err = strconv.ParseInt(args[1], 0, 32); err != nil || n <= 0 {
			fmt.Fprintf(out, "Invalid length %q\n", args[1])
			return
		}
	}
	p := r.processor(out)
	if p == nil {
		return
	}
	data, err := p.Memory.Slice(int(addr), int(n))
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	for row := 0; row < len(data); row += 16 {
		fmt.Fprintf(out, "%6d:", int(addr)+row)
		for _, b := range data[row:min(row+16, len(data))] {
			fmt.Fprintf(out, " %02X", b)
		}
		fmt.Fprintln(out)
	}
}

func writeOutput(out io.Writer, s string) {
	if s == "" {
		return
	}
	fmt.Fprint(out, s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(out)
	}
}

func reportError(out io.Writer, err error) {
	var fault *vm.RuntimeFault
	if errors.As(err, &fault) {
		_ = fault.Render(out)
		return
	}
	fmt.Fprintf(out, "Error: %v\n", err)
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
BBVM REPL Commands:
  help, h, ?      Show this help message
  quit, q         Exit the REPL
  mode [run|edit] Show or set input mode
  history         Show command history

Edit mode:
  list            Show the program being edited
  clear           Discard the program
  load <path>     Replace the program with a source file
  run             Run the program from the start
  step [n]        Execute n instructions (default 1)
  break, b [addr] Set a breakpoint, or list them
  delete <addr>   Remove a breakpoint
  continue, c     Run to the next breakpoint
  reset           Restart the processor at instruction 0
  regs            Show registers
  stack           Show stack pointers and usage
  heap            List heap blocks
  mem <addr> [n]  Dump n bytes of memory (default 32)
  disasm          Disassemble the program

Examples:
  MOVE EAX, 6 \
  MUL EAX, 7
  (empty line)
  => 42

Tips:
  - End a line with \ for multiline input
  - Press Enter twice to execute multiline input
  - Commands are lower case; write mnemonics in upper case
`
	fmt.Fprint(out, help)
}
