package vm

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

const (
	codeContext      = 4  // instructions shown on each side of CP
	stackDumpBytes   = 64 // bytes of stack shown below the top
	maxArrayElements = 16
)

type errWriter struct {
	w   io.Writer
	err error
}

func (w *errWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err = w.w.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// Render writes a human readable fault report: the signal and message, the
// source location, the registers, the call stack with each frame's
// parameters and locals, the code around CP and the top of the stack.
// Without debug information frames are shown by raw address.
func (f *RuntimeFault) Render(w io.Writer) error {
	ew := &errWriter{w: w}
	ctx := &f.Context
	regs := ctx.Registers

	ew.printf("Runtime fault: %s\n  %s\n", f.Signal, f.Message)
	if loc, ok := f.Debug.LocationFor(regs.CodePointer); ok {
		ew.printf("  at %s\n", loc)
	}

	ew.printf("\nRegisters:\n")
	WriteRegisterTable(ew, &regs)

	ew.printf("\nCall stack:\n")
	for i, fr := range f.frames() {
		f.renderFrame(ew, i, fr)
	}

	ew.printf("\nCode:\n")
	f.renderCode(ew)

	ew.printf("\nStack (SP %d, direction %+d):\n", regs.StackPointer, ctx.StackDirection)
	f.renderStack(ew)
	return ew.err
}

// WriteRegisterTable renders the pointer and general registers with their
// hex and signed decimal values.
func WriteRegisterTable(w io.Writer, regs *Registers) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Register", "Hex", "Decimal"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, r := range []Register{RegCodePointer, RegStackPointer, RegBasePointer, RegRAX, RegRBX, RegRCX, RegRDX} {
		v := regs.Get(r)
		table.Append([]string{r.String(), fmt.Sprintf("0x%0*X", r.Width().Size()*2, v), strconv.FormatInt(signExtend(v, r.Width()), 10)})
	}
	table.Append([]string{"FLAGS", regs.Flags.String(), ""})
	table.Render()
}

func (f *RuntimeFault) renderFrame(w *errWriter, depth int, fr Frame) {
	cp := fr.CodePointer
	if depth > 0 {
		cp--
	}
	name := "<unknown>"
	switch fn, ok := f.Debug.FunctionFor(cp); {
	case ok:
		name = fn.Name
	case fr.CodePointer == len(f.Context.Code) && depth > 0:
		name = "<host>"
	}
	w.printf("  #%d %s (CP %d, BP %d)", depth, name, fr.CodePointer, fr.BasePointer)
	if loc, ok := f.Debug.LocationFor(cp); ok {
		w.printf(" %s", loc)
	}
	w.printf("\n")

	for _, scope := range f.Debug.ScopesFor(cp) {
		for _, el := range scope.Elements {
			addr := fr.BasePointer + el.Address
			w.printf("      %s %s: %s = %s\n", el.Kind, el.Identifier, el.Type, formatValue(f.Context.Memory, addr, el.Type, el.Size, 0))
		}
	}
}

func (f *RuntimeFault) renderCode(w *errWriter) {
	code := f.Context.Code
	cp := f.Context.Registers.CodePointer
	from := max(0, cp-codeContext)
	to := min(len(code), cp+codeContext+1)
	for i := from; i < to; i++ {
		marker := "  "
		if i == cp {
			marker = "> "
		}
		w.printf("  %s%04d: %s\n", marker, i, code[i])
	}
	if cp < 0 || cp >= len(code) {
		w.printf("  > %04d: <end of code>\n", cp)
	}
}

func (f *RuntimeFault) renderStack(w *errWriter) {
	ctx := &f.Context
	sp := ctx.Registers.StackPointer
	lo, hi := sp-stackDumpBytes, sp
	if ctx.StackDirection < 0 {
		lo, hi = sp, sp+stackDumpBytes
	}
	lo = max(lo, ctx.Layout.StackLow, 0)
	hi = min(hi, ctx.Layout.StackHigh, len(ctx.Memory))
	if lo >= hi {
		w.printf("  <empty>\n")
		return
	}
	for row := lo; row < hi; row += 16 {
		w.printf("  %6d:", row)
		for i := row; i < min(row+16, hi); i++ {
			w.printf(" %02X", ctx.Memory[i])
		}
		w.printf("\n")
	}
}

// formatValue decodes the value of type t at addr. Pointers are followed
// one level; unreadable memory is reported instead of failing.
func formatValue(mem Memory, addr int, t *TypeInfo, size, depth int) string {
	if t == nil {
		raw, err := mem.Slice(addr, size)
		if err != nil {
			return unreadable(addr)
		}
		return fmt.Sprintf("% X", raw)
	}
	switch t.Kind {
	case TypeU8, TypeI8, TypeU16, TypeI16, TypeU32, TypeI32, TypeU64, TypeI64:
		w, _ := WidthForSize(t.Size())
		v, err := mem.Get(addr, w)
		if err != nil {
			return unreadable(addr)
		}
		if t.signed() {
			return strconv.FormatInt(signExtend(v, w), 10)
		}
		return strconv.FormatUint(v, 10)
	case TypeChar:
		v, err := mem.Get(addr, Bit16)
		if err != nil {
			return unreadable(addr)
		}
		return strconv.QuoteRune(rune(v))
	case TypeF32:
		v, err := mem.Get(addr, Bit32)
		if err != nil {
			return unreadable(addr)
		}
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32)
	case TypeF64:
		v, err := mem.Get(addr, Bit64)
		if err != nil {
			return unreadable(addr)
		}
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	case TypePointer:
		v, err := mem.Get(addr, Bit32)
		if err != nil {
			return unreadable(addr)
		}
		if v == 0 {
			return "null"
		}
		s := fmt.Sprintf("0x%08X", v)
		if depth == 0 && t.Elem != nil {
			s += " -> " + formatValue(mem, int(v), t.Elem, t.Elem.Size(), depth+1)
		}
		return s
	case TypeStruct:
		parts := make([]string, len(t.Fields))
		for i, field := range t.Fields {
			parts[i] = field.Name + ": " + formatValue(mem, addr+field.Offset, field.Type, field.Type.Size(), depth)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeArray:
		if t.Length < 0 {
			return unreadable(addr)
		}
		n := min(t.Length, maxArrayElements)
		parts := make([]string, n, n+1)
		stride := t.Elem.Size()
		for i := range n {
			parts[i] = formatValue(mem, addr+i*stride, t.Elem, stride, depth)
		}
		if t.Length > n {
			parts = append(parts, fmt.Sprintf("... %d more", t.Length-n))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return unreadable(addr)
}

func unreadable(addr int) string {
	return fmt.Sprintf("<unreadable at %d>", addr)
}
