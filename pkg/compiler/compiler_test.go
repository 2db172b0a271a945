package compiler

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

const factorialSource = `.file "fact.bb"
	PUSH 5
	CALL fact
	POP32
	EXIT

.func fact
.param n i32 -16
	PUSH 0
	PUSH BP
	MOVE BP, SP
	MOVE EAX, DWORD [BP - 16]
	CMP EAX, 1
	JLE done
	SUB EAX, 1
	PUSH EAX
	CALL fact
	POP32
	MUL EAX, DWORD [BP - 16]
done:
	POP BP
	POP32
	RET
.endfunc
`

func TestCompiler_SimpleProgram(t *testing.T) {
	program, err := Compile("MOVE EAX, 42\nEXIT")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(program.Code) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(program.Code))
	}
	if program.Code[0].Opcode() != vm.OpMove {
		t.Errorf("expected OpMove, got %v", program.Code[0].Opcode())
	}
	if got := program.Code[0].Operand(1); got != vm.Immediate(vm.Bit32, 42) {
		t.Errorf("source operand = %v", got)
	}
	if program.Code[1].Opcode() != vm.OpExit {
		t.Errorf("expected OpExit, got %v", program.Code[1].Opcode())
	}
}

func TestCompiler_Factorial(t *testing.T) {
	program, err := Compile(factorialSource)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	p, err := vm.NewFromProgram(program, vm.MemorySize(4096), vm.HeapSize(256))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := p.Registers.Get(vm.RegEAX); got != 120 {
		t.Errorf("EAX = %d, want 120", got)
	}
	if p.StackUsed() != 0 {
		t.Errorf("stack not balanced: %d bytes used", p.StackUsed())
	}
}

func TestCompiler_DebugInformation(t *testing.T) {
	program, err := Compile(factorialSource)
	if err != nil {
		t.Fatal(err)
	}
	debug := program.Debug

	if len(debug.SourceLocations) != len(program.Code) {
		t.Fatalf("%d source locations for %d instructions", len(debug.SourceLocations), len(program.Code))
	}
	if loc, ok := debug.LocationFor(1); !ok || loc.File != "fact.bb" || loc.Line != 3 || loc.Column != 2 {
		t.Errorf("location of CALL = %+v", loc)
	}

	if len(debug.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(debug.Functions))
	}
	fn := debug.Functions[0]
	if fn.Name != "fact" || fn.Instructions.Start != 4 || fn.Instructions.End != len(program.Code)-1 {
		t.Errorf("function = %+v", fn)
	}

	scopes := debug.ScopesFor(6)
	if len(scopes) != 1 || len(scopes[0].Elements) != 1 {
		t.Fatalf("scopes = %+v", scopes)
	}
	n := scopes[0].Elements[0]
	if n.Kind != vm.ElementParameter || n.Identifier != "n" || n.Address != -16 || n.Size != 4 || n.Type.String() != "i32" {
		t.Errorf("parameter = %+v", n)
	}

	if out := vm.Disassemble(program); !strings.Contains(out, "fact:\n0004: PUSH") {
		t.Errorf("disassembly has no function label:\n%s", out)
	}
}

func TestCompiler_Operands(t *testing.T) {
	tests := []struct {
		source string
		want   vm.Operand
	}{
		{"PUSH BYTE -1", vm.Immediate(vm.Bit8, -1)},
		{"PUSH WORD 0xFFFF", vm.Immediate(vm.Bit16, 0xFFFF)},
		{"PUSH QWORD 1", vm.Immediate(vm.Bit64, 1)},
		{"PUSH 1.5", vm.Immediate(vm.Bit32, int64(math.Float32bits(1.5)))},
		{"PUSH QWORD 0.25", vm.Immediate(vm.Bit64, int64(math.Float64bits(0.25)))},
		{"PUSH RCX", vm.Reg(vm.RegRCX)},
		{"PUSH [SP + 4]", vm.MustRelative(vm.RegStackPointer, vm.Bit32, 4)},
		{"PUSH WORD [RDX]", vm.MustRelative(vm.RegRDX, vm.Bit16, 0)},
		{"PUSH BYTE [12]", vm.Operand{Mode: vm.ModePointer8, Value: 12}},
		{"x: PUSH x", vm.Immediate(vm.Bit32, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			program, err := Compile(tt.source)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			if got := program.Code[0].Operand(0); got != tt.want {
				t.Errorf("operand = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompiler_NegativeFloat(t *testing.T) {
	program, err := Compile("PUSH -2.0")
	if err != nil {
		t.Fatal(err)
	}
	got := program.Code[0].Operand(0)
	if math.Float32frombits(uint32(got.Value)) != -2 {
		t.Errorf("decoded %v", math.Float32frombits(uint32(got.Value)))
	}
}

func TestCompiler_Structs(t *testing.T) {
	source := `.struct Point x:i16 y:i16
.struct Line from:Point to:*Point tag:[3]char
.func draw
.param l Line -20
.local cursor *Point 0
	RET
.endfunc`
	program, err := Compile(source)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	elements := program.Debug.Scopes[0].Elements
	line := elements[0].Type
	if line.Name != "Line" || len(line.Fields) != 3 {
		t.Fatalf("Line type = %+v", line)
	}
	if line.Fields[1].Offset != 4 || line.Fields[2].Offset != 8 {
		t.Errorf("field offsets %d, %d, want 4, 8", line.Fields[1].Offset, line.Fields[2].Offset)
	}
	if elements[0].Size != 14 {
		t.Errorf("Line size = %d, want 14", elements[0].Size)
	}
	if got := elements[1].Type.String(); got != "*Point" {
		t.Errorf("cursor type = %s", got)
	}
	if elements[1].Kind != vm.ElementVariable {
		t.Errorf("cursor kind = %v", elements[1].Kind)
	}
}

func TestCompiler_FrameDirective(t *testing.T) {
	program, err := Compile(".frame 8 0\nNOP")
	if err != nil {
		t.Fatal(err)
	}
	off := program.Debug.FrameOffsets
	if off == nil || off.SavedCodePointer != 8 || off.SavedBasePointer != 0 {
		t.Errorf("frame offsets = %+v", off)
	}
}

func TestCompiler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   error
	}{
		{"unknown opcode", "FROB EAX", vm.ErrUnknownOpcode},
		{"operand count", "MOVE EAX", vm.ErrOperandCount},
		{"undefined label", "JMP nowhere", ErrUndefinedLabel},
		{"byte range", "PUSH BYTE 300", ErrValueRange},
		{"float width", "PUSH WORD 1.5", ErrValueRange},
		{"negative address", "PUSH [-4]", ErrValueRange},
		{"write immediate", "MOVE 1, EAX", vm.ErrWriteImmediate},
		{"bad base", "PUSH [CP + 1]", vm.ErrInvalidOperand},
		{"qword absolute", "PUSH QWORD [8]", vm.ErrInvalidOperand},
		{"unknown type", ".func f\n.local x float 0\nRET\n.endfunc", ErrUnknownType},
		{"unclosed function", ".func f\nRET", ErrDirective},
		{"empty function", ".func f\n.endfunc", ErrDirective},
		{"nested function", ".func f\n.func g\nRET\n.endfunc", ErrDirective},
		{"stray endfunc", "RET\n.endfunc", ErrDirective},
		{"param outside function", ".param x i32 0", ErrDirective},
		{"unknown directive", ".bogus", ErrDirective},
		{"duplicate struct", ".struct A x:u8\n.struct A y:u8", ErrDirective},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.source)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCompileFile_DefaultName(t *testing.T) {
	program, err := CompileFile("prog.bb", "NOP\n.file \"other.bb\"\nNOP")
	if err != nil {
		t.Fatal(err)
	}
	locs := program.Debug.SourceLocations
	if locs[0].File != "prog.bb" || locs[1].File != "other.bb" {
		t.Errorf("files = %q, %q", locs[0].File, locs[1].File)
	}
}
