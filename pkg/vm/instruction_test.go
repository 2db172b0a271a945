package vm

import (
	"errors"
	"testing"
)

func TestInstruction_Validate(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		want error
	}{
		{"nop", ins(OpNop), nil},
		{"move", ins(OpMove, Reg(RegEAX), imm(1)), nil},
		{"push immediate", ins(OpPush, imm(1)), nil},
		{"compare immediates", ins(OpCompare, imm(1), imm(2)), nil},
		{"unknown opcode", NewInstruction(Opcode(0xEE)), ErrUnknownOpcode},
		{"missing operand", ins(OpMove, Reg(RegEAX)), ErrOperandCount},
		{"extra operand", ins(OpExit, imm(0)), ErrOperandCount},
		{"bad mode", ins(OpPush, Operand{Mode: numModes, Value: 0}), ErrInvalidOperand},
		{"bad register", ins(OpPush, Operand{Mode: ModeRegister, Value: 200}), ErrInvalidOperand},
		{"negative register", ins(OpPush, Operand{Mode: ModeRegister, Value: -1}), ErrInvalidOperand},
		{"write immediate", ins(OpMove, imm(1), Reg(RegEAX)), ErrWriteImmediate},
		{"pop to immediate", ins(OpPopTo, imm(1)), ErrWriteImmediate},
		{"alloc to immediate", ins(OpAllocate, imm(1), imm(4)), ErrWriteImmediate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inst.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateCode_ReportsIndex(t *testing.T) {
	err := ValidateCode([]Instruction{ins(OpNop), ins(OpNop), ins(OpMove, imm(1), imm(2))})
	if !errors.Is(err, ErrWriteImmediate) {
		t.Fatalf("expected ErrWriteImmediate, got %v", err)
	}
	if got := err.Error(); got[:13] != "instruction 2" {
		t.Errorf("error %q does not name instruction 2", got)
	}
}

func TestInstruction_Accessors(t *testing.T) {
	inst := ins(OpAdd, Reg(RegECX), MustRelative(RegRBX, Bit32, 12))
	if inst.Opcode() != OpAdd {
		t.Errorf("expected opcode %v, got %v", OpAdd, inst.Opcode())
	}
	if inst.NumOperands() != 2 {
		t.Errorf("expected 2 operands, got %d", inst.NumOperands())
	}
	if inst.Operand(5) != (Operand{}) {
		t.Error("out of range operand is not zero")
	}

	ops := inst.Operands()
	ops[0] = imm(9)
	if inst.Operand(0) != Reg(RegECX) {
		t.Error("Operands returned shared storage")
	}
}

func TestInstruction_String(t *testing.T) {
	tests := []struct {
		inst Instruction
		want string
	}{
		{ins(OpReturn), "RET"},
		{ins(OpPush, imm(-5)), "PUSH     -5"},
		{ins(OpPush, Immediate(Bit64, 1)), "PUSH     QWORD 1"},
		{ins(OpMove, Reg(RegAL), MustRelative(RegRCX, Bit8, 0)), "MOVE     AL, BYTE [RCX]"},
		{ins(OpSub, MustRelative(RegBasePointer, Bit16, 6), Reg(RegDX)), "SUB      WORD [BP + 6], DX"},
		{ins(OpCallExternal, imm(2)), "CALLEXT  2"},
	}
	for _, tt := range tests {
		if got := tt.inst.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestOperand_Constructors(t *testing.T) {
	if _, err := Absolute(Bit64, 0); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("64-bit absolute: expected ErrInvalidOperand, got %v", err)
	}
	if _, err := Relative(RegCodePointer, Bit32, 0); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("CP base: expected ErrInvalidOperand, got %v", err)
	}
	op, err := Relative(RegStackPointer, Bit16, -2)
	if err != nil {
		t.Fatal(err)
	}
	if op.Mode != ModePointerSP16 || op.Width() != Bit16 {
		t.Errorf("got mode %d width %s", op.Mode, op.Width())
	}
	if base, ok := op.Mode.Base(); !ok || base != RegStackPointer {
		t.Errorf("Base() = %v, %v", base, ok)
	}
	if Reg(RegAH).Width() != Bit8 {
		t.Error("AH is not 8 bits wide")
	}
}

func TestOpcodeFromString(t *testing.T) {
	for op := OpNop; op <= OpCallExternal; op++ {
		if !op.Valid() {
			continue
		}
		got, ok := OpcodeFromString(op.String())
		if !ok || got != op {
			t.Errorf("OpcodeFromString(%q) = %v, %v", op.String(), got, ok)
		}
	}
	if _, ok := OpcodeFromString("BOGUS"); ok {
		t.Error("BOGUS parsed as an opcode")
	}
}
