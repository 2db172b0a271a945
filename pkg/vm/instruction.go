package vm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrOperandCount    = errors.New("wrong operand count")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrWriteImmediate  = errors.New("immediate operand used as destination")
	ErrProgramTooLarge = errors.New("program too large")
)

// Instruction is an opcode with up to two operands. Instructions are values
// and are never modified once built.
type Instruction struct {
	op       Opcode
	n        uint8
	operands [2]Operand
}

// NewInstruction builds an instruction. It does not validate; see Validate.
func NewInstruction(op Opcode, operands ...Operand) Instruction {
	inst := Instruction{op: op, n: uint8(min(len(operands), 2))}
	copy(inst.operands[:], operands)
	return inst
}

// Opcode returns the opcode.
func (inst Instruction) Opcode() Opcode {
	return inst.op
}

// NumOperands returns the number of operands.
func (inst Instruction) NumOperands() int {
	return int(inst.n)
}

// Operand returns operand i. It returns the zero Operand when i is out of
// range.
func (inst Instruction) Operand(i int) Operand {
	if i < 0 || i >= int(inst.n) {
		return Operand{}
	}
	return inst.operands[i]
}

// Operands returns a copy of the operand list.
func (inst Instruction) Operands() []Operand {
	return append([]Operand(nil), inst.operands[:inst.n]...)
}

// Validate checks the opcode, the operand count and every addressing mode.
func (inst Instruction) Validate() error {
	if !inst.op.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(inst.op))
	}
	if want := inst.op.OperandCount(); int(inst.n) != want {
		return fmt.Errorf("%w: %s takes %d, got %d", ErrOperandCount, inst.op, want, inst.n)
	}
	for i := range int(inst.n) {
		o := inst.operands[i]
		if !o.Mode.Valid() {
			return fmt.Errorf("%w: operand %d of %s has mode %d", ErrInvalidOperand, i+1, inst.op, o.Mode)
		}
		if o.Mode == ModeRegister && (o.Value < 0 || !Register(o.Value).Valid()) {
			return fmt.Errorf("%w: operand %d of %s names register %d", ErrInvalidOperand, i+1, inst.op, o.Value)
		}
	}
	if inst.writesFirst() && inst.n > 0 && inst.operands[0].Mode.IsImmediate() {
		return fmt.Errorf("%w: %s", ErrWriteImmediate, inst)
	}
	return nil
}

// writesFirst reports whether the first operand is a destination.
func (inst Instruction) writesFirst() bool {
	switch inst.op {
	case OpPopTo, OpMove, OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpAnd, OpOr, OpXor, OpNot, OpShiftLeft, OpShiftRight,
		OpFloatAdd, OpFloatSub, OpFloatMul, OpFloatDiv,
		OpIntToFloat, OpFloatToInt, OpAllocate:
		return true
	}
	return false
}

// String formats the instruction in assembler syntax.
func (inst Instruction) String() string {
	if inst.n == 0 {
		return inst.op.String()
	}
	parts := make([]string, inst.n)
	for i := range parts {
		parts[i] = inst.operands[i].String()
	}
	return fmt.Sprintf("%-8s %s", inst.op, strings.Join(parts, ", "))
}

// ValidateCode validates every instruction of a stream.
func ValidateCode(code []Instruction) error {
	if len(code) > 1<<31-1 {
		return ErrProgramTooLarge
	}
	for i, inst := range code {
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}
