package vm

import "fmt"

// Opcode identifies an instruction.
type Opcode uint8

const (
	// ===== Control (0x00-0x0F) =====
	OpNop          Opcode = 0x00 // no operation
	OpExit         Opcode = 0x01 // halt: CP = len(code)
	OpCrash        Opcode = 0x02 // CRASH ptr: abort with the heap string at ptr
	OpJump         Opcode = 0x03 // JMP target
	OpJumpEqual    Opcode = 0x04 // JE target
	OpJumpNotEqual Opcode = 0x05 // JNE target
	OpJumpGreater  Opcode = 0x06 // JG target
	OpJumpGreaterE Opcode = 0x07 // JGE target
	OpJumpLess     Opcode = 0x08 // JL target
	OpJumpLessE    Opcode = 0x09 // JLE target
	OpCall         Opcode = 0x0A // CALL target: push CP+1, jump
	OpReturn       Opcode = 0x0B // RET: pop CP

	// ===== Stack (0x10-0x1F) =====
	OpPush  Opcode = 0x10 // PUSH src
	OpPop8  Opcode = 0x11 // discard 1 byte
	OpPop16 Opcode = 0x12 // discard 2 bytes
	OpPop32 Opcode = 0x13 // discard 4 bytes
	OpPop64 Opcode = 0x14 // discard 8 bytes
	OpPopTo Opcode = 0x15 // POP dst

	// ===== Data movement (0x20-0x2F) =====
	OpMove Opcode = 0x20 // MOVE dst, src

	// ===== Integer arithmetic (0x30-0x3F) =====
	OpAdd     Opcode = 0x30
	OpSub     Opcode = 0x31
	OpMul     Opcode = 0x32
	OpDiv     Opcode = 0x33
	OpMod     Opcode = 0x34
	OpCompare Opcode = 0x35 // CMP a, b: flags from a-b

	// ===== Bitwise (0x40-0x4F) =====
	OpAnd        Opcode = 0x40
	OpOr         Opcode = 0x41
	OpXor        Opcode = 0x42
	OpNot        Opcode = 0x43
	OpShiftLeft  Opcode = 0x44
	OpShiftRight Opcode = 0x45

	// ===== Floating point (0x50-0x5F) =====
	OpFloatAdd     Opcode = 0x50
	OpFloatSub     Opcode = 0x51
	OpFloatMul     Opcode = 0x52
	OpFloatDiv     Opcode = 0x53
	OpFloatCompare Opcode = 0x54
	OpIntToFloat   Opcode = 0x55 // ITOF loc: convert in place
	OpFloatToInt   Opcode = 0x56 // FTOI loc: convert in place, truncating

	// ===== Heap (0x60-0x6F) =====
	OpAllocate Opcode = 0x60 // ALLOC dst, size
	OpFree     Opcode = 0x61 // FREE ptr

	// ===== Host (0x70-0x7F) =====
	OpCallExternal Opcode = 0x70 // CALLEXT id
)

type opcodeInfo struct {
	name     string
	operands int
}

var opcodeTable = map[Opcode]opcodeInfo{
	OpNop:          {"NOP", 0},
	OpExit:         {"EXIT", 0},
	OpCrash:        {"CRASH", 1},
	OpJump:         {"JMP", 1},
	OpJumpEqual:    {"JE", 1},
	OpJumpNotEqual: {"JNE", 1},
	OpJumpGreater:  {"JG", 1},
	OpJumpGreaterE: {"JGE", 1},
	OpJumpLess:     {"JL", 1},
	OpJumpLessE:    {"JLE", 1},
	OpCall:         {"CALL", 1},
	OpReturn:       {"RET", 0},

	OpPush:  {"PUSH", 1},
	OpPop8:  {"POP8", 0},
	OpPop16: {"POP16", 0},
	OpPop32: {"POP32", 0},
	OpPop64: {"POP64", 0},
	OpPopTo: {"POP", 1},

	OpMove: {"MOVE", 2},

	OpAdd:     {"ADD", 2},
	OpSub:     {"SUB", 2},
	OpMul:     {"MUL", 2},
	OpDiv:     {"DIV", 2},
	OpMod:     {"MOD", 2},
	OpCompare: {"CMP", 2},

	OpAnd:        {"AND", 2},
	OpOr:         {"OR", 2},
	OpXor:        {"XOR", 2},
	OpNot:        {"NOT", 1},
	OpShiftLeft:  {"SHL", 2},
	OpShiftRight: {"SHR", 2},

	OpFloatAdd:     {"FADD", 2},
	OpFloatSub:     {"FSUB", 2},
	OpFloatMul:     {"FMUL", 2},
	OpFloatDiv:     {"FDIV", 2},
	OpFloatCompare: {"FCMP", 2},
	OpIntToFloat:   {"ITOF", 1},
	OpFloatToInt:   {"FTOI", 1},

	OpAllocate: {"ALLOC", 2},
	OpFree:     {"FREE", 1},

	OpCallExternal: {"CALLEXT", 1},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.name] = op
	}
	return m
}()

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(op))
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// OperandCount returns how many operands op takes.
func (op Opcode) OperandCount() int {
	return opcodeTable[op].operands
}

// IsJump reports whether the single operand of op is an instruction index.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJump, OpJumpEqual, OpJumpNotEqual, OpJumpGreater, OpJumpGreaterE,
		OpJumpLess, OpJumpLessE, OpCall:
		return true
	}
	return false
}

// OpcodeFromString converts a mnemonic to an opcode.
func OpcodeFromString(s string) (Opcode, bool) {
	op, ok := opcodeByName[s]
	return op, ok
}
