package vm

import (
	"fmt"
	"strings"
)

// Register identifies a register or a width alias of a general register.
type Register uint8

const (
	RegCodePointer Register = iota
	RegStackPointer
	RegBasePointer

	RegRAX
	RegEAX
	RegAX
	RegAH
	RegAL

	RegRBX
	RegEBX
	RegBX
	RegBH
	RegBL

	RegRCX
	RegECX
	RegCX
	RegCH
	RegCL

	RegRDX
	RegEDX
	RegDX
	RegDH
	RegDL

	numRegisters
)

// Pointer registers are 32 bits wide.
const (
	CodePointerSize  = 4
	StackPointerSize = 4
	BasePointerSize  = 4
	PointerSize      = 4
)

type registerAlias struct {
	name   string
	slot   int // index into Registers.general, -1 for CP/SP/BP
	offset int // byte offset inside the 64-bit slot
	width  BitWidth
}

var registerTable = [numRegisters]registerAlias{
	RegCodePointer:  {"CP", -1, 0, Bit32},
	RegStackPointer: {"SP", -1, 0, Bit32},
	RegBasePointer:  {"BP", -1, 0, Bit32},

	RegRAX: {"RAX", 0, 0, Bit64},
	RegEAX: {"EAX", 0, 0, Bit32},
	RegAX:  {"AX", 0, 0, Bit16},
	RegAH:  {"AH", 0, 1, Bit8},
	RegAL:  {"AL", 0, 0, Bit8},

	RegRBX: {"RBX", 1, 0, Bit64},
	RegEBX: {"EBX", 1, 0, Bit32},
	RegBX:  {"BX", 1, 0, Bit16},
	RegBH:  {"BH", 1, 1, Bit8},
	RegBL:  {"BL", 1, 0, Bit8},

	RegRCX: {"RCX", 2, 0, Bit64},
	RegECX: {"ECX", 2, 0, Bit32},
	RegCX:  {"CX", 2, 0, Bit16},
	RegCH:  {"CH", 2, 1, Bit8},
	RegCL:  {"CL", 2, 0, Bit8},

	RegRDX: {"RDX", 3, 0, Bit64},
	RegEDX: {"EDX", 3, 0, Bit32},
	RegDX:  {"DX", 3, 0, Bit16},
	RegDH:  {"DH", 3, 1, Bit8},
	RegDL:  {"DL", 3, 0, Bit8},
}

// Valid reports whether r names a known register.
func (r Register) Valid() bool {
	return r < numRegisters
}

// Width returns the width of the register or alias.
func (r Register) Width() BitWidth {
	if !r.Valid() {
		return 0
	}
	return registerTable[r].width
}

func (r Register) String() string {
	if !r.Valid() {
		return fmt.Sprintf("R?%d", uint8(r))
	}
	return registerTable[r].name
}

// ParseRegister looks up a register by its assembler name (case-insensitive).
func ParseRegister(name string) (Register, bool) {
	upper := strings.ToUpper(name)
	for r := Register(0); r < numRegisters; r++ {
		if registerTable[r].name == upper {
			return r, true
		}
	}
	return 0, false
}

// Flags holds the condition bits set by arithmetic and comparisons.
type Flags uint8

const (
	FlagZero Flags = 1 << iota
	FlagSign
	FlagCarry
	FlagOverflow
)

// Has reports whether flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f *Flags) set(flag Flags, on bool) {
	if on {
		*f |= flag
	} else {
		*f &^= flag
	}
}

func (f Flags) String() string {
	var sb strings.Builder
	for _, bit := range []struct {
		flag Flags
		ch   byte
	}{{FlagZero, 'Z'}, {FlagSign, 'S'}, {FlagCarry, 'C'}, {FlagOverflow, 'O'}} {
		if f.Has(bit.flag) {
			sb.WriteByte(bit.ch)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Registers is the processor's register file. The general registers are
// stored as raw little-endian bytes so that aliases overlap the way they do
// on x86: AL is byte 0 of RAX, AH is byte 1.
type Registers struct {
	CodePointer  int
	StackPointer int
	BasePointer  int
	Flags        Flags

	general [4][8]byte
}

// Get returns the zero-extended value of r.
func (rs *Registers) Get(r Register) uint64 {
	switch r {
	case RegCodePointer:
		return uint64(uint32(rs.CodePointer))
	case RegStackPointer:
		return uint64(uint32(rs.StackPointer))
	case RegBasePointer:
		return uint64(uint32(rs.BasePointer))
	}
	if !r.Valid() {
		return 0
	}
	alias := registerTable[r]
	return getUint(rs.general[alias.slot][alias.offset:], alias.width)
}

// Set writes the low bits of v into r. A narrow alias write leaves the other
// bytes of its general register untouched.
func (rs *Registers) Set(r Register, v uint64) {
	switch r {
	case RegCodePointer:
		rs.CodePointer = int(int32(uint32(v)))
		return
	case RegStackPointer:
		rs.StackPointer = int(int32(uint32(v)))
		return
	case RegBasePointer:
		rs.BasePointer = int(int32(uint32(v)))
		return
	}
	if !r.Valid() {
		return
	}
	alias := registerTable[r]
	putUint(rs.general[alias.slot][alias.offset:], alias.width, v)
}

// Reset zeroes every register.
func (rs *Registers) Reset() {
	*rs = Registers{}
}
