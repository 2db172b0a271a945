package vm

import (
	"fmt"
	"strings"
)

// AddressingMode tells the processor how to interpret an operand value.
type AddressingMode uint8

const (
	ModeImmediate8 AddressingMode = iota
	ModeImmediate16
	ModeImmediate32
	ModeImmediate64

	ModePointer8 // absolute address
	ModePointer16
	ModePointer32

	ModeRegister // value is a Register

	ModePointerBP8
	ModePointerBP16
	ModePointerBP32
	ModePointerBP64

	ModePointerSP8
	ModePointerSP16
	ModePointerSP32
	ModePointerSP64

	ModePointerRAX8
	ModePointerRAX16
	ModePointerRAX32
	ModePointerRAX64

	ModePointerRBX8
	ModePointerRBX16
	ModePointerRBX32
	ModePointerRBX64

	ModePointerRCX8
	ModePointerRCX16
	ModePointerRCX32
	ModePointerRCX64

	ModePointerRDX8
	ModePointerRDX16
	ModePointerRDX32
	ModePointerRDX64

	numModes
)

type modeKind uint8

const (
	kindImmediate modeKind = iota
	kindAbsolute
	kindRegister
	kindRelative
)

type modeInfo struct {
	kind  modeKind
	width BitWidth
	base  Register
}

var modeTable = func() [numModes]modeInfo {
	var t [numModes]modeInfo
	widths := [4]BitWidth{Bit8, Bit16, Bit32, Bit64}
	for i, w := range widths {
		t[ModeImmediate8+AddressingMode(i)] = modeInfo{kind: kindImmediate, width: w}
	}
	for i, w := range widths[:3] {
		t[ModePointer8+AddressingMode(i)] = modeInfo{kind: kindAbsolute, width: w}
	}
	t[ModeRegister] = modeInfo{kind: kindRegister}
	bases := []struct {
		first AddressingMode
		reg   Register
	}{
		{ModePointerBP8, RegBasePointer},
		{ModePointerSP8, RegStackPointer},
		{ModePointerRAX8, RegRAX},
		{ModePointerRBX8, RegRBX},
		{ModePointerRCX8, RegRCX},
		{ModePointerRDX8, RegRDX},
	}
	for _, b := range bases {
		for i, w := range widths {
			t[b.first+AddressingMode(i)] = modeInfo{kind: kindRelative, width: w, base: b.reg}
		}
	}
	return t
}()

// Valid reports whether m is a defined addressing mode.
func (m AddressingMode) Valid() bool {
	return m < numModes
}

// IsImmediate reports whether m carries a literal.
func (m AddressingMode) IsImmediate() bool {
	return m.Valid() && modeTable[m].kind == kindImmediate
}

// IsRegister reports whether m names a register.
func (m AddressingMode) IsRegister() bool {
	return m == ModeRegister
}

// IsMemory reports whether m refers to memory.
func (m AddressingMode) IsMemory() bool {
	if !m.Valid() {
		return false
	}
	k := modeTable[m].kind
	return k == kindAbsolute || k == kindRelative
}

// Base returns the base register of a register-relative mode.
func (m AddressingMode) Base() (Register, bool) {
	if !m.Valid() || modeTable[m].kind != kindRelative {
		return 0, false
	}
	return modeTable[m].base, true
}

// Operand is an addressing mode plus its value: a literal, an address, a
// register id or an offset from a base register.
type Operand struct {
	Mode  AddressingMode
	Value int64
}

// Immediate builds a literal operand.
func Immediate(w BitWidth, v int64) Operand {
	switch w {
	case Bit8:
		return Operand{Mode: ModeImmediate8, Value: v}
	case Bit16:
		return Operand{Mode: ModeImmediate16, Value: v}
	case Bit64:
		return Operand{Mode: ModeImmediate64, Value: v}
	default:
		return Operand{Mode: ModeImmediate32, Value: v}
	}
}

// Absolute builds an operand that refers to memory at a fixed address.
// Absolute operands are at most 32 bits wide.
func Absolute(w BitWidth, addr int64) (Operand, error) {
	switch w {
	case Bit8:
		return Operand{Mode: ModePointer8, Value: addr}, nil
	case Bit16:
		return Operand{Mode: ModePointer16, Value: addr}, nil
	case Bit32:
		return Operand{Mode: ModePointer32, Value: addr}, nil
	}
	return Operand{}, fmt.Errorf("%w: no %s absolute addressing mode", ErrInvalidOperand, w.Keyword())
}

// Reg builds a register operand.
func Reg(r Register) Operand {
	return Operand{Mode: ModeRegister, Value: int64(r)}
}

// Relative builds an operand that refers to memory at base+offset. base must
// be BP, SP, RAX, RBX, RCX or RDX.
func Relative(base Register, w BitWidth, offset int64) (Operand, error) {
	for m := ModePointerBP8; m < numModes; m++ {
		info := modeTable[m]
		if info.base == base && info.width == w {
			return Operand{Mode: m, Value: offset}, nil
		}
	}
	return Operand{}, fmt.Errorf("%w: %s cannot be used as a %s base", ErrInvalidOperand, base, w.Keyword())
}

// MustRelative is like Relative but panics on an invalid base.
func MustRelative(base Register, w BitWidth, offset int64) Operand {
	op, err := Relative(base, w, offset)
	if err != nil {
		panic(err)
	}
	return op
}

// Width returns the width of the value the operand denotes.
func (o Operand) Width() BitWidth {
	if !o.Mode.Valid() {
		return 0
	}
	if o.Mode == ModeRegister {
		return Register(o.Value).Width()
	}
	return modeTable[o.Mode].width
}

// String formats the operand in assembler syntax.
func (o Operand) String() string {
	if !o.Mode.Valid() {
		return fmt.Sprintf("<mode %d: %d>", o.Mode, o.Value)
	}
	info := modeTable[o.Mode]
	switch info.kind {
	case kindImmediate:
		if info.width == Bit32 {
			return fmt.Sprintf("%d", o.Value)
		}
		return fmt.Sprintf("%s %d", info.width.Keyword(), o.Value)
	case kindAbsolute:
		return fmt.Sprintf("%s [%d]", info.width.Keyword(), o.Value)
	case kindRegister:
		return Register(o.Value).String()
	default:
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s [%s", info.width.Keyword(), info.base)
		switch {
		case o.Value > 0:
			fmt.Fprintf(&sb, " + %d", o.Value)
		case o.Value < 0:
			fmt.Fprintf(&sb, " - %d", -o.Value)
		}
		sb.WriteByte(']')
		return sb.String()
	}
}

// LocationKind says where a resolved operand lives.
type LocationKind uint8

const (
	LocationImmediate LocationKind = iota
	LocationRegister
	LocationMemory
)

// Location is a resolved operand.
type Location struct {
	Kind     LocationKind
	Width    BitWidth
	Value    int64 // LocationImmediate
	Register Register
	Address  int // LocationMemory
}

func (l Location) String() string {
	switch l.Kind {
	case LocationImmediate:
		return fmt.Sprintf("immediate %d", l.Value)
	case LocationRegister:
		return "register " + l.Register.String()
	default:
		return fmt.Sprintf("%s [%d]", l.Width.Keyword(), l.Address)
	}
}

// resolve maps an operand to the place it denotes under the given register
// state. It never touches memory. SP-relative offsets are measured in the
// direction the stack grows; every other base adds the offset unscaled.
func resolve(regs *Registers, direction int, op Operand) (Location, error) {
	if !op.Mode.Valid() {
		return Location{}, signalf(SignalInvalidInstruction, "unknown addressing mode %d", op.Mode)
	}
	info := modeTable[op.Mode]
	switch info.kind {
	case kindImmediate:
		return Location{Kind: LocationImmediate, Width: info.width, Value: op.Value}, nil
	case kindAbsolute:
		return Location{Kind: LocationMemory, Width: info.width, Address: int(op.Value)}, nil
	case kindRegister:
		r := Register(op.Value)
		if op.Value < 0 || !r.Valid() {
			return Location{}, signalf(SignalInvalidInstruction, "unknown register %d", op.Value)
		}
		return Location{Kind: LocationRegister, Width: r.Width(), Register: r}, nil
	case kindRelative:
		base := int64(regs.Get(info.base))
		offset := op.Value
		if info.base == RegStackPointer {
			offset *= int64(direction)
		}
		return Location{Kind: LocationMemory, Width: info.width, Address: int(base + offset)}, nil
	}
	return Location{}, signalf(SignalInvalidInstruction, "unhandled addressing mode %d", op.Mode)
}
