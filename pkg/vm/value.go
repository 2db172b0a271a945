package vm

import (
	"encoding/binary"
	"fmt"
)

// BitWidth is the width of a register alias or a memory operand.
type BitWidth uint8

const (
	Bit8  BitWidth = 8
	Bit16 BitWidth = 16
	Bit32 BitWidth = 32
	Bit64 BitWidth = 64
)

// Size returns the width in bytes.
func (w BitWidth) Size() int {
	return int(w) / 8
}

// Valid reports whether w is one of the four supported widths.
func (w BitWidth) Valid() bool {
	switch w {
	case Bit8, Bit16, Bit32, Bit64:
		return true
	}
	return false
}

func (w BitWidth) mask() uint64 {
	if w >= Bit64 {
		return ^uint64(0)
	}
	return 1<<w - 1
}

// Keyword returns the assembler size keyword for w.
func (w BitWidth) Keyword() string {
	switch w {
	case Bit8:
		return "BYTE"
	case Bit16:
		return "WORD"
	case Bit32:
		return "DWORD"
	case Bit64:
		return "QWORD"
	}
	return fmt.Sprintf("BITS%d", uint8(w))
}

func (w BitWidth) String() string {
	return fmt.Sprintf("%d", uint8(w))
}

// WidthFromKeyword is the inverse of Keyword.
func WidthFromKeyword(s string) (BitWidth, bool) {
	switch s {
	case "BYTE":
		return Bit8, true
	case "WORD":
		return Bit16, true
	case "DWORD":
		return Bit32, true
	case "QWORD":
		return Bit64, true
	}
	return 0, false
}

// WidthForSize returns the width that holds exactly n bytes.
func WidthForSize(n int) (BitWidth, bool) {
	w := BitWidth(n * 8)
	return w, n > 0 && w.Valid()
}

func truncate(v uint64, w BitWidth) uint64 {
	return v & w.mask()
}

func signExtend(v uint64, w BitWidth) int64 {
	shift := 64 - uint(w)
	return int64(v<<shift) >> shift
}

func signBit(v uint64, w BitWidth) bool {
	return v>>(uint(w)-1)&1 == 1
}

// getUint decodes a little-endian value of width w from the front of b.
func getUint(b []byte, w BitWidth) uint64 {
	switch w {
	case Bit8:
		return uint64(b[0])
	case Bit16:
		return uint64(binary.LittleEndian.Uint16(b))
	case Bit32:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// putUint encodes the low w bits of v little-endian into the front of b.
func putUint(b []byte, w BitWidth, v uint64) {
	switch w {
	case Bit8:
		b[0] = byte(v)
	case Bit16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Bit32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
