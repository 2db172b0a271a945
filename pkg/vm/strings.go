package vm

import (
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// Heap strings are UTF-16LE code units followed by a zero unit.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeUTF16(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}

func utf16EncodeRune(r rune) (uint16, uint16) {
	if r1, r2 := utf16.EncodeRune(r); r1 != '\uFFFD' || r2 != '\uFFFD' {
		return uint16(r1), uint16(r2)
	}
	return uint16(r), 0
}

// ReadString decodes the zero-terminated UTF-16LE string at addr.
func ReadString(mem Memory, addr int) (string, error) {
	end := addr
	for {
		unit, err := mem.Get(end, Bit16)
		if err != nil {
			return "", err
		}
		if unit == 0 {
			break
		}
		end += 2
	}
	raw, err := mem.Slice(addr, end-addr)
	if err != nil {
		return "", err
	}
	decoded, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// WriteString encodes s at addr with a terminating zero unit and returns the
// number of bytes written.
func WriteString(mem Memory, addr int, s string) (int, error) {
	encoded, err := encodeUTF16(s)
	if err != nil {
		return 0, err
	}
	dst, err := mem.Slice(addr, len(encoded)+2)
	if err != nil {
		return 0, err
	}
	copy(dst, encoded)
	dst[len(encoded)], dst[len(encoded)+1] = 0, 0
	return len(dst), nil
}
