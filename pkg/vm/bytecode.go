package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Bytecode file format:
// - Magic: "BBVM" (4 bytes)
// - Version: uint16
// - NumInstructions: uint32
// - Instructions: opcode uint8, operand count uint8, then per operand
//   mode uint8 and value int64
// - DebugLength: uint32 (0 when the program has no debug information)
// - Debug: canonical CBOR encoding of DebugInformation
//
// All integers are little-endian.

const (
	BytecodeMagic   = "BBVM"
	BytecodeVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid bytecode magic")
	ErrInvalidVersion = errors.New("unsupported bytecode version")
)

// Program is an instruction stream with optional debug information.
type Program struct {
	Code  []Instruction
	Debug *DebugInformation
}

var debugEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: cbor enc mode: %v", err))
	}
	return em
}()

// SerializeProgram serializes a Program to bytecode format.
func SerializeProgram(p *Program) ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.WriteString(BytecodeMagic)
	if err := binary.Write(buf, binary.LittleEndian, uint16(BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.Code))); err != nil {
		return nil, fmt.Errorf("writing instruction count: %w", err)
	}
	for i, inst := range p.Code {
		buf.WriteByte(byte(inst.op))
		buf.WriteByte(inst.n)
		for _, op := range inst.operands[:inst.n] {
			buf.WriteByte(byte(op.Mode))
			if err := binary.Write(buf, binary.LittleEndian, op.Value); err != nil {
				return nil, fmt.Errorf("writing instruction %d: %w", i, err)
			}
		}
	}

	var debug []byte
	if p.Debug != nil {
		var err error
		if debug, err = debugEncMode.Marshal(p.Debug); err != nil {
			return nil, fmt.Errorf("encoding debug information: %w", err)
		}
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(debug))); err != nil {
		return nil, fmt.Errorf("writing debug length: %w", err)
	}
	buf.Write(debug)

	return buf.Bytes(), nil
}

// DeserializeProgram deserializes bytecode to a Program. Every instruction
// is validated.
func DeserializeProgram(data []byte) (*Program, error) {
	buf := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(buf, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != BytecodeMagic {
		return nil, ErrInvalidMagic
	}

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != BytecodeVersion {
		return nil, ErrInvalidVersion
	}

	var numInst uint32
	if err := binary.Read(buf, binary.LittleEndian, &numInst); err != nil {
		return nil, fmt.Errorf("reading instruction count: %w", err)
	}
	// Each instruction takes at least two bytes.
	if int64(numInst)*2 > int64(buf.Len()) {
		return nil, fmt.Errorf("reading instructions: %w", io.ErrUnexpectedEOF)
	}
	code := make([]Instruction, numInst)
	for i := range code {
		var head [2]byte
		if _, err := io.ReadFull(buf, head[:]); err != nil {
			return nil, fmt.Errorf("reading instruction %d: %w", i, err)
		}
		if head[1] > 2 {
			return nil, fmt.Errorf("instruction %d: %w: %d operands", i, ErrOperandCount, head[1])
		}
		inst := Instruction{op: Opcode(head[0]), n: head[1]}
		for j := range int(inst.n) {
			mode, err := buf.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("reading instruction %d: %w", i, err)
			}
			inst.operands[j].Mode = AddressingMode(mode)
			if err := binary.Read(buf, binary.LittleEndian, &inst.operands[j].Value); err != nil {
				return nil, fmt.Errorf("reading instruction %d: %w", i, err)
			}
		}
		code[i] = inst
	}
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	var debugLen uint32
	if err := binary.Read(buf, binary.LittleEndian, &debugLen); err != nil {
		return nil, fmt.Errorf("reading debug length: %w", err)
	}
	prog := &Program{Code: code}
	if debugLen > 0 {
		if int64(debugLen) > int64(buf.Len()) {
			return nil, fmt.Errorf("reading debug information: %w", io.ErrUnexpectedEOF)
		}
		raw := make([]byte, debugLen)
		if _, err := io.ReadFull(buf, raw); err != nil {
			return nil, fmt.Errorf("reading debug information: %w", err)
		}
		prog.Debug = new(DebugInformation)
		if err := cbor.Unmarshal(raw, prog.Debug); err != nil {
			return nil, fmt.Errorf("decoding debug information: %w", err)
		}
	}
	return prog, nil
}

// Disassemble converts a Program back to assembly source code. Function
// starts from the debug information become labels.
func Disassemble(p *Program) string {
	var sb strings.Builder
	labels := make(map[int]string)
	if p.Debug != nil {
		for _, fn := range p.Debug.Functions {
			labels[fn.Instructions.Start] = fn.Name
		}
	}
	for i, inst := range p.Code {
		if name, ok := labels[i]; ok {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		fmt.Fprintf(&sb, "%04d: %s\n", i, inst)
	}
	return sb.String()
}
