package vm

import (
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func sampleProgram() *Program {
	abs, _ := Absolute(Bit16, 100)
	i32, _ := BuiltinType("i32")
	char, _ := BuiltinType("char")
	code := []Instruction{
		ins(OpPush, Immediate(Bit8, -1)),
		ins(OpPush, Immediate(Bit16, 0x1234)),
		ins(OpPush, Immediate(Bit64, -1<<40)),
		ins(OpMove, Reg(RegEAX), imm(7)),
		ins(OpMove, abs, Reg(RegAX)),
		ins(OpMove, MustRelative(RegBasePointer, Bit32, -8), Reg(RegEBX)),
		ins(OpMove, MustRelative(RegStackPointer, Bit64, 4), Reg(RegRCX)),
		ins(OpAdd, Reg(RegDL), MustRelative(RegRAX, Bit8, 1)),
		ins(OpCall, imm(10)),
		ins(OpExit),
		ins(OpReturn),
	}
	debug := &DebugInformation{
		SourceLocations: []SourceLocation{
			{Instructions: InstructionRange{0, 9}, File: "main.bb", Line: 3, Column: 1},
		},
		Functions: []FunctionInformation{
			{Instructions: InstructionRange{0, 9}, Name: "main", File: "main.bb"},
			{Instructions: InstructionRange{10, 10}, Name: "noop", File: "main.bb"},
		},
		Scopes: []ScopeInformation{{
			Instructions: InstructionRange{0, 9},
			Elements: []StackElement{
				{Kind: ElementVariable, Identifier: "x", Type: i32, Address: 0, Size: 4},
				{Kind: ElementVariable, Identifier: "s", Type: PointerTo(ArrayOf(char, 8)), Address: 4, Size: 4},
				{Kind: ElementInternal, Identifier: "tmp", Address: 8, Size: 2},
			},
		}},
		FrameOffsets: &FrameOffsets{SavedCodePointer: -12, SavedBasePointer: -4},
	}
	return &Program{Code: code, Debug: debug}
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	prog := sampleProgram()
	data, err := SerializeProgram(prog)
	if err != nil {
		t.Fatalf("SerializeProgram failed: %v", err)
	}
	if string(data[:4]) != BytecodeMagic {
		t.Errorf("expected magic %q, got %q", BytecodeMagic, string(data[:4]))
	}

	restored, err := DeserializeProgram(data)
	if err != nil {
		t.Fatalf("DeserializeProgram failed: %v", err)
	}
	if !reflect.DeepEqual(restored.Code, prog.Code) {
		t.Errorf("code mismatch:\n got %v\nwant %v", restored.Code, prog.Code)
	}
	if !reflect.DeepEqual(restored.Debug, prog.Debug) {
		t.Errorf("debug information mismatch:\n got %+v\nwant %+v", restored.Debug, prog.Debug)
	}
}

func TestSerializeDeserialize_NoDebug(t *testing.T) {
	prog := &Program{Code: []Instruction{ins(OpNop), ins(OpExit)}}
	data, err := SerializeProgram(prog)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := DeserializeProgram(data)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Debug != nil {
		t.Errorf("expected nil debug information, got %+v", restored.Debug)
	}
	if len(restored.Code) != 2 {
		t.Errorf("expected 2 instructions, got %d", len(restored.Code))
	}
}

func TestDeserialize_Errors(t *testing.T) {
	good, err := SerializeProgram(sampleProgram())
	if err != nil {
		t.Fatal(err)
	}

	badVersion := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badVersion[4:], BytecodeVersion+1)

	// One instruction with an undefined opcode.
	badOpcode := []byte(BytecodeMagic)
	badOpcode = binary.LittleEndian.AppendUint16(badOpcode, BytecodeVersion)
	badOpcode = binary.LittleEndian.AppendUint32(badOpcode, 1)
	badOpcode = append(badOpcode, 0xEE, 0)
	badOpcode = binary.LittleEndian.AppendUint32(badOpcode, 0)

	// A huge instruction count with no instructions behind it.
	hugeCount := []byte(BytecodeMagic)
	hugeCount = binary.LittleEndian.AppendUint16(hugeCount, BytecodeVersion)
	hugeCount = binary.LittleEndian.AppendUint32(hugeCount, 1<<30)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", append([]byte("NOPE"), good[4:]...), ErrInvalidMagic},
		{"bad version", badVersion, ErrInvalidVersion},
		{"truncated header", good[:3], io.ErrUnexpectedEOF},
		{"truncated debug", good[:len(good)-1], io.ErrUnexpectedEOF},
		{"unknown opcode", badOpcode, ErrUnknownOpcode},
		{"huge count", hugeCount, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeProgram(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(sampleProgram())
	for _, want := range []string{
		"main:\n0000: PUSH     BYTE -1\n",
		"0003: MOVE     EAX, 7\n",
		"0004: MOVE     WORD [100], AX\n",
		"0005: MOVE     DWORD [BP - 8], EBX\n",
		"0006: MOVE     QWORD [SP + 4], RCX\n",
		"0009: EXIT\nnoop:\n0010: RET\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
