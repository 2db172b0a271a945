package embed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/compiler"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// echoSource copies stdin to stdout up to the first newline.
const echoSource = `
loop:
	PUSH WORD 0
	CALLEXT 1
	POP AX
	CMP AX, 10
	JE end
	PUSH AX
	CALLEXT 2
	POP16
	JMP loop
end:
	EXIT
`

func TestExecute_BasicProgram(t *testing.T) {
	result, err := Execute(`
MOVE    EAX, 6
MUL     EAX, 7
EXIT
`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("expected 42, got %d", result.Value)
	}
	if result.Stats.Instructions != 3 {
		t.Errorf("expected 3 instructions, got %d", result.Stats.Instructions)
	}
}

func TestExecute_CompileError(t *testing.T) {
	_, err := Execute("FROB EAX")
	if !errors.Is(err, vm.ErrUnknownOpcode) {
		t.Errorf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestExecuteWithOptions_Input(t *testing.T) {
	result, err := ExecuteWithOptions(echoSource, WithInput("héllo\n"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "héllo" {
		t.Errorf("expected %q, got %q", "héllo", result.Output)
	}
}

func TestExecuteWithOptions_Stdin(t *testing.T) {
	var mirror bytes.Buffer
	result, err := ExecuteWithOptions(echoSource,
		WithStdin(strings.NewReader("abc\nignored\n")),
		WithOutput(&mirror),
	)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "abc" || mirror.String() != "abc" {
		t.Errorf("output %q, mirror %q", result.Output, mirror.String())
	}
}

func TestExecuteWithOptions_InputExhausted(t *testing.T) {
	_, err := ExecuteWithOptions(echoSource, WithInput("no newline"))
	if !errors.Is(err, ErrInputExhausted) {
		t.Errorf("expected ErrInputExhausted, got %v", err)
	}

	_, err = ExecuteWithOptions(echoSource, WithStdin(strings.NewReader("")))
	if !errors.Is(err, ErrInputExhausted) {
		t.Errorf("expected ErrInputExhausted from empty reader, got %v", err)
	}
}

func TestExecuteWithOptions_TickLimit(t *testing.T) {
	result, err := ExecuteWithOptions("loop: JMP loop", WithMaxTicks(100))
	if !errors.Is(err, ErrTickLimit) {
		t.Fatalf("expected ErrTickLimit, got %v", err)
	}
	if result.Stats.Instructions != 100 {
		t.Errorf("expected 100 instructions, got %d", result.Stats.Instructions)
	}
}

func TestExecuteWithOptions_Timeout(t *testing.T) {
	_, err := ExecuteWithOptions("loop: JMP loop", WithTimeout(10*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestExecuteWithOptions_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecuteWithOptions("loop: JMP loop", WithContext(ctx))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExecuteWithOptions_Fault(t *testing.T) {
	result, err := ExecuteWithOptions("MOVE EAX, 1\nDIV EAX, 0\nEXIT")
	if !errors.Is(err, vm.ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
	var fault *vm.RuntimeFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *vm.RuntimeFault, got %T", err)
	}
	if fault.Context.Registers.CodePointer != 1 {
		t.Errorf("fault at %d, want 1", fault.Context.Registers.CodePointer)
	}
	if result == nil || result.Value != 1 {
		t.Errorf("partial result = %+v", result)
	}
}

func TestExecuteWithOptions_Externals(t *testing.T) {
	double := vm.ExternalFunction{
		ID:             100,
		Name:           "double",
		ParametersSize: 4,
		ReturnSize:     4,
		Func: func(p *vm.Processor, params, ret []byte) error {
			binary.LittleEndian.PutUint32(ret, 2*binary.LittleEndian.Uint32(params))
			return nil
		},
	}
	result, err := ExecuteWithOptions(`
PUSH 0
PUSH 21
CALLEXT 100
POP32
POP EAX
EXIT
`, WithExternals(double))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("expected 42, got %d", result.Value)
	}
	if result.Stats.ExternalCalls != 1 {
		t.Errorf("expected 1 external call, got %d", result.Stats.ExternalCalls)
	}
}

func TestExecuteWithOptions_VMOptions(t *testing.T) {
	_, err := ExecuteWithOptions("EXIT", WithVMOptions(vm.HeapSize(1<<30)))
	if !errors.Is(err, vm.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	result, err := ExecuteWithOptions("PUSH 7\nPOP EAX\nEXIT", WithVMOptions(vm.StackDirection(-1)))
	if err != nil || result.Value != 7 {
		t.Errorf("downward stack: %v, %+v", err, result)
	}
}

func TestExecuteFile_SourceAndBytecode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "answer.bbs")
	if err := os.WriteFile(src, []byte("MOVE EAX, 42\nEXIT\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := ExecuteFile(src)
	if err != nil {
		t.Fatalf("ExecuteFile failed: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("expected 42, got %d", result.Value)
	}

	program, err := compiler.Compile("MOVE EAX, 43\nEXIT")
	if err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "answer"+BytecodeExt)
	if err := vm.SaveProgram(bin, program); err != nil {
		t.Fatal(err)
	}
	result, err = ExecuteFile(bin)
	if err != nil {
		t.Fatalf("ExecuteFile failed: %v", err)
	}
	if result.Value != 43 {
		t.Errorf("expected 43, got %d", result.Value)
	}
}

func TestExecuteFile_Missing(t *testing.T) {
	if _, err := ExecuteFile(filepath.Join(t.TempDir(), "missing.bbs")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestExecuteProgram_Setup(t *testing.T) {
	program, err := compiler.Compile("PUSH 1\nPOP32\nEXIT")
	if err != nil {
		t.Fatal(err)
	}
	var seen []vm.Opcode
	_, err = ExecuteProgram(program, WithSetup(func(p *vm.Processor) {
		p.OnTick(func(ev vm.TickEvent) { seen = append(seen, ev.Opcode) })
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != vm.OpPush || seen[2] != vm.OpExit {
		t.Errorf("observed %v", seen)
	}
}
