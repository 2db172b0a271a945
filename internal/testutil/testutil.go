// Package testutil provides testing utilities for BBVM tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/compiler"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// Epoch is the start time of clocks returned by FixedClock.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// FixedClock returns a clock that starts at Epoch and jumps forward by the
// requested duration whenever After is called, so sleeps finish at once.
func FixedClock() *testclock.AutoAdvancingClock {
	clk := testclock.NewClock(Epoch)
	return &testclock.AutoAdvancingClock{Clock: clk, Advance: clk.Advance}
}

// TempFile creates a temporary file with the given content and extension.
// The file is removed when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// MustAssemble compiles source or fails the test.
func MustAssemble(t *testing.T, source string) *vm.Program {
	t.Helper()
	prog, err := compiler.CompileFile("test.bb", source)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return prog
}

// NewProcessor assembles source and creates a processor for it with a small
// memory and a fixed clock.
func NewProcessor(t *testing.T, source string, opts ...vm.Option) *vm.Processor {
	t.Helper()
	base := []vm.Option{vm.MemorySize(4096), vm.HeapSize(1024), vm.WithClock(FixedClock())}
	p, err := vm.NewFromProgram(MustAssemble(t, source), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

// RunToDone runs p until it is idle and fails the test on any error.
func RunToDone(t *testing.T, p *vm.Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

// TraceCSV returns a two-row tick trace in the profiler's CSV layout.
func TraceCSV() string {
	return `tick,cp,opcode,sp,bp,depth
1,0,PUSH,1028,1024,4
2,1,EXIT,1028,1024,4`
}

// TraceJSON returns the TraceCSV rows as JSON lines.
func TraceJSON() string {
	return `{"bp":1024,"cp":0,"depth":4,"opcode":"PUSH","sp":1028,"tick":1}
{"bp":1024,"cp":1,"depth":4,"opcode":"EXIT","sp":1028,"tick":2}`
}
