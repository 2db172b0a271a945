package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/BBpezsgo/Interpreter-sub015/internal/testutil"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/profile"
	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

var wantTrace = []profile.Sample{
	{Tick: 1, CodePointer: 0, Opcode: vm.OpPush, StackPointer: 1028, BasePointer: 1024, StackDepth: 4},
	{Tick: 2, CodePointer: 1, Opcode: vm.OpExit, StackPointer: 1028, BasePointer: 1024, StackDepth: 4},
}

func TestLoadTrace_Formats(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
	}{
		{"csv", testutil.TraceCSV(), ".csv"},
		{"json", testutil.TraceJSON(), ".json"},
		{"jsonl", testutil.TraceJSON(), ".JSONL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := LoadTrace(testutil.TempFile(t, tt.content, tt.ext))
			if err != nil {
				t.Fatalf("LoadTrace failed: %v", err)
			}
			if !reflect.DeepEqual(samples, wantTrace) {
				t.Errorf("samples = %+v, want %+v", samples, wantTrace)
			}
		})
	}
}

func TestLoadTrace_SortsByTick(t *testing.T) {
	content := `tick,cp,opcode,sp,bp,depth
2,1,EXIT,1028,1024,4
1,0,PUSH,1028,1024,4`
	samples, err := LoadTrace(testutil.TempFile(t, content, ".csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(samples, wantTrace) {
		t.Errorf("samples = %+v", samples)
	}
}

func TestLoadTrace_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    error
	}{
		{"unknown extension", testutil.TraceCSV(), ".txt", ErrUnknownFormat},
		{"missing column", "tick,cp,opcode\n1,0,PUSH", ".csv", profile.ErrMissingColumn},
		{"bad opcode", "tick,cp,opcode,sp,bp,depth\n1,0,JUMP_AROUND,0,0,0", ".csv", profile.ErrBadValue},
		{"empty", "", ".json", ErrEmptyJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTrace(testutil.TempFile(t, tt.content, tt.ext))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := LoadTrace("/nonexistent/trace.csv"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadTrace_RecordedRoundTrip(t *testing.T) {
	p := testutil.NewProcessor(t, `
.func main
	PUSH 7
	CALL twice
	POP32
	EXIT
.endfunc
.func twice
	PUSH 0
	PUSH BP
	MOVE BP, SP
	POP BP
	POP32
	RET
.endfunc
`)
	rec := profile.Attach(p, 0)
	testutil.RunToDone(t, p)

	path := filepath.Join(t.TempDir(), "trace.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := profile.ExportCSV(context.Background(), f, rec.Frame()); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	samples, err := LoadTrace(path)
	if err != nil {
		t.Fatalf("LoadTrace failed: %v", err)
	}
	if !reflect.DeepEqual(samples, rec.Samples()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", samples, rec.Samples())
	}
}
