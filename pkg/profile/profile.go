// Package profile records the instruction stream of a running processor
// and turns it into dataframes that can be exported, reloaded and plotted.
//
// Basic usage:
//
//	rec := profile.Attach(p, 0)
//	err := p.Run(ctx)
//	df := rec.Frame()
//	err = profile.ExportCSV(ctx, os.Stdout, df)
package profile

import (
	"errors"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// Error definitions
var (
	ErrNoSamples     = errors.New("no samples recorded")
	ErrMissingColumn = errors.New("missing trace column")
	ErrBadValue      = errors.New("invalid trace value")
)

// Column names of a tick trace frame, in export order.
const (
	ColumnTick   = "tick"
	ColumnCP     = "cp"
	ColumnOpcode = "opcode"
	ColumnSP     = "sp"
	ColumnBP     = "bp"
	ColumnDepth  = "depth"
)

// Columns lists the trace columns in export order.
var Columns = []string{ColumnTick, ColumnCP, ColumnOpcode, ColumnSP, ColumnBP, ColumnDepth}

// Sample is the processor state right after one instruction executed.
type Sample struct {
	Tick         int64
	CodePointer  int
	Opcode       vm.Opcode
	StackPointer int
	BasePointer  int
	StackDepth   int // bytes of stack in use
}

// Recorder collects samples from a processor's tick observer.
type Recorder struct {
	proc    *vm.Processor
	limit   int
	samples []Sample
	dropped int64
}

// Attach installs a recorder as p's tick observer, replacing any observer
// already installed. At most limit samples are kept; later ones are counted
// as dropped. A limit of zero or less keeps everything.
func Attach(p *vm.Processor, limit int) *Recorder {
	r := &Recorder{proc: p, limit: limit}
	p.OnTick(r.record)
	return r
}

func (r *Recorder) record(ev vm.TickEvent) {
	if r.limit > 0 && len(r.samples) >= r.limit {
		r.dropped++
		return
	}
	r.samples = append(r.samples, Sample{
		Tick:         ev.Tick,
		CodePointer:  ev.CodePointer,
		Opcode:       ev.Opcode,
		StackPointer: ev.StackPointer,
		BasePointer:  ev.BasePointer,
		StackDepth:   r.proc.StackUsed(),
	})
}

// Detach removes the recorder from its processor.
func (r *Recorder) Detach() {
	r.proc.OnTick(nil)
}

// Samples returns the recorded samples in execution order.
func (r *Recorder) Samples() []Sample {
	return r.samples
}

// Dropped returns how many samples were discarded because of the limit.
func (r *Recorder) Dropped() int64 {
	return r.dropped
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.samples = nil
	r.dropped = 0
}

// Frame returns the recorded samples as a tick trace dataframe.
func (r *Recorder) Frame() *dataframe.DataFrame {
	return FrameOf(r.samples)
}
