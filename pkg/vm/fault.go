package vm

import (
	"bytes"
	"fmt"
)

// RuntimeContext is a frozen copy of the processor at the moment of a
// fault. It shares nothing mutable with the processor.
type RuntimeContext struct {
	Registers      Registers
	Memory         Memory
	Code           []Instruction
	StackStart     int
	StackDirection int
	HeapStart      int
	HeapSize       int
	Layout         FrameLayout
	CallTrace      []Frame
}

// RuntimeFault is the error returned by Tick when a fatal signal is raised.
type RuntimeFault struct {
	Signal  Signal
	Message string
	Context RuntimeContext
	Debug   *DebugInformation
}

func newRuntimeFault(p *Processor, signal Signal, message string) *RuntimeFault {
	mem := bytes.Clone(p.Memory)
	layout := p.FrameLayout()
	return &RuntimeFault{
		Signal:  signal,
		Message: message,
		Debug:   p.debug,
		Context: RuntimeContext{
			Registers:      p.Registers,
			Memory:         mem,
			Code:           p.code,
			StackStart:     p.stack.start,
			StackDirection: p.stack.direction,
			HeapStart:      p.heap.Start(),
			HeapSize:       p.heap.Size(),
			Layout:         layout,
			CallTrace:      TraceCalls(mem, p.Registers.BasePointer, layout),
		},
	}
}

func (f *RuntimeFault) Error() string {
	if loc, ok := f.Debug.LocationFor(f.Context.Registers.CodePointer); ok {
		return fmt.Sprintf("%s: %s (at %s)", f.Signal, f.Message, loc)
	}
	return fmt.Sprintf("%s: %s (at instruction %d)", f.Signal, f.Message, f.Context.Registers.CodePointer)
}

// Unwrap exposes the signal's sentinel error to errors.Is.
func (f *RuntimeFault) Unwrap() error {
	return f.Signal.Err()
}

// FrameReport is one call-stack entry of a FaultReport.
type FrameReport struct {
	CodePointer int    `json:"cp"`
	BasePointer int    `json:"bp"`
	Function    string `json:"function,omitempty"`
	Location    string `json:"location,omitempty"`
}

// FaultReport is a serializable summary of a RuntimeFault.
type FaultReport struct {
	Signal       string        `json:"signal"`
	Message      string        `json:"message"`
	CodePointer  int           `json:"cp"`
	StackPointer int           `json:"sp"`
	BasePointer  int           `json:"bp"`
	Flags        string        `json:"flags"`
	Instruction  string        `json:"instruction,omitempty"`
	Frames       []FrameReport `json:"frames"`
}

// Report summarizes the fault. The first frame is the faulting one.
func (f *RuntimeFault) Report() FaultReport {
	regs := f.Context.Registers
	r := FaultReport{
		Signal:       f.Signal.String(),
		Message:      f.Message,
		CodePointer:  regs.CodePointer,
		StackPointer: regs.StackPointer,
		BasePointer:  regs.BasePointer,
		Flags:        regs.Flags.String(),
	}
	if cp := regs.CodePointer; cp >= 0 && cp < len(f.Context.Code) {
		r.Instruction = f.Context.Code[cp].String()
	}
	for i, fr := range f.frames() {
		cp := fr.CodePointer
		if i > 0 {
			cp--
		}
		entry := FrameReport{CodePointer: fr.CodePointer, BasePointer: fr.BasePointer}
		if fn, ok := f.Debug.FunctionFor(cp); ok {
			entry.Function = fn.Name
		}
		if loc, ok := f.Debug.LocationFor(cp); ok {
			entry.Location = loc.String()
		}
		r.Frames = append(r.Frames, entry)
	}
	return r
}

// frames returns the faulting frame followed by the call trace.
func (f *RuntimeFault) frames() []Frame {
	regs := f.Context.Registers
	return append([]Frame{{CodePointer: regs.CodePointer, BasePointer: regs.BasePointer}}, f.Context.CallTrace...)
}
