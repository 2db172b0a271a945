package vm

// Frame is one entry of a call trace: the code pointer the frame will
// resume at and its base pointer.
type Frame struct {
	CodePointer int `json:"cp"`
	BasePointer int `json:"bp"`
}

// FrameLayout tells TraceCalls where saved pointers live and which
// addresses belong to the stack.
type FrameLayout struct {
	Offsets   FrameOffsets
	StackLow  int // first stack byte
	StackHigh int // one past the last stack byte
}

// FrameLayout returns the layout used to trace this processor's stack.
func (p *Processor) FrameLayout() FrameLayout {
	return FrameLayout{
		Offsets:   p.debug.Offsets(p.stack.direction),
		StackLow:  p.stack.low,
		StackHigh: p.stack.high,
	}
}

func (l FrameLayout) read(mem Memory, addr int) (int, bool) {
	if addr < l.StackLow || addr+4 > l.StackHigh {
		return 0, false
	}
	v, err := mem.GetSigned(addr, Bit32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// TraceCalls follows the chain of saved base pointers starting at bp and
// returns the caller frames, innermost first. It stops when a saved base
// pointer repeats one already visited, or when a slot falls outside the
// stack. It never fails; a corrupt stack yields a shorter trace.
func TraceCalls(mem Memory, bp int, layout FrameLayout) []Frame {
	var frames []Frame
	visited := map[int]bool{bp: true}
	for {
		savedBP, ok := layout.read(mem, bp+layout.Offsets.SavedBasePointer)
		if !ok {
			break
		}
		savedCP, ok := layout.read(mem, bp+layout.Offsets.SavedCodePointer)
		if !ok {
			break
		}
		if visited[savedBP] {
			break
		}
		visited[savedBP] = true
		frames = append(frames, Frame{CodePointer: savedCP, BasePointer: savedBP})
		bp = savedBP
	}
	return frames
}
