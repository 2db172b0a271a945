package vm

// UserCall is a host request to run a compiled function.
type UserCall struct {
	Offset    int    // instruction index of the function entry
	Arguments []byte // argument bytes, pushed as one block
	handle    *UserCallHandle
}

// UserCallHandle reports the completion of a queued user call.
type UserCallHandle struct {
	id     int
	done   bool
	result uint64
}

// ID returns the sequence number of the call.
func (h *UserCallHandle) ID() int { return h.id }

// Done reports whether the call has returned.
func (h *UserCallHandle) Done() bool { return h.done }

// Result returns RAX as it was when the call returned.
func (h *UserCallHandle) Result() uint64 { return h.result }

// userCallFrame marks the user call whose synthetic frame is on the stack.
type userCallFrame struct {
	call         *UserCall
	stackPointer int // SP before the arguments were pushed
}

// Call queues a call to the function at offset. The call starts once the
// processor is done with its current work.
func (p *Processor) Call(offset int, args []byte) *UserCallHandle {
	p.nextCallID++
	h := &UserCallHandle{id: p.nextCallID}
	p.queue = append(p.queue, &UserCall{
		Offset:    offset,
		Arguments: append([]byte(nil), args...),
		handle:    h,
	})
	return h
}

// PendingCalls returns the number of queued calls that have not started.
func (p *Processor) PendingCalls() int { return len(p.queue) }

// spliceUserCall builds the synthetic frame for call on top of the current
// stack. The frame looks like one built by CALL followed by the standard
// prologue: arguments, the return code pointer, the globals pointer and the
// saved base pointer. Registers are only updated when every push succeeds.
func spliceUserCall(regs *Registers, mem Memory, stack stackLayout, call *UserCall) (userCallFrame, error) {
	frame := userCallFrame{call: call, stackPointer: regs.StackPointer}
	sp := regs.StackPointer

	if err := stack.pushBytes(mem, &sp, call.Arguments); err != nil {
		return frame, err
	}
	globals := sp + (CodePointerSize+StackPointerSize)*stack.direction
	if err := stack.push(mem, &sp, Bit32, uint64(regs.CodePointer)); err != nil {
		return frame, err
	}
	if err := stack.push(mem, &sp, Bit32, uint64(globals)); err != nil {
		return frame, err
	}
	if err := stack.push(mem, &sp, Bit32, uint64(regs.BasePointer)); err != nil {
		return frame, err
	}

	regs.StackPointer = sp
	regs.BasePointer = sp
	regs.CodePointer = call.Offset
	return frame, nil
}

// finishUserCall pops the arguments of a completed call.
func finishUserCall(regs *Registers, stack stackLayout, frame userCallFrame) error {
	_, err := stack.drop(&regs.StackPointer, len(frame.call.Arguments))
	return err
}

// serviceUserCalls runs once the program is done: it retires the active
// user call and splices the next queued one.
func (p *Processor) serviceUserCalls() error {
	if p.active != nil {
		frame := *p.active
		if err := finishUserCall(&p.Registers, p.stack, frame); err != nil {
			return err
		}
		frame.call.handle.result = p.Registers.Get(RegRAX)
		frame.call.handle.done = true
		p.active = nil
		p.logger.Debug("user call returned", "id", frame.call.handle.id, "result", frame.call.handle.result)
	}
	if len(p.queue) == 0 {
		return nil
	}
	call := p.queue[0]
	p.queue = p.queue[1:]
	frame, err := spliceUserCall(&p.Registers, p.Memory, p.stack, call)
	if err != nil {
		return err
	}
	p.active = &frame
	p.stats.UserCalls++
	p.logger.Debug("user call spliced", "id", call.handle.id, "offset", call.Offset, "args", len(call.Arguments))
	return nil
}
