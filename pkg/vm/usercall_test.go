package vm

import (
	"encoding/binary"
	"testing"
)

func TestSpliceUserCall_BuildsFrame(t *testing.T) {
	mem := make(Memory, 256)
	stack := newStackLayout(64, len(mem), 1)
	regs := Registers{CodePointer: 9, StackPointer: stack.start + 8, BasePointer: stack.start + 4}
	call := &UserCall{Offset: 3, Arguments: []byte{1, 2, 3}}

	frame, err := spliceUserCall(&regs, mem, stack, call)
	if err != nil {
		t.Fatal(err)
	}
	base := 64 + 8
	if frame.stackPointer != base {
		t.Errorf("frame SP = %d, want %d", frame.stackPointer, base)
	}
	if regs.CodePointer != 3 {
		t.Errorf("CP = %d, want 3", regs.CodePointer)
	}
	if want := base + 3 + 12; regs.StackPointer != want || regs.BasePointer != want {
		t.Errorf("SP=%d BP=%d, want %d", regs.StackPointer, regs.BasePointer, want)
	}

	args := base
	savedCP := binary.LittleEndian.Uint32(mem[args+3:])
	globals := binary.LittleEndian.Uint32(mem[args+7:])
	savedBP := binary.LittleEndian.Uint32(mem[args+11:])
	if mem[args] != 1 || mem[args+2] != 3 {
		t.Errorf("arguments not copied: % X", mem[args:args+3])
	}
	if savedCP != 9 {
		t.Errorf("saved CP = %d, want 9", savedCP)
	}
	if int(globals) != args+3+CodePointerSize+StackPointerSize {
		t.Errorf("globals = %d, want %d", globals, args+3+8)
	}
	if int(savedBP) != 64+4 {
		t.Errorf("saved BP = %d, want %d", savedBP, 64+4)
	}

	// The standard frame offsets find the saved pointers.
	off := DefaultFrameOffsets(1)
	if got, _ := mem.Get(regs.BasePointer+off.SavedCodePointer, Bit32); got != 9 {
		t.Errorf("saved CP via offsets = %d", got)
	}
	if got, _ := mem.Get(regs.BasePointer+off.SavedBasePointer, Bit32); got != 68 {
		t.Errorf("saved BP via offsets = %d", got)
	}
}

func TestSpliceUserCall_FailureLeavesRegisters(t *testing.T) {
	mem := make(Memory, 64)
	stack := newStackLayout(32, len(mem), 1)
	regs := Registers{CodePointer: 1, StackPointer: stack.start, BasePointer: stack.start}
	before := regs

	_, err := spliceUserCall(&regs, mem, stack, &UserCall{Offset: 0, Arguments: make([]byte, 24)})
	if SignalOf(err) != SignalStackOverflow {
		t.Fatalf("expected StackOverflow, got %v", err)
	}
	if regs != before {
		t.Errorf("registers changed: %+v", regs)
	}
}

func TestFinishUserCall_NetZero(t *testing.T) {
	for _, dir := range []int{1, -1} {
		mem := make(Memory, 256)
		stack := newStackLayout(64, len(mem), dir)
		regs := Registers{StackPointer: stack.start, BasePointer: stack.start}
		call := &UserCall{Offset: 0, Arguments: make([]byte, 10)}

		frame, err := spliceUserCall(&regs, mem, stack, call)
		if err != nil {
			t.Fatal(err)
		}
		// Epilogue: POP BP, POP32, RET.
		for range 3 {
			if _, err := stack.pop(mem, &regs.StackPointer, Bit32); err != nil {
				t.Fatal(err)
			}
		}
		if err := finishUserCall(&regs, stack, frame); err != nil {
			t.Fatal(err)
		}
		if regs.StackPointer != frame.stackPointer {
			t.Errorf("dir %d: SP = %d, want %d", dir, regs.StackPointer, frame.stackPointer)
		}
	}
}

func TestProcessor_UserCall(t *testing.T) {
	for _, dir := range []int{1, -1} {
		// The argument sits below the spliced frame: 16 bytes under BP when
		// the stack grows up, 12 bytes above it when it grows down.
		argOffset := int64(-16)
		if dir < 0 {
			argOffset = 12
		}
		p := newTestProcessor(t, []Instruction{
			ins(OpExit),
			ins(OpMove, Reg(RegEAX), MustRelative(RegBasePointer, Bit32, argOffset)),
			ins(OpMul, Reg(RegEAX), imm(3)),
			ins(OpPopTo, Reg(RegBasePointer)),
			ins(OpPop32),
			ins(OpReturn),
		}, StackDirection(dir))

		runToDone(t, p)
		before := p.Registers.StackPointer

		args := make([]byte, 4)
		binary.LittleEndian.PutUint32(args, 7)
		first := p.Call(1, args)
		binary.LittleEndian.PutUint32(args, 5)
		second := p.Call(1, args)
		if p.PendingCalls() != 2 {
			t.Fatalf("PendingCalls = %d, want 2", p.PendingCalls())
		}

		runToDone(t, p)

		if !first.Done() || !second.Done() {
			t.Fatalf("dir %d: calls not done: %v %v", dir, first.Done(), second.Done())
		}
		if first.Result() != 21 || second.Result() != 15 {
			t.Errorf("dir %d: results %d, %d, want 21, 15", dir, first.Result(), second.Result())
		}
		if p.Registers.StackPointer != before {
			t.Errorf("dir %d: SP = %d, want %d", dir, p.Registers.StackPointer, before)
		}
		if first.ID() == second.ID() {
			t.Error("handles share an id")
		}
		if got := p.Stats().UserCalls; got != 2 {
			t.Errorf("UserCalls = %d, want 2", got)
		}
	}
}
