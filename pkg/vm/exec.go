package vm

import "math"

// step executes code[CP]. CP advances by one unless the instruction
// transfers control.
func (p *Processor) step() error {
	inst := p.code[p.Registers.CodePointer]
	next := p.Registers.CodePointer + 1

	switch inst.op {
	case OpNop:

	case OpExit:
		next = len(p.code)

	case OpCrash:
		ptr, err := p.readInt(inst.Operand(0))
		if err != nil {
			return err
		}
		msg, err := ReadString(p.Memory, int(ptr))
		if err != nil {
			return err
		}
		return signalf(SignalUserCrash, "%s", msg)

	case OpJump, OpJumpEqual, OpJumpNotEqual, OpJumpGreater, OpJumpGreaterE, OpJumpLess, OpJumpLessE:
		if p.condition(inst.op) {
			target, err := p.jumpTarget(inst.Operand(0))
			if err != nil {
				return err
			}
			next = target
		}

	case OpCall:
		target, err := p.jumpTarget(inst.Operand(0))
		if err != nil {
			return err
		}
		if err := p.push(Bit32, uint64(next)); err != nil {
			return err
		}
		next = target

	case OpReturn:
		v, err := p.pop(Bit32)
		if err != nil {
			return err
		}
		target := int64(int32(uint32(v)))
		if target < 0 || target > int64(len(p.code)) {
			return signalf(SignalPointerOutOfRange, "return address %d outside [0, %d]", target, len(p.code))
		}
		next = int(target)

	case OpPush:
		src, err := p.Resolve(inst.Operand(0))
		if err != nil {
			return err
		}
		v, err := p.load(src)
		if err != nil {
			return err
		}
		if err := p.push(src.Width, v); err != nil {
			return err
		}

	case OpPop8, OpPop16, OpPop32, OpPop64:
		if _, err := p.stack.drop(&p.Registers.StackPointer, popSize(inst.op)); err != nil {
			return err
		}

	case OpPopTo:
		dst, err := p.Resolve(inst.Operand(0))
		if err != nil {
			return err
		}
		v, err := p.pop(dst.Width)
		if err != nil {
			return err
		}
		if err := p.store(dst, v); err != nil {
			return err
		}

	case OpMove:
		dst, err := p.Resolve(inst.Operand(0))
		if err != nil {
			return err
		}
		v, err := p.readInt(inst.Operand(1))
		if err != nil {
			return err
		}
		if err := p.store(dst, uint64(v)); err != nil {
			return err
		}

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpCompare, OpAnd, OpOr, OpXor, OpShiftLeft, OpShiftRight:
		if err := p.arithmetic(inst); err != nil {
			return err
		}

	case OpNot:
		dst, err := p.Resolve(inst.Operand(0))
		if err != nil {
			return err
		}
		v, err := p.load(dst)
		if err != nil {
			return err
		}
		r := truncate(^v, dst.Width)
		p.setFlags(r, dst.Width, false, false)
		if err := p.store(dst, r); err != nil {
			return err
		}

	case OpFloatAdd, OpFloatSub, OpFloatMul, OpFloatDiv, OpFloatCompare:
		if err := p.floatArithmetic(inst); err != nil {
			return err
		}

	case OpIntToFloat, OpFloatToInt:
		if err := p.convert(inst); err != nil {
			return err
		}

	case OpAllocate:
		dst, err := p.Resolve(inst.Operand(0))
		if err != nil {
			return err
		}
		size, err := p.readInt(inst.Operand(1))
		if err != nil {
			return err
		}
		ptr, err := p.heap.Allocate(p.Memory, int(size))
		if err != nil {
			p.logger.Debug("heap allocation failed", "size", size, "used", p.heap.UsedSize(p.Memory))
			return err
		}
		if err := p.store(dst, uint64(ptr)); err != nil {
			return err
		}

	case OpFree:
		ptr, err := p.readInt(inst.Operand(0))
		if err != nil {
			return err
		}
		if err := p.heap.Free(p.Memory, int(ptr)); err != nil {
			return err
		}

	case OpCallExternal:
		id, err := p.readInt(inst.Operand(0))
		if err != nil {
			return err
		}
		if err := p.callExternal(id); err != nil {
			return err
		}

	default:
		return signalf(SignalInvalidInstruction, "unknown opcode 0x%02X at %d", uint8(inst.op), p.Registers.CodePointer)
	}

	p.Registers.CodePointer = next
	return nil
}

func popSize(op Opcode) int {
	switch op {
	case OpPop8:
		return 1
	case OpPop16:
		return 2
	case OpPop32:
		return 4
	default:
		return 8
	}
}

func (p *Processor) push(w BitWidth, v uint64) error {
	return p.stack.push(p.Memory, &p.Registers.StackPointer, w, v)
}

func (p *Processor) pop(w BitWidth) (uint64, error) {
	return p.stack.pop(p.Memory, &p.Registers.StackPointer, w)
}

// load reads the raw bits at a location, truncated to its width.
func (p *Processor) load(loc Location) (uint64, error) {
	switch loc.Kind {
	case LocationImmediate:
		return truncate(uint64(loc.Value), loc.Width), nil
	case LocationRegister:
		return p.Registers.Get(loc.Register), nil
	default:
		return p.Memory.Get(loc.Address, loc.Width)
	}
}

// store writes the low bits of v to a location. SP and BP must keep
// pointing inside memory.
func (p *Processor) store(loc Location, v uint64) error {
	switch loc.Kind {
	case LocationImmediate:
		return signalf(SignalInvalidInstruction, "cannot write to an immediate at %d", p.Registers.CodePointer)
	case LocationRegister:
		if loc.Register == RegStackPointer || loc.Register == RegBasePointer {
			addr := int(int32(uint32(v)))
			if addr < 0 || addr >= len(p.Memory) {
				return signalf(SignalPointerOutOfRange, "%s set to %d outside [0, %d)", loc.Register, addr, len(p.Memory))
			}
		}
		p.Registers.Set(loc.Register, v)
		return nil
	default:
		return p.Memory.Set(loc.Address, loc.Width, v)
	}
}

// readInt resolves and loads an operand as a signed integer.
func (p *Processor) readInt(op Operand) (int64, error) {
	loc, err := p.Resolve(op)
	if err != nil {
		return 0, err
	}
	v, err := p.load(loc)
	if err != nil {
		return 0, err
	}
	return signExtend(v, loc.Width), nil
}

func (p *Processor) jumpTarget(op Operand) (int, error) {
	v, err := p.readInt(op)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > int64(len(p.code)) {
		return 0, signalf(SignalPointerOutOfRange, "jump target %d outside [0, %d]", v, len(p.code))
	}
	return int(v), nil
}

// condition evaluates a jump condition against the flags. The ordered
// comparisons are signed.
func (p *Processor) condition(op Opcode) bool {
	f := p.Registers.Flags
	zero := f.Has(FlagZero)
	less := f.Has(FlagSign) != f.Has(FlagOverflow)
	switch op {
	case OpJumpEqual:
		return zero
	case OpJumpNotEqual:
		return !zero
	case OpJumpGreater:
		return !zero && !less
	case OpJumpGreaterE:
		return !less
	case OpJumpLess:
		return less
	case OpJumpLessE:
		return zero || less
	}
	return true
}

func (p *Processor) setFlags(r uint64, w BitWidth, carry, overflow bool) {
	f := &p.Registers.Flags
	f.set(FlagZero, truncate(r, w) == 0)
	f.set(FlagSign, signBit(r, w))
	f.set(FlagCarry, carry)
	f.set(FlagOverflow, overflow)
}

// arithmetic executes a two-operand integer instruction. The destination
// width governs the operation; the source is sign-extended and truncated to
// it.
func (p *Processor) arithmetic(inst Instruction) error {
	dst, err := p.Resolve(inst.Operand(0))
	if err != nil {
		return err
	}
	a, err := p.load(dst)
	if err != nil {
		return err
	}
	bv, err := p.readInt(inst.Operand(1))
	if err != nil {
		return err
	}
	w := dst.Width
	b := truncate(uint64(bv), w)
	sa, sb := signExtend(a, w), signExtend(b, w)

	var r uint64
	var carry, overflow bool
	switch inst.op {
	case OpAdd:
		r = truncate(a+b, w)
		carry = r < a
		overflow = signBit(a, w) == signBit(b, w) && signBit(r, w) != signBit(a, w)
	case OpSub, OpCompare:
		r = truncate(a-b, w)
		carry = a < b
		overflow = signBit(a, w) != signBit(b, w) && signBit(r, w) != signBit(a, w)
	case OpMul:
		product := sa * sb
		r = truncate(uint64(product), w)
		if w == Bit64 {
			overflow = sa != 0 && (product/sa != sb || (sa == -1 && sb == math.MinInt64))
		} else {
			overflow = signExtend(r, w) != product
		}
		carry = overflow
	case OpDiv, OpMod:
		if sb == 0 {
			return signalf(SignalDivideByZero, "%s by zero at %d", inst.op, p.Registers.CodePointer)
		}
		if inst.op == OpDiv {
			r = truncate(uint64(sa/sb), w)
		} else {
			r = truncate(uint64(sa%sb), w)
		}
	case OpAnd:
		r = a & b
	case OpOr:
		r = a | b
	case OpXor:
		r = a ^ b
	case OpShiftLeft:
		r = truncate(a<<(b%uint64(w)), w)
	case OpShiftRight:
		r = a >> (b % uint64(w))
	}

	p.setFlags(r, w, carry, overflow)
	if inst.op == OpCompare {
		return nil
	}
	return p.store(dst, r)
}

func (p *Processor) loadFloat(loc Location) (float64, error) {
	v, err := p.load(loc)
	if err != nil {
		return 0, err
	}
	switch loc.Width {
	case Bit32:
		return float64(math.Float32frombits(uint32(v))), nil
	case Bit64:
		return math.Float64frombits(v), nil
	}
	return 0, signalf(SignalInvalidInstruction, "%s-bit operand used as a float at %d", loc.Width, p.Registers.CodePointer)
}

func (p *Processor) storeFloat(loc Location, f float64) error {
	switch loc.Width {
	case Bit32:
		return p.store(loc, uint64(math.Float32bits(float32(f))))
	case Bit64:
		return p.store(loc, math.Float64bits(f))
	}
	return signalf(SignalInvalidInstruction, "%s-bit operand used as a float at %d", loc.Width, p.Registers.CodePointer)
}

// floatArithmetic executes FADD, FSUB, FMUL, FDIV and FCMP. 32-bit operands
// hold float32 bits, 64-bit operands float64 bits. FCMP sets Zero on equal,
// Sign when a < b, and Carry when either side is NaN.
func (p *Processor) floatArithmetic(inst Instruction) error {
	dst, err := p.Resolve(inst.Operand(0))
	if err != nil {
		return err
	}
	src, err := p.Resolve(inst.Operand(1))
	if err != nil {
		return err
	}
	a, err := p.loadFloat(dst)
	if err != nil {
		return err
	}
	b, err := p.loadFloat(src)
	if err != nil {
		return err
	}

	var r float64
	switch inst.op {
	case OpFloatAdd:
		r = a + b
	case OpFloatSub:
		r = a - b
	case OpFloatMul:
		r = a * b
	case OpFloatDiv:
		r = a / b
	case OpFloatCompare:
		f := &p.Registers.Flags
		unordered := math.IsNaN(a) || math.IsNaN(b)
		f.set(FlagZero, !unordered && a == b)
		f.set(FlagSign, !unordered && a < b)
		f.set(FlagCarry, unordered)
		f.set(FlagOverflow, false)
		return nil
	}
	if dst.Width == Bit32 {
		r = float64(float32(r))
	}
	f := &p.Registers.Flags
	f.set(FlagZero, r == 0)
	f.set(FlagSign, math.Signbit(r))
	f.set(FlagCarry, math.IsNaN(r))
	f.set(FlagOverflow, math.IsInf(r, 0))
	return p.storeFloat(dst, r)
}

// convert executes ITOF and FTOI in place. FTOI truncates toward zero and
// saturates at the width's limits; NaN converts to zero.
func (p *Processor) convert(inst Instruction) error {
	loc, err := p.Resolve(inst.Operand(0))
	if err != nil {
		return err
	}
	if inst.op == OpIntToFloat {
		v, err := p.load(loc)
		if err != nil {
			return err
		}
		return p.storeFloat(loc, float64(signExtend(v, loc.Width)))
	}

	f, err := p.loadFloat(loc)
	if err != nil {
		return err
	}
	lo := -math.Ldexp(1, int(loc.Width)-1)
	hi := math.Ldexp(1, int(loc.Width)-1)
	var i int64
	switch {
	case math.IsNaN(f):
		i = 0
	case f <= lo:
		i = int64(lo)
	case f >= hi:
		i = int64(uint64(1)<<(loc.Width-1) - 1)
	default:
		i = int64(math.Trunc(f))
	}
	return p.store(loc, truncate(uint64(i), loc.Width))
}
