package vm

// Memory is the processor's single linear address space. Every access goes
// through check, so an out-of-range address is always reported as
// SignalPointerOutOfRange instead of panicking.
type Memory []byte

func (m Memory) check(addr, size int) error {
	if addr < 0 || size < 0 || addr > len(m)-size {
		return signalf(SignalPointerOutOfRange, "pointer out of range: address %d (+%d bytes) outside [0, %d)", addr, size, len(m))
	}
	return nil
}

// Get reads an unsigned little-endian value of width w at addr.
func (m Memory) Get(addr int, w BitWidth) (uint64, error) {
	if err := m.check(addr, w.Size()); err != nil {
		return 0, err
	}
	return getUint(m[addr:], w), nil
}

// GetSigned reads a sign-extended value of width w at addr.
func (m Memory) GetSigned(addr int, w BitWidth) (int64, error) {
	v, err := m.Get(addr, w)
	if err != nil {
		return 0, err
	}
	return signExtend(v, w), nil
}

// Set writes the low w bits of v at addr.
func (m Memory) Set(addr int, w BitWidth, v uint64) error {
	if err := m.check(addr, w.Size()); err != nil {
		return err
	}
	putUint(m[addr:], w, v)
	return nil
}

// Slice returns the live bytes [addr, addr+n).
func (m Memory) Slice(addr, n int) ([]byte, error) {
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	return m[addr : addr+n : addr+n], nil
}

// stackLayout describes where the stack lives and which way it grows.
// The region spans [low, high); start is where SP sits when the stack is
// empty.
type stackLayout struct {
	start     int
	low       int
	high      int
	direction int
}

func newStackLayout(heapSize, memorySize, direction int) stackLayout {
	// One byte at the top of memory stays unused so that SP never equals
	// len(memory) and remains a valid address.
	l := stackLayout{low: heapSize, high: memorySize - 1, direction: direction}
	if direction < 0 {
		l.start = l.high
	} else {
		l.start = l.low
	}
	return l
}

// contains reports whether [addr, addr+n) lies inside the stack region.
func (l stackLayout) contains(addr, n int) bool {
	return addr >= l.low && n >= 0 && addr+n <= l.high
}

// slot returns the address of n bytes that sit depth bytes below the top of
// a stack whose top is at sp.
func (l stackLayout) slot(sp, depth, n int) int {
	if l.direction < 0 {
		return sp + depth
	}
	return sp - depth - n
}

// used returns the number of bytes currently on a stack whose top is sp.
func (l stackLayout) used(sp int) int {
	if l.direction < 0 {
		return l.start - sp
	}
	return sp - l.start
}

func (l stackLayout) pushBytes(mem Memory, sp *int, b []byte) error {
	n := len(b)
	addr, next := *sp, *sp+n
	if l.direction < 0 {
		next = *sp - n
		addr = next
	}
	if !l.contains(min(addr, next), n) {
		return signalf(SignalStackOverflow, "stack overflow: pushing %d bytes at SP %d", n, *sp)
	}
	dst, err := mem.Slice(addr, n)
	if err != nil {
		return err
	}
	copy(dst, b)
	*sp = next
	return nil
}

func (l stackLayout) push(mem Memory, sp *int, w BitWidth, v uint64) error {
	var buf [8]byte
	putUint(buf[:], w, v)
	return l.pushBytes(mem, sp, buf[:w.Size()])
}

// drop removes n bytes from the top of the stack and returns their address.
func (l stackLayout) drop(sp *int, n int) (int, error) {
	if n < 0 || l.used(*sp) < n {
		return 0, signalf(SignalStackOverflow, "stack underflow: popping %d bytes with %d on the stack", n, l.used(*sp))
	}
	addr := l.slot(*sp, 0, n)
	*sp -= n * l.direction
	return addr, nil
}

func (l stackLayout) pop(mem Memory, sp *int, w BitWidth) (uint64, error) {
	next := *sp
	addr, err := l.drop(&next, w.Size())
	if err != nil {
		return 0, err
	}
	v, err := mem.Get(addr, w)
	if err != nil {
		return 0, err
	}
	*sp = next
	return v, nil
}
