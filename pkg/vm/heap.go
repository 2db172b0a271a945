package vm

import (
	"encoding/binary"
	"fmt"
	"iter"
)

// HeaderFormat packs a heap block's data size and used flag into a fixed
// number of bytes.
type HeaderFormat interface {
	Size() int
	MaxBlockSize() int
	Encode(b []byte, size int, used bool)
	Decode(b []byte) (size int, used bool)
}

// Header32 is the default 4-byte header: bit 31 marks the block used, the
// low 31 bits hold the data size.
type Header32 struct{}

func (Header32) Size() int         { return 4 }
func (Header32) MaxBlockSize() int { return 1<<31 - 1 }

func (Header32) Encode(b []byte, size int, used bool) {
	v := uint32(size) & 0x7FFFFFFF
	if used {
		v |= 1 << 31
	}
	binary.LittleEndian.PutUint32(b, v)
}

func (Header32) Decode(b []byte) (int, bool) {
	v := binary.LittleEndian.Uint32(b)
	return int(v & 0x7FFFFFFF), v&(1<<31) != 0
}

// Header8 is the compact 1-byte header: bit 7 marks the block used, the
// low 7 bits hold the data size.
type Header8 struct{}

func (Header8) Size() int         { return 1 }
func (Header8) MaxBlockSize() int { return 1<<7 - 1 }

func (Header8) Encode(b []byte, size int, used bool) {
	v := byte(size) & 0x7F
	if used {
		v |= 0x80
	}
	b[0] = v
}

func (Header8) Decode(b []byte) (int, bool) {
	return int(b[0] & 0x7F), b[0]&0x80 != 0
}

// HeapProfile selects the header format of a processor's heap.
type HeapProfile uint8

const (
	HeapProfile32 HeapProfile = iota
	HeapProfile8
)

func (p HeapProfile) String() string {
	switch p {
	case HeapProfile32:
		return "header32"
	case HeapProfile8:
		return "header8"
	}
	return fmt.Sprintf("HeapProfile(%d)", uint8(p))
}

// ParseHeapProfile accepts the names produced by HeapProfile.String.
func ParseHeapProfile(s string) (HeapProfile, error) {
	switch s {
	case "", "header32":
		return HeapProfile32, nil
	case "header8":
		return HeapProfile8, nil
	}
	return 0, fmt.Errorf("%w: unknown heap profile %q", ErrInvalidConfig, s)
}

// Block describes one heap block.
type Block struct {
	Header int // address of the header
	Data   int // address of the first data byte
	Size   int
	Used   bool
}

// Allocator manages the heap region of a Memory.
type Allocator interface {
	Init(mem Memory) error
	Allocate(mem Memory, size int) (int, error)
	Free(mem Memory, ptr int) error
	UsedSize(mem Memory) int
	Blocks(mem Memory) iter.Seq[Block]
	Start() int
	Size() int
	HeaderSize() int
}

// Heap is a first-fit allocator over the region [start, start+size) of a
// Memory. Block headers live inline; adjacent free blocks are merged lazily
// while allocating and eagerly after a free.
type Heap[F HeaderFormat] struct {
	format F
	start  int
	size   int
}

var (
	_ Allocator = (*Heap[Header32])(nil)
	_ Allocator = (*Heap[Header8])(nil)
)

// NewHeap creates an allocator for [start, start+size).
func NewHeap[F HeaderFormat](format F, start, size int) *Heap[F] {
	return &Heap[F]{format: format, start: start, size: size}
}

func newAllocator(profile HeapProfile, start, size int) (Allocator, error) {
	switch profile {
	case HeapProfile32:
		return NewHeap(Header32{}, start, size), nil
	case HeapProfile8:
		return NewHeap(Header8{}, start, size), nil
	}
	return nil, fmt.Errorf("%w: unknown heap profile %d", ErrInvalidConfig, profile)
}

func (h *Heap[F]) Start() int      { return h.start }
func (h *Heap[F]) Size() int       { return h.size }
func (h *Heap[F]) HeaderSize() int { return h.format.Size() }

func (h *Heap[F]) end() int { return h.start + h.size }

// Init formats the region as free blocks. Regions larger than the format's
// maximum block size become a chain of maximal blocks.
func (h *Heap[F]) Init(mem Memory) error {
	hs := h.format.Size()
	if h.size < hs {
		return fmt.Errorf("%w: heap of %d bytes cannot hold a %d-byte header", ErrInvalidConfig, h.size, hs)
	}
	if err := mem.check(h.start, h.size); err != nil {
		return err
	}
	clear(mem[h.start:h.end()])
	for pos := h.start; pos+hs <= h.end(); {
		size := min(h.end()-pos-hs, h.format.MaxBlockSize())
		h.format.Encode(mem[pos:], size, false)
		pos += hs + size
	}
	return nil
}

// Blocks walks the block chain from the heap start. The walk stops at the
// end of the region or at the first header whose size runs past it.
func (h *Heap[F]) Blocks(mem Memory) iter.Seq[Block] {
	return func(yield func(Block) bool) {
		hs := h.format.Size()
		end := min(h.end(), len(mem))
		for pos := h.start; pos >= 0 && pos+hs <= end; {
			size, used := h.format.Decode(mem[pos:])
			if !yield(Block{Header: pos, Data: pos + hs, Size: size, Used: used}) {
				return
			}
			pos += hs + size
		}
	}
}

// UsedSize returns the number of data bytes held by used blocks.
func (h *Heap[F]) UsedSize(mem Memory) int {
	total := 0
	for b := range h.Blocks(mem) {
		if b.Used {
			total += b.Size
		}
	}
	return total
}

// coalesce merges the free blocks directly following the free block at pos
// and returns the merged size.
func (h *Heap[F]) coalesce(mem Memory, pos, size int) int {
	hs := h.format.Size()
	for {
		next := pos + hs + size
		if next+hs > h.end() {
			break
		}
		nextSize, used := h.format.Decode(mem[next:])
		if used || size+hs+nextSize > h.format.MaxBlockSize() || next+hs+nextSize > h.end() {
			break
		}
		size += hs + nextSize
	}
	h.format.Encode(mem[pos:], size, false)
	return size
}

// Allocate reserves size bytes and returns the address of the data.
func (h *Heap[F]) Allocate(mem Memory, size int) (int, error) {
	if size < 0 {
		return 0, signalf(SignalPointerOutOfRange, "invalid heap allocation of %d bytes", size)
	}
	if err := mem.check(h.start, h.size); err != nil {
		return 0, err
	}
	hs := h.format.Size()
	if size <= h.format.MaxBlockSize() {
		for pos := h.start; pos+hs <= h.end(); {
			blockSize, used := h.format.Decode(mem[pos:])
			if pos+hs+blockSize > h.end() {
				break
			}
			if !used {
				blockSize = h.coalesce(mem, pos, blockSize)
				if blockSize >= size {
					if rest := blockSize - size; rest > hs {
						h.format.Encode(mem[pos:], size, true)
						h.format.Encode(mem[pos+hs+size:], rest-hs, false)
					} else {
						h.format.Encode(mem[pos:], blockSize, true)
					}
					return pos + hs, nil
				}
			}
			pos += hs + blockSize
		}
	}
	return 0, signalf(SignalStackOverflow, "heap exhausted: cannot allocate %d bytes (%d of %d in use)", size, h.UsedSize(mem), h.size)
}

// Free releases the block whose data starts at ptr.
func (h *Heap[F]) Free(mem Memory, ptr int) error {
	for b := range h.Blocks(mem) {
		if b.Data == ptr {
			if !b.Used {
				return signalf(SignalPointerOutOfRange, "double free of heap pointer %d", ptr)
			}
			h.coalesce(mem, b.Header, b.Size)
			return nil
		}
		if b.Data > ptr {
			break
		}
	}
	return signalf(SignalPointerOutOfRange, "free of pointer %d that is not a heap block", ptr)
}
