package vm

import (
	"errors"
	"math/rand"
	"testing"
)

func TestHeader32_RoundTrip(t *testing.T) {
	var h Header32
	b := make([]byte, h.Size())
	for _, size := range []int{0, 1, 127, 128, 1 << 20, h.MaxBlockSize()} {
		for _, used := range []bool{false, true} {
			h.Encode(b, size, used)
			gotSize, gotUsed := h.Decode(b)
			if gotSize != size || gotUsed != used {
				t.Errorf("(%d, %v) decoded as (%d, %v)", size, used, gotSize, gotUsed)
			}
		}
	}
}

func TestHeader8_RoundTrip(t *testing.T) {
	var h Header8
	b := make([]byte, 1)
	for size := 0; size <= h.MaxBlockSize(); size++ {
		for _, used := range []bool{false, true} {
			h.Encode(b, size, used)
			gotSize, gotUsed := h.Decode(b)
			if gotSize != size || gotUsed != used {
				t.Errorf("(%d, %v) decoded as (%d, %v)", size, used, gotSize, gotUsed)
			}
		}
	}
}

// checkTiling verifies that walking the headers covers the heap region
// exactly.
func checkTiling(t *testing.T, h Allocator, mem Memory) {
	t.Helper()
	pos := h.Start()
	for b := range h.Blocks(mem) {
		if b.Header != pos {
			t.Fatalf("block header at %d, expected %d", b.Header, pos)
		}
		pos = b.Data + b.Size
	}
	if pos != h.Start()+h.Size() {
		t.Fatalf("blocks end at %d, heap ends at %d", pos, h.Start()+h.Size())
	}
}

func TestHeap_AllocateFree(t *testing.T) {
	mem := make(Memory, 256)
	h := NewHeap(Header32{}, 0, 128)
	if err := h.Init(mem); err != nil {
		t.Fatal(err)
	}

	a, err := h.Allocate(mem, 10)
	if err != nil {
		t.Fatal(err)
	}
	if a != 4 {
		t.Errorf("first allocation at %d, want 4", a)
	}
	b, err := h.Allocate(mem, 20)
	if err != nil {
		t.Fatal(err)
	}
	if b != a+10+4 {
		t.Errorf("second allocation at %d, want %d", b, a+14)
	}
	if got := h.UsedSize(mem); got != 30 {
		t.Errorf("UsedSize = %d, want 30", got)
	}
	checkTiling(t, h, mem)

	if err := h.Free(mem, a); err != nil {
		t.Fatal(err)
	}
	c, err := h.Allocate(mem, 8)
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Errorf("freed block not reused: got %d, want %d", c, a)
	}
	checkTiling(t, h, mem)
}

func TestHeap_FreeCoalesces(t *testing.T) {
	mem := make(Memory, 128)
	h := NewHeap(Header32{}, 0, 64)
	if err := h.Init(mem); err != nil {
		t.Fatal(err)
	}
	a, _ := h.Allocate(mem, 8)
	b, _ := h.Allocate(mem, 8)
	c, _ := h.Allocate(mem, 8)
	for _, p := range []int{c, b, a} {
		if err := h.Free(mem, p); err != nil {
			t.Fatal(err)
		}
	}
	var blocks []Block
	for blk := range h.Blocks(mem) {
		blocks = append(blocks, blk)
	}
	if len(blocks) != 1 || blocks[0].Used || blocks[0].Size != 60 {
		t.Errorf("expected one free 60-byte block, got %+v", blocks)
	}
}

func TestHeap_Exhaustion(t *testing.T) {
	mem := make(Memory, 64)
	h := NewHeap(Header32{}, 0, 32)
	if err := h.Init(mem); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Allocate(mem, 28); err != nil {
		t.Fatal(err)
	}
	_, err := h.Allocate(mem, 1)
	if SignalOf(err) != SignalStackOverflow {
		t.Fatalf("expected StackOverflow, got %v", err)
	}
	if !errors.Is(err, ErrStackOverflow) {
		t.Error("expected errors.Is(err, ErrStackOverflow)")
	}
}

func TestHeap_InvalidFree(t *testing.T) {
	mem := make(Memory, 64)
	h := NewHeap(Header32{}, 0, 32)
	if err := h.Init(mem); err != nil {
		t.Fatal(err)
	}
	p, _ := h.Allocate(mem, 4)
	if err := h.Free(mem, p+1); SignalOf(err) != SignalPointerOutOfRange {
		t.Errorf("free of interior pointer: %v", err)
	}
	if err := h.Free(mem, p); err != nil {
		t.Fatal(err)
	}
	if err := h.Free(mem, p); SignalOf(err) != SignalPointerOutOfRange {
		t.Errorf("double free: %v", err)
	}
}

func TestHeap8_ChainsLargeRegion(t *testing.T) {
	mem := make(Memory, 600)
	h := NewHeap(Header8{}, 0, 512)
	if err := h.Init(mem); err != nil {
		t.Fatal(err)
	}
	checkTiling(t, h, mem)
	for b := range h.Blocks(mem) {
		if b.Size > (Header8{}).MaxBlockSize() {
			t.Fatalf("block of %d bytes exceeds max", b.Size)
		}
	}
	// The scan covers the whole region, not only the first block.
	var ptrs []int
	for {
		p, err := h.Allocate(mem, 100)
		if err != nil {
			break
		}
		ptrs = append(ptrs, p)
	}
	if len(ptrs) != 4 {
		t.Errorf("allocated %d 100-byte blocks, want 4", len(ptrs))
	}
	if got := h.UsedSize(mem); got != 400 {
		t.Errorf("UsedSize = %d, want 400", got)
	}
	checkTiling(t, h, mem)
}

func TestHeap_RandomOperationsKeepTiling(t *testing.T) {
	for _, tc := range []struct {
		name string
		heap Allocator
	}{
		{"header32", NewHeap(Header32{}, 16, 1024)},
		{"header8", NewHeap(Header8{}, 16, 1024)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mem := make(Memory, 2048)
			if err := tc.heap.Init(mem); err != nil {
				t.Fatal(err)
			}
			rng := rand.New(rand.NewSource(1))
			var live []int
			for i := 0; i < 500; i++ {
				if len(live) > 0 && rng.Intn(3) == 0 {
					j := rng.Intn(len(live))
					if err := tc.heap.Free(mem, live[j]); err != nil {
						t.Fatalf("free %d: %v", live[j], err)
					}
					live = append(live[:j], live[j+1:]...)
				} else if p, err := tc.heap.Allocate(mem, 1+rng.Intn(100)); err == nil {
					live = append(live, p)
				} else if SignalOf(err) != SignalStackOverflow {
					t.Fatalf("allocate: %v", err)
				}
				checkTiling(t, tc.heap, mem)
			}
		})
	}
}
