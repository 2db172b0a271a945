package repl

import (
	"reflect"
	"testing"
)

func TestBreakpoints(t *testing.T) {
	var b breakpoints
	if b.has(0) || b.has(-1) || b.count() != 0 {
		t.Fatal("empty set reports breakpoints")
	}

	for _, cp := range []int{130, 3, 64, 0, 63} {
		b.set(cp)
	}
	b.set(3)
	if b.count() != 5 {
		t.Errorf("count = %d, want 5", b.count())
	}
	if got, want := b.addrs(), []int{0, 3, 63, 64, 130}; !reflect.DeepEqual(got, want) {
		t.Errorf("addrs = %v, want %v", got, want)
	}

	b.clear(64)
	b.clear(1000)
	if b.has(64) || !b.has(63) || !b.has(130) {
		t.Errorf("clear touched the wrong bits: %v", b.addrs())
	}

	b.reset()
	if b.count() != 0 || b.has(3) {
		t.Error("reset kept breakpoints")
	}
}
