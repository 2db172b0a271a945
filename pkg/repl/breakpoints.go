package repl

import (
	"math/bits"
)

// breakpoints is a bit set over instruction addresses. It grows on demand,
// so addresses past the end of the program are simply never hit.
type breakpoints struct {
	words []uint64
}

func (b *breakpoints) set(cp int) {
	word := cp / 64
	if word >= len(b.words) {
		b.words = append(b.words, make([]uint64, word-len(b.words)+1)...)
	}
	b.words[word] |= 1 << (uint(cp) % 64)
}

func (b *breakpoints) clear(cp int) {
	if word := cp / 64; word < len(b.words) {
		b.words[word] &^= 1 << (uint(cp) % 64)
	}
}

func (b *breakpoints) has(cp int) bool {
	word := cp / 64
	if cp < 0 || word >= len(b.words) {
		return false
	}
	return b.words[word]&(1<<(uint(cp)%64)) != 0
}

// count returns the number of breakpoints set.
func (b *breakpoints) count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// addrs returns the breakpoint addresses in ascending order.
func (b *breakpoints) addrs() []int {
	out := make([]int, 0, b.count())
	for i, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			out = append(out, i*64+tz)
			w &= w - 1
		}
	}
	return out
}

func (b *breakpoints) reset() {
	b.words = nil
}
