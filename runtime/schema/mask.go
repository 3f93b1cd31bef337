package schema

import (
	"math/bits"
	"strconv"
	"strings"
)

// Mask is a growable bitset of choice-value bits. The zero value is empty.
type Mask struct {
	words []uint64
}

// Bit returns a mask with only bit i set.
func Bit(i int) Mask {
	var m Mask
	m.set(i)
	return m
}

func (m *Mask) set(i int) {
	w := i / 64
	for len(m.words) <= w {
		m.words = append(m.words, 0)
	}
	m.words[w] |= 1 << (uint(i) % 64)
}

// Or returns the union of m and o.
func (m Mask) Or(o Mask) Mask {
	n := len(m.words)
	if len(o.words) > n {
		n = len(o.words)
	}
	out := make([]uint64, n)
	copy(out, m.words)
	for i, w := range o.words {
		out[i] |= w
	}
	return Mask{words: out}
}

// Covers reports whether every bit of sub is set in m, that is m AND sub == sub.
func (m Mask) Covers(sub Mask) bool {
	for i, w := range sub.words {
		var have uint64
		if i < len(m.words) {
			have = m.words[i]
		}
		if have&w != w {
			return false
		}
	}
	return true
}

// Intersects reports whether m and o share a bit.
func (m Mask) Intersects(o Mask) bool {
	for i := 0; i < len(m.words) && i < len(o.words); i++ {
		if m.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// IsZero reports whether no bit is set.
func (m Mask) IsZero() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Equal reports whether m and o have the same bits set.
func (m Mask) Equal(o Mask) bool {
	return m.Covers(o) && o.Covers(m)
}

func (m Mask) String() string {
	var parts []string
	for i, w := range m.words {
		for b := 0; b < 64; b++ {
			if w&(1<<uint(b)) != 0 {
				parts = append(parts, strconv.Itoa(i*64+b))
			}
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}
