// Package xorshift implements the xorshift128+ generator from
// Vigna, "Further scramblings of Marsaglia's xorshift generators" (2014).
//
// Game replicas depend on drawing the exact same sequence on every host, so
// the state is explicit and serializable. Not for cryptographic use.
package xorshift

// XorShift128Plus is a 128-bit state PRNG. The zero value is a degenerate
// generator that only ever yields 0; always seed it with New.
type XorShift128Plus struct {
	s [2]uint64
}

func New(seed [2]uint64) *XorShift128Plus {
	return &XorShift128Plus{s: seed}
}

// State returns the raw generator state, for serialization and checksums.
func (r *XorShift128Plus) State() [2]uint64 { return r.s }

func (r *XorShift128Plus) SetState(s [2]uint64) { r.s = s }

func (r *XorShift128Plus) Next() uint64 {
	s1 := r.s[0]
	s0 := r.s[1]
	r.s[0] = s0
	s1 ^= s1 << 23
	r.s[1] = s1 ^ s0 ^ (s1 >> 17) ^ (s0 >> 26)
	return r.s[1] + s0
}

// Uint64n returns a uniform value in [0, n). It rejects draws from the
// incomplete top bucket so every host consumes the same number of draws for
// the same n.
func (r *XorShift128Plus) Uint64n(n uint64) uint64 {
	if n == 0 {
		panic("xorshift: Uint64n(0)")
	}
	limit := (^uint64(0) / n) * n
	for {
		v := r.Next()
		if v < limit {
			return v % n
		}
	}
}

// Shuffle permutes n elements with Fisher-Yates, walking from the last index
// down to 1.
func (r *XorShift128Plus) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(r.Uint64n(uint64(i + 1)))
		swap(i, j)
	}
}
