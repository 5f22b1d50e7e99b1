package state

import (
	"crypto/sha256"
	"encoding/binary"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

// Checksum hashes the nodes and the PRNG state. Replicas that agree on the
// checksum are taken to agree on the whole state. The static map and the turn
// counter are not included.
func (s *State) Checksum() uint64 {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, uint64(len(s.nodes)))
	for _, o := range s.nodes {
		if o == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		digestWriteU64(h, &tmp, uint64(o.Player))
		digestWriteU64(h, &tmp, uint64(o.Goop))
		digestWriteU64(h, &tmp, uint64(len(o.Outflows)))
		for _, n := range o.Outflows {
			digestWriteU64(h, &tmp, uint64(n))
		}
	}
	rs := s.rng.State()
	digestWriteU64(h, &tmp, rs[0])
	digestWriteU64(h, &tmp, rs[1])

	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
