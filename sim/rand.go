package sim

import (
	"encoding/binary"
	"math/big"

	"lukechampine.com/blake3"
)

// Source is the deterministic random source shared by every action. It is a
// splitmix64 generator with an explicit draw counter so a run can report how
// much randomness it consumed. Each independent random decision costs exactly
// one draw, in call order, which keeps runs reproducible for a given seed.
type Source struct {
	state uint64
	draws uint64
}

// NewSource returns a source seeded with the given value.
func NewSource(seed uint64) *Source {
	return &Source{state: seed}
}

// DeriveSeed maps a master seed and a stream label onto an independent
// sub-seed. Actor key material, funding amounts and the step stream each get
// their own label so adding draws to one stream does not shift the others.
func DeriveSeed(master uint64, label string) uint64 {
	buf := make([]byte, 8, 8+len(label))
	binary.LittleEndian.PutUint64(buf, master)
	buf = append(buf, label...)
	sum := blake3.Sum256(buf)
	return binary.LittleEndian.Uint64(sum[:8])
}

// Next advances the generator and returns the next 64-bit value.
func (s *Source) Next() uint64 {
	s.draws++
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Draws reports how many values have been consumed so far.
func (s *Source) Draws() uint64 { return s.draws }

// IntN returns a value in [0, n). n must be positive.
func (s *Source) IntN(n uint64) uint64 {
	if n == 0 {
		panic("sim: IntN called with n == 0")
	}
	return s.Next() % n
}

// Range returns a value in [min, max]. min must not exceed max.
func (s *Source) Range(min, max uint64) uint64 {
	if min > max {
		panic("sim: Range called with min > max")
	}
	return min + s.IntN(max-min+1)
}

// Chance returns true with probability num/den.
func (s *Source) Chance(num, den uint64) bool {
	return s.IntN(den) < num
}

// BigBelow returns a value in [0, max). A nil or non-positive max yields zero.
// The number of draws consumed depends only on max's bit length, so two runs
// with the same seed and the same bounds stay in lockstep.
func (s *Source) BigBelow(max *big.Int) *big.Int {
	if max == nil || max.Sign() <= 0 {
		return new(big.Int)
	}
	words := (max.BitLen() + 63) / 64
	raw := new(big.Int)
	for i := 0; i < words; i++ {
		raw.Lsh(raw, 64)
		raw.Or(raw, new(big.Int).SetUint64(s.Next()))
	}
	return raw.Mod(raw, max)
}

// BigRange returns a value in [min, max]. Both bounds must be non-nil and
// min must not exceed max.
func (s *Source) BigRange(min, max *big.Int) *big.Int {
	span := new(big.Int).Sub(max, min)
	span.Add(span, big.NewInt(1))
	return new(big.Int).Add(min, s.BigBelow(span))
}
