// Package rng provides the splittable pseudo-random stream used by the
// sampling pipeline.
//
// A Stream is a small value type: splitting it deterministically derives two
// child streams, one to be consumed for the current draw and one to be
// carried forward. Because every draw comes from a freshly split child, no
// stream state is ever reused across steps or sequences, which is what makes
// generation reproducible for a fixed seed.
package rng

// SplitMix64 constants.
const (
	gamma = 0x9E3779B97F4A7C15
	mixA  = 0xBF58476D1CE4E5B9
	mixB  = 0x94D049BB133111EB
)

// Stream is a splittable deterministic pseudo-random source. The zero value
// is a valid stream (equivalent to New(0)).
type Stream struct {
	state uint64
}

// New returns a stream seeded from the given value. Two streams built from
// the same seed are identical.
func New(seed int64) Stream {
	return Stream{state: mix(uint64(seed))}
}

// Split derives two independent child streams. The first is meant to be
// consumed immediately, the second carried forward; neither equals the
// parent.
func (s Stream) Split() (use, carry Stream) {
	use = Stream{state: mix(s.state)}
	carry = Stream{state: mix(s.state ^ gamma)}
	return use, carry
}

// Uint64 returns the stream's draw as a uniform 64-bit value. Calling it
// twice on the same stream returns the same value; advance by splitting.
func (s Stream) Uint64() uint64 {
	return mix(s.state + gamma)
}

// Float64 returns the stream's draw as a uniform value in [0, 1).
func (s Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// mix is the SplitMix64 finalizer.
func mix(z uint64) uint64 {
	z += gamma
	z = (z ^ (z >> 30)) * mixA
	z = (z ^ (z >> 27)) * mixB
	return z ^ (z >> 31)
}
