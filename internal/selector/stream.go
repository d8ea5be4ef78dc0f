package selector

import (
	"math"
	"math/rand/v2"
)

// streamSalt separates sub-streams derived from the same seed.
const streamSalt = 0x9e3779b97f4a7c15

// stream is a reproducible random source built only on the PCG generator's
// raw output, so samples re-derive identically across Go releases.
type stream struct {
	src *rand.PCG
}

// newStream returns sub-stream sub of seed. Sub-stream 0 drives unstratified methods;
// stratum i uses sub-stream i+1.
func newStream(seed uint64, sub int) *stream {
	return &stream{src: rand.NewPCG(seed, streamSalt^uint64(sub))}
}

// intn returns a uniform integer in [0, n) by rejection sampling.
func (s *stream) intn(n int) int {
	if n <= 1 {
		return 0
	}
	bound := uint64(n)
	limit := math.MaxUint64 - math.MaxUint64%bound
	for {
		if v := s.src.Uint64(); v < limit {
			return int(v % bound)
		}
	}
}

// float64 returns a uniform value in [0, 1) with 53 bits of precision.
func (s *stream) float64() float64 {
	return float64(s.src.Uint64()>>11) / (1 << 53)
}
