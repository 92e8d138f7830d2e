package mathx

import "math"

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// AddInt64 returns a+b and false if the sum overflows int64.
func AddInt64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func Clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, a, b uint64) uint64 {
	v := uint64(seed) ^ (a * 0x9e3779b97f4a7c15) ^ (b * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// HashSource is a counter-based deterministic random source. Its whole state is
// (seed, draws), so it can be captured in a snapshot and resumed exactly.
type HashSource struct {
	seed  int64
	draws uint64
}

func NewHashSource(seed int64) *HashSource {
	return &HashSource{seed: seed}
}

func (s *HashSource) Seed() int64   { return s.seed }
func (s *HashSource) Draws() uint64 { return s.draws }

// Restore moves the source to a recorded draw count.
func (s *HashSource) Restore(draws uint64) { s.draws = draws }

// Intn returns a value in [0,n). n must be > 0.
func (s *HashSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	h := Hash2(s.seed, s.draws, 0x5bd1e995)
	s.draws++
	return int(h % uint64(n))
}
