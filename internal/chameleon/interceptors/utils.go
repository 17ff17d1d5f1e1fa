package interceptors

import "math"

// RandomUtils derives deterministic pseudo-random values from a seed and an
// index, so the same profile perturbs the same sample the same way.
type RandomUtils struct{}

// Float returns a value in [0, 1).
func (RandomUtils) Float(seed int64, i int) float64 {
	return float64(splitmix(uint64(seed)^uint64(i)*0x9e3779b97f4a7c15)>>11) / (1 << 53)
}

// Intn returns a value in [0, n).
func (r RandomUtils) Intn(seed int64, i, n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Float(seed, i) * float64(n))
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// JitterUtils applies small, bounded perturbations.
type JitterUtils struct {
	Random RandomUtils
}

// Channel perturbs an 8-bit color channel by at most one step in either
// direction. intensity is the probability that a channel changes.
func (j JitterUtils) Channel(v int64, seed int64, i int, intensity float64) int64 {
	if j.Random.Float(seed, i) >= intensity*100 {
		return v
	}
	delta := int64(1)
	if j.Random.Float(seed, -i-1) < 0.5 {
		delta = -1
	}
	out := v + delta
	if out < 0 || out > 255 {
		out = v - delta
	}
	return out
}

// Sample perturbs an audio sample by at most amount.
func (j JitterUtils) Sample(v float64, seed int64, i int, amount float64) float64 {
	if amount == 0 || math.IsNaN(v) {
		return v
	}
	return v + (j.Random.Float(seed, i)*2-1)*amount
}
