package inequality

import (
	"math"

	"echofield.ai/internal/sim/logic/mathx"
)

// Gini computes the Gini coefficient of positive values:
// (2*sum_i i*x_i)/(n*sum x) - (n+1)/n, with i=1..n over ascending order.
// Values must already be sorted ascending; empty input yields 0. The result is
// clamped to [0,1] so rounding on near-equal values cannot push it negative.
func Gini(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	var sum, weighted float64
	for i, x := range sorted {
		sum += x
		weighted += float64(i+1) * x
	}
	if sum <= 0 {
		return 0
	}
	fn := float64(n)
	return mathx.Clamp01((2.0*weighted)/(fn*sum) - (fn+1.0)/fn)
}

// TopShare returns the share of the total held by the top max(1, floor(n*frac))
// values. Values must be sorted ascending.
func TopShare(sorted []float64, frac float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	k := int(math.Floor(float64(n) * frac))
	if k < 1 {
		k = 1
	}
	var sum, top float64
	for i, x := range sorted {
		sum += x
		if i >= n-k {
			top += x
		}
	}
	if sum <= 0 {
		return 0
	}
	return top / sum
}
