package fec

import "math"

// binomialCDF returns P(X <= k) for X ~ Binomial(n, p), computed in log-space
// via the log-gamma function so it stays numerically stable for the shard
// counts this codec deals with (n up to ~510).
//
// No distribution library appears anywhere in the retrieved corpus (no
// gonum, no stats package of any kind), so this is the one piece of the
// codec built directly on the standard library rather than a third-party
// dependency — there was nothing in the corpus to ground it on.
func binomialCDF(n int, p float64, k int) float64 {
	if k < 0 {
		return 0
	}
	if k >= n {
		return 1
	}
	logP := math.Log(p)
	log1mP := math.Log1p(-p)
	var sum float64
	for i := 0; i <= k; i++ {
		logTerm := logBinomialCoeff(n, i) + float64(i)*logP + float64(n-i)*log1mP
		sum += math.Exp(logTerm)
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

func logBinomialCoeff(n, k int) float64 {
	return lgammaOfNPlus1(n) - lgammaOfNPlus1(k) - lgammaOfNPlus1(n-k)
}

func lgammaOfNPlus1(n int) float64 {
	v, _ := math.Lgamma(float64(n + 1))
	return v
}

// clampProbability keeps the measured loss rate away from the degenerate
// edges where the repair-length search would never terminate.
func clampProbability(p float64) float64 {
	const lo, hi = 1e-100, 1 - 1e-100
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}
