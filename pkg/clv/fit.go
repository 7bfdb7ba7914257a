package clv

import (
	"math"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// observation is one customer's evidence for the population fit: transaction
// count over an exposure window, plus average spend.
type observation struct {
	count    float64
	exposure float64
	avgSpend float64
}

// fitRatePrior estimates the gamma prior (shape r, rate alpha) over
// individual purchase rates by maximizing the gamma-Poisson marginal
// likelihood. Optimization is gradient ascent on (log r, log alpha) with
// numeric gradients and backtracking, which keeps both parameters positive
// without explicit constraints. Returns a ConvergenceError when the
// log-likelihood fails to settle within the iteration budget.
func (m *Model) fitRatePrior(obs []observation) (float64, float64, error) {
	logR, logAlpha := initialRateGuess(obs, m.config.MinParam)

	ll := rateLogLikelihood(obs, math.Exp(logR), math.Exp(logAlpha))
	step := 0.1
	delta := math.Inf(1)

	for iter := 0; iter < m.config.MaxIterations; iter++ {
		gradR, gradAlpha := rateGradient(obs, logR, logAlpha)

		// Backtracking line search along the gradient.
		improved := false
		for attempt := 0; attempt < 30; attempt++ {
			candR := logR + step*gradR
			candAlpha := logAlpha + step*gradAlpha
			candLL := rateLogLikelihood(obs, math.Exp(candR), math.Exp(candAlpha))
			if candLL > ll && !math.IsNaN(candLL) && !math.IsInf(candLL, 0) {
				delta = candLL - ll
				logR, logAlpha, ll = candR, candAlpha, candLL
				improved = true
				break
			}
			step /= 2
		}

		if !improved {
			// Gradient no longer improves: treat as converged if the
			// last accepted change was already tiny.
			if delta < m.config.Tolerance*10 {
				break
			}
			return 0, 0, &domain.ConvergenceError{Stage: "purchase_rate", Iterations: iter, Delta: delta}
		}

		if delta < m.config.Tolerance {
			break
		}

		// Gentle step growth after an accepted move.
		step = math.Min(step*1.5, 1.0)

		if iter == m.config.MaxIterations-1 {
			return 0, 0, &domain.ConvergenceError{Stage: "purchase_rate", Iterations: iter + 1, Delta: delta}
		}
	}

	r := math.Max(math.Exp(logR), m.config.MinParam)
	alpha := math.Max(math.Exp(logAlpha), m.config.MinParam)
	return r, alpha, nil
}

// rateLogLikelihood is the gamma-Poisson (negative binomial with exposure)
// marginal log-likelihood of the observed counts.
//
//	ll = sum_i [ lnG(r+x_i) - lnG(r) - lnG(x_i+1)
//	           + r*ln(alpha/(alpha+T_i)) + x_i*ln(T_i/(alpha+T_i)) ]
func rateLogLikelihood(obs []observation, r, alpha float64) float64 {
	if r <= 0 || alpha <= 0 {
		return math.Inf(-1)
	}

	lgR, _ := math.Lgamma(r)
	ll := 0.0
	for _, o := range obs {
		lgRX, _ := math.Lgamma(r + o.count)
		lgX, _ := math.Lgamma(o.count + 1)
		ll += lgRX - lgR - lgX
		ll += r * math.Log(alpha/(alpha+o.exposure))
		ll += o.count * math.Log(o.exposure/(alpha+o.exposure))
	}
	return ll
}

// rateGradient computes a central-difference gradient of the log-likelihood
// in (log r, log alpha) space.
func rateGradient(obs []observation, logR, logAlpha float64) (float64, float64) {
	const h = 1e-5

	llPlusR := rateLogLikelihood(obs, math.Exp(logR+h), math.Exp(logAlpha))
	llMinusR := rateLogLikelihood(obs, math.Exp(logR-h), math.Exp(logAlpha))
	llPlusA := rateLogLikelihood(obs, math.Exp(logR), math.Exp(logAlpha+h))
	llMinusA := rateLogLikelihood(obs, math.Exp(logR), math.Exp(logAlpha-h))

	gradR := (llPlusR - llMinusR) / (2 * h)
	gradAlpha := (llPlusA - llMinusA) / (2 * h)

	// Normalize so step size is scale independent.
	norm := math.Hypot(gradR, gradAlpha)
	if norm > 0 {
		gradR /= norm
		gradAlpha /= norm
	}
	return gradR, gradAlpha
}

// initialRateGuess seeds the optimizer from the moment-matching estimate.
func initialRateGuess(obs []observation, minParam float64) (float64, float64) {
	r, alpha := momentMatchRatePrior(obs, minParam)
	return math.Log(r), math.Log(alpha)
}

// momentMatchRatePrior is the closed-form fallback: match the gamma prior's
// mean and variance to the empirical distribution of observed per-day rates.
// For a gamma(r, alpha) prior, mean = r/alpha and var = r/alpha^2.
func momentMatchRatePrior(obs []observation, minParam float64) (float64, float64) {
	rates := make([]float64, 0, len(obs))
	for _, o := range obs {
		rates = append(rates, o.count/o.exposure)
	}

	mean := meanOf(rates)
	variance := varianceOf(rates, mean)

	if mean <= 0 {
		return minParam, 1.0
	}
	if variance <= mean*mean*1e-12 {
		// Degenerate population: every customer purchases at the same
		// rate. The comparison is a relative epsilon because identical
		// rates leave floating-point dust in the variance, and
		// r = mean^2/variance would explode on it. Use a tight prior
		// centered on the mean instead.
		variance = mean * mean / 100
	}

	alpha := mean / variance
	r := mean * alpha

	return math.Max(r, minParam), math.Max(alpha, minParam)
}

// fitSpendPrior estimates the population mean spend and the shrinkage weight
// q. The weight is the ratio of within-customer to between-customer spread:
// when customers' averages are tightly clustered, individual evidence counts
// for less and q grows.
func fitSpendPrior(obs []observation, maxWeight float64) (float64, float64) {
	spends := make([]float64, 0, len(obs))
	for _, o := range obs {
		spends = append(spends, o.avgSpend)
	}

	mean := meanOf(spends)
	variance := varianceOf(spends, mean)

	if variance <= 0 || mean <= 0 {
		return math.Max(mean, 0), maxWeight
	}

	// Coefficient-of-variation based weight: q = mean^2 / variance,
	// clamped to [1, maxWeight] so a few transactions always move the
	// estimate somewhat.
	q := mean * mean / variance
	if q < 1 {
		q = 1
	}
	if q > maxWeight {
		q = maxWeight
	}
	return mean, q
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func varianceOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values)-1)
}
