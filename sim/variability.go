package sim

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// The variability kernel: pure sampling functions over a borrowed PRNG.
// Draw counts are contractual (see the reproducibility notes on Simulator):
// ApplyIIV consumes one Gaussian draw when cvPercent > 0, the residual
// error functions consume one draw each except CombinedError which
// consumes two, and a non-positive prediction short-circuits before any
// draw.

// gaussian draws from Normal(mu, sigma) on the given stream. A zero sigma
// still consumes the draw so the schedule stays uniform.
func gaussian(mu, sigma float64, rng *rand.Rand) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: rng}.Rand()
}

// ApplyIIV perturbs a typical parameter value theta with log-normal
// inter-individual variability: eta ~ Normal(0, cvPercent/100) and the
// individual value is theta*exp(eta). cvPercent <= 0 returns theta
// unchanged without consuming a draw.
func ApplyIIV(theta, cvPercent float64, rng *rand.Rand) float64 {
	if cvPercent <= 0 {
		return theta
	}
	eta := gaussian(0, cvPercent/100, rng)
	return theta * math.Exp(eta)
}

// ProportionalError applies Y = F*(1+eps), eps ~ Normal(0, sigma).
// Non-positive predictions return 0 without drawing; results clamp to >= 0.
func ProportionalError(predicted, sigma float64, rng *rand.Rand) float64 {
	if predicted <= 0 {
		return 0
	}
	eps := gaussian(0, sigma, rng)
	return math.Max(0, predicted*(1+eps))
}

// AdditiveError applies Y = F + eps, eps ~ Normal(0, sigma).
// Non-positive predictions return 0 without drawing; results clamp to >= 0.
func AdditiveError(predicted, sigma float64, rng *rand.Rand) float64 {
	if predicted <= 0 {
		return 0
	}
	eps := gaussian(0, sigma, rng)
	return math.Max(0, predicted+eps)
}

// CombinedError applies Y = F*(1+epsProp) + epsAdd with independent draws,
// additive first. Non-positive predictions return 0 without drawing;
// results clamp to >= 0.
func CombinedError(predicted, sigmaAdd, sigmaProp float64, rng *rand.Rand) float64 {
	if predicted <= 0 {
		return 0
	}
	epsAdd := gaussian(0, sigmaAdd, rng)
	epsProp := gaussian(0, sigmaProp, rng)
	return math.Max(0, predicted*(1+epsProp)+epsAdd)
}
