package sim

import (
	"fmt"
	"math"
)

// Covariate model tags accepted in configuration files.
const (
	CovariatePower       = "power"
	CovariateExponential = "exponential"
	CovariateLinear      = "linear"
)

// CovariateFactor returns the multiplicative adjustment of a typical
// parameter value for one covariate observation:
//
//	power:       (value/reference)^effect
//	exponential: exp(effect*(value-reference))
//	linear:      1 + effect*(value-reference)
//
// Covariate application consumes no PRNG draws.
func CovariateFactor(model string, value, reference, effect float64) (float64, error) {
	switch model {
	case CovariatePower:
		return math.Pow(value/reference, effect), nil
	case CovariateExponential:
		return math.Exp(effect * (value - reference)), nil
	case CovariateLinear:
		return 1 + effect*(value-reference), nil
	default:
		return 0, fmt.Errorf("unknown covariate model %q", model)
	}
}
