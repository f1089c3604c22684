// Package pkmodel implements the closed-form structural pharmacokinetic
// models: one-, two- and three-compartment mammillary systems with IV bolus,
// IV infusion and first-order oral input. Concentrations superpose over the
// dose history, so every model handles arbitrary multi-dose regimens.
package pkmodel

import (
	"fmt"
	"math"
)

// Parameters is the structural parameter set shared by the model family.
// V1 doubles as V for the one-compartment model; only the fields a given
// model requires need to be set.
type Parameters struct {
	CL float64 // clearance
	V1 float64 // central volume of distribution
	KA float64 // first-order absorption rate constant, oral dosing only
	Q2 float64 // inter-compartmental clearance to compartment 2
	V2 float64 // peripheral volume, compartment 2
	Q3 float64 // inter-compartmental clearance to compartment 3
	V3 float64 // peripheral volume, compartment 3
}

// FromMap builds Parameters from sampled name/value pairs. V is accepted as
// an alias for V1 and Q as an alias for Q2; names a model does not use are
// ignored.
func FromMap(values map[string]float64) Parameters {
	pick := func(names ...string) float64 {
		for _, n := range names {
			if v, ok := values[n]; ok {
				return v
			}
		}
		return 0
	}
	return Parameters{
		CL: pick("CL"),
		V1: pick("V1", "V"),
		KA: pick("KA"),
		Q2: pick("Q2", "Q"),
		V2: pick("V2"),
		Q3: pick("Q3"),
		V3: pick("V3"),
	}
}

// Model computes central-compartment concentrations for a dose history.
// Implementations are closed-form solutions: queries never fail, doses in
// the future of t contribute nothing, and negative round-off results clamp
// to zero.
type Model interface {
	// SetParameters validates and installs the structural parameters,
	// precomputing the model's rate and hybrid constants.
	SetParameters(p Parameters) error

	// ConcentrationAt returns the central concentration at time t under the
	// given dose history.
	ConcentrationAt(t float64, history []DoseEvent) float64

	// ParameterNames lists the required structural parameter names.
	ParameterNames() []string
}

// New returns the structural model for a compartment count of 1, 2 or 3.
func New(compartments int) (Model, error) {
	switch compartments {
	case 1:
		return &OneCompartment{}, nil
	case 2:
		return &TwoCompartment{}, nil
	case 3:
		return &ThreeCompartment{}, nil
	default:
		return nil, fmt.Errorf("unsupported compartment count %d (valid: 1, 2, 3)", compartments)
	}
}

// clampNonNegative zeroes tiny negative excursions from floating-point
// cancellation so reported concentrations stay physical.
func clampNonNegative(c float64) float64 {
	if c < 0 {
		return 0
	}
	return c
}

// oralInputs returns the event's effective absorption inputs: ka with the
// historical default of 1 when unset, and bioavailability defaulting to 1.
func oralInputs(ka float64, dose DoseEvent) (float64, float64) {
	if ka <= 0 {
		ka = 1
	}
	f := dose.Bioavailability
	if f == 0 {
		f = 1
	}
	return ka, f
}

// infusionRate returns the zero-order input rate and duration for an
// infusion event. An unset duration falls back to 1.
func infusionRate(dose DoseEvent) (rate, duration float64) {
	duration = dose.Duration
	if duration <= 0 {
		duration = 1
	}
	return dose.Amount / duration, duration
}

func checkPositive(model, name string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%s model: %s must be positive, got %g", model, name, v)
	}
	return nil
}

func checkKA(model string, ka float64) error {
	if ka < 0 {
		return fmt.Errorf("%s model: KA must not be negative, got %g", model, ka)
	}
	return nil
}

// checkKADistinct rejects an absorption rate within absorptionEpsilon of a
// hybrid constant, where the oral-term denominators vanish.
func checkKADistinct(model string, ka float64, lambdas ...float64) error {
	if ka <= 0 {
		return nil
	}
	for _, lambda := range lambdas {
		if math.Abs(ka-lambda) <= absorptionEpsilon {
			return fmt.Errorf("%s model: KA %g coincides with hybrid constant %g", model, ka, lambda)
		}
	}
	return nil
}
