package pkmodel

import (
	"fmt"
	"math"
)

// ThreeCompartment is the three-compartment mammillary model. Disposition
// is tri-exponential with hybrid constants alpha >= beta >= gamma, the
// roots of the characteristic cubic
//
//	lambda^3 - a2*lambda^2 + a1*lambda - a0 = 0
//	a2 = k10 + k12 + k21 + k13 + k31
//	a1 = k10*k21 + k10*k31 + k13*k21 + k12*k31 + k21*k31
//	a0 = k10*k21*k31
//
// where k10 = CL/V1, k12 = Q2/V1, k21 = Q2/V2, k13 = Q3/V1, k31 = Q3/V3.
// A mammillary system always has three real non-negative roots, so the
// cubic is solved with Viete's trigonometric method. The exponential
// coefficients follow from the eigen-decomposition:
//
//	A = (k21-alpha)(k31-alpha) / ((alpha-beta)(alpha-gamma))
//
// and cyclically for B and C, which gives A+B+C = 1 (so a bolus starts at
// D/V1) and A/alpha + B/beta + C/gamma = V1/CL (so a long infusion
// plateaus at rate/CL).
type ThreeCompartment struct {
	params              Parameters
	alpha, beta, gamma  float64
	coefA, coefB, coefC float64
}

func (m *ThreeCompartment) ParameterNames() []string {
	return []string{"CL", "V1", "Q2", "V2", "Q3", "V3"}
}

func (m *ThreeCompartment) SetParameters(p Parameters) error {
	for _, c := range []struct {
		name  string
		value float64
	}{
		{"CL", p.CL},
		{"V1", p.V1},
		{"Q2", p.Q2},
		{"V2", p.V2},
		{"Q3", p.Q3},
		{"V3", p.V3},
	} {
		if err := checkPositive("three-compartment", c.name, c.value); err != nil {
			return err
		}
	}
	if err := checkKA("three-compartment", p.KA); err != nil {
		return err
	}

	k10 := p.CL / p.V1
	k12 := p.Q2 / p.V1
	k21 := p.Q2 / p.V2
	k13 := p.Q3 / p.V1
	k31 := p.Q3 / p.V3

	alpha, beta, gamma, err := hybridConstants(k10, k12, k21, k13, k31)
	if err != nil {
		return err
	}
	if err := checkKADistinct("three-compartment", p.KA, alpha, beta, gamma); err != nil {
		return err
	}

	m.alpha, m.beta, m.gamma = alpha, beta, gamma
	m.coefA = (k21 - alpha) * (k31 - alpha) / ((alpha - beta) * (alpha - gamma))
	m.coefB = (k21 - beta) * (k31 - beta) / ((beta - alpha) * (beta - gamma))
	m.coefC = (k21 - gamma) * (k31 - gamma) / ((gamma - alpha) * (gamma - beta))
	m.params = p
	return nil
}

// hybridConstants solves the characteristic cubic and returns its three
// real roots in descending order. Distinct positive micro-constants always
// give distinct roots; a collapsed root is an error, since the exponential
// coefficients divide by the root differences.
func hybridConstants(k10, k12, k21, k13, k31 float64) (alpha, beta, gamma float64, err error) {
	a2 := k10 + k12 + k21 + k13 + k31
	a1 := k10*k21 + k10*k31 + k13*k21 + k12*k31 + k21*k31
	a0 := k10 * k21 * k31

	// Depressed form x^3 + p*x + q with lambda = x + a2/3. Three distinct
	// real roots require p < 0.
	p := a1 - a2*a2/3
	q := -2*a2*a2*a2/27 + a2*a1/3 - a0

	if p >= 0 {
		return 0, 0, 0, fmt.Errorf("three-compartment model: hybrid constants are not distinct")
	}

	shift := a2 / 3
	u := math.Sqrt(-p / 3)
	cos3Phi := -q / (2 * u * u * u)
	// Round-off can push the argument just outside [-1, 1].
	cos3Phi = math.Max(-1, math.Min(1, cos3Phi))
	phi := math.Acos(cos3Phi) / 3

	// The shifted cosines are ordered by construction:
	// cos(phi) >= cos(phi - 2pi/3) >= cos(phi - 4pi/3) for phi in [0, pi/3].
	alpha = shift + 2*u*math.Cos(phi)
	beta = shift + 2*u*math.Cos(phi-2*math.Pi/3)
	gamma = shift + 2*u*math.Cos(phi-4*math.Pi/3)
	return alpha, beta, gamma, nil
}

// ConcentrationAt superposes the contribution of every dose administered at
// or before t.
func (m *ThreeCompartment) ConcentrationAt(t float64, history []DoseEvent) float64 {
	total := 0.0
	for _, dose := range history {
		if dose.Time > t {
			continue
		}
		tau := t - dose.Time
		switch dose.Route {
		case RouteIVBolus:
			total += dose.Amount / m.params.V1 *
				(m.coefA*math.Exp(-m.alpha*tau) +
					m.coefB*math.Exp(-m.beta*tau) +
					m.coefC*math.Exp(-m.gamma*tau))
		case RouteIVInfusion:
			total += m.infusion(dose, tau)
		case RouteOral:
			total += m.oral(dose, tau)
		}
	}
	return clampNonNegative(total)
}

// infusion integrates each exponential term over the zero-order input
// window, then decays each end-of-infusion term on its own rate constant.
func (m *ThreeCompartment) infusion(dose DoseEvent, tau float64) float64 {
	rate, duration := infusionRate(dose)
	if tau <= duration {
		return rate / m.params.V1 *
			(m.coefA*(1-math.Exp(-m.alpha*tau))/m.alpha +
				m.coefB*(1-math.Exp(-m.beta*tau))/m.beta +
				m.coefC*(1-math.Exp(-m.gamma*tau))/m.gamma)
	}
	since := tau - duration
	termA := m.coefA * (1 - math.Exp(-m.alpha*duration)) / m.alpha * math.Exp(-m.alpha*since)
	termB := m.coefB * (1 - math.Exp(-m.beta*duration)) / m.beta * math.Exp(-m.beta*since)
	termC := m.coefC * (1 - math.Exp(-m.gamma*duration)) / m.gamma * math.Exp(-m.gamma*since)
	return rate / m.params.V1 * (termA + termB + termC)
}

func (m *ThreeCompartment) oral(dose DoseEvent, tau float64) float64 {
	ka, f := oralInputs(m.params.KA, dose)
	termA := m.coefA * math.Exp(-m.alpha*tau) / (ka - m.alpha)
	termB := m.coefB * math.Exp(-m.beta*tau) / (ka - m.beta)
	termC := m.coefC * math.Exp(-m.gamma*tau) / (ka - m.gamma)
	termKA := math.Exp(-ka*tau) / ((m.alpha - ka) * (m.beta - ka) * (m.gamma - ka))
	return ka * f * dose.Amount / m.params.V1 * (termA + termB + termC + termKA)
}
