package pkmodel

import "math"

// TwoCompartment is the two-compartment mammillary model. Disposition is
// the bi-exponential A*exp(-alpha*t) + B*exp(-beta*t) with hybrid constants
// from the quadratic
//
//	lambda^2 - (k10+k12+k21)*lambda + k10*k21 = 0
//
// where k10 = CL/V1, k12 = Q2/V1, k21 = Q2/V2.
type TwoCompartment struct {
	params      Parameters
	alpha, beta float64
	coefA       float64 // (alpha-k21)/(alpha-beta)
	coefB       float64 // (k21-beta)/(alpha-beta)
}

func (m *TwoCompartment) ParameterNames() []string {
	return []string{"CL", "V1", "Q2", "V2"}
}

func (m *TwoCompartment) SetParameters(p Parameters) error {
	for _, c := range []struct {
		name  string
		value float64
	}{
		{"CL", p.CL},
		{"V1", p.V1},
		{"Q2", p.Q2},
		{"V2", p.V2},
	} {
		if err := checkPositive("two-compartment", c.name, c.value); err != nil {
			return err
		}
	}
	if err := checkKA("two-compartment", p.KA); err != nil {
		return err
	}

	k10 := p.CL / p.V1
	k12 := p.Q2 / p.V1
	k21 := p.Q2 / p.V2

	sum := k10 + k12 + k21
	sqrtDisc := math.Sqrt(sum*sum - 4*k10*k21)
	alpha := (sum + sqrtDisc) / 2
	beta := (sum - sqrtDisc) / 2
	if err := checkKADistinct("two-compartment", p.KA, alpha, beta); err != nil {
		return err
	}

	m.alpha, m.beta = alpha, beta
	m.coefA = (alpha - k21) / (alpha - beta)
	m.coefB = (k21 - beta) / (alpha - beta)
	m.params = p
	return nil
}

// ConcentrationAt superposes the contribution of every dose administered at
// or before t.
func (m *TwoCompartment) ConcentrationAt(t float64, history []DoseEvent) float64 {
	total := 0.0
	for _, dose := range history {
		if dose.Time > t {
			continue
		}
		tau := t - dose.Time
		switch dose.Route {
		case RouteIVBolus:
			total += dose.Amount / m.params.V1 *
				(m.coefA*math.Exp(-m.alpha*tau) + m.coefB*math.Exp(-m.beta*tau))
		case RouteIVInfusion:
			total += m.infusion(dose, tau)
		case RouteOral:
			total += m.oral(dose, tau)
		}
	}
	return clampNonNegative(total)
}

// infusion integrates each exponential term over the zero-order input
// window: (1-exp(-lambda*tau))/lambda while the pump runs, then the
// end-of-infusion value of each term decays on its own rate constant.
func (m *TwoCompartment) infusion(dose DoseEvent, tau float64) float64 {
	rate, duration := infusionRate(dose)
	if tau <= duration {
		return rate / m.params.V1 *
			(m.coefA*(1-math.Exp(-m.alpha*tau))/m.alpha +
				m.coefB*(1-math.Exp(-m.beta*tau))/m.beta)
	}
	since := tau - duration
	termA := m.coefA * (1 - math.Exp(-m.alpha*duration)) / m.alpha * math.Exp(-m.alpha*since)
	termB := m.coefB * (1 - math.Exp(-m.beta*duration)) / m.beta * math.Exp(-m.beta*since)
	return rate / m.params.V1 * (termA + termB)
}

func (m *TwoCompartment) oral(dose DoseEvent, tau float64) float64 {
	ka, f := oralInputs(m.params.KA, dose)
	termA := m.coefA * math.Exp(-m.alpha*tau) / (ka - m.alpha)
	termB := m.coefB * math.Exp(-m.beta*tau) / (ka - m.beta)
	termKA := math.Exp(-ka*tau) / ((m.alpha - ka) * (m.beta - ka))
	return ka * f * dose.Amount / m.params.V1 * (termA + termB + termKA)
}
