package pkmodel

import "math"

// absorptionEpsilon is the |ka-ke| threshold below which the oral solution
// switches to its flip-flop limit.
const absorptionEpsilon = 1e-10

// OneCompartment is the single-compartment model with first-order
// elimination ke = CL/V.
type OneCompartment struct {
	params Parameters
	ke     float64
}

func (m *OneCompartment) ParameterNames() []string {
	return []string{"CL", "V"}
}

func (m *OneCompartment) SetParameters(p Parameters) error {
	if err := checkPositive("one-compartment", "CL", p.CL); err != nil {
		return err
	}
	if err := checkPositive("one-compartment", "V", p.V1); err != nil {
		return err
	}
	if err := checkKA("one-compartment", p.KA); err != nil {
		return err
	}
	m.params = p
	m.ke = p.CL / p.V1
	return nil
}

// ConcentrationAt superposes the contribution of every dose administered at
// or before t.
func (m *OneCompartment) ConcentrationAt(t float64, history []DoseEvent) float64 {
	total := 0.0
	for _, dose := range history {
		if dose.Time > t {
			continue
		}
		tau := t - dose.Time
		switch dose.Route {
		case RouteIVBolus:
			total += dose.Amount / m.params.V1 * math.Exp(-m.ke*tau)
		case RouteIVInfusion:
			total += m.infusion(dose, tau)
		case RouteOral:
			total += m.oral(dose, tau)
		}
	}
	return clampNonNegative(total)
}

func (m *OneCompartment) infusion(dose DoseEvent, tau float64) float64 {
	rate, duration := infusionRate(dose)
	if tau <= duration {
		return rate / m.params.CL * (1 - math.Exp(-m.ke*tau))
	}
	end := rate / m.params.CL * (1 - math.Exp(-m.ke*duration))
	return end * math.Exp(-m.ke*(tau-duration))
}

func (m *OneCompartment) oral(dose DoseEvent, tau float64) float64 {
	ka, f := oralInputs(m.params.KA, dose)
	if math.Abs(ka-m.ke) <= absorptionEpsilon {
		// Flip-flop kinetics, ka ~= ke.
		return dose.Amount * f / m.params.V1 * tau * math.Exp(-m.ke*tau)
	}
	return dose.Amount * f * ka / m.params.V1 *
		(math.Exp(-m.ke*tau) - math.Exp(-ka*tau)) / (ka - m.ke)
}
