package sim

// Demographics are the sampled patient attributes consumed by covariate
// models. Weight is clamped to [30, 200], age to [18, 100].
type Demographics struct {
	Weight float64
	Age    float64
}

// Observation is one point on a patient's concentration-time curve.
// Concentration carries residual error; PredictedConcentration is the
// structural model value before error.
type Observation struct {
	Time                   float64
	Concentration          float64
	PredictedConcentration float64
}

// PatientResult is the complete simulated record for one patient.
// Parameters holds the individual (post-IIV, post-covariate) values keyed
// by configured parameter name.
type PatientResult struct {
	PatientID    int
	Demographics Demographics
	Parameters   map[string]float64
	Observations []Observation
}

// MaxConcentration returns the highest observed concentration (Cmax),
// or 0 when there are no observations.
func (p PatientResult) MaxConcentration() float64 {
	maxC := 0.0
	for _, obs := range p.Observations {
		if obs.Concentration > maxC {
			maxC = obs.Concentration
		}
	}
	return maxC
}

// TimeOfMax returns the time of the first observation attaining Cmax
// (Tmax). Ties break toward the earlier time; 0 when there are no
// observations.
func (p PatientResult) TimeOfMax() float64 {
	tmax, maxC := 0.0, -1.0
	for _, obs := range p.Observations {
		if obs.Concentration > maxC {
			maxC = obs.Concentration
			tmax = obs.Time
		}
	}
	if maxC < 0 {
		return 0
	}
	return tmax
}

// AUC integrates the observed curve over the observation grid with the
// trapezoidal rule. Fewer than two observations integrate to 0.
func (p PatientResult) AUC() float64 {
	auc := 0.0
	for i := 1; i < len(p.Observations); i++ {
		prev, cur := p.Observations[i-1], p.Observations[i]
		auc += (cur.Time - prev.Time) * (prev.Concentration + cur.Concentration) / 2
	}
	return auc
}
