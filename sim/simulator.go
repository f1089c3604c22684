// sim/simulator.go
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pharmacometric/NSIMS/sim/pkmodel"
)

// Plausibility clamps applied to sampled demographics.
const (
	minWeight = 30.0
	maxWeight = 200.0
	minAge    = 18.0
	maxAge    = 100.0
)

// Simulator drives a population simulation over a validated Config.
//
// Serial runs consume a single PRNG stream on a fixed schedule: per
// patient, weight, then age, then one log-normal draw per parameter with
// IIV in configuration order, then one or two residual draws per
// observation. Parallel runs give each patient its own stream derived
// from the simulation key, so results are reproducible for any worker
// count but differ from serial runs under the same key.
type Simulator struct {
	cfg     *Config
	key     SimulationKey
	regimen *pkmodel.Regimen
}

// New builds a Simulator. The configuration must already be validated.
func New(cfg *Config, key SimulationKey) (*Simulator, error) {
	route, err := pkmodel.ParseRoute(cfg.Dosing.Route)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDosing, err)
	}
	regimen := pkmodel.NewRegimen(route, cfg.Dosing.Amount, cfg.Dosing.Times, pkmodel.RegimenOptions{
		Duration:        cfg.Dosing.Duration(),
		Bioavailability: cfg.Dosing.Bioavailability(),
	})
	if m := cfg.Simulation.IntegrationMethod; m != "" && m != IntegrationAnalytical {
		logrus.Warnf("integration method %q requested; closed-form solutions are used instead", m)
	}
	if lag := cfg.Dosing.LagTime(); lag > 0 {
		logrus.Warnf("lag_time %g is accepted but not applied; doses enter at their configured times", lag)
	}
	return &Simulator{cfg: cfg, key: key, regimen: regimen}, nil
}

// Key returns the simulation key in effect.
func (s *Simulator) Key() SimulationKey {
	return s.key
}

// Regimen returns the expanded dose history shared by all patients.
func (s *Simulator) Regimen() *pkmodel.Regimen {
	return s.regimen
}

// Run simulates patients sequentially on the shared population stream.
// Patient IDs are 1-based.
func (s *Simulator) Run(patients int) ([]PatientResult, error) {
	if patients <= 0 {
		return nil, fmt.Errorf("%w: patient count must be positive, got %d", ErrValidation, patients)
	}
	logrus.Infof("Starting population simulation for %d patients", patients)
	rng := NewPartitionedRNG(s.key).ForStream(StreamPopulation)
	results := make([]PatientResult, 0, patients)
	for id := 1; id <= patients; id++ {
		if id <= 10 || id%10 == 0 {
			logrus.Infof("Simulating patient %d/%d", id, patients)
		}
		r, err := s.simulatePatient(id, rng)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	logrus.Info("Population simulation completed")
	return results, nil
}

// RunParallel simulates patients across at most workers goroutines.
// Each patient draws from its own stream, so a given key yields
// identical results for any worker count, including one. A worker count
// below 1 uses all available CPUs.
func (s *Simulator) RunParallel(patients, workers int) ([]PatientResult, error) {
	if patients <= 0 {
		return nil, fmt.Errorf("%w: patient count must be positive, got %d", ErrValidation, patients)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logrus.Infof("Starting population simulation for %d patients across %d workers", patients, workers)

	// Streams are derived up front; the stream cache is not safe for
	// concurrent use.
	prng := NewPartitionedRNG(s.key)
	rngs := make([]*rand.Rand, patients)
	for i := range rngs {
		rngs[i] = prng.ForStream(StreamPatient(i + 1))
	}

	results := make([]PatientResult, patients)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < patients; i++ {
		g.Go(func() error {
			r, err := s.simulatePatient(i+1, rngs[i])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logrus.Info("Population simulation completed")
	return results, nil
}

func (s *Simulator) simulatePatient(id int, rng *rand.Rand) (PatientResult, error) {
	logrus.Debugf("Simulating patient %d", id)

	demo := s.sampleDemographics(rng)
	params, err := s.sampleParameters(demo, rng)
	if err != nil {
		return PatientResult{}, fmt.Errorf("patient %d: %w", id, err)
	}

	model, err := pkmodel.New(s.cfg.Model.Compartments)
	if err != nil {
		return PatientResult{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := model.SetParameters(pkmodel.FromMap(params)); err != nil {
		return PatientResult{}, fmt.Errorf("%w: patient %d: %v", ErrSimulation, id, err)
	}

	obs := make([]Observation, 0, len(s.cfg.Simulation.TimePoints))
	for _, t := range s.cfg.Simulation.TimePoints {
		predicted := model.ConcentrationAt(t, s.regimen.EventsBefore(t))
		observed := s.applyResidualError(predicted, rng)
		obs = append(obs, Observation{
			Time:                   t,
			Concentration:          observed,
			PredictedConcentration: predicted,
		})
	}

	return PatientResult{
		PatientID:    id,
		Demographics: demo,
		Parameters:   params,
		Observations: obs,
	}, nil
}

// sampleDemographics draws weight and age, clamped to plausible adult
// ranges. Both draws happen even when an SD is zero, keeping the stream
// schedule uniform.
func (s *Simulator) sampleDemographics(rng *rand.Rand) Demographics {
	d := s.cfg.Population.Demographics
	weight := gaussian(d.WeightMean, d.WeightSD, rng)
	age := gaussian(d.AgeMean, d.AgeSD, rng)
	return Demographics{
		Weight: math.Min(math.Max(weight, minWeight), maxWeight),
		Age:    math.Min(math.Max(age, minAge), maxAge),
	}
}

// sampleParameters builds one patient's parameters in configuration
// order: typical value, covariate scaling (weight before age), log-normal
// IIV, then bounds clamping. A non-positive or non-finite result is
// fatal.
func (s *Simulator) sampleParameters(demo Demographics, rng *rand.Rand) (map[string]float64, error) {
	params := make(map[string]float64, s.cfg.Model.Parameters.Len())
	for _, name := range s.cfg.Model.Parameters.Names() {
		spec, _ := s.cfg.Model.Parameters.Get(name)
		value := spec.Theta

		factor, err := s.covariateFactor(name, demo)
		if err != nil {
			return nil, err
		}
		value *= factor

		value = ApplyIIV(value, spec.Omega, rng)

		if spec.Bounds != nil {
			value = math.Min(math.Max(value, spec.Bounds[0]), spec.Bounds[1])
		}
		if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
			return nil, fmt.Errorf("%w: sampled %s = %g is not positive", ErrValidation, name, value)
		}
		params[name] = value
	}
	return params, nil
}

// covariateFactor multiplies the configured weight and age effects for
// one parameter. Weight applies before age. Covariates consume no PRNG
// draws.
func (s *Simulator) covariateFactor(param string, demo Demographics) (float64, error) {
	factor := 1.0
	if spec, ok := s.cfg.Population.Covariates[param+"_WT"]; ok {
		f, err := CovariateFactor(spec.ModelOrDefault(), demo.Weight, spec.Reference, spec.Effect)
		if err != nil {
			return 0, fmt.Errorf("%w: covariate %s_WT: %v", ErrValidation, param, err)
		}
		factor *= f
	}
	if spec, ok := s.cfg.Population.Covariates[param+"_AGE"]; ok {
		f, err := CovariateFactor(spec.ModelOrDefault(), demo.Age, spec.Reference, spec.Effect)
		if err != nil {
			return 0, fmt.Errorf("%w: covariate %s_AGE: %v", ErrValidation, param, err)
		}
		factor *= f
	}
	return factor, nil
}

// applyResidualError dispatches on the configured error model.
func (s *Simulator) applyResidualError(predicted float64, rng *rand.Rand) float64 {
	em := s.cfg.Simulation.ErrorModel
	switch em.Type {
	case ErrorModelAdditive:
		return AdditiveError(predicted, em.SigmaAdd, rng)
	case ErrorModelCombined:
		return CombinedError(predicted, em.SigmaAdd, em.SigmaProp, rng)
	default:
		return ProportionalError(predicted, em.SigmaProp, rng)
	}
}
