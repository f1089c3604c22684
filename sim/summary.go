package sim

import (
	"github.com/montanaflynn/stats"
)

// PopulationSummary aggregates individual parameters and exposure metrics
// across the simulated population. It is what population_summary.json
// serializes.
type PopulationSummary struct {
	NPatients        int              `json:"n_patients"`
	Parameters       ParameterSummary `json:"parameters"`
	Pharmacokinetics PKSummary        `json:"pharmacokinetics"`
}

// ParameterSummary reports clearance and central volume statistics.
type ParameterSummary struct {
	CLMean float64 `json:"cl_mean"`
	CLSD   float64 `json:"cl_sd"`
	VMean  float64 `json:"v_mean"`
	VSD    float64 `json:"v_sd"`
}

// PKSummary reports statistics of the derived exposure metrics.
type PKSummary struct {
	CmaxMean float64 `json:"cmax_mean"`
	CmaxSD   float64 `json:"cmax_sd"`
	AUCMean  float64 `json:"auc_mean"`
	AUCSD    float64 `json:"auc_sd"`
	TmaxMean float64 `json:"tmax_mean"`
	TmaxSD   float64 `json:"tmax_sd"`
}

// Summarize computes population statistics from patient results. The
// central volume reads V, falling back to V1 for multi-compartment
// parameterisations.
func Summarize(results []PatientResult) PopulationSummary {
	n := len(results)
	cl := make([]float64, 0, n)
	vol := make([]float64, 0, n)
	cmax := make([]float64, 0, n)
	auc := make([]float64, 0, n)
	tmax := make([]float64, 0, n)
	for _, r := range results {
		cl = append(cl, r.Parameters["CL"])
		v, ok := r.Parameters["V"]
		if !ok {
			v = r.Parameters["V1"]
		}
		vol = append(vol, v)
		cmax = append(cmax, r.MaxConcentration())
		auc = append(auc, r.AUC())
		tmax = append(tmax, r.TimeOfMax())
	}
	return PopulationSummary{
		NPatients: n,
		Parameters: ParameterSummary{
			CLMean: summaryMean(cl),
			CLSD:   summarySD(cl),
			VMean:  summaryMean(vol),
			VSD:    summarySD(vol),
		},
		Pharmacokinetics: PKSummary{
			CmaxMean: summaryMean(cmax),
			CmaxSD:   summarySD(cmax),
			AUCMean:  summaryMean(auc),
			AUCSD:    summarySD(auc),
			TmaxMean: summaryMean(tmax),
			TmaxSD:   summarySD(tmax),
		},
	}
}

// summaryMean is stats.Mean with the empty slice mapped to 0.
func summaryMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

// summarySD is the sample standard deviation (n-1 denominator); fewer
// than two samples give 0.
func summarySD(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(values)
	if err != nil {
		return 0
	}
	return sd
}
