// Package output writes population simulation results to disk: the CSV
// trio (individual endpoints, concentration-time data, individual
// parameters), the population summary JSON, and the optional markdown/HTML
// report and XLSX workbook.
//
// Writers consume in-memory results only; the simulation itself never
// touches the filesystem, so a failed run leaves no partial outputs.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/pharmacometric/NSIMS/sim"
)

// File names written into the output directory.
const (
	IndividualDataFile = "individual_data.csv"
	ConcentrationsFile = "concentrations.csv"
	ParametersFile     = "parameters.csv"
	SummaryFile        = "population_summary.json"
	ReportMarkdownFile = "simulation_report.md"
	ReportHTMLFile     = "simulation_report.html"
	WorkbookFile       = "simulation_results.xlsx"
)

// CSV column headers.
var (
	individualColumns    = []string{"PATIENT_ID", "WEIGHT", "AGE", "CMAX", "AUC", "TMAX"}
	concentrationColumns = []string{"PATIENT_ID", "TIME", "CONCENTRATION", "PREDICTED_CONCENTRATION"}
)

// WriteResults writes the standard result set into dir, creating it if
// needed: individual_data.csv, concentrations.csv, population_summary.json
// and parameters.csv. paramNames fixes the parameters.csv column order and
// should come from the configured parameter order.
func WriteResults(dir string, results []sim.PatientResult, paramNames []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := writeIndividualData(filepath.Join(dir, IndividualDataFile), results); err != nil {
		return err
	}
	if err := writeConcentrations(filepath.Join(dir, ConcentrationsFile), results); err != nil {
		return err
	}
	if err := writeSummary(filepath.Join(dir, SummaryFile), sim.Summarize(results)); err != nil {
		return err
	}
	if err := writeParameters(filepath.Join(dir, ParametersFile), results, paramNames); err != nil {
		return err
	}

	logrus.Infof("All results saved to %s", dir)
	return nil
}

// formatFloat renders a float in shortest round-trip form.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeIndividualData(path string, results []sim.PatientResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating individual data file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write(individualColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range results {
		row := []string{
			strconv.Itoa(r.PatientID),
			formatFloat(r.Demographics.Weight),
			formatFloat(r.Demographics.Age),
			formatFloat(r.MaxConcentration()),
			formatFloat(r.AUC()),
			formatFloat(r.TimeOfMax()),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row for patient %d: %w", r.PatientID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeConcentrations(path string, results []sim.PatientResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating concentrations file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write(concentrationColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range results {
		for _, obs := range r.Observations {
			row := []string{
				strconv.Itoa(r.PatientID),
				formatFloat(obs.Time),
				formatFloat(obs.Concentration),
				formatFloat(obs.PredictedConcentration),
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("writing CSV row for patient %d: %w", r.PatientID, err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeParameters emits one column per configured parameter name, in the
// given order. Nothing is written for an empty population.
func writeParameters(path string, results []sim.PatientResult, paramNames []string) error {
	if len(results) == 0 {
		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating parameters file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	header := append([]string{"PATIENT_ID"}, paramNames...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range results {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(r.PatientID))
		for _, name := range paramNames {
			row = append(row, formatFloat(r.Parameters[name]))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row for patient %d: %w", r.PatientID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeSummary(path string, summary sim.PopulationSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling population summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing population summary: %w", err)
	}
	return nil
}
