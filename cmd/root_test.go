package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pharmacometric/NSIMS/sim"
	"github.com/pharmacometric/NSIMS/sim/output"
)

const testConfigJSON = `{
  "model": {
    "compartments": 1,
    "parameters": {
      "CL": {"theta": 2.0, "omega": 25},
      "V": {"theta": 10.0, "omega": 30}
    }
  },
  "dosing": {"route": "ivbolus", "amount": 100, "times": [0]},
  "population": {
    "demographics": {"weight_mean": 70, "weight_sd": 15, "age_mean": 45, "age_sd": 12}
  },
  "simulation": {
    "time_points": [0, 1, 2, 4, 8],
    "error_model": {"type": "proportional", "sigma_prop": 0.1}
  }
}`

// writeTestConfig writes the baseline JSON config into a temp dir and
// returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExecuteRun_WritesAllOutputs(t *testing.T) {
	// GIVEN a valid configuration and an output directory
	cfgPath := writeTestConfig(t, testConfigJSON)
	outDir := filepath.Join(t.TempDir(), "results")

	// WHEN the full pipeline runs with report and workbook enabled
	err := executeRun(runOptions{
		ConfigPath: cfgPath,
		OutputDir:  outDir,
		Patients:   5,
		Key:        sim.NewSimulationKey(42),
		Report:     true,
		Excel:      true,
	})
	require.NoError(t, err)

	// THEN every artifact is present
	for _, name := range []string{
		output.IndividualDataFile,
		output.ConcentrationsFile,
		output.ParametersFile,
		output.SummaryFile,
		output.ReportMarkdownFile,
		output.ReportHTMLFile,
		output.WorkbookFile,
	} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
}

func TestExecuteRun_ParallelPath(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigJSON)
	outDir := filepath.Join(t.TempDir(), "results")

	err := executeRun(runOptions{
		ConfigPath: cfgPath,
		OutputDir:  outDir,
		Patients:   6,
		Key:        sim.NewSimulationKey(7),
		Parallel:   3,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, output.IndividualDataFile))
	require.NoError(t, err)
	// Header plus one row per patient, newline-terminated.
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 7 {
		t.Errorf("individual_data.csv has %d lines, want 7", lines)
	}
}

func TestExecuteRun_SameKeyProducesIdenticalFiles(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigJSON)
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")

	for _, dir := range []string{dirA, dirB} {
		err := executeRun(runOptions{
			ConfigPath: cfgPath,
			OutputDir:  dir,
			Patients:   10,
			Key:        sim.NewSimulationKey(1234),
		})
		require.NoError(t, err)
	}

	for _, name := range []string{output.ConcentrationsFile, output.ParametersFile, output.SummaryFile} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		if string(a) != string(b) {
			t.Errorf("%s differs between identically keyed runs", name)
		}
	}
}

func TestExecuteRun_FailedRunLeavesNoOutputs(t *testing.T) {
	// GIVEN a configuration that fails validation (negative theta)
	bad := `{
  "model": {"compartments": 1, "parameters": {"CL": {"theta": -2.0}, "V": {"theta": 10.0}}},
  "dosing": {"route": "ivbolus", "amount": 100, "times": [0]},
  "population": {"demographics": {"weight_mean": 70, "weight_sd": 15, "age_mean": 45, "age_sd": 12}},
  "simulation": {"time_points": [0, 1], "error_model": {"type": "proportional", "sigma_prop": 0.1}}
}`
	cfgPath := writeTestConfig(t, bad)
	outDir := filepath.Join(t.TempDir(), "results")

	// WHEN the pipeline runs
	err := executeRun(runOptions{
		ConfigPath: cfgPath,
		OutputDir:  outDir,
		Patients:   5,
		Key:        sim.NewSimulationKey(42),
	})

	// THEN it fails before creating the output directory
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if _, statErr := os.Stat(outDir); !os.IsNotExist(statErr) {
		t.Errorf("output directory should not exist after failed run, stat err = %v", statErr)
	}
}

func TestExecuteRun_MissingConfigFile(t *testing.T) {
	err := executeRun(runOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nope.json"),
		OutputDir:  t.TempDir(),
		Patients:   5,
		Key:        sim.NewSimulationKey(42),
	})
	if err == nil {
		t.Fatal("expected error for missing configuration file")
	}
}
