package sim

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func floatPtr(v float64) *float64 { return &v }

// validTestConfig is a minimal oral one-compartment configuration that
// passes Validate. Table cases mutate a fresh copy.
func validTestConfig() *Config {
	var params ParameterMap
	params.Set("CL", ParameterSpec{Theta: 2, Omega: 25})
	params.Set("V", ParameterSpec{Theta: 10, Omega: 30})
	params.Set("KA", ParameterSpec{Theta: 1})
	return &Config{
		Model:  ModelConfig{Compartments: 1, Parameters: params},
		Dosing: DosingConfig{Route: "oral", Amount: 100, Times: []float64{0, 12, 24}},
		Population: PopulationConfig{
			Demographics: DemographicsConfig{WeightMean: 70, WeightSD: 15, AgeMean: 45, AgeSD: 12},
			Covariates: map[string]CovariateSpec{
				"CL_WT": {Effect: 0.75, Reference: 70},
			},
		},
		Simulation: SimulationConfig{
			TimePoints: []float64{0, 1, 2, 4, 8, 12, 24},
			ErrorModel: ErrorModelSpec{Type: ErrorModelProportional, SigmaProp: 0.1},
		},
	}
}

func TestLoadConfig_JSONPreservesParameterOrder(t *testing.T) {
	// GIVEN a JSON config whose parameters are not alphabetically ordered
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "model": {
    "compartments": 2,
    "parameters": {
      "V1": {"theta": 10.0, "omega": 30.0},
      "CL": {"theta": 2.0, "omega": 25.0, "bounds": [0.5, 10.0]},
      "Q": {"theta": 1.0},
      "V2": {"theta": 5.0}
    }
  },
  "dosing": {"route": "ivbolus", "amount": 100.0, "times": [0.0]},
  "population": {"demographics": {"weight_mean": 70.0, "weight_sd": 15.0, "age_mean": 45.0, "age_sd": 12.0}},
  "simulation": {"time_points": [0.0, 1.0, 2.0], "error_model": {"type": "combined", "sigma_add": 0.05, "sigma_prop": 0.1}}
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// WHEN loading
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN parameter order matches the file, not the map hash order
	wantOrder := []string{"V1", "CL", "Q", "V2"}
	gotOrder := cfg.Model.Parameters.Names()
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("parameter count = %d, want %d", len(gotOrder), len(wantOrder))
	}
	for i, name := range wantOrder {
		if gotOrder[i] != name {
			t.Errorf("parameter[%d] = %q, want %q", i, gotOrder[i], name)
		}
	}
	cl, ok := cfg.Model.Parameters.Get("CL")
	if !ok {
		t.Fatal("CL missing after load")
	}
	if cl.Theta != 2.0 || cl.Omega != 25.0 {
		t.Errorf("CL = %+v, want theta 2 omega 25", cl)
	}
	if cl.Bounds == nil || cl.Bounds[0] != 0.5 || cl.Bounds[1] != 10.0 {
		t.Errorf("CL bounds = %v, want [0.5 10]", cl.Bounds)
	}
	if cfg.Simulation.ErrorModel.Type != ErrorModelCombined {
		t.Errorf("error model = %q, want combined", cfg.Simulation.ErrorModel.Type)
	}
}

func TestLoadConfig_YAMLPreservesParameterOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `model:
  compartments: 1
  parameters:
    KA:
      theta: 1.0
    CL:
      theta: 2.0
      omega: 25.0
    V:
      theta: 10.0
dosing:
  route: oral
  amount: 100.0
  times: [0.0, 12.0]
  additional:
    bioavailability: 0.85
population:
  demographics:
    weight_mean: 70.0
    weight_sd: 15.0
    age_mean: 45.0
    age_sd: 12.0
  covariates:
    CL_WT:
      effect: 0.75
      reference: 70.0
      model: power
simulation:
  time_points: [0.0, 1.0, 4.0]
  error_model:
    type: proportional
    sigma_prop: 0.1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []string{"KA", "CL", "V"}
	gotOrder := cfg.Model.Parameters.Names()
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("parameter count = %d, want %d", len(gotOrder), len(wantOrder))
	}
	for i, name := range wantOrder {
		if gotOrder[i] != name {
			t.Errorf("parameter[%d] = %q, want %q", i, gotOrder[i], name)
		}
	}
	if got := cfg.Dosing.Bioavailability(); got != 0.85 {
		t.Errorf("bioavailability = %g, want 0.85", got)
	}
	cov, ok := cfg.Population.Covariates["CL_WT"]
	if !ok {
		t.Fatal("CL_WT covariate missing after load")
	}
	if cov.Effect != 0.75 || cov.Reference != 70.0 || cov.Model != CovariatePower {
		t.Errorf("CL_WT = %+v", cov)
	}
}

func TestLoadConfig_RejectsUnknownJSONField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typo.json")
	content := `{"model": {"compartments": 1, "parameters": {"CL": {"theta": 2.0}, "V": {"theta": 10.0}}},
  "dosing": {"route": "ivbolus", "amount": 100.0, "times": [0.0]},
  "population": {"demographics": {"weight_mean": 70.0, "weight_sd": 15.0, "age_mean": 45.0, "age_sd": 12.0}},
  "simulation": {"time_points": [0.0], "error_model": {"type": "additive", "sigma_addd": 0.1}}
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown field sigma_addd")
	}
}

func TestLoadConfig_RejectsUnknownYAMLField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typo.yaml")
	content := `model:
  compartments: 1
  parameters:
    CL: {theta: 2.0}
    V: {theta: 10.0}
dosing:
  route: ivbolus
  amount: 100.0
  times: [0.0]
population:
  demographics: {weight_mean: 70.0, weight_sd: 15.0, age_mean: 45.0, age_sd: 12.0}
simulation:
  time_points: [0.0]
  error_model: {type: additive, sigma_add: 0.1}
  solver: rk4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown field solver")
	}
}

func TestLoadConfig_UnrecognizedExtension(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	if err == nil {
		t.Fatal("expected error for .toml extension")
	}
	if !strings.Contains(err.Error(), ".toml") {
		t.Errorf("error %q does not name the extension", err)
	}
}

func TestParameterMap_MarshalJSONKeepsInsertionOrder(t *testing.T) {
	var m ParameterMap
	m.Set("V", ParameterSpec{Theta: 10})
	m.Set("CL", ParameterSpec{Theta: 2, Omega: 25})
	m.Set("KA", ParameterSpec{Theta: 1.5})

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"V":{"theta":10},"CL":{"theta":2,"omega":25},"KA":{"theta":1.5}}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}
}

func TestParameterMap_UnmarshalJSONRejectsDuplicateKeys(t *testing.T) {
	var m ParameterMap
	err := json.Unmarshal([]byte(`{"CL":{"theta":2},"CL":{"theta":3}}`), &m)
	if err == nil {
		t.Fatal("expected error for duplicate key")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error %q does not mention the duplicate", err)
	}
}

func TestParameterMap_YAMLRoundTrip(t *testing.T) {
	var m ParameterMap
	m.Set("V1", ParameterSpec{Theta: 10, Omega: 30})
	m.Set("CL", ParameterSpec{Theta: 2, Bounds: &[2]float64{0.1, 20}})

	data, err := yaml.Marshal(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var back ParameterMap
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantOrder := []string{"V1", "CL"}
	for i, name := range wantOrder {
		if back.Names()[i] != name {
			t.Errorf("parameter[%d] = %q, want %q", i, back.Names()[i], name)
		}
	}
	cl, _ := back.Get("CL")
	if cl.Theta != 2 || cl.Bounds == nil || cl.Bounds[1] != 20 {
		t.Errorf("CL after round trip = %+v", cl)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		wantMsg string
	}{
		{
			name:   "valid oral baseline",
			mutate: func(c *Config) {},
		},
		{
			name: "valid infusion",
			mutate: func(c *Config) {
				c.Dosing.Route = "ivinfusion"
				c.Dosing.Additional = &AdditionalDosing{Duration: floatPtr(2)}
			},
		},
		{
			name: "linear covariate allows zero reference",
			mutate: func(c *Config) {
				c.Population.Covariates["CL_AGE"] = CovariateSpec{Effect: 0.01, Model: CovariateLinear}
			},
		},
		{
			name:   "rk4 tag accepted",
			mutate: func(c *Config) { c.Simulation.IntegrationMethod = IntegrationRK4 },
		},
		{
			name:    "compartments out of range",
			mutate:  func(c *Config) { c.Model.Compartments = 4 },
			wantErr: ErrInvalidModel,
			wantMsg: "compartments",
		},
		{
			name:    "no parameters",
			mutate:  func(c *Config) { c.Model.Parameters = ParameterMap{} },
			wantErr: ErrInvalidModel,
			wantMsg: "empty",
		},
		{
			name:    "unknown parameter name",
			mutate:  func(c *Config) { c.Model.Parameters.Set("Q3", ParameterSpec{Theta: 1}) },
			wantErr: ErrInvalidModel,
			wantMsg: "unknown parameter",
		},
		{
			name:    "zero theta",
			mutate:  func(c *Config) { c.Model.Parameters.Set("CL", ParameterSpec{Theta: 0}) },
			wantErr: ErrValidation,
			wantMsg: "theta",
		},
		{
			name:    "negative omega",
			mutate:  func(c *Config) { c.Model.Parameters.Set("CL", ParameterSpec{Theta: 2, Omega: -5}) },
			wantErr: ErrValidation,
			wantMsg: "omega",
		},
		{
			name: "inverted bounds",
			mutate: func(c *Config) {
				c.Model.Parameters.Set("CL", ParameterSpec{Theta: 2, Bounds: &[2]float64{5, 1}})
			},
			wantErr: ErrValidation,
			wantMsg: "bounds",
		},
		{
			name: "missing volume",
			mutate: func(c *Config) {
				var p ParameterMap
				p.Set("CL", ParameterSpec{Theta: 2})
				p.Set("KA", ParameterSpec{Theta: 1})
				c.Model.Parameters = p
				c.Population.Covariates = nil
			},
			wantErr: ErrInvalidModel,
			wantMsg: "V or V1",
		},
		{
			name: "two compartment missing intercompartmental clearance",
			mutate: func(c *Config) {
				c.Model.Compartments = 2
				var p ParameterMap
				p.Set("CL", ParameterSpec{Theta: 2})
				p.Set("V1", ParameterSpec{Theta: 10})
				p.Set("V2", ParameterSpec{Theta: 5})
				p.Set("KA", ParameterSpec{Theta: 1})
				c.Model.Parameters = p
			},
			wantErr: ErrInvalidModel,
			wantMsg: "Q or Q2",
		},
		{
			name: "oral requires KA",
			mutate: func(c *Config) {
				var p ParameterMap
				p.Set("CL", ParameterSpec{Theta: 2})
				p.Set("V", ParameterSpec{Theta: 10})
				c.Model.Parameters = p
			},
			wantErr: ErrInvalidModel,
			wantMsg: "KA",
		},
		{
			name:    "unknown route",
			mutate:  func(c *Config) { c.Dosing.Route = "topical" },
			wantErr: ErrInvalidDosing,
			wantMsg: "unknown dosing route",
		},
		{
			name:    "zero amount",
			mutate:  func(c *Config) { c.Dosing.Amount = 0 },
			wantErr: ErrInvalidDosing,
			wantMsg: "amount",
		},
		{
			name:    "no dose times",
			mutate:  func(c *Config) { c.Dosing.Times = nil },
			wantErr: ErrInvalidDosing,
			wantMsg: "administration time",
		},
		{
			name:    "negative dose time",
			mutate:  func(c *Config) { c.Dosing.Times = []float64{-1} },
			wantErr: ErrInvalidDosing,
			wantMsg: "times[0]",
		},
		{
			name:    "infusion requires duration",
			mutate:  func(c *Config) { c.Dosing.Route = "ivinfusion" },
			wantErr: ErrInvalidDosing,
			wantMsg: "duration",
		},
		{
			name: "negative lag time",
			mutate: func(c *Config) {
				c.Dosing.Additional = &AdditionalDosing{LagTime: floatPtr(-1)}
			},
			wantErr: ErrInvalidDosing,
			wantMsg: "lag_time",
		},
		{
			name: "zero bioavailability",
			mutate: func(c *Config) {
				c.Dosing.Additional = &AdditionalDosing{Bioavailability: floatPtr(0)}
			},
			wantErr: ErrInvalidDosing,
			wantMsg: "bioavailability",
		},
		{
			name:    "zero weight mean",
			mutate:  func(c *Config) { c.Population.Demographics.WeightMean = 0 },
			wantErr: ErrValidation,
			wantMsg: "weight_mean",
		},
		{
			name:    "negative age sd",
			mutate:  func(c *Config) { c.Population.Demographics.AgeSD = -1 },
			wantErr: ErrValidation,
			wantMsg: "age_sd",
		},
		{
			name: "covariate bad suffix",
			mutate: func(c *Config) {
				c.Population.Covariates["CL_SEX"] = CovariateSpec{Effect: 0.2, Reference: 1}
			},
			wantErr: ErrValidation,
			wantMsg: "_WT or _AGE",
		},
		{
			name: "covariate references unconfigured parameter",
			mutate: func(c *Config) {
				c.Population.Covariates["V2_WT"] = CovariateSpec{Effect: 1, Reference: 70}
			},
			wantErr: ErrValidation,
			wantMsg: "unconfigured",
		},
		{
			name: "covariate unknown model",
			mutate: func(c *Config) {
				c.Population.Covariates["CL_WT"] = CovariateSpec{Effect: 0.75, Reference: 70, Model: "sigmoid"}
			},
			wantErr: ErrValidation,
			wantMsg: "unknown model",
		},
		{
			name: "power covariate needs positive reference",
			mutate: func(c *Config) {
				c.Population.Covariates["CL_WT"] = CovariateSpec{Effect: 0.75, Model: CovariatePower}
			},
			wantErr: ErrValidation,
			wantMsg: "reference",
		},
		{
			name:    "no observation times",
			mutate:  func(c *Config) { c.Simulation.TimePoints = nil },
			wantErr: ErrValidation,
			wantMsg: "time_points",
		},
		{
			name:    "negative observation time",
			mutate:  func(c *Config) { c.Simulation.TimePoints = []float64{-1, 2} },
			wantErr: ErrValidation,
			wantMsg: "time_points[0]",
		},
		{
			name:    "unsorted observation grid",
			mutate:  func(c *Config) { c.Simulation.TimePoints = []float64{0, 4, 2} },
			wantErr: ErrValidation,
			wantMsg: "non-decreasing",
		},
		{
			name:    "unknown error model",
			mutate:  func(c *Config) { c.Simulation.ErrorModel.Type = "lognormal" },
			wantErr: ErrValidation,
			wantMsg: "error model",
		},
		{
			name:    "negative sigma_prop",
			mutate:  func(c *Config) { c.Simulation.ErrorModel.SigmaProp = -0.1 },
			wantErr: ErrValidation,
			wantMsg: "sigma_prop",
		},
		{
			name:    "unknown integration method",
			mutate:  func(c *Config) { c.Simulation.IntegrationMethod = "adams" },
			wantErr: ErrValidation,
			wantMsg: "integration method",
		},
		{
			name:    "zero tolerance",
			mutate:  func(c *Config) { c.Simulation.Tolerance = floatPtr(0) },
			wantErr: ErrValidation,
			wantMsg: "tolerance",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantMsg)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error %v is not %v", err, tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestDosingConfig_OptionalAccessors(t *testing.T) {
	var d DosingConfig
	if d.Duration() != 0 || d.LagTime() != 0 || d.Bioavailability() != 0 {
		t.Error("unset additional block should read as zeros")
	}
	d.Additional = &AdditionalDosing{
		Duration:        floatPtr(1.5),
		LagTime:         floatPtr(0.25),
		Bioavailability: floatPtr(0.8),
	}
	if got := d.Duration(); got != 1.5 {
		t.Errorf("Duration() = %g, want 1.5", got)
	}
	if got := d.LagTime(); got != 0.25 {
		t.Errorf("LagTime() = %g, want 0.25", got)
	}
	if got := d.Bioavailability(); got != 0.8 {
		t.Errorf("Bioavailability() = %g, want 0.8", got)
	}
}
