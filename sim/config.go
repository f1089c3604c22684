package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pharmacometric/NSIMS/sim/pkmodel"
)

// Integration method tags. Only the analytical path is implemented; the
// numeric tags are accepted for forward compatibility and ignored by the
// driver.
const (
	IntegrationAnalytical = "analytical"
	IntegrationRK4        = "rk4"
	IntegrationEuler      = "euler"
)

// Residual error model tags.
const (
	ErrorModelAdditive     = "additive"
	ErrorModelProportional = "proportional"
	ErrorModelCombined     = "combined"
)

// Config is the complete simulation input.
type Config struct {
	Model      ModelConfig      `json:"model" yaml:"model"`
	Dosing     DosingConfig     `json:"dosing" yaml:"dosing"`
	Population PopulationConfig `json:"population" yaml:"population"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
}

// ModelConfig selects the structural model and its typical parameters.
type ModelConfig struct {
	Compartments int          `json:"compartments" yaml:"compartments"`
	Parameters   ParameterMap `json:"parameters" yaml:"parameters"`
}

// ParameterSpec is one model parameter's population description: typical
// value theta, inter-individual variability omega as CV% (0 disables IIV),
// and optional [lo, hi] clamp bounds for sampled values.
type ParameterSpec struct {
	Theta  float64     `json:"theta" yaml:"theta"`
	Omega  float64     `json:"omega,omitempty" yaml:"omega,omitempty"`
	Bounds *[2]float64 `json:"bounds,omitempty" yaml:"bounds,omitempty"`
}

// DosingConfig describes the shared regimen given to every patient.
type DosingConfig struct {
	Route      string            `json:"route" yaml:"route"`
	Amount     float64           `json:"amount" yaml:"amount"`
	Times      []float64         `json:"times" yaml:"times"`
	Additional *AdditionalDosing `json:"additional,omitempty" yaml:"additional,omitempty"`
}

// AdditionalDosing carries the optional route-specific settings.
type AdditionalDosing struct {
	Duration        *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	LagTime         *float64 `json:"lag_time,omitempty" yaml:"lag_time,omitempty"`
	Bioavailability *float64 `json:"bioavailability,omitempty" yaml:"bioavailability,omitempty"`
}

// Duration returns the configured infusion duration, or 0 when unset.
func (d DosingConfig) Duration() float64 {
	if d.Additional == nil || d.Additional.Duration == nil {
		return 0
	}
	return *d.Additional.Duration
}

// LagTime returns the configured absorption lag, or 0 when unset.
func (d DosingConfig) LagTime() float64 {
	if d.Additional == nil || d.Additional.LagTime == nil {
		return 0
	}
	return *d.Additional.LagTime
}

// Bioavailability returns the configured absorbed fraction, or 0 when
// unset (the regimen treats 0 as the default of 1).
func (d DosingConfig) Bioavailability() float64 {
	if d.Additional == nil || d.Additional.Bioavailability == nil {
		return 0
	}
	return *d.Additional.Bioavailability
}

// PopulationConfig describes demographics and covariate effects.
type PopulationConfig struct {
	Demographics DemographicsConfig       `json:"demographics" yaml:"demographics"`
	Covariates   map[string]CovariateSpec `json:"covariates,omitempty" yaml:"covariates,omitempty"`
}

// DemographicsConfig parameterises the Gaussian weight and age draws.
type DemographicsConfig struct {
	WeightMean float64 `json:"weight_mean" yaml:"weight_mean"`
	WeightSD   float64 `json:"weight_sd" yaml:"weight_sd"`
	AgeMean    float64 `json:"age_mean" yaml:"age_mean"`
	AgeSD      float64 `json:"age_sd" yaml:"age_sd"`
}

// CovariateSpec is one covariate effect, keyed in the configuration as
// "{PARAM}_{WT|AGE}".
type CovariateSpec struct {
	Effect    float64 `json:"effect" yaml:"effect"`
	Reference float64 `json:"reference" yaml:"reference"`
	Model     string  `json:"model,omitempty" yaml:"model,omitempty"`
}

// ModelOrDefault returns the covariate model tag, defaulting to power.
func (c CovariateSpec) ModelOrDefault() string {
	if c.Model == "" {
		return CovariatePower
	}
	return c.Model
}

// SimulationConfig describes the observation grid and residual error.
type SimulationConfig struct {
	TimePoints        []float64      `json:"time_points" yaml:"time_points"`
	ErrorModel        ErrorModelSpec `json:"error_model" yaml:"error_model"`
	IntegrationMethod string         `json:"integration_method,omitempty" yaml:"integration_method,omitempty"`
	Tolerance         *float64       `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// ErrorModelSpec selects the residual error model. Sigmas are standard
// deviations; zero is legal and yields observed == predicted.
type ErrorModelSpec struct {
	Type      string  `json:"type" yaml:"type"`
	SigmaAdd  float64 `json:"sigma_add,omitempty" yaml:"sigma_add,omitempty"`
	SigmaProp float64 `json:"sigma_prop,omitempty" yaml:"sigma_prop,omitempty"`
}

// === ParameterMap ===

// ParameterMap is an insertion-ordered mapping from parameter name to
// ParameterSpec. Order is load-bearing: the individual factory consumes one
// PRNG draw per parameter with IIV in configuration order, so reordering a
// config file changes seeded results. Plain Go maps lose that order, hence
// the custom (un)marshalling.
type ParameterMap struct {
	names []string
	specs map[string]ParameterSpec
}

// Set adds or replaces a parameter, appending new names in call order.
func (m *ParameterMap) Set(name string, spec ParameterSpec) {
	if m.specs == nil {
		m.specs = make(map[string]ParameterSpec)
	}
	if _, ok := m.specs[name]; !ok {
		m.names = append(m.names, name)
	}
	m.specs[name] = spec
}

// Get returns the spec for name and whether it exists.
func (m ParameterMap) Get(name string) (ParameterSpec, bool) {
	spec, ok := m.specs[name]
	return spec, ok
}

// Has reports whether name is configured.
func (m ParameterMap) Has(name string) bool {
	_, ok := m.specs[name]
	return ok
}

// Names returns the parameter names in configuration insertion order.
// The returned slice must not be modified.
func (m ParameterMap) Names() []string {
	return m.names
}

// Len returns the number of configured parameters.
func (m ParameterMap) Len() int {
	return len(m.names)
}

func (m *ParameterMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("model parameters must be a JSON object")
	}
	m.names = nil
	m.specs = make(map[string]ParameterSpec)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("model parameter key %v is not a string", keyTok)
		}
		var spec ParameterSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		if _, dup := m.specs[name]; dup {
			return fmt.Errorf("duplicate parameter %q", name)
		}
		m.names = append(m.names, name)
		m.specs[name] = spec
	}
	_, err = dec.Token() // closing brace
	return err
}

func (m ParameterMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.specs[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *ParameterMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("model parameters must be a mapping")
	}
	m.names = nil
	m.specs = make(map[string]ParameterSpec)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		var spec ParameterSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		if _, dup := m.specs[name]; dup {
			return fmt.Errorf("duplicate parameter %q", name)
		}
		m.names = append(m.names, name)
		m.specs[name] = spec
	}
	return nil
}

func (m ParameterMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range m.names {
		var key, val yaml.Node
		key.SetString(name)
		if err := val.Encode(m.specs[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &key, &val)
	}
	return node, nil
}

// === Loading ===

// LoadConfig reads, parses and validates a configuration file. The format
// dispatches on extension: .json, .yaml/.yml, or .ctl/.mod for NONMEM
// control streams.
func LoadConfig(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		cfg, err = loadJSON(path)
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	case ".ctl", ".mod":
		cfg, err = LoadControlStream(path)
	default:
		return nil, fmt.Errorf("unrecognized config extension %q (valid: .json, .yaml, .yml, .ctl, .mod)", ext)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadJSON parses a JSON configuration with strict field checking, so
// unrecognized keys (typos) are rejected.
func loadJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing JSON config: %w", err)
	}
	return &cfg, nil
}

// loadYAML parses a YAML configuration with strict field checking.
func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML config: %w", err)
	}
	return &cfg, nil
}

// === Validation ===

// Valid value registries.
var (
	validIntegrationMethods = map[string]bool{
		"": true, IntegrationAnalytical: true, IntegrationRK4: true, IntegrationEuler: true,
	}
	validErrorModels = map[string]bool{
		ErrorModelAdditive: true, ErrorModelProportional: true, ErrorModelCombined: true,
	}
	validCovariateModels = map[string]bool{
		"": true, CovariatePower: true, CovariateExponential: true, CovariateLinear: true,
	}

	// Parameter names each compartment count accepts, including the V/Q
	// aliases resolved by pkmodel.FromMap.
	validModelParameters = map[int]map[string]bool{
		1: {"CL": true, "V": true, "V1": true, "KA": true},
		2: {"CL": true, "V": true, "V1": true, "Q": true, "Q2": true, "V2": true, "KA": true},
		3: {"CL": true, "V": true, "V1": true, "Q": true, "Q2": true, "V2": true, "Q3": true, "V3": true, "KA": true},
	}
)

// requiredParameters lists the required names per compartment count; any
// one name within an inner group satisfies the group.
func requiredParameters(compartments int) [][]string {
	switch compartments {
	case 1:
		return [][]string{{"CL"}, {"V", "V1"}}
	case 2:
		return [][]string{{"CL"}, {"V1", "V"}, {"Q", "Q2"}, {"V2"}}
	case 3:
		return [][]string{{"CL"}, {"V1", "V"}, {"Q2", "Q"}, {"V2"}, {"Q3"}, {"V3"}}
	default:
		return nil
	}
}

// Validate checks the complete configuration and returns the first error
// found, naming the offending field.
func (c *Config) Validate() error {
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateDosing(); err != nil {
		return err
	}
	if err := c.validatePopulation(); err != nil {
		return err
	}
	return c.validateSimulation()
}

func (c *Config) validateModel() error {
	allowed, ok := validModelParameters[c.Model.Compartments]
	if !ok {
		return fmt.Errorf("%w: compartments must be 1, 2 or 3, got %d", ErrInvalidModel, c.Model.Compartments)
	}
	if c.Model.Parameters.Len() == 0 {
		return fmt.Errorf("%w: model.parameters is empty", ErrInvalidModel)
	}
	for _, name := range c.Model.Parameters.Names() {
		if !allowed[name] {
			return fmt.Errorf("%w: unknown parameter %q for %d-compartment model", ErrInvalidModel, name, c.Model.Compartments)
		}
		spec, _ := c.Model.Parameters.Get(name)
		if math.IsNaN(spec.Theta) || math.IsInf(spec.Theta, 0) || spec.Theta <= 0 {
			return fmt.Errorf("%w: parameter %q: theta must be positive and finite, got %g", ErrValidation, name, spec.Theta)
		}
		if math.IsNaN(spec.Omega) || math.IsInf(spec.Omega, 0) || spec.Omega < 0 {
			return fmt.Errorf("%w: parameter %q: omega must be a non-negative CV%%, got %g", ErrValidation, name, spec.Omega)
		}
		if spec.Bounds != nil && spec.Bounds[0] > spec.Bounds[1] {
			return fmt.Errorf("%w: parameter %q: bounds lower %g exceeds upper %g", ErrValidation, name, spec.Bounds[0], spec.Bounds[1])
		}
	}
	for _, group := range requiredParameters(c.Model.Compartments) {
		if !c.hasAnyParameter(group) {
			return fmt.Errorf("%w: missing required parameter %s for %d-compartment model", ErrInvalidModel, strings.Join(group, " or "), c.Model.Compartments)
		}
	}
	if c.Dosing.Route == string(pkmodel.RouteOral) && !c.Model.Parameters.Has("KA") {
		return fmt.Errorf("%w: KA is required for oral dosing", ErrInvalidModel)
	}
	return nil
}

func (c *Config) hasAnyParameter(names []string) bool {
	for _, n := range names {
		if c.Model.Parameters.Has(n) {
			return true
		}
	}
	return false
}

func (c *Config) validateDosing() error {
	route, err := pkmodel.ParseRoute(c.Dosing.Route)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDosing, err)
	}
	if c.Dosing.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %g", ErrInvalidDosing, c.Dosing.Amount)
	}
	if len(c.Dosing.Times) == 0 {
		return fmt.Errorf("%w: at least one administration time is required", ErrInvalidDosing)
	}
	for i, t := range c.Dosing.Times {
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return fmt.Errorf("%w: times[%d] must be a non-negative finite number, got %g", ErrInvalidDosing, i, t)
		}
	}
	if route == pkmodel.RouteIVInfusion && c.Dosing.Duration() <= 0 {
		return fmt.Errorf("%w: infusion dosing requires additional.duration > 0", ErrInvalidDosing)
	}
	if c.Dosing.LagTime() < 0 {
		return fmt.Errorf("%w: additional.lag_time must not be negative, got %g", ErrInvalidDosing, c.Dosing.LagTime())
	}
	if c.Dosing.Additional != nil && c.Dosing.Additional.Bioavailability != nil && *c.Dosing.Additional.Bioavailability <= 0 {
		return fmt.Errorf("%w: additional.bioavailability must be positive, got %g", ErrInvalidDosing, *c.Dosing.Additional.Bioavailability)
	}
	return nil
}

func (c *Config) validatePopulation() error {
	d := c.Population.Demographics
	if d.WeightMean <= 0 {
		return fmt.Errorf("%w: demographics.weight_mean must be positive, got %g", ErrValidation, d.WeightMean)
	}
	if d.WeightSD < 0 {
		return fmt.Errorf("%w: demographics.weight_sd must not be negative, got %g", ErrValidation, d.WeightSD)
	}
	if d.AgeMean <= 0 {
		return fmt.Errorf("%w: demographics.age_mean must be positive, got %g", ErrValidation, d.AgeMean)
	}
	if d.AgeSD < 0 {
		return fmt.Errorf("%w: demographics.age_sd must not be negative, got %g", ErrValidation, d.AgeSD)
	}

	// Deterministic iteration for stable first-error reporting.
	keys := make([]string, 0, len(c.Population.Covariates))
	for key := range c.Population.Covariates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := c.validateCovariate(key, c.Population.Covariates[key]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateCovariate(key string, spec CovariateSpec) error {
	param, ok := splitCovariateKey(key)
	if !ok {
		return fmt.Errorf("%w: covariate key %q must end in _WT or _AGE", ErrValidation, key)
	}
	if !c.Model.Parameters.Has(param) {
		return fmt.Errorf("%w: covariate %q references unconfigured parameter %q", ErrValidation, key, param)
	}
	if !validCovariateModels[spec.Model] {
		return fmt.Errorf("%w: covariate %q: unknown model %q (valid: power, exponential, linear)", ErrValidation, key, spec.Model)
	}
	if math.IsNaN(spec.Effect) || math.IsInf(spec.Effect, 0) {
		return fmt.Errorf("%w: covariate %q: effect must be finite, got %g", ErrValidation, key, spec.Effect)
	}
	if spec.ModelOrDefault() == CovariatePower && spec.Reference <= 0 {
		return fmt.Errorf("%w: covariate %q: power model requires a positive reference, got %g", ErrValidation, key, spec.Reference)
	}
	return nil
}

// splitCovariateKey splits "CL_WT" into its parameter name and reports
// whether the covariate suffix is recognised.
func splitCovariateKey(key string) (param string, ok bool) {
	for _, suffix := range []string{"_WT", "_AGE"} {
		if p, found := strings.CutSuffix(key, suffix); found && p != "" {
			return p, true
		}
	}
	return "", false
}

func (c *Config) validateSimulation() error {
	s := c.Simulation
	if len(s.TimePoints) == 0 {
		return fmt.Errorf("%w: simulation.time_points is empty", ErrValidation)
	}
	for i, t := range s.TimePoints {
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return fmt.Errorf("%w: time_points[%d] must be a non-negative finite number, got %g", ErrValidation, i, t)
		}
		if i > 0 && t < s.TimePoints[i-1] {
			return fmt.Errorf("%w: time_points must be non-decreasing, got %g after %g", ErrValidation, t, s.TimePoints[i-1])
		}
	}
	if !validErrorModels[s.ErrorModel.Type] {
		return fmt.Errorf("%w: unknown error model %q (valid: additive, proportional, combined)", ErrValidation, s.ErrorModel.Type)
	}
	if s.ErrorModel.SigmaAdd < 0 || math.IsNaN(s.ErrorModel.SigmaAdd) {
		return fmt.Errorf("%w: error_model.sigma_add must not be negative, got %g", ErrValidation, s.ErrorModel.SigmaAdd)
	}
	if s.ErrorModel.SigmaProp < 0 || math.IsNaN(s.ErrorModel.SigmaProp) {
		return fmt.Errorf("%w: error_model.sigma_prop must not be negative, got %g", ErrValidation, s.ErrorModel.SigmaProp)
	}
	if !validIntegrationMethods[s.IntegrationMethod] {
		return fmt.Errorf("%w: unknown integration method %q (valid: analytical, rk4, euler)", ErrValidation, s.IntegrationMethod)
	}
	if s.Tolerance != nil && *s.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrValidation, *s.Tolerance)
	}
	return nil
}
