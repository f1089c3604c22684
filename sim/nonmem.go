package sim

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pharmacometric/NSIMS/sim/pkmodel"
)

// NONMEM-style control stream support.
//
// The dialect understood here is deliberately small. Standard records:
//
//	$PROBLEM, $INPUT, $DATA, $PK   ignored
//	$SUBROUTINES ADVAN1|3|11       selects the 1/2/3-compartment model
//	$THETA                         one entry per line, bare value or
//	                               (lower, init, upper); positional order
//	                               CL, V, KA / CL, V1, Q, V2, KA /
//	                               CL, V1, Q2, V2, Q3, V3, KA
//	$OMEGA                         one variance per line, same positional
//	                               order; converted to CV% as sqrt(v)*100
//	$SIGMA                         one variance = proportional error,
//	                               two = combined (proportional, additive);
//	                               converted to SDs as sqrt(v)
//
// plus KEY = value extension records $DOSING, $POPULATION and $SIMULATION
// for the settings NONMEM has no record for. Unrecognized records are
// skipped; unrecognized keys inside the extension records are errors.
// A ';' starts a comment anywhere on a line.

// LoadControlStream reads and parses a control stream file. The result is
// not validated; LoadConfig layers validation on top.
func LoadControlStream(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading control stream: %w", err)
	}
	return ParseControlStream(string(data))
}

// ParseControlStream parses control stream text into a Config, applying
// defaults for absent records.
func ParseControlStream(content string) (*Config, error) {
	p := &controlStreamParser{lines: cleanControlLines(content)}
	return p.parse()
}

// cleanControlLines strips comments and whitespace and drops blank lines.
func cleanControlLines(content string) []string {
	var lines []string
	for _, raw := range strings.Split(content, "\n") {
		line := raw
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

type controlStreamParser struct {
	lines []string
	pos   int
}

func (p *controlStreamParser) parse() (*Config, error) {
	var (
		model      *ModelConfig
		dosing     *DosingConfig
		population *PopulationConfig
		simulation *SimulationConfig
	)
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		switch {
		case strings.HasPrefix(line, "$PROBLEM"),
			strings.HasPrefix(line, "$INPUT"),
			strings.HasPrefix(line, "$DATA"),
			strings.HasPrefix(line, "$PK"):
			p.skipRecord()
		case strings.HasPrefix(line, "$SUBROUTINE"):
			mc, err := p.parseSubroutines()
			if err != nil {
				return nil, err
			}
			model = mc
		case strings.HasPrefix(line, "$THETA"):
			if model == nil {
				return nil, fmt.Errorf("%w: $SUBROUTINES must come before $THETA", ErrInvalidModel)
			}
			if err := p.parseThetaRecord(model); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "$OMEGA"):
			if model == nil {
				return nil, fmt.Errorf("%w: $SUBROUTINES must come before $OMEGA", ErrInvalidModel)
			}
			if err := p.parseOmegaRecord(model); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "$SIGMA"):
			em, err := p.parseSigmaRecord()
			if err != nil {
				return nil, err
			}
			if simulation == nil {
				simulation = defaultSimulationConfig()
			}
			simulation.ErrorModel = *em
		case strings.HasPrefix(line, "$DOSING"):
			dc, err := p.parseDosingRecord()
			if err != nil {
				return nil, err
			}
			dosing = dc
		case strings.HasPrefix(line, "$POPULATION"):
			pc, err := p.parsePopulationRecord()
			if err != nil {
				return nil, err
			}
			population = pc
		case strings.HasPrefix(line, "$SIMULATION"):
			if simulation == nil {
				simulation = defaultSimulationConfig()
			}
			if err := p.parseSimulationRecord(simulation); err != nil {
				return nil, err
			}
		default:
			p.pos++
		}
	}

	if model == nil {
		return nil, fmt.Errorf("%w: missing $SUBROUTINES record", ErrInvalidModel)
	}
	if dosing == nil {
		dosing = defaultDosingConfig()
	}
	if population == nil {
		population = defaultPopulationConfig()
	}
	if simulation == nil {
		simulation = defaultSimulationConfig()
	}
	return &Config{
		Model:      *model,
		Dosing:     *dosing,
		Population: *population,
		Simulation: *simulation,
	}, nil
}

// Absent records take these defaults.

func defaultDosingConfig() *DosingConfig {
	return &DosingConfig{Route: string(pkmodel.RouteIVBolus), Amount: 100, Times: []float64{0}}
}

func defaultPopulationConfig() *PopulationConfig {
	return &PopulationConfig{
		Demographics: DemographicsConfig{WeightMean: 70, WeightSD: 15, AgeMean: 45, AgeSD: 12},
	}
}

func defaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		TimePoints: []float64{0, 1, 2, 4, 8, 12, 24},
		ErrorModel: ErrorModelSpec{Type: ErrorModelProportional, SigmaProp: 0.1},
	}
}

// skipRecord advances past the current record header and its content lines.
func (p *controlStreamParser) skipRecord() {
	for p.pos++; p.pos < len(p.lines) && !strings.HasPrefix(p.lines[p.pos], "$"); p.pos++ {
	}
}

// recordLines consumes and returns the content lines of the current
// record. The record header must already be consumed.
func (p *controlStreamParser) recordLines() []string {
	var lines []string
	for p.pos < len(p.lines) && !strings.HasPrefix(p.lines[p.pos], "$") {
		lines = append(lines, p.lines[p.pos])
		p.pos++
	}
	return lines
}

// parseSubroutines matches ADVAN tokens exactly, so ADVAN11 is not
// mistaken for ADVAN1.
func (p *controlStreamParser) parseSubroutines() (*ModelConfig, error) {
	line := p.lines[p.pos]
	p.pos++
	for _, tok := range strings.Fields(line) {
		switch tok {
		case "ADVAN1":
			return &ModelConfig{Compartments: 1}, nil
		case "ADVAN3":
			return &ModelConfig{Compartments: 2}, nil
		case "ADVAN11":
			return &ModelConfig{Compartments: 3}, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported ADVAN subroutine in %q (valid: ADVAN1, ADVAN3, ADVAN11)", ErrInvalidModel, line)
}

// thetaParameterNames gives the positional $THETA and $OMEGA order.
func thetaParameterNames(compartments int) []string {
	switch compartments {
	case 1:
		return []string{"CL", "V", "KA"}
	case 2:
		return []string{"CL", "V1", "Q", "V2", "KA"}
	case 3:
		return []string{"CL", "V1", "Q2", "V2", "Q3", "V3", "KA"}
	default:
		return nil
	}
}

func (p *controlStreamParser) parseThetaRecord(model *ModelConfig) error {
	p.pos++
	names := thetaParameterNames(model.Compartments)
	idx := 0
	for _, line := range p.recordLines() {
		if idx >= len(names) {
			continue // extra entries beyond the positional names are ignored
		}
		spec, err := parseThetaLine(line)
		if err != nil {
			return err
		}
		model.Parameters.Set(names[idx], spec)
		idx++
	}
	return nil
}

// parseThetaLine parses one $THETA entry: a bare initial value, or the
// (lower, init, upper) form which also carries clamp bounds.
func parseThetaLine(line string) (ParameterSpec, error) {
	cleaned := strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(line)
	parts := strings.Fields(cleaned)
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return ParameterSpec{}, fmt.Errorf("%w: invalid theta value %q", ErrValidation, parts[0])
		}
		return ParameterSpec{Theta: v}, nil
	case 3:
		lo, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return ParameterSpec{}, fmt.Errorf("%w: invalid theta lower bound %q", ErrValidation, parts[0])
		}
		init, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return ParameterSpec{}, fmt.Errorf("%w: invalid theta initial value %q", ErrValidation, parts[1])
		}
		hi, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return ParameterSpec{}, fmt.Errorf("%w: invalid theta upper bound %q", ErrValidation, parts[2])
		}
		return ParameterSpec{Theta: init, Bounds: &[2]float64{lo, hi}}, nil
	default:
		return ParameterSpec{}, fmt.Errorf("%w: invalid theta specification %q", ErrValidation, line)
	}
}

func (p *controlStreamParser) parseOmegaRecord(model *ModelConfig) error {
	p.pos++
	names := thetaParameterNames(model.Compartments)
	idx := 0
	for _, line := range p.recordLines() {
		if idx >= len(names) {
			continue
		}
		cleaned := strings.TrimSpace(strings.NewReplacer("(", "", ")", "").Replace(line))
		variance, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid omega value %q", ErrValidation, line)
		}
		if spec, ok := model.Parameters.Get(names[idx]); ok {
			spec.Omega = math.Sqrt(variance) * 100 // variance to CV%
			model.Parameters.Set(names[idx], spec)
		}
		idx++
	}
	return nil
}

func (p *controlStreamParser) parseSigmaRecord() (*ErrorModelSpec, error) {
	p.pos++
	var variances []float64
	for _, line := range p.recordLines() {
		cleaned := strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(line)
		for _, field := range strings.Fields(cleaned) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid sigma value %q", ErrValidation, field)
			}
			variances = append(variances, v)
		}
	}
	switch len(variances) {
	case 1:
		return &ErrorModelSpec{Type: ErrorModelProportional, SigmaProp: math.Sqrt(variances[0])}, nil
	case 2:
		return &ErrorModelSpec{
			Type:      ErrorModelCombined,
			SigmaProp: math.Sqrt(variances[0]),
			SigmaAdd:  math.Sqrt(variances[1]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: $SIGMA needs one or two values, got %d", ErrValidation, len(variances))
	}
}

func (p *controlStreamParser) parseDosingRecord() (*DosingConfig, error) {
	p.pos++
	cfg := defaultDosingConfig()
	var add AdditionalDosing
	hasAdd := false
	for _, line := range p.recordLines() {
		key, value, err := splitKeyValue(line)
		if err != nil {
			return nil, err
		}
		switch key {
		case "ROUTE":
			route, err := parseControlRoute(value)
			if err != nil {
				return nil, err
			}
			cfg.Route = route
		case "AMOUNT":
			v, err := parseControlFloat(key, value)
			if err != nil {
				return nil, err
			}
			cfg.Amount = v
		case "TIMES":
			ts, err := parseControlFloatList(key, value)
			if err != nil {
				return nil, err
			}
			cfg.Times = ts
		case "DURATION":
			v, err := parseControlFloat(key, value)
			if err != nil {
				return nil, err
			}
			add.Duration = &v
			hasAdd = true
		case "BIOAVAILABILITY":
			v, err := parseControlFloat(key, value)
			if err != nil {
				return nil, err
			}
			add.Bioavailability = &v
			hasAdd = true
		case "LAG_TIME":
			v, err := parseControlFloat(key, value)
			if err != nil {
				return nil, err
			}
			add.LagTime = &v
			hasAdd = true
		default:
			return nil, fmt.Errorf("%w: unknown $DOSING key %q", ErrInvalidDosing, key)
		}
	}
	if hasAdd {
		cfg.Additional = &add
	}
	return cfg, nil
}

func (p *controlStreamParser) parsePopulationRecord() (*PopulationConfig, error) {
	p.pos++
	cfg := defaultPopulationConfig()
	builders := make(map[string]*covariateBuilder)
	for _, line := range p.recordLines() {
		key, value, err := splitKeyValue(line)
		if err != nil {
			return nil, err
		}
		switch {
		case key == "WEIGHT_MEAN":
			if cfg.Demographics.WeightMean, err = parseControlFloat(key, value); err != nil {
				return nil, err
			}
		case key == "WEIGHT_SD":
			if cfg.Demographics.WeightSD, err = parseControlFloat(key, value); err != nil {
				return nil, err
			}
		case key == "AGE_MEAN":
			if cfg.Demographics.AgeMean, err = parseControlFloat(key, value); err != nil {
				return nil, err
			}
		case key == "AGE_SD":
			if cfg.Demographics.AgeSD, err = parseControlFloat(key, value); err != nil {
				return nil, err
			}
		case strings.HasPrefix(key, "COV_"):
			if err := applyCovariateKey(builders, key, value); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown $POPULATION key %q", ErrValidation, key)
		}
	}
	if len(builders) > 0 {
		cfg.Covariates = make(map[string]CovariateSpec, len(builders))
		for name, b := range builders {
			cfg.Covariates[name] = b.build()
		}
	}
	return cfg, nil
}

// covariateBuilder accumulates the companion keys of one covariate
// (COV_{PARAM}_{WT|AGE} with _EFFECT, _REFERENCE and _MODEL suffixes)
// before defaults apply.
type covariateBuilder struct {
	effect    float64
	reference *float64
	model     string
}

func (b *covariateBuilder) build() CovariateSpec {
	ref := 70.0 // reference defaults to the typical adult weight
	if b.reference != nil {
		ref = *b.reference
	}
	return CovariateSpec{Effect: b.effect, Reference: ref, Model: b.model}
}

func applyCovariateKey(builders map[string]*covariateBuilder, key, value string) error {
	parts := strings.Split(key, "_")
	if len(parts) < 4 {
		return fmt.Errorf("%w: invalid covariate key %q (expected COV_{PARAM}_{WT|AGE}_{EFFECT|REFERENCE|MODEL})", ErrValidation, key)
	}
	name := parts[1] + "_" + parts[2]
	b := builders[name]
	if b == nil {
		b = &covariateBuilder{}
		builders[name] = b
	}
	switch field := strings.Join(parts[3:], "_"); field {
	case "EFFECT":
		v, err := parseControlFloat(key, value)
		if err != nil {
			return err
		}
		b.effect = v
	case "REFERENCE":
		v, err := parseControlFloat(key, value)
		if err != nil {
			return err
		}
		b.reference = &v
	case "MODEL":
		b.model = strings.ToLower(value)
	default:
		return fmt.Errorf("%w: unknown covariate field %q in %q", ErrValidation, field, key)
	}
	return nil
}

func (p *controlStreamParser) parseSimulationRecord(cfg *SimulationConfig) error {
	p.pos++
	for _, line := range p.recordLines() {
		key, value, err := splitKeyValue(line)
		if err != nil {
			return err
		}
		switch key {
		case "TIME_POINTS":
			ts, err := parseControlFloatList(key, value)
			if err != nil {
				return err
			}
			cfg.TimePoints = ts
		case "METHOD", "INTEGRATION_METHOD":
			method, err := parseControlMethod(value)
			if err != nil {
				return err
			}
			cfg.IntegrationMethod = method
		case "TOLERANCE":
			v, err := parseControlFloat(key, value)
			if err != nil {
				return err
			}
			cfg.Tolerance = &v
		default:
			return fmt.Errorf("%w: unknown $SIMULATION key %q", ErrValidation, key)
		}
	}
	return nil
}

func splitKeyValue(line string) (key, value string, err error) {
	k, v, found := strings.Cut(line, "=")
	if !found {
		return "", "", fmt.Errorf("%w: expected KEY = value, got %q", ErrValidation, line)
	}
	return strings.ToUpper(strings.TrimSpace(k)), strings.TrimSpace(v), nil
}

func parseControlRoute(value string) (string, error) {
	switch strings.ToUpper(value) {
	case "ORAL":
		return string(pkmodel.RouteOral), nil
	case "IVBOLUS":
		return string(pkmodel.RouteIVBolus), nil
	case "IVINFUSION", "INFUSION":
		return string(pkmodel.RouteIVInfusion), nil
	default:
		return "", fmt.Errorf("%w: unknown ROUTE %q (valid: ORAL, IVBOLUS, IVINFUSION)", ErrInvalidDosing, value)
	}
}

func parseControlMethod(value string) (string, error) {
	switch strings.ToUpper(value) {
	case "ANALYTICAL":
		return IntegrationAnalytical, nil
	case "RK4":
		return IntegrationRK4, nil
	case "EULER":
		return IntegrationEuler, nil
	default:
		return "", fmt.Errorf("%w: unknown integration method %q (valid: ANALYTICAL, RK4, EULER)", ErrValidation, value)
	}
}

func parseControlFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid numeric value for %s: %q", ErrValidation, key, value)
	}
	return v, nil
}

func parseControlFloatList(key, value string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(value, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value in %s list: %q", ErrValidation, key, part)
		}
		out = append(out, v)
	}
	return out, nil
}
