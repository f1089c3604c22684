package sim

import "errors"

// Sentinel error kinds for the simulation pipeline. Call sites wrap them
// with fmt.Errorf("%w: ...") so the diagnostic names the offending field
// while errors.Is still discriminates the kind. I/O and config decode
// failures wrap the underlying os/json/yaml error instead.
var (
	// ErrInvalidModel marks a structurally unusable model configuration:
	// unsupported compartment count, unknown parameter name, missing KA for
	// an oral regimen.
	ErrInvalidModel = errors.New("invalid model configuration")

	// ErrInvalidDosing marks an unusable dosing configuration: unknown
	// route, non-positive amount, missing infusion duration.
	ErrInvalidDosing = errors.New("invalid dosing configuration")

	// ErrValidation marks configuration or sampled values outside their
	// legal range.
	ErrValidation = errors.New("validation error")

	// ErrSimulation marks a failure while running the population loop.
	ErrSimulation = errors.New("simulation error")
)
