// Package sim provides the core population simulation engine for NSIMS.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - config.go: Config tree, ordered parameter map, and validation rules
//   - variability.go: IIV and residual-error sampling kernels
//   - simulator.go: The per-patient loop (demographics, parameters, observations)
//
// # Architecture
//
// The sim package owns configuration, sampling, and the population driver;
// concern-specific code lives in sub-packages:
//   - sim/pkmodel/: closed-form compartment models and dose regimens
//   - sim/output/: result writers (CSV, JSON summary, report, workbook)
//
// A run flows config → Simulator → []PatientResult → output. The Simulator
// never touches the filesystem; writers consume the in-memory results.
//
// # Reproducibility
//
// Every random draw comes from a PartitionedRNG stream derived from the run's
// SimulationKey. The per-patient draw schedule is fixed: weight, age, one draw
// per parameter that carries IIV (in configured order), then one or two
// residual draws per observation in time-grid order. Covariate application
// consumes no draws, and zero-variance draws are still consumed, so the
// schedule never depends on parameter values. Serial runs share one
// population stream; parallel runs derive one stream per patient and are
// reproducible for any worker count.
//
// # Input formats
//
// LoadConfig reads JSON or YAML natively and dispatches *.ctl / *.mod files
// to the NONMEM control stream translator in nonmem.go.
package sim
