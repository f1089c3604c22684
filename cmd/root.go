package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pharmacometric/NSIMS/sim"
	"github.com/pharmacometric/NSIMS/sim/output"
)

var (
	// CLI flags for the run subcommand
	configPath string // Configuration file (JSON, YAML, or NONMEM control stream)
	outputDir  string // Output directory for result files
	patients   int    // Number of patients to simulate
	seed       uint64 // Seed for reproducible runs
	verbose    bool   // Debug-level logging
	parallel   int    // Worker count for parallel simulation (0 = serial)
	withExcel  bool   // Also write the XLSX workbook
	withReport bool   // Also write the markdown/HTML report
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nsims",
	Short: "Population pharmacokinetics simulation program",
}

// runOptions carries the run pipeline inputs, resolved from CLI flags.
type runOptions struct {
	ConfigPath string
	OutputDir  string
	Patients   int
	Key        sim.SimulationKey
	Parallel   int
	Excel      bool
	Report     bool
}

// runCmd executes a population simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the population simulation",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}

		if configPath == "" {
			logrus.Fatalf("Configuration file not provided. Exiting simulation.")
		}
		if outputDir == "" {
			logrus.Fatalf("Output directory not provided. Exiting simulation.")
		}

		opts := runOptions{
			ConfigPath: configPath,
			OutputDir:  outputDir,
			Patients:   patients,
			Parallel:   parallel,
			Excel:      withExcel,
			Report:     withReport,
		}
		// An explicit --seed makes the run reproducible; otherwise the key
		// comes from entropy.
		if cmd.Flags().Changed("seed") {
			opts.Key = sim.NewSimulationKey(seed)
			logrus.Infof("Starting PK simulation with %d patients (seed: %d)", patients, seed)
		} else {
			opts.Key = sim.EntropyKey()
			logrus.Infof("Starting PK simulation with %d patients (random seed)", patients)
		}

		if err := executeRun(opts); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
	},
}

// executeRun loads configuration, simulates the population and writes every
// requested output. The simulation runs before any file is created, so a
// failed run leaves no partial outputs.
func executeRun(opts runOptions) error {
	cfg, err := sim.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	logrus.Infof("Loaded configuration from %s", opts.ConfigPath)

	s, err := sim.New(cfg, opts.Key)
	if err != nil {
		return err
	}

	var results []sim.PatientResult
	if opts.Parallel > 0 {
		results, err = s.RunParallel(opts.Patients, opts.Parallel)
	} else {
		results, err = s.Run(opts.Patients)
	}
	if err != nil {
		return err
	}
	logrus.Infof("Simulation completed for %d patients", len(results))

	paramNames := cfg.Model.Parameters.Names()
	if err := output.WriteResults(opts.OutputDir, results, paramNames); err != nil {
		return err
	}
	if opts.Report {
		if err := output.WriteReport(opts.OutputDir, results); err != nil {
			return err
		}
	}
	if opts.Excel {
		if err := output.WriteWorkbook(opts.OutputDir, results, paramNames); err != nil {
			return err
		}
	}

	logrus.Info("Simulation complete.")
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Configuration file (JSON, YAML, or NONMEM .ctl/.mod)")
	runCmd.Flags().StringVar(&outputDir, "output", "", "Output directory for result files")
	runCmd.Flags().IntVar(&patients, "patients", 100, "Number of patients to simulate")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for reproducible runs (omit for an entropy seed)")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	runCmd.Flags().IntVar(&parallel, "parallel", 0, "Number of parallel workers (0 runs serially)")
	runCmd.Flags().BoolVar(&withExcel, "excel", false, "Also write the consolidated XLSX workbook")
	runCmd.Flags().BoolVar(&withReport, "report", false, "Also write the markdown and HTML report")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
