package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pharmacometric/NSIMS/sim"
)

var (
	ctlPath       string
	convertFormat string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a NONMEM control stream to native configuration",
	Long:  "Convert a NONMEM control stream (.ctl/.mod) to the equivalent JSON or YAML configuration. Output is written to stdout for piping.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := sim.LoadControlStream(ctlPath)
		if err != nil {
			logrus.Fatalf("Control stream conversion failed: %v", err)
		}
		// The emitted config must itself be loadable.
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Converted configuration is invalid: %v", err)
		}
		if err := writeConfigToStdout(cfg, convertFormat); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// writeConfigToStdout marshals cfg in the requested format and prints it.
func writeConfigToStdout(cfg *sim.Config, format string) error {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("YAML marshal failed: %w", err)
		}
		fmt.Print(string(data))
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("JSON marshal failed: %w", err)
		}
		fmt.Println(string(data))
	default:
		return fmt.Errorf("unknown output format %q (valid: json, yaml)", format)
	}
	return nil
}

func init() {
	convertCmd.Flags().StringVar(&ctlPath, "ctl", "", "Path to NONMEM control stream")
	convertCmd.Flags().StringVar(&convertFormat, "format", "json", "Output format (json or yaml)")
	_ = convertCmd.MarkFlagRequired("ctl")

	rootCmd.AddCommand(convertCmd)
}
