// Package main provides the datafactory binary entry point.
// Datafactory drives the data challenge backend through its phases:
// research and problem statement, schema, preview, full generation with
// QA, and delivery of the download bundle.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "datafactory"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags override the loaded configuration.
type globalFlags struct {
	configPath   string
	logLevel     string
	apiURL       string
	pollInterval time.Duration
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Data challenge generator client",
		Long: `Datafactory generates realistic data-analysis challenges with the
challenge backend. Each phase produces a draft you review and approve
before the next one is generated:

  1. Research and problem statement
  2. Dataset schema
  3. Sample data preview
  4. Full dataset generation with QA
  5. Download bundle

Running without a subcommand opens the interactive wizard.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd.Context(), flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.apiURL, "api-url", "", "Challenge backend API root (e.g. http://localhost:8000/api)")
	pf.DurationVar(&flags.pollInterval, "poll-interval", 0, "Job status poll interval")

	cmd.AddCommand(
		generateCmd(&flags),
		sourceCmd(&flags),
		configCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}
