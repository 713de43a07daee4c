// Command tmerge is the CLI front end to the temporal merge engine: it
// compiles and (optionally) applies a merge plan for a batch of source
// rows against a catalog-registered target era. Layout mirrors cmd/bd's
// one-file-per-subcommand cobra structure: this file only builds rootCmd
// and its command groups; each subcommand registers itself from its own
// init().
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/temporalmerge/tmerge/internal/tmtrace"
)

// Version is set at build time via -ldflags, following cmd/bd's pattern.
var Version = "dev"

var (
	jsonOutput bool
	configPath string

	traceExporter string
	otlpEndpoint  string

	traceShutdown tmtrace.Shutdown
)

var rootCmd = &cobra.Command{
	Use:   "tmerge",
	Short: "tmerge - bitemporal merge planner and executor",
	Long: `tmerge compiles a source batch of temporal rows into an ordered
plan of INSERT/UPDATE/DELETE/SKIP operations against a target era, and can
apply that plan under a transaction with per-row feedback.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		shutdown, err := tmtrace.Init(tmtrace.Options{
			Exporter:     tmtrace.Exporter(traceExporter),
			OTLPEndpoint: otlpEndpoint,
		})
		if err != nil {
			return err
		}
		traceShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if traceShutdown == nil {
			return nil
		}
		return traceShutdown(cmd.Context())
	},
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("tmerge version %s\n", Version)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "compile", Title: "Compiling a merge:"})
	rootCmd.AddGroup(&cobra.Group{ID: "ops", Title: "Operations:"})

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of a table")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a tmerge.yaml tuning-knob file (SPEC_FULL.md §1)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "telemetry exporter: none, stdout, or otlp")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP collector endpoint (trace-exporter=otlp only)")
	rootCmd.Flags().Bool("version", false, "print the version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
