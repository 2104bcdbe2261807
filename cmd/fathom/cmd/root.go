// Package cmd provides the CLI commands for Fathom.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/profiling"
	"github.com/fathomlabs/fathom/pkg/version"
)

// Global flags shared by all subcommands.
var (
	configPath string
	dataDir    string
	logLevel   string
)

// Profiling flags.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the fathom CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fathom",
		Short: "Hybrid product search engine",
		Long: `Fathom indexes product documents into a BM25 keyword index and an
HNSW vector index, and serves searches that fuse both rankings.

Typical workflow:
  fathom put prod-1 --title "Espresso Machine" --description "dual boiler"
  fathom load catalog.json
  fathom search "compact espresso maker"
  fathom check --repair`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("fathom version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfiling(_ *cobra.Command, _ []string) error {
	var err error
	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("start trace: %w", err)
		}
	}
	return nil
}

func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("write memory profile: %w", err)
		}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
