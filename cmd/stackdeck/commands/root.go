package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackdeck/stackdeck/pkg/engine"
	"github.com/stackdeck/stackdeck/pkg/manifest"
	"github.com/stackdeck/stackdeck/pkg/report"
	"github.com/stackdeck/stackdeck/pkg/telemetry"
)

var (
	// Global flags
	manifestRoot    string
	manifestPattern string
	logLevel        string
	logFormat       string
	colorMode       string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackdeck",
		Short: "Stackdeck - Azure deployment stack orchestrator",
		Long: `Stackdeck discovers stack manifests, resolves their inheritance chains,
builds the dependency graph between stacks, and deploys them through the
az CLI in dependency order with bounded parallelism.

Stack outputs flow to dependent stacks as template parameters, so an
entire environment deploys from one command.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&manifestRoot, "root", "r", ".", "manifest repository root")
	rootCmd.PersistentFlags().StringVar(&manifestPattern, "glob", "**/stack.yaml", "manifest discovery glob, relative to the root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colored output (auto, always, never)")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}

// newLogger builds the process logger from the global flags.
func newLogger() (zerolog.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	})
}

// loadStacks discovers and resolves every manifest under the configured root.
func loadStacks(logger zerolog.Logger) (map[string]*engine.StackConfig, error) {
	repo := manifest.NewRepository(manifestRoot, manifestPattern, logger)
	return repo.Load()
}

// buildGraph loads manifests and constructs the dependency graph.
func buildGraph(logger zerolog.Logger) (*engine.Graph, map[string]*engine.StackConfig, error) {
	configs, err := loadStacks(logger)
	if err != nil {
		return nil, nil, err
	}
	g, err := engine.NewBuilder().Build(configs)
	if err != nil {
		return nil, nil, err
	}
	return g, configs, nil
}

func newPrinter() *report.Printer {
	return report.NewPrinter(os.Stdout, colorMode)
}
