package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackdeck/stackdeck/pkg/azure"
	"github.com/stackdeck/stackdeck/pkg/engine"
	"github.com/stackdeck/stackdeck/pkg/policy"
	"github.com/stackdeck/stackdeck/pkg/telemetry"
)

// dependenciesEnvVar overrides the --skip-dependencies flag when the flag is
// not given explicitly. Accepted values are "skip" and "include".
const dependenciesEnvVar = "STACKDECK_DEPENDENCIES"

func newDeployCommand() *cobra.Command {
	var (
		stacks           []string
		skipDependencies bool
		parallelism      int
		continueOnError  bool
		dryRun           bool
		echo             bool

		azBinary         string
		location         string
		actionOnUnmanage string
		denySettingsMode string
		extraAzArgs      []string

		noPolicy         bool
		policyPaths      []string
		environment      string
		allowedLocations []string

		metricsListen string
		traceExporter string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy stacks in dependency order",
		Long: `Deploy discovers stack manifests under the root, resolves their
inheritance chains, evaluates the policy gate, and deploys the selected
stacks through the az CLI in dependency order.

Without --stacks every discovered stack is deployed. With --stacks the
transitive dependency closure of the selection is included, unless
--skip-dependencies restricts the run to exactly the named stacks; their
dependency outputs are then read from the already deployed stacks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			// The environment variable only applies when the flag is absent,
			// so an explicit flag always wins.
			if !cmd.Flags().Changed("skip-dependencies") {
				switch os.Getenv(dependenciesEnvVar) {
				case "skip":
					skipDependencies = true
				case "include":
					skipDependencies = false
				}
			}

			g, configs, err := buildGraph(logger)
			if err != nil {
				return err
			}
			plan, err := engine.NewPlan(g, stacks, skipDependencies)
			if err != nil {
				return err
			}

			printer := newPrinter()

			if !noPolicy {
				res, err := evaluatePolicies(cmd.Context(), logger, configs, plan, policyPaths, &policy.Context{
					Environment:      environment,
					AllowedLocations: allowedLocations,
					DefaultLocation:  location,
					DryRun:           dryRun,
				})
				if err != nil {
					return err
				}
				printer.PolicyResult(res)
				if !res.Allowed {
					return fmt.Errorf("policy gate rejected the plan: %d violation(s)", len(res.Violations))
				}
			}

			printer.DependencySummary(g)
			printer.ExecutionPlan(plan)

			invoker := azure.NewCLIInvoker(azure.InvokerOptions{
				Command: azure.CommandOptions{
					Binary:           azBinary,
					Location:         location,
					ActionOnUnmanage: actionOnUnmanage,
					DenySettingsMode: denySettingsMode,
					ExtraArgs:        extraAzArgs,
				},
				DryRun: dryRun,
				Echo:   echo,
			}, logger)

			// With skipped dependencies the outputs the plan needs come from
			// stacks deployed in earlier runs; fetch them up front so binding
			// resolution sees them as cached.
			cache := engine.NewOutputCache()
			if skipDependencies && !dryRun {
				for _, name := range plan.ExternalDependencies() {
					outputs, err := invoker.FetchOutputs(cmd.Context(), name)
					if err != nil {
						return err
					}
					cache.Seed(name, outputs)
				}
			}

			var publishers telemetry.Fanout
			if metricsListen != "" {
				metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
					Enabled:          true,
					ListenAddress:    metricsListen,
					Path:             "/metrics",
					Namespace:        "stackdeck",
					HistogramBuckets: telemetry.DefaultConfig().Metrics.HistogramBuckets,
				})
				if err != nil {
					return err
				}
				serveMetrics(metricsListen, metrics, logger)
				publishers = append(publishers, telemetry.NewRecorder(metrics))
			}
			var events engine.EventPublisher
			if len(publishers) > 0 {
				events = publishers
			}

			tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
				Enabled:       traceExporter != "" && traceExporter != "none",
				Exporter:      traceExporter,
				Endpoint:      traceEndpoint,
				SamplingRate:  1.0,
				ExportTimeout: 10 * time.Second,
				Insecure:      true,
			}, "stackdeck", cmd.Root().Version, environment)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracer.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("trace exporter shutdown failed")
				}
			}()

			runID := uuid.New().String()
			runCtx, span := tracer.StartRunSpan(cmd.Context(), runID, len(plan.Nodes))
			defer span.End()

			failurePolicy := engine.StopOnFailure
			if continueOnError {
				failurePolicy = engine.ContinueAndIsolate
			}

			scheduler := engine.NewScheduler(invoker, cache, events, logger)
			report, err := scheduler.Run(runCtx, plan, engine.SchedulerOptions{
				Concurrency: parallelism,
				Policy:      failurePolicy,
				RunID:       runID,
			})
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}

			printer.RunReport(report)
			if !report.OK() {
				err := fmt.Errorf("run %s finished with %d failed and %d blocked stacks",
					report.RunID, report.Summary.Failed, report.Summary.Blocked)
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&stacks, "stacks", "s", nil, "deploy only these stacks (plus dependencies unless skipped)")
	cmd.Flags().BoolVar(&skipDependencies, "skip-dependencies", false, "deploy exactly the named stacks, reading dependency outputs from deployed state")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "maximum number of stacks deploying at once")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep deploying independent stacks after a failure")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print commands without executing them")
	cmd.Flags().BoolVar(&echo, "echo", false, "log each az command line before running it")

	cmd.Flags().StringVar(&azBinary, "az-binary", "az", "az CLI binary to invoke")
	cmd.Flags().StringVar(&location, "location", "uksouth", "default location for subscription-scope stacks")
	cmd.Flags().StringVar(&actionOnUnmanage, "action-on-unmanage", "deleteAll", "az --action-on-unmanage value")
	cmd.Flags().StringVar(&denySettingsMode, "deny-settings-mode", "none", "az --deny-settings-mode value")
	cmd.Flags().StringSliceVar(&extraAzArgs, "extra-az-args", nil, "additional arguments appended to every az invocation")

	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")
	cmd.Flags().StringSliceVar(&policyPaths, "policy-dir", nil, "additional policy files or directories (.rego, .json)")
	cmd.Flags().StringVar(&environment, "environment", "", "environment name passed to policies")
	cmd.Flags().StringSliceVar(&allowedLocations, "allowed-locations", nil, "locations the allowed-locations policy accepts")

	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address for the duration of the run")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP gRPC endpoint")

	return cmd
}

// newPolicyEngine builds a policy engine with the builtins plus any policies
// loaded from the given paths.
func newPolicyEngine(ctx context.Context, logger zerolog.Logger, paths []string) (*policy.Engine, error) {
	eng, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// evaluateGate runs the policy gate against the stacks selected by the plan,
// in execution order.
func evaluateGate(ctx context.Context, eng *policy.Engine, configs map[string]*engine.StackConfig,
	plan *engine.ExecutionPlan, pctx *policy.Context) (*policy.Result, error) {
	order := plan.Order()
	planned := make([]*engine.StackConfig, 0, len(order))
	for _, name := range order {
		planned = append(planned, configs[name])
	}
	return eng.EvaluatePlan(ctx, planned, order, pctx)
}

// evaluatePolicies is the one-shot form of the gate used by deploy and
// validate: fresh engine, single evaluation.
func evaluatePolicies(ctx context.Context, logger zerolog.Logger, configs map[string]*engine.StackConfig,
	plan *engine.ExecutionPlan, paths []string, pctx *policy.Context) (*policy.Result, error) {
	eng, err := newPolicyEngine(ctx, logger, paths)
	if err != nil {
		return nil, err
	}
	return evaluateGate(ctx, eng, configs, plan, pctx)
}

// serveMetrics exposes the registry for the lifetime of the process. Runs are
// typically scraped by a sidecar or pushed via the textfile collector; either
// way the listener dies with the process.
func serveMetrics(addr string, metrics *telemetry.Metrics, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}
