package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackdeck/stackdeck/pkg/engine"
	"github.com/stackdeck/stackdeck/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		noPolicy         bool
		policyPaths      []string
		environment      string
		allowedLocations []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Resolve manifests, build the graph, and run the policy gate",
		Long: `Validate performs everything deploy does short of invoking az: manifest
discovery, inheritance resolution, schema validation, graph construction
with cycle detection, and policy evaluation. It is the command to wire
into CI for manifest repositories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			g, configs, err := buildGraph(logger)
			if err != nil {
				return err
			}

			printer := newPrinter()
			fmt.Printf("Validated %d stacks:\n", len(configs))
			printer.Stacks(configs)
			printer.DependencySummary(g)

			if noPolicy {
				return nil
			}
			plan, err := engine.NewPlan(g, nil, false)
			if err != nil {
				return err
			}
			res, err := evaluatePolicies(cmd.Context(), logger, configs, plan, policyPaths, &policy.Context{
				Environment:      environment,
				AllowedLocations: allowedLocations,
			})
			if err != nil {
				return err
			}
			printer.PolicyResult(res)
			if !res.Allowed {
				return fmt.Errorf("policy gate rejected the manifests: %d violation(s)", len(res.Violations))
			}
			fmt.Printf("Policy gate passed (%d policies evaluated)\n", len(res.EvaluatedPolicies))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")
	cmd.Flags().StringSliceVar(&policyPaths, "policy-dir", nil, "additional policy files or directories (.rego, .json)")
	cmd.Flags().StringVar(&environment, "environment", "", "environment name passed to policies")
	cmd.Flags().StringSliceVar(&allowedLocations, "allowed-locations", nil, "locations the allowed-locations policy accepts")
	return cmd
}
