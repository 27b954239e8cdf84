package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackdeck/stackdeck/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the built-in and loaded deployment policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			eng, err := policy.NewEngine(logger)
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := eng.LoadPolicies(cmd.Context(), policyPaths); err != nil {
					return err
				}
			}
			for _, p := range eng.Policies() {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Printf("  %-20s %-8s %-8s %s\n", p.Name, p.Severity, state, p.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy-dir", nil, "additional policy files or directories (.rego, .json)")
	return cmd
}
