package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the stack dependency graph without deploying",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			g, _, err := buildGraph(logger)
			if err != nil {
				return err
			}

			if dot {
				fmt.Fprint(os.Stdout, g.ToDOT())
				return nil
			}

			printer := newPrinter()
			printer.DependencySummary(g)
			fmt.Println("Topological order:")
			for i, name := range g.TopologicalOrder() {
				fmt.Printf("  %2d. %s\n", i+1, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "emit Graphviz DOT instead of the summary")
	return cmd
}
