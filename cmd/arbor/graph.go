package main

import (
	"fmt"

	"github.com/aretw0/arbor/internal/demo"
	"github.com/aretw0/arbor/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the sample graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the guard graph run by the demo and serve commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := demo.Guard()
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(g, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
