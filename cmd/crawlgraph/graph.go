package main

import (
	"context"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <run-id>",
	Short: "Show a run's state graph as an adjacency listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := api.GetGraph(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(graph)
			return nil
		}
		printGraph(graph)
		return nil
	},
}
