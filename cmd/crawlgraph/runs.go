package main

import (
	"context"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List crawl runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := api.ListRuns(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(runs)
			return nil
		}
		printRunsTable(runs)
		return nil
	},
}
