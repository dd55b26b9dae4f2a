package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <url>",
	Short: "Start a crawl run from a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := api.StartRun(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(run)
			return nil
		}
		fmt.Printf("Started run %s crawling %s\n", run.ID, run.TargetOrigin)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a running crawl",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.StopRun(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Stopped run %s\n", args[0])
		return nil
	},
}
