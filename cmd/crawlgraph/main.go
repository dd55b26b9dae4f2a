package main

import (
	"fmt"
	"os"

	"github.com/groblegark/crawlgraph/internal/client"
	"github.com/groblegark/crawlgraph/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool

	api *client.HTTPClient
)

func defaultServerURL() string {
	if s := os.Getenv("CRAWL_SERVER_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:   "crawlgraph <command>",
	Short: "Autonomous web-app crawler building a state graph",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		api = client.NewHTTPClient(serverURL, authToken)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "crawlgraph server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("CRAWL_AUTH_TOKEN"), "bearer token for the server")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
