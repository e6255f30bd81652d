package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pytake/backend/pkg/client"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiToken  string
)

var rootCmd = &cobra.Command{
	Use:   "routectl",
	Short: "routectl - operate the PyTake routing backend",
	Long: `routectl lints and dry-runs assignment rules offline and drives a running
backend over its HTTP API: agents, conversations and maintenance actions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PYTAKE_SERVER", "http://localhost:8080"), "backend base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("PYTAKE_TOKEN"), "bearer token for the API")
}

func Execute() error {
	return rootCmd.Execute()
}

func apiClient() *client.Client {
	return client.NewClient(serverURL, apiToken)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
