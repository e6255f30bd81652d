package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pytake/backend/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSecret      string
	tokenRole        string
	tokenDepartments []string
	tokenTTL         time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweeper pass on the server",
	Long:  `Route queued conversations, fail over orphans and report SLA breaches now instead of waiting for the next tick.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := apiClient().Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "assigned=%d unassigned=%d breaches=%d failed_over=%d errors=%d (%dms)\n",
			res.Assigned, res.Unassigned, res.Breaches, res.FailedOver, res.Errors, res.DurationMs)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := apiClient().Health(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", serverURL)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an HS256 token for local testing",
	Long: `Sign a token the backend accepts when it runs with JWT_SECRET. The subject
is the agent id for agent tokens.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", envOr("JWT_SECRET", ""), "signing secret")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "agent", "role claim (admin, supervisor, agent, viewer)")
	tokenCmd.Flags().StringSliceVar(&tokenDepartments, "department", nil, "department claim (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	token, err := auth.IssueToken(tokenSecret, args[0], strings.ToLower(tokenRole), tokenDepartments, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
