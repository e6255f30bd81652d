package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/pytake/backend/internal/types"
	"github.com/pytake/backend/pkg/agentclient"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	agentStatusFilter string
	connectStatus     string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and control agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents and their load",
	Args:  cobra.NoArgs,
	RunE:  runAgentsList,
}

var agentsStatusCmd = &cobra.Command{
	Use:   "status <agent-id> <status>",
	Short: "Set an agent's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := apiClient().SetAgentStatus(cmd.Context(), args[0], types.AgentStatus(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", agent.ID, agent.Status)
		return nil
	},
}

var agentsConnectCmd = &cobra.Command{
	Use:   "connect <agent-id>",
	Short: "Connect as an agent and print routed conversations",
	Long: `Open the agent websocket, register and heartbeat like a desk client would,
and print every assignment and revoke until interrupted or logged out.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentsConnect,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsStatusCmd)
	agentsCmd.AddCommand(agentsConnectCmd)

	agentsListCmd.Flags().StringVar(&agentStatusFilter, "status", "", "only agents with this status")
	agentsConnectCmd.Flags().StringVar(&connectStatus, "status", string(types.AgentAvailable), "status announced on register")
}

func runAgentsList(cmd *cobra.Command, _ []string) error {
	agents, err := apiClient().ListAgents(cmd.Context(), types.AgentStatus(agentStatusFilter))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLOAD\tDEPARTMENTS\tCONNECTION")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			a.ID, a.Name, a.Status,
			a.CurrentConversationCount, a.MaxConcurrentConversations,
			strings.Join(a.Departments, ","), a.Connection)
	}
	return w.Flush()
}

func runAgentsConnect(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conn := agentclient.New(agentclient.Options{
		BackendURL: serverURL,
		AgentID:    args[0],
		Token:      apiToken,
		Status:     types.AgentStatus(connectStatus),
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	out := cmd.OutOrStdout()
	for {
		select {
		case a := <-conn.Assignments():
			fmt.Fprintf(out, "assigned %s (%s, %s): %s\n", a.ConversationID, a.Platform, a.Priority, a.Reason)
		case r := <-conn.Revocations():
			fmt.Fprintf(out, "revoked %s\n", r.ConversationID)
		case n := <-conn.Notifications():
			fmt.Fprintf(out, "notification %s\n", n)
		case err := <-done:
			if errors.Is(err, agentclient.ErrForceDisconnected) {
				fmt.Fprintln(out, "logged out by the backend")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
