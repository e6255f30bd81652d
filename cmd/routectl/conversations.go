package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	assignAgent        string
	transferNote       string
	escalateReason     string
	escalateDepartment string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect and route conversations",
}

var conversationsGetCmd = &cobra.Command{
	Use:   "get <conversation-id>",
	Short: "Show a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := apiClient().GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), conv)
	},
}

var conversationsAssignCmd = &cobra.Command{
	Use:   "assign <conversation-id>",
	Short: "Assign a conversation",
	Long:  `Assign a conversation to --agent, or let the router pick one when --agent is omitted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsAssign,
}

var conversationsTransferCmd = &cobra.Command{
	Use:   "transfer <conversation-id> <agent-id>",
	Short: "Transfer a conversation to another agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient().TransferConversation(cmd.Context(), args[0], args[1], transferNote)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s transferred to %s\n", args[0], res.Agent.ID)
		return nil
	},
}

var conversationsEscalateCmd = &cobra.Command{
	Use:   "escalate <conversation-id>",
	Short: "Escalate a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := apiClient().EscalateConversation(cmd.Context(), args[0], escalateReason, escalateDepartment)
		if err != nil {
			return err
		}
		agent := "-"
		if conv.Assignment != nil {
			agent = conv.Assignment.AgentID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s escalated: status=%s priority=%s agent=%s\n",
			conv.ID, conv.Status, conv.Priority, agent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsGetCmd)
	conversationsCmd.AddCommand(conversationsAssignCmd)
	conversationsCmd.AddCommand(conversationsTransferCmd)
	conversationsCmd.AddCommand(conversationsEscalateCmd)

	conversationsAssignCmd.Flags().StringVar(&assignAgent, "agent", "", "agent to assign to (default: automatic)")
	conversationsTransferCmd.Flags().StringVar(&transferNote, "note", "", "handover note")
	conversationsEscalateCmd.Flags().StringVar(&escalateReason, "reason", "", "why the conversation is escalated")
	conversationsEscalateCmd.Flags().StringVar(&escalateDepartment, "department", "", "department to escalate into")
	conversationsEscalateCmd.MarkFlagRequired("reason")
}

func runConversationsAssign(cmd *cobra.Command, args []string) error {
	res, err := apiClient().AssignConversation(cmd.Context(), args[0], assignAgent)
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s queued: no agent available\n", args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s assigned to %s (score %.2f)\n", args[0], res.Agent.ID, res.Score)
	for _, r := range res.Reasoning {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", r)
	}
	return nil
}
