package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pytake/backend/internal/rules"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var conversationJSON string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with assignment rule files",
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint <file>",
	Short: "Validate a rules file",
	Long:  `Parse and validate a YAML rules file and print the rules in evaluation order.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesLint,
}

var rulesEvalCmd = &cobra.Command{
	Use:   "eval <file>",
	Short: "Dry-run a rules file against a conversation",
	Long: `Evaluate every rule in the file against a conversation and print the
assignment request the winning rule produces. --conversation takes JSON or
@path to a JSON file.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesEval,
}

var rulesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the server to reload its rules file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := apiClient().ReloadRules(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rules reloaded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesLintCmd)
	rulesCmd.AddCommand(rulesEvalCmd)
	rulesCmd.AddCommand(rulesReloadCmd)

	rulesEvalCmd.Flags().StringVar(&conversationJSON, "conversation", "", "conversation JSON or @file")
	rulesEvalCmd.MarkFlagRequired("conversation")
}

func runRulesLint(cmd *cobra.Command, args []string) error {
	rs, err := rules.LoadFile(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tID\tNAME\tENABLED")
	for _, r := range rs.Rules() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", r.Priority, r.ID, r.Name, r.Enabled)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", rs.Len())
	return nil
}

type evalOutput struct {
	Matches []string                `json:"matches"`
	Winner  string                  `json:"winner,omitempty"`
	Notify  bool                    `json:"notify"`
	Request types.AssignmentRequest `json:"request"`
}

func runRulesEval(cmd *cobra.Command, args []string) error {
	rs, err := rules.LoadFile(args[0])
	if err != nil {
		return err
	}
	conv, err := readConversation(conversationJSON)
	if err != nil {
		return err
	}

	engine := rules.NewEngine(rs, rules.DefaultSchedule(), zerolog.Nop())
	out := evalOutput{Matches: []string{}}
	for _, r := range rs.Rules() {
		if engine.Evaluate(&r, conv) {
			out.Matches = append(out.Matches, r.ID)
		}
	}
	req := types.NewAssignmentRequest(*conv)
	res := engine.Resolve(&req)
	if res.Rule != nil {
		out.Winner = res.Rule.ID
	}
	out.Notify = res.Notify
	out.Request = req
	return printJSON(cmd.OutOrStdout(), out)
}

func readConversation(v string) (*types.Conversation, error) {
	data := []byte(v)
	if path, ok := strings.CutPrefix(v, "@"); ok {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read conversation file: %w", err)
		}
	}
	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("invalid conversation JSON: %w", err)
	}
	return &conv, nil
}
