package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pytake/backend/internal/types"
	"github.com/spf13/cobra"
)

var (
	inboundPlatform   string
	inboundChat       string
	inboundContact    string
	inboundText       string
	inboundDepartment string
	inboundPriority   string
	inboundTags       []string
)

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Inject customer traffic",
}

var inboundSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Post a customer message through the platform webhook",
	Long: `Post one inbound message as the platform webhook would. The first message
on a chat opens a conversation and routes it, later ones append to it.`,
	Args: cobra.NoArgs,
	RunE: runInboundSend,
}

func init() {
	rootCmd.AddCommand(inboundCmd)
	inboundCmd.AddCommand(inboundSendCmd)

	f := inboundSendCmd.Flags()
	f.StringVar(&inboundPlatform, "platform", string(types.PlatformWhatsApp), "source platform")
	f.StringVar(&inboundChat, "chat", "", "platform conversation id (default: random)")
	f.StringVar(&inboundContact, "contact", "", "contact id (default: the chat id)")
	f.StringVar(&inboundText, "text", "", "message text")
	f.StringVar(&inboundDepartment, "department", "", "department hint")
	f.StringVar(&inboundPriority, "priority", "", "priority hint")
	f.StringSliceVar(&inboundTags, "tag", nil, "tag to attach (repeatable)")
	inboundSendCmd.MarkFlagRequired("text")
}

func runInboundSend(cmd *cobra.Command, _ []string) error {
	chat := inboundChat
	if chat == "" {
		chat = "sim-" + uuid.NewString()[:8]
	}
	contact := inboundContact
	if contact == "" {
		contact = chat
	}

	var priority types.Priority
	if inboundPriority != "" {
		var err error
		if priority, err = types.ParsePriority(inboundPriority); err != nil {
			return err
		}
	}

	res, err := apiClient().SendInbound(cmd.Context(), types.InboundMessage{
		Platform:               types.Platform(inboundPlatform),
		PlatformConversationID: chat,
		PlatformMessageID:      uuid.NewString(),
		ContactID:              contact,
		Text:                   inboundText,
		Department:             inboundDepartment,
		Priority:               priority,
		Tags:                   inboundTags,
		ReceivedAt:             time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	verb := "appended to"
	if res.Created {
		verb = "opened"
	}
	agent := res.AgentID
	if agent == "" {
		agent = "-"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (chat %s): status=%s agent=%s\n", verb, res.ConversationID, chat, res.Status, agent)
	return nil
}
