package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// LastMessageField is the custom field holding the last inbound platform
// message id; WhatsApp typing indicators reference it
const LastMessageField = "last_platform_message_id"

// WhatsAppConfig configures the Cloud API client
type WhatsAppConfig struct {
	APIURL        string // e.g. https://graph.facebook.com/v19.0
	PhoneNumberID string
	Token         string
	Timeout       time.Duration
}

// WhatsApp sends through the WhatsApp Cloud API
type WhatsApp struct {
	cfg    WhatsAppConfig
	client *http.Client
	logger zerolog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig, logger zerolog.Logger) *WhatsApp {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WhatsApp{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "whatsapp").Logger(),
	}
}

func (w *WhatsApp) Platform() types.Platform {
	return types.PlatformWhatsApp
}

type waTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waTyping struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
	TypingIndicator  struct {
		Type string `json:"type"`
	} `json:"typing_indicator"`
}

type waResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func recipientOf(conv *types.Conversation) string {
	if conv.ContactPhone != "" {
		return strings.TrimPrefix(conv.ContactPhone, "+")
	}
	return conv.PlatformConversationID
}

func (w *WhatsApp) SendMessage(ctx context.Context, conv *types.Conversation, text string) (string, error) {
	msg := waTextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipientOf(conv),
		Type:             "text",
	}
	msg.Text.Body = text

	var resp waResponse
	if err := w.post(ctx, msg, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", apperr.Dependency("whatsapp send failed", fmt.Errorf("response carried no message id"))
	}

	w.logger.Debug().
		Str("conversation_id", conv.ID).
		Str("message_id", resp.Messages[0].ID).
		Msg("message sent")
	return resp.Messages[0].ID, nil
}

// SendTypingIndicator marks the last inbound message read and shows typing.
// Without a known inbound message there is nothing to reference and it is a no-op.
func (w *WhatsApp) SendTypingIndicator(ctx context.Context, conv *types.Conversation) error {
	messageID := conv.CustomFields[LastMessageField]
	if messageID == "" {
		return nil
	}
	msg := waTyping{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}
	msg.TypingIndicator.Type = "text"
	return w.post(ctx, msg, nil)
}

func (w *WhatsApp) post(ctx context.Context, body any, out *waResponse) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp request: %w", err)
	}

	url := strings.TrimRight(w.cfg.APIURL, "/") + "/" + w.cfg.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.Token)

	resp, err := w.client.Do(req)
	if err != nil {
		return apperr.FromContext("whatsapp request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.FromContext("read whatsapp response", err)
	}

	var parsed waResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode whatsapp response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		detail := resp.Status
		if parsed.Error != nil {
			detail = fmt.Sprintf("%s (code %d)", parsed.Error.Message, parsed.Error.Code)
		}
		err := fmt.Errorf("whatsapp api returned %d: %s", resp.StatusCode, detail)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return apperr.Dependency("whatsapp send failed", err)
		}
		return apperr.Validation("whatsapp rejected request: %v", err)
	}

	if out != nil {
		*out = parsed
	}
	return nil
}
