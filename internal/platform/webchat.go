package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pytake/backend/internal/types"
)

// WebchatRoom returns the redis channel a webchat widget listens on
func WebchatRoom(prefix, nativeID string) string {
	return prefix + nativeID
}

// WebchatFrame is what the widget receives
type WebchatFrame struct {
	Type      string    `json:"type"` // "message" or "typing"
	ID        string    `json:"id,omitempty"`
	Text      string    `json:"text,omitempty"`
	SentAt    time.Time `json:"sentAt"`
	AgentName string    `json:"agentName,omitempty"`
}

// Webchat delivers to browser widgets through redis rooms
type Webchat struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewWebchat(client *redis.Client, prefix string) *Webchat {
	return &Webchat{client: client, prefix: prefix, now: time.Now}
}

func (w *Webchat) Platform() types.Platform {
	return types.PlatformWebchat
}

func (w *Webchat) SendMessage(ctx context.Context, conv *types.Conversation, text string) (string, error) {
	frame := WebchatFrame{
		Type:   "message",
		ID:     uuid.NewString(),
		Text:   text,
		SentAt: w.now().UTC(),
	}
	if conv.Assignment != nil {
		frame.AgentName = conv.Assignment.AgentName
	}
	if err := w.publish(ctx, conv.PlatformConversationID, frame); err != nil {
		return "", err
	}
	return frame.ID, nil
}

func (w *Webchat) SendTypingIndicator(ctx context.Context, conv *types.Conversation) error {
	return w.publish(ctx, conv.PlatformConversationID, WebchatFrame{Type: "typing", SentAt: w.now().UTC()})
}

func (w *Webchat) publish(ctx context.Context, nativeID string, frame WebchatFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal webchat frame: %w", err)
	}
	if err := w.client.Publish(ctx, WebchatRoom(w.prefix, nativeID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish webchat frame: %w", err)
	}
	return nil
}
