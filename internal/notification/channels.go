package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// AgentSender delivers a frame to one connected agent
type AgentSender interface {
	SendToAgent(agentID string, message []byte) bool
}

// Broadcaster delivers a frame to every dashboard client
type Broadcaster interface {
	Broadcast(message []byte)
}

// envelope is the websocket frame for a notification
type envelope struct {
	Type         string       `json:"type"` // "notification"
	Notification Notification `json:"notification"`
}

// WebsocketChannel sends agent notifications to the agent's socket and
// supervisor notifications to the dashboard
type WebsocketChannel struct {
	agents    AgentSender
	dashboard Broadcaster
}

func NewWebsocketChannel(agents AgentSender, dashboard Broadcaster) *WebsocketChannel {
	return &WebsocketChannel{agents: agents, dashboard: dashboard}
}

func (c *WebsocketChannel) Deliver(_ context.Context, n Notification) error {
	data, err := json.Marshal(envelope{Type: "notification", Notification: n})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if n.Recipient == Supervisors {
		if c.dashboard != nil {
			c.dashboard.Broadcast(data)
		}
		return nil
	}
	if c.agents == nil {
		return nil
	}
	// Offline agents pick the notification up from the inbox
	c.agents.SendToAgent(n.Recipient, data)
	return nil
}

// RedisChannel publishes notifications on "<prefix><recipient>" so other
// replicas and external consumers receive them
type RedisChannel struct {
	client *redis.Client
	prefix string
}

func NewRedisChannel(client *redis.Client, prefix string) *RedisChannel {
	return &RedisChannel{client: client, prefix: prefix}
}

func (c *RedisChannel) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.client.Publish(ctx, c.prefix+n.Recipient, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
