package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the agent
	agentWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the agent
	agentPongWait = 60 * time.Second

	// Send pings to agent with this period (must be less than pongWait)
	agentPingPeriod = 50 * time.Second

	// Maximum message size allowed from agent
	agentMaxMessageSize = 4096
)

// AgentClient represents a WebSocket connection from an agent console
type AgentClient struct {
	// Agent ID, bound by the register message
	agentID string

	// The hub this client belongs to
	hub *AgentHub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Token claims; nil when auth is disabled
	claims *auth.Claims

	// Logger
	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewAgentClient creates a new AgentClient
func NewAgentClient(hub *AgentHub, conn *websocket.Conn, claims *auth.Claims, logger zerolog.Logger) *AgentClient {
	return &AgentClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		claims: claims,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *AgentClient) readPump() {
	defer func() {
		close(c.done)
		if c.agentID != "" {
			c.hub.drop(c)
		} else {
			c.Close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(agentMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("agent websocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes incoming messages from the agent
func (c *AgentClient) handleMessage(message []byte) {
	// Parse message type
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		return
	}

	if msgType.Type != types.MsgRegister && c.agentID == "" {
		c.reply(types.ServerError{Type: types.MsgError, Message: "register first"})
		return
	}

	switch msgType.Type {
	case types.MsgRegister:
		var reg types.AgentRegister
		if err := json.Unmarshal(message, &reg); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse register message")
			return
		}
		c.handleRegister(&reg)

	case types.MsgHeartbeat:
		hb := types.AgentHeartbeat{Type: types.MsgHeartbeat, AgentID: c.agentID, Timestamp: time.Now()}
		select {
		case c.hub.heartbeat <- &hb:
		case <-c.hub.done:
		}

	case types.MsgStatusUpdate:
		var su types.StatusUpdate
		if err := json.Unmarshal(message, &su); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse status_update message")
			return
		}
		// The socket speaks only for the agent it registered as
		su.AgentID = c.agentID
		select {
		case c.hub.statusUpdate <- &su:
		case <-c.hub.done:
		}

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
	}
}

func (c *AgentClient) handleRegister(reg *types.AgentRegister) {
	if c.agentID != "" {
		c.reply(types.ServerError{Type: types.MsgError, Message: "already registered"})
		return
	}
	if c.claims != nil && c.claims.Role == auth.RoleAgent && c.claims.Subject != reg.AgentID {
		c.reply(types.ServerError{Type: types.MsgError, Message: "agent id does not match token"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	err := c.hub.processor.ProcessRegister(ctx, reg)
	cancel()
	if err != nil {
		c.logger.Debug().Err(err).Str("agent_id", reg.AgentID).Msg("agent registration rejected")
		c.reply(types.ServerError{Type: types.MsgError, Message: err.Error()})
		return
	}

	c.agentID = reg.AgentID
	c.logger = c.logger.With().Str("agent_id", c.agentID).Logger()
	if !c.hub.add(c) {
		return
	}
	c.reply(types.ServerAck{Type: types.MsgAck, AgentID: c.agentID})
}

// reply sends a frame on this socket whether or not it is registered
func (c *AgentClient) reply(v any) {
	if data, err := json.Marshal(v); err == nil {
		c.safeSend(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *AgentClient) writePump() {
	ticker := time.NewTicker(agentPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *AgentClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *AgentClient) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is closed
func (c *AgentClient) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
