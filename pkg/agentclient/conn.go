// Package agentclient speaks the agent websocket protocol: it registers an
// agent, keeps it alive with heartbeats and surfaces the conversations the
// backend routes to it.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	// Write timeout
	writeTimeout = 10 * time.Second

	// Reconnect backoff
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// DefaultHeartbeat stays well inside the server's stale threshold
	DefaultHeartbeat = 20 * time.Second
)

// ErrForceDisconnected is returned by Run when the backend logged the agent out
var ErrForceDisconnected = errors.New("agent was force disconnected")

// Options configures a Conn
type Options struct {
	// BackendURL is the http(s) base URL of the backend
	BackendURL string
	AgentID    string
	// Token is sent as a bearer token when set
	Token string
	// Status is announced on register; empty keeps the stored status
	Status    types.AgentStatus
	Heartbeat time.Duration
}

// Conn manages the websocket connection for a single agent
type Conn struct {
	opts     Options
	conn     *websocket.Conn
	send     chan []byte
	assignCh chan types.ConversationAssign
	revokeCh chan types.ConversationRevoke
	noticeCh chan json.RawMessage
	logger   zerolog.Logger

	mu         sync.Mutex
	connected  bool
	registered bool
	closed     bool // Permanently closed, no reconnects
	forced     bool

	// Metrics
	heartbeatsSent int64
	reconnects     int64
}

// New creates a connection; Run dials it
func New(opts Options, logger zerolog.Logger) *Conn {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Conn{
		opts:     opts,
		send:     make(chan []byte, 64),
		assignCh: make(chan types.ConversationAssign, 16),
		revokeCh: make(chan types.ConversationRevoke, 16),
		noticeCh: make(chan json.RawMessage, 16),
		logger:   logger.With().Str("agent_id", opts.AgentID).Logger(),
	}
}

// Assignments returns the channel where conversation_assign frames arrive
func (c *Conn) Assignments() <-chan types.ConversationAssign {
	return c.assignCh
}

// Revocations returns the channel where conversation_revoke frames arrive
func (c *Conn) Revocations() <-chan types.ConversationRevoke {
	return c.revokeCh
}

// Notifications returns raw notification frames
func (c *Conn) Notifications() <-chan json.RawMessage {
	return c.noticeCh
}

// Run connects and keeps the connection alive until ctx is cancelled, Close
// is called or the backend forces a disconnect
func (c *Conn) Run(ctx context.Context) error {
	reconnectDelay := initialReconnectDelay

	for {
		c.mu.Lock()
		closed, forced := c.closed, c.forced
		c.mu.Unlock()
		if forced {
			return ErrForceDisconnected
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Debug().Err(err).Dur("retry_in", reconnectDelay).Msg("connection failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			// Exponential backoff
			reconnectDelay *= 2
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			c.mu.Lock()
			c.reconnects++
			c.mu.Unlock()
			continue
		}

		reconnectDelay = initialReconnectDelay
		c.sendRegister()
		c.runLoop(ctx)

		// Connection lost, try to reconnect
		c.mu.Lock()
		c.connected = false
		c.registered = false
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}
}

// wsURL turns the backend base URL into the agent socket URL
func wsURL(base string) string {
	u := strings.TrimSuffix(base, "/") + "/ws/agent"
	if strings.HasPrefix(u, "http") {
		u = "ws" + u[len("http"):]
	}
	return u
}

func (c *Conn) connect(ctx context.Context) error {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(c.opts.BackendURL), header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Debug().Msg("websocket connected")
	return nil
}

// Close permanently closes the connection and prevents reconnects
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// runLoop sends heartbeats and queued frames while a reader goroutine
// dispatches incoming frames
func (c *Conn) runLoop(ctx context.Context) {
	heartbeatTicker := time.NewTicker(c.opts.Heartbeat)
	defer heartbeatTicker.Stop()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.handleIncoming(message)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-heartbeatTicker.C:
			c.sendHeartbeat()
		case msg := <-c.send:
			c.writeMessage(msg)
		}
	}
}

func (c *Conn) sendRegister() {
	c.mu.Lock()
	status := c.opts.Status
	c.mu.Unlock()

	data, err := json.Marshal(types.AgentRegister{
		Type:      types.MsgRegister,
		AgentID:   c.opts.AgentID,
		Status:    status,
		Timestamp: time.Now(),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal register message")
		return
	}
	c.writeMessage(data)
}

func (c *Conn) sendHeartbeat() {
	data, err := json.Marshal(types.AgentHeartbeat{
		Type:      types.MsgHeartbeat,
		AgentID:   c.opts.AgentID,
		Timestamp: time.Now(),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal heartbeat")
		return
	}
	c.writeMessage(data)
	c.mu.Lock()
	c.heartbeatsSent++
	c.mu.Unlock()
}

// SetStatus queues a status_update. The status is also announced again on
// the next reconnect.
func (c *Conn) SetStatus(status types.AgentStatus) {
	c.mu.Lock()
	c.opts.Status = status
	c.mu.Unlock()

	data, err := json.Marshal(types.StatusUpdate{
		Type:      types.MsgStatusUpdate,
		AgentID:   c.opts.AgentID,
		Status:    status,
		Timestamp: time.Now(),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal status update")
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Msg("send buffer full, dropping status update")
	}
}

func (c *Conn) handleIncoming(message []byte) {
	var header struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(message, &header); err != nil {
		return
	}

	switch header.Type {
	case types.MsgConversationAssign:
		var m types.ConversationAssign
		if err := json.Unmarshal(message, &m); err != nil {
			return
		}
		select {
		case c.assignCh <- m:
		default:
			c.logger.Warn().Str("conversation_id", m.ConversationID).Msg("assign channel full, dropping")
		}
	case types.MsgConversationRevoke:
		var m types.ConversationRevoke
		if err := json.Unmarshal(message, &m); err != nil {
			return
		}
		select {
		case c.revokeCh <- m:
		default:
		}
	case types.MsgNotification:
		select {
		case c.noticeCh <- json.RawMessage(message):
		default:
		}
	case types.MsgForceDisconnect:
		c.logger.Info().Msg("received force_disconnect")
		c.mu.Lock()
		c.forced = true
		c.mu.Unlock()
		c.Close()
	case types.MsgAck:
		c.mu.Lock()
		c.registered = true
		c.mu.Unlock()
	case types.MsgError:
		c.logger.Warn().Str("error", header.Message).Msg("backend rejected a frame")
	}
}

func (c *Conn) writeMessage(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug().Err(err).Msg("write error")
	}
}

// Registered reports whether the backend acknowledged the register frame on
// the current connection
func (c *Conn) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Stats returns connection counters
func (c *Conn) Stats() (heartbeats, reconnects int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeatsSent, c.reconnects
}
