package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/config"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

// Client is a middleman between a dashboard websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger

	// User claims for department filtering; nil sees everything
	claims *auth.Claims
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Logger(),
		claims: claims,
	}
}

// readPump drains the connection so pongs and close frames are processed.
// Dashboards do not send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.logger.Debug().Str("message", string(message)).Msg("ignoring message from dashboard client")
	}
}

// writePump pumps frames from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued frames to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				if c.hub.metrics != nil {
					c.hub.metrics.RecordWebSocketError()
				}
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketMessage(dashboardHub, n+1)
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) allows(department string) bool {
	return c.claims == nil || c.claims.IsDepartmentAllowed(department)
}

// FilterSnapshot narrows a snapshot to the agents in the client's departments.
// It returns nil if no agent is visible and snap itself if nothing was removed.
func (c *Client) FilterSnapshot(snap *types.Snapshot) *types.Snapshot {
	if c.claims == nil || c.claims.SeesAllDepartments() || len(snap.Agents) == 0 {
		return snap
	}

	var visible []types.Agent
	for _, a := range snap.Agents {
		if c.claims.IsDepartmentAllowed(a.Departments...) {
			visible = append(visible, a)
		}
	}
	if len(visible) == 0 {
		return nil
	}
	if len(visible) == len(snap.Agents) {
		return snap
	}

	return &types.Snapshot{
		Type:       snap.Type,
		Department: snap.Department,
		Timestamp:  snap.Timestamp,
		Summary:    types.Summarize(visible, snap.Summary.DepartmentBreakdown != nil),
		Agents:     visible,
	}
}
