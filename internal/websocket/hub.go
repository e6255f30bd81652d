package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/metrics"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

const dashboardHub = "dashboard"

// frameHeader is the part of a dashboard frame the hub filters on
type frameHeader struct {
	Type       string `json:"type"`
	Department string `json:"department,omitempty"`
}

// EventFrame forwards a lifecycle event to dashboards
type EventFrame struct {
	Type       string          `json:"type"` // "event"
	Department string          `json:"department,omitempty"`
	Event      events.Envelope `json:"event"`
}

// ConversationLookup resolves the conversation an event refers to
type ConversationLookup interface {
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
}

// Hub maintains the set of active dashboard clients and broadcasts frames to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound frames for the clients
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect clients map
	mu sync.RWMutex

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub creates a new Hub. m may be nil.
func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger.With().Str("component", "dashboard_hub").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.RecordWebSocketConnect(dashboardHub)
			}
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			var header frameHeader
			if err := json.Unmarshal(message, &header); err != nil {
				h.logger.Warn().Err(err).Msg("dropping malformed dashboard frame")
				continue
			}
			if header.Type == types.SnapshotGlobal {
				var snap types.Snapshot
				if err := json.Unmarshal(message, &snap); err == nil {
					h.broadcastSnapshot(&snap)
					continue
				}
			}
			h.broadcastTo(message, header.Department)
		}
	}
}

// Broadcast queues a frame for all permitted clients. Frames are dropped
// when the hub is saturated.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn().Msg("dashboard broadcast buffer full, dropping frame")
	}
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ForwardEvents subscribes the hub to every lifecycle event on bus. Events
// about a departmental conversation only reach supervisors of that department.
func (h *Hub) ForwardEvents(bus *events.Bus, lookup ConversationLookup) {
	bus.Subscribe("*", func(ctx context.Context, env events.Envelope) {
		frame := EventFrame{Type: types.FrameEvent, Event: env}
		if lookup != nil {
			var ref struct {
				ConversationID string `json:"conversationId"`
			}
			if err := env.Decode(&ref); err == nil && ref.ConversationID != "" {
				if conv, err := lookup.GetConversation(ctx, ref.ConversationID); err == nil {
					frame.Department = conv.Department
				}
			}
		}
		data, err := json.Marshal(frame)
		if err != nil {
			h.logger.Error().Err(err).Str("event_type", env.Meta.Type).Msg("failed to marshal event frame")
			return
		}
		h.Broadcast(data)
	})
}

// broadcastTo sends a frame to every client allowed to see department.
// An empty department reaches all clients.
func (h *Hub) broadcastTo(message []byte, department string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if department != "" && !client.allows(department) {
			continue
		}
		h.send(client, message)
	}
}

// broadcastSnapshot sends the global snapshot to each client after filtering
// its agents by the client's departments
func (h *Hub) broadcastSnapshot(snap *types.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var raw []byte
	for client := range h.clients {
		filtered := client.FilterSnapshot(snap)
		if filtered == nil {
			continue
		}

		var data []byte
		if filtered == snap {
			if raw == nil {
				var err error
				if raw, err = json.Marshal(snap); err != nil {
					h.logger.Error().Err(err).Msg("failed to marshal snapshot")
					return
				}
			}
			data = raw
		} else {
			var err error
			if data, err = json.Marshal(filtered); err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal filtered snapshot")
				continue
			}
		}
		h.send(client, data)
	}
}

// send must be called with h.mu held
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		// Client's send buffer is full, close and remove it
		h.remove(client)
		if h.metrics != nil {
			h.metrics.RecordWebSocketError()
		}
		h.logger.Warn().
			Str("client_id", client.id).
			Msg("client send buffer full, closing connection")
	}
}

// remove must be called with h.mu held
func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.RecordWebSocketDisconnect(dashboardHub)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}
