package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/ingestion"
	"github.com/pytake/backend/internal/metrics"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
)

const agentHubName = "agent"

// AgentHub maintains the set of registered agent WebSocket connections
type AgentHub struct {
	// Registered agent clients
	agents map[string]*AgentClient // agentID -> client

	// Register requests from agent clients that completed registration
	register chan *AgentClient

	// Unregister requests from agent clients
	unregister chan *AgentClient

	// Heartbeat messages from agents
	heartbeat chan *types.AgentHeartbeat

	// Status updates from agents
	statusUpdate chan *types.StatusUpdate

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect agents map
	mu sync.RWMutex

	// Event processor (presence and status changes)
	processor ingestion.EventProcessor

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewAgentHub creates a new AgentHub. m may be nil.
func NewAgentHub(processor ingestion.EventProcessor, m *metrics.Metrics, logger zerolog.Logger) *AgentHub {
	return &AgentHub{
		agents:       make(map[string]*AgentClient),
		register:     make(chan *AgentClient),
		unregister:   make(chan *AgentClient),
		heartbeat:    make(chan *types.AgentHeartbeat, 1000),
		statusUpdate: make(chan *types.StatusUpdate, 500),
		done:         make(chan struct{}),
		processor:    processor,
		metrics:      m,
		logger:       logger.With().Str("component", "agent_hub").Logger(),
	}
}

// Run starts the hub's main loop. Status updates are applied in arrival order.
func (h *AgentHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.agents {
				delete(h.agents, id)
				client.Close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			// A newer socket for the same agent replaces the old one
			if existing, ok := h.agents[client.agentID]; ok {
				existing.Close()
				delete(h.agents, client.agentID)
				h.recordDisconnect()
			}
			h.agents[client.agentID] = client
			total := len(h.agents)
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.RecordWebSocketConnect(agentHubName)
			}
			h.logger.Debug().
				Str("agent_id", client.agentID).
				Int("total_agents", total).
				Msg("agent connected")

		case client := <-h.unregister:
			h.mu.Lock()
			existing, ok := h.agents[client.agentID]
			if ok && existing == client {
				delete(h.agents, client.agentID)
				client.Close()
				h.recordDisconnect()
			}
			total := len(h.agents)
			h.mu.Unlock()

			if ok && existing == client {
				h.processor.ProcessDisconnect(ctx, client.agentID)
				h.logger.Debug().
					Str("agent_id", client.agentID).
					Int("total_agents", total).
					Msg("agent disconnected")
			}

		case hb := <-h.heartbeat:
			h.processor.ProcessHeartbeat(ctx, hb)

		case su := <-h.statusUpdate:
			if err := h.processor.ProcessStatusUpdate(ctx, su); err != nil {
				h.logger.Warn().Err(err).Str("agent_id", su.AgentID).Msg("status update rejected")
				h.sendError(su.AgentID, err.Error())
			}
		}
	}
}

func (h *AgentHub) recordDisconnect() {
	if h.metrics != nil {
		h.metrics.RecordWebSocketDisconnect(agentHubName)
	}
}

func (h *AgentHub) add(client *AgentClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *AgentHub) drop(client *AgentClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ForwardAssignments pushes assignment and revoke frames to agent sockets
// whenever a conversation gains or changes its agent
func (h *AgentHub) ForwardAssignments(bus *events.Bus) {
	forward := func(_ context.Context, env events.Envelope) {
		var a events.Assignment
		if err := env.Decode(&a); err != nil {
			h.logger.Error().Err(err).Msg("failed to decode assignment event")
			return
		}
		h.sendJSON(a.Assignment.AgentID, types.ConversationAssign{
			Type:           types.MsgConversationAssign,
			AgentID:        a.Assignment.AgentID,
			ConversationID: a.ConversationID,
			Platform:       a.Platform,
			Priority:       a.Priority,
			Reason:         a.Assignment.Reason,
			Timestamp:      a.Assignment.AssignedAt,
		})
		if a.PreviousAgentID != "" && a.PreviousAgentID != a.Assignment.AgentID {
			h.sendJSON(a.PreviousAgentID, types.ConversationRevoke{
				Type:           types.MsgConversationRevoke,
				AgentID:        a.PreviousAgentID,
				ConversationID: a.ConversationID,
			})
		}
	}
	bus.Subscribe(events.TypeConversationAssigned, forward)
	bus.Subscribe(events.TypeConversationTransferred, forward)
}

// ForceDisconnect sends a force_disconnect message to the agent, then closes the connection
func (h *AgentHub) ForceDisconnect(agentID string) bool {
	// Send the message first
	h.sendJSON(agentID, types.ForceDisconnect{
		Type:    types.MsgForceDisconnect,
		AgentID: agentID,
	})

	// Then close the connection
	h.mu.Lock()
	client, ok := h.agents[agentID]
	if ok {
		delete(h.agents, agentID)
		client.Close()
		h.recordDisconnect()
	}
	h.mu.Unlock()

	if ok {
		h.processor.ProcessDisconnect(context.Background(), agentID)
		h.logger.Info().Str("agent_id", agentID).Msg("agent force-disconnected")
	}
	return ok
}

// AgentCount returns the number of connected agents
func (h *AgentHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// Connected reports whether agentID holds a registered socket
func (h *AgentHub) Connected(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.agents[agentID]
	return ok
}

// SendToAgent sends a message to a specific agent
func (h *AgentHub) SendToAgent(agentID string, message []byte) bool {
	h.mu.RLock()
	client, ok := h.agents[agentID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	sent := client.safeSend(message)
	if h.metrics != nil {
		if sent {
			h.metrics.RecordWebSocketMessage(agentHubName, 1)
		} else {
			h.metrics.RecordWebSocketError()
		}
	}
	return sent
}

func (h *AgentHub) sendJSON(agentID string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal agent frame")
		return false
	}
	return h.SendToAgent(agentID, data)
}

func (h *AgentHub) sendError(agentID, message string) {
	h.sendJSON(agentID, types.ServerError{Type: types.MsgError, Message: message})
}

// registerTimeout bounds the directory lookup made for a register message
const registerTimeout = 5 * time.Second
