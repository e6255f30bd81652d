package directory

import (
	"sort"
	"sync"
	"time"
)

const (
	// StaleThreshold is the duration after which an agent socket is considered stale (3 missed heartbeats)
	StaleThreshold = 90 * time.Second
)

// ConnectionStatus tracks an agent's live socket
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusStale        ConnectionStatus = "stale"
	StatusDisconnected ConnectionStatus = "disconnected"
)

type presenceEntry struct {
	status        ConnectionStatus
	lastHeartbeat time.Time
}

// Presence tracks which agents hold a live socket, independent of where agent records live
type Presence struct {
	entries map[string]*presenceEntry
	mu      sync.RWMutex
	now     func() time.Time
}

func NewPresence() *Presence {
	return &Presence{
		entries: make(map[string]*presenceEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (p *Presence) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetConnected updates the connection status of an agent
func (p *Presence) SetConnected(agentID string, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := StatusDisconnected
	if connected {
		status = StatusConnected
	}
	// lastHeartbeat also records when a disconnect happened, for cleanup
	p.entries[agentID] = &presenceEntry{status: status, lastHeartbeat: p.now()}
}

// Heartbeat refreshes a connected agent's liveness
func (p *Presence) Heartbeat(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[agentID]; ok && e.status != StatusDisconnected {
		e.status = StatusConnected
		e.lastHeartbeat = p.now()
	}
}

// CheckStale marks connected agents without a recent heartbeat as stale
// and returns the ids that changed
func (p *Presence) CheckStale() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.now().Add(-StaleThreshold)
	var stale []string
	for id, e := range p.entries {
		if e.status == StatusConnected && e.lastHeartbeat.Before(threshold) {
			e.status = StatusStale
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// RemoveDisconnected forgets agents that have been disconnected for longer
// than maxAge and returns their ids
func (p *Presence) RemoveDisconnected(maxAge time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.now().Add(-maxAge)
	var removed []string
	for id, e := range p.entries {
		if e.status == StatusDisconnected && e.lastHeartbeat.Before(threshold) {
			delete(p.entries, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Status returns the connection status of an agent
func (p *Presence) Status(agentID string) (ConnectionStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[agentID]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Stats returns connection statistics
func (p *Presence) Stats() (connected, stale, disconnected int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, e := range p.entries {
		switch e.status {
		case StatusConnected:
			connected++
		case StatusStale:
			stale++
		case StatusDisconnected:
			disconnected++
		}
	}
	return
}
