// Package client is a small HTTP client for the routing API, used by routectl
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pytake/backend/internal/types"
)

// APIError is a non-2xx response from the backend
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Client provides access to the routing API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new client. token may be empty when auth is disabled.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// do sends body as JSON and decodes the response into out when out is non-nil
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code = payload.Error, payload.Code
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Agent is an agent record as the API returns it
type Agent struct {
	types.Agent
	Connection string `json:"connection,omitempty"`
}

// ListAgents lists agents, optionally filtered by status
func (c *Client) ListAgents(ctx context.Context, status types.AgentStatus) ([]Agent, error) {
	path := "/api/agents"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var agents []Agent
	err := c.do(ctx, http.MethodGet, path, nil, &agents)
	return agents, err
}

// SetAgentStatus changes an agent's status
func (c *Client) SetAgentStatus(ctx context.Context, agentID string, status types.AgentStatus) (*Agent, error) {
	var agent Agent
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/status",
		map[string]types.AgentStatus{"status": status}, &agent)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetConversation fetches one conversation
func (c *Client) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var conv types.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AssignConversation assigns id to agentID, or routes it automatically when
// agentID is empty. A nil result means no agent was available.
func (c *Client) AssignConversation(ctx context.Context, id, agentID string) (*types.AssignmentResult, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(id)+"/assign",
		map[string]string{"agentId": agentID}, &raw)
	if err != nil {
		return nil, err
	}
	var shape struct {
		Assigned *bool `json:"assigned"`
	}
	if json.Unmarshal(raw, &shape) == nil && shape.Assigned != nil && !*shape.Assigned {
		return nil, nil
	}
	var res types.AssignmentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}

// TransferConversation moves id to agentID
func (c *Client) TransferConversation(ctx context.Context, id, agentID, note string) (*types.AssignmentResult, error) {
	var res types.AssignmentResult
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(id)+"/transfer",
		map[string]string{"agentId": agentID, "note": note}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// EscalateConversation escalates id, optionally into department
func (c *Client) EscalateConversation(ctx context.Context, id, reason, department string) (*types.Conversation, error) {
	var conv types.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(id)+"/escalate",
		map[string]string{"reason": reason, "department": department}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// InboundResult is the webhook response
type InboundResult struct {
	ConversationID string                   `json:"conversationId"`
	Created        bool                     `json:"created"`
	Status         types.ConversationStatus `json:"status"`
	AgentID        string                   `json:"agentId,omitempty"`
}

// SendInbound posts a customer message as if it came from the platform webhook
func (c *Client) SendInbound(ctx context.Context, msg types.InboundMessage) (*InboundResult, error) {
	var res InboundResult
	err := c.do(ctx, http.MethodPost, "/webhooks/"+url.PathEscape(string(msg.Platform))+"/messages", msg, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SweepResult is the admin sweep response
type SweepResult struct {
	Assigned    int       `json:"assigned"`
	Unassigned  int       `json:"unassigned"`
	Breaches    int       `json:"breaches"`
	FailedOver  int       `json:"failedOver"`
	Errors      int       `json:"errors"`
	DurationMs  int64     `json:"durationMs"`
	CompletedAt time.Time `json:"completedAt"`
}

// Sweep runs one sweeper pass on the server
func (c *Client) Sweep(ctx context.Context) (*SweepResult, error) {
	var res SweepResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/sweep", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReloadRules asks the server to reload its rules file
func (c *Client) ReloadRules(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/admin/rules/reload", nil, nil)
}
