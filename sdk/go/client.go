package quorumlinesdk

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
)

// Client is a minimal Quorumline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Participant represents a roster entry.
type Participant struct {
	ParticipantID string   `json:"participant_id"`
	AgentID       string   `json:"agent_id"`
	RoleID        string   `json:"role_id,omitempty"`
	Status        string   `json:"status"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Priority      int      `json:"priority,omitempty"`
	Weight        float64  `json:"weight"`
	JoinedAt      string   `json:"joined_at"`
}

// Strategy describes how a collaboration is coordinated.
type Strategy struct {
	Type          string `json:"type"`
	CoordinatorID string `json:"coordinator_id,omitempty"`
	DecisionMode  string `json:"decision_mode,omitempty"`
}

// Collaboration represents the API collaboration model.
type Collaboration struct {
	ID           string         `json:"id"`
	ContextRef   string         `json:"context_ref"`
	PlanRef      string         `json:"plan_ref"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Mode         string         `json:"mode"`
	Participants []Participant  `json:"participants"`
	Strategy     Strategy       `json:"strategy"`
	Status       string         `json:"status"`
	CreatedBy    string         `json:"created_by"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// Decision represents a decision round outcome.
type Decision struct {
	DecisionID       string            `json:"decision_id"`
	Result           string            `json:"result"`
	ConsensusReached bool              `json:"consensus_reached"`
	Votes            map[string]string `json:"votes"`
	Timestamp        string            `json:"timestamp"`
}

// Coordination represents a coordination operation outcome.
type Coordination struct {
	Collaboration Collaboration `json:"collaboration"`
	Operation     string        `json:"operation"`
	Applied       bool          `json:"applied"`
	Decision      *Decision     `json:"decision,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID              int64  `json:"id"`
	TS              string `json:"ts"`
	Type            string `json:"type"`
	CollaborationID string `json:"collaboration_id,omitempty"`
	EntityKind      string `json:"entity_kind"`
	EntityID        string `json:"entity_id,omitempty"`
	ActorID         string `json:"actor_id"`
	Payload         string `json:"payload_json,omitempty"`
}

// CreateCollaborationRequest is the create payload.
type CreateCollaborationRequest struct {
	ID           string              `json:"id,omitempty"`
	ContextRef   string              `json:"context_ref"`
	PlanRef      string              `json:"plan_ref"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Mode         string              `json:"mode"`
	Strategy     Strategy            `json:"strategy"`
	Participants []CreateParticipant `json:"participants,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// CreateParticipant is the roster entry payload on create and add.
// CreateParticipant describes one roster member to add. A nil Weight
// takes the server default of 1.0; zero is a valid explicit weight.
type CreateParticipant struct {
	AgentID      string   `json:"agent_id"`
	RoleID       string   `json:"role_id,omitempty"`
	Status       string   `json:"status,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Weight       *float64 `json:"weight,omitempty"`
}

// DecideRequest is the decision round payload.
type DecideRequest struct {
	ParticipantIDs []string           `json:"participant_ids,omitempty"`
	Strategy       string             `json:"strategy,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	Threshold      *float64           `json:"threshold,omitempty"`
	Delegate       string             `json:"delegate,omitempty"`
	TimeoutMS      int                `json:"timeout_ms,omitempty"`
	DryRun         bool               `json:"dry_run,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedCollaborations wraps list responses with cursors.
type PaginatedCollaborations struct {
	Items      []Collaboration `json:"items"`
	Total      int             `json:"total"`
	NextCursor string          `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateCollaboration creates a collaboration in pending status.
func (c *Client) CreateCollaboration(ctx context.Context, req CreateCollaborationRequest) (Collaboration, error) {
	var resp Collaboration
	err := c.do(ctx, http.MethodPost, "v0/collaborations", req, &resp)
	return resp, err
}

// GetCollaboration fetches a collaboration by id.
func (c *Client) GetCollaboration(ctx context.Context, id string) (Collaboration, error) {
	var resp Collaboration
	err := c.do(ctx, http.MethodGet, c.collabPath(id, ""), nil, &resp)
	return resp, err
}

// ListCollaborations returns a filtered page of collaborations. Filters may
// include status, mode, context_ref, created_by, limit, and cursor.
func (c *Client) ListCollaborations(ctx context.Context, filters map[string]string) (PaginatedCollaborations, error) {
	endpoint := "v0/collaborations"
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			if v != "" {
				q.Set(k, v)
			}
		}
		if enc := q.Encode(); enc != "" {
			endpoint += "?" + enc
		}
	}
	var resp PaginatedCollaborations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteCollaboration removes a collaboration; its event history remains.
func (c *Client) DeleteCollaboration(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.collabPath(id, ""), nil, nil)
}

// AddParticipant adds an agent to the roster.
func (c *Client) AddParticipant(ctx context.Context, collaborationID string, p CreateParticipant) (Collaboration, error) {
	var resp Collaboration
	err := c.do(ctx, http.MethodPost, c.collabPath(collaborationID, "participants"), p, &resp)
	return resp, err
}

// RemoveParticipant removes a roster entry.
func (c *Client) RemoveParticipant(ctx context.Context, collaborationID, participantID string) (Collaboration, error) {
	var resp Collaboration
	endpoint := c.collabPath(collaborationID, "participants/"+url.PathEscape(participantID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// Coordinate runs a lifecycle operation (initiate, pause, resume, terminate,
// cancel, fail). When the strategy carries a decision mode, initiate and
// terminate are gated by a vote; a rejected vote leaves Applied false.
func (c *Client) Coordinate(ctx context.Context, collaborationID, operation, reason string) (Coordination, error) {
	body := map[string]any{"operation": operation}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Coordination
	err := c.do(ctx, http.MethodPost, c.collabPath(collaborationID, "coordinate"), body, &resp)
	return resp, err
}

// Decide runs a decision round over the roster.
func (c *Client) Decide(ctx context.Context, collaborationID string, req DecideRequest) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, c.collabPath(collaborationID, "decide"), req, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) collabPath(id, sub string) string {
	p := fmt.Sprintf("v0/collaborations/%s", url.PathEscape(id))
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
