package server

import (
	"quorumline/internal/domain"
	"quorumline/internal/engine"
)

// Request payloads

type StrategyRequest struct {
	Type          string `json:"type" enum:"centralized,distributed,hierarchical,peer_to_peer"`
	CoordinatorID string `json:"coordinator_id,omitempty"`
	DecisionMode  string `json:"decision_mode,omitempty" enum:"simple_voting,weighted_voting,consensus,delegation"`
}

type ParticipantRequest struct {
	AgentID      string   `json:"agent_id"`
	RoleID       string   `json:"role_id,omitempty"`
	Status       string   `json:"status,omitempty" enum:"active,inactive,pending,completed,failed,cancelled"`
	Capabilities []string `json:"capabilities,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Weight       *float64 `json:"weight,omitempty" minimum:"0"`
}

type CreateCollaborationRequest struct {
	ID           *string              `json:"id,omitempty"`
	ContextRef   string               `json:"context_ref"`
	PlanRef      string               `json:"plan_ref"`
	Name         string               `json:"name"`
	Description  *string              `json:"description,omitempty"`
	Mode         string               `json:"mode" enum:"sequential,parallel,hybrid,pipeline,mesh"`
	Strategy     StrategyRequest      `json:"strategy"`
	Participants []ParticipantRequest `json:"participants,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
}

type UpdateCollaborationRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Mode        *string        `json:"mode,omitempty" enum:"sequential,parallel,hybrid,pipeline,mesh"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type SetParticipantStatusRequest struct {
	Status string `json:"status" enum:"active,inactive,pending,completed,failed,cancelled"`
}

type CoordinateRequest struct {
	Operation string `json:"operation" enum:"initiate,pause,resume,terminate,cancel,fail"`
	Reason    string `json:"reason,omitempty"`
}

type DecideRequest struct {
	ParticipantIDs []string           `json:"participant_ids,omitempty"`
	Strategy       string             `json:"strategy,omitempty" enum:"simple_voting,weighted_voting,consensus,delegation"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	Threshold      *float64           `json:"threshold,omitempty"`
	Delegate       string             `json:"delegate,omitempty"`
	TimeoutMS      int                `json:"timeout_ms,omitempty"`
	DryRun         bool               `json:"dry_run,omitempty"`
}

// Response payloads

type ParticipantResponse struct {
	ParticipantID string   `json:"participant_id"`
	AgentID       string   `json:"agent_id"`
	RoleID        string   `json:"role_id,omitempty"`
	Status        string   `json:"status" enum:"active,inactive,pending,completed,failed,cancelled"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Priority      int      `json:"priority,omitempty"`
	Weight        float64  `json:"weight"`
	JoinedAt      string   `json:"joined_at" format:"date-time"`
}

type StrategyResponse struct {
	Type          string `json:"type" enum:"centralized,distributed,hierarchical,peer_to_peer"`
	CoordinatorID string `json:"coordinator_id,omitempty"`
	DecisionMode  string `json:"decision_mode,omitempty" enum:"simple_voting,weighted_voting,consensus,delegation"`
}

type CollaborationResponse struct {
	ID           string                `json:"id"`
	ContextRef   string                `json:"context_ref"`
	PlanRef      string                `json:"plan_ref"`
	Name         string                `json:"name"`
	Description  string                `json:"description,omitempty"`
	Mode         string                `json:"mode" enum:"sequential,parallel,hybrid,pipeline,mesh"`
	Participants []ParticipantResponse `json:"participants"`
	Strategy     StrategyResponse      `json:"strategy"`
	Status       string                `json:"status" enum:"pending,active,inactive,completed,cancelled,failed"`
	CreatedBy    string                `json:"created_by"`
	Metadata     map[string]any        `json:"metadata,omitempty"`
	CreatedAt    string                `json:"created_at" format:"date-time"`
	UpdatedAt    string                `json:"updated_at" format:"date-time"`
}

type DecisionResponse struct {
	DecisionID       string            `json:"decision_id"`
	Result           string            `json:"result" enum:"approved,rejected"`
	ConsensusReached bool              `json:"consensus_reached"`
	Votes            map[string]string `json:"votes"`
	Timestamp        string            `json:"timestamp" format:"date-time"`
}

type CoordinationResponse struct {
	Collaboration CollaborationResponse `json:"collaboration"`
	Operation     string                `json:"operation"`
	Applied       bool                  `json:"applied"`
	Decision      *DecisionResponse     `json:"decision,omitempty"`
}

type EventResponse struct {
	ID              int64  `json:"id"`
	TS              string `json:"ts" format:"date-time"`
	Type            string `json:"type"`
	CollaborationID string `json:"collaboration_id,omitempty"`
	EntityKind      string `json:"entity_kind"`
	EntityID        string `json:"entity_id,omitempty"`
	ActorID         string `json:"actor_id"`
	Payload         string `json:"payload_json,omitempty"`
}

type paginatedCollaborations struct {
	Items      []CollaborationResponse `json:"items"`
	Total      int                     `json:"total"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Converters

func participantResponse(p domain.Participant) ParticipantResponse {
	return ParticipantResponse{
		ParticipantID: p.ParticipantID,
		AgentID:       p.AgentID,
		RoleID:        p.RoleID,
		Status:        string(p.Status),
		Capabilities:  p.Capabilities,
		Priority:      p.Priority,
		Weight:        p.Weight,
		JoinedAt:      p.JoinedAt,
	}
}

func collaborationResponse(c domain.Collaboration) CollaborationResponse {
	participants := make([]ParticipantResponse, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, participantResponse(p))
	}
	return CollaborationResponse{
		ID:           c.ID,
		ContextRef:   c.ContextRef,
		PlanRef:      c.PlanRef,
		Name:         c.Name,
		Description:  c.Description,
		Mode:         c.Mode,
		Participants: participants,
		Strategy: StrategyResponse{
			Type:          c.Strategy.Type,
			CoordinatorID: c.Strategy.CoordinatorID,
			DecisionMode:  c.Strategy.DecisionMode,
		},
		Status:    string(c.Status),
		CreatedBy: c.CreatedBy,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func mapCollaborations(items []domain.Collaboration) []CollaborationResponse {
	res := make([]CollaborationResponse, 0, len(items))
	for _, c := range items {
		res = append(res, collaborationResponse(c))
	}
	return res
}

func decisionResponse(d domain.DecisionResult) DecisionResponse {
	return DecisionResponse{
		DecisionID:       d.DecisionID,
		Result:           d.Result,
		ConsensusReached: d.ConsensusReached,
		Votes:            d.Votes,
		Timestamp:        d.Timestamp,
	}
}

func coordinationResponse(r engine.CoordinationResult) CoordinationResponse {
	resp := CoordinationResponse{
		Collaboration: collaborationResponse(r.Collaboration),
		Operation:     r.Operation,
		Applied:       r.Applied,
	}
	if r.Decision != nil {
		d := decisionResponse(*r.Decision)
		resp.Decision = &d
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:              e.ID,
		TS:              e.TS,
		Type:            e.Type,
		CollaborationID: e.CollaborationID,
		EntityKind:      e.EntityKind,
		EntityID:        e.EntityID,
		ActorID:         e.ActorID,
		Payload:         e.Payload,
	}
}

func participantOptions(req ParticipantRequest) engine.ParticipantOptions {
	return engine.ParticipantOptions{
		AgentID:      req.AgentID,
		RoleID:       req.RoleID,
		Status:       domain.ParticipantStatus(req.Status),
		Capabilities: req.Capabilities,
		Priority:     req.Priority,
		Weight:       req.Weight,
	}
}
