package domain

// Status is the collaboration lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// ParticipantStatus is tracked per participant, independent of the
// collaboration's own status.
type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantInactive  ParticipantStatus = "inactive"
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantFailed    ParticipantStatus = "failed"
	ParticipantCancelled ParticipantStatus = "cancelled"
)

var participantStatuses = map[ParticipantStatus]bool{
	ParticipantActive:    true,
	ParticipantInactive:  true,
	ParticipantPending:   true,
	ParticipantCompleted: true,
	ParticipantFailed:    true,
	ParticipantCancelled: true,
}

// ValidParticipantStatus reports whether s is a known participant status.
func ValidParticipantStatus(s ParticipantStatus) bool {
	return participantStatuses[s]
}

// Modes describe execution topology, not decision strategy.
var modes = map[string]bool{
	"sequential": true,
	"parallel":   true,
	"hybrid":     true,
	"pipeline":   true,
	"mesh":       true,
}

// ValidMode reports whether m is a known collaboration mode.
func ValidMode(m string) bool {
	return modes[m]
}

var strategyTypes = map[string]bool{
	"centralized":  true,
	"distributed":  true,
	"hierarchical": true,
	"peer_to_peer": true,
}

// CoordinationStrategy selects how the collaboration is driven.
type CoordinationStrategy struct {
	Type          string `json:"type" enum:"centralized,distributed,hierarchical,peer_to_peer"`
	CoordinatorID string `json:"coordinator_id,omitempty"`
	DecisionMode  string `json:"decision_mode,omitempty" enum:"simple_voting,weighted_voting,consensus,delegation"`
}

// Validate checks structural requirements of the strategy. A centralized
// strategy must name its coordinator.
func (s CoordinationStrategy) Validate() error {
	if !strategyTypes[s.Type] {
		return ValidationError{Field: "strategy.type", Reason: "must be one of centralized, distributed, hierarchical, peer_to_peer"}
	}
	if s.Type == "centralized" && s.CoordinatorID == "" {
		return ValidationError{Field: "strategy.coordinator_id", Reason: "required for centralized strategy"}
	}
	if s.Type != "centralized" && s.CoordinatorID != "" {
		return ValidationError{Field: "strategy.coordinator_id", Reason: "only valid for centralized strategy"}
	}
	return nil
}

// Participant is owned by its collaboration; it is created and destroyed
// only through the aggregate's roster operations.
type Participant struct {
	ParticipantID string            `json:"participant_id"`
	AgentID       string            `json:"agent_id"`
	RoleID        string            `json:"role_id,omitempty"`
	Status        ParticipantStatus `json:"status" enum:"active,inactive,pending,completed,failed,cancelled"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Priority      int               `json:"priority,omitempty"`
	Weight        float64           `json:"weight"`
	JoinedAt      string            `json:"joined_at" format:"date-time"`
}

// Collaboration is the aggregate root: the record plus its owned
// participant roster, treated as one consistency boundary.
type Collaboration struct {
	ID           string               `json:"id"`
	ContextRef   string               `json:"context_ref"`
	PlanRef      string               `json:"plan_ref"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	Mode         string               `json:"mode" enum:"sequential,parallel,hybrid,pipeline,mesh"`
	Participants []Participant        `json:"participants"`
	Strategy     CoordinationStrategy `json:"strategy"`
	Status       Status               `json:"status" enum:"pending,active,inactive,completed,cancelled,failed"`
	CreatedBy    string               `json:"created_by"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
	CreatedAt    string               `json:"created_at" format:"date-time"`
	UpdatedAt    string               `json:"updated_at" format:"date-time"`
}

// Validate checks construction invariants of the aggregate record itself.
// Roster-size rules are enforced by the roster operations and Start.
func (c *Collaboration) Validate() error {
	if c.Name == "" {
		return ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if c.ContextRef == "" {
		return ValidationError{Field: "context_ref", Reason: "required"}
	}
	if c.PlanRef == "" {
		return ValidationError{Field: "plan_ref", Reason: "required"}
	}
	if c.CreatedBy == "" {
		return ValidationError{Field: "created_by", Reason: "required"}
	}
	if !ValidMode(c.Mode) {
		return ValidationError{Field: "mode", Reason: "must be one of sequential, parallel, hybrid, pipeline, mesh"}
	}
	return c.Strategy.Validate()
}

// ActiveParticipants counts roster members whose status is active.
func (c *Collaboration) ActiveParticipants() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantActive {
			n++
		}
	}
	return n
}

// FindParticipant returns the roster index for a participant id, or -1.
func (c *Collaboration) FindParticipant(participantID string) int {
	for i, p := range c.Participants {
		if p.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

// FindAgent returns the roster index for an agent id, or -1.
func (c *Collaboration) FindAgent(agentID string) int {
	for i, p := range c.Participants {
		if p.AgentID == agentID {
			return i
		}
	}
	return -1
}

// DecisionResult is the transient outcome of one decision round.
// ConsensusReached mirrors the approval outcome for every strategy; it
// means "the collective decided", not a consensus protocol specifically.
type DecisionResult struct {
	DecisionID       string            `json:"decision_id"`
	Result           string            `json:"result" enum:"approved,rejected"`
	ConsensusReached bool              `json:"consensus_reached"`
	Votes            map[string]string `json:"votes"`
	Timestamp        string            `json:"timestamp" format:"date-time"`
}

// Approved reports whether the round approved the proposal.
func (r DecisionResult) Approved() bool { return r.Result == "approved" }

// Event is one entry of the append-only event log.
type Event struct {
	ID              int64  `json:"id"`
	TS              string `json:"ts" format:"date-time"`
	Type            string `json:"type"`
	CollaborationID string `json:"collaboration_id,omitempty"`
	EntityKind      string `json:"entity_kind"`
	EntityID        string `json:"entity_id,omitempty"`
	ActorID         string `json:"actor_id"`
	Payload         string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
