// Package engine is the orchestration façade: every collaboration
// mutation flows through it so that persistence, the event log, and
// post-commit publication stay in lockstep. One transaction, one event
// row, one publication per successful mutation.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorumline/internal/config"
	"quorumline/internal/decision"
	"quorumline/internal/domain"
	"quorumline/internal/events"
	"quorumline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *events.Bus
	Config *config.Config
	// Votes is the seam where a deployment plugs in its voting
	// transport. The default approves everything, which suits local
	// development and nothing else.
	Votes decision.VoteSource
	Now   func() time.Time
	NewID func() string

	locks *lockTable
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Bus:    &events.Bus{},
		Config: cfg,
		Votes:  decision.Static(decision.VoteYes),
		Now:    time.Now,
		NewID:  uuid.NewString,
		locks:  &lockTable{},
	}
}

// lockTable serializes mutations per collaboration id. The engine is
// copied by value, so the table lives behind a pointer.
type lockTable struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (t *lockTable) acquire(id string) func() {
	t.mu.Lock()
	if t.m == nil {
		t.m = map[string]*sync.Mutex{}
	}
	l, ok := t.m[id]
	if !ok {
		l = &sync.Mutex{}
		t.m[id] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e Engine) lock(id string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.acquire(id)
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) maxParticipants() int {
	if e.Config != nil && e.Config.Limits.MaxParticipants > 0 {
		return e.Config.Limits.MaxParticipants
	}
	return 100
}

func (e Engine) decisionEngine() decision.Engine {
	var timeout time.Duration
	if e.Config != nil && e.Config.Decision.TimeoutMS > 0 {
		timeout = time.Duration(e.Config.Decision.TimeoutMS) * time.Millisecond
	}
	return decision.Engine{NewID: e.NewID, Now: e.Now, Timeout: timeout}
}

// publish hands a committed mutation to in-process subscribers. Best
// effort only; the durable record is the event log row.
func (e Engine) publish(evtType, collaborationID, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.Bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	e.Bus.Publish(domain.Event{
		TS:              e.nowRFC3339(),
		Type:            evtType,
		CollaborationID: collaborationID,
		EntityKind:      entityKind,
		EntityID:        entityID,
		ActorID:         actorID,
		Payload:         string(data),
	})
}

// ParticipantOptions describe one roster member at creation or addition.
// Weight is a pointer so an explicit zero survives; nil means 1.0.
type ParticipantOptions struct {
	AgentID      string
	RoleID       string
	Status       domain.ParticipantStatus
	Capabilities []string
	Priority     int
	Weight       *float64
}

func (e Engine) buildParticipant(opts ParticipantOptions, now string) domain.Participant {
	status := opts.Status
	if status == "" {
		status = domain.ParticipantActive
	}
	weight := 1.0
	if opts.Weight != nil {
		weight = *opts.Weight
	}
	return domain.Participant{
		ParticipantID: e.newID(),
		AgentID:       opts.AgentID,
		RoleID:        opts.RoleID,
		Status:        status,
		Capabilities:  opts.Capabilities,
		Priority:      opts.Priority,
		Weight:        weight,
		JoinedAt:      now,
	}
}

// CreateOptions are parameters for creating a collaboration.
type CreateOptions struct {
	ID           string
	ContextRef   string
	PlanRef      string
	Name         string
	Description  string
	Mode         string
	Strategy     domain.CoordinationStrategy
	Participants []ParticipantOptions
	Metadata     map[string]any
	ActorID      string
}

// CreateCollaboration builds the aggregate in pending status. The roster
// may start below the activation floor; Start enforces it later.
func (e Engine) CreateCollaboration(ctx context.Context, opts CreateOptions) (domain.Collaboration, error) {
	now := e.nowRFC3339()
	id := opts.ID
	if id == "" {
		id = e.newID()
	} else {
		exists, err := e.Repo.CollaborationExists(ctx, id)
		if err != nil {
			return domain.Collaboration{}, err
		}
		if exists {
			return domain.Collaboration{}, domain.ValidationError{Field: "id", Reason: "already exists"}
		}
	}
	c := domain.Collaboration{
		ID:          id,
		ContextRef:  opts.ContextRef,
		PlanRef:     opts.PlanRef,
		Name:        opts.Name,
		Description: opts.Description,
		Mode:        opts.Mode,
		Strategy:    opts.Strategy,
		Status:      domain.StatusPending,
		CreatedBy:   opts.ActorID,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.Validate(); err != nil {
		return domain.Collaboration{}, err
	}
	for _, po := range opts.Participants {
		if err := c.AddParticipant(e.buildParticipant(po, now), e.maxParticipants(), now); err != nil {
			return domain.Collaboration{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collaboration{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCollaboration(ctx, tx, c); err != nil {
		return domain.Collaboration{}, fmt.Errorf("insert collaboration: %w", err)
	}
	payload := events.EventPayload{"name": c.Name, "status": c.Status, "participants": len(c.Participants)}
	if err := e.Events.Append(ctx, tx, events.CollaborationCreated, c.ID, "collaboration", c.ID, opts.ActorID, payload); err != nil {
		return domain.Collaboration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collaboration{}, err
	}
	e.publish(events.CollaborationCreated, c.ID, "collaboration", c.ID, opts.ActorID, payload)
	return c, nil
}

func (e Engine) GetCollaboration(ctx context.Context, id string) (domain.Collaboration, error) {
	return e.Repo.GetCollaboration(ctx, id)
}

// UpdateOptions carry the mutable descriptive fields. Nil pointers leave
// the current value untouched; Metadata, when present, replaces the map
// wholesale.
type UpdateOptions struct {
	Name        *string
	Description *string
	Mode        *string
	Metadata    map[string]any
	ActorID     string
}

func (e Engine) UpdateCollaboration(ctx context.Context, id string, opts UpdateOptions) (domain.Collaboration, error) {
	unlock := e.lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collaboration{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCollaborationTx(ctx, tx, id)
	if err != nil {
		return domain.Collaboration{}, err
	}
	if c.Status.Terminal() {
		return domain.Collaboration{}, domain.StateError{Current: c.Status, Op: "update"}
	}
	if opts.Name != nil {
		c.Name = *opts.Name
	}
	if opts.Description != nil {
		c.Description = *opts.Description
	}
	if opts.Mode != nil {
		c.Mode = *opts.Mode
	}
	if opts.Metadata != nil {
		c.Metadata = opts.Metadata
	}
	if err := c.Validate(); err != nil {
		return domain.Collaboration{}, err
	}
	c.UpdatedAt = e.nowRFC3339()

	if err := e.Repo.UpdateCollaboration(ctx, tx, c); err != nil {
		return domain.Collaboration{}, err
	}
	payload := events.EventPayload{"name": c.Name}
	if err := e.Events.Append(ctx, tx, events.CollaborationUpdated, c.ID, "collaboration", c.ID, opts.ActorID, payload); err != nil {
		return domain.Collaboration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collaboration{}, err
	}
	e.publish(events.CollaborationUpdated, c.ID, "collaboration", c.ID, opts.ActorID, payload)
	return c, nil
}

// QueryResult pairs a page of collaborations with the unpaged total.
type QueryResult struct {
	Items []domain.Collaboration
	Total int
}

func (e Engine) QueryCollaborations(ctx context.Context, f repo.Filters) (QueryResult, error) {
	items, err := e.Repo.ListCollaborations(ctx, f)
	if err != nil {
		return QueryResult{}, err
	}
	total, err := e.Repo.CountCollaborations(ctx, f)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Items: items, Total: total}, nil
}

func (e Engine) AddParticipant(ctx context.Context, collaborationID string, opts ParticipantOptions, actorID string) (domain.Collaboration, error) {
	unlock := e.lock(collaborationID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collaboration{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCollaborationTx(ctx, tx, collaborationID)
	if err != nil {
		return domain.Collaboration{}, err
	}
	now := e.nowRFC3339()
	p := e.buildParticipant(opts, now)
	if err := c.AddParticipant(p, e.maxParticipants(), now); err != nil {
		return domain.Collaboration{}, err
	}
	if err := e.Repo.UpdateCollaboration(ctx, tx, c); err != nil {
		return domain.Collaboration{}, err
	}
	payload := events.EventPayload{"agent_id": p.AgentID, "status": p.Status}
	if err := e.Events.Append(ctx, tx, events.ParticipantAdded, c.ID, "participant", p.ParticipantID, actorID, payload); err != nil {
		return domain.Collaboration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collaboration{}, err
	}
	e.publish(events.ParticipantAdded, c.ID, "participant", p.ParticipantID, actorID, payload)
	return c, nil
}

func (e Engine) RemoveParticipant(ctx context.Context, collaborationID, participantID, actorID string) (domain.Collaboration, error) {
	unlock := e.lock(collaborationID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collaboration{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCollaborationTx(ctx, tx, collaborationID)
	if err != nil {
		return domain.Collaboration{}, err
	}
	if err := c.RemoveParticipant(participantID, e.nowRFC3339()); err != nil {
		return domain.Collaboration{}, err
	}
	if err := e.Repo.UpdateCollaboration(ctx, tx, c); err != nil {
		return domain.Collaboration{}, err
	}
	payload := events.EventPayload{"participant_id": participantID}
	if err := e.Events.Append(ctx, tx, events.ParticipantRemoved, c.ID, "participant", participantID, actorID, payload); err != nil {
		return domain.Collaboration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collaboration{}, err
	}
	e.publish(events.ParticipantRemoved, c.ID, "participant", participantID, actorID, payload)
	return c, nil
}

func (e Engine) UpdateParticipantStatus(ctx context.Context, collaborationID, participantID string, status domain.ParticipantStatus, actorID string) (domain.Collaboration, error) {
	unlock := e.lock(collaborationID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collaboration{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCollaborationTx(ctx, tx, collaborationID)
	if err != nil {
		return domain.Collaboration{}, err
	}
	if err := c.SetParticipantStatus(participantID, status, e.nowRFC3339()); err != nil {
		return domain.Collaboration{}, err
	}
	if err := e.Repo.UpdateCollaboration(ctx, tx, c); err != nil {
		return domain.Collaboration{}, err
	}
	payload := events.EventPayload{"participant_id": participantID, "status": status}
	if err := e.Events.Append(ctx, tx, events.ParticipantStatusUpdated, c.ID, "participant", participantID, actorID, payload); err != nil {
		return domain.Collaboration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collaboration{}, err
	}
	e.publish(events.ParticipantStatusUpdated, c.ID, "participant", participantID, actorID, payload)
	return c, nil
}

// DeleteCollaboration removes the aggregate. The event log keeps its
// history; only the record and roster go.
func (e Engine) DeleteCollaboration(ctx context.Context, id, actorID string) error {
	unlock := e.lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteCollaboration(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.CollaborationDeleted, id, "collaboration", id, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(events.CollaborationDeleted, id, "collaboration", id, actorID, nil)
	return nil
}
