package engine

import (
	"context"
	"time"

	"quorumline/internal/decision"
	"quorumline/internal/domain"
	"quorumline/internal/events"
)

// Coordination operations accepted by Coordinate.
const (
	OpInitiate  = "initiate"
	OpPause     = "pause"
	OpResume    = "resume"
	OpTerminate = "terminate"
	OpCancel    = "cancel"
	OpFail      = "fail"
)

var coordinationEvents = map[string]string{
	OpInitiate:  events.CollaborationStarted,
	OpPause:     events.CollaborationPaused,
	OpResume:    events.CollaborationResumed,
	OpTerminate: events.CollaborationCompleted,
	OpCancel:    events.CollaborationCancelled,
	OpFail:      events.CollaborationFailed,
}

// CoordinateOptions are parameters for one coordination call.
type CoordinateOptions struct {
	CollaborationID string
	Operation       string
	Reason          string
	ActorID         string
}

// CoordinationResult reports what the call did. Applied is false when a
// gating decision rejected the operation; nothing was persisted or
// published in that case.
type CoordinationResult struct {
	Collaboration domain.Collaboration   `json:"collaboration"`
	Operation     string                 `json:"operation"`
	Applied       bool                   `json:"applied"`
	Decision      *domain.DecisionResult `json:"decision,omitempty"`
}

// Coordinate drives the collaboration lifecycle. When the strategy
// carries a decision mode, initiate and terminate are put to a vote
// first; the other operations are administrative and apply directly.
func (e Engine) Coordinate(ctx context.Context, opts CoordinateOptions) (CoordinationResult, error) {
	evtType, ok := coordinationEvents[opts.Operation]
	if !ok {
		return CoordinationResult{}, domain.ValidationError{Field: "operation", Reason: "must be one of initiate, pause, resume, terminate, cancel, fail"}
	}

	unlock := e.lock(opts.CollaborationID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CoordinationResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCollaborationTx(ctx, tx, opts.CollaborationID)
	if err != nil {
		return CoordinationResult{}, err
	}
	res := CoordinationResult{Operation: opts.Operation}

	var gate *domain.DecisionResult
	if c.Strategy.DecisionMode != "" && (opts.Operation == OpInitiate || opts.Operation == OpTerminate) {
		d, err := e.gatingDecision(ctx, c, opts.Operation)
		if err != nil {
			return CoordinationResult{}, err
		}
		gate = &d
		if !d.Approved() {
			res.Collaboration = c
			res.Decision = gate
			return res, nil
		}
		// A decision-coupled operation is recorded as one coordination
		// event; the applied status travels in the payload.
		evtType = events.CoordinationCompleted
	}

	now := e.nowRFC3339()
	switch opts.Operation {
	case OpInitiate:
		err = c.Start(now)
	case OpPause:
		err = c.Pause(now)
	case OpResume:
		err = c.Resume(now)
	case OpTerminate:
		err = c.Complete(now)
	case OpCancel:
		err = c.Cancel(now)
	case OpFail:
		c.Fail(opts.Reason, now)
	}
	if err != nil {
		return CoordinationResult{}, err
	}

	if err := e.Repo.UpdateCollaboration(ctx, tx, c); err != nil {
		return CoordinationResult{}, err
	}
	payload := events.EventPayload{"operation": opts.Operation, "status": c.Status}
	if opts.Reason != "" {
		payload["reason"] = opts.Reason
	}
	if gate != nil {
		payload["decision_id"] = gate.DecisionID
		payload["decision"] = gate.Result
	}
	if err := e.Events.Append(ctx, tx, evtType, c.ID, "collaboration", c.ID, opts.ActorID, payload); err != nil {
		return CoordinationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CoordinationResult{}, err
	}
	e.publish(evtType, c.ID, "collaboration", c.ID, opts.ActorID, payload)

	res.Collaboration = c
	res.Applied = true
	res.Decision = gate
	return res, nil
}

// gatingDecision puts a lifecycle operation to the roster under the
// collaboration's own decision mode. Weights and threshold come from
// the roster and metadata; the coordinator acts as delegate when one
// is named.
func (e Engine) gatingDecision(ctx context.Context, c domain.Collaboration, operation string) (domain.DecisionResult, error) {
	voters := activeRoster(c)
	strategy := decision.Strategy(c.Strategy.DecisionMode)
	req := decision.Request{
		ContextRef:   c.ContextRef,
		Participants: voters,
		Strategy:     strategy,
		Params: decision.Params{
			Delegate: c.Strategy.CoordinatorID,
		},
	}
	if strategy == decision.WeightedVoting {
		req.Params.Weights = rosterWeights(voters)
	}
	if strategy == decision.Consensus {
		req.Params.Threshold = consensusThreshold(c)
	}
	return e.decisionEngine().Decide(ctx, req, e.voteSource())
}

func (e Engine) voteSource() decision.VoteSource {
	if e.Votes != nil {
		return e.Votes
	}
	return decision.Static(decision.VoteYes)
}

func activeRoster(c domain.Collaboration) []domain.Participant {
	var out []domain.Participant
	for _, p := range c.Participants {
		if p.Status == domain.ParticipantActive {
			out = append(out, p)
		}
	}
	return out
}

func rosterWeights(ps []domain.Participant) map[string]float64 {
	w := make(map[string]float64, len(ps))
	for _, p := range ps {
		w[p.AgentID] = p.Weight
	}
	return w
}

// consensusThreshold reads an optional per-collaboration override from
// metadata and otherwise requires full agreement.
func consensusThreshold(c domain.Collaboration) *float64 {
	t := 1.0
	if raw, ok := c.Metadata["consensus_threshold"]; ok {
		if f, ok := raw.(float64); ok {
			t = f
		}
	}
	return &t
}

// decideTimeout converts a millisecond override into Params.Timeout.
func decideTimeout(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
