package engine

import (
	"context"

	"quorumline/internal/decision"
	"quorumline/internal/domain"
	"quorumline/internal/events"
)

// DecideOptions are parameters for a standalone decision round.
type DecideOptions struct {
	CollaborationID string
	// ParticipantIDs optionally restricts the electorate to a roster
	// subset; the active roster votes when empty.
	ParticipantIDs []string
	// Strategy overrides the collaboration's decision mode.
	Strategy  decision.Strategy
	Weights   map[string]float64
	Threshold *float64
	Delegate  string
	TimeoutMS int
	// DryRun runs the round without recording it.
	DryRun  bool
	ActorID string
}

// Decide runs a decision round against the collaboration's roster and,
// unless DryRun is set, records the outcome in the event log. The
// aggregate itself is never mutated; decisions are transient results
// with a durable audit trail.
func (e Engine) Decide(ctx context.Context, opts DecideOptions) (domain.DecisionResult, error) {
	c, err := e.Repo.GetCollaboration(ctx, opts.CollaborationID)
	if err != nil {
		return domain.DecisionResult{}, err
	}

	voters, err := resolveVoters(c, opts.ParticipantIDs)
	if err != nil {
		return domain.DecisionResult{}, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = decision.Strategy(c.Strategy.DecisionMode)
	}
	if strategy == "" && e.Config != nil {
		strategy = decision.Strategy(e.Config.Decision.DefaultStrategy)
	}

	params := decision.Params{
		Weights:   opts.Weights,
		Threshold: opts.Threshold,
		Delegate:  opts.Delegate,
		Timeout:   decideTimeout(opts.TimeoutMS),
	}
	if strategy == decision.WeightedVoting && params.Weights == nil {
		params.Weights = rosterWeights(voters)
	}
	if strategy == decision.Consensus && params.Threshold == nil {
		params.Threshold = consensusThreshold(c)
	}
	if strategy == decision.Delegation && params.Delegate == "" {
		params.Delegate = c.Strategy.CoordinatorID
	}

	result, err := e.decisionEngine().Decide(ctx, decision.Request{
		ContextRef:   c.ContextRef,
		Participants: voters,
		Strategy:     strategy,
		Params:       params,
	}, e.voteSource())
	if err != nil {
		return domain.DecisionResult{}, err
	}
	if opts.DryRun {
		return result, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DecisionResult{}, err
	}
	defer tx.Rollback()

	payload := events.EventPayload{
		"decision_id": result.DecisionID,
		"strategy":    strategy,
		"result":      result.Result,
		"votes":       result.Votes,
	}
	if err := e.Events.Append(ctx, tx, events.DecisionCompleted, c.ID, "decision", result.DecisionID, opts.ActorID, payload); err != nil {
		return domain.DecisionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DecisionResult{}, err
	}
	e.publish(events.DecisionCompleted, c.ID, "decision", result.DecisionID, opts.ActorID, payload)
	return result, nil
}

// resolveVoters maps optional participant ids onto roster members. An
// id that is not on the roster is a stale reference, reported as such.
func resolveVoters(c domain.Collaboration, participantIDs []string) ([]domain.Participant, error) {
	if len(participantIDs) == 0 {
		return activeRoster(c), nil
	}
	voters := make([]domain.Participant, 0, len(participantIDs))
	for _, id := range participantIDs {
		idx := c.FindParticipant(id)
		if idx < 0 {
			return nil, domain.ParticipantNotFoundError{ParticipantID: id}
		}
		voters = append(voters, c.Participants[idx])
	}
	return voters, nil
}
