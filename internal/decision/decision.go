// Package decision implements the group-decision protocols that turn a
// participant roster and a vote source into a binding decision. The
// engine is stateless; everything it needs arrives with the request.
package decision

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"quorumline/internal/domain"
)

type Strategy string

const (
	SimpleVoting   Strategy = "simple_voting"
	WeightedVoting Strategy = "weighted_voting"
	Consensus      Strategy = "consensus"
	Delegation     Strategy = "delegation"
)

var strategies = map[Strategy]bool{
	SimpleVoting:   true,
	WeightedVoting: true,
	Consensus:      true,
	Delegation:     true,
}

// Valid reports whether s is a supported strategy.
func (s Strategy) Valid() bool { return strategies[s] }

type Vote string

const (
	VoteYes Vote = "yes"
	VoteNo  Vote = "no"
)

// VoteSource supplies a participant's vote. It is the seam where a real
// deployment plugs in its voting transport; the engine never decides how
// votes are physically solicited.
type VoteSource interface {
	Vote(ctx context.Context, agentID string) (Vote, error)
}

// Params carries strategy-specific parameters.
type Params struct {
	// Weights must cover exactly the voting agent ids for weighted_voting.
	Weights map[string]float64
	// Threshold is the required yes-fraction for consensus, in [0.5, 1.0].
	Threshold *float64
	// Delegate optionally names the authoritative voter for delegation;
	// the first roster member is used when empty.
	Delegate string
	// Timeout bounds vote collection; DefaultTimeout applies when zero.
	Timeout time.Duration
}

// Request is the transient input of one decision round.
type Request struct {
	ContextRef   string
	Participants []domain.Participant
	Strategy     Strategy
	Params       Params
}

// DefaultTimeout bounds vote collection when the request does not set one.
const DefaultTimeout = 30 * time.Second

// Precondition errors, checked in this order before any vote is solicited.
var (
	ErrMissingContext           = errors.New("context reference is required")
	ErrInsufficientParticipants = errors.New("at least 2 participants are required")
	ErrUnsupportedStrategy      = errors.New("unsupported decision strategy")
	ErrIncompleteWeights        = errors.New("weights must cover exactly the participant set")
	ErrThresholdOutOfRange      = errors.New("consensus threshold must be between 0.5 and 1.0")
	ErrUnknownDelegate          = errors.New("delegate is not on the roster")
)

// Engine runs decision rounds. The zero value is usable; NewID and
// Timeout exist so tests can pin ids and deadlines.
type Engine struct {
	NewID   func() string
	Now     func() time.Time
	Timeout time.Duration
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timeout(p Params) time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

// Decide validates the request, collects votes through src, and tallies
// them under the requested strategy. Votes are collected concurrently; a
// participant that errors or misses the deadline counts as a no vote, so
// the denominator is always the full electorate.
func (e Engine) Decide(ctx context.Context, req Request, src VoteSource) (domain.DecisionResult, error) {
	if err := e.validate(req); err != nil {
		return domain.DecisionResult{}, err
	}

	voters := req.Participants
	if req.Strategy == Delegation {
		delegate, err := pickDelegate(req)
		if err != nil {
			return domain.DecisionResult{}, err
		}
		voters = []domain.Participant{delegate}
	}

	votes := e.collect(ctx, voters, src, e.timeout(req.Params))

	approved := false
	switch req.Strategy {
	case SimpleVoting:
		approved = tallySimple(votes)
	case WeightedVoting:
		approved = tallyWeighted(votes, req.Params.Weights)
	case Consensus:
		approved = tallyConsensus(votes, *req.Params.Threshold)
	case Delegation:
		approved = votes[voters[0].AgentID] == VoteYes
	}

	result := "rejected"
	if approved {
		result = "approved"
	}
	out := make(map[string]string, len(votes))
	for agent, v := range votes {
		out[agent] = string(v)
	}
	return domain.DecisionResult{
		DecisionID:       e.newID(),
		Result:           result,
		ConsensusReached: approved,
		Votes:            out,
		Timestamp:        e.now().UTC().Format(time.RFC3339),
	}, nil
}

func (e Engine) validate(req Request) error {
	if req.ContextRef == "" {
		return ErrMissingContext
	}
	if len(req.Participants) < 2 {
		return ErrInsufficientParticipants
	}
	if !req.Strategy.Valid() {
		return ErrUnsupportedStrategy
	}
	switch req.Strategy {
	case WeightedVoting:
		if len(req.Params.Weights) != len(req.Participants) {
			return ErrIncompleteWeights
		}
		for _, p := range req.Participants {
			if _, ok := req.Params.Weights[p.AgentID]; !ok {
				return ErrIncompleteWeights
			}
		}
	case Consensus:
		t := req.Params.Threshold
		if t == nil || *t < 0.5 || *t > 1.0 {
			return ErrThresholdOutOfRange
		}
	}
	return nil
}

func pickDelegate(req Request) (domain.Participant, error) {
	if req.Params.Delegate == "" {
		return req.Participants[0], nil
	}
	for _, p := range req.Participants {
		if p.AgentID == req.Params.Delegate {
			return p, nil
		}
	}
	return domain.Participant{}, ErrUnknownDelegate
}

// collect fans vote requests out to src, one goroutine per voter, and
// gathers replies until every voter answered or the deadline passed.
func (e Engine) collect(ctx context.Context, voters []domain.Participant, src VoteSource, timeout time.Duration) map[string]Vote {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		agentID string
		vote    Vote
		err     error
	}
	ch := make(chan reply, len(voters))
	for _, p := range voters {
		go func(agentID string) {
			v, err := src.Vote(ctx, agentID)
			ch <- reply{agentID: agentID, vote: v, err: err}
		}(p.AgentID)
	}

	votes := make(map[string]Vote, len(voters))
	pending := len(voters)
gather:
	for pending > 0 {
		select {
		case r := <-ch:
			pending--
			if r.err != nil || r.vote != VoteYes {
				votes[r.agentID] = VoteNo
			} else {
				votes[r.agentID] = VoteYes
			}
		case <-ctx.Done():
			break gather
		}
	}
	for _, p := range voters {
		if _, ok := votes[p.AgentID]; !ok {
			votes[p.AgentID] = VoteNo
		}
	}
	return votes
}

// tallySimple approves on a strict majority; a tie rejects.
func tallySimple(votes map[string]Vote) bool {
	yes := 0
	for _, v := range votes {
		if v == VoteYes {
			yes++
		}
	}
	return yes*2 > len(votes)
}

// tallyWeighted approves when the yes-weight fraction exceeds one half.
// Zero-weight participants vote but move neither side of the ratio.
func tallyWeighted(votes map[string]Vote, weights map[string]float64) bool {
	var total, yes float64
	for agent, v := range votes {
		w := weights[agent]
		total += w
		if v == VoteYes {
			yes += w
		}
	}
	if total == 0 {
		return false
	}
	return yes/total > 0.5
}

// tallyConsensus approves when the yes fraction meets the threshold.
func tallyConsensus(votes map[string]Vote, threshold float64) bool {
	yes := 0
	for _, v := range votes {
		if v == VoteYes {
			yes++
		}
	}
	return float64(yes)/float64(len(votes)) >= threshold
}
