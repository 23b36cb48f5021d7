package decision_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quorumline/internal/decision"
	"quorumline/internal/domain"
)

func roster(agents ...string) []domain.Participant {
	ps := make([]domain.Participant, 0, len(agents))
	for _, agent := range agents {
		ps = append(ps, domain.Participant{
			ParticipantID: agent + "-pid",
			AgentID:       agent,
			Status:        domain.ParticipantActive,
			Weight:        1.0,
			JoinedAt:      "2024-01-01T00:00:00Z",
		})
	}
	return ps
}

func testEngine() decision.Engine {
	return decision.Engine{
		NewID: func() string { return "dec-1" },
		Now:   func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		// short deadline keeps timeout tests fast
		Timeout: 100 * time.Millisecond,
	}
}

func ptr(v float64) *float64 { return &v }

func TestPreconditionOrder(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	src := decision.Static(decision.VoteYes)

	_, err := e.Decide(ctx, decision.Request{}, src)
	if !errors.Is(err, decision.ErrMissingContext) {
		t.Fatalf("expected missing context, got %v", err)
	}
	_, err = e.Decide(ctx, decision.Request{ContextRef: "ctx", Participants: roster("a")}, src)
	if !errors.Is(err, decision.ErrInsufficientParticipants) {
		t.Fatalf("expected insufficient participants, got %v", err)
	}
	_, err = e.Decide(ctx, decision.Request{ContextRef: "ctx", Participants: roster("a", "b"), Strategy: "coin_flip"}, src)
	if !errors.Is(err, decision.ErrUnsupportedStrategy) {
		t.Fatalf("expected unsupported strategy, got %v", err)
	}
	_, err = e.Decide(ctx, decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.WeightedVoting,
		Params:       decision.Params{Weights: map[string]float64{"a": 1}},
	}, src)
	if !errors.Is(err, decision.ErrIncompleteWeights) {
		t.Fatalf("expected incomplete weights, got %v", err)
	}
	_, err = e.Decide(ctx, decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.Consensus,
		Params:       decision.Params{Threshold: ptr(0.4)},
	}, src)
	if !errors.Is(err, decision.ErrThresholdOutOfRange) {
		t.Fatalf("expected threshold out of range, got %v", err)
	}
	_, err = e.Decide(ctx, decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.Consensus,
	}, src)
	if !errors.Is(err, decision.ErrThresholdOutOfRange) {
		t.Fatalf("expected threshold required, got %v", err)
	}
}

func TestSimpleMajority(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	src := decision.MapSource{"a": decision.VoteYes, "b": decision.VoteYes, "c": decision.VoteNo}

	res, err := e.Decide(ctx, decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b", "c"),
		Strategy:     decision.SimpleVoting,
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !res.Approved() || !res.ConsensusReached {
		t.Fatalf("expected approval, got %+v", res)
	}
	if res.DecisionID != "dec-1" || res.Timestamp != "2024-01-01T00:00:00Z" {
		t.Fatalf("expected pinned id and timestamp, got %+v", res)
	}
	if len(res.Votes) != 3 || res.Votes["c"] != "no" {
		t.Fatalf("unexpected vote record: %v", res.Votes)
	}
}

func TestSimpleTieRejects(t *testing.T) {
	e := testEngine()
	src := decision.MapSource{"a": decision.VoteYes, "b": decision.VoteNo}
	res, err := e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.SimpleVoting,
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Approved() {
		t.Fatalf("tie must reject")
	}
}

func TestWeightedVoting(t *testing.T) {
	e := testEngine()
	// one heavy yes outweighs two light nos
	src := decision.MapSource{"a": decision.VoteYes, "b": decision.VoteNo, "c": decision.VoteNo}
	res, err := e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b", "c"),
		Strategy:     decision.WeightedVoting,
		Params:       decision.Params{Weights: map[string]float64{"a": 5, "b": 1, "c": 1}},
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !res.Approved() {
		t.Fatalf("expected weighted approval")
	}

	// exactly half the weight is not a majority
	res, err = e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.WeightedVoting,
		Params:       decision.Params{Weights: map[string]float64{"a": 1, "b": 1}},
	}, decision.MapSource{"a": decision.VoteYes, "b": decision.VoteNo})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Approved() {
		t.Fatalf("half the weight must reject")
	}
}

func TestConsensusThresholdBoundary(t *testing.T) {
	e := testEngine()
	src := decision.MapSource{"a": decision.VoteYes, "b": decision.VoteYes, "c": decision.VoteYes, "d": decision.VoteNo}
	// 3 of 4 meets 0.75 exactly
	res, err := e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b", "c", "d"),
		Strategy:     decision.Consensus,
		Params:       decision.Params{Threshold: ptr(0.75)},
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !res.Approved() {
		t.Fatalf("expected threshold met at boundary")
	}
	// unanimity required, one dissent rejects
	res, err = e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b", "c", "d"),
		Strategy:     decision.Consensus,
		Params:       decision.Params{Threshold: ptr(1.0)},
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Approved() {
		t.Fatalf("expected dissent to break unanimity")
	}
}

func TestDelegationSingleVoter(t *testing.T) {
	e := testEngine()
	src := decision.MapSource{"a": decision.VoteNo, "b": decision.VoteYes}
	res, err := e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.Delegation,
		Params:       decision.Params{Delegate: "b"},
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !res.Approved() {
		t.Fatalf("expected delegate's yes to carry")
	}
	if len(res.Votes) != 1 {
		t.Fatalf("only the delegate votes, got %v", res.Votes)
	}

	// empty delegate defaults to the first roster member
	res, err = e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.Delegation,
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Approved() {
		t.Fatalf("first member voted no, expected rejection")
	}

	_, err = e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.Delegation,
		Params:       decision.Params{Delegate: "stranger"},
	}, src)
	if !errors.Is(err, decision.ErrUnknownDelegate) {
		t.Fatalf("expected unknown delegate, got %v", err)
	}
}

func TestSilentVoterCountsAsNo(t *testing.T) {
	e := testEngine()
	// "b" blocks until the deadline and is recorded as no
	src := decision.SourceFunc(func(ctx context.Context, agentID string) (decision.Vote, error) {
		if agentID == "b" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return decision.VoteYes, nil
	})
	res, err := e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b", "c"),
		Strategy:     decision.SimpleVoting,
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !res.Approved() {
		t.Fatalf("two yes of three should still approve")
	}
	if res.Votes["b"] != "no" {
		t.Fatalf("expected silent voter recorded as no, got %v", res.Votes)
	}
}

func TestErroringVoterCountsAsNo(t *testing.T) {
	e := testEngine()
	src := decision.SourceFunc(func(ctx context.Context, agentID string) (decision.Vote, error) {
		if agentID == "a" {
			return "", errors.New("unreachable")
		}
		return decision.VoteYes, nil
	})
	res, err := e.Decide(context.Background(), decision.Request{
		ContextRef:   "ctx",
		Participants: roster("a", "b"),
		Strategy:     decision.SimpleVoting,
	}, src)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Approved() {
		t.Fatalf("one yes of two is a tie and must reject")
	}
	if res.Votes["a"] != "no" {
		t.Fatalf("expected erroring voter recorded as no, got %v", res.Votes)
	}
}
