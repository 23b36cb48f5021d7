package decision

import "context"

// SourceFunc adapts a plain function to the VoteSource interface.
type SourceFunc func(ctx context.Context, agentID string) (Vote, error)

func (f SourceFunc) Vote(ctx context.Context, agentID string) (Vote, error) {
	return f(ctx, agentID)
}

// Static returns a source that answers the same vote for every
// participant. It stands in where no voting transport is wired yet.
func Static(v Vote) VoteSource {
	return SourceFunc(func(context.Context, string) (Vote, error) {
		return v, nil
	})
}

// MapSource answers votes from a fixed agent-id table; agents without an
// entry vote no.
type MapSource map[string]Vote

func (m MapSource) Vote(_ context.Context, agentID string) (Vote, error) {
	if v, ok := m[agentID]; ok {
		return v, nil
	}
	return VoteNo, nil
}
