package domain

import "fmt"

// ValidationError reports bad input detected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StateError reports an illegal lifecycle transition attempt. The
// aggregate is left unchanged when it is returned.
type StateError struct {
	Current Status
	Op      string
}

func (e StateError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s collaboration in status %s", e.Op, e.Current)
}

// QuorumError reports that a lifecycle operation needs more active
// participants than the roster provides.
type QuorumError struct {
	Active int
	Need   int
}

func (e QuorumError) Error() string {
	return fmt.Sprintf("insufficient participants: %d active, need at least %d", e.Active, e.Need)
}

// DuplicateAgentError reports an agent id already present on the roster.
type DuplicateAgentError struct {
	AgentID string
}

func (e DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %s already participates", e.AgentID)
}

// FloorError reports a removal that would shrink the roster below the
// minimum size.
type FloorError struct {
	Size int
}

func (e FloorError) Error() string {
	return fmt.Sprintf("cannot remove participant: roster of %d is at the minimum of %d", e.Size, MinParticipants)
}

// CeilingError reports an addition that would exceed the roster ceiling.
type CeilingError struct {
	Limit int
}

func (e CeilingError) Error() string {
	return fmt.Sprintf("cannot add participant: roster is at the configured maximum of %d", e.Limit)
}

// ParticipantNotFoundError reports an unknown participant id, a distinct
// case from bad input so callers can tell a stale reference apart.
type ParticipantNotFoundError struct {
	ParticipantID string
}

func (e ParticipantNotFoundError) Error() string {
	return fmt.Sprintf("participant %s not found", e.ParticipantID)
}
