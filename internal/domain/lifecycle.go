package domain

// MinParticipants is the roster floor. Removal is refused when it would
// shrink the full roster below it, counting every participant regardless
// of status.
const MinParticipants = 2

// Start moves the collaboration from pending to active. It requires at
// least MinParticipants roster members with active status; participants
// are never activated implicitly.
func (c *Collaboration) Start(now string) error {
	if c.Status != StatusPending {
		return StateError{Current: c.Status, Op: "start"}
	}
	if active := c.ActiveParticipants(); active < MinParticipants {
		return QuorumError{Active: active, Need: MinParticipants}
	}
	c.Status = StatusActive
	c.UpdatedAt = now
	return nil
}

// Pause moves an active collaboration to inactive.
func (c *Collaboration) Pause(now string) error {
	if c.Status != StatusActive {
		return StateError{Current: c.Status, Op: "pause"}
	}
	c.Status = StatusInactive
	c.UpdatedAt = now
	return nil
}

// Resume moves an inactive collaboration back to active.
func (c *Collaboration) Resume(now string) error {
	if c.Status != StatusInactive {
		return StateError{Current: c.Status, Op: "resume"}
	}
	c.Status = StatusActive
	c.UpdatedAt = now
	return nil
}

// Complete moves an active or inactive collaboration to completed.
func (c *Collaboration) Complete(now string) error {
	if c.Status != StatusActive && c.Status != StatusInactive {
		return StateError{Current: c.Status, Op: "complete"}
	}
	c.Status = StatusCompleted
	c.UpdatedAt = now
	return nil
}

// Cancel moves any non-terminal collaboration to cancelled.
func (c *Collaboration) Cancel(now string) error {
	if c.Status.Terminal() {
		return StateError{Current: c.Status, Op: "cancel"}
	}
	c.Status = StatusCancelled
	c.UpdatedAt = now
	return nil
}

// Fail marks the collaboration failed as an administrative override. It
// is deliberately legal from every status, terminal ones included; the
// optional reason lands in metadata rather than structured state.
func (c *Collaboration) Fail(reason, now string) {
	c.Status = StatusFailed
	if reason != "" {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		c.Metadata["failure_reason"] = reason
	}
	c.UpdatedAt = now
}

// AddParticipant appends p to the roster. The caller assigns
// ParticipantID and JoinedAt; ceiling is the configured roster maximum.
func (c *Collaboration) AddParticipant(p Participant, ceiling int, now string) error {
	if p.AgentID == "" {
		return ValidationError{Field: "agent_id", Reason: "required"}
	}
	if !ValidParticipantStatus(p.Status) {
		return ValidationError{Field: "status", Reason: "unknown participant status " + string(p.Status)}
	}
	if p.Weight < 0 {
		return ValidationError{Field: "weight", Reason: "must not be negative"}
	}
	if c.FindAgent(p.AgentID) >= 0 {
		return DuplicateAgentError{AgentID: p.AgentID}
	}
	if len(c.Participants) >= ceiling {
		return CeilingError{Limit: ceiling}
	}
	c.Participants = append(c.Participants, p)
	c.UpdatedAt = now
	return nil
}

// RemoveParticipant drops a roster member by participant id. The floor
// check counts the whole roster, not only active members.
func (c *Collaboration) RemoveParticipant(participantID, now string) error {
	idx := c.FindParticipant(participantID)
	if idx < 0 {
		return ParticipantNotFoundError{ParticipantID: participantID}
	}
	if len(c.Participants) <= MinParticipants {
		return FloorError{Size: len(c.Participants)}
	}
	c.Participants = append(c.Participants[:idx], c.Participants[idx+1:]...)
	c.UpdatedAt = now
	return nil
}

// SetParticipantStatus assigns a participant status. No cross-validation
// against the collaboration's own status is performed.
func (c *Collaboration) SetParticipantStatus(participantID string, status ParticipantStatus, now string) error {
	if !ValidParticipantStatus(status) {
		return ValidationError{Field: "status", Reason: "unknown participant status " + string(status)}
	}
	idx := c.FindParticipant(participantID)
	if idx < 0 {
		return ParticipantNotFoundError{ParticipantID: participantID}
	}
	c.Participants[idx].Status = status
	c.UpdatedAt = now
	return nil
}
