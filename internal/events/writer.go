package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine, one per successful mutation.
const (
	CollaborationCreated   = "collaboration_created"
	CollaborationStarted   = "collaboration_started"
	CollaborationPaused    = "collaboration_paused"
	CollaborationResumed   = "collaboration_resumed"
	CollaborationCompleted = "collaboration_completed"
	CollaborationCancelled = "collaboration_cancelled"
	CollaborationFailed    = "collaboration_failed"
	CollaborationUpdated   = "collaboration_updated"
	CollaborationDeleted   = "collaboration_deleted"

	ParticipantAdded         = "participant_added"
	ParticipantRemoved       = "participant_removed"
	ParticipantStatusUpdated = "participant_status_updated"

	CoordinationCompleted = "coordination_completed"
	DecisionCompleted     = "decision_completed"
)

// Writer appends rows to the event log inside the caller's transaction,
// so the log entry commits or rolls back with the mutation it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, collaborationID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,collaboration_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(collaborationID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
