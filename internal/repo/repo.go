package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quorumline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertCollaboration(ctx context.Context, tx *sql.Tx, c domain.Collaboration) error {
	meta, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO collaborations(id,context_ref,plan_ref,name,description,mode,strategy_type,coordinator_id,decision_mode,status,created_by,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ContextRef, c.PlanRef, c.Name, nullable(c.Description), c.Mode,
		c.Strategy.Type, nullable(c.Strategy.CoordinatorID), nullable(c.Strategy.DecisionMode),
		c.Status, c.CreatedBy, meta, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertParticipants(ctx, tx, c.ID, c.Participants)
}

// UpdateCollaboration rewrites the aggregate: the record row plus the
// whole roster, replaced in one transaction so readers never observe a
// half-updated participant set.
func (r Repo) UpdateCollaboration(ctx context.Context, tx *sql.Tx, c domain.Collaboration) error {
	meta, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE collaborations SET context_ref=?, plan_ref=?, name=?, description=?, mode=?, strategy_type=?, coordinator_id=?, decision_mode=?, status=?, metadata_json=?, updated_at=? WHERE id=?`,
		c.ContextRef, c.PlanRef, c.Name, nullable(c.Description), c.Mode,
		c.Strategy.Type, nullable(c.Strategy.CoordinatorID), nullable(c.Strategy.DecisionMode),
		c.Status, meta, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE collaboration_id=?`, c.ID); err != nil {
		return err
	}
	return r.insertParticipants(ctx, tx, c.ID, c.Participants)
}

func (r Repo) insertParticipants(ctx context.Context, tx *sql.Tx, collaborationID string, ps []domain.Participant) error {
	for i, p := range ps {
		caps, err := marshalCapabilities(p.Capabilities)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO participants(participant_id,collaboration_id,agent_id,role_id,status,capabilities_json,priority,weight,position,joined_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			p.ParticipantID, collaborationID, p.AgentID, nullable(p.RoleID), p.Status, caps, p.Priority, p.Weight, i, p.JoinedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

const collaborationColumns = `id,context_ref,plan_ref,name,description,mode,strategy_type,coordinator_id,decision_mode,status,created_by,metadata_json,created_at,updated_at`

// CollaborationExists reports whether a collaboration row exists without
// loading the roster.
func (r Repo) CollaborationExists(ctx context.Context, id string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM collaborations WHERE id=?`, id)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) GetCollaboration(ctx context.Context, id string) (domain.Collaboration, error) {
	c, err := scanCollaboration(r.DB.QueryRowContext(ctx, `SELECT `+collaborationColumns+` FROM collaborations WHERE id=?`, id))
	if err != nil {
		return c, err
	}
	c.Participants, err = r.listParticipants(ctx, r.DB.QueryContext, c.ID)
	return c, err
}

func (r Repo) GetCollaborationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Collaboration, error) {
	c, err := scanCollaboration(tx.QueryRowContext(ctx, `SELECT `+collaborationColumns+` FROM collaborations WHERE id=?`, id))
	if err != nil {
		return c, err
	}
	c.Participants, err = r.listParticipants(ctx, tx.QueryContext, c.ID)
	return c, err
}

func scanCollaboration(row *sql.Row) (domain.Collaboration, error) {
	var c domain.Collaboration
	var description, coordinatorID, decisionMode, metadata sql.NullString
	err := row.Scan(&c.ID, &c.ContextRef, &c.PlanRef, &c.Name, &description, &c.Mode,
		&c.Strategy.Type, &coordinatorID, &decisionMode, &c.Status, &c.CreatedBy, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if description.Valid {
		c.Description = description.String
	}
	if coordinatorID.Valid {
		c.Strategy.CoordinatorID = coordinatorID.String
	}
	if decisionMode.Valid {
		c.Strategy.DecisionMode = decisionMode.String
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
			return c, fmt.Errorf("unmarshal metadata for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listParticipants(ctx context.Context, query queryFunc, collaborationID string) ([]domain.Participant, error) {
	rows, err := query(ctx, `SELECT participant_id,agent_id,role_id,status,capabilities_json,priority,weight,joined_at FROM participants WHERE collaboration_id=? ORDER BY position ASC`, collaborationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var p domain.Participant
		var roleID, caps sql.NullString
		if err := rows.Scan(&p.ParticipantID, &p.AgentID, &roleID, &p.Status, &caps, &p.Priority, &p.Weight, &p.JoinedAt); err != nil {
			return nil, err
		}
		if roleID.Valid {
			p.RoleID = roleID.String
		}
		if caps.Valid && caps.String != "" {
			if err := json.Unmarshal([]byte(caps.String), &p.Capabilities); err != nil {
				return nil, fmt.Errorf("unmarshal capabilities for %s: %w", p.ParticipantID, err)
			}
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type Filters struct {
	Status          string
	Mode            string
	ContextRef      string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (f Filters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Mode != "" {
		clauses = append(clauses, "mode=?")
		args = append(args, f.Mode)
	}
	if f.ContextRef != "" {
		clauses = append(clauses, "context_ref=?")
		args = append(args, f.ContextRef)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	return clauses, args
}

func (r Repo) ListCollaborations(ctx context.Context, f Filters) ([]domain.Collaboration, error) {
	clauses, args := f.clauses()
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + collaborationColumns + ` FROM collaborations ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Collaboration
	for rows.Next() {
		var c domain.Collaboration
		var description, coordinatorID, decisionMode, metadata sql.NullString
		if err := rows.Scan(&c.ID, &c.ContextRef, &c.PlanRef, &c.Name, &description, &c.Mode,
			&c.Strategy.Type, &coordinatorID, &decisionMode, &c.Status, &c.CreatedBy, &metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			c.Description = description.String
		}
		if coordinatorID.Valid {
			c.Strategy.CoordinatorID = coordinatorID.String
		}
		if decisionMode.Valid {
			c.Strategy.DecisionMode = decisionMode.String
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", c.ID, err)
			}
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Participants, err = r.listParticipants(ctx, r.DB.QueryContext, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) CountCollaborations(ctx context.Context, f Filters) (int, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM collaborations `+where, args...).Scan(&n)
	return n, err
}

// DeleteCollaboration removes the record; participants go with it via
// the cascading foreign key.
func (r Repo) DeleteCollaboration(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM collaborations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, collaborationID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, collaborationID, evtType)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, collaborationID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if collaborationID != "" {
		clauses = append(clauses, "collaboration_id=?")
		args = append(args, collaborationID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,collaboration_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, collaborationID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if collaborationID != "" {
		clauses = append(clauses, "collaboration_id=?")
		args = append(args, collaborationID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,collaboration_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var collaborationID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &collaborationID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if collaborationID.Valid {
			e.CollaborationID = collaborationID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally scoped to
// one collaboration.
func (r Repo) LatestEventID(ctx context.Context, collaborationID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if collaborationID != "" {
		query += ` WHERE collaboration_id=?`
		args = append(args, collaborationID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func marshalCapabilities(caps []string) (any, error) {
	if len(caps) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	return string(data), nil
}
