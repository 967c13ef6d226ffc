package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// EscalationStatus is the founder-facing state of an escalation.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationResolved EscalationStatus = "resolved"
)

// EscalationRow is a stored escalation plus its resolution state.
type EscalationRow struct {
	engine.Escalation
	Status     EscalationStatus
	Resolution string
	ResolvedAt time.Time
}

// RecordEscalation stores an escalation and returns its new id.
func (d *DB) RecordEscalation(ctx context.Context, esc engine.Escalation) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}
	opts, err := json.Marshal(esc.Options)
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO escalations (id, project_id, session_id, job_id, error_type, error_message, category,
			attempts, attempts_summary, problem_summary, recommended_action, options_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), esc.ProjectID, esc.SessionID, esc.JobID, esc.ErrorType, esc.ErrorMessage, string(esc.Category),
		esc.Attempts, esc.AttemptsSummary, esc.ProblemSummary, esc.RecommendedAction, string(opts),
		string(EscalationPending), esc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert escalation: %w", err)
	}
	return id.String(), nil
}

// GetEscalation loads one escalation by id.
func (d *DB) GetEscalation(ctx context.Context, id string) (EscalationRow, error) {
	row := d.db.QueryRowContext(ctx, escalationSelect+` WHERE id = ?`, id)
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EscalationRow{}, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListEscalations returns a project's escalations, newest first. An empty
// status lists all of them.
func (d *DB) ListEscalations(ctx context.Context, projectID string, status EscalationStatus) ([]EscalationRow, error) {
	q := escalationSelect + ` WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var out []EscalationRow
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveEscalation records the founder's choice. The choice must be one of
// the escalation's option values.
func (d *DB) ResolveEscalation(ctx context.Context, id, choice string) error {
	e, err := d.GetEscalation(ctx, id)
	if err != nil {
		return err
	}
	valid := false
	for _, o := range e.Options {
		if o.Value == choice {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("escalation %s: %q is not one of the offered options", id, choice)
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE escalations SET status = ?, resolution = ?, resolved_at = ? WHERE id = ?`,
		string(EscalationResolved), choice, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("resolve escalation %s: %w", id, err)
	}
	return nil
}

const escalationSelect = `
	SELECT id, project_id, session_id, job_id, error_type, error_message, category, attempts,
		attempts_summary, problem_summary, recommended_action, options_json, status,
		resolution, created_at, resolved_at
	FROM escalations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(s rowScanner) (EscalationRow, error) {
	var e EscalationRow
	var category, opts, status, created string
	var resolution, resolved sql.NullString
	err := s.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.JobID, &e.ErrorType, &e.ErrorMessage, &category,
		&e.Attempts, &e.AttemptsSummary, &e.ProblemSummary, &e.RecommendedAction, &opts, &status,
		&resolution, &created, &resolved)
	if err != nil {
		return EscalationRow{}, err
	}
	e.Category = engine.ErrorCategory(category)
	e.Status = EscalationStatus(status)
	e.Resolution = resolution.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if resolved.Valid {
		e.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolved.String)
	}
	if err := json.Unmarshal([]byte(opts), &e.Options); err != nil {
		return EscalationRow{}, fmt.Errorf("unmarshal options: %w", err)
	}
	return e, nil
}
