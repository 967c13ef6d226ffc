package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// RecordSession appends the summary of a finished run.
func (d *DB) RecordSession(ctx context.Context, rec engine.SessionRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (session_id, job_id, user_id, project_id, status, stop_message,
			iterations, session_cost, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.JobID, rec.UserID, rec.ProjectID, string(rec.Status), rec.StopMessage,
		rec.Iterations, rec.SessionCost,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.SessionID, err)
	}
	return nil
}

// ListSessions returns the run records of a session, newest first.
func (d *DB) ListSessions(ctx context.Context, sessionID string) ([]engine.SessionRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT session_id, job_id, user_id, project_id, status, stop_message, iterations, session_cost,
			started_at, finished_at
		FROM agent_sessions
		WHERE session_id = ?
		ORDER BY finished_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []engine.SessionRecord
	for rows.Next() {
		var r engine.SessionRecord
		var status, started, finished string
		if err := rows.Scan(&r.SessionID, &r.JobID, &r.UserID, &r.ProjectID, &status, &r.StopMessage,
			&r.Iterations, &r.SessionCost, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.Status = engine.Status(status)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
