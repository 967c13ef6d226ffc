package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// CheckpointMeta describes a stored checkpoint without its history.
type CheckpointMeta struct {
	ID           string
	SessionID    string
	JobID        string
	Iteration    int
	Lifecycle    engine.Lifecycle
	Phase        engine.Phase
	SandboxID    string
	SessionCost  int64
	DailyBudget  int64
	MessageCount int
	ByteSize     int
	CreatedAt    time.Time
}

// Save stores a snapshot as gzipped JSON and prunes old ones for the session.
func (d *DB) Save(ctx context.Context, snap engine.Snapshot) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, job_id, iteration, lifecycle, phase, sandbox_id,
			session_cost, daily_budget, message_count, byte_size, state_gz, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), snap.SessionID, snap.JobID, snap.Iteration, string(snap.Lifecycle), string(snap.Phase),
		snap.SandboxID, snap.SessionCost, snap.DailyBudget, len(snap.History), len(raw), buf.Bytes(),
		snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := d.Prune(ctx, snap.SessionID, d.keepCheckpoints); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Restore returns the latest snapshot for a session, or (nil, nil).
func (d *DB) Restore(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	var blob []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT state_gz FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListCheckpoints returns checkpoint metadata for a session, newest first.
func (d *DB) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]CheckpointMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, session_id, job_id, iteration, lifecycle, phase, sandbox_id,
			session_cost, daily_budget, message_count, byte_size, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointMeta
	for rows.Next() {
		var m CheckpointMeta
		var lifecycle, phase, created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.JobID, &m.Iteration, &lifecycle, &phase, &m.SandboxID,
			&m.SessionCost, &m.DailyBudget, &m.MessageCount, &m.ByteSize, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		m.Lifecycle = engine.Lifecycle(lifecycle)
		m.Phase = engine.Phase(phase)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep checkpoints of a session and returns how many
// were deleted.
func (d *DB) Prune(ctx context.Context, sessionID string, keep int) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE session_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, sessionID, sessionID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
