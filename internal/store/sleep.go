package store

import (
	"context"
	"fmt"
	"time"
)

// SleepMarker records a session waiting for its budget to reset.
type SleepMarker struct {
	SessionID string
	WakeAt    time.Time
	CreatedAt time.Time
}

// MarkSleeping records (or moves) the wake time of a session.
func (d *DB) MarkSleeping(ctx context.Context, sessionID string, wakeAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sleep_markers (session_id, wake_at, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET wake_at = excluded.wake_at`,
		sessionID, wakeAt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("mark sleeping %s: %w", sessionID, err)
	}
	return nil
}

// DueSleepers returns the sessions whose wake time is at or before now.
func (d *DB) DueSleepers(ctx context.Context, now time.Time) ([]SleepMarker, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT session_id, wake_at, created_at FROM sleep_markers
		WHERE wake_at <= ?
		ORDER BY wake_at`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query sleep markers: %w", err)
	}
	defer rows.Close()

	var out []SleepMarker
	for rows.Next() {
		var m SleepMarker
		var wake, created string
		if err := rows.Scan(&m.SessionID, &wake, &created); err != nil {
			return nil, fmt.Errorf("scan sleep marker: %w", err)
		}
		m.WakeAt, _ = time.Parse(time.RFC3339Nano, wake)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearSleeping removes a session's sleep marker.
func (d *DB) ClearSleeping(ctx context.Context, sessionID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sleep_markers WHERE session_id = ?`, sessionID)
	return err
}
