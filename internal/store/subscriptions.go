package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

const dateLayout = "2006-01-02"

// Subscription loads a user's billing window.
func (d *DB) Subscription(ctx context.Context, userID string) (engine.Subscription, error) {
	var remaining int64
	var renewal sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT remaining_micros, renewal_date FROM subscriptions WHERE user_id = ?`, userID).
		Scan(&remaining, &renewal)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Subscription{}, fmt.Errorf("subscription for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return engine.Subscription{}, fmt.Errorf("query subscription: %w", err)
	}

	sub := engine.Subscription{UserID: userID, RemainingMicros: remaining}
	if renewal.Valid && renewal.String != "" {
		if t, err := time.Parse(dateLayout, renewal.String); err == nil {
			sub.RenewalDate = t
		}
	}
	return sub, nil
}

// UpsertSubscription creates or replaces a user's billing window.
func (d *DB) UpsertSubscription(ctx context.Context, sub engine.Subscription) error {
	var renewal any
	if !sub.RenewalDate.IsZero() {
		renewal = sub.RenewalDate.UTC().Format(dateLayout)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, remaining_micros, renewal_date, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			remaining_micros = excluded.remaining_micros,
			renewal_date = excluded.renewal_date,
			updated_at = excluded.updated_at`,
		sub.UserID, sub.RemainingMicros, renewal, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.UserID, err)
	}
	return nil
}
