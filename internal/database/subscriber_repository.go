package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

const subscriberColumns = `id, level, lesson_index, manual_count_today,
	start_date, last_sent_at, last_request_at, status, reactivated_at`

// SubscriberRepository handles database operations for subscribers.
// Every mutation is a single statement (or transaction) against one
// record, so concurrent callers on distinct identities never interfere.
type SubscriberRepository struct {
	db *sqlx.DB
}

// NewSubscriberRepository creates a new repository instance
func NewSubscriberRepository(db *sqlx.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// Register inserts a new subscriber unless the id is already known.
// Re-registration of an existing id is a no-op.
func (r *SubscriberRepository) Register(ctx context.Context, id int64, level, startDate string) error {
	query := r.db.Rebind(`INSERT INTO subscribers (id, level, start_date)
		VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	if _, err := r.db.ExecContext(ctx, query, id, level, startDate); err != nil {
		return fmt.Errorf("failed to register subscriber: %v", err)
	}
	return nil
}

// Get returns the full current record, or nil if never registered
func (r *SubscriberRepository) Get(ctx context.Context, id int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	query := r.db.Rebind("SELECT " + subscriberColumns + " FROM subscribers WHERE id = ?")
	err := r.db.GetContext(ctx, &sub, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber: %v", err)
	}
	return &sub, nil
}

// ListActive returns the ids of all subscribers with active status
func (r *SubscriberRepository) ListActive(ctx context.Context) ([]int64, error) {
	var ids []int64
	query := "SELECT id FROM subscribers WHERE status = 'active' ORDER BY id"
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %v", err)
	}
	return ids, nil
}

// SetLevel changes the level and forfeits in-track progress and the
// daily quota: lesson_index and manual_count_today both reset to 0.
func (r *SubscriberRepository) SetLevel(ctx context.Context, id int64, level string) error {
	query := r.db.Rebind(`UPDATE subscribers
		SET level = ?, lesson_index = 0, manual_count_today = 0 WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, level, id); err != nil {
		return fmt.Errorf("failed to set level: %v", err)
	}
	return nil
}

// ResetProgress rewinds the lesson cursor and the daily counter,
// keeping the current level.
func (r *SubscriberRepository) ResetProgress(ctx context.Context, id int64) error {
	query := r.db.Rebind(`UPDATE subscribers
		SET lesson_index = 0, manual_count_today = 0 WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset progress: %v", err)
	}
	return nil
}

// IncrementLessonIndex advances the lesson cursor by one
func (r *SubscriberRepository) IncrementLessonIndex(ctx context.Context, id int64) error {
	query := r.db.Rebind("UPDATE subscribers SET lesson_index = lesson_index + 1 WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment lesson index: %v", err)
	}
	return nil
}

// IncrementManualCount counts one manual delivery against today's quota
func (r *SubscriberRepository) IncrementManualCount(ctx context.Context, id int64) error {
	query := r.db.Rebind("UPDATE subscribers SET manual_count_today = manual_count_today + 1 WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment manual count: %v", err)
	}
	return nil
}

// ResetManualCountIfNewDay zeroes manual_count_today when the last
// request fell on a different UTC day than now (or never happened).
// Must run before any quota check on the same logical day.
func (r *SubscriberRepository) ResetManualCountIfNewDay(ctx context.Context, id int64, now time.Time) error {
	sub, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	today := now.UTC().Format("2006-01-02")
	if sub.LastRequestAt.Valid && sub.LastRequestAt.Time.UTC().Format("2006-01-02") == today {
		return nil
	}
	query := r.db.Rebind("UPDATE subscribers SET manual_count_today = 0 WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset manual count: %v", err)
	}
	return nil
}

// TouchLastRequest records a subscriber-initiated action timestamp
func (r *SubscriberRepository) TouchLastRequest(ctx context.Context, id int64, at time.Time) error {
	query := r.db.Rebind("UPDATE subscribers SET last_request_at = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to touch last request: %v", err)
	}
	return nil
}

// TouchLastSent records a delivery timestamp
func (r *SubscriberRepository) TouchLastSent(ctx context.Context, id int64, at time.Time) error {
	query := r.db.Rebind("UPDATE subscribers SET last_sent_at = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to touch last sent: %v", err)
	}
	return nil
}

// MarkBlocked transitions the subscriber to blocked status
func (r *SubscriberRepository) MarkBlocked(ctx context.Context, id int64) error {
	query := r.db.Rebind("UPDATE subscribers SET status = 'blocked' WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark blocked: %v", err)
	}
	return nil
}

// ReactivateIfBlocked flips blocked back to active and stamps
// reactivated_at. Active or unknown subscribers are left untouched;
// the return value reports whether a transition happened.
func (r *SubscriberRepository) ReactivateIfBlocked(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE subscribers
		SET status = 'active', reactivated_at = ? WHERE id = ? AND status = 'blocked'`)
	res, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to reactivate subscriber: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %v", err)
	}
	return n > 0, nil
}

// RecordDelivery applies the post-delivery state changes as one
// transaction: advance the lesson cursor, stamp last_sent_at, and for
// manual deliveries also stamp last_request_at and consume quota.
// Either all of them land or none do.
func (r *SubscriberRepository) RecordDelivery(ctx context.Context, id int64, at time.Time, manual bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if manual {
		query := r.db.Rebind(`UPDATE subscribers
			SET last_request_at = ?, manual_count_today = manual_count_today + 1 WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, at, id); err != nil {
			return fmt.Errorf("failed to record manual request: %v", err)
		}
	}
	query := r.db.Rebind(`UPDATE subscribers
		SET lesson_index = lesson_index + 1, last_sent_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to record delivery: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery record: %v", err)
	}
	return nil
}
