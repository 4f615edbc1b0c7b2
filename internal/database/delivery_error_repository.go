package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

// DeliveryErrorRepository appends diagnostic records for failed
// deliveries. Write-only by design.
type DeliveryErrorRepository struct {
	db *sqlx.DB
}

// NewDeliveryErrorRepository creates a new repository instance
func NewDeliveryErrorRepository(db *sqlx.DB) *DeliveryErrorRepository {
	return &DeliveryErrorRepository{db: db}
}

// Log stores one delivery failure event
func (r *DeliveryErrorRepository) Log(ctx context.Context, e *models.DeliveryError) error {
	at := e.CreatedAt
	if !at.Valid {
		at.Time = time.Now().UTC()
		at.Valid = true
	}
	query := r.db.Rebind(`INSERT INTO delivery_errors
		(subscriber_id, level, lesson_index, error_type, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		e.SubscriberID, e.Level, e.LessonIndex, e.ErrorType, e.Detail, at.Time)
	if err != nil {
		return fmt.Errorf("failed to log delivery error: %v", err)
	}
	return nil
}
