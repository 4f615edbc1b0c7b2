package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

// StatisticsRepository aggregates counts over the subscriber population
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository creates a new repository instance
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// Snapshot returns totals per status and the average lesson index
func (r *StatisticsRepository) Snapshot(ctx context.Context) (*models.Stats, error) {
	query := `
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0) AS blocked,
			COALESCE(AVG(lesson_index), 0) AS avg_lesson_index
		FROM subscribers
	`
	var stats models.Stats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get statistics: %v", err)
	}
	return &stats, nil
}
