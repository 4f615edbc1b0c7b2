package models

import "database/sql"

// Subscriber lifecycle statuses
const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// Subscriber represents a Telegram user progressing through a level's lessons
type Subscriber struct {
	ID               int64        `json:"id" db:"id"` // Telegram User ID
	Level            string       `json:"level" db:"level"`
	LessonIndex      int          `json:"lesson_index" db:"lesson_index"`
	ManualCountToday int          `json:"manual_count_today" db:"manual_count_today"`
	StartDate        string       `json:"start_date" db:"start_date"` // UTC date of first registration
	LastSentAt       sql.NullTime `json:"last_sent_at" db:"last_sent_at"`
	LastRequestAt    sql.NullTime `json:"last_request_at" db:"last_request_at"`
	Status           string       `json:"status" db:"status"`
	ReactivatedAt    sql.NullTime `json:"reactivated_at" db:"reactivated_at"`
}

// IsActive reports whether the subscriber may receive lessons
func (s *Subscriber) IsActive() bool {
	return s.Status == StatusActive
}
