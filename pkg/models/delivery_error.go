package models

import "database/sql"

// DeliveryError is a diagnostic record of a failed lesson delivery.
// The table is write-only: nothing in the bot ever reads it back.
type DeliveryError struct {
	ID           int64        `json:"id" db:"id"`
	SubscriberID int64        `json:"subscriber_id" db:"subscriber_id"`
	Level        string       `json:"level" db:"level"`
	LessonIndex  int          `json:"lesson_index" db:"lesson_index"`
	ErrorType    string       `json:"error_type" db:"error_type"` // unreachable, rate_limited, transient
	Detail       string       `json:"detail" db:"detail"`
	CreatedAt    sql.NullTime `json:"created_at" db:"created_at"`
}
