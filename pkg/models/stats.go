package models

// Stats is an aggregate snapshot over all subscribers
type Stats struct {
	Total          int     `json:"total" db:"total"`
	Active         int     `json:"active" db:"active"`
	Blocked        int     `json:"blocked" db:"blocked"`
	AvgLessonIndex float64 `json:"avg_lesson_index" db:"avg_lesson_index"`
}
