package domain

import "time"

// UserTimer anchors a user's clue sequence for a question.
// StartedAt is written once and is the only origin for reveal timing.
type UserTimer struct {
	UserID     int64     `json:"user_id"`
	QuestionID int64     `json:"question_id"`
	StartedAt  time.Time `json:"started_at"`
}

// Attempt is one recorded answer submission. Attempts are append-only.
type Attempt struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	QuestionID    int64     `json:"question_id"`
	SubmittedText string    `json:"submitted_text"`
	IsCorrect     bool      `json:"is_correct"`
	SubmittedAt   time.Time `json:"submitted_at"`
	// GradedAt is set once a correct attempt has reached the grade book.
	GradedAt *time.Time `json:"graded_at,omitempty"`
}
