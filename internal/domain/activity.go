package domain

import "time"

// DefaultMaxGrade is the grade awarded for a solved activity when none is configured.
const DefaultMaxGrade = 100

// Activity is one clue hunt instance. It owns at most one Question.
type Activity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Intro     string    `json:"intro,omitempty"`
	MaxGrade  int       `json:"max_grade"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Question is the single question of an activity.
type Question struct {
	ID           int64  `json:"id"`
	ActivityID   int64  `json:"activity_id"`
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"-"`
}

// Clue is one ordered hint of a question.
type Clue struct {
	ID                 int64  `json:"id"`
	QuestionID         int64  `json:"question_id"`
	Text               string `json:"text"`
	Order              int    `json:"order"`
	RevealDelaySeconds int64  `json:"reveal_delay_seconds"`
}

// RevealDelay returns the clue delay as a duration.
func (c Clue) RevealDelay() time.Duration {
	return time.Duration(c.RevealDelaySeconds) * time.Second
}

// Delays returns the reveal delays of clues, in the order given.
func Delays(clues []Clue) []time.Duration {
	delays := make([]time.Duration, len(clues))
	for i, c := range clues {
		delays[i] = c.RevealDelay()
	}
	return delays
}
