// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a concurrent writer holds the record.
	ErrConflict = errors.New("conflicting write")
)

// DecideFunc inspects the attempt history of a (user, question) pair and
// returns the attempt to append, or nil to append nothing. It runs while
// the pair is locked, so no other submission can interleave.
type DecideFunc func(prior []domain.Attempt) (*domain.Attempt, error)

// Repository defines the interface for persisting clue hunt data.
type Repository interface {
	// UpsertUser creates a user or updates its role.
	UpsertUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// CreateActivity inserts an activity and sets its ID.
	CreateActivity(ctx context.Context, activity *domain.Activity) error

	// GetActivity retrieves an activity by id.
	GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error)

	// DeleteActivity removes an activity together with its question, clues,
	// timers and attempts.
	DeleteActivity(ctx context.Context, activityID int64) error

	// SaveQuestion creates or replaces the single question of an activity
	// and sets its ID.
	SaveQuestion(ctx context.Context, question *domain.Question) error

	// GetQuestion retrieves a question by id.
	GetQuestion(ctx context.Context, questionID int64) (*domain.Question, error)

	// GetQuestionByActivity retrieves the question of an activity.
	GetQuestionByActivity(ctx context.Context, activityID int64) (*domain.Question, error)

	// ListClues returns the clues of a question ordered by position.
	ListClues(ctx context.Context, questionID int64) ([]domain.Clue, error)

	// GetClue retrieves a clue by id.
	GetClue(ctx context.Context, clueID int64) (*domain.Clue, error)

	// ReplaceClues makes clues the complete clue list of a question. Clues
	// with an ID belonging to the question are updated in place, the rest
	// are inserted, and clues missing from the list are deleted.
	ReplaceClues(ctx context.Context, questionID int64, clues []domain.Clue) ([]domain.Clue, error)

	// EnsureTimer returns the user's timer for a question, creating it with
	// startedAt if absent. An existing timer is never modified.
	EnsureTimer(ctx context.Context, userID, questionID int64, startedAt time.Time) (*domain.UserTimer, error)

	// GetTimer retrieves the user's timer for a question.
	GetTimer(ctx context.Context, userID, questionID int64) (*domain.UserTimer, error)

	// ListAttempts returns a user's attempts for a question, oldest first.
	ListAttempts(ctx context.Context, userID, questionID int64) ([]domain.Attempt, error)

	// ListQuestionAttempts returns every attempt for a question, oldest first.
	ListQuestionAttempts(ctx context.Context, questionID int64) ([]domain.Attempt, error)

	// RecordAttempt locks the user's timer row, loads prior attempts, and
	// appends whatever decide returns in the same transaction. The timer
	// must exist.
	RecordAttempt(ctx context.Context, userID, questionID int64, decide DecideFunc) (*domain.Attempt, error)

	// MarkGraded stamps an attempt as delivered to the grade book.
	MarkGraded(ctx context.Context, attemptID int64, gradedAt time.Time) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
