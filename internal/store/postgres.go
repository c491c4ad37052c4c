package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/shared"
)

var _ Repository = (*PostgresStore)(nil)

// PostgresStore implements Repository using PostgreSQL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	retry RetryPolicy
}

// NewPostgres connects to databaseURL and creates the schema if needed.
func NewPostgres(ctx context.Context, databaseURL string, retry RetryPolicy) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{pool: pool, retry: retry}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		role TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		intro TEXT NOT NULL DEFAULT '',
		max_grade INTEGER NOT NULL DEFAULT 100,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id BIGSERIAL PRIMARY KEY,
		activity_id BIGINT NOT NULL UNIQUE REFERENCES activities(id) ON DELETE CASCADE,
		question_text TEXT NOT NULL,
		answer_text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clues (
		id BIGSERIAL PRIMARY KEY,
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		sort_order INTEGER NOT NULL,
		reveal_delay_seconds BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_clues_question ON clues(question_id, sort_order);

	CREATE TABLE IF NOT EXISTS user_timers (
		user_id BIGINT NOT NULL,
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		started_at BIGINT NOT NULL,
		submit_seq BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		submitted_text TEXT NOT NULL,
		is_correct BOOLEAN NOT NULL,
		submitted_at BIGINT NOT NULL,
		graded_at BIGINT
	);
	ALTER TABLE attempts ADD COLUMN IF NOT EXISTS graded_at BIGINT;
	CREATE INDEX IF NOT EXISTS idx_attempts_question_user ON attempts(question_id, user_id, submitted_at);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertUser creates a user or updates its role.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at`,
		user.ID, string(user.Role), user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	var role string
	var createdAt, updatedAt int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, role, created_at, updated_at FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &role, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.Role = domain.Role(role)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// CreateActivity inserts an activity and sets its ID.
func (s *PostgresStore) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO activities (name, intro, max_grade, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		activity.Name, activity.Intro, activity.MaxGrade,
		activity.CreatedAt.UnixMilli(), activity.UpdatedAt.UnixMilli()).Scan(&activity.ID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// GetActivity retrieves an activity by id.
func (s *PostgresStore) GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error) {
	var a domain.Activity
	var createdAt, updatedAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, intro, max_grade, created_at, updated_at
		FROM activities WHERE id = $1`, activityID).
		Scan(&a.ID, &a.Name, &a.Intro, &a.MaxGrade, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan activity row: %w", err)
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	a.UpdatedAt = time.UnixMilli(updatedAt)
	return &a, nil
}

// DeleteActivity removes an activity and its dependent rows.
func (s *PostgresStore) DeleteActivity(ctx context.Context, activityID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activities WHERE id = $1`, activityID)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveQuestion creates or replaces the question of an activity.
func (s *PostgresStore) SaveQuestion(ctx context.Context, question *domain.Question) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO questions (activity_id, question_text, answer_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (activity_id) DO UPDATE SET
			question_text = EXCLUDED.question_text,
			answer_text = EXCLUDED.answer_text
		RETURNING id`,
		question.ActivityID, question.QuestionText, question.AnswerText).Scan(&question.ID)
	if err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE activities SET updated_at = $1 WHERE id = $2`, time.Now().UnixMilli(), question.ActivityID); err != nil {
		slog.Warn("Failed to touch activity", "error", err, "activity_id", question.ActivityID)
	}
	return nil
}

// GetQuestion retrieves a question by id.
func (s *PostgresStore) GetQuestion(ctx context.Context, questionID int64) (*domain.Question, error) {
	return s.getQuestion(ctx, `WHERE id = $1`, questionID)
}

// GetQuestionByActivity retrieves the question of an activity.
func (s *PostgresStore) GetQuestionByActivity(ctx context.Context, activityID int64) (*domain.Question, error) {
	return s.getQuestion(ctx, `WHERE activity_id = $1`, activityID)
}

func (s *PostgresStore) getQuestion(ctx context.Context, where string, arg int64) (*domain.Question, error) {
	var q domain.Question
	err := s.pool.QueryRow(ctx,
		`SELECT id, activity_id, question_text, answer_text FROM questions `+where, arg).
		Scan(&q.ID, &q.ActivityID, &q.QuestionText, &q.AnswerText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan question row: %w", err)
	}
	return &q, nil
}

// ListClues returns the clues of a question ordered by position.
func (s *PostgresStore) ListClues(ctx context.Context, questionID int64) ([]domain.Clue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, question_id, text, sort_order, reveal_delay_seconds
		FROM clues WHERE question_id = $1
		ORDER BY sort_order, id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query clues: %w", err)
	}
	defer rows.Close()

	var clues []domain.Clue
	for rows.Next() {
		var c domain.Clue
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.Order, &c.RevealDelaySeconds); err != nil {
			return nil, fmt.Errorf("scan clue row: %w", err)
		}
		clues = append(clues, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clues: %w", err)
	}
	return clues, nil
}

// GetClue retrieves a clue by id.
func (s *PostgresStore) GetClue(ctx context.Context, clueID int64) (*domain.Clue, error) {
	var c domain.Clue
	err := s.pool.QueryRow(ctx, `
		SELECT id, question_id, text, sort_order, reveal_delay_seconds
		FROM clues WHERE id = $1`, clueID).
		Scan(&c.ID, &c.QuestionID, &c.Text, &c.Order, &c.RevealDelaySeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan clue row: %w", err)
	}
	return &c, nil
}

// ReplaceClues makes clues the complete clue list of a question.
func (s *PostgresStore) ReplaceClues(ctx context.Context, questionID int64, clues []domain.Clue) ([]domain.Clue, error) {
	var saved []domain.Clue
	err := withRetry(ctx, s.retry, "replace clues", func() error {
		saved = make([]domain.Clue, len(clues))
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			kept := make([]int64, 0, len(clues))
			for i, c := range clues {
				c.QuestionID = questionID
				tag, err := tx.Exec(ctx, `
					UPDATE clues SET text = $1, sort_order = $2, reveal_delay_seconds = $3
					WHERE id = $4 AND question_id = $5`,
					c.Text, c.Order, c.RevealDelaySeconds, c.ID, questionID)
				if err != nil {
					return fmt.Errorf("update clue %d: %w", c.ID, err)
				}
				if c.ID == 0 || tag.RowsAffected() == 0 {
					err := tx.QueryRow(ctx, `
						INSERT INTO clues (question_id, text, sort_order, reveal_delay_seconds)
						VALUES ($1, $2, $3, $4) RETURNING id`,
						questionID, c.Text, c.Order, c.RevealDelaySeconds).Scan(&c.ID)
					if err != nil {
						return fmt.Errorf("insert clue: %w", err)
					}
				}
				kept = append(kept, c.ID)
				saved[i] = c
			}

			if _, err := tx.Exec(ctx,
				`DELETE FROM clues WHERE question_id = $1 AND NOT (id = ANY($2))`, questionID, kept); err != nil {
				return fmt.Errorf("delete removed clues: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// EnsureTimer returns the user's timer, creating it if absent.
func (s *PostgresStore) EnsureTimer(ctx context.Context, userID, questionID int64, startedAt time.Time) (*domain.UserTimer, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_timers (user_id, question_id, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, question_id) DO NOTHING`,
		userID, questionID, startedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert timer: %w", err)
	}
	return s.GetTimer(ctx, userID, questionID)
}

// GetTimer retrieves the user's timer for a question.
func (s *PostgresStore) GetTimer(ctx context.Context, userID, questionID int64) (*domain.UserTimer, error) {
	var startedAt int64
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM user_timers WHERE user_id = $1 AND question_id = $2`,
		userID, questionID).Scan(&startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan timer row: %w", err)
	}
	return &domain.UserTimer{UserID: userID, QuestionID: questionID, StartedAt: time.UnixMilli(startedAt)}, nil
}

// ListAttempts returns a user's attempts for a question, oldest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, userID, questionID int64) ([]domain.Attempt, error) {
	return queryAttempts(ctx, s.pool, `SELECT `+attemptColumns+` FROM attempts
		WHERE question_id = $1 AND user_id = $2 ORDER BY submitted_at, id`, questionID, userID)
}

// ListQuestionAttempts returns every attempt for a question, oldest first.
func (s *PostgresStore) ListQuestionAttempts(ctx context.Context, questionID int64) ([]domain.Attempt, error) {
	return queryAttempts(ctx, s.pool, `SELECT `+attemptColumns+` FROM attempts
		WHERE question_id = $1 ORDER BY submitted_at, id`, questionID)
}

// RecordAttempt appends the attempt chosen by decide while the user's timer
// row is locked.
func (s *PostgresStore) RecordAttempt(ctx context.Context, userID, questionID int64, decide DecideFunc) (*domain.Attempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("failed to roll back transaction", "error", err)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE user_timers SET submit_seq = submit_seq + 1
		WHERE user_id = $1 AND question_id = $2`, userID, questionID)
	if err != nil {
		if shared.IsPostgresConflictError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("lock timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	prior, err := queryAttempts(ctx, tx, `SELECT `+attemptColumns+` FROM attempts
		WHERE question_id = $1 AND user_id = $2 ORDER BY submitted_at, id`, questionID, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := decide(prior)
	if err != nil || attempt == nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO attempts (user_id, question_id, submitted_text, is_correct, submitted_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		userID, questionID, attempt.SubmittedText, attempt.IsCorrect, attempt.SubmittedAt.UnixMilli()).
		Scan(&attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if shared.IsPostgresConflictError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("commit attempt: %w", err)
	}

	attempt.UserID = userID
	attempt.QuestionID = questionID
	return attempt, nil
}

// MarkGraded stamps an attempt as delivered to the grade book.
func (s *PostgresStore) MarkGraded(ctx context.Context, attemptID int64, gradedAt time.Time) error {
	return withRetry(ctx, s.retry, "mark graded", func() error {
		tag, err := s.pool.Exec(ctx, `UPDATE attempts SET graded_at = $1 WHERE id = $2`,
			gradedAt.UnixMilli(), attemptID)
		if err != nil {
			return fmt.Errorf("mark graded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryAttempts(ctx context.Context, q querier, query string, args ...any) ([]domain.Attempt, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var submittedAt int64
		var gradedAt *int64
		if err := rows.Scan(&a.ID, &a.UserID, &a.QuestionID, &a.SubmittedText, &a.IsCorrect, &submittedAt, &gradedAt); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.SubmittedAt = time.UnixMilli(submittedAt)
		if gradedAt != nil {
			at := time.UnixMilli(*gradedAt)
			a.GradedAt = &at
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}
