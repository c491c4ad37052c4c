package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/shared"
	_ "modernc.org/sqlite"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, retry RetryPolicy) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys are per connection in SQLite.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: retry}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		intro TEXT NOT NULL DEFAULT '',
		max_grade INTEGER NOT NULL DEFAULT 100,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_id INTEGER NOT NULL UNIQUE REFERENCES activities(id) ON DELETE CASCADE,
		question_text TEXT NOT NULL,
		answer_text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		sort_order INTEGER NOT NULL,
		reveal_delay_seconds INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_clues_question ON clues(question_id, sort_order);

	CREATE TABLE IF NOT EXISTS user_timers (
		user_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		started_at INTEGER NOT NULL,
		submit_seq INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		submitted_text TEXT NOT NULL,
		is_correct INTEGER NOT NULL,
		submitted_at INTEGER NOT NULL,
		graded_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_question_user ON attempts(question_id, user_id, submitted_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Databases created before graded_at existed.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('attempts') WHERE name = 'graded_at'`).Scan(&n); err != nil {
		return fmt.Errorf("inspect attempts table: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE attempts ADD COLUMN graded_at INTEGER`); err != nil {
			return fmt.Errorf("add graded_at column: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertUser creates a user or updates its role.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (id, role, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		role = excluded.role,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, string(user.Role), user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, role, created_at, updated_at FROM users WHERE id = ?`, userID)

	var user domain.User
	var role string
	var createdAt, updatedAt int64
	if err := row.Scan(&user.ID, &role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
func (s *SQLiteStore) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (name, intro, max_grade, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		activity.Name, activity.Intro, activity.MaxGrade,
		activity.CreatedAt.UnixMilli(), activity.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get activity id: %w", err)
	}
	activity.ID = id
	return nil
}

// GetActivity retrieves an activity by id.
func (s *SQLiteStore) GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, intro, max_grade, created_at, updated_at
		FROM activities WHERE id = ?`, activityID)

	var a domain.Activity
	var createdAt, updatedAt int64
	if err := row.Scan(&a.ID, &a.Name, &a.Intro, &a.MaxGrade, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan activity row: %w", err)
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	a.UpdatedAt = time.UnixMilli(updatedAt)
	return &a, nil
}

// DeleteActivity removes an activity; dependent rows go with it through
// ON DELETE CASCADE.
func (s *SQLiteStore) DeleteActivity(ctx context.Context, activityID int64) error {
	return withRetry(ctx, s.retry, "delete activity", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, activityID)
		if err != nil {
			return fmt.Errorf("delete activity: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveQuestion creates or replaces the question of an activity.
func (s *SQLiteStore) SaveQuestion(ctx context.Context, question *domain.Question) error {
	query := `
	INSERT INTO questions (activity_id, question_text, answer_text)
	VALUES (?, ?, ?)
	ON CONFLICT(activity_id) DO UPDATE SET
		question_text = excluded.question_text,
		answer_text = excluded.answer_text
	RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		question.ActivityID, question.QuestionText, question.AnswerText).Scan(&question.ID)
	if err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE activities SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), question.ActivityID); err != nil {
		slog.Warn("Failed to touch activity", "error", err, "activity_id", question.ActivityID)
	}
	return nil
}

// GetQuestion retrieves a question by id.
func (s *SQLiteStore) GetQuestion(ctx context.Context, questionID int64) (*domain.Question, error) {
	return s.getQuestion(ctx, `WHERE id = ?`, questionID)
}

// GetQuestionByActivity retrieves the question of an activity.
func (s *SQLiteStore) GetQuestionByActivity(ctx context.Context, activityID int64) (*domain.Question, error) {
	return s.getQuestion(ctx, `WHERE activity_id = ?`, activityID)
}

func (s *SQLiteStore) getQuestion(ctx context.Context, where string, arg int64) (*domain.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, activity_id, question_text, answer_text FROM questions `+where, arg)

	var q domain.Question
	if err := row.Scan(&q.ID, &q.ActivityID, &q.QuestionText, &q.AnswerText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan question row: %w", err)
	}
	return &q, nil
}

// ListClues returns the clues of a question ordered by position.
func (s *SQLiteStore) ListClues(ctx context.Context, questionID int64) ([]domain.Clue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_id, text, sort_order, reveal_delay_seconds
		FROM clues WHERE question_id = ?
		ORDER BY sort_order, id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query clues: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close clue rows", "error", closeErr)
		}
	}()

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
func (s *SQLiteStore) GetClue(ctx context.Context, clueID int64) (*domain.Clue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, question_id, text, sort_order, reveal_delay_seconds
		FROM clues WHERE id = ?`, clueID)

	var c domain.Clue
	if err := row.Scan(&c.ID, &c.QuestionID, &c.Text, &c.Order, &c.RevealDelaySeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan clue row: %w", err)
	}
	return &c, nil
}

// ReplaceClues makes clues the complete clue list of a question.
func (s *SQLiteStore) ReplaceClues(ctx context.Context, questionID int64, clues []domain.Clue) ([]domain.Clue, error) {
	var saved []domain.Clue
	err := withRetry(ctx, s.retry, "replace clues", func() error {
		var err error
		saved, err = s.replaceCluesOnce(ctx, questionID, clues)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *SQLiteStore) replaceCluesOnce(ctx context.Context, questionID int64, clues []domain.Clue) ([]domain.Clue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	existing, err := clueIDs(ctx, tx, questionID)
	if err != nil {
		return nil, err
	}

	saved := make([]domain.Clue, len(clues))
	for i, c := range clues {
		c.QuestionID = questionID
		if _, ok := existing[c.ID]; ok {
			if _, err := tx.ExecContext(ctx, `
				UPDATE clues SET text = ?, sort_order = ?, reveal_delay_seconds = ?
				WHERE id = ?`, c.Text, c.Order, c.RevealDelaySeconds, c.ID); err != nil {
				return nil, fmt.Errorf("update clue %d: %w", c.ID, err)
			}
			delete(existing, c.ID)
		} else {
			result, err := tx.ExecContext(ctx, `
				INSERT INTO clues (question_id, text, sort_order, reveal_delay_seconds)
				VALUES (?, ?, ?, ?)`, questionID, c.Text, c.Order, c.RevealDelaySeconds)
			if err != nil {
				return nil, fmt.Errorf("insert clue: %w", err)
			}
			if c.ID, err = result.LastInsertId(); err != nil {
				return nil, fmt.Errorf("get clue id: %w", err)
			}
		}
		saved[i] = c
	}

	for id := range existing {
		if _, err := tx.ExecContext(ctx, `DELETE FROM clues WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete clue %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit clues: %w", err)
	}
	return saved, nil
}

func clueIDs(ctx context.Context, tx *sql.Tx, questionID int64) (map[int64]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM clues WHERE question_id = ?`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query clue ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan clue id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// EnsureTimer returns the user's timer, creating it if absent.
func (s *SQLiteStore) EnsureTimer(ctx context.Context, userID, questionID int64, startedAt time.Time) (*domain.UserTimer, error) {
	err := withRetry(ctx, s.retry, "ensure timer", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO user_timers (user_id, question_id, started_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id, question_id) DO NOTHING`,
			userID, questionID, startedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert timer: %w", err)
	}
	return s.GetTimer(ctx, userID, questionID)
}

// GetTimer retrieves the user's timer for a question.
func (s *SQLiteStore) GetTimer(ctx context.Context, userID, questionID int64) (*domain.UserTimer, error) {
	var startedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM user_timers WHERE user_id = ? AND question_id = ?`,
		userID, questionID).Scan(&startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan timer row: %w", err)
	}
	return &domain.UserTimer{UserID: userID, QuestionID: questionID, StartedAt: time.UnixMilli(startedAt)}, nil
}

const attemptColumns = `id, user_id, question_id, submitted_text, is_correct, submitted_at, graded_at`

// ListAttempts returns a user's attempts for a question, oldest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID, questionID int64) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE question_id = ? AND user_id = ? ORDER BY submitted_at, id`, questionID, userID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	return scanAttempts(rows)
}

// ListQuestionAttempts returns every attempt for a question, oldest first.
func (s *SQLiteStore) ListQuestionAttempts(ctx context.Context, questionID int64) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE question_id = ? ORDER BY submitted_at, id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	return scanAttempts(rows)
}

// RecordAttempt appends the attempt chosen by decide while the user's timer
// row is write-locked.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, userID, questionID int64, decide DecideFunc) (*domain.Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	// Writing first takes SQLite's write lock before the history is read.
	result, err := tx.ExecContext(ctx, `
		UPDATE user_timers SET submit_seq = submit_seq + 1
		WHERE user_id = ? AND question_id = ?`, userID, questionID)
	if err != nil {
		if shared.IsSQLiteConflictError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("lock timer: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	} else if rows == 0 {
		return nil, ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE question_id = ? AND user_id = ? ORDER BY submitted_at, id`, questionID, userID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	prior, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}

	attempt, err := decide(prior)
	if err != nil || attempt == nil {
		return nil, err
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO attempts (user_id, question_id, submitted_text, is_correct, submitted_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, questionID, attempt.SubmittedText, attempt.IsCorrect, attempt.SubmittedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	if attempt.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("get attempt id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if shared.IsSQLiteConflictError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("commit attempt: %w", err)
	}

	attempt.UserID = userID
	attempt.QuestionID = questionID
	return attempt, nil
}

// MarkGraded stamps an attempt as delivered to the grade book.
func (s *SQLiteStore) MarkGraded(ctx context.Context, attemptID int64, gradedAt time.Time) error {
	return withRetry(ctx, s.retry, "mark graded", func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE attempts SET graded_at = ? WHERE id = ?`,
			gradedAt.UnixMilli(), attemptID)
		if err != nil {
			return fmt.Errorf("mark graded: %w", err)
		}
		if rows, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		} else if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanAttempts(rows *sql.Rows) ([]domain.Attempt, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var submittedAt int64
		var gradedAt sql.NullInt64
		if err := rows.Scan(&a.ID, &a.UserID, &a.QuestionID, &a.SubmittedText, &a.IsCorrect, &submittedAt, &gradedAt); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.SubmittedAt = time.UnixMilli(submittedAt)
		if gradedAt.Valid {
			at := time.UnixMilli(gradedAt.Int64)
			a.GradedAt = &at
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("failed to roll back transaction", "error", err)
	}
}
