// Package activity implements the clue hunt use cases on top of the store,
// the reveal scheduler and the grade book.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/gradebook"
	"github.com/ashureev/cluehunt/internal/hunt"
	"github.com/ashureev/cluehunt/internal/store"
)

var (
	// ErrNotFound is returned when the activity, question or clue does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrForbidden is returned when the caller's role may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned when request data fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Options configures a Service.
type Options struct {
	// Cooldown is the minimum spacing between two submissions of one user
	// for one question.
	Cooldown time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Service orchestrates viewing, answering and authoring activities.
type Service struct {
	repo     store.Repository
	grades   gradebook.Recorder
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// submitLocks holds one *sync.Mutex per (user, question) pair.
	submitLocks sync.Map
}

type pairKey struct {
	userID     int64
	questionID int64
}

// NewService creates a new activity service.
func NewService(repo store.Repository, grades gradebook.Recorder, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if grades == nil {
		grades = gradebook.LogRecorder{Logger: opts.Logger}
	}
	return &Service{
		repo:     repo,
		grades:   grades,
		cooldown: opts.Cooldown,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// Cooldown returns the configured submission cooldown.
func (s *Service) Cooldown() time.Duration {
	return s.cooldown
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Schedule is the persisted reveal input of one user for one activity.
type Schedule struct {
	ActivityID int64
	QuestionID int64
	StartedAt  time.Time
	Clues      []domain.Clue
}

// Reveal evaluates the schedule at now.
func (sc *Schedule) Reveal(now time.Time) hunt.Reveal {
	return hunt.ComputeReveal(sc.StartedAt, now, domain.Delays(sc.Clues))
}

// Schedule loads the question and clues of an activity and the user's timer,
// starting the timer on first access.
func (s *Service) Schedule(ctx context.Context, userID, activityID int64) (*Schedule, error) {
	question, err := s.repo.GetQuestionByActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return s.schedule(ctx, userID, activityID, question)
}

func (s *Service) schedule(ctx context.Context, userID, activityID int64, question *domain.Question) (*Schedule, error) {
	clues, err := s.repo.ListClues(ctx, question.ID)
	if err != nil {
		return nil, fmt.Errorf("list clues: %w", err)
	}
	timer, err := s.repo.EnsureTimer(ctx, userID, question.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("ensure timer: %w", err)
	}
	return &Schedule{
		ActivityID: activityID,
		QuestionID: question.ID,
		StartedAt:  timer.StartedAt,
		Clues:      hunt.Renumber(clues),
	}, nil
}

// ClueState is one clue as seen by a learner. Text is empty until revealed.
type ClueState struct {
	ID           int64
	Order        int
	DelaySeconds int64
	Revealed     bool
	Text         string
}

// View is what a learner sees when opening an activity.
type View struct {
	Activity     domain.Activity
	QuestionID   int64
	QuestionText string
	StartedAt    time.Time
	Now          time.Time
	Clues        []ClueState
	Reveal       hunt.Reveal
	Solved       bool
	// Wait is the time left before the next submission is accepted.
	Wait time.Duration
}

// View returns the activity as seen by userID at the current time.
func (s *Service) View(ctx context.Context, userID, activityID int64) (*View, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	question, err := s.repo.GetQuestionByActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	sched, err := s.schedule(ctx, userID, activityID, question)
	if err != nil {
		return nil, err
	}
	attempts, err := s.repo.ListAttempts(ctx, userID, question.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	now := s.now()
	reveal := sched.Reveal(now)
	view := &View{
		Activity:     *activity,
		QuestionID:   question.ID,
		QuestionText: question.QuestionText,
		StartedAt:    sched.StartedAt,
		Now:          now,
		Clues:        make([]ClueState, len(sched.Clues)),
		Reveal:       reveal,
		Solved:       hunt.HasSolved(attempts),
	}
	for i, c := range sched.Clues {
		view.Clues[i] = ClueState{ID: c.ID, Order: c.Order, DelaySeconds: c.RevealDelaySeconds}
		if reveal.Revealed(i) {
			view.Clues[i].Revealed = true
			view.Clues[i].Text = c.Text
		}
	}
	if gate := hunt.CheckSubmission(attempts, now, s.cooldown); gate.Status == hunt.Throttled {
		view.Wait = gate.Remaining
	}
	if ungraded := ungradedSolve(attempts); ungraded != nil {
		s.recordGrade(ctx, activityID, *ungraded)
	}
	return view, nil
}

// ClueText is a delivered clue.
type ClueText struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// RevealedClues returns the texts of the requested clues that belong to the
// question and are revealed for userID. Other ids are omitted and duplicate
// ids are returned once, in request order.
func (s *Service) RevealedClues(ctx context.Context, userID, questionID int64, clueIDs []int64) ([]ClueText, error) {
	if _, err := s.repo.GetQuestion(ctx, questionID); err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	timer, err := s.repo.GetTimer(ctx, userID, questionID)
	if errors.Is(err, store.ErrNotFound) {
		return []ClueText{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timer: %w", err)
	}

	clues, err := s.repo.ListClues(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("list clues: %w", err)
	}
	clues = hunt.Renumber(clues)
	reveal := hunt.ComputeReveal(timer.StartedAt, s.now(), domain.Delays(clues))

	visible := make(map[int64]string, reveal.RevealedCount)
	for i := 0; i < reveal.RevealedCount; i++ {
		visible[clues[i].ID] = clues[i].Text
	}

	out := make([]ClueText, 0, len(clueIDs))
	for _, id := range clueIDs {
		text, ok := visible[id]
		if !ok {
			continue
		}
		out = append(out, ClueText{ID: id, Text: text})
		delete(visible, id)
	}
	return out, nil
}

// SubmitResult is the outcome of one answer submission.
type SubmitResult struct {
	Status hunt.GateStatus
	// Correct is set when an accepted answer matched.
	Correct bool
	// Remaining and RemainingText are set when throttled.
	Remaining     time.Duration
	RemainingText string
	// Refresh tells the client to reload the view.
	Refresh bool
}

// Submit checks and records one answer. Throttling and already-solved
// outcomes are results, not errors.
func (s *Service) Submit(ctx context.Context, userID, activityID int64, answer string) (*SubmitResult, error) {
	if hunt.NormalizeAnswer(answer) == "" {
		return nil, fmt.Errorf("%w: answer is empty", ErrInvalidInput)
	}

	question, err := s.repo.GetQuestionByActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	if _, err := s.repo.EnsureTimer(ctx, userID, question.ID, s.now()); err != nil {
		return nil, fmt.Errorf("ensure timer: %w", err)
	}

	lock := s.submitLock(userID, question.ID)
	if !lock.TryLock() {
		s.logger.Debug("Concurrent submission rejected", "user_id", userID, "question_id", question.ID)
		return s.throttled(s.cooldown), nil
	}
	defer lock.Unlock()

	now := s.now()
	var gate hunt.GateResult
	var ungraded *domain.Attempt
	attempt, err := s.repo.RecordAttempt(ctx, userID, question.ID, func(prior []domain.Attempt) (*domain.Attempt, error) {
		gate = hunt.CheckSubmission(prior, now, s.cooldown)
		if gate.Status == hunt.AlreadySolved {
			ungraded = ungradedSolve(prior)
		}
		if gate.Status != hunt.Accepted {
			return nil, nil
		}
		return &domain.Attempt{
			SubmittedText: answer,
			IsCorrect:     hunt.Grade(answer, question.AnswerText),
			SubmittedAt:   now,
		}, nil
	})
	if errors.Is(err, store.ErrConflict) {
		s.logger.Debug("Submission lost a database race", "user_id", userID, "question_id", question.ID)
		return s.throttled(s.cooldown), nil
	}
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	switch gate.Status {
	case hunt.Throttled:
		return s.throttled(gate.Remaining), nil
	case hunt.AlreadySolved:
		if ungraded != nil {
			s.recordGrade(ctx, activityID, *ungraded)
		}
		return &SubmitResult{Status: hunt.AlreadySolved}, nil
	}

	result := &SubmitResult{Status: hunt.Accepted, Correct: attempt.IsCorrect}
	if attempt.IsCorrect {
		result.Refresh = true
		s.recordGrade(ctx, activityID, *attempt)
	}
	s.logger.Info("Answer submitted",
		"user_id", userID,
		"activity_id", activityID,
		"attempt_id", attempt.ID,
		"correct", attempt.IsCorrect)
	return result, nil
}

func (s *Service) throttled(remaining time.Duration) *SubmitResult {
	return &SubmitResult{
		Status:        hunt.Throttled,
		Remaining:     remaining,
		RemainingText: hunt.FormatWait(remaining),
	}
}

func (s *Service) submitLock(userID, questionID int64) *sync.Mutex {
	v, _ := s.submitLocks.LoadOrStore(pairKey{userID: userID, questionID: questionID}, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// recordGrade reports a solving attempt and stamps it as graded. The attempt
// is already committed, so a grade-book failure is logged and not returned;
// the next View or Submit of the same user sends it again.
func (s *Service) recordGrade(ctx context.Context, activityID int64, attempt domain.Attempt) {
	err := s.grades.RecordGrade(ctx, gradebook.Grade{
		UserID:     attempt.UserID,
		ActivityID: activityID,
		RawScore:   gradebook.MaxScore,
		GradedAt:   attempt.SubmittedAt,
	})
	if err != nil {
		s.logger.Error("Failed to record grade", "error", err,
			"user_id", attempt.UserID, "activity_id", activityID, "attempt_id", attempt.ID)
		return
	}
	if err := s.repo.MarkGraded(ctx, attempt.ID, s.now()); err != nil {
		s.logger.Warn("Failed to mark attempt graded", "error", err, "attempt_id", attempt.ID)
	}
}

// ungradedSolve returns the first correct attempt not yet delivered to the
// grade book, or nil.
func ungradedSolve(attempts []domain.Attempt) *domain.Attempt {
	for i := range attempts {
		if attempts[i].IsCorrect {
			if attempts[i].GradedAt != nil {
				return nil
			}
			return &attempts[i]
		}
	}
	return nil
}

// ActivityInput holds the editable fields of an activity.
type ActivityInput struct {
	Name     string
	Intro    string
	MaxGrade int
}

// CreateActivity creates an empty activity.
func (s *Service) CreateActivity(ctx context.Context, actor *domain.User, in ActivityInput) (*domain.Activity, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.MaxGrade == 0 {
		in.MaxGrade = domain.DefaultMaxGrade
	}
	if in.MaxGrade < 0 {
		return nil, fmt.Errorf("%w: max grade must be positive", ErrInvalidInput)
	}

	now := s.now()
	activity := &domain.Activity{
		Name:      name,
		Intro:     strings.TrimSpace(in.Intro),
		MaxGrade:  in.MaxGrade,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}
	s.logger.Info("Activity created", "activity_id", activity.ID, "user_id", actor.ID)
	return activity, nil
}

// DeleteActivity removes an activity and everything that belongs to it.
func (s *Service) DeleteActivity(ctx context.Context, actor *domain.User, activityID int64) error {
	if err := requireAuthor(actor); err != nil {
		return err
	}
	if err := s.repo.DeleteActivity(ctx, activityID); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	s.logger.Info("Activity deleted", "activity_id", activityID, "user_id", actor.ID)
	return nil
}

// SaveQuestion sets the question and canonical answer of an activity.
func (s *Service) SaveQuestion(ctx context.Context, actor *domain.User, activityID int64, questionText, answerText string) (*domain.Question, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	questionText = strings.TrimSpace(questionText)
	if questionText == "" || hunt.NormalizeAnswer(answerText) == "" {
		return nil, fmt.Errorf("%w: question and answer are required", ErrInvalidInput)
	}
	if _, err := s.repo.GetActivity(ctx, activityID); err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}

	question := &domain.Question{
		ActivityID:   activityID,
		QuestionText: questionText,
		AnswerText:   strings.TrimSpace(answerText),
	}
	if err := s.repo.SaveQuestion(ctx, question); err != nil {
		return nil, fmt.Errorf("save question: %w", err)
	}
	return question, nil
}

// ReplaceClues validates an edited clue list and stores it as the complete
// list of the activity's question, numbered in submitted order.
func (s *Service) ReplaceClues(ctx context.Context, actor *domain.User, activityID int64, inputs []hunt.ClueInput) ([]domain.Clue, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	question, err := s.repo.GetQuestionByActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	clues, err := hunt.NormalizeClues(question.ID, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	saved, err := s.repo.ReplaceClues(ctx, question.ID, clues)
	if err != nil {
		return nil, fmt.Errorf("replace clues: %w", err)
	}
	return saved, nil
}

// RemoveClue deletes one clue and renumbers the rest.
func (s *Service) RemoveClue(ctx context.Context, actor *domain.User, clueID int64) ([]domain.Clue, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	clue, err := s.repo.GetClue(ctx, clueID)
	if err != nil {
		return nil, fmt.Errorf("get clue: %w", err)
	}
	clues, err := s.repo.ListClues(ctx, clue.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("list clues: %w", err)
	}

	remaining := make([]domain.Clue, 0, len(clues))
	for _, c := range clues {
		if c.ID != clueID {
			remaining = append(remaining, c)
		}
	}
	saved, err := s.repo.ReplaceClues(ctx, clue.QuestionID, hunt.Renumber(remaining))
	if err != nil {
		return nil, fmt.Errorf("replace clues: %w", err)
	}
	return saved, nil
}

// ListAttempts returns every attempt made on an activity.
func (s *Service) ListAttempts(ctx context.Context, actor *domain.User, activityID int64) ([]domain.Attempt, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	question, err := s.repo.GetQuestionByActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	attempts, err := s.repo.ListQuestionAttempts(ctx, question.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

func requireAuthor(actor *domain.User) error {
	if actor == nil || !actor.CanAuthor() {
		return ErrForbidden
	}
	return nil
}
