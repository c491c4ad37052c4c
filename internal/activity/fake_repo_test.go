package activity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/gradebook"
	"github.com/ashureev/cluehunt/internal/store"
)

// fakeRepo is an in-memory store.Repository.
type fakeRepo struct {
	mu         sync.Mutex
	nextID     int64
	users      map[int64]*domain.User
	activities map[int64]*domain.Activity
	questions  map[int64]*domain.Question
	clues      map[int64]domain.Clue
	timers     map[pairKey]domain.UserTimer
	attempts   []domain.Attempt

	recordErr error
	// onRecord runs inside RecordAttempt while the repo is locked.
	onRecord func()
}

var _ store.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[int64]*domain.User),
		activities: make(map[int64]*domain.Activity),
		questions:  make(map[int64]*domain.Question),
		clues:      make(map[int64]domain.Clue),
		timers:     make(map[pairKey]domain.UserTimer),
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *user
	f.users[u.ID] = &u
	return nil
}

func (f *fakeRepo) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) CreateActivity(_ context.Context, activity *domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	activity.ID = f.id()
	a := *activity
	f.activities[a.ID] = &a
	return nil
}

func (f *fakeRepo) GetActivity(_ context.Context, activityID int64) (*domain.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.activities[activityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) DeleteActivity(_ context.Context, activityID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.activities[activityID]; !ok {
		return store.ErrNotFound
	}
	delete(f.activities, activityID)
	for qid, q := range f.questions {
		if q.ActivityID != activityID {
			continue
		}
		delete(f.questions, qid)
		for cid, c := range f.clues {
			if c.QuestionID == qid {
				delete(f.clues, cid)
			}
		}
		for k := range f.timers {
			if k.questionID == qid {
				delete(f.timers, k)
			}
		}
		f.attempts = slices.DeleteFunc(f.attempts, func(a domain.Attempt) bool { return a.QuestionID == qid })
	}
	return nil
}

func (f *fakeRepo) SaveQuestion(_ context.Context, question *domain.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.questions {
		if q.ActivityID == question.ActivityID {
			question.ID = q.ID
		}
	}
	if question.ID == 0 {
		question.ID = f.id()
	}
	q := *question
	f.questions[q.ID] = &q
	return nil
}

func (f *fakeRepo) GetQuestion(_ context.Context, questionID int64) (*domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[questionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeRepo) GetQuestionByActivity(_ context.Context, activityID int64) (*domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.questions {
		if q.ActivityID == activityID {
			cp := *q
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRepo) ListClues(_ context.Context, questionID int64) ([]domain.Clue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Clue
	for _, c := range f.clues {
		if c.QuestionID == questionID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Clue) int { return a.Order - b.Order })
	return out, nil
}

func (f *fakeRepo) GetClue(_ context.Context, clueID int64) (*domain.Clue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clues[clueID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (f *fakeRepo) ReplaceClues(_ context.Context, questionID int64, clues []domain.Clue) ([]domain.Clue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clues {
		if c.QuestionID == questionID {
			delete(f.clues, id)
		}
	}
	saved := make([]domain.Clue, len(clues))
	for i, c := range clues {
		c.QuestionID = questionID
		if c.ID == 0 {
			c.ID = f.id()
		}
		f.clues[c.ID] = c
		saved[i] = c
	}
	return saved, nil
}

func (f *fakeRepo) EnsureTimer(_ context.Context, userID, questionID int64, startedAt time.Time) (*domain.UserTimer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pairKey{userID: userID, questionID: questionID}
	t, ok := f.timers[k]
	if !ok {
		t = domain.UserTimer{UserID: userID, QuestionID: questionID, StartedAt: startedAt}
		f.timers[k] = t
	}
	return &t, nil
}

func (f *fakeRepo) GetTimer(_ context.Context, userID, questionID int64) (*domain.UserTimer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.timers[pairKey{userID: userID, questionID: questionID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (f *fakeRepo) ListAttempts(_ context.Context, userID, questionID int64) ([]domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attemptsFor(userID, questionID), nil
}

func (f *fakeRepo) attemptsFor(userID, questionID int64) []domain.Attempt {
	var out []domain.Attempt
	for _, a := range f.attempts {
		if a.UserID == userID && a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeRepo) ListQuestionAttempts(_ context.Context, questionID int64) ([]domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Attempt
	for _, a := range f.attempts {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) RecordAttempt(_ context.Context, userID, questionID int64, decide store.DecideFunc) (*domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	if f.onRecord != nil {
		f.onRecord()
	}
	if _, ok := f.timers[pairKey{userID: userID, questionID: questionID}]; !ok {
		return nil, store.ErrNotFound
	}
	attempt, err := decide(f.attemptsFor(userID, questionID))
	if err != nil || attempt == nil {
		return nil, err
	}
	attempt.ID = f.id()
	attempt.UserID = userID
	attempt.QuestionID = questionID
	f.attempts = append(f.attempts, *attempt)
	return attempt, nil
}

func (f *fakeRepo) MarkGraded(_ context.Context, attemptID int64, gradedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.attempts {
		if f.attempts[i].ID == attemptID {
			at := gradedAt
			f.attempts[i].GradedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

// fakeGrades records grade-book calls.
type fakeGrades struct {
	mu     sync.Mutex
	grades []gradebook.Grade
	err    error
}

func (g *fakeGrades) RecordGrade(_ context.Context, grade gradebook.Grade) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grades = append(g.grades, grade)
	return g.err
}

func (g *fakeGrades) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGrades) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.grades)
}
