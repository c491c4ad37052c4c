package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/hunt"
	"github.com/ashureev/cluehunt/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	teacher = &domain.User{ID: 1, Role: domain.RoleTeacher}
	learner = &domain.User{ID: 2, Role: domain.RoleLearner}
)

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	grades   *fakeGrades
	clock    *fakeClock
	activity *domain.Activity
	question *domain.Question
	clues    []domain.Clue
}

// newFixture builds an activity with answer "Paris" and clue delays of
// 120s, 60s and 300s.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	grades := &fakeGrades{}
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	svc := NewService(repo, grades, Options{Cooldown: time.Minute, Now: clock.Now})
	ctx := context.Background()

	activity, err := svc.CreateActivity(ctx, teacher, ActivityInput{Name: "Capitals"})
	if err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}
	question, err := svc.SaveQuestion(ctx, teacher, activity.ID, "Capital of France?", "Paris")
	if err != nil {
		t.Fatalf("SaveQuestion failed: %v", err)
	}
	clues, err := svc.ReplaceClues(ctx, teacher, activity.ID, []hunt.ClueInput{
		{Text: "European city", DelaySeconds: 120},
		{Text: "On the Seine", DelaySeconds: 60},
		{Text: "Eiffel Tower", DelaySeconds: 300},
	})
	if err != nil {
		t.Fatalf("ReplaceClues failed: %v", err)
	}

	return &fixture{svc: svc, repo: repo, grades: grades, clock: clock, activity: activity, question: question, clues: clues}
}

func TestViewRevealsOnSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.View(ctx, learner.ID, f.activity.ID)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if view.Reveal.RevealedCount != 0 || view.Reveal.UntilNext != 120*time.Second {
		t.Errorf("Expected nothing revealed with 120s to go, got %+v", view.Reveal)
	}
	for _, c := range view.Clues {
		if c.Text != "" {
			t.Errorf("Expected unrevealed clue %d to hide its text", c.ID)
		}
	}

	f.clock.Advance(181 * time.Second)
	view, err = f.svc.View(ctx, learner.ID, f.activity.ID)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if view.Reveal.RevealedCount != 2 {
		t.Fatalf("Expected 2 revealed, got %d", view.Reveal.RevealedCount)
	}
	if view.Reveal.UntilNext != 299*time.Second {
		t.Errorf("Expected 299s until next, got %s", view.Reveal.UntilNext)
	}
	if view.Clues[1].Text != "On the Seine" || view.Clues[2].Text != "" {
		t.Errorf("Unexpected clue texts: %+v", view.Clues)
	}
}

func TestViewDoesNotResetTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.View(ctx, learner.ID, f.activity.ID)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	f.clock.Advance(10 * time.Minute)
	again, err := f.svc.View(ctx, learner.ID, f.activity.ID)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if !again.StartedAt.Equal(first.StartedAt) {
		t.Errorf("Expected startedAt %v to survive revisits, got %v", first.StartedAt, again.StartedAt)
	}
	if !again.Reveal.Complete() {
		t.Errorf("Expected all clues revealed after 10m, got %+v", again.Reveal)
	}
}

func TestViewMissingQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.CreateActivity(ctx, teacher, ActivityInput{Name: "Empty"})
	if err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}
	if _, err := f.svc.View(ctx, learner.ID, empty.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.View(ctx, learner.ID, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown activity, got %v", err)
	}
	if len(f.repo.timers) != 0 {
		t.Errorf("Expected no timer to be created, got %d", len(f.repo.timers))
	}
}

func TestRevealedCluesFiltersUnrevealed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got, err := f.svc.RevealedClues(ctx, learner.ID, f.question.ID, []int64{f.clues[0].ID}); err != nil || len(got) != 0 {
		t.Fatalf("Expected nothing before the timer starts, got %v (%v)", got, err)
	}
	if _, err := f.svc.View(ctx, learner.ID, f.activity.ID); err != nil {
		t.Fatalf("View failed: %v", err)
	}

	f.clock.Advance(130 * time.Second)
	ids := []int64{f.clues[2].ID, f.clues[0].ID, f.clues[0].ID, 9999}
	got, err := f.svc.RevealedClues(ctx, learner.ID, f.question.ID, ids)
	if err != nil {
		t.Fatalf("RevealedClues failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != f.clues[0].ID || got[0].Text != "European city" {
		t.Errorf("Expected only the first clue, got %+v", got)
	}

	if _, err := f.svc.RevealedClues(ctx, learner.ID, 9999, ids); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown question, got %v", err)
	}
}

func TestSubmitFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "Lyon")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.Accepted || res.Correct {
		t.Errorf("Expected accepted and incorrect, got %+v", res)
	}

	f.clock.Advance(20 * time.Second)
	res, err = f.svc.Submit(ctx, learner.ID, f.activity.ID, "Paris")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.Throttled || res.Remaining != 40*time.Second || res.RemainingText != "0m 40s" {
		t.Errorf("Expected throttled with 40s, got %+v", res)
	}

	f.clock.Advance(41 * time.Second)
	res, err = f.svc.Submit(ctx, learner.ID, f.activity.ID, " PARIS ")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.Accepted || !res.Correct || !res.Refresh {
		t.Errorf("Expected accepted, correct and refresh, got %+v", res)
	}
	if f.grades.count() != 1 {
		t.Fatalf("Expected one grade, got %d", f.grades.count())
	}
	if g := f.grades.grades[0]; g.UserID != learner.ID || g.ActivityID != f.activity.ID || g.RawScore != 100 {
		t.Errorf("Unexpected grade: %+v", g)
	}

	f.clock.Advance(time.Hour)
	res, err = f.svc.Submit(ctx, learner.ID, f.activity.ID, "Paris")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.AlreadySolved {
		t.Errorf("Expected already_solved, got %s", res.Status)
	}
	if f.grades.count() != 1 {
		t.Errorf("Expected the grade book to be updated once, got %d", f.grades.count())
	}

	attempts, err := f.svc.ListAttempts(ctx, teacher, f.activity.ID)
	if err != nil {
		t.Fatalf("ListAttempts failed: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("Expected 2 recorded attempts, got %d", len(attempts))
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, " \t "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, learner.ID, 9999, "Paris"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if len(f.repo.attempts) != 0 {
		t.Errorf("Expected no attempts, got %d", len(f.repo.attempts))
	}
}

func TestSubmitConcurrentSubmissionFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lock := f.svc.submitLock(learner.ID, f.question.ID)
	lock.Lock()
	res, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "Paris")
	lock.Unlock()
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.Throttled || res.Remaining != time.Minute {
		t.Errorf("Expected throttled with full cooldown, got %+v", res)
	}
	if len(f.repo.attempts) != 0 {
		t.Errorf("Expected no attempts, got %d", len(f.repo.attempts))
	}
}

func TestSubmitParallelRecordsOneAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "Paris"); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(f.repo.attempts) != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", len(f.repo.attempts))
	}
	if f.grades.count() != 1 {
		t.Errorf("Expected exactly 1 grade, got %d", f.grades.count())
	}
}

func TestSubmitStoreConflictIsThrottled(t *testing.T) {
	f := newFixture(t)
	f.repo.recordErr = store.ErrConflict

	res, err := f.svc.Submit(context.Background(), learner.ID, f.activity.ID, "Paris")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.Throttled {
		t.Errorf("Expected throttled, got %s", res.Status)
	}
}

func TestSubmitGradeBookFailureKeepsResult(t *testing.T) {
	f := newFixture(t)
	f.grades.err = errors.New("grade book down")

	res, err := f.svc.Submit(context.Background(), learner.ID, f.activity.ID, "paris")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !res.Correct {
		t.Error("Expected correct result despite grade-book failure")
	}
}

func TestSubmitResendsUndeliveredGrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grades.fail(errors.New("grade book down"))

	if _, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "paris"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	attempts, _ := f.repo.ListAttempts(ctx, learner.ID, f.question.ID)
	if len(attempts) != 1 || attempts[0].GradedAt != nil {
		t.Fatalf("Expected one ungraded attempt, got %+v", attempts)
	}

	f.grades.fail(nil)
	f.clock.Advance(time.Hour)
	res, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "paris")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != hunt.AlreadySolved {
		t.Errorf("Expected already_solved, got %s", res.Status)
	}
	if f.grades.count() != 2 {
		t.Fatalf("Expected the grade to be sent again, got %d calls", f.grades.count())
	}
	if g := f.grades.grades[1]; !g.GradedAt.Equal(attempts[0].SubmittedAt) {
		t.Errorf("Expected grade stamped with the solving attempt, got %s", g.GradedAt)
	}

	attempts, _ = f.repo.ListAttempts(ctx, learner.ID, f.question.ID)
	if attempts[0].GradedAt == nil {
		t.Error("Expected attempt marked graded")
	}
	if _, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "paris"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if f.grades.count() != 2 {
		t.Errorf("Expected no further grade calls, got %d", f.grades.count())
	}
}

func TestViewResendsUndeliveredGrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grades.fail(errors.New("grade book down"))

	if _, err := f.svc.Submit(ctx, learner.ID, f.activity.ID, "paris"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.grades.fail(nil)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.View(ctx, learner.ID, f.activity.ID); err != nil {
			t.Fatalf("View failed: %v", err)
		}
	}
	if f.grades.count() != 2 {
		t.Errorf("Expected one resend across two views, got %d calls", f.grades.count())
	}
}

func TestAuthoringRequiresTeacher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateActivity(ctx, learner, ActivityInput{Name: "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("CreateActivity: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.DeleteActivity(ctx, learner, f.activity.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteActivity: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.ReplaceClues(ctx, learner, f.activity.ID, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("ReplaceClues: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.ListAttempts(ctx, nil, f.activity.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("ListAttempts: expected ErrForbidden, got %v", err)
	}
}

func TestCreateActivityDefaults(t *testing.T) {
	f := newFixture(t)
	if f.activity.MaxGrade != domain.DefaultMaxGrade {
		t.Errorf("Expected default grade %d, got %d", domain.DefaultMaxGrade, f.activity.MaxGrade)
	}
	if _, err := f.svc.CreateActivity(context.Background(), teacher, ActivityInput{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for blank name, got %v", err)
	}
}

func TestReplaceCluesValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReplaceClues(context.Background(), teacher, f.activity.ID, []hunt.ClueInput{{Text: "", DelaySeconds: 10}})
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, hunt.ErrEmptyClueText) {
		t.Errorf("Expected ErrInvalidInput wrapping ErrEmptyClueText, got %v", err)
	}
}

func TestRemoveClueRenumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remaining, err := f.svc.RemoveClue(ctx, teacher, f.clues[0].ID)
	if err != nil {
		t.Fatalf("RemoveClue failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("Expected 2 clues, got %d", len(remaining))
	}
	if remaining[0].ID != f.clues[1].ID || remaining[0].Order != 1 || remaining[1].Order != 2 {
		t.Errorf("Expected contiguous renumbering, got %+v", remaining)
	}
	if _, err := f.svc.RemoveClue(ctx, teacher, f.clues[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for removed clue, got %v", err)
	}
}

func TestDeleteActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.DeleteActivity(ctx, teacher, f.activity.ID); err != nil {
		t.Fatalf("DeleteActivity failed: %v", err)
	}
	if _, err := f.svc.View(ctx, learner.ID, f.activity.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
