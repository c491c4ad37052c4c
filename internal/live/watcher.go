package live

import (
	"context"
	"time"

	"github.com/ashureev/cluehunt/internal/activity"
)

// Event types sent on a reveal stream.
const (
	EventClue     = "clue"
	EventTick     = "tick"
	EventComplete = "complete"
)

// Event is one frame of a reveal stream.
type Event struct {
	Type        string `json:"type"`
	ID          int64  `json:"id,omitempty"`
	Order       int    `json:"order,omitempty"`
	Text        string `json:"text,omitempty"`
	Revealed    int    `json:"revealed"`
	Total       int    `json:"total"`
	UntilNextMS int64  `json:"until_next_ms"`
}

// Watcher re-evaluates a schedule on a fixed tick and emits reveals.
type Watcher struct {
	Tick time.Duration
	Now  func() time.Time
}

// Run emits every revealed clue exactly once, in order. While a clue is
// pending it emits a tick frame whenever the whole-second countdown changes.
// Once every clue is out it emits a complete frame and returns nil; the
// terminal state has no further transitions. It returns ctx.Err() if ctx
// ends first, or the first emit error.
func (w Watcher) Run(ctx context.Context, sched *activity.Schedule, emit func(Event) error) error {
	tick := w.Tick
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	sent := 0
	lastSeconds := int64(-1)
	for {
		reveal := sched.Reveal(now())

		for ; sent < reveal.RevealedCount; sent++ {
			c := sched.Clues[sent]
			if err := emit(Event{
				Type:        EventClue,
				ID:          c.ID,
				Order:       c.Order,
				Text:        c.Text,
				Revealed:    sent + 1,
				Total:       reveal.Total,
				UntilNextMS: reveal.UntilNext.Milliseconds(),
			}); err != nil {
				return err
			}
		}

		if reveal.Complete() {
			return emit(Event{Type: EventComplete, Revealed: reveal.RevealedCount, Total: reveal.Total})
		}

		seconds := int64((reveal.UntilNext + time.Second - 1) / time.Second)
		if seconds != lastSeconds {
			lastSeconds = seconds
			if err := emit(Event{
				Type:        EventTick,
				Revealed:    reveal.RevealedCount,
				Total:       reveal.Total,
				UntilNextMS: reveal.UntilNext.Milliseconds(),
			}); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
