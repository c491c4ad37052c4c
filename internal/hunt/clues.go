package hunt

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
)

// MaxRevealDelay bounds a single clue delay.
const MaxRevealDelay = 7 * 24 * time.Hour

// MaxRevealDelaySeconds is MaxRevealDelay in whole seconds. Compare seconds
// against it directly; converting a client value to a Duration can overflow.
const MaxRevealDelaySeconds = int64(MaxRevealDelay / time.Second)

var (
	// ErrEmptyClueText is returned for a clue whose text is blank.
	ErrEmptyClueText = errors.New("clue text is empty")
	// ErrInvalidDelay is returned for a negative or oversized clue delay.
	ErrInvalidDelay = errors.New("clue delay out of range")
)

// ClueInput is one clue as submitted by an editor. Position in the input
// slice, not any client-supplied index, decides the clue order.
type ClueInput struct {
	ID           int64
	Text         string
	DelaySeconds int64
}

// NormalizeClues validates an edited clue list and assigns contiguous
// 1-based order values in input order. The returned clues carry questionID.
func NormalizeClues(questionID int64, inputs []ClueInput) ([]domain.Clue, error) {
	out := make([]domain.Clue, 0, len(inputs))
	for i, in := range inputs {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, fmt.Errorf("clue %d: %w", i+1, ErrEmptyClueText)
		}
		if in.DelaySeconds < 0 || in.DelaySeconds > MaxRevealDelaySeconds {
			return nil, fmt.Errorf("clue %d: %w", i+1, ErrInvalidDelay)
		}
		out = append(out, domain.Clue{
			ID:                 in.ID,
			QuestionID:         questionID,
			Text:               text,
			Order:              i + 1,
			RevealDelaySeconds: in.DelaySeconds,
		})
	}
	return out, nil
}

// Renumber returns clues with order reassigned 1..n, keeping their relative
// order. It is used after a single clue is removed.
func Renumber(clues []domain.Clue) []domain.Clue {
	out := make([]domain.Clue, len(clues))
	copy(out, clues)
	SortByOrder(out)
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// SortByOrder sorts clues in place by Order, breaking ties by ID.
func SortByOrder(clues []domain.Clue) {
	slices.SortFunc(clues, func(a, b domain.Clue) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// ParseID parses a positive decimal identifier. Anything else, including
// non-numeric input, yields ok == false so callers can treat the request as
// a no-op instead of failing.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
