package hunt

import (
	"fmt"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
)

// GateStatus is the outcome of a submission check.
type GateStatus int

const (
	// Accepted means the submission may be graded now.
	Accepted GateStatus = iota
	// AlreadySolved means a correct attempt exists; nothing more is graded.
	AlreadySolved
	// Throttled means the cooldown since the last submission has not elapsed.
	Throttled
)

// String returns the wire name of the status.
func (s GateStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case AlreadySolved:
		return "already_solved"
	case Throttled:
		return "throttled"
	default:
		return fmt.Sprintf("GateStatus(%d)", int(s))
	}
}

// GateResult is the decision for one submission.
type GateResult struct {
	Status GateStatus
	// Remaining is set only for Throttled.
	Remaining time.Duration
}

// CheckSubmission decides whether a new submission for one (user, question)
// pair is accepted. prior must hold only that pair's attempts; order is not
// significant. Rules apply in order: any correct attempt means AlreadySolved,
// a last submission less than cooldown ago means Throttled, otherwise Accepted.
func CheckSubmission(prior []domain.Attempt, now time.Time, cooldown time.Duration) GateResult {
	var last time.Time
	for _, a := range prior {
		if a.IsCorrect {
			return GateResult{Status: AlreadySolved}
		}
		if a.SubmittedAt.After(last) {
			last = a.SubmittedAt
		}
	}

	if last.IsZero() || cooldown <= 0 {
		return GateResult{Status: Accepted}
	}

	since := now.Sub(last)
	if since < cooldown {
		if since < 0 {
			since = 0
		}
		return GateResult{Status: Throttled, Remaining: cooldown - since}
	}
	return GateResult{Status: Accepted}
}

// HasSolved reports whether any attempt in prior is correct.
func HasSolved(prior []domain.Attempt) bool {
	for _, a := range prior {
		if a.IsCorrect {
			return true
		}
	}
	return false
}

// FormatWait renders d as minutes and seconds, e.g. "1m 30s". Partial
// seconds round up so a pending wait never prints as "0m 0s".
func FormatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
