// Package hunt implements clue reveal scheduling, submission gating and
// answer grading. Everything here is pure: callers pass the persisted
// timer, the attempt history and the current time explicitly.
package hunt

import "time"

// Reveal is the visible state of a clue sequence at one instant.
type Reveal struct {
	// RevealedCount is the number of leading clues whose cumulative delay has elapsed.
	RevealedCount int
	// UntilNext is the wait before the next clue appears. It is zero once
	// every clue is revealed.
	UntilNext time.Duration
	// Total is the number of clues in the sequence.
	Total int
}

// Complete reports whether every clue is revealed. A complete sequence has
// no further clock-driven transitions.
func (r Reveal) Complete() bool {
	return r.RevealedCount >= r.Total
}

// Revealed reports whether the clue at zero-based position i is visible.
func (r Reveal) Revealed(i int) bool {
	return i >= 0 && i < r.RevealedCount
}

// ComputeReveal returns how many clues are visible at now for a sequence that
// started at startedAt. Clue i is revealed once the sum of delays[0..i] has
// elapsed; the threshold instant itself counts as elapsed.
//
// The result depends only on now - startedAt, so it can be re-evaluated any
// number of times (page reloads, polling) without drifting.
func ComputeReveal(startedAt, now time.Time, delays []time.Duration) Reveal {
	r := Reveal{Total: len(delays)}

	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	var threshold time.Duration
	for _, d := range delays {
		if d < 0 {
			d = 0
		}
		threshold += d
		if threshold > elapsed {
			r.UntilNext = threshold - elapsed
			return r
		}
		r.RevealedCount++
	}
	return r
}
