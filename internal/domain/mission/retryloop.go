package mission

import (
	"hash/fnv"
	"sort"
	"strings"
)

// RetryLoopDetector watches the sequence of review outcomes for a single
// mission and aborts it when the reviewer keeps returning byte-identical
// feedback. State is O(1): the hash of the previous round's feedback set
// plus a consecutive-repeat counter, so it round-trips through a checkpoint.
type RetryLoopDetector struct {
	threshold int
	lastHash  uint64
	repeats   int
}

// DefaultRetryThreshold aborts on the third consecutive identical review
// (counter reaches 2). This default is load-bearing for acceptance
// behavior; change it via configuration, not here.
const DefaultRetryThreshold = 2

// NewRetryLoopDetector creates a detector that aborts once the repeat
// counter reaches threshold.
func NewRetryLoopDetector(threshold int) *RetryLoopDetector {
	if threshold < 1 {
		threshold = DefaultRetryThreshold
	}
	return &RetryLoopDetector{threshold: threshold}
}

// Classify records one review outcome and reports whether the mission
// should abort as a no-progress retry loop. Only needs_changes outcomes
// participate; anything else clears the detector.
func (d *RetryLoopDetector) Classify(outcome Outcome, feedback []string) (abort bool) {
	if outcome != OutcomeNeedsChanges {
		d.lastHash = 0
		d.repeats = 0
		return false
	}

	h := FeedbackHash(feedback)
	if h == d.lastHash && d.lastHash != 0 {
		d.repeats++
	} else {
		d.repeats = 0
		d.lastHash = h
	}
	return d.repeats >= d.threshold
}

// Repeats returns the consecutive-identical-feedback counter.
func (d *RetryLoopDetector) Repeats() int {
	return d.repeats
}

// LastHash returns the hash of the previous round's feedback set.
func (d *RetryLoopDetector) LastHash() uint64 {
	return d.lastHash
}

// Restore reloads detector state from a checkpoint.
func (d *RetryLoopDetector) Restore(lastHash uint64, repeats int) {
	d.lastHash = lastHash
	d.repeats = repeats
}

// FeedbackHash computes an order-independent FNV-64a hash of a feedback
// list: entries are sorted, then joined with a newline. Two rounds with
// the same feedback strings in any order hash identically.
func FeedbackHash(feedback []string) uint64 {
	sorted := make([]string, len(feedback))
	copy(sorted, feedback)
	sort.Strings(sorted)

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(sorted, "\n")))
	return h.Sum64()
}
