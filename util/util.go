package util

import "time"

// SkipThrottler lets through at most one event per duration and counts the rest.
type SkipThrottler struct {
	d       time.Duration
	last    time.Time
	skipped int
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	tt := &SkipThrottler{d: d, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC)}
	return tt
}

func (tt *SkipThrottler) Ok() bool {
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		tt.skipped++
		return false
	}

	tt.last = time.Now()
	return true
}

// Skipped returns the number of events suppressed since the last call.
func (tt *SkipThrottler) Skipped() int {
	n := tt.skipped
	tt.skipped = 0
	return n
}
