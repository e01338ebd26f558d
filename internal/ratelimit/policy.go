package ratelimit

import "time"

// Policy bounds how many requests one identifier may make per fixed window.
// MaxRequests <= 0 rejects everything.
type Policy struct {
	Name        string
	Window      time.Duration
	MaxRequests int
}

// Presets. The windows match; only the ceilings differ.
var (
	AuthPolicy = Policy{Name: "auth", Window: 15 * time.Minute, MaxRequests: 5}
	APIPolicy  = Policy{Name: "api", Window: 15 * time.Minute, MaxRequests: 100}
)

// Decision is the outcome of one admission attempt.
type Decision struct {
	Admitted  bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Entry is the per-identifier window state.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// take applies the fixed-window algorithm to e in place. A nil or expired entry is reset first.
// Rejected attempts leave the counter untouched.
func take(e *Entry, p Policy, now time.Time) Decision {
	if !e.ResetAt.After(now) {
		e.Count = 0
		e.ResetAt = now.Add(p.Window)
	}
	d := Decision{Limit: p.MaxRequests, ResetAt: e.ResetAt}
	if e.Count >= p.MaxRequests {
		return d
	}
	e.Count++
	d.Admitted = true
	d.Remaining = p.MaxRequests - e.Count
	return d
}
