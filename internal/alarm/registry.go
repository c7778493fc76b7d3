package alarm

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// MaxTimerDelay is the largest delay accepted by a single timer (2^31-1
// milliseconds, about 24.8 days). Longer waits are chunked.
const MaxTimerDelay = time.Duration(1<<31-1) * time.Millisecond

// ErrDelayTooLong is returned when a single arm exceeds the registry's
// maximum delay. Longer waits must be chunked by the caller.
var ErrDelayTooLong = errors.New("delay exceeds maximum single timer delay")

type timerEntry struct {
	timer  clockwork.Timer
	gen    uint64
	target time.Time
}

// Registry owns at most one live timer per task. Every arm gets a fresh
// generation; a callback whose generation is no longer current must be
// ignored by the caller (see Current).
//
// Registry is not safe for concurrent use.
type Registry struct {
	clock    clockwork.Clock
	maxDelay time.Duration
	entries  map[string]timerEntry
	gen      uint64
}

// NewRegistry returns a registry backed by c. A non-positive maxDelay
// selects MaxTimerDelay.
func NewRegistry(c clockwork.Clock, maxDelay time.Duration) *Registry {
	if maxDelay <= 0 {
		maxDelay = MaxTimerDelay
	}
	return &Registry{
		clock:    c,
		maxDelay: maxDelay,
		entries:  make(map[string]timerEntry),
	}
}

// MaxDelay returns the largest delay accepted by Arm.
func (r *Registry) MaxDelay() time.Duration { return r.maxDelay }

// Arm cancels any existing timer for taskID and schedules fn after delay.
// target is the alarm deadline the timer works towards, which may lie
// beyond delay when the wait is chunked. fn receives the arm generation.
func (r *Registry) Arm(taskID string, delay time.Duration, target time.Time, fn func(gen uint64)) (uint64, error) {
	if delay > r.maxDelay {
		return 0, fmt.Errorf("arm %s for %s: %w", taskID, delay, ErrDelayTooLong)
	}
	r.Cancel(taskID)
	r.gen++
	gen := r.gen
	t := r.clock.AfterFunc(delay, func() { fn(gen) })
	r.entries[taskID] = timerEntry{timer: t, gen: gen, target: target}
	return gen, nil
}

// Cancel stops and removes the timer for taskID. It reports whether an
// entry existed.
func (r *Registry) Cancel(taskID string) bool {
	e, ok := r.entries[taskID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.entries, taskID)
	return true
}

// CancelAll stops every timer and returns how many were removed.
func (r *Registry) CancelAll() int {
	n := len(r.entries)
	for id, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, id)
	}
	return n
}

// Current reports whether gen is the live generation for taskID.
func (r *Registry) Current(taskID string, gen uint64) bool {
	e, ok := r.entries[taskID]
	return ok && e.gen == gen
}

// Target returns the deadline of the live timer for taskID.
func (r *Registry) Target(taskID string) (time.Time, bool) {
	e, ok := r.entries[taskID]
	return e.target, ok
}

// Len returns the number of live timers.
func (r *Registry) Len() int { return len(r.entries) }
