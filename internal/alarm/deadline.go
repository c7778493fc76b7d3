package alarm

import (
	"time"

	"taskreminder/internal/domain"
)

// Deadline is the timing metadata derived when an alarm is armed.
// Target always equals Start+Duration unless the target lies before Start,
// in which case Duration is clamped to zero. Duration saturates for spans
// beyond the nanosecond range; Apply stores the exact span in milliseconds.
type Deadline struct {
	Start    time.Time
	Target   time.Time
	Duration time.Duration
}

// ComputeDeadline derives the absolute deadline for req armed at now.
// Datetime targets in the past are accepted. A Disabled request yields a
// zero-length deadline at now; callers do not arm disabled alarms.
func ComputeDeadline(req Request, now time.Time) Deadline {
	startMs := now.UnixMilli()
	targetMs := startMs
	switch r := req.(type) {
	case Datetime:
		targetMs = r.At.UnixMilli()
	case Duration:
		targetMs = addMillis(startMs, r.OffsetMillis())
	}
	return Deadline{
		Start:    time.UnixMilli(startMs),
		Target:   time.UnixMilli(targetMs),
		Duration: millisDuration(spanMillis(startMs, targetMs)),
	}
}

// spanMillis is target-start, or zero when target is not after start.
func spanMillis(start, target int64) int64 {
	if target <= start {
		return 0
	}
	return addMillis(target, -start)
}

// Apply writes the deadline onto the task's timing fields.
func (d Deadline) Apply(t *domain.Task) {
	start := d.Start.UnixMilli()
	target := d.Target.UnixMilli()
	dur := spanMillis(start, target)
	t.AlarmStartTime = &start
	t.AlarmTargetTimestamp = &target
	t.AlarmDuration = &dur
}
