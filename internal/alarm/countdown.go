package alarm

import (
	"fmt"
	"time"

	"taskreminder/internal/domain"
)

// Countdown is the read-only view of an armed or fired alarm.
type Countdown struct {
	Remaining     time.Duration
	Elapsed       time.Duration
	TotalDuration time.Duration
	IsExpired     bool
}

// QueryCountdown computes the countdown for t at now. It reports false when
// the alarm is disabled or the start time or duration was never recorded.
// It reads nothing but t and now.
func QueryCountdown(t domain.Task, now time.Time) (Countdown, bool) {
	if !t.Alarm.Enabled || t.AlarmStartTime == nil || t.AlarmDuration == nil {
		return Countdown{}, false
	}
	elapsedMs := addMillis(now.UnixMilli(), -*t.AlarmStartTime)
	remainingMs := addMillis(*t.AlarmDuration, -elapsedMs)
	return Countdown{
		Remaining:     millisDuration(remainingMs),
		Elapsed:       millisDuration(elapsedMs),
		TotalDuration: millisDuration(*t.AlarmDuration),
		IsExpired:     remainingMs <= 0,
	}, true
}

// Label is the caption shown next to Display.
func (c Countdown) Label() string {
	if c.IsExpired {
		return "Overdue by"
	}
	return "Time remaining"
}

// Display renders the remaining time as HH:MM:SS, prefixed with "-" once
// the alarm is overdue. Hours are not wrapped at 24.
func (c Countdown) Display() string {
	d := c.Remaining
	sign := ""
	if c.IsExpired {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, total/3600, total%3600/60, total%60)
}

// Progress is the elapsed fraction of the total duration in [0, 1].
func (c Countdown) Progress() float64 {
	if c.TotalDuration <= 0 {
		return 1
	}
	p := float64(c.Elapsed) / float64(c.TotalDuration)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// State is the lifecycle position of a task's alarm.
type State string

const (
	StateDisabled State = "disabled"
	StateArmed    State = "armed"
	StateFired    State = "fired"
)

// StateOf classifies t at now. armed reports whether a live timer exists;
// a passive process sees no timers, so a future target still counts as
// armed.
func StateOf(t domain.Task, now time.Time, armed bool) State {
	if !t.Alarm.Enabled || t.AlarmTargetTimestamp == nil {
		return StateDisabled
	}
	if armed || now.UnixMilli() < *t.AlarmTargetTimestamp {
		return StateArmed
	}
	return StateFired
}
