package domain

import "errors"

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// AlarmMode selects how an alarm deadline is derived.
type AlarmMode string

const (
	AlarmModeDuration AlarmMode = "duration"
	AlarmModeDatetime AlarmMode = "datetime"
)

// Alarm is the stored alarm configuration of a task. Timestamp is epoch
// milliseconds and only meaningful in datetime mode.
type Alarm struct {
	Enabled   bool      `json:"enabled"`
	Mode      AlarmMode `json:"mode,omitempty" enum:"duration,datetime"`
	Hours     int       `json:"hours"`
	Minutes   int       `json:"minutes"`
	Seconds   int       `json:"seconds"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

type Task struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	Completed            bool   `json:"completed"`
	Alarm                Alarm  `json:"alarm"`
	AlarmStartTime       *int64 `json:"alarm_start_time,omitempty"`
	AlarmTargetTimestamp *int64 `json:"alarm_target_timestamp,omitempty"`
	AlarmDuration        *int64 `json:"alarm_duration,omitempty"`
	CreatedAt            string `json:"created_at" format:"date-time"`
	UpdatedAt            string `json:"updated_at" format:"date-time"`
}

// HasAlarmTiming reports whether all timing fields are populated.
func (t Task) HasAlarmTiming() bool {
	return t.AlarmStartTime != nil && t.AlarmTargetTimestamp != nil && t.AlarmDuration != nil
}

// ClearAlarmTiming drops the timing fields derived when the alarm was armed.
func (t *Task) ClearAlarmTiming() {
	t.AlarmStartTime = nil
	t.AlarmTargetTimestamp = nil
	t.AlarmDuration = nil
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
