package alarm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"taskreminder/internal/domain"
)

// Request is a normalized alarm configuration. It is one of Disabled,
// Duration or Datetime; defaults are applied once by NewRequest so the
// scheduler never re-checks for missing fields.
type Request interface {
	// Alarm returns the configuration as stored on the task.
	Alarm() domain.Alarm
	isRequest()
}

// Disabled turns the alarm off.
type Disabled struct {
	prev domain.Alarm
}

// Duration fires after a relative offset from the arm time.
type Duration struct {
	Hours, Minutes, Seconds int
}

// Datetime fires at an absolute instant.
type Datetime struct {
	At time.Time
}

func (Disabled) isRequest() {}
func (Duration) isRequest() {}
func (Datetime) isRequest() {}

// Alarm keeps the previous mode and values with Enabled cleared.
func (d Disabled) Alarm() domain.Alarm {
	a := d.prev
	a.Enabled = false
	return a
}

func (d Duration) Alarm() domain.Alarm {
	return domain.Alarm{
		Enabled: true,
		Mode:    domain.AlarmModeDuration,
		Hours:   d.Hours,
		Minutes: d.Minutes,
		Seconds: d.Seconds,
	}
}

// OffsetMillis is the total relative delay in milliseconds. Negative fields
// count as zero and the sum saturates at math.MaxInt64.
func (d Duration) OffsetMillis() int64 {
	secs := addMillis(
		mulMillis(int64(nonNegative(d.Hours)), 3600),
		addMillis(mulMillis(int64(nonNegative(d.Minutes)), 60), int64(nonNegative(d.Seconds))),
	)
	return mulMillis(secs, 1000)
}

// Offset is OffsetMillis as a time.Duration, clamped to its range.
func (d Duration) Offset() time.Duration {
	return millisDuration(d.OffsetMillis())
}

func (d Datetime) Alarm() domain.Alarm {
	return domain.Alarm{
		Enabled:   true,
		Mode:      domain.AlarmModeDatetime,
		Timestamp: d.At.UnixMilli(),
	}
}

// MaxField caps each of the hours, minutes and seconds fields.
const MaxField = math.MaxInt32

// NewRequest normalizes a stored or user-supplied alarm. An absent mode means
// duration, fields are clamped to [0, MaxField], and a datetime alarm without
// a timestamp falls back to duration mode.
func NewRequest(a domain.Alarm) Request {
	if !a.Enabled {
		return Disabled{prev: a}
	}
	if a.Mode == domain.AlarmModeDatetime && a.Timestamp != 0 {
		return Datetime{At: time.UnixMilli(a.Timestamp)}
	}
	return Duration{
		Hours:   clampField(a.Hours),
		Minutes: clampField(a.Minutes),
		Seconds: clampField(a.Seconds),
	}
}

// DurationFrom splits d into whole hours, minutes and seconds.
func DurationFrom(d time.Duration) Duration {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return Duration{
		Hours:   int(total / 3600),
		Minutes: int(total % 3600 / 60),
		Seconds: int(total % 60),
	}
}

// AlarmFromMap reads an alarm from loosely typed JSON. Values that are not
// numbers (or numeric strings) are coerced to 0 instead of being rejected.
func AlarmFromMap(m map[string]any) domain.Alarm {
	if m == nil {
		return domain.Alarm{}
	}
	a := domain.Alarm{
		Enabled:   truthy(m["enabled"]),
		Hours:     int(coerceInt(m["hours"])),
		Minutes:   int(coerceInt(m["minutes"])),
		Seconds:   int(coerceInt(m["seconds"])),
		Timestamp: coerceInt(m["timestamp"]),
	}
	if mode, ok := m["mode"].(string); ok && domain.AlarmMode(mode) == domain.AlarmModeDatetime {
		a.Mode = domain.AlarmModeDatetime
	} else {
		a.Mode = domain.AlarmModeDuration
	}
	return a
}

// RequestFromMap is NewRequest over AlarmFromMap.
func RequestFromMap(m map[string]any) Request {
	return NewRequest(AlarmFromMap(m))
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampField(v int) int {
	return int(min(int64(nonNegative(v)), MaxField))
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	default:
		return coerceInt(v) != 0
	}
}

func coerceInt(v any) int64 {
	var f float64
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		f = x
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = n
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}
