package alarm

import "taskreminder/internal/domain"

// Patch is a partial alarm configuration. Set fields override the task's
// current alarm; nil fields keep it.
type Patch struct {
	Enabled   *bool             `json:"enabled,omitempty"`
	Mode      *domain.AlarmMode `json:"mode,omitempty" enum:"duration,datetime"`
	Hours     *int              `json:"hours,omitempty"`
	Minutes   *int              `json:"minutes,omitempty"`
	Seconds   *int              `json:"seconds,omitempty"`
	Timestamp *int64            `json:"timestamp,omitempty"`
}

// Apply merges p over base.
func (p Patch) Apply(base domain.Alarm) domain.Alarm {
	out := base
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Mode != nil {
		out.Mode = *p.Mode
	}
	if p.Hours != nil {
		out.Hours = *p.Hours
	}
	if p.Minutes != nil {
		out.Minutes = *p.Minutes
	}
	if p.Seconds != nil {
		out.Seconds = *p.Seconds
	}
	if p.Timestamp != nil {
		out.Timestamp = *p.Timestamp
	}
	return out
}

// PatchFromMap builds a Patch from loosely typed JSON, coercing values the
// way AlarmFromMap does. Only keys present in m are set.
func PatchFromMap(m map[string]any) Patch {
	var p Patch
	if v, ok := m["enabled"]; ok {
		b := truthy(v)
		p.Enabled = &b
	}
	if v, ok := m["mode"]; ok {
		mode := domain.AlarmModeDuration
		if s, _ := v.(string); domain.AlarmMode(s) == domain.AlarmModeDatetime {
			mode = domain.AlarmModeDatetime
		}
		p.Mode = &mode
	}
	for key, dst := range map[string]**int{"hours": &p.Hours, "minutes": &p.Minutes, "seconds": &p.Seconds} {
		if v, ok := m[key]; ok {
			n := int(coerceInt(v))
			*dst = &n
		}
	}
	if v, ok := m["timestamp"]; ok {
		ts := coerceInt(v)
		p.Timestamp = &ts
	}
	return p
}

// Enable returns a patch that switches the alarm on with cfg's values.
func Enable(cfg domain.Alarm) Patch {
	on := true
	mode := cfg.Mode
	if mode == "" {
		mode = domain.AlarmModeDuration
	}
	p := Patch{Enabled: &on, Mode: &mode}
	if mode == domain.AlarmModeDatetime {
		ts := cfg.Timestamp
		p.Timestamp = &ts
		return p
	}
	h, m, s := cfg.Hours, cfg.Minutes, cfg.Seconds
	p.Hours, p.Minutes, p.Seconds = &h, &m, &s
	return p
}
