package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskreminder/internal/alarm"
	"taskreminder/internal/domain"
	"taskreminder/internal/events"
)

// legacyTask is one entry of a tasks.json file written by the desktop app.
type legacyTask struct {
	ID                   any            `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	CreatedAt            string         `json:"createdAt"`
	Completed            bool           `json:"completed"`
	Alarm                map[string]any `json:"alarm"`
	AlarmStartTime       *float64       `json:"alarmStartTime"`
	AlarmTargetTimestamp *float64       `json:"alarmTargetTimestamp"`
	AlarmDuration        *float64       `json:"alarmDuration"`
}

// ImportReport summarizes ImportLegacy.
type ImportReport struct {
	Imported int                 `json:"imported"`
	Skipped  int                 `json:"skipped"`
	Alarms   alarm.RestoreReport `json:"alarms"`
}

// ImportLegacy loads tasks from a tasks.json document. Existing ids are
// skipped. Alarm values are coerced, never rejected, and imported alarms
// go through the restart rules: past targets stay fired, future targets
// resume and enabled alarms without timing are armed.
func (e Engine) ImportLegacy(ctx context.Context, r io.Reader, actorID string) (ImportReport, error) {
	var in []legacyTask
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return ImportReport{}, fmt.Errorf("decode tasks.json: %w", err)
	}
	var report ImportReport
	var armed []domain.Task

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportReport{}, err
	}
	defer tx.Rollback()
	for _, lt := range in {
		t := e.fromLegacy(lt)
		if _, err := e.Repo.GetTaskTx(ctx, tx, t.ID); err == nil {
			report.Skipped++
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return ImportReport{}, err
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return ImportReport{}, fmt.Errorf("insert task %s: %w", t.ID, err)
		}
		if err := e.Events.Append(ctx, tx, "task.imported", "task", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
			return ImportReport{}, err
		}
		report.Imported++
		if t.Alarm.Enabled {
			armed = append(armed, t)
		}
	}
	if err := tx.Commit(); err != nil {
		return ImportReport{}, err
	}
	if e.Scheduler != nil && len(armed) > 0 {
		report.Alarms, err = e.Scheduler.Restore(ctx, armed)
	}
	return report, err
}

func (e Engine) fromLegacy(lt legacyTask) domain.Task {
	now := e.stamp()
	t := domain.Task{
		ID:          legacyID(lt.ID),
		Title:       strings.TrimSpace(lt.Title),
		Description: lt.Description,
		Completed:   lt.Completed,
		Alarm:       alarm.AlarmFromMap(lt.Alarm),
		CreatedAt:   normalizeStamp(lt.CreatedAt, now),
		UpdatedAt:   now,
	}
	if t.Title == "" {
		t.Title = "(untitled)"
	}
	// timing is only meaningful together with an enabled alarm
	if t.Alarm.Enabled && lt.AlarmStartTime != nil && lt.AlarmTargetTimestamp != nil {
		start := int64(*lt.AlarmStartTime)
		target := int64(*lt.AlarmTargetTimestamp)
		dur := max(target-start, 0)
		t.AlarmStartTime, t.AlarmTargetTimestamp, t.AlarmDuration = &start, &target, &dur
	}
	return t
}

func legacyID(v any) string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s
		}
	case json.Number:
		return x.String()
	}
	return uuid.NewString()
}

func normalizeStamp(v, fallback string) string {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts.UTC().Format(time.RFC3339)
	}
	return fallback
}
