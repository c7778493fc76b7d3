package server

import (
	"encoding/json"

	"taskreminder/internal/alarm"
	"taskreminder/internal/domain"
	"taskreminder/internal/engine"
	"taskreminder/internal/notify"
)

// Request payloads

type CreateTaskRequest struct {
	ID          *string      `json:"id,omitempty"`
	Title       string       `json:"title" minLength:"1"`
	Description *string      `json:"description,omitempty"`
	Alarm       *alarm.Patch `json:"alarm,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Completed   *bool        `json:"completed,omitempty"`
	Alarm       *alarm.Patch `json:"alarm,omitempty"`
}

type IssueTokenRequest struct {
	ActorID string `json:"actor_id"`
	TTL     string `json:"ttl,omitempty" example:"24h"`
}

// Response payloads

type TaskResponse struct {
	domain.Task
	AlarmState alarm.State `json:"alarm_state" enum:"disabled,armed,fired"`
}

type CountdownResponse struct {
	TaskID          string      `json:"task_id"`
	Title           string      `json:"title"`
	State           alarm.State `json:"state" enum:"disabled,armed,fired"`
	Available       bool        `json:"available"`
	RemainingMS     int64       `json:"remaining_ms"`
	ElapsedMS       int64       `json:"elapsed_ms"`
	TotalDurationMS int64       `json:"total_duration_ms"`
	IsExpired       bool        `json:"is_expired"`
	Progress        float64     `json:"progress"`
	Label           string      `json:"label,omitempty"`
	Display         string      `json:"display,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type HealthResponse struct {
	Status string       `json:"status" example:"ok"`
	Stats  engine.Stats `json:"stats"`
}

type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}

type IssueTokenResponse struct {
	Token string `json:"token"`
}

// StreamMessage is written to websocket subscribers of /stream.
type StreamMessage struct {
	Type         string              `json:"type"`
	Notification notify.Notification `json:"notification"`
}

func taskResponse(t domain.Task, state alarm.State) TaskResponse {
	return TaskResponse{Task: t, AlarmState: state}
}

func countdownResponse(info engine.CountdownInfo) CountdownResponse {
	resp := CountdownResponse{
		TaskID:    info.TaskID,
		Title:     info.Title,
		State:     info.State,
		Available: info.Available,
	}
	if !info.Available {
		return resp
	}
	c := info.Countdown
	resp.RemainingMS = c.Remaining.Milliseconds()
	resp.ElapsedMS = c.Elapsed.Milliseconds()
	resp.TotalDurationMS = c.TotalDuration.Milliseconds()
	resp.IsExpired = c.IsExpired
	resp.Progress = c.Progress()
	resp.Label = c.Label()
	resp.Display = c.Display()
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil && len(payload) > 0 {
			resp.Payload = payload
		}
	}
	return resp
}
