package remindersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cws "github.com/coder/websocket"
)

// Client is a minimal task reminder HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Alarm is a task's alarm configuration. Timestamp is epoch milliseconds.
type Alarm struct {
	Enabled   bool   `json:"enabled"`
	Mode      string `json:"mode,omitempty"`
	Hours     int    `json:"hours"`
	Minutes   int    `json:"minutes"`
	Seconds   int    `json:"seconds"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// AlarmPatch changes only the fields that are set.
type AlarmPatch struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	Mode      *string `json:"mode,omitempty"`
	Hours     *int    `json:"hours,omitempty"`
	Minutes   *int    `json:"minutes,omitempty"`
	Seconds   *int    `json:"seconds,omitempty"`
	Timestamp *int64  `json:"timestamp,omitempty"`
}

// In returns a patch enabling a duration alarm.
func In(d time.Duration) AlarmPatch {
	on := true
	mode := "duration"
	total := int(d / time.Second)
	h, m, s := total/3600, total%3600/60, total%60
	return AlarmPatch{Enabled: &on, Mode: &mode, Hours: &h, Minutes: &m, Seconds: &s}
}

// At returns a patch enabling a datetime alarm.
func At(t time.Time) AlarmPatch {
	on := true
	mode := "datetime"
	ts := t.UnixMilli()
	return AlarmPatch{Enabled: &on, Mode: &mode, Timestamp: &ts}
}

// Task represents the API task model.
type Task struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	Completed            bool   `json:"completed"`
	Alarm                Alarm  `json:"alarm"`
	AlarmStartTime       *int64 `json:"alarm_start_time,omitempty"`
	AlarmTargetTimestamp *int64 `json:"alarm_target_timestamp,omitempty"`
	AlarmDuration        *int64 `json:"alarm_duration,omitempty"`
	AlarmState           string `json:"alarm_state"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

// TaskUpdate carries the fields to change.
type TaskUpdate struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Completed   *bool       `json:"completed,omitempty"`
	Alarm       *AlarmPatch `json:"alarm,omitempty"`
}

// Countdown is the live countdown of a task alarm.
type Countdown struct {
	TaskID          string  `json:"task_id"`
	Title           string  `json:"title"`
	State           string  `json:"state"`
	Available       bool    `json:"available"`
	RemainingMS     int64   `json:"remaining_ms"`
	ElapsedMS       int64   `json:"elapsed_ms"`
	TotalDurationMS int64   `json:"total_duration_ms"`
	IsExpired       bool    `json:"is_expired"`
	Progress        float64 `json:"progress"`
	Label           string  `json:"label"`
	Display         string  `json:"display"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Notification is a fired alarm pushed over the stream.
type Notification struct {
	TaskID  string    `json:"task_id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	FiredAt time.Time `json:"fired_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task, optionally with an alarm.
func (c *Client) CreateTask(ctx context.Context, title, description string, alarm *AlarmPatch) (Task, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	if alarm != nil {
		body["alarm"] = alarm
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// ListTasks lists tasks; status is all, open or done.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, taskPath(id, ""), upd, &resp)
	return resp, err
}

// ToggleTask flips the completed flag.
func (c *Client) ToggleTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id, "toggle"), nil, &resp)
	return resp, err
}

// DeleteTask deletes a task and cancels its alarm.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id, ""), nil, nil)
}

// SetAlarm merges patch over the task's alarm and re-arms it.
func (c *Client) SetAlarm(ctx context.Context, id string, patch AlarmPatch) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, taskPath(id, "alarm"), patch, &resp)
	return resp, err
}

// DisableAlarm turns a task's alarm off.
func (c *Client) DisableAlarm(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodDelete, taskPath(id, "alarm"), nil, &resp)
	return resp, err
}

// Countdown returns the countdown of one task.
func (c *Client) Countdown(ctx context.Context, id string) (Countdown, error) {
	var resp Countdown
	err := c.do(ctx, http.MethodGet, taskPath(id, "countdown"), nil, &resp)
	return resp, err
}

// Countdowns returns the countdowns of open tasks with alarms.
func (c *Client) Countdowns(ctx context.Context) ([]Countdown, error) {
	var resp []Countdown
	err := c.do(ctx, http.MethodGet, "countdowns", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stream connects to the alarm stream and delivers notifications until ctx
// is done or the connection drops; the channel is then closed.
func (c *Client) Stream(ctx context.Context) (<-chan Notification, error) {
	wsURL := c.base() + "/" + c.prefixed("stream")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	conn, _, err := cws.Dial(ctx, wsURL, &cws.DialOptions{HTTPHeader: c.authHeader()})
	if err != nil {
		return nil, err
	}
	out := make(chan Notification)
	go func() {
		defer close(out)
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg struct {
				Type         string       `json:"type"`
				Notification Notification `json:"notification"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "alarm-triggered" {
				continue
			}
			select {
			case out <- msg.Notification:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + c.prefixed(endpoint)
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.authHeader() {
		req.Header[k] = v
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	switch {
	case c.BearerToken != "":
		h.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		h.Set("X-Api-Key", c.APIKey)
	}
	return h
}

func (c *Client) prefixed(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func taskPath(id, sub string) string {
	p := "tasks/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
