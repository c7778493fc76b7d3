// Package notify delivers alarm notifications to the user: log lines, a
// desktop notification command, webhooks and in-process subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTitle is used when no notification title is configured.
const DefaultTitle = "Task Reminder"

// Notification describes one fired alarm.
type Notification struct {
	TaskID  string    `json:"task_id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	FiredAt time.Time `json:"fired_at"`
}

// New builds the notification for a task whose alarm fired at firedAt.
func New(taskID, title string, firedAt time.Time) Notification {
	return Notification{
		TaskID:  taskID,
		Title:   title,
		Message: fmt.Sprintf("Time's up for: %s", title),
		FiredAt: firedAt,
	}
}

// Sink receives notifications. Implementations must not block for long;
// the scheduler treats delivery as fire-and-forget.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi fans a notification out to several sinks.
// Every sink is called even if an earlier one fails.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a sink that forwards to all non-nil sinks in order.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = (*Multi)(nil)
