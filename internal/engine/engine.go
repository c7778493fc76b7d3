package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskreminder/internal/alarm"
	"taskreminder/internal/config"
	"taskreminder/internal/domain"
	"taskreminder/internal/events"
	"taskreminder/internal/repo"
)

// ErrInvalidAlarm is returned when an alarm configuration is refused by
// the configured policy.
var ErrInvalidAlarm = errors.New("invalid alarm")

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Scheduler *alarm.Scheduler
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, sched *alarm.Scheduler) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Scheduler: sched,
		Logger:    slog.Default(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	Title       string
	Description string
	// Alarm, when enabled, is armed right after the task is stored.
	Alarm   *domain.Alarm
	ActorID string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Alarm != nil {
		if err := e.validateAlarm(*opts.Alarm); err != nil {
			return domain.Task{}, err
		}
	}
	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Task{
		ID:          id,
		Title:       title,
		Description: opts.Description,
		Alarm:       domain.Alarm{Mode: domain.AlarmModeDuration},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Alarm != nil {
		// stored disabled; SetAlarm below computes the timing fields
		t.Alarm = *opts.Alarm
		t.Alarm.Enabled = false
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	if opts.Alarm != nil && opts.Alarm.Enabled {
		return e.armAlarm(ctx, t.ID, *opts.Alarm)
	}
	return t, nil
}

// TaskUpdateOptions carries the fields to change; nil fields are kept.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Completed   *bool
	Alarm       *alarm.Patch
	ActorID     string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	changed := events.EventPayload{}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Task{}, errors.New("title must not be empty")
		}
		t.Title = title
		changed["title"] = title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
		changed["description"] = t.Description
	}
	if opts.Completed != nil {
		t.Completed = *opts.Completed
		changed["completed"] = t.Completed
	}
	var next domain.Alarm
	if opts.Alarm != nil {
		next = opts.Alarm.Apply(t.Alarm)
		if err := e.validateAlarm(next); err != nil {
			return domain.Task{}, err
		}
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", t.ID, opts.ActorID, changed); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if opts.Alarm != nil {
		return e.armAlarm(ctx, t.ID, next)
	}
	return t, nil
}

// ToggleTask flips the completed flag. The alarm is left untouched.
func (e Engine) ToggleTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	done := !t.Completed
	return e.UpdateTask(ctx, TaskUpdateOptions{ID: id, Completed: &done, ActorID: actorID})
}

// DeleteTask cancels the task's timer before removing it.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	if e.Scheduler != nil {
		e.Scheduler.Cancel(id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", "task", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearTasks cancels every timer and deletes every task.
func (e Engine) ClearTasks(ctx context.Context, actorID string) (int64, error) {
	if e.Scheduler != nil {
		e.Scheduler.CancelAll()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteAllTasks(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "task.cleared", "task", "", actorID, events.EventPayload{"deleted": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// SetAlarm merges patch over the task's current alarm and re-arms it.
// A patch that only disables keeps the previous mode and values.
func (e Engine) SetAlarm(ctx context.Context, id string, patch alarm.Patch) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	next := patch.Apply(t.Alarm)
	if err := e.validateAlarm(next); err != nil {
		return domain.Task{}, err
	}
	return e.armAlarm(ctx, id, next)
}

// DisableAlarm turns the alarm off and clears its timing fields.
func (e Engine) DisableAlarm(ctx context.Context, id string) (domain.Task, error) {
	off := false
	return e.SetAlarm(ctx, id, alarm.Patch{Enabled: &off})
}

func (e Engine) armAlarm(ctx context.Context, id string, a domain.Alarm) (domain.Task, error) {
	if e.Scheduler == nil {
		return domain.Task{}, errors.New("alarm scheduler not configured")
	}
	t, found, err := e.Scheduler.SetAlarm(ctx, id, a)
	if err != nil {
		return domain.Task{}, err
	}
	if !found {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	return t, nil
}

// validateAlarm applies the optional past-datetime policy. Everything else
// about an alarm is coerced rather than rejected.
func (e Engine) validateAlarm(a domain.Alarm) error {
	if !a.Enabled || e.Config == nil || !e.Config.Alarms.RejectPastDatetime {
		return nil
	}
	req := alarm.NewRequest(a)
	dt, ok := req.(alarm.Datetime)
	if !ok {
		return nil
	}
	if !dt.At.After(e.now()) {
		return fmt.Errorf("%w: datetime %s is not in the future", ErrInvalidAlarm, dt.At.UTC().Format(time.RFC3339))
	}
	return nil
}

// CountdownInfo is the countdown of one task at a point in time.
type CountdownInfo struct {
	TaskID    string
	Title     string
	State     alarm.State
	Countdown alarm.Countdown
	// Available is false when the task has no countdown to show.
	Available bool
}

func (e Engine) countdownOf(t domain.Task, now time.Time) CountdownInfo {
	c, ok := alarm.QueryCountdown(t, now)
	armed := false
	if e.Scheduler != nil {
		armed = e.Scheduler.Armed(t.ID)
	}
	return CountdownInfo{
		TaskID:    t.ID,
		Title:     t.Title,
		State:     alarm.StateOf(t, now, armed),
		Countdown: c,
		Available: ok,
	}
}

// AlarmState reports whether t's alarm is disabled, armed or has fired.
func (e Engine) AlarmState(t domain.Task) alarm.State {
	armed := false
	if e.Scheduler != nil {
		armed = e.Scheduler.Armed(t.ID)
	}
	return alarm.StateOf(t, e.now(), armed)
}

// Countdown reports the countdown for one task.
func (e Engine) Countdown(ctx context.Context, id string) (CountdownInfo, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return CountdownInfo{}, err
	}
	return e.countdownOf(t, e.now()), nil
}

// Countdowns reports every incomplete task that has a countdown.
func (e Engine) Countdowns(ctx context.Context) ([]CountdownInfo, error) {
	incomplete := false
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Completed: &incomplete, AlarmEnabled: true})
	if err != nil {
		return nil, err
	}
	now := e.now()
	var res []CountdownInfo
	for _, t := range tasks {
		if info := e.countdownOf(t, now); info.Available {
			res = append(res, info)
		}
	}
	return res, nil
}

// RestoreAlarms re-arms persisted alarms at process start.
func (e Engine) RestoreAlarms(ctx context.Context) (alarm.RestoreReport, error) {
	if e.Scheduler == nil {
		return alarm.RestoreReport{}, nil
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{AlarmEnabled: true})
	if err != nil {
		return alarm.RestoreReport{}, err
	}
	return e.Scheduler.Restore(ctx, tasks)
}

// Reconcile aligns the scheduler with alarms changed by other processes.
func (e Engine) Reconcile(ctx context.Context) error {
	if e.Scheduler == nil {
		return nil
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{AlarmEnabled: true})
	if err != nil {
		return err
	}
	return e.Scheduler.Reconcile(ctx, tasks)
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (e Engine) RunReconciler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Reconcile(ctx); err != nil && ctx.Err() == nil {
				e.logger().Warn("reconcile alarms", slog.Any("error", err))
			}
		}
	}
}

// Stats summarizes the store and the scheduler.
type Stats struct {
	Tasks     int         `json:"tasks"`
	Completed int         `json:"completed"`
	WithAlarm int         `json:"with_alarm"`
	Scheduler alarm.Stats `json:"scheduler"`
}

func (e Engine) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	st.Tasks, st.Completed, st.WithAlarm, err = e.Repo.CountTasks(ctx)
	if err != nil {
		return Stats{}, err
	}
	if e.Scheduler != nil {
		st.Scheduler = e.Scheduler.Stats()
	}
	return st, nil
}
