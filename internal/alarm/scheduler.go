// Package alarm turns task alarm configurations into deadlines, keeps one
// timer per task until the deadline is reached and reports countdowns.
//
// Waits longer than the registry's maximum delay are chunked: every chunk
// callback re-enters Schedule, which recomputes the remaining time from the
// stored absolute target, so chunking never accumulates drift.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"taskreminder/internal/domain"
	"taskreminder/internal/notify"
)

// Store is the task persistence the scheduler reads and writes.
// GetTask returns an error wrapping domain.ErrNotFound for unknown ids.
type Store interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	SaveAlarm(ctx context.Context, t domain.Task) error
}

// Notifier receives fired alarms.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Journal records scheduling events. It is optional.
type Journal interface {
	Record(ctx context.Context, evtType, taskID string, payload map[string]any) error
}

const (
	EventArmed    = "alarm.armed"
	EventDisabled = "alarm.disabled"
	EventFired    = "alarm.fired"
)

// Options configures a Scheduler.
type Options struct {
	Store    Store
	Notifier Notifier
	Journal  Journal
	Clock    clockwork.Clock
	// MaxDelay bounds a single timer; zero selects MaxTimerDelay.
	MaxDelay time.Duration
	Logger   *slog.Logger
	// Passive schedulers compute and persist deadlines but never register
	// timers or fire. Short-lived CLI processes use this and leave firing to
	// a long-running process that picks changes up through Reconcile.
	Passive bool
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Armed  int    `json:"armed"`
	Rearms uint64 `json:"rearms"`
	Fired  uint64 `json:"fired"`
}

// RestoreReport summarizes Restore.
type RestoreReport struct {
	Resumed int `json:"resumed"`
	Expired int `json:"expired"`
	Armed   int `json:"armed"`
}

// Scheduler arms, re-arms, cancels and fires task alarms. All operations,
// including timer callbacks, are serialized by one mutex. Notifications are
// dispatched after the mutex is released.
type Scheduler struct {
	store    Store
	notifier Notifier
	journal  Journal
	clock    clockwork.Clock
	logger   *slog.Logger
	passive  bool

	mu      sync.Mutex
	timers  *Registry
	known   map[string]int64
	started time.Time
	closed  bool
	rearms  uint64
	fired   uint64
}

// New returns a Scheduler. Store and Clock default to nothing and the real
// clock respectively; a nil Store makes every lookup a no-op.
func New(opts Options) *Scheduler {
	c := opts.Clock
	if c == nil {
		c = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    opts.Store,
		notifier: opts.Notifier,
		journal:  opts.Journal,
		clock:    c,
		logger:   logger,
		passive:  opts.Passive,
		timers:   NewRegistry(c, opts.MaxDelay),
		known:    make(map[string]int64),
		started:  c.Now(),
	}
}

// Now returns the scheduler's clock reading.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// SetAlarm applies an alarm configuration to a task. Any existing timer is
// canceled first. A disabled configuration clears the timing fields; an
// enabled one computes a new deadline, persists it and arms a timer (or
// fires immediately when the deadline has passed).
//
// found is false, with a nil error, when the task does not exist.
func (s *Scheduler) SetAlarm(ctx context.Context, taskID string, a domain.Alarm) (task domain.Task, found bool, err error) {
	var pending *notify.Notification
	defer func() {
		if pending != nil {
			s.dispatch(ctx, *pending)
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers.Cancel(taskID)
	task, found, err = s.lookup(ctx, taskID)
	if err != nil || !found {
		return task, found, err
	}

	req := NewRequest(a)
	if _, off := req.(Disabled); off {
		delete(s.known, taskID)
		task.Alarm = req.Alarm()
		task.ClearAlarmTiming()
		if found, err := s.save(ctx, task); !found || err != nil {
			return task, found, err
		}
		s.record(ctx, EventDisabled, taskID, nil)
		return task, true, nil
	}

	d := ComputeDeadline(req, s.clock.Now())
	task.Alarm = req.Alarm()
	d.Apply(&task)
	if found, err := s.save(ctx, task); !found || err != nil {
		return task, found, err
	}
	s.record(ctx, EventArmed, taskID, map[string]any{
		"mode":        string(task.Alarm.Mode),
		"start":       *task.AlarmStartTime,
		"target":      *task.AlarmTargetTimestamp,
		"duration_ms": *task.AlarmDuration,
	})
	pending, err = s.scheduleTask(ctx, task)
	return task, true, err
}

// DisableAlarm is SetAlarm with the task's current configuration disabled.
func (s *Scheduler) DisableAlarm(ctx context.Context, taskID string) (domain.Task, bool, error) {
	task, found, err := s.lookup(ctx, taskID)
	if err != nil || !found {
		return task, found, err
	}
	a := task.Alarm
	a.Enabled = false
	return s.SetAlarm(ctx, taskID, a)
}

// Schedule is the re-arm procedure: it recomputes the remaining time from
// the stored target and either fires or arms a timer for
// min(remaining, MaxDelay). Missing or disabled tasks are ignored.
func (s *Scheduler) Schedule(ctx context.Context, taskID string) error {
	s.mu.Lock()
	n, err := s.scheduleLocked(ctx, taskID)
	s.mu.Unlock()
	if n != nil {
		s.dispatch(ctx, *n)
	}
	return err
}

func (s *Scheduler) scheduleLocked(ctx context.Context, taskID string) (*notify.Notification, error) {
	task, found, err := s.lookup(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !found {
		s.timers.Cancel(taskID)
		delete(s.known, taskID)
		return nil, nil
	}
	return s.scheduleTask(ctx, task)
}

func (s *Scheduler) scheduleTask(ctx context.Context, task domain.Task) (*notify.Notification, error) {
	if !task.Alarm.Enabled || task.AlarmTargetTimestamp == nil {
		s.timers.Cancel(task.ID)
		return nil, nil
	}
	s.timers.Cancel(task.ID)
	if s.closed {
		return nil, nil
	}
	target := time.UnixMilli(*task.AlarmTargetTimestamp)
	s.known[task.ID] = *task.AlarmTargetTimestamp
	if s.passive {
		return nil, nil
	}
	remaining := target.Sub(s.clock.Now())
	if remaining <= 0 {
		n := s.fireLocked(ctx, task)
		return &n, nil
	}
	delay := min(remaining, s.timers.MaxDelay())
	taskID := task.ID
	if _, err := s.timers.Arm(taskID, delay, target, func(gen uint64) { s.onTimer(taskID, gen) }); err != nil {
		return nil, err
	}
	return nil, nil
}

// onTimer runs on the clock's callback goroutine.
func (s *Scheduler) onTimer(taskID string, gen uint64) {
	ctx := context.Background()
	s.mu.Lock()
	if s.closed || !s.timers.Current(taskID, gen) {
		s.mu.Unlock()
		return
	}
	s.rearms++
	n, err := s.scheduleLocked(ctx, taskID)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("re-arm alarm", slog.String("task_id", taskID), slog.Any("error", err))
	}
	if n != nil {
		s.dispatch(ctx, *n)
	}
}

// fireLocked clears the task's timer and builds its notification. Timing
// fields stay on the task so the overdue countdown remains visible.
func (s *Scheduler) fireLocked(ctx context.Context, task domain.Task) notify.Notification {
	s.timers.Cancel(task.ID)
	s.fired++
	now := s.clock.Now()
	s.record(ctx, EventFired, task.ID, map[string]any{
		"target":   *task.AlarmTargetTimestamp,
		"fired_at": now.UnixMilli(),
	})
	s.logger.Debug("alarm fired", slog.String("task_id", task.ID), slog.Time("fired_at", now))
	return notify.New(task.ID, task.Title, now)
}

func (s *Scheduler) dispatch(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("deliver notification", slog.String("task_id", n.TaskID), slog.Any("error", err))
	}
}

// Cancel removes the timer for taskID, if any. Deleting a task must call
// Cancel before the task disappears from the store.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, taskID)
	return s.timers.Cancel(taskID)
}

// CancelAll removes every timer.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.known)
	return s.timers.CancelAll()
}

// Close cancels all timers; callbacks still in flight become no-ops.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.timers.CancelAll()
}

// Restore re-arms alarms loaded at process start. Enabled alarms whose
// target already passed are left in the fired state without notifying;
// future targets are resumed with their original start and duration;
// enabled alarms without timing fields are armed afresh.
func (s *Scheduler) Restore(ctx context.Context, tasks []domain.Task) (RestoreReport, error) {
	var report RestoreReport
	var errs []error
	now := s.clock.Now()
	for _, t := range tasks {
		if !t.Alarm.Enabled {
			continue
		}
		if t.AlarmTargetTimestamp == nil {
			cur, found, err := s.lookup(ctx, t.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !found || !cur.Alarm.Enabled {
				continue
			}
			if _, _, err := s.SetAlarm(ctx, t.ID, cur.Alarm); err != nil {
				errs = append(errs, fmt.Errorf("arm %s: %w", t.ID, err))
				continue
			}
			report.Armed++
			continue
		}
		if !time.UnixMilli(*t.AlarmTargetTimestamp).After(now) {
			s.mu.Lock()
			s.known[t.ID] = *t.AlarmTargetTimestamp
			s.mu.Unlock()
			report.Expired++
			continue
		}
		if err := s.Schedule(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", t.ID, err))
			continue
		}
		report.Resumed++
	}
	return report, errors.Join(errs...)
}

// Reconcile aligns timers with tasks changed by another process sharing the
// store. tasks is a snapshot that may be older than changes made through
// this scheduler, so every task it names, and every task with a known
// target, is re-read from the store under the lock before acting.
// Targets not seen before are scheduled when they lie in the future or
// were armed after this scheduler started; older past targets are treated
// as on Restore. Timers of tasks that vanished or were disabled are
// canceled.
func (s *Scheduler) Reconcile(ctx context.Context, tasks []domain.Task) error {
	var pending []notify.Notification
	var errs []error
	s.mu.Lock()
	now := s.clock.Now()
	ids := make([]string, 0, len(tasks)+len(s.known))
	listed := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if !t.Alarm.Enabled || t.AlarmTargetTimestamp == nil {
			continue
		}
		if _, dup := listed[t.ID]; !dup {
			listed[t.ID] = struct{}{}
			ids = append(ids, t.ID)
		}
	}
	var extra []string
	for id := range s.known {
		if _, ok := listed[id]; !ok {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	ids = append(ids, extra...)

	for _, id := range ids {
		t, found, err := s.lookup(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found || !t.Alarm.Enabled || t.AlarmTargetTimestamp == nil {
			s.timers.Cancel(id)
			delete(s.known, id)
			continue
		}
		target := *t.AlarmTargetTimestamp
		if prev, ok := s.known[id]; ok && prev == target {
			continue
		}
		armedSinceStart := t.AlarmStartTime != nil && !time.UnixMilli(*t.AlarmStartTime).Before(s.started)
		if !time.UnixMilli(target).After(now) && !armedSinceStart {
			s.known[id] = target
			continue
		}
		n, err := s.scheduleTask(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", id, err))
			continue
		}
		if n != nil {
			pending = append(pending, *n)
		}
	}
	s.mu.Unlock()
	for _, n := range pending {
		s.dispatch(ctx, n)
	}
	return errors.Join(errs...)
}

// Armed reports whether a live timer exists for taskID.
func (s *Scheduler) Armed(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers.Target(taskID)
	return ok
}

// Stats returns counters for diagnostics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Armed: s.timers.Len(), Rearms: s.rearms, Fired: s.fired}
}

func (s *Scheduler) lookup(ctx context.Context, taskID string) (domain.Task, bool, error) {
	if s.store == nil {
		return domain.Task{}, false, nil
	}
	t, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return t, true, nil
}

// save reports found=false when the task vanished between lookup and write.
func (s *Scheduler) save(ctx context.Context, t domain.Task) (found bool, err error) {
	err = s.store.SaveAlarm(ctx, t)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("persist alarm for %s: %w", t.ID, err)
	}
	return true, nil
}

func (s *Scheduler) record(ctx context.Context, evtType, taskID string, payload map[string]any) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, evtType, taskID, payload); err != nil {
		s.logger.Warn("journal alarm event", slog.String("type", evtType), slog.String("task_id", taskID), slog.Any("error", err))
	}
}
