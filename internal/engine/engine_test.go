package engine_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"taskreminder/internal/alarm"
	"taskreminder/internal/config"
	"taskreminder/internal/db"
	"taskreminder/internal/domain"
	"taskreminder/internal/engine"
	"taskreminder/internal/events"
	"taskreminder/internal/migrate"
	"taskreminder/internal/notify"
	"taskreminder/internal/repo"
)

type sink struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (s *sink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

type testEnv struct {
	Engine engine.Engine
	Clock  fakeClock
	Sink   *sink
	Ctx    context.Context
}

// advance waits for exactly timers pending alarms, then moves the clock by d.
func (env testEnv) advance(t *testing.T, timers int, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		env.Clock.BlockUntil(timers)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("clock never reached %d pending timers", timers)
	}
	env.Clock.Advance(d)
}

// waitNotified polls until the sink holds n notifications. Fired timers
// deliver on their own goroutines.
func (env testEnv) waitNotified(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for env.Sink.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d notifications, got %d", n, env.Sink.count())
		}
		time.Sleep(time.Millisecond)
	}
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	clk := clockwork.NewFakeClockAt(start)
	out := &sink{}
	sched := alarm.New(alarm.Options{
		Store:    repo.Repo{DB: conn},
		Notifier: out,
		Journal:  events.Journal{Writer: events.Writer{DB: conn, Now: clk.Now}},
		Clock:    clk,
	})
	t.Cleanup(sched.Close)
	eng := engine.New(conn, cfg, sched)
	eng.Now = clk.Now
	eng.Events.Now = clk.Now
	return testEnv{Engine: eng, Clock: clk, Sink: out, Ctx: context.Background()}
}

func TestCreateTaskWithoutAlarm(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "  Write report ", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Title != "Write report" || task.Alarm.Enabled || task.HasAlarmTiming() {
		t.Fatalf("unexpected task: %+v", task)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: " "}); err == nil {
		t.Fatalf("expected title error")
	}
}

func TestCreateTaskWithAlarmFires(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Tea",
		Alarm:   &domain.Alarm{Enabled: true, Mode: domain.AlarmModeDuration, Minutes: 3},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if !task.HasAlarmTiming() || *task.AlarmDuration != 180_000 {
		t.Fatalf("timing not set: %+v", task)
	}
	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *stored.AlarmTargetTimestamp != start.Add(3*time.Minute).UnixMilli() {
		t.Fatalf("target not persisted: %d", *stored.AlarmTargetTimestamp)
	}

	env.advance(t, 1, 3*time.Minute)
	env.waitNotified(t, 1)
	if env.Sink.count() != 1 {
		t.Fatalf("expected one notification, got %d", env.Sink.count())
	}
	info, err := env.Engine.Countdown(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Available || !info.Countdown.IsExpired || info.State != alarm.StateFired {
		t.Fatalf("expected fired countdown, got %+v", info)
	}
}

func TestSetAlarmMergesAndDisableKeepsValues(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Stretch"})
	if err != nil {
		t.Fatal(err)
	}
	on, secs := true, 30
	task, err = env.Engine.SetAlarm(env.Ctx, task.ID, alarm.Patch{Enabled: &on, Seconds: &secs})
	if err != nil {
		t.Fatalf("set alarm: %v", err)
	}
	if task.Alarm.Mode != domain.AlarmModeDuration || task.Alarm.Seconds != 30 {
		t.Fatalf("merge failed: %+v", task.Alarm)
	}

	task, err = env.Engine.DisableAlarm(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if task.Alarm.Enabled || task.Alarm.Seconds != 30 || task.HasAlarmTiming() {
		t.Fatalf("disable should keep values and clear timing: %+v", task)
	}
	env.advance(t, 0, time.Minute)
	if env.Sink.count() != 0 {
		t.Fatalf("disabled alarm fired")
	}

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range evs {
		types = append(types, e.Type)
	}
	if got := strings.Join(types, ","); got != "alarm.disabled,alarm.armed,task.created" {
		t.Fatalf("unexpected events: %s", got)
	}
}

func TestSetAlarmMissingTask(t *testing.T) {
	env := newTestEnv(t)
	on := true
	_, err := env.Engine.SetAlarm(env.Ctx, "nope", alarm.Patch{Enabled: &on})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRejectPastDatetimePolicy(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Late"})
	if err != nil {
		t.Fatal(err)
	}
	on := true
	mode := domain.AlarmModeDatetime
	past := start.Add(-time.Hour).UnixMilli()
	patch := alarm.Patch{Enabled: &on, Mode: &mode, Timestamp: &past}

	// permissive by default: fires immediately
	if _, err := env.Engine.SetAlarm(env.Ctx, task.ID, patch); err != nil {
		t.Fatalf("permissive set: %v", err)
	}
	if env.Sink.count() != 1 {
		t.Fatalf("past alarm should fire immediately")
	}

	env.Engine.Config.Alarms.RejectPastDatetime = true
	if _, err := env.Engine.SetAlarm(env.Ctx, task.ID, patch); !errors.Is(err, engine.ErrInvalidAlarm) {
		t.Fatalf("expected ErrInvalidAlarm, got %v", err)
	}
}

func TestDeleteCancelsTimer(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Call", Alarm: &domain.Alarm{Enabled: true, Seconds: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if env.Engine.Scheduler.Armed(task.ID) {
		t.Fatalf("timer still armed")
	}
	env.advance(t, 0, time.Minute)
	if env.Sink.count() != 0 {
		t.Fatalf("deleted task fired")
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestClearTasksCancelsAll(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"a", "b", "c"} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			Title: title, Alarm: &domain.Alarm{Enabled: true, Seconds: 5},
		}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := env.Engine.ClearTasks(env.Ctx, "tester")
	if err != nil || n != 3 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	env.advance(t, 0, time.Minute)
	if env.Sink.count() != 0 || env.Engine.Scheduler.Stats().Armed != 0 {
		t.Fatalf("timers survived clear")
	}
}

func TestToggleAndCountdownsSkipCompleted(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "a", Alarm: &domain.Alarm{Enabled: true, Minutes: 1}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "b", Alarm: &domain.Alarm{Enabled: true, Minutes: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "no alarm"}); err != nil {
		t.Fatal(err)
	}
	toggled, err := env.Engine.ToggleTask(env.Ctx, a.ID, "tester")
	if err != nil || !toggled.Completed {
		t.Fatalf("toggle: %v %+v", err, toggled)
	}
	env.Clock.Advance(30 * time.Second)
	infos, err := env.Engine.Countdowns(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].TaskID != b.ID {
		t.Fatalf("expected only b, got %+v", infos)
	}
	if got := infos[0].Countdown.Display(); got != "00:01:30" {
		t.Fatalf("display = %s", got)
	}
}

func TestUpdateTaskChangesAlarm(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "old", Alarm: &domain.Alarm{Enabled: true, Hours: 1}})
	if err != nil {
		t.Fatal(err)
	}
	title := "new"
	mins := 1
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Title: &title, Alarm: &alarm.Patch{Minutes: &mins},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Title != "new" || task.Alarm.Hours != 1 || task.Alarm.Minutes != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if *task.AlarmDuration != (61 * time.Minute).Milliseconds() {
		t.Fatalf("duration = %d", *task.AlarmDuration)
	}
}

func TestRestoreAlarmsAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	soon, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "soon", Alarm: &domain.Alarm{Enabled: true, Seconds: 10}})
	if err != nil {
		t.Fatal(err)
	}
	later, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "later", Alarm: &domain.Alarm{Enabled: true, Minutes: 5}})
	if err != nil {
		t.Fatal(err)
	}
	// simulate a process that went away before either alarm fired
	env.Engine.Scheduler.Close()
	env.advance(t, 0, time.Minute)

	fresh := alarm.New(alarm.Options{Store: env.Engine.Repo, Notifier: env.Sink, Clock: env.Clock})
	defer fresh.Close()
	env.Engine.Scheduler = fresh
	report, err := env.Engine.RestoreAlarms(env.Ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if report.Expired != 1 || report.Resumed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if env.Sink.count() != 0 {
		t.Fatalf("stale alarm refired on restore")
	}
	if fresh.Armed(soon.ID) || !fresh.Armed(later.ID) {
		t.Fatalf("unexpected armed state")
	}
	env.advance(t, 1, 4*time.Minute)
	env.waitNotified(t, 1)
	if env.Sink.count() != 1 {
		t.Fatalf("resumed alarm did not fire")
	}
}

func TestImportLegacy(t *testing.T) {
	env := newTestEnv(t)
	now := start.UnixMilli()
	doc := `[
  {"id": "1700000000000", "title": "Old one", "createdAt": "2023-11-14T22:13:20.000Z", "completed": false,
   "alarm": {"enabled": true, "mode": "duration", "hours": 0, "minutes": 1, "seconds": 0},
   "alarmStartTime": ` + itoa(now-120_000) + `, "alarmTargetTimestamp": ` + itoa(now-60_000) + `, "alarmDuration": 60000},
  {"id": "1700000000001", "title": "Coming up", "completed": false,
   "alarm": {"enabled": true, "mode": "duration", "minutes": "2"},
   "alarmStartTime": ` + itoa(now-60_000) + `, "alarmTargetTimestamp": ` + itoa(now+60_000) + `, "alarmDuration": 120000},
  {"id": 1700000000002, "title": "Fresh", "alarm": {"enabled": true, "seconds": 15}},
  {"id": "1700000000003", "title": "Plain", "alarm": {"enabled": false, "hours": 0, "minutes": 0, "seconds": 0}}
]`
	report, err := env.Engine.ImportLegacy(env.Ctx, strings.NewReader(doc), "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 4 || report.Alarms.Expired != 1 || report.Alarms.Resumed != 1 || report.Alarms.Armed != 1 {
		t.Fatalf("report = %+v", report)
	}
	again, err := env.Engine.ImportLegacy(env.Ctx, strings.NewReader(doc), "tester")
	if err != nil || again.Skipped != 4 || again.Imported != 0 {
		t.Fatalf("reimport = %+v err=%v", again, err)
	}
	old, err := env.Engine.GetTask(env.Ctx, "1700000000000")
	if err != nil {
		t.Fatal(err)
	}
	if old.CreatedAt != "2023-11-14T22:13:20Z" {
		t.Fatalf("created_at = %s", old.CreatedAt)
	}
	if env.Sink.count() != 0 {
		t.Fatalf("import fired a stale alarm")
	}
	env.advance(t, 2, time.Minute)
	env.waitNotified(t, 2)
	if env.Sink.count() != 2 {
		t.Fatalf("expected fresh and resumed alarms to fire, got %d", env.Sink.count())
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "alice", "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(plain, "trk_") || key.KeyHash == plain {
		t.Fatalf("unexpected key material")
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil || got.ActorID != "alice" {
		t.Fatalf("lookup: %+v %v", got, err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "a", Alarm: &domain.Alarm{Enabled: true, Seconds: 1}}); err != nil {
		t.Fatal(err)
	}
	st, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Tasks != 1 || st.WithAlarm != 1 || st.Scheduler.Armed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
