// Package app wires a workspace into a ready engine: configuration, logger,
// database, notification sinks and the alarm scheduler.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"taskreminder/internal/alarm"
	"taskreminder/internal/config"
	"taskreminder/internal/db"
	"taskreminder/internal/engine"
	"taskreminder/internal/events"
	"taskreminder/internal/logging"
	"taskreminder/internal/migrate"
	"taskreminder/internal/notify"
	"taskreminder/internal/repo"
)

type Options struct {
	Workspace string
	// Fs holds the config files; nil selects the OS filesystem.
	Fs afero.Fs
	// Passive builds a scheduler that persists deadlines but never fires.
	// One-shot commands use it so only serve and watch deliver alarms.
	Passive bool
	// LogLevel overrides the configured level when set.
	LogLevel  string
	LogOutput io.Writer
	Clock     clockwork.Clock
	// ActorID is recorded on events written by the scheduler.
	ActorID string
}

// Runtime is an opened workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Logger    *slog.Logger
	Hub       *notify.Hub
	Scheduler *alarm.Scheduler
	Engine    engine.Engine

	webhook *notify.Webhook
}

// Open loads the workspace config, opens and migrates the database and
// builds the engine. Callers must Close the runtime.
func Open(opts Options) (*Runtime, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfg, err := config.Load(fs, opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := logging.New(out, level, cfg.Log.Format)

	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	rt := &Runtime{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Logger:    logger,
		Hub:       notify.NewHub(),
	}
	sink := notify.NewMulti(notify.Log{Logger: logger}, rt.Hub)
	if cmd := notify.NewCommand(cfg.Notify.Title, cfg.Notify.Command); cmd != nil {
		sink.Add(cmd)
	}
	if wh := notify.NewWebhook(WebhookTargets(cfg), logger); wh != nil {
		rt.webhook = wh
		sink.Add(wh)
	}

	writer := events.Writer{DB: conn, Now: clk.Now}
	rt.Scheduler = alarm.New(alarm.Options{
		Store:    repo.Repo{DB: conn},
		Notifier: sink,
		Journal:  events.Journal{Writer: writer, ActorID: opts.ActorID},
		Clock:    clk,
		MaxDelay: cfg.Scheduler.MaxDelay.Std(),
		Logger:   logger,
		Passive:  opts.Passive,
	})
	e := engine.New(conn, cfg, rt.Scheduler)
	e.Events = writer
	e.Logger = logger
	e.Now = clk.Now
	rt.Engine = e
	return rt, nil
}

// WebhookTargets converts the active configured webhooks.
func WebhookTargets(cfg *config.Config) []notify.WebhookTarget {
	var targets []notify.WebhookTarget
	for _, w := range cfg.Notify.Webhooks {
		if !w.Active() {
			continue
		}
		targets = append(targets, notify.WebhookTarget{URL: w.URL, Secret: w.Secret, Timeout: w.Timeout.Std()})
	}
	return targets
}

// Close stops every timer, waits for webhook deliveries and closes the
// database.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Scheduler != nil {
		r.Scheduler.Close()
	}
	var errs []error
	if r.webhook != nil {
		errs = append(errs, r.webhook.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// With opens a runtime, runs fn and closes the runtime.
func With(ctx context.Context, opts Options, fn func(context.Context, *Runtime) error) error {
	rt, err := Open(opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
