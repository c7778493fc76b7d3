package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskreminder/internal/alarm"
	"taskreminder/internal/app"
	"taskreminder/internal/domain"
	"taskreminder/internal/engine"
	"taskreminder/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks have a title, an optional description, a completed flag and an optional alarm.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskToggleCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskClearCmd())
	task.AddCommand(taskImportCmd())
	return task
}

// alarmFlags are the flags shared by commands that configure an alarm.
type alarmFlags struct {
	in      time.Duration
	at      string
	hours   int
	minutes int
	seconds int
}

func (f *alarmFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.in, "in", 0, "alarm after a duration, e.g. 25m or 1h30m")
	cmd.Flags().StringVar(&f.at, "at", "", "alarm at an RFC3339 time, e.g. 2025-06-01T09:00:00Z")
	cmd.Flags().IntVar(&f.hours, "hours", 0, "alarm duration hours")
	cmd.Flags().IntVar(&f.minutes, "minutes", 0, "alarm duration minutes")
	cmd.Flags().IntVar(&f.seconds, "seconds", 0, "alarm duration seconds")
}

// patch returns the alarm patch selected by the flags, or nil when no alarm
// flag was given. Component flags change only the given fields.
func (f *alarmFlags) patch(cmd *cobra.Command) (*alarm.Patch, error) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	switch {
	case changed("in") && changed("at"):
		return nil, fmt.Errorf("--in and --at are mutually exclusive")
	case changed("in"):
		if f.in < 0 {
			return nil, fmt.Errorf("invalid --in: must not be negative")
		}
		p := alarm.Enable(alarm.DurationFrom(f.in).Alarm())
		return &p, nil
	case changed("at"):
		at, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		p := alarm.Enable(alarm.Datetime{At: at}.Alarm())
		return &p, nil
	}
	if !changed("hours") && !changed("minutes") && !changed("seconds") {
		return nil, nil
	}
	on := true
	mode := domain.AlarmModeDuration
	p := alarm.Patch{Enabled: &on, Mode: &mode}
	if changed("hours") {
		p.Hours = &f.hours
	}
	if changed("minutes") {
		p.Minutes = &f.minutes
	}
	if changed("seconds") {
		p.Seconds = &f.seconds
	}
	return &p, nil
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var af alarmFlags
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Title = args[0]
			}
			opts.ActorID = viper.GetString("actor-id")
			p, err := af.patch(cmd)
			if err != nil {
				return err
			}
			if p != nil {
				a := p.Apply(domain.Alarm{Mode: domain.AlarmModeDuration})
				opts.Alarm = &a
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(rt.Engine, t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	af.register(cmd)
	return cmd
}

func taskListCmd() *cobra.Command {
	var status string
	var withAlarm bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.TaskFilters{AlarmEnabled: withAlarm, Limit: limit}
			switch status {
			case "", "all":
			case "open":
				open := false
				f.Completed = &open
			case "done":
				done := true
				f.Completed = &done
			default:
				return fmt.Errorf("invalid --status %q: use all, open or done", status)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				now := rt.Scheduler.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Done", "Alarm", "Countdown"})
				for _, t := range tasks {
					done := ""
					if t.Completed {
						done = "x"
					}
					countdown := ""
					if c, ok := alarm.QueryCountdown(t, now); ok {
						countdown = c.Display()
					}
					tw.AppendRow(table.Row{t.ID, t.Title, done, alarmSummary(t.Alarm), countdown})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "status filter (all, open, done)")
	cmd.Flags().BoolVar(&withAlarm, "alarm", false, "only tasks with an enabled alarm")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(rt.Engine, t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description string
	var af alarmFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := af.patch(cmd)
			if err != nil {
				return err
			}
			opts := engine.TaskUpdateOptions{
				ID:          args[0],
				Title:       optionalString(cmd, "title", title),
				Description: optionalString(cmd, "description", description),
				Alarm:       p,
				ActorID:     viper.GetString("actor-id"),
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(rt.Engine, t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	af.register(cmd)
	return cmd
}

func taskToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <id>",
		Aliases: []string{"done"},
		Short:   "Toggle a task's completed flag",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.ToggleTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(rt.Engine, t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and cancel its alarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteTask(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func taskClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every task and cancel every alarm",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all tasks without --yes")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Engine.ClearTasks(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": n})
				}
				fmt.Printf("Deleted %d tasks\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func taskImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <tasks.json>",
		Short: "Import tasks from a legacy tasks.json file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rep, err := rt.Engine.ImportLegacy(ctx, f, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Imported %d tasks (%d skipped); alarms: %d resumed, %d expired, %d armed\n",
					rep.Imported, rep.Skipped, rep.Alarms.Resumed, rep.Alarms.Expired, rep.Alarms.Armed)
				return nil
			})
		},
	}
}

func printTask(e engine.Engine, t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(struct {
			domain.Task
			AlarmState alarm.State `json:"alarm_state"`
		}{t, e.AlarmState(t)})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"ID", t.ID})
	tw.AppendRow(table.Row{"Title", t.Title})
	if t.Description != "" {
		tw.AppendRow(table.Row{"Description", t.Description})
	}
	tw.AppendRow(table.Row{"Completed", t.Completed})
	tw.AppendRow(table.Row{"Alarm", alarmSummary(t.Alarm)})
	tw.AppendRow(table.Row{"Alarm state", e.AlarmState(t)})
	if t.AlarmTargetTimestamp != nil {
		tw.AppendRow(table.Row{"Due", time.UnixMilli(*t.AlarmTargetTimestamp).Local().Format(time.RFC1123)})
	}
	tw.Render()
	return nil
}

func alarmSummary(a domain.Alarm) string {
	if !a.Enabled {
		return "off"
	}
	if a.Mode == domain.AlarmModeDatetime {
		return "at " + time.UnixMilli(a.Timestamp).Local().Format("2006-01-02 15:04:05")
	}
	var parts []string
	if a.Hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", a.Hours))
	}
	if a.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", a.Minutes))
	}
	if a.Seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", a.Seconds))
	}
	return "in " + strings.Join(parts, "")
}
