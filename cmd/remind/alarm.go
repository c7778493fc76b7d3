package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskreminder/internal/app"
	"taskreminder/internal/engine"
)

func alarmCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "alarm",
		Short: "Configure task alarms and view countdowns",
	}
	a.AddCommand(alarmSetCmd())
	a.AddCommand(alarmOffCmd())
	a.AddCommand(alarmCountdownCmd())
	return a
}

func alarmSetCmd() *cobra.Command {
	var af alarmFlags
	cmd := &cobra.Command{
		Use:   "set <task-id>",
		Short: "Enable or change a task's alarm",
		Long: `Enable or change a task's alarm. Use --in or --at to replace the alarm,
or --hours/--minutes/--seconds to change only the given duration fields.
Setting an alarm restarts its countdown from now.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := af.patch(cmd)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("one of --in, --at, --hours, --minutes or --seconds is required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.SetAlarm(ctx, args[0], *p)
				if err != nil {
					return err
				}
				return printTask(rt.Engine, t)
			})
		},
	}
	af.register(cmd)
	return cmd
}

func alarmOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "off <task-id>",
		Aliases: []string{"disable"},
		Short:   "Disable a task's alarm",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.DisableAlarm(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(rt.Engine, t)
			})
		},
	}
}

func alarmCountdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "countdown [task-id]",
		Short: "Show the countdown of one task or of every open task with an alarm",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var items []engine.CountdownInfo
				if len(args) == 1 {
					info, err := rt.Engine.Countdown(ctx, args[0])
					if err != nil {
						return err
					}
					if !info.Available {
						return fmt.Errorf("task %s has no active countdown", args[0])
					}
					items = append(items, info)
				} else {
					var err error
					items, err = rt.Engine.Countdowns(ctx)
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					out := make([]map[string]any, 0, len(items))
					for _, c := range items {
						out = append(out, map[string]any{
							"task_id":      c.TaskID,
							"title":        c.Title,
							"state":        c.State,
							"remaining_ms": c.Countdown.Remaining.Milliseconds(),
							"is_expired":   c.Countdown.IsExpired,
							"progress":     c.Countdown.Progress(),
							"display":      c.Countdown.Display(),
						})
					}
					return printJSON(out)
				}
				if len(items) == 0 {
					fmt.Println("No active alarms.")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "", "Countdown", "Progress"})
				for _, c := range items {
					tw.AppendRow(table.Row{
						c.TaskID, c.Title, c.State, c.Countdown.Label(), c.Countdown.Display(),
						fmt.Sprintf("%.0f%%", c.Countdown.Progress()*100),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}
