package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandTimeout = 10 * time.Second

// Command runs an external program for each notification, typically a
// desktop notifier such as notify-send or terminal-notifier. Arguments may
// contain the placeholders {app}, {title}, {message} and {task_id}.
type Command struct {
	Args    []string
	AppName string
	Timeout time.Duration

	// run is replaced in tests.
	run func(ctx context.Context, name string, args ...string) error
}

// NewCommand returns a Command sink, or nil when args is empty.
func NewCommand(appName string, args []string) *Command {
	if len(args) == 0 {
		return nil
	}
	return &Command{Args: args, AppName: appName}
}

func (c *Command) Notify(ctx context.Context, n Notification) error {
	if len(c.Args) == 0 {
		return errors.New("notify command not configured")
	}
	app := c.AppName
	if app == "" {
		app = DefaultTitle
	}
	r := strings.NewReplacer(
		"{app}", app,
		"{title}", n.Title,
		"{message}", n.Message,
		"{task_id}", n.TaskID,
	)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run := c.run
	if run == nil {
		run = runCommand
	}
	if err := run(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("notify command %s: %w", args[0], err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return err
}
