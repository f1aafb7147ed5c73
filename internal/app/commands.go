package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/spotify"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	"github.com/Golevka2001/awtrix-scripts/internal/task/engine"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// TaskInfo is one row of List.
type TaskInfo struct {
	Name     string
	Enabled  bool
	Priority int
	Interval time.Duration
	Cron     bool
}

// List describes the loaded tasks in load order.
func (a *App) List() []TaskInfo {
	tasks := a.sched.Tasks()
	out := make([]TaskInfo, 0, len(tasks))
	for i, t := range tasks {
		d := task.Describe(t, i)
		out = append(out, TaskInfo{
			Name:     d.Name,
			Enabled:  d.Enabled,
			Priority: d.Priority,
			Interval: d.Interval,
			Cron:     d.Schedule != nil,
		})
	}
	return out
}

func (a *App) find(name string) (task.Task, error) {
	for _, t := range a.sched.Tasks() {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown task %q", name)
}

// RunOnce runs one task under the bounded executor, publishes its payload
// and returns the published JSON. Enabled flags and intervals are ignored;
// the failure policy still applies.
func (a *App) RunOnce(ctx context.Context, name string) (string, error) {
	t, err := a.find(name)
	if err != nil {
		return "", err
	}
	if err := a.Connect(ctx); err != nil {
		return "", fmt.Errorf("connect bus: %w", err)
	}
	d := task.Describe(t, 0)
	d.Enabled = true
	timeout := a.schedulerOptions().TaskTimeout
	if d.Timeout > 0 {
		timeout = d.Timeout
	}

	res := a.exec.Execute(ctx, task.Pin(t, d), timeout)
	if res.Outcome != engine.Completed {
		return "", fmt.Errorf("task %s %s: %w", name, res.Outcome, res.Err)
	}
	// A nil payload (stale policy, nothing cached) publishes "null" like a cycle does.
	body, err := res.Payload.Encode()
	if err != nil {
		return "", err
	}
	if err := a.pub.Publish(ctx, name, body); err != nil {
		return body, err
	}
	a.log.Info("task published", logx.String("task", name), logx.Duration("took", res.Duration))
	return body, nil
}

// Delete publishes the empty payload for one channel, which removes the
// custom app from the display. The name need not be a loaded task.
func (a *App) Delete(ctx context.Context, name string) error {
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	body, err := task.Empty().Encode()
	if err != nil {
		return err
	}
	if err := a.pub.Publish(ctx, name, body); err != nil {
		return err
	}
	a.log.Info("app deleted", logx.String("channel", name))
	return nil
}

// Cleanup publishes the empty payload for every loaded task.
func (a *App) Cleanup(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	if errs := a.sched.Cleanup(ctx); len(errs) > 0 {
		return fmt.Errorf("%d of %d empty payloads not delivered: %w", len(errs), len(a.sched.Tasks()), errs[0])
	}
	return nil
}

// AuthorizeSpotify runs the one-time authorization of the spotify source:
// it prints the consent URL to out, reads the redirected URL from in and
// writes the token cache into app.store_dir.
func (a *App) AuthorizeSpotify(ctx context.Context, in io.Reader, out io.Writer) error {
	src := spotify.New(sourcekit.Env{Config: a.cfgm.Get, Log: a.log})
	state := uuid.NewString()
	u, err := src.AuthorizeURL(state)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Open this URL, approve access, then paste the address you were redirected to:\n\n%s\n\n> ", u)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := src.Authorize(ctx, strings.TrimSpace(line), state); err != nil {
		return err
	}
	fmt.Fprintln(out, "Authorized.")
	return nil
}

// Close releases the app after one-shot commands. Use Stop after Start.
func (a *App) Close() error { return a.close() }
