// Package task defines the contract between the orchestrator and the data
// sources it polls.
package task

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
)

// Payload is a display message for one app on the bus.
//
// A nil Payload means "no data" and encodes to null. An empty, non-nil
// Payload encodes to {} and removes the app from the display.
type Payload map[string]any

// Empty returns the payload that removes an app from the display.
func Empty() Payload { return Payload{} }

// IsEmpty reports whether p is the non-nil empty payload.
func (p Payload) IsEmpty() bool { return p != nil && len(p) == 0 }

// Clone returns a shallow copy. Nested values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Encode serializes p as compact JSON without HTML escaping, so non-ASCII
// text and symbols like "¥" reach the display untouched.
func (p Payload) Encode() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Task is a named, independently schedulable unit of work.
//
// Interval, Priority and Enabled are read once per cycle and may change
// between cycles (live configuration).
type Task interface {
	Name() string
	Interval() time.Duration
	Priority() int
	Enabled() bool
	Run(ctx context.Context) (Payload, error)
}

// Scheduled is implemented by tasks whose cadence is a cron expression
// instead of (or in addition to) a fixed interval.
type Scheduled interface {
	Schedule() cron.Schedule
}

// TimeoutOverride is implemented by tasks that need a per-task execution
// timeout. Zero means "use the global task timeout".
type TimeoutOverride interface {
	Timeout() time.Duration
}

// Configured is implemented by tasks whose properties come from one
// settings read. Describe uses it so a snapshot is never torn by a reload.
type Configured interface {
	Settings() Settings
}

// Descriptor is a point-in-time view of a Task, taken once per cycle.
type Descriptor struct {
	Name     string
	Interval time.Duration
	Schedule cron.Schedule // nil unless the task is cron-scheduled
	Priority int
	Enabled  bool
	Timeout  time.Duration
	Policy   FailurePolicy
	Order    int // position in the loaded task list
}

// Describe reads every live property of t exactly once.
func Describe(t Task, order int) Descriptor {
	if c, ok := t.(Configured); ok {
		st := c.Settings()
		return Descriptor{
			Name:     t.Name(),
			Interval: st.Interval,
			Schedule: st.Schedule,
			Priority: st.Priority,
			Enabled:  st.Enabled,
			Timeout:  st.Timeout,
			Policy:   st.Policy,
			Order:    order,
		}
	}
	d := Descriptor{
		Name:     t.Name(),
		Interval: t.Interval(),
		Priority: t.Priority(),
		Enabled:  t.Enabled(),
		Order:    order,
	}
	if s, ok := t.(Scheduled); ok {
		d.Schedule = s.Schedule()
	}
	if to, ok := t.(TimeoutOverride); ok {
		d.Timeout = to.Timeout()
	}
	return d
}

type descriptorKey struct{}

// WithDescriptor attaches the cycle's snapshot of a task to ctx.
func WithDescriptor(ctx context.Context, d Descriptor) context.Context {
	return context.WithValue(ctx, descriptorKey{}, d)
}

// DescriptorFrom returns the snapshot attached by WithDescriptor.
func DescriptorFrom(ctx context.Context) (Descriptor, bool) {
	d, ok := ctx.Value(descriptorKey{}).(Descriptor)
	return d, ok
}

// Pin returns t with Run bound to the snapshot d, so a run sees the same
// enabled flag and failure policy the cycle was planned with.
func Pin(t Task, d Descriptor) Task {
	return pinned{Task: t, d: d}
}

type pinned struct {
	Task
	d Descriptor
}

func (p pinned) Run(ctx context.Context) (Payload, error) {
	return p.Task.Run(WithDescriptor(ctx, p.d))
}

// Due reports whether a task last attempted at last should run at now.
// A zero last time (never ran) is always due.
func (d Descriptor) Due(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	if d.Schedule != nil {
		return !d.Schedule.Next(last).After(now)
	}
	return now.Sub(last) >= d.Interval
}
