package scheduler

import (
	"context"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/delivery"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

// Options are the loop settings read once at the top of every cycle.
type Options struct {
	AllowedHours     []HourRange
	MainLoopInterval time.Duration
	TaskTimeout      time.Duration
	SendInterval     time.Duration
	OffHoursSleep    time.Duration
	Location         *time.Location
}

// OptionsFunc returns the current options. It is consulted every cycle so a
// config reload applies from the next cycle on.
type OptionsFunc func() Options

const (
	DefaultMainLoopInterval = 20 * time.Second
	DefaultTaskTimeout      = 5 * time.Second
	DefaultSendInterval     = 500 * time.Millisecond
	DefaultOffHoursSleep    = 30 * time.Minute
)

func (o Options) withDefaults() Options {
	if len(o.AllowedHours) == 0 {
		o.AllowedHours = DefaultHours()
	}
	if o.MainLoopInterval <= 0 {
		o.MainLoopInterval = DefaultMainLoopInterval
	}
	if o.TaskTimeout < 0 {
		o.TaskTimeout = 0
	}
	if o.SendInterval < 0 {
		o.SendInterval = 0
	}
	if o.OffHoursSleep <= 0 {
		o.OffHoursSleep = DefaultOffHoursSleep
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Clock is the time source for interval math and the hour gate.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deliverer hands a cycle's payloads to the bus.
type Deliverer interface {
	Deliver(ctx context.Context, results map[string]task.Payload, descs []task.Descriptor, sendInterval time.Duration) []delivery.ItemError
}

// CycleReport summarizes one cycle (or one off-hours gate).
type CycleReport struct {
	ID        string               `json:"id"`
	Started   time.Time            `json:"started"`
	Duration  time.Duration        `json:"duration"`
	OffHours  bool                 `json:"off_hours,omitempty"`
	Due       []string             `json:"due,omitempty"`
	NotDue    []string             `json:"not_due,omitempty"`
	Disabled  []string             `json:"disabled,omitempty"`
	Fallbacks []string             `json:"fallbacks,omitempty"`
	Delivered int                  `json:"delivered"`
	Errors    []delivery.ItemError `json:"-"`
	// Interrupted is set when ctx ended before the cycle could persist.
	Interrupted bool `json:"interrupted,omitempty"`
}
