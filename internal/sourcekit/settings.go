package sourcekit

import (
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	"github.com/Golevka2001/awtrix-scripts/internal/task/scheduler"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultPriority = 100
)

// Defaults are a source's built-in settings, used for keys missing from the
// tasks section.
type Defaults struct {
	Interval time.Duration
	Priority int
	Enabled  bool
	// Timeout overrides app.task_timeout for slow sources; zero keeps it.
	Timeout time.Duration
}

// ConfigFunc returns the current committed config.
type ConfigFunc func() *config.Config

// Settings returns a task.SettingsFunc reading the entry for name from the
// live config on every call. Values that fail to parse fall back to the
// defaults; the config validator rejects them before commit anyway.
func Settings(cfg ConfigFunc, name string, def Defaults) task.SettingsFunc {
	if def.Interval <= 0 {
		def.Interval = DefaultInterval
	}
	if def.Priority == 0 {
		def.Priority = DefaultPriority
	}
	return func() task.Settings {
		var c *config.Config
		if cfg != nil {
			c = cfg()
		}
		tc := c.Task(name)

		st := task.Settings{
			Enabled:  tc.EnabledOr(def.Enabled),
			Interval: def.Interval,
			Priority: tc.PriorityOr(def.Priority),
			Timeout:  def.Timeout,
		}
		if raw := tc.Interval.String(); raw != "" {
			if spec, err := scheduler.ParseSchedule(raw); err == nil {
				if spec.Kind == scheduler.SpecCron {
					st.Schedule = spec.Schedule
				} else if spec.Every > 0 {
					st.Interval = spec.Every
				}
			}
		}
		if d, err := config.ParseDurationField("timeout", tc.Timeout.String()); err == nil && d > 0 {
			st.Timeout = d
		}

		policy := tc.BehaviorOnFailure.String()
		if policy == "" && c != nil {
			policy = c.App.BehaviorOnFailure.String()
		}
		if p, err := task.ParseFailurePolicy(policy); err == nil {
			st.Policy = p
		}
		return st
	}
}

// Options decodes the source specific keys of the entry for name into v.
func Options(c *config.Config, name string, v any) error {
	return c.Task(name).DecodeOptions(v)
}
