package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
	"github.com/Golevka2001/awtrix-scripts/internal/task/scheduler"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the semantic rules tags cannot express:
// duration syntax, task schedules and failure policies. Allowed-hours
// problems are not errors here; the scheduler falls back to the default
// window and Warnings reports them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	durations := map[string]Scalar{
		"app.main_loop_interval": cfg.App.MainLoopInterval,
		"app.task_timeout":       cfg.App.TaskTimeout,
		"app.send_interval":      cfg.App.SendInterval,
		"app.off_hours_sleep":    cfg.App.OffHoursSleep,
		"bus.connect_timeout":    cfg.Bus.ConnectTimeout,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw.String()); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := task.ParseFailurePolicy(cfg.App.BehaviorOnFailure.String()); err != nil {
		errs = append(errs, fmt.Errorf("app.behavior_on_failure: %w", err))
	}
	if tz := strings.TrimSpace(cfg.App.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("app.timezone: %w", err))
		}
	}

	for _, name := range cfg.TaskNames() {
		tc := cfg.Tasks[name]
		path := "tasks." + name
		if strings.ContainsAny(name, `/\`) || strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("%s: invalid task name", path))
		}
		if tc.Interval != "" {
			if _, err := scheduler.ParseSchedule(tc.Interval.String()); err != nil {
				errs = append(errs, fmt.Errorf("%s.interval: %w", path, err))
			}
		}
		if _, err := ParseDurationField(path+".timeout", tc.Timeout.String()); err != nil {
			errs = append(errs, err)
		}
		if tc.BehaviorOnFailure != "" {
			if _, err := task.ParseFailurePolicy(tc.BehaviorOnFailure.String()); err != nil {
				errs = append(errs, fmt.Errorf("%s.behavior_on_failure: %w", path, err))
			}
		}
	}

	return errors.Join(errs...)
}

// Warnings lists non-fatal problems worth logging at startup and reload.
func Warnings(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	_, problems := cfg.App.AllowedHours.Ranges()
	if cfg.Status.Enabled && !isLoopbackAddr(cfg.Status.Addr) {
		problems = append(problems, "status.addr is not a loopback address and the status server has no auth")
	}
	return problems
}

func isLoopbackAddr(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
