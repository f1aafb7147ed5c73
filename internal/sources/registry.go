// Package sources lists the built-in data sources and turns them into
// scheduler tasks.
package sources

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/airquality"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/bilibili"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/contributions"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/gasprice"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/github"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/minecraft"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/speedtest"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/spotify"
	"github.com/Golevka2001/awtrix-scripts/internal/sources/yearprogress"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

// Source is a data source with built-in settings.
type Source interface {
	task.Fetcher
	Defaults() sourcekit.Defaults
}

// OptionsValidator is implemented by sources with source specific keys.
type OptionsValidator interface {
	ValidateOptions(c *config.Config) error
}

// All returns one instance of every built-in source in load order. Load
// order breaks priority ties.
func All(env sourcekit.Env) []Source {
	return []Source{
		airquality.New(env),
		bilibili.New(env),
		gasprice.New(env),
		contributions.New(env),
		github.New(env),
		minecraft.New(env),
		spotify.New(env),
		yearprogress.New(env),
		speedtest.New(env),
	}
}

// Names returns the built-in source names in load order.
func Names() []string {
	all := All(sourcekit.Env{})
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.Name()
	}
	return out
}

// Build wraps srcs into tasks reading live settings through env.Config and
// caching results in results. Tasks are stably sorted by their current
// priority.
func Build(env sourcekit.Env, srcs []Source, results task.ResultStore) ([]task.Task, error) {
	env = env.WithDefaults()
	seen := make(map[string]struct{}, len(srcs))
	tasks := make([]task.Task, 0, len(srcs))
	for _, s := range srcs {
		name := s.Name()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate source %q", name)
		}
		seen[name] = struct{}{}
		settings := sourcekit.Settings(env.Config, name, s.Defaults())
		tasks = append(tasks, task.NewSourceTask(s, settings, results, env.Log))
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Priority() < tasks[j].Priority() })
	return tasks, nil
}

// Validate checks the source specific keys of every configured task. It is
// meant to run as part of config validation, before a reload is committed.
func Validate(c *config.Config) error {
	var errs []error
	for _, s := range All(sourcekit.Env{}) {
		tc, configured := c.Tasks[s.Name()]
		if !configured {
			continue
		}
		v, ok := s.(OptionsValidator)
		if !ok {
			// no source specific keys at all
			if err := tc.DecodeOptions(&struct{}{}); err != nil {
				errs = append(errs, fmt.Errorf("tasks.%s: %w", s.Name(), err))
			}
			continue
		}
		if err := v.ValidateOptions(c); err != nil {
			errs = append(errs, fmt.Errorf("tasks.%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// UnknownTasks returns configured task names that match no built-in source.
func UnknownTasks(c *config.Config) []string {
	known := map[string]struct{}{}
	for _, n := range Names() {
		known[n] = struct{}{}
	}
	var out []string
	for _, n := range c.TaskNames() {
		if _, ok := known[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
