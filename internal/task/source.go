package task

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// Fetcher produces a fresh payload for one data source.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (Payload, error)
}

// ErrorPayloader is implemented by fetchers that render their own error
// message (usually with a source specific icon).
type ErrorPayloader interface {
	ErrorPayload() Payload
}

// ResultStore persists the last successful payload per task.
type ResultStore interface {
	LoadCached(ctx context.Context, name string) (Payload, bool, error)
	SaveCached(ctx context.Context, name string, p Payload) error
}

// Settings are the live, config driven properties of a source task.
type Settings struct {
	Enabled  bool
	Interval time.Duration
	Schedule cron.Schedule
	Priority int
	Timeout  time.Duration
	Policy   FailurePolicy
}

// SettingsFunc returns the current settings. It is called on every access so
// config reloads take effect on the next cycle.
type SettingsFunc func() Settings

// SourceTask adapts a Fetcher into a Task: successful payloads are cached,
// failures are resolved through the configured FailurePolicy.
type SourceTask struct {
	fetcher  Fetcher
	settings SettingsFunc
	results  ResultStore
	log      logx.Logger
}

var (
	_ Task       = (*SourceTask)(nil)
	_ Configured = (*SourceTask)(nil)
)

func NewSourceTask(f Fetcher, settings SettingsFunc, results ResultStore, log logx.Logger) *SourceTask {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SourceTask{
		fetcher:  f,
		settings: settings,
		results:  results,
		log:      log.With(logx.String("task", f.Name())),
	}
}

func (t *SourceTask) Name() string            { return t.fetcher.Name() }
func (t *SourceTask) Interval() time.Duration { return t.settings().Interval }
func (t *SourceTask) Priority() int           { return t.settings().Priority }
func (t *SourceTask) Enabled() bool           { return t.settings().Enabled }
func (t *SourceTask) Schedule() cron.Schedule { return t.settings().Schedule }
func (t *SourceTask) Timeout() time.Duration  { return t.settings().Timeout }
func (t *SourceTask) Settings() Settings      { return t.settings() }

// Run fetches, caches and returns a payload. A disabled task returns the
// empty payload without fetching. When ctx carries a Descriptor for this
// task its enabled flag and policy win over the live settings.
func (t *SourceTask) Run(ctx context.Context) (Payload, error) {
	enabled, policy := t.snapshot(ctx)
	if !enabled {
		return Empty(), nil
	}

	p, err := t.fetcher.Fetch(ctx)
	if err == nil {
		if p == nil {
			p = Empty()
		}
		if t.results != nil {
			if serr := t.results.SaveCached(ctx, t.Name(), p); serr != nil {
				t.log.Error("cache write failed", logx.Err(serr))
			}
		}
		return p, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The executor already gave up on us; whatever we return is discarded.
		return nil, err
	}

	t.log.Warn("fetch failed", logx.Err(err), logx.String("policy", policy.String()))

	var cached Payload
	if policy == PolicyStale && t.results != nil {
		c, ok, lerr := t.results.LoadCached(ctx, t.Name())
		if lerr != nil {
			t.log.Warn("cache read failed", logx.Err(lerr))
		} else if ok {
			cached = c
		}
	}
	var errPayload Payload
	if ep, ok := t.fetcher.(ErrorPayloader); ok {
		errPayload = ep.ErrorPayload()
	}
	return ResolveFailure(policy, err, cached, errPayload)
}

func (t *SourceTask) snapshot(ctx context.Context) (bool, FailurePolicy) {
	if d, ok := DescriptorFrom(ctx); ok && d.Name == t.Name() {
		return d.Enabled, d.Policy
	}
	st := t.settings()
	return st.Enabled, st.Policy
}
