package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Golevka2001/awtrix-scripts/internal/delivery"
	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
	"github.com/Golevka2001/awtrix-scripts/internal/metrics"
	"github.com/Golevka2001/awtrix-scripts/internal/storage"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	"github.com/Golevka2001/awtrix-scripts/internal/task/engine"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

var ErrDuplicateTask = errors.New("duplicate task name")

// Deps wires a Service.
type Deps struct {
	Tasks     []task.Task
	Store     storage.Store
	Executor  *engine.Executor
	Deliverer Deliverer
	Options   OptionsFunc
	Clock     Clock
	Log       logx.Logger
	Bus       eventbus.Bus
}

// Service is the orchestrator. Run drives it; RunCycle and Step are exposed
// for one-shot use and tests.
type Service struct {
	tasks   []task.Task
	store   storage.Store
	exec    *engine.Executor
	deliver Deliverer
	opts    OptionsFunc
	clock   Clock
	log     logx.Logger
	bus     eventbus.Bus

	// cycleMu serializes cycles and cleanup so the store has a single writer.
	cycleMu sync.Mutex

	mu       sync.Mutex
	loaded   bool
	runs     storage.RunRecords
	enabled  storage.EnabledRecords
	outcomes map[string]string
	last     CycleReport
	active   bool
}

func New(d Deps) (*Service, error) {
	seen := make(map[string]struct{}, len(d.Tasks))
	for _, t := range d.Tasks {
		name := t.Name()
		if name == "" {
			return nil, errors.New("task with empty name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, name)
		}
		seen[name] = struct{}{}
	}
	if d.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if d.Deliverer == nil {
		return nil, errors.New("scheduler: deliverer is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Executor == nil {
		d.Executor = engine.New(d.Log, d.Bus)
	}
	if d.Options == nil {
		d.Options = func() Options { return Options{} }
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	return &Service{
		tasks:    append([]task.Task(nil), d.Tasks...),
		store:    d.Store,
		exec:     d.Executor,
		deliver:  d.Deliverer,
		opts:     d.Options,
		clock:    d.Clock,
		log:      d.Log.With(logx.String("comp", "scheduler")),
		bus:      d.Bus,
		outcomes: map[string]string{},
		active:   true,
	}, nil
}

// Tasks returns the loaded task list in load order.
func (s *Service) Tasks() []task.Task { return append([]task.Task(nil), s.tasks...) }

// LoadState reads persisted run and enabled records. Read failures degrade
// to "no prior state". It is called by Run and by the first cycle if needed.
func (s *Service) LoadState(ctx context.Context) {
	runs, err := s.store.LoadRunRecords(ctx)
	if err != nil {
		s.log.Warn("run records unreadable, treating every task as due", logx.Err(err))
		runs = storage.RunRecords{}
	}
	enabled, err := s.store.LoadEnabledRecords(ctx)
	if err != nil {
		s.log.Warn("enabled records unreadable, treating every task as previously enabled", logx.Err(err))
		enabled = storage.EnabledRecords{}
	}
	s.mu.Lock()
	s.runs, s.enabled, s.loaded = runs, enabled, true
	s.mu.Unlock()
	s.log.Debug("state loaded", logx.Int("run_records", len(runs)), logx.Int("enabled_records", len(enabled)))
}

// Run loops until ctx is done. It does not run the cleanup hook on exit;
// the caller does that with a fresh context.
func (s *Service) Run(ctx context.Context) error {
	s.ensureLoaded(ctx)
	s.log.Info("scheduler started", logx.Int("tasks", len(s.tasks)))
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, wait := s.Step(ctx)
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// Step runs the gate and, inside active hours, one cycle. It returns the
// report and how long the loop should sleep before the next step.
func (s *Service) Step(ctx context.Context) (CycleReport, time.Duration) {
	opts := s.opts().withDefaults()
	now := s.clock.Now()
	hour := now.In(opts.Location).Hour()

	if !Allowed(opts.AllowedHours, hour) {
		rep := s.offHours(ctx, opts, now, hour)
		return rep, opts.OffHoursSleep
	}
	s.setActive(true)
	return s.runCycle(ctx, opts), opts.MainLoopInterval
}

// RunCycle runs one cycle regardless of active hours.
func (s *Service) RunCycle(ctx context.Context) CycleReport {
	return s.runCycle(ctx, s.opts().withDefaults())
}

func (s *Service) offHours(ctx context.Context, opts Options, now time.Time, hour int) CycleReport {
	wasActive := s.setActive(false)
	if wasActive {
		s.log.Info("outside active hours, clearing display", logx.Int("hour", hour), logx.Duration("sleep", opts.OffHoursSleep))
	} else {
		s.log.Debug("outside active hours", logx.Int("hour", hour), logx.Duration("sleep", opts.OffHoursSleep))
	}
	rep := CycleReport{ID: uuid.NewString(), Started: now, OffHours: true}
	errs := s.cleanup(ctx, opts)
	rep.Errors = errs
	rep.Delivered = len(s.tasks) - len(errs)
	rep.Duration = time.Since(now)

	metrics.Cycle("off_hours", rep.Duration)
	eventbus.Publish(s.bus, eventbus.TypeCycleSkipped, eventbus.CycleEvent{
		CycleID: rep.ID, Started: rep.Started, Duration: rep.Duration, Reason: "off_hours",
		Delivered: rep.Delivered, Failed: len(errs),
	})
	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()
	return rep
}

func (s *Service) runCycle(ctx context.Context, opts Options) CycleReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.ensureLoaded(ctx)

	now := s.clock.Now()
	rep := CycleReport{ID: uuid.NewString(), Started: now}
	log := s.log.With(logx.String("cycle", rep.ID))

	// Configuration snapshot: every live property is read exactly once.
	descs := make([]task.Descriptor, len(s.tasks))
	for i, t := range s.tasks {
		descs[i] = task.Describe(t, i)
	}

	s.mu.Lock()
	runs := make(storage.RunRecords, len(s.runs)+len(descs))
	for k, v := range s.runs {
		runs[k] = v
	}
	prevEnabled := s.enabled
	s.mu.Unlock()

	results := make(map[string]task.Payload, len(descs))
	precached := map[string]task.Payload{}
	var jobs []engine.Job
	for i, d := range descs {
		switch {
		case !d.Enabled:
			if prev, ok := prevEnabled[d.Name]; !ok || prev {
				results[d.Name] = task.Empty()
				rep.Disabled = append(rep.Disabled, d.Name)
				log.Info("task disabled, clearing app", logx.String("task", d.Name))
			}
		case d.Due(runs[d.Name], now):
			precached[d.Name] = s.cached(ctx, d.Name)
			timeout := d.Timeout
			if timeout <= 0 {
				timeout = opts.TaskTimeout
			}
			jobs = append(jobs, engine.Job{Task: task.Pin(s.tasks[i], d), Timeout: timeout})
			rep.Due = append(rep.Due, d.Name)
		default:
			results[d.Name] = s.cached(ctx, d.Name)
			rep.NotDue = append(rep.NotDue, d.Name)
		}
	}

	// Dispatch and merge.
	for _, res := range s.exec.ExecuteAll(ctx, rep.ID, jobs) {
		s.recordOutcome(res.Name, res.Outcome.String())
		runs[res.Name] = now
		if res.Outcome == engine.Completed {
			results[res.Name] = res.Payload
			continue
		}
		results[res.Name] = precached[res.Name]
		rep.Fallbacks = append(rep.Fallbacks, res.Name)
		metrics.Fallback(res.Name)
		log.Warn("stale-data fallback",
			logx.String("task", res.Name),
			logx.String("outcome", res.Outcome.String()),
			logx.Err(res.Err),
			logx.Bool("cached", precached[res.Name] != nil),
		)
	}

	if ctx.Err() != nil {
		rep.Interrupted = true
		rep.Duration = time.Since(now)
		log.Info("cycle interrupted before persisting")
		return rep
	}

	// Persist before delivery.
	enabled := make(storage.EnabledRecords, len(descs))
	for _, d := range descs {
		enabled[d.Name] = d.Enabled
	}
	s.mu.Lock()
	s.runs, s.enabled = runs, enabled
	s.mu.Unlock()
	if err := s.store.SaveRunRecords(ctx, runs); err != nil {
		log.Error("run records not persisted", logx.Err(err))
	}
	if err := s.store.SaveEnabledRecords(ctx, enabled); err != nil {
		log.Error("enabled records not persisted", logx.Err(err))
	}

	rep.Errors = s.deliver.Deliver(ctx, results, descs, opts.SendInterval)
	rep.Delivered = len(results) - len(rep.Errors)
	rep.Duration = time.Since(now)

	log.Debug("cycle finished",
		logx.Int("due", len(rep.Due)),
		logx.Int("not_due", len(rep.NotDue)),
		logx.Int("disabled", len(rep.Disabled)),
		logx.Int("fallbacks", len(rep.Fallbacks)),
		logx.Int("delivered", rep.Delivered),
		logx.Duration("dur", rep.Duration),
	)
	metrics.Cycle("run", rep.Duration)
	eventbus.Publish(s.bus, eventbus.TypeCycleFinished, eventbus.CycleEvent{
		CycleID: rep.ID, Started: rep.Started, Duration: rep.Duration,
		Due: rep.Due, NotDue: rep.NotDue, Disabled: rep.Disabled, Fallbacks: rep.Fallbacks,
		Delivered: rep.Delivered, Failed: len(rep.Errors),
	})

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()
	return rep
}

// Cleanup publishes the empty payload for every loaded task, in priority
// order, paced by the configured send interval.
func (s *Service) Cleanup(ctx context.Context) []delivery.ItemError {
	return s.cleanup(ctx, s.opts().withDefaults())
}

func (s *Service) cleanup(ctx context.Context, opts Options) []delivery.ItemError {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	descs := make([]task.Descriptor, len(s.tasks))
	results := make(map[string]task.Payload, len(s.tasks))
	for i, t := range s.tasks {
		descs[i] = task.Describe(t, i)
		results[descs[i].Name] = task.Empty()
	}
	errs := s.deliver.Deliver(ctx, results, descs, opts.SendInterval)
	if len(errs) > 0 {
		s.log.Warn("cleanup incomplete", logx.Int("failed", len(errs)), logx.Int("tasks", len(descs)))
	} else {
		s.log.Debug("cleanup delivered", logx.Int("tasks", len(descs)))
	}
	eventbus.Publish(s.bus, eventbus.TypeCleanup, eventbus.CycleEvent{Delivered: len(descs) - len(errs), Failed: len(errs)})
	return errs
}

// cached returns the last successful payload, nil when absent or unreadable.
func (s *Service) cached(ctx context.Context, name string) task.Payload {
	p, ok, err := s.store.LoadCached(ctx, name)
	if err != nil {
		s.log.Warn("cached result unreadable", logx.String("task", name), logx.Err(err))
		return nil
	}
	if !ok {
		return nil
	}
	return p
}

func (s *Service) ensureLoaded(ctx context.Context) {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		s.LoadState(ctx)
	}
}

func (s *Service) recordOutcome(name, outcome string) {
	s.mu.Lock()
	s.outcomes[name] = outcome
	s.mu.Unlock()
}

func (s *Service) setActive(v bool) (was bool) {
	s.mu.Lock()
	was, s.active = s.active, v
	s.mu.Unlock()
	return was
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
