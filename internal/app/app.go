package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Golevka2001/awtrix-scripts/internal/cache"
	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/delivery"
	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
	"github.com/Golevka2001/awtrix-scripts/internal/runtime/supervisor"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/sources"
	"github.com/Golevka2001/awtrix-scripts/internal/status"
	"github.com/Golevka2001/awtrix-scripts/internal/storage"
	"github.com/Golevka2001/awtrix-scripts/internal/task/engine"
	"github.com/Golevka2001/awtrix-scripts/internal/task/scheduler"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	zone zoneCache

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	pub   *transport

	exec    *engine.Executor
	sched   *scheduler.Service
	status  *status.Service
	history *status.History
}

// NewApp loads the config and wires every component. It does not connect
// to the message bus; Start and the one-shot commands do that.
func NewApp(cfgPath string) (*App, error) {
	a := &App{cfgm: config.NewConfigManager(cfgPath), pub: &transport{}}
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return errors.Join(config.Validate(cfg), sources.Validate(cfg))
	})
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	sender, alertErr := mapAlertSender(cfg)
	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	if alertErr != nil {
		a.log.Warn("telegram alerts disabled", logx.Err(alertErr))
	}
	a.cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a.warnConfig(cfg)

	a.bus = eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.log.Debug("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	images := cache.NewImages(filepath.Join(cfg.App.StoreDir, cache.FileName), log.With(logx.String("comp", "images")))
	if err := images.Load(); err != nil {
		a.log.Warn("image cache unreadable", logx.Err(err))
	}

	client := sourcekit.NewClient()
	env := sourcekit.Env{
		Config: a.cfgm.Get,
		Client: client,
		Icons:  &sourcekit.IconRenderer{Client: client, Cache: images},
		Now:    a.now,
		Log:    log.With(logx.String("comp", "task")),
	}
	tasks, err := sources.Build(env, sources.All(env), store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.exec = engine.New(log.With(logx.String("comp", "engine")), a.bus)
	a.sched, err = scheduler.New(scheduler.Deps{
		Tasks:     tasks,
		Store:     store,
		Executor:  a.exec,
		Deliverer: delivery.NewSequencer(a.pub, log, a.bus),
		Options:   a.schedulerOptions,
		Log:       log.With(logx.String("comp", "scheduler")),
		Bus:       a.bus,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.history = status.NewHistory(0)
	a.status = status.New(a.sched, a.history, log)
	return a, nil
}

func (a *App) now() time.Time {
	return time.Now().In(a.zone.get(a.cfgm.Get().App.Timezone))
}

func (a *App) schedulerOptions() scheduler.Options {
	cfg := a.cfgm.Get()
	return mapSchedulerOptions(cfg, a.zone.get(cfg.App.Timezone))
}

func (a *App) warnConfig(cfg *config.Config) {
	for _, w := range config.Warnings(cfg) {
		a.log.Warn("config warning", logx.String("problem", w))
	}
	if unknown := sources.UnknownTasks(cfg); len(unknown) > 0 {
		a.log.Warn("config names tasks that do not exist", logx.Strings("tasks", unknown))
	}
}

// Connect opens the message bus connection. Safe to call more than once.
func (a *App) Connect(ctx context.Context) error {
	pc, err := mapPublishConfig(a.cfgm.Get())
	if err != nil {
		return err
	}
	return a.pub.open(ctx, pc, a.log)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sched.LoadState(a.sup.Context())
	a.sup.GoRestart("scheduler", a.sched.Run)

	a.status.Reconfigure(a.sup.Context(), mapStatusConfig(a.cfgm.Get()))
	a.sup.Go0("status.history", func(c context.Context) { a.history.Follow(c, a.bus) })

	// Keep this debug-level to avoid noise: every task run emits events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("tasks", len(a.sched.Tasks())))
	return nil
}

// applyConfig fans a committed reload out to the components that do not
// read the live config themselves. Tasks and scheduler options pick up the
// new values on their next read.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, tasksChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
		if len(tasksChanged) > 0 {
			a.log.Debug("task config changes detected", logx.Strings("tasks", tasksChanged))
		}
	}
	for _, s := range sections {
		if s == "storage" || s == "bus" || s == "mqtt" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	sender, err := mapAlertSender(newCfg)
	if err != nil {
		a.log.Warn("telegram alerts disabled", logx.Err(err))
	}
	a.logs.SetAlertSender(sender)
	a.logs.Apply(mapLogConfig(newCfg))

	a.status.Reconfigure(ctx, mapStatusConfig(newCfg))
	a.warnConfig(newCfg)
	eventbus.Publish(a.bus, eventbus.TypeConfigReloaded, sections)

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

// Stop shuts the app down. The cleanup hook runs first so the display does
// not keep apps nobody updates anymore.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancel first so the scheduler loop abandons its cycle immediately.
	a.sup.Cancel()

	a.step(ctx, "cleanup", 10*time.Second, func(c context.Context) error {
		if errs := a.sched.Cleanup(c); len(errs) > 0 {
			return fmt.Errorf("%d of %d empty payloads not delivered", len(errs), len(a.sched.Tasks()))
		}
		return nil
	})
	a.step(ctx, "status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "publisher", 2*time.Second, func(context.Context) error { return a.pub.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// close releases resources for apps that never started (one-shot commands).
func (a *App) close() error {
	err := errors.Join(a.pub.Close(), a.store.Close())
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs a shutdown step with an upper bound so one component can't stall
// the whole stop. fn must honor its context; a step that overruns is logged
// again when it eventually finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
