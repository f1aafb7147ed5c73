// Package engine runs tasks under a wall-clock bound.
//
// A task that outlives its timeout is abandoned: its context is cancelled so
// cooperative tasks stop early, but the executor never waits for it. The
// late result lands in a buffered channel nobody reads and is discarded.
package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
	"github.com/Golevka2001/awtrix-scripts/internal/metrics"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// slowRun is the duration above which a completed run is logged at info.
const slowRun = 750 * time.Millisecond

type Executor struct {
	log logx.Logger
	bus eventbus.Bus
}

func New(log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{log: log.With(logx.String("comp", "engine")), bus: bus}
}

type runReturn struct {
	payload task.Payload
	err     error
}

// Execute runs t and waits at most timeout for it. timeout <= 0 waits until
// the task returns or ctx is done.
//
// Cancellation of ctx itself is reported as Failed with ctx.Err(), so the
// caller can tell shutdown apart from a slow task.
func (e *Executor) Execute(ctx context.Context, t task.Task, timeout time.Duration) Result {
	return e.execute(ctx, "", t, timeout)
}

// ExecuteAll runs every job on its own goroutine and returns once each one
// has completed, failed or timed out. Results keep the order of jobs.
func (e *Executor) ExecuteAll(ctx context.Context, cycleID string, jobs []Job) []Result {
	out := make([]Result, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, j := range jobs {
		go func(i int, j Job) {
			defer wg.Done()
			out[i] = e.execute(ctx, cycleID, j.Task, j.Timeout)
		}(i, j)
	}
	wg.Wait()
	return out
}

func (e *Executor) execute(ctx context.Context, cycleID string, t task.Task, timeout time.Duration) Result {
	name := t.Name()
	start := time.Now()
	log := e.log.With(logx.String("task", name))
	if cycleID != "" {
		log = log.With(logx.String("cycle", cycleID))
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	log.Debug("task.started", logx.Duration("timeout", timeout))
	eventbus.Publish(e.bus, eventbus.TypeTaskStarted, eventbus.TaskEvent{CycleID: cycleID, Name: name, Started: start})

	// Buffered so an abandoned run can always deliver and exit.
	done := make(chan runReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runReturn{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		p, err := t.Run(runCtx)
		done <- runReturn{payload: p, err: err}
	}()

	res := Result{Name: name, Started: start}
	select {
	case r := <-done:
		res = e.classify(ctx, runCtx, res, r)
	case <-runCtx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-done:
			res = e.classify(ctx, runCtx, res, r)
		default:
			res.Outcome, res.Err = abandoned(ctx)
		}
	}
	res.Duration = time.Since(start)

	e.report(log, cycleID, res)
	return res
}

func (e *Executor) classify(parent, runCtx context.Context, res Result, r runReturn) Result {
	if r.err == nil {
		res.Outcome = Completed
		res.Payload = r.payload
		return res
	}
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) &&
		(errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled)) {
		res.Outcome, res.Err = TimedOut, ErrTimeout
		return res
	}
	res.Outcome, res.Err = Failed, r.err
	return res
}

func abandoned(parent context.Context) (Outcome, error) {
	if err := parent.Err(); err != nil {
		return Failed, err
	}
	return TimedOut, ErrTimeout
}

func (e *Executor) report(log logx.Logger, cycleID string, res Result) {
	metrics.ObserveTask(res.Name, res.Outcome.String(), res.Duration)

	ev := eventbus.TaskEvent{
		CycleID:  cycleID,
		Name:     res.Name,
		Started:  res.Started,
		Duration: res.Duration,
		Outcome:  res.Outcome.String(),
	}
	switch res.Outcome {
	case Completed:
		if res.Duration >= slowRun {
			log.Info("task.completed", logx.Duration("dur", res.Duration))
		} else {
			log.Debug("task.completed", logx.Duration("dur", res.Duration))
		}
		eventbus.Publish(e.bus, eventbus.TypeTaskCompleted, ev)
	case TimedOut:
		ev.Error = res.Err.Error()
		log.Warn("task.timed_out", logx.Duration("dur", res.Duration))
		eventbus.Publish(e.bus, eventbus.TypeTaskTimedOut, ev)
	default:
		ev.Error = res.Err.Error()
		var pe *PanicError
		if errors.As(res.Err, &pe) {
			log.Error("task.panic", logx.Any("panic", pe.Value), logx.String("stack", string(pe.Stack)))
		} else {
			log.Warn("task.failed", logx.Err(res.Err), logx.Duration("dur", res.Duration))
		}
		eventbus.Publish(e.bus, eventbus.TypeTaskFailed, ev)
	}
}
