package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

type fnTask struct {
	name string
	run  func(ctx context.Context) (task.Payload, error)
}

func (t fnTask) Name() string                                 { return t.name }
func (t fnTask) Interval() time.Duration                      { return time.Minute }
func (t fnTask) Priority() int                                { return 0 }
func (t fnTask) Enabled() bool                                { return true }
func (t fnTask) Run(ctx context.Context) (task.Payload, error) { return t.run(ctx) }

func TestExecuteCompleted(t *testing.T) {
	ex := New(logx.Nop(), nil)
	res := ex.Execute(context.Background(), fnTask{name: "ok", run: func(context.Context) (task.Payload, error) {
		return task.Payload{"text": "1"}, nil
	}}, time.Second)

	if res.Outcome != Completed || res.Err != nil {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}
	if res.Payload["text"] != "1" {
		t.Fatalf("payload = %v", res.Payload)
	}
}

func TestExecuteAbandonsBlockingTask(t *testing.T) {
	ex := New(logx.Nop(), nil)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	res := ex.Execute(context.Background(), fnTask{name: "stuck", run: func(context.Context) (task.Payload, error) {
		<-release // ignores ctx on purpose
		return task.Payload{"late": true}, nil
	}}, 50*time.Millisecond)

	if res.Outcome != TimedOut || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}
	if res.Payload != nil {
		t.Fatalf("timed out result must not carry a payload, got %v", res.Payload)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("executor waited %v for an abandoned task", elapsed)
	}
}

func TestExecuteCooperativeCancelIsTimeout(t *testing.T) {
	ex := New(logx.Nop(), nil)
	res := ex.Execute(context.Background(), fnTask{name: "coop", run: func(ctx context.Context) (task.Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, 20*time.Millisecond)

	if res.Outcome != TimedOut {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}
}

func TestExecuteFailedAndPanic(t *testing.T) {
	ex := New(logx.Nop(), nil)
	boom := errors.New("boom")

	res := ex.Execute(context.Background(), fnTask{name: "err", run: func(context.Context) (task.Payload, error) {
		return nil, boom
	}}, time.Second)
	if res.Outcome != Failed || !errors.Is(res.Err, boom) {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}

	res = ex.Execute(context.Background(), fnTask{name: "panic", run: func(context.Context) (task.Payload, error) {
		panic("kaboom")
	}}, time.Second)
	if res.Outcome != Failed || !IsPanic(res.Err) {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}
}

func TestExecuteParentCancelIsFailed(t *testing.T) {
	ex := New(logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ex.Execute(ctx, fnTask{name: "c", run: func(ctx context.Context) (task.Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, time.Second)
	if res.Outcome != Failed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}
}

func TestExecuteAllRunsConcurrently(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	ex := New(logx.Nop(), bus)

	var running atomic.Int32
	var peak atomic.Int32
	gate := make(chan struct{})
	mk := func(name string) Job {
		return Job{Timeout: time.Second, Task: fnTask{name: name, run: func(context.Context) (task.Payload, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			running.Add(-1)
			return task.Empty(), nil
		}}}
	}
	go func() {
		for peak.Load() < 3 {
			time.Sleep(time.Millisecond)
		}
		close(gate)
	}()

	results := ex.ExecuteAll(context.Background(), "cycle-1", []Job{mk("a"), mk("b"), mk("c")})
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].Name != want || results[i].Outcome != Completed {
			t.Fatalf("result[%d] = %+v", i, results[i])
		}
	}

	completed := 0
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.TypeTaskCompleted {
			completed++
			if e.Data.(eventbus.TaskEvent).CycleID != "cycle-1" {
				t.Fatalf("event missing cycle id: %+v", e.Data)
			}
		}
	}
	if completed != 3 {
		t.Fatalf("completed events = %d, want 3", completed)
	}
}
