package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/delivery"
	"github.com/Golevka2001/awtrix-scripts/internal/storage"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// --- fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type memStore struct {
	mu      sync.Mutex
	runs    storage.RunRecords
	enabled storage.EnabledRecords
	cached  map[string]task.Payload
	failRW  bool
}

func newMemStore() *memStore {
	return &memStore{runs: storage.RunRecords{}, enabled: storage.EnabledRecords{}, cached: map[string]task.Payload{}}
}

func (m *memStore) LoadRunRecords(context.Context) (storage.RunRecords, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRW {
		return nil, errors.New("disk gone")
	}
	out := storage.RunRecords{}
	for k, v := range m.runs {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveRunRecords(_ context.Context, r storage.RunRecords) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRW {
		return errors.New("disk gone")
	}
	m.runs = storage.RunRecords{}
	for k, v := range r {
		m.runs[k] = v
	}
	return nil
}

func (m *memStore) LoadEnabledRecords(context.Context) (storage.EnabledRecords, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRW {
		return nil, errors.New("disk gone")
	}
	out := storage.EnabledRecords{}
	for k, v := range m.enabled {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveEnabledRecords(_ context.Context, r storage.EnabledRecords) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRW {
		return errors.New("disk gone")
	}
	m.enabled = storage.EnabledRecords{}
	for k, v := range r {
		m.enabled[k] = v
	}
	return nil
}

func (m *memStore) LoadCached(_ context.Context, name string) (task.Payload, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.cached[name]
	return p, ok, nil
}

func (m *memStore) SaveCached(_ context.Context, name string, p task.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[name] = p
	return nil
}

func (m *memStore) DeleteCached(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cached, name)
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeTask struct {
	name     string
	interval time.Duration
	priority int
	enabled  atomic.Bool
	calls    atomic.Int32
	run      func(ctx context.Context) (task.Payload, error)
}

func newFakeTask(name string, priority int, interval time.Duration, run func(context.Context) (task.Payload, error)) *fakeTask {
	t := &fakeTask{name: name, priority: priority, interval: interval, run: run}
	t.enabled.Store(true)
	return t
}

func (t *fakeTask) Name() string            { return t.name }
func (t *fakeTask) Interval() time.Duration { return t.interval }
func (t *fakeTask) Priority() int           { return t.priority }
func (t *fakeTask) Enabled() bool           { return t.enabled.Load() }
func (t *fakeTask) Run(ctx context.Context) (task.Payload, error) {
	t.calls.Add(1)
	if t.run == nil {
		return task.Payload{"text": t.name}, nil
	}
	return t.run(ctx)
}

type published struct {
	channel string
	payload string
}

type recordingPub struct {
	mu    sync.Mutex
	calls []published
	fail  map[string]bool
	// onPublish runs before recording, e.g. to inspect the store.
	onPublish func()
}

func (p *recordingPub) Publish(_ context.Context, channel, payload string) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{channel, payload})
	if p.fail[channel] {
		return errors.New("publish refused")
	}
	return nil
}

func (p *recordingPub) take() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.calls
	p.calls = nil
	return out
}

var nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	store *memStore
	pub   *recordingPub
	clock *fakeClock
}

func newHarness(t *testing.T, opts Options, tasks ...task.Task) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), pub: &recordingPub{}, clock: &fakeClock{now: nineAM}}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	svc, err := New(Deps{
		Tasks:     tasks,
		Store:     h.store,
		Deliverer: delivery.NewSequencer(h.pub, logx.Nop(), nil),
		Options:   func() Options { return opts },
		Clock:     h.clock,
		Log:       logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc
	return h
}

func payloadOf(t *testing.T, calls []published, name string) (string, bool) {
	t.Helper()
	for _, c := range calls {
		if c.channel == name {
			return c.payload, true
		}
	}
	return "", false
}

// --- properties ---

func TestIntervalGatingServesCache(t *testing.T) {
	a := newFakeTask("a", 0, time.Minute, nil)
	h := newHarness(t, Options{}, a)
	h.store.runs["a"] = nineAM.Add(-10 * time.Second)
	h.store.cached["a"] = task.Payload{"text": "cached"}

	rep := h.svc.RunCycle(context.Background())

	if a.calls.Load() != 0 {
		t.Fatalf("task inside its interval was dispatched")
	}
	if len(rep.NotDue) != 1 || rep.NotDue[0] != "a" {
		t.Fatalf("NotDue = %v", rep.NotDue)
	}
	if got, _ := payloadOf(t, h.pub.take(), "a"); got != `{"text":"cached"}` {
		t.Fatalf("payload = %s", got)
	}
	if !h.store.runs["a"].Equal(nineAM.Add(-10 * time.Second)) {
		t.Fatalf("lastRunAt must not move for a not-due task")
	}
}

func TestTimeoutFallsBackAndAdvancesLastRun(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := newFakeTask("slow", 0, time.Second, func(context.Context) (task.Payload, error) {
		<-release
		return task.Payload{"text": "late"}, nil
	})
	h := newHarness(t, Options{TaskTimeout: 30 * time.Millisecond}, slow)
	h.store.cached["slow"] = task.Payload{"text": "old"}

	rep := h.svc.RunCycle(context.Background())

	if len(rep.Fallbacks) != 1 {
		t.Fatalf("Fallbacks = %v", rep.Fallbacks)
	}
	if got, _ := payloadOf(t, h.pub.take(), "slow"); got != `{"text":"old"}` {
		t.Fatalf("payload = %s", got)
	}
	if !h.store.runs["slow"].Equal(nineAM) {
		t.Fatalf("lastRunAt = %v, want %v", h.store.runs["slow"], nineAM)
	}
}

func TestRunErrorFallsBackToCache(t *testing.T) {
	bad := newFakeTask("bad", 0, time.Minute, func(context.Context) (task.Payload, error) {
		return nil, errors.New("api down")
	})
	h := newHarness(t, Options{}, bad)
	h.store.runs["bad"] = nineAM.Add(-2 * time.Minute)
	h.store.cached["bad"] = task.Payload{"text": "old"}

	rep := h.svc.RunCycle(context.Background())

	if len(rep.Due) != 1 || bad.calls.Load() != 1 {
		t.Fatalf("Due = %v, calls = %d", rep.Due, bad.calls.Load())
	}
	if len(rep.Fallbacks) != 1 || rep.Fallbacks[0] != "bad" {
		t.Fatalf("Fallbacks = %v", rep.Fallbacks)
	}
	if got, _ := payloadOf(t, h.pub.take(), "bad"); got != `{"text":"old"}` {
		t.Fatalf("payload = %s", got)
	}
	if !h.store.runs["bad"].Equal(nineAM) {
		t.Fatalf("lastRunAt = %v, want %v", h.store.runs["bad"], nineAM)
	}
	if st := h.svc.Snapshot().Tasks[0]; st.LastOutcome != "failed" {
		t.Fatalf("last outcome = %q", st.LastOutcome)
	}
}

func TestRunSeesCycleDescriptor(t *testing.T) {
	var got task.Descriptor
	var seen bool
	a := newFakeTask("a", 4, time.Second, func(ctx context.Context) (task.Payload, error) {
		got, seen = task.DescriptorFrom(ctx)
		return task.Payload{"text": "a"}, nil
	})
	h := newHarness(t, Options{}, a)

	h.svc.RunCycle(context.Background())

	if !seen || got.Name != "a" || !got.Enabled || got.Priority != 4 {
		t.Fatalf("descriptor = %+v (attached %v)", got, seen)
	}
}

func TestDisabledEdgeEmitsEmptyOnce(t *testing.T) {
	a := newFakeTask("a", 0, time.Second, nil)
	h := newHarness(t, Options{}, a)

	h.svc.RunCycle(context.Background())
	h.pub.take()

	a.enabled.Store(false)
	h.clock.Set(nineAM.Add(time.Minute))
	h.svc.RunCycle(context.Background())
	calls := h.pub.take()
	if got, ok := payloadOf(t, calls, "a"); !ok || got != "{}" {
		t.Fatalf("cycle N+1: payload = %q (sent %v)", got, ok)
	}

	h.clock.Set(nineAM.Add(2 * time.Minute))
	h.svc.RunCycle(context.Background())
	if _, ok := payloadOf(t, h.pub.take(), "a"); ok {
		t.Fatalf("cycle N+2: disabled task published again")
	}
	if a.calls.Load() != 1 {
		t.Fatalf("disabled task ran %d times, want 1", a.calls.Load())
	}
}

func TestDisabledWithoutRecordCountsAsPreviouslyEnabled(t *testing.T) {
	a := newFakeTask("a", 0, time.Second, nil)
	a.enabled.Store(false)
	h := newHarness(t, Options{}, a)

	h.svc.RunCycle(context.Background())
	if got, ok := payloadOf(t, h.pub.take(), "a"); !ok || got != "{}" {
		t.Fatalf("payload = %q (sent %v)", got, ok)
	}
	if v, ok := h.store.enabled["a"]; !ok || v {
		t.Fatalf("enabled record = %v, %v", v, ok)
	}
}

func TestScenarioDeliveryOrder(t *testing.T) {
	a := newFakeTask("A", 1, 60*time.Second, nil)
	b := newFakeTask("B", 2, 5*time.Second, nil)
	c := newFakeTask("C", 0, time.Second, nil)
	c.enabled.Store(false)

	h := newHarness(t, Options{}, a, b, c)
	h.store.runs["A"] = nineAM.Add(-10 * time.Second)
	h.store.runs["B"] = nineAM.Add(-10 * time.Second)
	h.store.cached["A"] = task.Payload{"text": "a"}

	rep := h.svc.RunCycle(context.Background())

	if len(rep.Due) != 1 || rep.Due[0] != "B" {
		t.Fatalf("Due = %v", rep.Due)
	}
	calls := h.pub.take()
	want := []published{{"C", "{}"}, {"A", `{"text":"a"}`}, {"B", `{"text":"B"}`}}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestEqualPriorityKeepsLoadOrder(t *testing.T) {
	tasks := []task.Task{
		newFakeTask("z", 1, time.Second, nil),
		newFakeTask("y", 0, time.Second, nil),
		newFakeTask("x", 1, time.Second, nil),
		newFakeTask("w", 0, time.Second, nil),
	}
	h := newHarness(t, Options{}, tasks...)
	h.svc.RunCycle(context.Background())

	var order []string
	for _, c := range h.pub.take() {
		order = append(order, c.channel)
	}
	want := []string{"y", "w", "z", "x"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDeliveryIsolation(t *testing.T) {
	a := newFakeTask("a", 0, time.Second, nil)
	b := newFakeTask("b", 5, time.Second, nil)
	h := newHarness(t, Options{}, a, b)
	h.pub.fail = map[string]bool{"a": true}

	rep := h.svc.RunCycle(context.Background())

	if len(rep.Errors) != 1 || rep.Errors[0].Name != "a" {
		t.Fatalf("Errors = %v", rep.Errors)
	}
	if _, ok := payloadOf(t, h.pub.take(), "b"); !ok {
		t.Fatal("b was not delivered after a failed")
	}
	if _, ok := h.store.runs["a"]; !ok {
		t.Fatal("publish failure must not roll back run records")
	}
}

func TestColdStartDispatchesEverything(t *testing.T) {
	ok := newFakeTask("ok", 0, time.Hour, nil)
	bad := newFakeTask("bad", 1, time.Hour, func(context.Context) (task.Payload, error) {
		return nil, errors.New("fetch exploded")
	})
	h := newHarness(t, Options{}, ok, bad)

	rep := h.svc.RunCycle(context.Background())

	if len(rep.Due) != 2 {
		t.Fatalf("Due = %v", rep.Due)
	}
	calls := h.pub.take()
	if got, _ := payloadOf(t, calls, "ok"); got != `{"text":"ok"}` {
		t.Fatalf("ok payload = %s", got)
	}
	if got, _ := payloadOf(t, calls, "bad"); got != "null" {
		t.Fatalf("failed task without cache should publish null, got %s", got)
	}
}

func TestUnreadableStateIsColdStart(t *testing.T) {
	a := newFakeTask("a", 0, time.Hour, nil)
	h := newHarness(t, Options{}, a)
	h.store.runs["a"] = nineAM
	h.store.failRW = true

	rep := h.svc.RunCycle(context.Background())
	if len(rep.Due) != 1 || a.calls.Load() != 1 {
		t.Fatalf("unreadable state should make the task due, report %+v", rep)
	}
	if _, ok := payloadOf(t, h.pub.take(), "a"); !ok {
		t.Fatal("write failure must not stop delivery")
	}
}

func TestPersistBeforeDeliver(t *testing.T) {
	a := newFakeTask("a", 0, time.Second, nil)
	h := newHarness(t, Options{}, a)
	var persisted atomic.Bool
	h.pub.onPublish = func() {
		h.store.mu.Lock()
		_, ok := h.store.runs["a"]
		h.store.mu.Unlock()
		persisted.Store(ok)
	}

	h.svc.RunCycle(context.Background())
	if !persisted.Load() {
		t.Fatal("run records were not persisted before delivery")
	}
}

func TestStepGatesOnActiveHours(t *testing.T) {
	a := newFakeTask("a", 0, time.Second, nil)
	b := newFakeTask("b", 1, time.Second, nil)
	h := newHarness(t, Options{AllowedHours: []HourRange{{0, 1}, {8, 24}}, MainLoopInterval: 20 * time.Second}, a, b)

	h.clock.Set(time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC))
	rep, wait := h.svc.Step(context.Background())
	if !rep.OffHours || wait != DefaultOffHoursSleep {
		t.Fatalf("hour 5: report %+v, wait %v", rep, wait)
	}
	calls := h.pub.take()
	if len(calls) != 2 || calls[0].payload != "{}" || calls[1].payload != "{}" {
		t.Fatalf("off-hours cleanup calls = %v", calls)
	}
	if a.calls.Load() != 0 {
		t.Fatal("task ran outside active hours")
	}
	if h.svc.Snapshot().Active {
		t.Fatal("snapshot should report inactive")
	}

	h.clock.Set(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rep, wait = h.svc.Step(context.Background())
	if rep.OffHours || wait != 20*time.Second || a.calls.Load() != 1 {
		t.Fatalf("hour 9: report %+v, wait %v, calls %d", rep, wait, a.calls.Load())
	}
}

func TestCleanupSendsEmptyForAllTasks(t *testing.T) {
	a := newFakeTask("a", 3, time.Second, nil)
	b := newFakeTask("b", 1, time.Second, nil)
	b.enabled.Store(false)
	h := newHarness(t, Options{}, a, b)

	if errs := h.svc.Cleanup(context.Background()); len(errs) != 0 {
		t.Fatalf("Cleanup errs = %v", errs)
	}
	calls := h.pub.take()
	want := []published{{"b", "{}"}, {"a", "{}"}}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newFakeTask("a", 0, time.Second, nil)
	h := newHarness(t, Options{MainLoopInterval: time.Hour}, a)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for a.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New(Deps{
		Tasks:     []task.Task{newFakeTask("a", 0, time.Second, nil), newFakeTask("a", 1, time.Second, nil)},
		Store:     newMemStore(),
		Deliverer: delivery.NewSequencer(&recordingPub{}, logx.Nop(), nil),
	})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshotReportsNextDue(t *testing.T) {
	a := newFakeTask("a", 0, time.Minute, nil)
	h := newHarness(t, Options{}, a)
	h.svc.RunCycle(context.Background())

	snap := h.svc.Snapshot()
	if len(snap.Tasks) != 1 {
		t.Fatalf("tasks = %v", snap.Tasks)
	}
	st := snap.Tasks[0]
	if !st.NextDue.Equal(nineAM.Add(time.Minute)) || st.LastOutcome != "completed" {
		t.Fatalf("status = %+v", st)
	}
	if snap.LastCycle.ID == "" {
		t.Fatal("last cycle missing")
	}
}
