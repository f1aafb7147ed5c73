package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
	"github.com/Golevka2001/awtrix-scripts/internal/task/scheduler"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

type fixedState struct{ snap scheduler.Snapshot }

func (f fixedState) Snapshot() scheduler.Snapshot { return f.snap }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterEndpoints(t *testing.T) {
	state := fixedState{snap: scheduler.Snapshot{
		Active: true,
		Tasks:  []scheduler.TaskStatus{{Name: "year_progress", Priority: 1, Enabled: true, Interval: time.Hour}},
	}}
	hist := NewHistory(4)
	hist.Add(eventbus.Event{Type: eventbus.TypeCycleFinished})
	s := New(state, hist, logx.Nop())
	h := s.Router(false)

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Active)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, "year_progress", snap.Tasks[0].Name)

	rec = get(t, h, "/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), eventbus.TypeCycleFinished)

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Router(true), "/debug/pprof/").Code)
}

func TestStatusWithoutScheduler(t *testing.T) {
	s := New(nil, nil, logx.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Router(false), "/status").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Router(false), "/events").Code)
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	h := NewHistory(3)
	for _, typ := range []string{"a", "b", "c", "d"} {
		h.Add(eventbus.Event{Type: typ})
	}
	got := h.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"d", "c", "b"}, []string{got[0].Type, got[1].Type, got[2].Type})
	assert.Len(t, h.Recent(2), 2)
}

func TestHistoryFollow(t *testing.T) {
	bus := eventbus.New()
	h := NewHistory(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Follow(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: "x"})
		return len(h.Recent(0)) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestReconfigureStartsAndStops(t *testing.T) {
	s := New(fixedState{}, nil, logx.Nop())
	ctx := context.Background()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8089"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":8089"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8089"))
}
