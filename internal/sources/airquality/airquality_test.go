package airquality

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
)

func newTestSource(t *testing.T, opts string, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var tc config.TaskConfig
	if err := json.Unmarshal([]byte(opts), &tc); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{Tasks: map[string]config.TaskConfig{Name: tc}}
	s := New(sourcekit.Env{Config: func() *config.Config { return cfg }})
	s.apiURL = srv.URL
	return s
}

func TestRenderBands(t *testing.T) {
	cases := []struct {
		aqi   int
		icon  string
		color string
	}{
		{0, "47651", "#71d608"},
		{50, "47651", "#71d608"},
		{51, "47652", "#faff1b"},
		{100, "47652", "#faff1b"},
		{150, "47653", "#f98718"},
		{200, "47654", "#f70017"},
		{300, "47655", "#8f00ff"},
		{301, "47656", "#870089"},
	}
	for _, c := range cases {
		p := Render(c.aqi)
		if p["icon"] != c.icon || p["color"] != c.color {
			t.Errorf("Render(%d)=%v", c.aqi, p)
		}
	}
}

func TestValidateOptionsRejectsUnknownKeys(t *testing.T) {
	s := newTestSource(t, `{"api_key":"k","city":"x"}`, nil)
	if err := s.ValidateOptions(s.env.Config()); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestFetch(t *testing.T) {
	s := newTestSource(t, `{"api_key":"k","area":"上海"}`, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("area") != "上海" || r.URL.Query().Get("key") != "k" {
			t.Errorf("query=%v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","result":{"aqi":"72"}}`))
	})
	p, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p["text"] != "72" || p["icon"] != "47652" || p["textCase"] != 2 {
		t.Fatalf("payload=%v", p)
	}
}

func TestFetchAPIError(t *testing.T) {
	s := newTestSource(t, `{"api_key":"k"}`, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("area") != defaultArea {
			t.Errorf("area=%q", r.URL.Query().Get("area"))
		}
		_, _ = w.Write([]byte(`{"code":230,"msg":"key error"}`))
	})
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatalf("expected api error")
	}
}

func TestFetchRequiresKey(t *testing.T) {
	s := newTestSource(t, `{}`, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request")
	})
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatalf("expected missing key error")
	}
	if err := s.ValidateOptions(s.env.Config()); err != nil {
		t.Fatalf("ValidateOptions: %v", err)
	}
	if s.ErrorPayload()["icon"] != errorIcon {
		t.Fatalf("error payload=%v", s.ErrorPayload())
	}
}
