package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const creds = `"client_id":"id","client_secret":"secret"`

func newTestSource(t *testing.T, opts string, mux *http.ServeMux) (*Source, string) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var tc config.TaskConfig
	if err := json.Unmarshal([]byte(opts), &tc); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg := &config.Config{
		App:   config.AppConfig{StoreDir: dir},
		Tasks: map[string]config.TaskConfig{Name: tc},
	}
	s := New(sourcekit.Env{
		Config: func() *config.Config { return cfg },
		Now:    func() time.Time { return now },
	})
	s.apiBase = srv.URL
	s.accountsBase = srv.URL
	return s, dir
}

func writeCache(t *testing.T, dir string, tc tokenCache) {
	t.Helper()
	if err := writeTokenCache(filepath.Join(dir, DefaultAuthCacheFile), tc); err != nil {
		t.Fatal(err)
	}
}

func validToken() tokenCache {
	return tokenCache{AccessToken: "live", RefreshToken: "r1", ExpiresAt: now.Add(time.Hour).Unix()}
}

func playerHandler(t *testing.T, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer live" {
			t.Errorf("Authorization = %q", got)
		}
		if body == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(body))
	}
}

const playing = `{"is_playing":true,"progress_ms":61000,"item":{"name":"晴天","duration_ms":269000,"artists":[{"name":"周杰伦"}]}}`

func TestFetchPlaying(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me/player", playerHandler(t, playing))
	s, dir := newTestSource(t, `{`+creds+`}`, mux)
	writeCache(t, dir, validToken())

	p, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p["text"] != "QT - ZJL" {
		t.Fatalf("text = %v", p["text"])
	}
	if p["progress"] != 23 || p["icon"] != icon || p["scrollSpeed"] != scrollSpeed {
		t.Fatalf("payload = %v", p)
	}
	if p["progressC"] != progressColor || p["progressBC"] != progressBGColor {
		t.Fatalf("progress colors = %v / %v", p["progressC"], p["progressBC"])
	}
}

func TestRenderOrdering(t *testing.T) {
	pb := playback{IsPlaying: true, ProgressMS: 500, Item: &track{
		Name: "Song", DurationMS: 1000, Artists: []artist{{Name: "Band"}},
	}}
	f := false
	cases := []struct {
		name string
		o    Options
		want string
	}{
		{"default", Options{}, "Song - Band"},
		{"artist first", Options{TrackNameFirst: &f}, "Band - Song"},
		{"no artist", Options{ShowArtist: &f}, "Song"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := render(c.o, pb)
			if p["text"] != c.want || p["progress"] != 50 {
				t.Fatalf("payload = %v", p)
			}
		})
	}

	pb.Item = &track{Name: "晴天"}
	if p := render(Options{CJKToInitials: &f}, pb); p["text"] != "晴天 - Unknown" {
		t.Fatalf("text = %v", p["text"])
	}
}

func TestFetchNothingPlaying(t *testing.T) {
	cases := map[string]string{
		"no device": "",
		"paused":    `{"is_playing":false,"item":{"name":"x"}}`,
		"no item":   `{"is_playing":true,"item":null}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/me/player", playerHandler(t, body))
			s, dir := newTestSource(t, `{`+creds+`}`, mux)
			writeCache(t, dir, validToken())

			p, err := s.Fetch(context.Background())
			if err != nil || !p.IsEmpty() {
				t.Fatalf("Fetch = %v, %v", p, err)
			}
		})
	}
}

func TestFetchRefreshesExpiredToken(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if r.FormValue("grant_type") != "refresh_token" || r.FormValue("refresh_token") != "r1" {
			t.Errorf("form = %v", r.Form)
		}
		_, _ = w.Write([]byte(`{"access_token":"live","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/me/player", playerHandler(t, playing))
	s, dir := newTestSource(t, `{`+creds+`}`, mux)
	writeCache(t, dir, tokenCache{AccessToken: "old", RefreshToken: "r1", ExpiresAt: now.Add(30 * time.Second).Unix()})

	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d", refreshes.Load())
	}

	tc, err := readTokenCache(filepath.Join(dir, DefaultAuthCacheFile))
	if err != nil {
		t.Fatal(err)
	}
	if tc.AccessToken != "live" || tc.RefreshToken != "r1" || tc.ExpiresAt != now.Add(time.Hour).Unix() {
		t.Fatalf("cache = %+v", tc)
	}

	// The rewritten cache is still valid, so no second refresh.
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d after a valid token", refreshes.Load())
	}
}

func TestFetchWithoutCacheIsNotAuthorized(t *testing.T) {
	s, _ := newTestSource(t, `{`+creds+`}`, http.NewServeMux())
	_, err := s.Fetch(context.Background())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("grant_type") != "authorization_code" || r.FormValue("code") != "abc" {
			t.Errorf("form = %v", r.Form)
		}
		if r.FormValue("redirect_uri") != DefaultRedirectURI {
			t.Errorf("redirect_uri = %q", r.FormValue("redirect_uri"))
		}
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","expires_in":3600}`))
	})
	s, dir := newTestSource(t, `{`+creds+`}`, mux)

	u, err := s.AuthorizeURL("st")
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	if !strings.Contains(u, "client_id=id") || !strings.Contains(u, "user-read-playback-state") || !strings.Contains(u, "state=st") {
		t.Fatalf("url = %s", u)
	}

	if err := s.Authorize(context.Background(), DefaultRedirectURI+"/?code=abc&state=other", "st"); err == nil {
		t.Fatal("expected state mismatch")
	}
	if err := s.Authorize(context.Background(), DefaultRedirectURI+"/?code=abc&state=st", "st"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, DefaultAuthCacheFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"refresh_token":"r"`) {
		t.Fatalf("cache = %s", b)
	}
}

func TestErrorPayloadUsesIcon(t *testing.T) {
	s := New(sourcekit.Env{})
	if p := s.ErrorPayload(); p["icon"] != icon || p["text"] != "Error" {
		t.Fatalf("error payload = %v", p)
	}
	var _ task.Fetcher = s
}
