package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
)

const testConfig = `
bus:
  driver: log
app:
  store_dir: %STORE%
  task_timeout: 2
  send_interval: 0
logging:
  level: error
tasks:
  air_quality: {enabled: false}
  bilibili_followers: {enabled: false}
  gas_price: {enabled: false}
  github_contributions: {enabled: false}
  github_followers: {enabled: false}
  minecraft_server_status: {enabled: false}
  spotify_current_playback: {enabled: false}
  year_progress:
    priority: 1
`

func newTestApp(t *testing.T, body string) *App {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "%STORE%", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return a
}

func TestListOrdersByPriority(t *testing.T) {
	a := newTestApp(t, testConfig)
	defer a.Close()

	list := a.List()
	if len(list) != 9 {
		t.Fatalf("tasks = %d, want 9", len(list))
	}
	if list[0].Name != "year_progress" || !list[0].Enabled {
		t.Fatalf("first = %+v, want enabled year_progress", list[0])
	}
	if last := list[len(list)-1]; last.Name != "speedtest" || last.Enabled {
		t.Fatalf("last = %+v, want disabled speedtest", last)
	}
}

func TestRunOncePublishesPayload(t *testing.T) {
	a := newTestApp(t, testConfig)
	defer a.Close()

	body, err := a.RunOnce(context.Background(), "year_progress")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !strings.Contains(body, `"progress"`) || !strings.Contains(body, " %") {
		t.Fatalf("body = %s", body)
	}
	if _, err := a.RunOnce(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	a := newTestApp(t, testConfig)
	defer a.Close()

	ctx := context.Background()
	if err := a.Delete(ctx, "anything"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestNewAppRejectsUnknownTaskOption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "app:\n  store_dir: " + filepath.Join(dir, "data") + "\ntasks:\n  air_quality:\n    colour: red\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(path); err == nil || !strings.Contains(err.Error(), "tasks.air_quality") {
		t.Fatalf("err = %v, want tasks.air_quality error", err)
	}
}

func TestAuthorizeSpotifyPromptsAndReadsRedirect(t *testing.T) {
	a := newTestApp(t, strings.Replace(testConfig, "  spotify_current_playback: {enabled: false}\n",
		"  spotify_current_playback: {enabled: false, client_id: id, client_secret: secret}\n", 1))
	defer a.Close()

	var out bytes.Buffer
	in := strings.NewReader("http://127.0.0.1:1234/?error=access_denied\n")
	err := a.AuthorizeSpotify(context.Background(), in, &out)
	if err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "https://accounts.spotify.com/authorize?") || !strings.Contains(out.String(), "client_id=id") {
		t.Fatalf("prompt = %s", out.String())
	}
}

func TestStartStop(t *testing.T) {
	a := newTestApp(t, testConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for a.sched.Snapshot().LastCycle.Started.IsZero() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestMapSchedulerOptions(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{
		AllowedHours:     config.Hours([2]int{9, 17}),
		MainLoopInterval: "20",
		TaskTimeout:      "1.5",
		SendInterval:     "500ms",
		OffHoursSleep:    "bogus",
	}}
	o := mapSchedulerOptions(cfg, time.UTC)
	if o.MainLoopInterval != 20*time.Second || o.TaskTimeout != 1500*time.Millisecond || o.SendInterval != 500*time.Millisecond {
		t.Fatalf("durations = %+v", o)
	}
	if o.OffHoursSleep != 0 {
		t.Fatalf("bad duration should map to 0 (scheduler default), got %v", o.OffHoursSleep)
	}
	if len(o.AllowedHours) != 1 || o.AllowedHours[0].Start != 9 || o.AllowedHours[0].End != 17 {
		t.Fatalf("hours = %+v", o.AllowedHours)
	}
	if o.Location != time.UTC {
		t.Fatalf("location = %v", o.Location)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{StoreDir: "state"}}
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "file" || sc.Path != "state" {
		t.Fatalf("default = %+v, %v", sc, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "sqlite", BusyTimeout: "2"}
	sc, err = mapStorageConfig(cfg)
	if err != nil || sc.Path != filepath.Join("state", sqliteFile) || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("sqlite = %+v, %v", sc, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "postgres"}
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestZoneCache(t *testing.T) {
	var z zoneCache
	if got := z.get(""); got != time.Local {
		t.Fatalf("empty = %v", got)
	}
	if got := z.get("Not/AZone"); got != time.Local {
		t.Fatalf("unknown = %v", got)
	}
	if got := z.get("UTC"); got.String() != "UTC" {
		t.Fatalf("UTC = %v", got)
	}
}
