package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/alert/telegram"
	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/publish"
	"github.com/Golevka2001/awtrix-scripts/internal/status"
	"github.com/Golevka2001/awtrix-scripts/internal/storage"
	"github.com/Golevka2001/awtrix-scripts/internal/task/scheduler"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

const sqliteFile = "awtrix.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	dir := strings.TrimSpace(cfg.App.StoreDir)
	if dir == "" {
		dir = config.DefaultStoreDir
	}
	if cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: dir}, nil
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		if path == "" {
			path = dir
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = filepath.Join(dir, sqliteFile)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout.String(), time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapPublishConfig(cfg *config.Config) (publish.Config, error) {
	timeout, err := config.ParseDurationOrDefault("bus.connect_timeout", cfg.Bus.ConnectTimeout.String(), 10*time.Second)
	if err != nil {
		return publish.Config{}, err
	}
	return publish.Config{
		Driver:         cfg.Bus.Driver,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientID:       cfg.MQTT.ClientID,
		URL:            cfg.Bus.URL,
		Exchange:       cfg.Bus.Exchange,
		ConnectTimeout: timeout,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// mapAlertSender returns nil when Telegram alerts are off. A nil interface,
// not a typed nil, so logx can tell.
func mapAlertSender(cfg *config.Config) (logx.AlertSender, error) {
	t := cfg.Logging.Telegram
	if !t.Enabled {
		return nil, nil
	}
	s, err := telegram.New(telegram.Config{Token: t.Token, ChatID: t.ChatID})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.Addr,
		Pprof:   cfg.Status.Pprof,
	}
}

// mapSchedulerOptions never fails: the config was validated before commit,
// and unparsable values fall back to the scheduler defaults.
func mapSchedulerOptions(cfg *config.Config, loc *time.Location) scheduler.Options {
	dur := func(path string, raw config.Scalar) time.Duration {
		d, err := config.ParseDurationField(path, raw.String())
		if err != nil {
			return 0
		}
		return d
	}
	hours, _ := cfg.App.AllowedHours.Ranges()
	return scheduler.Options{
		AllowedHours:     hours,
		MainLoopInterval: dur("app.main_loop_interval", cfg.App.MainLoopInterval),
		TaskTimeout:      dur("app.task_timeout", cfg.App.TaskTimeout),
		SendInterval:     dur("app.send_interval", cfg.App.SendInterval),
		OffHoursSleep:    dur("app.off_hours_sleep", cfg.App.OffHoursSleep),
		Location:         loc,
	}
}

// zoneCache resolves app.timezone, reloading the zone only when the name
// changes. An empty or unknown name means time.Local.
type zoneCache struct {
	mu   sync.Mutex
	name string
	loc  *time.Location
}

func (z *zoneCache) get(name string) *time.Location {
	name = strings.TrimSpace(name)
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.loc != nil && z.name == name {
		return z.loc
	}
	loc := time.Local
	if name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		}
	}
	z.name, z.loc = name, loc
	return loc
}
