package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) structured
// attrs safe for logging (never passwords, tokens or bus URLs) and (3) the
// names of tasks whose settings changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.MQTT.Host != newCfg.MQTT.Host ||
		oldCfg.MQTT.Port != newCfg.MQTT.Port ||
		oldCfg.MQTT.TopicPrefix != newCfg.MQTT.TopicPrefix ||
		oldCfg.MQTT.Username != newCfg.MQTT.Username ||
		oldCfg.MQTT.Password != newCfg.MQTT.Password ||
		oldCfg.MQTT.ClientID != newCfg.MQTT.ClientID {
		changed = append(changed, "mqtt")
		attrs = append(attrs,
			logx.String("mqtt.host", newCfg.MQTT.Host),
			logx.Int("mqtt.port", newCfg.MQTT.Port),
			logx.String("mqtt.topic_prefix", newCfg.MQTT.TopicPrefix),
			logx.Bool("mqtt.auth_set", newCfg.MQTT.Username != ""),
		)
	}

	if oldCfg.Bus != newCfg.Bus {
		changed = append(changed, "bus")
		attrs = append(attrs,
			logx.String("bus.driver", newCfg.Bus.Driver),
			logx.Bool("bus.url_set", strings.TrimSpace(newCfg.Bus.URL) != ""),
			logx.String("bus.exchange", newCfg.Bus.Exchange),
		)
	}

	if !reflect.DeepEqual(oldCfg.App, newCfg.App) {
		changed = append(changed, "app")
		attrs = append(attrs,
			logx.Any("app.allowed_hours", newCfg.App.AllowedHours),
			logx.String("app.main_loop_interval", newCfg.App.MainLoopInterval.String()),
			logx.String("app.task_timeout", newCfg.App.TaskTimeout.String()),
			logx.String("app.send_interval", newCfg.App.SendInterval.String()),
			logx.String("app.behavior_on_failure", newCfg.App.BehaviorOnFailure.String()),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS || oldCfg.App.StoreDir != newCfg.App.StoreDir {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	oL, nL := oldCfg.Logging, newCfg.Logging
	if oL.Level != nL.Level ||
		oL.ConsoleEnabled() != nL.ConsoleEnabled() ||
		oL.File != nL.File ||
		oL.Telegram != nL.Telegram {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nL.Level),
			logx.Bool("logging.console", nL.ConsoleEnabled()),
			logx.Bool("logging.file_enabled", nL.File.Enabled),
			logx.Bool("logging.telegram_enabled", nL.Telegram.Enabled),
			logx.Bool("logging.telegram_token_set", nL.Telegram.Token != ""),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Strings("tasks.changed", taskChanged),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func diffTasks(oldM, newM map[string]TaskConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || taskHash(o) != taskHash(n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// taskHash is order independent: MarshalJSON emits a map, and encoding/json
// sorts map keys.
func taskHash(t TaskConfig) uint64 {
	b, err := json.Marshal(t)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
