package config

import "strings"

const (
	DefaultMQTTHost        = "localhost"
	DefaultMQTTPort        = 1883
	DefaultTopicPrefix     = "awtrix/custom/"
	DefaultStoreDir        = "data"
	DefaultStatusAddr      = "127.0.0.1:8089"
	DefaultMainLoop        = "20"
	DefaultTaskTimeout     = "5"
	DefaultSendInterval    = "0.5"
	DefaultOffHoursSleep   = "30m"
	DefaultFailurePolicy   = "0"
	DefaultBusDriver       = "mqtt"
	DefaultConnectTimeout  = "10s"
	DefaultTelegramRate    = 1
	DefaultTelegramMinWarn = "warn"
)

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.MQTT.Host) == "" {
		cfg.MQTT.Host = DefaultMQTTHost
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = DefaultMQTTPort
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}

	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = DefaultBusDriver
	}
	if cfg.Bus.ConnectTimeout == "" {
		cfg.Bus.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.App.MainLoopInterval == "" {
		cfg.App.MainLoopInterval = DefaultMainLoop
	}
	if cfg.App.TaskTimeout == "" {
		cfg.App.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.App.SendInterval == "" {
		cfg.App.SendInterval = DefaultSendInterval
	}
	if cfg.App.OffHoursSleep == "" {
		cfg.App.OffHoursSleep = DefaultOffHoursSleep
	}
	if cfg.App.BehaviorOnFailure == "" {
		cfg.App.BehaviorOnFailure = DefaultFailurePolicy
	}
	if strings.TrimSpace(cfg.App.StoreDir) == "" {
		cfg.App.StoreDir = DefaultStoreDir
	}

	if cfg.Status.Addr == "" {
		cfg.Status.Addr = DefaultStatusAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Telegram.MinLevel == "" {
		cfg.Logging.Telegram.MinLevel = DefaultTelegramMinWarn
	}
	if cfg.Logging.Telegram.RatePerSec == 0 {
		cfg.Logging.Telegram.RatePerSec = DefaultTelegramRate
	}
	if cfg.Tasks == nil {
		cfg.Tasks = map[string]TaskConfig{}
	}
}

// ConsoleEnabled reports whether console logging is on (default true).
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}
