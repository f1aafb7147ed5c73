package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. AWTRIX_MQTT_HOST.
const EnvPrefix = "AWTRIX"

// Env holds secrets and deployment overrides read from the environment.
// Set values win over the config file.
type Env struct {
	MQTTHost      string `envconfig:"MQTT_HOST"`
	MQTTPort      int    `envconfig:"MQTT_PORT"`
	MQTTUsername  string `envconfig:"MQTT_USERNAME"`
	MQTTPassword  string `envconfig:"MQTT_PASSWORD"`
	BusDriver     string `envconfig:"BUS_DRIVER"`
	BusURL        string `envconfig:"BUS_URL"`
	StoreDir      string `envconfig:"STORE_DIR"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChat  int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ReadEnv decodes the AWTRIX_* variables.
func ReadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Apply copies every set override into cfg.
func (e Env) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&cfg.MQTT.Host, e.MQTTHost)
	set(&cfg.MQTT.Username, e.MQTTUsername)
	set(&cfg.MQTT.Password, e.MQTTPassword)
	set(&cfg.Bus.Driver, e.BusDriver)
	set(&cfg.Bus.URL, e.BusURL)
	set(&cfg.App.StoreDir, e.StoreDir)
	set(&cfg.Logging.Level, e.LogLevel)
	set(&cfg.Logging.Telegram.Token, e.TelegramToken)
	if e.MQTTPort != 0 {
		cfg.MQTT.Port = e.MQTTPort
	}
	if e.TelegramChat != 0 {
		cfg.Logging.Telegram.ChatID = e.TelegramChat
	}
}
