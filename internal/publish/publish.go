// Package publish delivers display payloads to the message bus. MQTT is the
// default transport; AMQP, Redis pub/sub and a log-only dry run are
// available for setups that bridge to the display some other way.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

var (
	ErrNotConnected  = errors.New("publisher not connected")
	ErrUnknownDriver = errors.New("unknown bus driver")
)

// Publisher sends one payload to the channel of a task.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
	Close() error
}

// Config is the transport configuration, flattened from the mqtt and bus
// config sections.
type Config struct {
	Driver      string
	TopicPrefix string

	// mqtt
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// amqp, redis
	URL      string
	Exchange string

	ConnectTimeout time.Duration
}

// Topic joins prefix and channel with exactly one slash.
func Topic(prefix, channel string) string {
	return strings.TrimRight(prefix, "/") + "/" + strings.Trim(channel, "/")
}

// Open connects the configured driver. Connecting is retried with
// exponential backoff until cfg.ConnectTimeout elapses.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Publisher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	log = log.With(logx.String("comp", "publish"), logx.String("driver", cfg.Driver))

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "mqtt":
		return openMQTT(ctx, cfg, log)
	case "amqp":
		return openAMQP(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "log":
		return &logPublisher{prefix: cfg.TopicPrefix, log: log}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

type logPublisher struct {
	prefix string
	log    logx.Logger
}

func (p *logPublisher) Publish(_ context.Context, channel, payload string) error {
	p.log.Info("publish", logx.String("topic", Topic(p.prefix, channel)), logx.String("payload", payload))
	return nil
}

func (p *logPublisher) Close() error { return nil }
