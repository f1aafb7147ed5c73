package publish

import (
	"context"
	"fmt"
	"net"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

const mqttQoS = 0

type mqttPublisher struct {
	client mqtt.Client
	prefix string
	log    logx.Logger
}

func openMQTT(ctx context.Context, cfg Config, log logx.Logger) (*mqttPublisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "awtrixd-" + uuid.NewString()[:8]
	}
	broker := "tcp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt connection lost", logx.Err(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("mqtt connected", logx.String("broker", broker))
		})
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	err := connectWithRetry(ctx, cfg.ConnectTimeout, log, func() error {
		tok := client.Connect()
		if !tok.WaitTimeout(cfg.ConnectTimeout) {
			return fmt.Errorf("connect %s: timed out", broker)
		}
		return tok.Error()
	})
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &mqttPublisher{client: client, prefix: cfg.TopicPrefix, log: log}, nil
}

func (p *mqttPublisher) Publish(ctx context.Context, channel, payload string) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := p.client.Publish(Topic(p.prefix, channel), mqttQoS, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *mqttPublisher) Close() error {
	p.client.Disconnect(250) // quiesce ms
	return nil
}
