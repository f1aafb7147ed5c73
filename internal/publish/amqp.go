package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// amqpPublisher publishes to a topic exchange with the MQTT style topic as
// the routing key. The RabbitMQ MQTT plugin maps those onto MQTT topics.
type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	prefix   string
	log      logx.Logger
}

func openAMQP(ctx context.Context, cfg Config, log logx.Logger) (*amqpPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp: bus.url required")
	}
	if _, err := amqp.ParseURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("amqp url: %w", err)
	}
	var conn *amqp.Connection
	err := connectWithRetry(ctx, cfg.ConnectTimeout, log, func() error {
		c, err := amqp.Dial(cfg.URL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "amq.topic"
	} else if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %q: %w", exchange, err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, prefix: cfg.TopicPrefix, log: log}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, channel, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return ErrNotConnected
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		Topic(p.prefix, channel),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(payload),
		})
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.ch.Close()
	if cerr := p.conn.Close(); err == nil {
		err = cerr
	}
	p.conn = nil
	return err
}
