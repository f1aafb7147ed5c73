package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// redisPublisher PUBLISHes each payload on the topic named channel.
type redisPublisher struct {
	client *redis.Client
	prefix string
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (*redisPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis: bus.url required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	err = connectWithRetry(ctx, cfg.ConnectTimeout, log, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &redisPublisher{client: client, prefix: cfg.TopicPrefix}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, channel, payload string) error {
	return p.client.Publish(ctx, Topic(p.prefix, channel), payload).Err()
}

func (p *redisPublisher) Close() error { return p.client.Close() }
