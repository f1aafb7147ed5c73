package app

import (
	"context"
	"sync"

	"github.com/Golevka2001/awtrix-scripts/internal/publish"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// transport is the publisher handed to the delivery sequencer. The real
// connection is opened by Connect, so commands that never publish (-list)
// do not need a reachable broker.
type transport struct {
	mu  sync.RWMutex
	pub publish.Publisher
}

func (t *transport) open(ctx context.Context, cfg publish.Config, log logx.Logger) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pub != nil {
		return nil
	}
	p, err := publish.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	t.pub = p
	return nil
}

func (t *transport) Publish(ctx context.Context, channel, payload string) error {
	t.mu.RLock()
	p := t.pub
	t.mu.RUnlock()
	if p == nil {
		return publish.ErrNotConnected
	}
	return p.Publish(ctx, channel, payload)
}

func (t *transport) Close() error {
	t.mu.Lock()
	p := t.pub
	t.pub = nil
	t.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
