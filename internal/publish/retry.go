package publish

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// connectWithRetry calls connect until it succeeds, ctx ends or limit
// elapses.
func connectWithRetry(ctx context.Context, limit time.Duration, log logx.Logger, connect func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = limit

	attempt := 0
	return backoff.RetryNotify(connect, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		attempt++
		log.Warn("connect failed; retrying", logx.Int("attempt", attempt), logx.Duration("next", next), logx.Err(err))
	})
}
