// Package delivery publishes a cycle's payloads one at a time in priority
// order, paced by a fixed send interval.
package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
	"github.com/Golevka2001/awtrix-scripts/internal/metrics"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// UnknownPriority is assigned to payloads without a matching descriptor.
const UnknownPriority = 999

// Publisher sends one serialized payload to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// ItemError is a failed delivery of one task's payload.
type ItemError struct {
	Name string
	Err  error
}

func (e ItemError) Error() string { return fmt.Sprintf("deliver %s: %v", e.Name, e.Err) }
func (e ItemError) Unwrap() error { return e.Err }

type Sequencer struct {
	pub Publisher
	log logx.Logger
	bus eventbus.Bus
}

func NewSequencer(pub Publisher, log logx.Logger, bus eventbus.Bus) *Sequencer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sequencer{pub: pub, log: log.With(logx.String("comp", "delivery")), bus: bus}
}

// Order returns the names in results sorted by ascending priority. Equal
// priorities keep descriptor (load) order; names without a descriptor go
// last with UnknownPriority, then by name.
func Order(results map[string]task.Payload, descs []task.Descriptor) []string {
	type key struct {
		prio  int
		order int
		name  string
	}
	byName := make(map[string]task.Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	keys := make([]key, 0, len(results))
	for name := range results {
		k := key{prio: UnknownPriority, order: len(descs), name: name}
		if d, ok := byName[name]; ok {
			k.prio, k.order = d.Priority, d.Order
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.prio != b.prio {
			return a.prio < b.prio
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.name < b.name
	})

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.name
	}
	return out
}

// Deliver publishes every payload in results and, after each publish but
// the last, waits sendInterval before the next one. A failed publish is
// logged and returned as an ItemError; the remaining payloads are still
// delivered. If ctx ends while waiting, the undelivered names are reported
// with ctx.Err().
func (s *Sequencer) Deliver(ctx context.Context, results map[string]task.Payload, descs []task.Descriptor, sendInterval time.Duration) []ItemError {
	names := Order(results, descs)
	if len(names) == 0 {
		return nil
	}

	var errs []ItemError
	for i, name := range names {
		// The gap counts from the end of the previous publish.
		if i > 0 && sendInterval > 0 {
			sleep(ctx, sendInterval)
		}
		if err := ctx.Err(); err != nil {
			for _, rest := range names[i:] {
				errs = append(errs, ItemError{Name: rest, Err: err})
			}
			s.log.Warn("delivery interrupted", logx.Int("remaining", len(names)-i), logx.Err(err))
			return errs
		}

		text, err := results[name].Encode()
		if err == nil {
			err = s.pub.Publish(ctx, name, text)
		}
		metrics.Delivery(err == nil)
		if err != nil {
			errs = append(errs, ItemError{Name: name, Err: err})
			s.log.Warn("delivery.failed", logx.String("task", name), logx.Err(err))
			eventbus.Publish(s.bus, eventbus.TypeDeliveryFailed, eventbus.DeliveryEvent{Name: name, Error: err.Error()})
			continue
		}
		s.log.Debug("delivered", logx.String("task", name), logx.Int("bytes", len(text)))
	}
	return errs
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
