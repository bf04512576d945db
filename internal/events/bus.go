// Package events provides the in-process publish/subscribe bus that connects
// the order lifecycle to its observers: the orchestrator, the ledger, the
// notifier, metrics, the journal, and the outward Redis relay.
package events

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"gridbot/internal/domain"
)

// Handler consumes one published event. The order payload is nil for events
// that carry no order (bot start/stop). A handler runs sequentially within
// one delivery; different handlers for the same event run concurrently.
type Handler func(ctx context.Context, order *domain.Order) error

// Bus is an in-process pub/sub bus. Publish delivers to every subscriber of
// the event on its own goroutine and returns when all of them finish;
// handler errors are logged by the bus and returned joined so publishers may
// inspect them, but publishers are expected to ignore them.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.Event][]Handler
	log      *slog.Logger
}

// NewBus returns an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.Event][]Handler),
		log:      log.With(slog.String("component", "bus")),
	}
}

// Subscribe registers a handler for the event. Not safe to call concurrently
// with Publish for the same event once the run has started; all
// subscriptions happen during wiring.
func (b *Bus) Subscribe(event domain.Event, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Publish delivers the event to all subscribers concurrently and waits for
// them. Publishing with no subscribers is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event, order *domain.Order) error {
	b.mu.RLock()
	hs := b.handlers[event]
	b.mu.RUnlock()
	if len(hs) == 0 {
		return nil
	}

	// A plain group rather than WithContext: one failing handler must not
	// cancel its siblings mid-delivery.
	var g errgroup.Group
	for _, h := range hs {
		h := h
		g.Go(func() error {
			return h(ctx, order)
		})
	}
	if err := g.Wait(); err != nil {
		b.log.ErrorContext(ctx, "event handler failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
