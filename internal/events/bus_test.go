package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"gridbot/internal/domain"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := newTestBus()
	if err := b.Publish(context.Background(), domain.EventOrderFilled, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := newTestBus()
	var calls atomic.Int32

	for i := 0; i < 5; i++ {
		b.Subscribe(domain.EventOrderFilled, func(ctx context.Context, order *domain.Order) error {
			calls.Add(1)
			if order.ID != "o1" {
				t.Errorf("order ID = %s", order.ID)
			}
			return nil
		})
	}
	// A subscriber of a different event stays silent.
	b.Subscribe(domain.EventOrderCancelled, func(context.Context, *domain.Order) error {
		t.Error("wrong event delivered")
		return nil
	})

	err := b.Publish(context.Background(), domain.EventOrderFilled, &domain.Order{ID: "o1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("calls = %d, want 5", calls.Load())
	}
}

func TestPublishWaitsForAllHandlers(t *testing.T) {
	b := newTestBus()
	var done atomic.Bool

	b.Subscribe(domain.EventBotStarted, func(context.Context, *domain.Order) error {
		done.Store(true)
		return nil
	})

	if err := b.Publish(context.Background(), domain.EventBotStarted, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !done.Load() {
		t.Error("Publish returned before the handler finished")
	}
}

func TestFailingHandlerDoesNotStopSiblings(t *testing.T) {
	b := newTestBus()
	boom := errors.New("boom")
	var survived atomic.Int32

	b.Subscribe(domain.EventOrderFilled, func(context.Context, *domain.Order) error {
		return boom
	})
	for i := 0; i < 3; i++ {
		b.Subscribe(domain.EventOrderFilled, func(context.Context, *domain.Order) error {
			survived.Add(1)
			return nil
		})
	}

	err := b.Publish(context.Background(), domain.EventOrderFilled, &domain.Order{ID: "x"})
	if !errors.Is(err, boom) {
		t.Errorf("Publish error = %v, want boom", err)
	}
	if survived.Load() != 3 {
		t.Errorf("surviving handlers = %d, want 3", survived.Load())
	}
}
