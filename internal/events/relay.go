package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gridbot/internal/cache/redis"
	"gridbot/internal/domain"
)

// channelPrefix namespaces the relay's Redis channels and streams.
const channelPrefix = "gridbot.events."

// relayEnvelope is the JSON shape published on Redis channels.
type relayEnvelope struct {
	ID        string        `json:"id"`
	Event     domain.Event  `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
	Order     *domain.Order `json:"order,omitempty"`
}

// Relay mirrors local bus events outward over Redis so dashboards and other
// processes can follow the run. It is strictly an observer: publish failures
// are logged and swallowed, never surfaced to trading.
type Relay struct {
	signals *redis.SignalBus
	log     *slog.Logger
}

// NewRelay builds a Relay and subscribes it to every relayed event on the
// local bus.
func NewRelay(bus *Bus, signals *redis.SignalBus, log *slog.Logger) *Relay {
	r := &Relay{
		signals: signals,
		log:     log.With(slog.String("component", "event_relay")),
	}
	for _, ev := range []domain.Event{
		domain.EventOrderFilled,
		domain.EventOrderCancelled,
		domain.EventBotStarted,
		domain.EventBotStopped,
	} {
		ev := ev
		bus.Subscribe(ev, func(ctx context.Context, order *domain.Order) error {
			r.forward(ctx, ev, order)
			return nil
		})
	}
	return r
}

// forward serializes one event and pushes it to the channel and stream named
// after the event.
func (r *Relay) forward(ctx context.Context, event domain.Event, order *domain.Order) {
	env := relayEnvelope{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Order:     order,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.ErrorContext(ctx, "relay marshal failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
		return
	}

	name := channelPrefix + string(event)
	if err := r.signals.Publish(ctx, name, payload); err != nil {
		r.log.WarnContext(ctx, "relay publish failed",
			slog.String("channel", name),
			slog.String("error", err.Error()),
		)
	}
	if err := r.signals.StreamAppend(ctx, name, payload); err != nil {
		r.log.WarnContext(ctx, "relay stream append failed",
			slog.String("stream", name),
			slog.String("error", err.Error()),
		)
	}
}
