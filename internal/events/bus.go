package events

import (
	"context"
	"log/slog"
)

// Publisher is the outbound side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Subscriber consumes events. Subscriber failures are logged, never
// propagated back to the transition that produced the event.
type Subscriber interface {
	Handle(ctx context.Context, ev Event) error
}

// Bus delivers events synchronously to registered subscribers.
type Bus struct {
	logger *slog.Logger
	subs   []Subscriber
}

// NewBus constructs a Bus.
func NewBus(logger *slog.Logger, subs ...Subscriber) *Bus {
	return &Bus{logger: logger, subs: subs}
}

// Subscribe registers an additional subscriber.
func (b *Bus) Subscribe(sub Subscriber) {
	if sub != nil {
		b.subs = append(b.subs, sub)
	}
}

// Publish fans the event out to all subscribers.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	for _, sub := range b.subs {
		if err := sub.Handle(ctx, ev); err != nil && b.logger != nil {
			b.logger.Error("event subscriber failed",
				slog.String("kind", ev.Kind),
				slog.Int64("voucher_id", ev.VoucherID),
				slog.Any("error", err))
		}
	}
}

// NopPublisher discards events; used in tests and tooling.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) {}
