package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kestrelvoice/kestrel/internal/observe"
)

// Subscriber receives every published event. Subscribers run synchronously
// on the publisher's goroutine; a slow subscriber delays the pipeline.
type Subscriber func(Event)

// Bus fans events out to subscribers in registration order. A panicking
// subscriber is recovered and logged but stays registered, and delivery to
// the remaining subscribers is unaffected. Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	subs    []Subscriber
	log     *slog.Logger
	metrics *observe.Metrics
}

// NewBus creates an empty Bus. Nil arguments select the defaults.
func NewBus(log *slog.Logger, metrics *observe.Metrics) *Bus {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Bus{log: log, metrics: metrics}
}

// Subscribe registers fn. There is no unsubscribe; subscribers live as long
// as the session that owns the bus.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish delivers ev to every subscriber in registration order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for i, fn := range subs {
		b.deliver(i, fn, ev)
	}
}

func (b *Bus) deliver(i int, fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.SubscriberPanics.Add(context.Background(), 1)
			b.log.Error("event subscriber panicked",
				"subscriber", i,
				"eventType", ev.Type,
				"panic", r,
			)
		}
	}()
	fn(ev)
}
