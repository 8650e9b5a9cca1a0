// Package eventbus is the in-process publish/subscribe fabric between the
// event store and the projections. Delivery is at-least-once: every
// subscriber for a topic receives every published event, and one handler's
// failure never suppresses delivery to the others.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// Handler processes one published event.
type Handler func(ctx context.Context, event *domain.Event) error

type subscription struct {
	name    string
	handler Handler
}

// HandlerResult is the outcome of one handler invocation during a publish.
type HandlerResult struct {
	Subscriber string
	Err        error
}

// Bus fans published events out to topic subscribers concurrently.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[domain.EventType][]subscription
	wildcard    []subscription
	logger      zerolog.Logger
}

// New creates an empty bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[domain.EventType][]subscription),
		logger:      logger.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers a named handler for one event type. Registration
// order is preserved in publish results.
func (b *Bus) Subscribe(et domain.EventType, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[et] = append(b.subscribers[et], subscription{name: name, handler: h})
}

// SubscribeAll registers a named handler for every event type.
func (b *Bus) SubscribeAll(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, subscription{name: name, handler: h})
}

// SubscriberCount returns the number of handlers that would receive an
// event of the given type.
func (b *Bus) SubscriberCount(et domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[et]) + len(b.wildcard)
}

// Publish delivers the event to every matching subscriber concurrently and
// waits for all of them. Results come back in registration order, topic
// subscribers before wildcards. Handler errors are logged and reported in
// the results; Publish itself only fails on a nil event.
func (b *Bus) Publish(ctx context.Context, event *domain.Event) ([]HandlerResult, error) {
	if event == nil {
		return nil, fmt.Errorf("publish: nil event")
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subscribers[event.EventType])+len(b.wildcard))
	subs = append(subs, b.subscribers[event.EventType]...)
	subs = append(subs, b.wildcard...)
	b.mu.RUnlock()

	results := make([]HandlerResult, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub subscription) {
			defer wg.Done()
			err := b.invoke(ctx, sub, event)
			results[i] = HandlerResult{Subscriber: sub.name, Err: err}
			if err != nil {
				b.logger.Error().
					Err(err).
					Str("subscriber", sub.name).
					Str("event_type", string(event.EventType)).
					Str("event_id", event.ID).
					Msg("handler failed")
			}
		}(i, sub)
	}
	wg.Wait()
	return results, nil
}

// invoke shields the bus from handler panics; a panic is reported as the
// handler's error.
func (b *Bus) invoke(ctx context.Context, sub subscription, event *domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", sub.name, r)
		}
	}()
	return sub.handler(ctx, event)
}
