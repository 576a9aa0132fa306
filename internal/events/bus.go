// Package events implements the event bus (C9): a single-threaded,
// synchronous publish/subscribe with per-subscriber failure isolation. A
// subscriber panic or error is logged and swallowed — the publisher's
// progress is never blocked, per spec §4.10.
package events

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"shortsd/internal/model"
)

// Subscriber receives published events. A Subscriber must not block for long
// — publication is synchronous.
type Subscriber interface {
	Handle(evt model.PipelineEvent) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(evt model.PipelineEvent) error

// Handle calls f.
func (f SubscriberFunc) Handle(evt model.PipelineEvent) error { return f(evt) }

const wildcard = model.EventKind("*")

// Bus is the in-process publish/subscribe hub. Subscribers register per
// event kind and/or wildcard.
type Bus struct {
	mu          sync.Mutex
	subscribers map[model.EventKind][]Subscriber
	nextEventID int64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[model.EventKind][]Subscriber)}
}

// Subscribe registers sub to receive events of the given kind. Pass "*" to
// receive every kind.
func (b *Bus) Subscribe(kind model.EventKind, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], sub)
}

// SubscribeAll registers sub to receive every event kind.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.Subscribe(wildcard, sub)
}

// Publish assigns the next monotonic event ID, dispatches evt to every
// matching subscriber synchronously, and returns the event with its ID set.
// A subscriber error or panic is logged and does not stop dispatch to the
// remaining subscribers.
func (b *Bus) Publish(evt model.PipelineEvent) model.PipelineEvent {
	b.mu.Lock()
	b.nextEventID++
	evt.EventID = b.nextEventID
	direct := append([]Subscriber(nil), b.subscribers[evt.Kind]...)
	wild := append([]Subscriber(nil), b.subscribers[wildcard]...)
	b.mu.Unlock()

	for _, sub := range append(direct, wild...) {
		b.dispatchSafely(sub, evt)
	}
	return evt
}

func (b *Bus) dispatchSafely(sub Subscriber, evt model.PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"run_id": evt.RunID,
				"kind":   evt.Kind,
				"panic":  fmt.Sprint(r),
			}).Error("event subscriber panicked")
		}
	}()

	if err := sub.Handle(evt); err != nil {
		log.WithFields(log.Fields{
			"run_id": evt.RunID,
			"kind":   evt.Kind,
			"error":  err,
		}).Warn("event subscriber failed")
	}
}

// LastEventID returns the most recently assigned event ID.
func (b *Bus) LastEventID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextEventID
}
