package infrastructure

import (
	"sync"
	"sync/atomic"
	"time"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

const subscriberBacklog = 100

// EventBroadcaster fans state-change events out to every subscriber.
// Slow subscribers lose events instead of stalling the publisher.
type EventBroadcaster struct {
	mu        sync.RWMutex
	listeners map[chan domain.Event]struct{}
	closed    bool
	dropped   atomic.Uint64
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		listeners: make(map[chan domain.Event]struct{}),
	}
}

func (b *EventBroadcaster) Publish(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.listeners {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			glog.V(1).Infof("broadcast: subscriber full, dropped %s/%s", ev.Subject, ev.Type)
		}
	}
}

// Subscribe registers a listener. The channel is closed by Unsubscribe or
// Close, whichever comes first.
func (b *EventBroadcaster) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, subscriberBacklog)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners[ch] = struct{}{}
	return ch
}

func (b *EventBroadcaster) Unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[ch]; !ok {
		return
	}
	delete(b.listeners, ch)
	close(ch)
}

func (b *EventBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
	if n := b.dropped.Load(); n > 0 {
		glog.Infof("broadcast: closed, %d events dropped for slow subscribers", n)
	}
}
