// Package bus carries engine events to background listeners: the async
// write-retry worker and any platform sync consumers.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type EventKind string

const (
	EventTurnWritten      EventKind = "turn_written"
	EventTurnWriteFailed  EventKind = "turn_write_failed"
	EventTaskCheckpointed EventKind = "task_checkpointed"
	EventProfileUpdated   EventKind = "profile_updated"
)

type Event struct {
	Kind      EventKind
	SessionID string
	Platform  string
	TurnID    string
	TaskID    string
	Counter   int64
	At        time.Time
}

const publishTimeout = 100 * time.Millisecond

type EventBus struct {
	events  chan Event
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		events: make(chan Event, 100),
	}
}

// Publish never blocks the request path for longer than publishTimeout.
// A full bus drops the event and counts it.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
		case <-timer.C:
			b.dropped.Add(1)
		}
	}
}

func (b *EventBus) Consume(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-b.events:
		if !ok {
			return Event{}, false
		}
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}

func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
