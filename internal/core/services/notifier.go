package services

import (
	"sync"

	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
)

// EventNotifier fans lifecycle events out to subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type EventNotifier struct {
	mu     sync.RWMutex
	subs   map[uint64]chan domain.LifecycleEvent
	nextID uint64
	closed bool
	logger *zap.SugaredLogger
}

func NewEventNotifier(logger *zap.SugaredLogger) *EventNotifier {
	return &EventNotifier{
		subs:   make(map[uint64]chan domain.LifecycleEvent),
		logger: logger,
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes
// the channel; calling it more than once is safe.
func (n *EventNotifier) Subscribe(buffer int) (<-chan domain.LifecycleEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.LifecycleEvent, buffer)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
}

func (n *EventNotifier) Publish(event domain.LifecycleEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- event:
		default:
			n.logger.Debugw("lifecycle subscriber full, event dropped",
				"type", event.Type,
				"session_id", event.SessionID,
				"device_id", event.DeviceID,
			)
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (n *EventNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}
