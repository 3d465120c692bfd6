package server

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// SSE event types published by the handlers.
const (
	EventDecision = "decision"
	EventOutcome  = "outcome"
	EventTuning   = "tuning"
)

// Broker fans decision, outcome and tuning events out to SSE subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel of SSE-formatted events. The caller must call
// Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish encodes v as JSON and broadcasts it under eventType.
func (b *Broker) Publish(eventType string, v any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("broker: encode event", "event", eventType, "error", err)
		return
	}
	b.broadcast(formatSSE(eventType, data))
}

// Subscribers reports the number of connected subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE renders "event: <type>\ndata: <payload>\n\n".
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	return append(out, "\n\n"...)
}
