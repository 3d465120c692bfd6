package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case got := <-ch:
		return string(got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(slog.New(slog.DiscardHandler))

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(EventDecision, map[string]string{"decision_id": "abc"})
	want := "event: decision\ndata: {\"decision_id\":\"abc\"}\n\n"
	assert.Equal(t, want, receive(t, ch1))
	assert.Equal(t, want, receive(t, ch2))

	b.Unsubscribe(ch1)
	b.Publish(EventTuning, map[string]float64{"confidence_threshold": 0.8})
	assert.Equal(t, "event: tuning\ndata: {\"confidence_threshold\":0.8}\n\n", receive(t, ch2))
	assert.Equal(t, 1, b.Subscribers())
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker(slog.New(slog.DiscardHandler))
	slow := b.Subscribe()
	defer b.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		for range 200 {
			b.Publish(EventOutcome, "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, slow, cap(slow))
}

func TestNilBrokerPublishIsNoop(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() { b.Publish(EventDecision, "x") })
}

func TestBrokerSkipsUnencodableEvent(t *testing.T) {
	b := NewBroker(slog.New(slog.DiscardHandler))
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(EventDecision, func() {})
	assert.Empty(t, ch)
}
