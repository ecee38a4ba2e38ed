package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRunsHandlersInOrder(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	var seen []string
	eb.Subscribe(EventPacketIn, "first", func(ctx context.Context, e Event) error {
		seen = append(seen, "first:"+e.Source)
		return nil
	})
	eb.Subscribe(EventPacketIn, "second", func(ctx context.Context, e Event) error {
		seen = append(seen, "second:"+e.Source)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, eb.Publish(ctx, Event{Type: EventPacketIn, Source: "a"}))
	require.NoError(t, eb.Publish(ctx, Event{Type: EventPacketIn, Source: "b"}))

	assert.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, seen)
}

func TestPublishReturnsFirstErrorAndRecoversPanics(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	boom := errors.New("boom")
	var ran atomic.Int32
	eb.Subscribe(EventGameEnded, "panics", func(ctx context.Context, e Event) error {
		panic("bad handler")
	})
	eb.Subscribe(EventGameEnded, "fails", func(ctx context.Context, e Event) error {
		return boom
	})
	eb.Subscribe(EventGameEnded, "ok", func(ctx context.Context, e Event) error {
		ran.Add(1)
		return nil
	})

	err := eb.Publish(context.Background(), Event{Type: EventGameEnded})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, int32(1), ran.Load())
}

func TestPublishWithoutHandlers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()
	assert.NoError(t, eb.Publish(context.Background(), Event{Type: EventSessionClosed}))
}

func TestEmitIsAsyncAndStopWaits(t *testing.T) {
	eb := NewEventBus()

	var mu sync.Mutex
	got := 0
	eb.Subscribe(EventReplayEncoded, "count", func(ctx context.Context, e Event) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		eb.Emit(context.Background(), Event{Type: EventReplayEncoded})
	}
	eb.Stop()

	assert.Equal(t, 10, got)

	// Stopped bus drops events.
	eb.Emit(context.Background(), Event{Type: EventReplayEncoded})
	assert.NoError(t, eb.Publish(context.Background(), Event{Type: EventReplayEncoded}))
	assert.Equal(t, 10, got)

	// A second Stop returns immediately.
	eb.Stop()
}

func TestUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	eb.Subscribe(EventLateCapture, "a", func(ctx context.Context, e Event) error { return nil })
	eb.Subscribe(EventLateCapture, "b", func(ctx context.Context, e Event) error { return nil })
	assert.Equal(t, 2, eb.HandlerCount(EventLateCapture))

	eb.Unsubscribe(EventLateCapture, "a")
	assert.Equal(t, 1, eb.HandlerCount(EventLateCapture))
}
