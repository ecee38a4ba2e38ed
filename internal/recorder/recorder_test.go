package recorder

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/gamerecorder/internal/events"
	"github.com/energizer-project/gamerecorder/internal/replay"
)

type collector struct {
	mu      sync.Mutex
	replays []events.ReplayEncodedPayload
	late    []events.LateCapturePayload
}

func (c *collector) subscribe(eb *events.EventBus) {
	eb.Subscribe(events.EventReplayEncoded, "test.replay", func(ctx context.Context, e events.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.replays = append(c.replays, e.Payload.(events.ReplayEncodedPayload))
		return nil
	})
	eb.Subscribe(events.EventLateCapture, "test.late", func(ctx context.Context, e events.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.late = append(c.late, e.Payload.(events.LateCapturePayload))
		return nil
	})
}

func publish(t *testing.T, eb *events.EventBus, typ events.EventType, payload interface{}) {
	t.Helper()
	require.NoError(t, eb.Publish(context.Background(), events.Event{Type: typ, Source: "test", Payload: payload}))
}

func u32(v uint32) *uint32 { return &v }

func TestRecorder_EndToEnd(t *testing.T) {
	eb := events.NewEventBus()
	rec := New(eb, Options{EvictAfterEncode: true, TombstoneSize: 32})
	rec.Register()
	col := &collector{}
	col.subscribe(eb)

	publish(t, eb, events.EventPacketIn, events.PacketCapturedPayload{SessionID: 1, PacketType: 1, Data: []byte{0xA}})
	publish(t, eb, events.EventPacketOut, events.PacketCapturedPayload{SessionID: 2, PacketType: 2, Data: []byte{0xB}})
	publish(t, eb, events.EventPacketIn, events.PacketCapturedPayload{SessionID: 3, PacketType: 3, Data: []byte{0xC}})
	publish(t, eb, events.EventSessionClosed, events.SessionClosedPayload{SessionID: 3, LobbyID: u32(50)})
	publish(t, eb, events.EventSessionClosed, events.SessionClosedPayload{SessionID: 9})
	publish(t, eb, events.EventGameEnded, events.GameEndedPayload{MatchID: 77, LobbyID: 50, Sessions: []uint32{1, 2}})

	// Late packet for the session that left before the match ended.
	publish(t, eb, events.EventPacketOut, events.PacketCapturedPayload{SessionID: 3, PacketType: 4, Data: []byte{0xD}})

	eb.Stop()

	require.Len(t, col.replays, 1)
	got := col.replays[0]
	assert.Equal(t, uint32(77), got.MatchID)
	assert.Equal(t, 3, got.Sessions)
	assert.Equal(t, 3, got.Packets)
	assert.False(t, got.EncodedAt.IsZero())

	blocks, err := replay.Decode(got.Blob)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{blocks[0].SessionID, blocks[1].SessionID, blocks[2].SessionID})
	assert.True(t, blocks[0].Packets[0].Inbound)
	assert.False(t, blocks[1].Packets[0].Inbound)

	require.Len(t, col.late, 1)
	assert.Equal(t, uint32(3), col.late[0].SessionID)
	assert.Equal(t, "out", col.late[0].Direction)

	stats := rec.Stats()
	assert.Equal(t, uint64(1), stats.MatchesEncoded)
	assert.Equal(t, uint64(1), stats.LateCaptures)
	assert.Equal(t, 0, stats.PendingLobbies)
}

func TestRecorder_RejectsWrongPayload(t *testing.T) {
	eb := events.NewEventBus()
	defer eb.Stop()
	rec := New(eb, Options{})
	rec.Register()

	err := eb.Publish(context.Background(), events.Event{Type: events.EventPacketIn, Payload: "nope"})
	assert.Error(t, err)
	assert.Equal(t, 0, rec.Active().Sessions())
}

func TestRecorder_DropsSessionsClosedOutsideMatch(t *testing.T) {
	eb := events.NewEventBus()
	rec := New(eb, Options{EvictAfterEncode: true, TombstoneSize: 2048})
	rec.Register()
	col := &collector{}
	col.subscribe(eb)

	for id := uint32(1); id <= 1000; id++ {
		publish(t, eb, events.EventPacketIn, events.PacketCapturedPayload{SessionID: id, PacketType: 1, Data: make([]byte, 100)})
		publish(t, eb, events.EventSessionClosed, events.SessionClosedPayload{SessionID: id})
	}

	// A stray packet after the close is reported, not recorded.
	publish(t, eb, events.EventPacketOut, events.PacketCapturedPayload{SessionID: 1, PacketType: 2})
	eb.Stop()

	stats := rec.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.PendingLobbies)
	assert.Equal(t, uint64(100000), stats.CapturedBytes)
	assert.Equal(t, uint64(1), stats.LateCaptures)
	require.Len(t, col.late, 1)
	assert.Equal(t, uint32(1), col.late[0].SessionID)
}

func TestRecorder_KeepsLogsWithoutEviction(t *testing.T) {
	eb := events.NewEventBus()
	defer eb.Stop()
	rec := New(eb, Options{EvictAfterEncode: false, TombstoneSize: 8})
	rec.Register()

	publish(t, eb, events.EventPacketIn, events.PacketCapturedPayload{SessionID: 4, PacketType: 1, Data: []byte{0x1}})
	publish(t, eb, events.EventSessionClosed, events.SessionClosedPayload{SessionID: 4})

	assert.Equal(t, 1, rec.Stats().Sessions)
	assert.Len(t, rec.Active().Log(4), 1)
}
