package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/gamerecorder/internal/capture"
	"github.com/energizer-project/gamerecorder/internal/replay"
)

type fixture struct {
	active       *capture.ActiveRegistry
	disconnected *capture.DisconnectedRegistry
	late         []capture.LateCapture
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{disconnected: capture.NewDisconnectedRegistry()}
	f.active = capture.NewActiveRegistry(capture.RegistryOptions{
		TombstoneSize: 64,
		OnLateCapture: func(lc capture.LateCapture) { f.late = append(f.late, lc) },
	})
	return f
}

func lobbyPtr(id capture.LobbyID) *capture.LobbyID { return &id }

func decode(t *testing.T, r *Replay) []replay.SessionBlock {
	t.Helper()
	blocks, err := replay.Decode(r.Blob)
	require.NoError(t, err)
	return blocks
}

func TestEndMatch_ConcreteScenario(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: true})

	f.active.RecordInbound(7, 1, []byte{0x01, 0x02})
	f.active.RecordOutbound(7, 2, []byte{})
	f.disconnected.RecordDisconnect(lobbyPtr(100), 7)

	r := c.EndMatch(End{MatchID: 5, LobbyID: 100})

	assert.Equal(t, uint32(5), r.MatchID)
	assert.Equal(t, []capture.SessionID{7}, r.Sessions)
	assert.Equal(t, 2, r.Packets)
	assert.NotEmpty(t, r.ID)

	blocks := decode(t, r)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(7), blocks[0].SessionID)
	require.Len(t, blocks[0].Packets, 2)
	assert.Equal(t, replay.Packet{Inbound: true, Type: 1, Payload: []byte{0x01, 0x02}}, blocks[0].Packets[0])
	assert.Equal(t, replay.Packet{Inbound: false, Type: 2, Payload: []byte{}}, blocks[0].Packets[1])
}

func TestEndMatch_AttachedThenDisconnected(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: true})

	f.active.RecordInbound(1, 10, []byte("a"))
	f.active.RecordInbound(2, 20, []byte("b"))
	f.active.RecordInbound(3, 30, []byte("c"))
	f.disconnected.RecordDisconnect(lobbyPtr(9), 3)
	// Another lobby's disconnect must not leak in.
	f.disconnected.RecordDisconnect(lobbyPtr(10), 4)

	r := c.EndMatch(End{MatchID: 1, LobbyID: 9, Attached: []capture.SessionID{2, 1}})

	blocks := decode(t, r)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint32(2), blocks[0].SessionID)
	assert.Equal(t, uint32(1), blocks[1].SessionID)
	assert.Equal(t, uint32(3), blocks[2].SessionID)
	assert.Equal(t, []byte("b"), blocks[0].Packets[0].Payload)
	assert.Equal(t, []byte("a"), blocks[1].Packets[0].Payload)
	assert.Equal(t, []byte("c"), blocks[2].Packets[0].Payload)

	assert.Equal(t, []capture.SessionID{4}, f.disconnected.Peek(10))
}

func TestEndMatch_SessionWithoutPackets(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: true})

	r := c.EndMatch(End{MatchID: 2, LobbyID: 1, Attached: []capture.SessionID{11}})

	blocks := decode(t, r)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(11), blocks[0].SessionID)
	assert.Empty(t, blocks[0].Packets)
	assert.Equal(t, []byte{11, 0}, r.Blob)
}

func TestEndMatch_EmptyMatch(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: true})

	r := c.EndMatch(End{MatchID: 3, LobbyID: 1})

	assert.Empty(t, r.Blob)
	assert.Empty(t, decode(t, r))
	assert.Equal(t, uint64(1), c.Encoded())
}

func TestEndMatch_DeduplicatesSessions(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: true})

	f.active.RecordInbound(5, 1, []byte{1})
	f.disconnected.RecordDisconnect(lobbyPtr(2), 5)
	f.disconnected.RecordDisconnect(lobbyPtr(2), 5)

	r := c.EndMatch(End{MatchID: 4, LobbyID: 2, Attached: []capture.SessionID{5}})

	blocks := decode(t, r)
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Packets, 1)
	// Still attached, so not tombstoned.
	assert.False(t, f.active.IsSealed(5))
}

func TestEndMatch_EvictionAndLateCapture(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: true})

	f.active.RecordInbound(1, 1, []byte{1})
	f.active.RecordInbound(2, 1, []byte{2})
	f.disconnected.RecordDisconnect(lobbyPtr(3), 2)

	c.EndMatch(End{MatchID: 8, LobbyID: 3, Attached: []capture.SessionID{1}})

	assert.Equal(t, 0, f.active.Sessions())
	assert.Equal(t, 0, f.disconnected.Lobbies())

	// Still-connected session keeps capturing into its next log.
	f.active.RecordOutbound(1, 2, []byte{3})
	assert.Len(t, f.active.Log(1), 1)

	// Disconnected session is gone; anything for it is a late capture.
	f.active.RecordOutbound(2, 9, []byte{4, 5})
	assert.Empty(t, f.active.Log(2))
	require.Len(t, f.late, 1)
	assert.Equal(t, capture.SessionID(2), f.late[0].SessionID)
	assert.Equal(t, 2, f.late[0].Size)
}

func TestEndMatch_WithoutEviction(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.active, f.disconnected, Options{Evict: false})

	f.active.RecordInbound(1, 1, []byte{1})
	f.active.RecordInbound(2, 1, []byte{2})
	f.disconnected.RecordDisconnect(lobbyPtr(3), 2)

	r := c.EndMatch(End{MatchID: 8, LobbyID: 3, Attached: []capture.SessionID{1}})
	assert.Equal(t, 2, r.Packets)

	// Logs are kept and nothing is tombstoned.
	assert.Equal(t, 2, f.active.Sessions())
	f.active.RecordInbound(2, 1, []byte{3})
	assert.Len(t, f.active.Log(2), 2)
	assert.Empty(t, f.late)
}
