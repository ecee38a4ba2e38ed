package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/events"
	"github.com/energizer-project/gamerecorder/internal/protocol"
)

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func startListener(t *testing.T, bus *events.EventBus) (*TCPListener, *ConnectionRegistry) {
	t.Helper()

	cfg := config.DefaultConfig().RecorderData
	cfg.CapturePort = 0
	cfg.HostReadTimeout = 5

	registry := NewConnectionRegistry()
	l := NewTCPListener(cfg, bus, registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	require.Eventually(t, func() bool { return l.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		bus.Stop()
	})
	return l, registry
}

func dialHost(t *testing.T, l *TCPListener) *Connection {
	t.Helper()
	raw, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	conn := NewConnection(raw)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// mustFrame adapts a frame builder result, failing the test on error.
func mustFrame(t *testing.T) func([]byte, error) []byte {
	return func(frame []byte, err error) []byte {
		t.Helper()
		require.NoError(t, err)
		return frame
	}
}

func TestListenerPublishesInOrder(t *testing.T) {
	bus := events.NewEventBus()
	got := &collector{}
	bus.Subscribe(events.EventPacketIn, "test", got.handle)
	bus.Subscribe(events.EventPacketOut, "test", got.handle)
	bus.Subscribe(events.EventSessionClosed, "test", got.handle)
	bus.Subscribe(events.EventGameEnded, "test", got.handle)

	l, registry := startListener(t, bus)
	host := dialHost(t, l)

	lobby := uint32(5)
	require.NoError(t, host.WritePacket(protocol.BuildHostHello("host-a")))
	require.NoError(t, host.WritePacket(mustFrame(t)(protocol.BuildPacketCaptured(true, 7, 1, []byte{0x01}))))
	require.NoError(t, host.WritePacket(mustFrame(t)(protocol.BuildPacketCaptured(false, 7, 2, nil))))
	require.NoError(t, host.WritePacket([]byte{0x99, 0x00}))
	require.NoError(t, host.WritePacket(protocol.BuildSessionClosed(8, &lobby)))
	require.NoError(t, host.WritePacket(mustFrame(t)(protocol.BuildGameEnded(1, 5, []uint32{7}))))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 4 }, 2*time.Second, 10*time.Millisecond)

	evs := got.snapshot()
	assert.Equal(t, events.EventPacketIn, evs[0].Type)
	assert.Equal(t, events.EventPacketOut, evs[1].Type)
	assert.Equal(t, events.EventSessionClosed, evs[2].Type)
	assert.Equal(t, events.EventGameEnded, evs[3].Type)
	for _, e := range evs {
		assert.Equal(t, "host:host-a", e.Source)
	}

	assert.Equal(t, 1, registry.Count())
	hosts := registry.Hosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, "host-a", hosts[0].Name)
	assert.Equal(t, uint64(6), hosts[0].Frames)
}

func TestListenerRequiresHello(t *testing.T) {
	bus := events.NewEventBus()
	got := &collector{}
	bus.Subscribe(events.EventPacketIn, "test", got.handle)

	l, registry := startListener(t, bus)
	host := dialHost(t, l)

	require.NoError(t, host.WritePacket(mustFrame(t)(protocol.BuildPacketCaptured(true, 7, 1, []byte{0x01}))))

	// The recorder hangs up without reading further.
	_, err := host.ReadPacket(2 * time.Second)
	assert.Error(t, err)
	assert.Empty(t, got.snapshot())
	assert.Equal(t, 0, registry.Count())
}

func TestListenerEmitsHostLifecycle(t *testing.T) {
	bus := events.NewEventBus()
	got := &collector{}
	bus.Subscribe(events.EventHostConnected, "test", got.handle)
	bus.Subscribe(events.EventHostClosed, "test", got.handle)

	l, registry := startListener(t, bus)
	host := dialHost(t, l)

	require.NoError(t, host.WritePacket(protocol.BuildHostHello("host-b")))
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	types := map[events.EventType]events.HostPayload{}
	for _, e := range got.snapshot() {
		types[e.Type] = e.Payload.(events.HostPayload)
	}
	assert.Equal(t, "host-b", types[events.EventHostConnected].Name)
	assert.Equal(t, "host-b", types[events.EventHostClosed].Name)
}
