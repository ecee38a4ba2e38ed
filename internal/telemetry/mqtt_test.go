package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic string
	body  map[string]interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []message
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, body: body})
	return doneToken{}
}

func (f *fakePublisher) sent() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func newTestHandler(t *testing.T, connected bool) (*MQTTHandler, *fakePublisher, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	pub := &fakePublisher{connected: connected}
	h := newHandler(config.MQTTConfig{}, bus, map[string]interface{}{"recorder": "test"}, pub)
	h.subscribeEvents()
	return h, pub, bus
}

func TestReplayEncodedOmitsBlob(t *testing.T) {
	_, pub, bus := newTestHandler(t, true)

	err := bus.Publish(context.Background(), events.Event{
		Type: events.EventReplayEncoded,
		Payload: events.ReplayEncodedPayload{
			ReplayID: "r1",
			MatchID:  5,
			Sessions: 2,
			Packets:  3,
			Blob:     []byte{1, 2, 3, 4},
		},
	})
	require.NoError(t, err)

	sent := pub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TopicReplay, sent[0].topic)
	assert.Equal(t, "test", sent[0].body["recorder"])
	assert.NotEmpty(t, sent[0].body["timestamp"])

	payload := sent[0].body["payload"].(map[string]interface{})
	assert.Equal(t, "r1", payload["replay_id"])
	assert.Equal(t, float64(4), payload["size"])
	assert.NotContains(t, payload, "blob")
}

func TestLateCaptureGoesToAnomaly(t *testing.T) {
	_, pub, bus := newTestHandler(t, true)

	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type:    events.EventLateCapture,
		Payload: events.LateCapturePayload{SessionID: 9, PacketType: 1, Direction: "in", Size: 12},
	}))

	sent := pub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TopicAnomaly, sent[0].topic)
	inner := sent[0].body["payload"].(map[string]interface{})["payload"].(map[string]interface{})
	assert.Equal(t, float64(9), inner["session_id"])
}

func TestShutdownPublishedOnce(t *testing.T) {
	h, pub, bus := newTestHandler(t, true)

	require.NoError(t, bus.Publish(context.Background(), events.Event{Type: events.EventShutdown}))
	h.PublishShutdown()

	sent := pub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TopicAdmin, sent[0].topic)
}

func TestNothingPublishedWhileDisconnected(t *testing.T) {
	_, pub, bus := newTestHandler(t, false)

	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type:    events.EventHostConnected,
		Payload: events.HostPayload{Name: "a"},
	}))
	assert.Empty(t, pub.sent())
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus())
	assert.Error(t, err)
}
