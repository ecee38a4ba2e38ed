// Package telemetry publishes recorder events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/events"
	"github.com/energizer-project/gamerecorder/internal/util"
)

// MQTT topics
const (
	TopicReplay  = "recorder/replay"
	TopicAnomaly = "recorder/anomaly"
	TopicStatus  = "recorder/status"
	TopicAdmin   = "recorder/admin"
)

// publisher is the subset of mqtt.Client used for sending.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}

	shutdownOnce sync.Once
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	recorderName := cfg.GetRecorderData().Name

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("gamerecorder-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	h := newHandler(mqttCfg, eventBus, buildMetadata(recorderName, sysInfo), nil)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.pub = h.client

	return h, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, metadata map[string]interface{}, pub publisher) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		pub:      pub,
		metadata: metadata,
		logger:   util.ComponentLogger("mqtt"),
	}
}

func buildMetadata(name string, sysInfo util.SystemInfo) map[string]interface{} {
	return map[string]interface{}{
		"recorder":  name,
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	}
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the MQTT broker, subscribes to events and blocks
// until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventReplayEncoded, "mqtt.replayEncoded", h.onReplayEncoded)
	h.eventBus.Subscribe(events.EventReplayStored, "mqtt.replayStored", h.onReplayStored)
	h.eventBus.Subscribe(events.EventLateCapture, "mqtt.lateCapture", h.onLateCapture)
	h.eventBus.Subscribe(events.EventHostConnected, "mqtt.hostConnected", h.onHostStatus)
	h.eventBus.Subscribe(events.EventHostClosed, "mqtt.hostClosed", h.onHostStatus)
	h.eventBus.Subscribe(events.EventShutdown, "mqtt.shutdown", h.onShutdown)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if h.pub == nil || !h.pub.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onReplayEncoded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ReplayEncodedPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}
	// The blob itself stays off the broker.
	h.publish(TopicReplay, map[string]interface{}{
		"event":     string(events.EventReplayEncoded),
		"replay_id": p.ReplayID,
		"match_id":  p.MatchID,
		"lobby_id":  p.LobbyID,
		"sessions":  p.Sessions,
		"packets":   p.Packets,
		"size":      len(p.Blob),
	})
	return nil
}

func (h *MQTTHandler) onReplayStored(ctx context.Context, event events.Event) error {
	h.publish(TopicReplay, map[string]interface{}{
		"event":   string(events.EventReplayStored),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onLateCapture(ctx context.Context, event events.Event) error {
	h.publish(TopicAnomaly, map[string]interface{}{
		"event":   string(events.EventLateCapture),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onHostStatus(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.HostPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}
	h.publish(TopicStatus, map[string]interface{}{
		"event":  string(event.Type),
		"host":   p.Name,
		"remote": p.Remote,
	})
	return nil
}

func (h *MQTTHandler) onShutdown(ctx context.Context, event events.Event) error {
	h.PublishShutdown()
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker once.
func (h *MQTTHandler) PublishShutdown() {
	h.shutdownOnce.Do(func() {
		h.publish(TopicAdmin, map[string]interface{}{
			"event": "shutdown",
		})
	})
}
