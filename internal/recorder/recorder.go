// Package recorder wires the capture registries and the match coordinator
// to the event bus. One Recorder is created per running process and owns
// all capture state.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/capture"
	"github.com/energizer-project/gamerecorder/internal/events"
	"github.com/energizer-project/gamerecorder/internal/match"
)

// Options configures a Recorder.
type Options struct {
	EvictAfterEncode bool
	TombstoneTTL     time.Duration
	TombstoneSize    int
}

// Stats combines registry and coordinator counters.
type Stats struct {
	capture.Stats
	PendingLobbies int    `json:"pending_lobbies"`
	MatchesEncoded uint64 `json:"matches_encoded"`
}

// Recorder receives host notifications and produces replays.
type Recorder struct {
	eventBus     *events.EventBus
	active       *capture.ActiveRegistry
	disconnected *capture.DisconnectedRegistry
	coordinator  *match.Coordinator
	evict        bool
	logger       zerolog.Logger
}

// New creates a Recorder. Call Register to start receiving events.
func New(eventBus *events.EventBus, opts Options) *Recorder {
	r := &Recorder{
		eventBus:     eventBus,
		evict:        opts.EvictAfterEncode,
		disconnected: capture.NewDisconnectedRegistry(),
		logger:       log.With().Str("component", "recorder").Logger(),
	}
	r.active = capture.NewActiveRegistry(capture.RegistryOptions{
		TombstoneTTL:  opts.TombstoneTTL,
		TombstoneSize: opts.TombstoneSize,
		OnLateCapture: r.onLateCapture,
	})
	r.coordinator = match.NewCoordinator(r.active, r.disconnected, match.Options{
		Evict: opts.EvictAfterEncode,
	})
	return r
}

// Register subscribes the recorder's handlers to the event bus.
func (r *Recorder) Register() {
	r.eventBus.Subscribe(events.EventPacketIn, "recorder.packetIn", r.onPacketIn)
	r.eventBus.Subscribe(events.EventPacketOut, "recorder.packetOut", r.onPacketOut)
	r.eventBus.Subscribe(events.EventSessionClosed, "recorder.sessionClosed", r.onSessionClosed)
	r.eventBus.Subscribe(events.EventGameEnded, "recorder.gameEnded", r.onGameEnded)
}

// Active returns the active capture registry.
func (r *Recorder) Active() *capture.ActiveRegistry {
	return r.active
}

// Disconnected returns the disconnected-session registry.
func (r *Recorder) Disconnected() *capture.DisconnectedRegistry {
	return r.disconnected
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Stats:          r.active.Stats(),
		PendingLobbies: r.disconnected.Lobbies(),
		MatchesEncoded: r.coordinator.Encoded(),
	}
}

func (r *Recorder) onPacketIn(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PacketCapturedPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}
	r.active.RecordInbound(capture.SessionID(p.SessionID), p.PacketType, p.Data)
	return nil
}

func (r *Recorder) onPacketOut(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PacketCapturedPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}
	r.active.RecordOutbound(capture.SessionID(p.SessionID), p.PacketType, p.Data)
	return nil
}

func (r *Recorder) onSessionClosed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionClosedPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}

	var lobby *capture.LobbyID
	if p.LobbyID != nil {
		id := capture.LobbyID(*p.LobbyID)
		lobby = &id
	}
	session := capture.SessionID(p.SessionID)
	r.disconnected.RecordDisconnect(lobby, session)

	// No match will ever claim the log of a session that left outside one.
	dropped := 0
	if lobby == nil && r.evict {
		r.active.Seal(session)
		dropped = len(r.active.Drain(session))
	}

	r.logger.Debug().
		Uint32("session", p.SessionID).
		Bool("in_match", lobby != nil).
		Int("dropped_packets", dropped).
		Msg("session closed")
	return nil
}

func (r *Recorder) onGameEnded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.GameEndedPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}

	attached := make([]capture.SessionID, len(p.Sessions))
	for i, id := range p.Sessions {
		attached[i] = capture.SessionID(id)
	}

	rep := r.coordinator.EndMatch(match.End{
		MatchID:  p.MatchID,
		LobbyID:  capture.LobbyID(p.LobbyID),
		Attached: attached,
	})

	// Hand off to the sinks without holding up the host connection. The
	// sinks must finish even if the connection goes away meanwhile.
	r.eventBus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:   events.EventReplayEncoded,
		Source: "recorder",
		Payload: events.ReplayEncodedPayload{
			ReplayID:  rep.ID,
			MatchID:   rep.MatchID,
			LobbyID:   uint32(rep.LobbyID),
			Sessions:  len(rep.Sessions),
			Packets:   rep.Packets,
			Blob:      rep.Blob,
			EncodedAt: rep.EncodedAt,
		},
	})
	return nil
}

func (r *Recorder) onLateCapture(lc capture.LateCapture) {
	r.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventLateCapture,
		Source: "recorder",
		Payload: events.LateCapturePayload{
			SessionID:  uint32(lc.SessionID),
			PacketType: lc.PacketType,
			Direction:  lc.Direction.String(),
			Size:       lc.Size,
		},
	})
}
