// Package events defines event types and payloads for the recorder event system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Host notifications, delivered in order through Publish
	EventPacketIn      EventType = "packet_in"
	EventPacketOut     EventType = "packet_out"
	EventSessionClosed EventType = "session_closed"
	EventGameEnded     EventType = "game_ended"
	EventHostConnected EventType = "host_connected"
	EventHostClosed    EventType = "host_closed"

	// Recorder output
	EventReplayEncoded EventType = "replay_encoded"
	EventReplayStored  EventType = "replay_stored"
	EventLateCapture   EventType = "late_capture"

	// System events
	EventShutdown EventType = "shutdown"
)

// HostCommand represents command bytes of the host notification protocol.
type HostCommand byte

const (
	CmdHostHello     HostCommand = 0x60
	CmdPacketIn      HostCommand = 0x61
	CmdPacketOut     HostCommand = 0x62
	CmdSessionClosed HostCommand = 0x63
	CmdGameEnded     HostCommand = 0x64
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// HostPayload identifies a host connection (hello / closed).
type HostPayload struct {
	Name   string
	Remote string
}

// PacketCapturedPayload carries one packet seen by the host (0x61 / 0x62).
type PacketCapturedPayload struct {
	SessionID  uint32
	PacketType uint8
	Data       []byte
}

// SessionClosedPayload is emitted when a client connection closes (0x63).
// LobbyID is nil when the session was not part of a running match.
type SessionClosedPayload struct {
	SessionID uint32
	LobbyID   *uint32
}

// GameEndedPayload is emitted when a match ends (0x64). Sessions lists the
// sessions still attached to the lobby, in lobby order.
type GameEndedPayload struct {
	MatchID  uint32
	LobbyID  uint32
	Sessions []uint32
}

// ReplayEncodedPayload carries the finished replay blob.
type ReplayEncodedPayload struct {
	ReplayID  string
	MatchID   uint32
	LobbyID   uint32
	Sessions  int
	Packets   int
	Blob      []byte
	EncodedAt time.Time
}

// ReplayStoredPayload is emitted after a replay reached its sinks.
type ReplayStoredPayload struct {
	ReplayID string   `json:"replay_id"`
	MatchID  uint32   `json:"match_id"`
	Size     int      `json:"size"`
	Sinks    []string `json:"sinks"`
	Failed   []string `json:"failed,omitempty"`
}

// LateCapturePayload reports a packet captured after its match was encoded.
type LateCapturePayload struct {
	SessionID  uint32 `json:"session_id"`
	PacketType uint8  `json:"packet_type"`
	Direction  string `json:"direction"`
	Size       int    `json:"size"`
}
