// Package protocol implements the binary notification protocol spoken by a
// game host to the recorder. Frames use little-endian byte order with a
// 2-byte length prefix; the first body byte is the command.
package protocol

import "github.com/energizer-project/gamerecorder/internal/events"

// Host command bytes.
const (
	PktHostHello     = byte(events.CmdHostHello)     // First frame: host name
	PktPacketIn      = byte(events.CmdPacketIn)      // Server-bound packet captured
	PktPacketOut     = byte(events.CmdPacketOut)     // Client-bound packet captured
	PktSessionClosed = byte(events.CmdSessionClosed) // Client connection closed
	PktGameEnded     = byte(events.CmdGameEnded)     // Match ended
)

// MaxPacketSize is the maximum allowed size for a single frame.
const MaxPacketSize = 65535

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// packetHeaderSize is cmd + session id + packet type.
const packetHeaderSize = 1 + 4 + 1

// MaxCapturedPayload is the largest captured payload a single frame can carry.
const MaxCapturedPayload = MaxPacketSize - packetHeaderSize

// MaxGameEndedSessions bounds the session list of a game-ended frame.
const MaxGameEndedSessions = (MaxPacketSize - 1 - 4 - 4 - 2) / 4
