package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs host notification frames.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed frame body.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the frame being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Frame constructors ----

// BuildHostHello creates a host hello frame (0x60).
// Format: [cmd:1][host_name:null_str]
func BuildHostHello(hostName string) []byte {
	b := NewPacketBuilder()
	b.WriteUint8(PktHostHello)
	b.WriteNullString(hostName)
	return b.Build()
}

// BuildPacketCaptured creates a packet-in (0x61) or packet-out (0x62) frame.
// Format: [cmd:1][session:4][type:1][payload...]
func BuildPacketCaptured(inbound bool, sessionID uint32, packetType uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxCapturedPayload {
		return nil, fmt.Errorf("captured payload too large: %d bytes (max %d)", len(payload), MaxCapturedPayload)
	}
	cmd := PktPacketOut
	if inbound {
		cmd = PktPacketIn
	}
	b := NewPacketBuilder()
	b.WriteUint8(cmd)
	b.WriteUint32(sessionID)
	b.WriteUint8(packetType)
	b.WriteBytes(payload)
	return b.Build(), nil
}

// BuildSessionClosed creates a session closed frame (0x63).
// Format: [cmd:1][session:4][in_match:1][lobby:4]
func BuildSessionClosed(sessionID uint32, lobbyID *uint32) []byte {
	b := NewPacketBuilder()
	b.WriteUint8(PktSessionClosed)
	b.WriteUint32(sessionID)
	if lobbyID != nil {
		b.WriteUint8(1)
		b.WriteUint32(*lobbyID)
	} else {
		b.WriteUint8(0)
		b.WriteUint32(0)
	}
	return b.Build()
}

// BuildGameEnded creates a game ended frame (0x64).
// Format: [cmd:1][match:4][lobby:4][count:2][session:4 * count]
func BuildGameEnded(matchID, lobbyID uint32, sessions []uint32) ([]byte, error) {
	if len(sessions) > MaxGameEndedSessions {
		return nil, fmt.Errorf("too many sessions: %d (max %d)", len(sessions), MaxGameEndedSessions)
	}
	b := NewPacketBuilder()
	b.WriteUint8(PktGameEnded)
	b.WriteUint32(matchID)
	b.WriteUint32(lobbyID)
	b.WriteUint16(uint16(len(sessions)))
	for _, id := range sessions {
		b.WriteUint32(id)
	}
	return b.Build(), nil
}
