package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/events"
)

// HostParser parses frames of the host notification protocol.
type HostParser struct {
	logger zerolog.Logger
}

// NewHostParser creates a new parser for the host protocol.
func NewHostParser() *HostParser {
	return &HostParser{
		logger: log.With().Str("component", "host_parser").Logger(),
	}
}

// ReadPacket reads a single length-prefixed frame from a reader.
// Frame format: [2-byte LE length][body bytes...]
// Returns the frame body (excluding the length prefix).
func ReadPacket(r io.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}

	if length == 0 {
		return nil, fmt.Errorf("received zero-length packet")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return payload, nil
}

// WritePacket writes a length-prefixed frame to a writer.
func WritePacket(w io.Writer, data []byte) error {
	if len(data) == 0 || len(data) > MaxPacketSize {
		return fmt.Errorf("invalid packet size: %d bytes (max %d)", len(data), MaxPacketSize)
	}
	length := uint16(len(data))
	if err := binary.Write(w, binary.LittleEndian, length); err != nil {
		return fmt.Errorf("failed to write packet length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}

// Parse decodes a frame body into a typed event.
func (p *HostParser) Parse(data []byte) (*events.Event, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("empty packet")
	}

	cmd := data[0]
	body := data[1:]
	reader := bytes.NewReader(body)

	switch cmd {
	case PktHostHello:
		return p.parseHostHello(reader)
	case PktPacketIn:
		return p.parsePacketCaptured(events.EventPacketIn, body)
	case PktPacketOut:
		return p.parsePacketCaptured(events.EventPacketOut, body)
	case PktSessionClosed:
		return p.parseSessionClosed(reader)
	case PktGameEnded:
		return p.parseGameEnded(reader)
	default:
		p.logger.Warn().
			Uint8("command", cmd).
			Int("body_len", len(body)).
			Msg("unknown packet command")
		return nil, fmt.Errorf("unknown command: 0x%02X", cmd)
	}
}

// parseHostHello handles frame 0x60.
func (p *HostParser) parseHostHello(r *bytes.Reader) (*events.Event, error) {
	name, err := readNullString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host hello: %w", err)
	}

	p.logger.Debug().Str("host", name).Msg("host hello")

	return &events.Event{
		Type:    events.EventHostConnected,
		Source:  "host",
		Payload: events.HostPayload{Name: name},
	}, nil
}

// parsePacketCaptured handles frames 0x61 and 0x62.
// Format: [session:4][type:1][payload...]
func (p *HostParser) parsePacketCaptured(typ events.EventType, body []byte) (*events.Event, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("failed to parse %s: body too short (%d bytes)", typ, len(body))
	}

	sessionID := binary.LittleEndian.Uint32(body[0:4])
	packetType := body[4]
	data := make([]byte, len(body)-5)
	copy(data, body[5:])

	p.logger.Trace().
		Str("event", string(typ)).
		Uint32("session", sessionID).
		Uint8("packet_type", packetType).
		Int("size", len(data)).
		Msg("packet captured")

	return &events.Event{
		Type:   typ,
		Source: "host",
		Payload: events.PacketCapturedPayload{
			SessionID:  sessionID,
			PacketType: packetType,
			Data:       data,
		},
	}, nil
}

// parseSessionClosed handles frame 0x63.
// Format: [session:4][in_match:1][lobby:4]
func (p *HostParser) parseSessionClosed(r *bytes.Reader) (*events.Event, error) {
	var (
		sessionID uint32
		inMatch   uint8
		lobbyID   uint32
	)

	if err := binary.Read(r, binary.LittleEndian, &sessionID); err != nil {
		return nil, fmt.Errorf("failed to parse session closed id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &inMatch); err != nil {
		return nil, fmt.Errorf("failed to parse session closed flag: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &lobbyID); err != nil {
		return nil, fmt.Errorf("failed to parse session closed lobby: %w", err)
	}

	payload := events.SessionClosedPayload{SessionID: sessionID}
	if inMatch != 0 {
		payload.LobbyID = &lobbyID
	}

	p.logger.Debug().
		Uint32("session", sessionID).
		Bool("in_match", inMatch != 0).
		Uint32("lobby_id", lobbyID).
		Msg("session closed")

	return &events.Event{
		Type:    events.EventSessionClosed,
		Source:  "host",
		Payload: payload,
	}, nil
}

// parseGameEnded handles frame 0x64.
// Format: [match:4][lobby:4][count:2][session:4 * count]
func (p *HostParser) parseGameEnded(r *bytes.Reader) (*events.Event, error) {
	var (
		matchID uint32
		lobbyID uint32
		count   uint16
	)

	if err := binary.Read(r, binary.LittleEndian, &matchID); err != nil {
		return nil, fmt.Errorf("failed to parse game ended match id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &lobbyID); err != nil {
		return nil, fmt.Errorf("failed to parse game ended lobby id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to parse game ended session count: %w", err)
	}
	if int(count)*4 > r.Len() {
		return nil, fmt.Errorf("game ended declares %d sessions but only %d bytes remain", count, r.Len())
	}

	sessions := make([]uint32, count)
	if err := binary.Read(r, binary.LittleEndian, sessions); err != nil {
		return nil, fmt.Errorf("failed to parse game ended sessions: %w", err)
	}

	p.logger.Info().
		Uint32("match_id", matchID).
		Uint32("lobby_id", lobbyID).
		Int("sessions", len(sessions)).
		Msg("game ended")

	return &events.Event{
		Type:   events.EventGameEnded,
		Source: "host",
		Payload: events.GameEndedPayload{
			MatchID:  matchID,
			LobbyID:  lobbyID,
			Sessions: sessions,
		},
	}, nil
}

// readNullString reads a null-terminated string.
func readNullString(r *bytes.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("unterminated string: %w", err)
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}
