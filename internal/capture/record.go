// Package capture holds the per-session packet logs recorded while a match
// is running, and the list of sessions that left a lobby before its match
// ended.
package capture

// SessionID identifies a client's network connection to the host.
type SessionID uint32

// LobbyID identifies the lobby a match is played in.
type LobbyID uint32

// Direction tells whether a packet was received or sent by the host.
type Direction uint8

const (
	// Inbound packets travel from the client to the host.
	Inbound Direction = iota
	// Outbound packets travel from the host to the client.
	Outbound
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "in"
	case Outbound:
		return "out"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes Direction as a JSON string (e.g. "in").
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// Record is a single captured packet. Records are never modified after
// they are appended to a log.
type Record struct {
	Type      uint8     `json:"type"`
	Direction Direction `json:"direction"`
	Payload   []byte    `json:"payload"`
}

// newRecord copies payload so the caller may reuse its buffer.
func newRecord(packetType uint8, dir Direction, payload []byte) Record {
	data := make([]byte, len(payload))
	copy(data, payload)
	return Record{Type: packetType, Direction: dir, Payload: data}
}
