package replay

import "fmt"

// Packet is one captured packet as stored in a replay.
type Packet struct {
	Inbound bool   `json:"inbound"`
	Type    uint8  `json:"type"`
	Payload []byte `json:"payload"`
}

// SessionBlock is the capture of one session.
type SessionBlock struct {
	SessionID uint32   `json:"session_id"`
	Packets   []Packet `json:"packets"`
}

// Encode serializes blocks in order.
//
// Layout:
//
//	blob    := block*                               (no outer length)
//	block   := session_id:packed, count:packed, packet*
//	packet  := inbound:u8, type:u8, len:packed, payload
//
// An empty input produces an empty blob.
func Encode(blocks []SessionBlock) []byte {
	w := NewWriter()
	for _, b := range blocks {
		w.WritePackedUint32(b.SessionID)
		w.WritePackedUint32(uint32(len(b.Packets)))
		for _, p := range b.Packets {
			w.WriteBool(p.Inbound)
			w.WriteUint8(p.Type)
			w.WriteBytesAndSize(p.Payload)
		}
	}
	return w.Bytes()
}

// Decode parses a blob produced by Encode. The blob has no terminator, so the
// whole slice is consumed.
func Decode(blob []byte) ([]SessionBlock, error) {
	r := NewReader(blob)
	blocks := make([]SessionBlock, 0)

	for r.Remaining() > 0 {
		start := r.Offset()

		id, err := r.ReadPackedUint32()
		if err != nil {
			return nil, fmt.Errorf("session at offset %d: %w", start, err)
		}
		count, err := r.ReadPackedUint32()
		if err != nil {
			return nil, fmt.Errorf("session %d packet count: %w", id, err)
		}
		// Each packet needs at least three bytes.
		if uint64(count)*3 > uint64(r.Remaining()) {
			return nil, fmt.Errorf("session %d declares %d packets: %w", id, count, ErrTruncated)
		}

		block := SessionBlock{SessionID: id, Packets: make([]Packet, 0, count)}
		for i := uint32(0); i < count; i++ {
			p, err := readPacket(r)
			if err != nil {
				return nil, fmt.Errorf("session %d packet %d: %w", id, i, err)
			}
			block.Packets = append(block.Packets, p)
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

func readPacket(r *Reader) (Packet, error) {
	inbound, err := r.ReadBool()
	if err != nil {
		return Packet{}, err
	}
	typ, err := r.ReadUint8()
	if err != nil {
		return Packet{}, err
	}
	payload, err := r.ReadBytesAndSize()
	if err != nil {
		return Packet{}, err
	}
	return Packet{Inbound: inbound, Type: typ, Payload: payload}, nil
}

// Summary describes a decoded blob without its payloads.
type Summary struct {
	Sessions []SessionSummary `json:"sessions"`
	Packets  int              `json:"packets"`
	Bytes    int              `json:"bytes"`
}

// SessionSummary holds per-session counters.
type SessionSummary struct {
	SessionID    uint32 `json:"session_id"`
	Inbound      int    `json:"inbound"`
	Outbound     int    `json:"outbound"`
	PayloadBytes int    `json:"payload_bytes"`
}

// Summarize computes counters for decoded blocks.
func Summarize(blocks []SessionBlock, blobSize int) Summary {
	s := Summary{Sessions: make([]SessionSummary, 0, len(blocks)), Bytes: blobSize}
	for _, b := range blocks {
		ss := SessionSummary{SessionID: b.SessionID}
		for _, p := range b.Packets {
			if p.Inbound {
				ss.Inbound++
			} else {
				ss.Outbound++
			}
			ss.PayloadBytes += len(p.Payload)
		}
		s.Packets += len(b.Packets)
		s.Sessions = append(s.Sessions, ss)
	}
	return s
}
