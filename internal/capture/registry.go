package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LateCapture describes a packet captured for a session whose match was
// already encoded. Such a packet cannot appear in any replay.
type LateCapture struct {
	SessionID  SessionID
	PacketType uint8
	Direction  Direction
	Size       int
}

// RegistryOptions configures an ActiveRegistry.
type RegistryOptions struct {
	// TombstoneTTL is how long a sealed session is remembered. Zero keeps
	// tombstones until they are pushed out by TombstoneSize.
	TombstoneTTL time.Duration

	// TombstoneSize bounds the number of remembered sealed sessions.
	TombstoneSize int

	// OnLateCapture is called for every dropped late packet.
	OnLateCapture func(LateCapture)
}

// Stats is a point-in-time view of the registry counters.
type Stats struct {
	Sessions      int    `json:"sessions"`
	Tombstones    int    `json:"tombstones"`
	CapturedIn    uint64 `json:"captured_in"`
	CapturedOut   uint64 `json:"captured_out"`
	CapturedBytes uint64 `json:"captured_bytes"`
	LateCaptures  uint64 `json:"late_captures"`
}

// ActiveRegistry maps each session to its PacketLog. It is safe for
// concurrent use; appends to different sessions never contend.
//
// Entries are created on the first captured packet and are only removed by
// Drain. A session's log stays readable after the session is closed.
type ActiveRegistry struct {
	logs     sync.Map // SessionID -> *PacketLog
	sessions atomic.Int64

	sealed *expirable.LRU[SessionID, struct{}]
	onLate func(LateCapture)

	capturedIn    atomic.Uint64
	capturedOut   atomic.Uint64
	capturedBytes atomic.Uint64
	lateCaptures  atomic.Uint64

	logger zerolog.Logger
}

// NewActiveRegistry creates an empty registry.
func NewActiveRegistry(opts RegistryOptions) *ActiveRegistry {
	size := opts.TombstoneSize
	if size <= 0 {
		size = 4096
	}
	return &ActiveRegistry{
		sealed: expirable.NewLRU[SessionID, struct{}](size, nil, opts.TombstoneTTL),
		onLate: opts.OnLateCapture,
		logger: log.With().Str("component", "capture").Logger(),
	}
}

// RecordInbound appends a packet received from the client.
func (r *ActiveRegistry) RecordInbound(session SessionID, packetType uint8, payload []byte) {
	r.record(session, Inbound, packetType, payload)
}

// RecordOutbound appends a packet sent to the client.
func (r *ActiveRegistry) RecordOutbound(session SessionID, packetType uint8, payload []byte) {
	r.record(session, Outbound, packetType, payload)
}

func (r *ActiveRegistry) record(session SessionID, dir Direction, packetType uint8, payload []byte) {
	if r.sealed.Contains(session) {
		r.reportLate(LateCapture{
			SessionID:  session,
			PacketType: packetType,
			Direction:  dir,
			Size:       len(payload),
		})
		return
	}

	rec := newRecord(packetType, dir, payload)
	for {
		l := r.getOrCreate(session)
		if l.append(rec) {
			break
		}
		// Drained concurrently; the packet belongs to a fresh log.
		r.logs.CompareAndDelete(session, l)
	}

	if dir == Inbound {
		r.capturedIn.Add(1)
	} else {
		r.capturedOut.Add(1)
	}
	r.capturedBytes.Add(uint64(len(payload)))
}

// getOrCreate is a single atomic get-or-insert.
func (r *ActiveRegistry) getOrCreate(session SessionID) *PacketLog {
	if v, ok := r.logs.Load(session); ok {
		return v.(*PacketLog)
	}
	v, loaded := r.logs.LoadOrStore(session, &PacketLog{})
	if !loaded {
		r.sessions.Add(1)
		r.logger.Trace().Uint32("session", uint32(session)).Msg("packet log created")
	}
	return v.(*PacketLog)
}

func (r *ActiveRegistry) reportLate(lc LateCapture) {
	total := r.lateCaptures.Add(1)
	r.logger.Warn().
		Uint32("session", uint32(lc.SessionID)).
		Uint8("packet_type", lc.PacketType).
		Str("direction", lc.Direction.String()).
		Int("size", lc.Size).
		Uint64("total", total).
		Msg("packet captured after match was encoded, dropped")
	if r.onLate != nil {
		r.onLate(lc)
	}
}

// Log returns a copy of the session's records, or an empty slice when
// nothing was captured for it.
func (r *ActiveRegistry) Log(session SessionID) []Record {
	v, ok := r.logs.Load(session)
	if !ok {
		return []Record{}
	}
	return v.(*PacketLog).snapshot()
}

// Drain removes the session's log and returns its records. Packets captured
// for the session afterwards start a new log.
func (r *ActiveRegistry) Drain(session SessionID) []Record {
	v, ok := r.logs.LoadAndDelete(session)
	if !ok {
		return []Record{}
	}
	r.sessions.Add(-1)
	return v.(*PacketLog).seal()
}

// Seal tombstones a session so that packets captured for it from now on are
// reported as late captures instead of being recorded.
func (r *ActiveRegistry) Seal(session SessionID) {
	r.sealed.Add(session, struct{}{})
}

// IsSealed reports whether the session is currently tombstoned.
func (r *ActiveRegistry) IsSealed(session SessionID) bool {
	return r.sealed.Contains(session)
}

// Sessions returns the number of sessions with a live log.
func (r *ActiveRegistry) Sessions() int {
	return int(r.sessions.Load())
}

// Stats returns the current counters.
func (r *ActiveRegistry) Stats() Stats {
	return Stats{
		Sessions:      r.Sessions(),
		Tombstones:    r.sealed.Len(),
		CapturedIn:    r.capturedIn.Load(),
		CapturedOut:   r.capturedOut.Load(),
		CapturedBytes: r.capturedBytes.Load(),
		LateCaptures:  r.lateCaptures.Load(),
	}
}
