// Package match assembles the replay of a finished match from the packet
// logs of every session that took part in it.
package match

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/capture"
	"github.com/energizer-project/gamerecorder/internal/replay"
)

// End describes a match-termination signal.
type End struct {
	MatchID  uint32
	LobbyID  capture.LobbyID
	Attached []capture.SessionID // sessions still in the lobby, lobby order
}

// Replay is the finished, immutable output for one match.
type Replay struct {
	ID        string              `json:"id"`
	MatchID   uint32              `json:"match_id"`
	LobbyID   capture.LobbyID     `json:"lobby_id"`
	Sessions  []capture.SessionID `json:"sessions"`
	Packets   int                 `json:"packets"`
	Blob      []byte              `json:"-"`
	EncodedAt time.Time           `json:"encoded_at"`
}

// Options configures a Coordinator.
type Options struct {
	// Evict drains each participant's log after encoding and tombstones the
	// sessions that had already disconnected. When false, logs are only read
	// and stay in the registry.
	Evict bool
}

// Coordinator turns a match end into a replay.
type Coordinator struct {
	active       *capture.ActiveRegistry
	disconnected *capture.DisconnectedRegistry
	evict        bool

	encoded atomic.Uint64
	logger  zerolog.Logger
}

// NewCoordinator creates a Coordinator over the given registries.
func NewCoordinator(active *capture.ActiveRegistry, disconnected *capture.DisconnectedRegistry, opts Options) *Coordinator {
	return &Coordinator{
		active:       active,
		disconnected: disconnected,
		evict:        opts.Evict,
		logger:       log.With().Str("component", "match").Logger(),
	}
}

// EndMatch collects the participants of the match, reads their logs and
// encodes them. Attached sessions come first, in lobby order, followed by
// sessions that disconnected during the match, in disconnect order. A
// session listed twice is encoded once, at its first position.
func (c *Coordinator) EndMatch(m End) *Replay {
	left := c.disconnected.Take(m.LobbyID)
	participants := mergeParticipants(m.Attached, left)

	if c.evict {
		attached := make(map[capture.SessionID]struct{}, len(m.Attached))
		for _, id := range m.Attached {
			attached[id] = struct{}{}
		}
		// Seal before draining so nothing slips into a new log in between.
		for _, id := range left {
			if _, ok := attached[id]; !ok {
				c.active.Seal(id)
			}
		}
	}

	blocks := make([]replay.SessionBlock, 0, len(participants))
	packets := 0
	for _, id := range participants {
		var records []capture.Record
		if c.evict {
			records = c.active.Drain(id)
		} else {
			records = c.active.Log(id)
		}
		blocks = append(blocks, toBlock(id, records))
		packets += len(records)
	}

	r := &Replay{
		ID:        uuid.NewString(),
		MatchID:   m.MatchID,
		LobbyID:   m.LobbyID,
		Sessions:  participants,
		Packets:   packets,
		Blob:      replay.Encode(blocks),
		EncodedAt: time.Now().UTC(),
	}
	c.encoded.Add(1)

	c.logger.Info().
		Str("replay_id", r.ID).
		Uint32("match_id", m.MatchID).
		Uint32("lobby_id", uint32(m.LobbyID)).
		Int("attached", len(m.Attached)).
		Int("disconnected", len(left)).
		Int("packets", packets).
		Int("size", len(r.Blob)).
		Msg("match encoded")

	return r
}

// Encoded returns the number of matches encoded so far.
func (c *Coordinator) Encoded() uint64 {
	return c.encoded.Load()
}

func mergeParticipants(attached, left []capture.SessionID) []capture.SessionID {
	out := make([]capture.SessionID, 0, len(attached)+len(left))
	seen := make(map[capture.SessionID]struct{}, len(attached)+len(left))
	for _, list := range [][]capture.SessionID{attached, left} {
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func toBlock(id capture.SessionID, records []capture.Record) replay.SessionBlock {
	packets := make([]replay.Packet, len(records))
	for i, rec := range records {
		packets[i] = replay.Packet{
			Inbound: rec.Direction == capture.Inbound,
			Type:    rec.Type,
			Payload: rec.Payload,
		}
	}
	return replay.SessionBlock{SessionID: uint32(id), Packets: packets}
}
