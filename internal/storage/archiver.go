// Package storage hands encoded replays to their sinks: a file archive on
// local disk and the SQLite replay archive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/db"
	"github.com/energizer-project/gamerecorder/internal/events"
)

// Artifact is an encoded replay on its way to the sinks.
type Artifact struct {
	ReplayID  string
	MatchID   uint32
	LobbyID   uint32
	Sessions  int
	Packets   int
	Blob      []byte
	EncodedAt time.Time
}

// Sink persists replay artifacts.
type Sink interface {
	Name() string
	Store(ctx context.Context, a *Artifact) error
}

// DatabaseSink stores artifacts in the SQLite replay archive.
type DatabaseSink struct {
	db *db.ReplayDatabase
}

// NewDatabaseSink wraps a replay database as a sink.
func NewDatabaseSink(rdb *db.ReplayDatabase) *DatabaseSink {
	return &DatabaseSink{db: rdb}
}

// Name implements Sink.
func (s *DatabaseSink) Name() string { return "sqlite" }

// Store implements Sink.
func (s *DatabaseSink) Store(_ context.Context, a *Artifact) error {
	return s.db.Insert(&db.StoredReplay{
		ID:        a.ReplayID,
		MatchID:   a.MatchID,
		LobbyID:   a.LobbyID,
		Sessions:  a.Sessions,
		Packets:   a.Packets,
		Blob:      a.Blob,
		CreatedAt: a.EncodedAt,
	})
}

// ArchiverStats counts sink outcomes.
type ArchiverStats struct {
	Stored uint64 `json:"stored"`
	Failed uint64 `json:"failed"`
}

// Archiver subscribes to replay-encoded events and fans each replay out to
// every configured sink.
type Archiver struct {
	eventBus *events.EventBus
	sinks    []Sink
	logger   zerolog.Logger

	stored atomic.Uint64
	failed atomic.Uint64
}

// NewArchiver creates an archiver over the given sinks.
func NewArchiver(eventBus *events.EventBus, sinks ...Sink) *Archiver {
	return &Archiver{
		eventBus: eventBus,
		sinks:    sinks,
		logger:   log.With().Str("component", "archiver").Logger(),
	}
}

// Register subscribes the archiver to the event bus.
func (a *Archiver) Register() {
	a.eventBus.Subscribe(events.EventReplayEncoded, "archiver.store", a.onReplayEncoded)
}

// Stats returns the sink counters.
func (a *Archiver) Stats() ArchiverStats {
	return ArchiverStats{
		Stored: a.stored.Load(),
		Failed: a.failed.Load(),
	}
}

func (a *Archiver) onReplayEncoded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ReplayEncodedPayload)
	if !ok {
		return fmt.Errorf("invalid %s payload: %T", event.Type, event.Payload)
	}

	_, err := a.Archive(ctx, &Artifact{
		ReplayID:  p.ReplayID,
		MatchID:   p.MatchID,
		LobbyID:   p.LobbyID,
		Sessions:  p.Sessions,
		Packets:   p.Packets,
		Blob:      p.Blob,
		EncodedAt: p.EncodedAt,
	})
	return err
}

// Archive stores the artifact in every sink and emits a replay-stored event.
// A failing sink does not stop the others; the joined error is returned.
func (a *Archiver) Archive(ctx context.Context, art *Artifact) (*events.ReplayStoredPayload, error) {
	result := events.ReplayStoredPayload{
		ReplayID: art.ReplayID,
		MatchID:  art.MatchID,
		Size:     len(art.Blob),
		Sinks:    make([]string, 0, len(a.sinks)),
	}

	var errs []error
	for _, sink := range a.sinks {
		if err := sink.Store(ctx, art); err != nil {
			a.failed.Add(1)
			result.Failed = append(result.Failed, sink.Name())
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
			a.logger.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("replay_id", art.ReplayID).
				Uint32("match_id", art.MatchID).
				Msg("failed to store replay")
			continue
		}
		a.stored.Add(1)
		result.Sinks = append(result.Sinks, sink.Name())
	}

	if len(a.sinks) == 0 {
		a.logger.Warn().
			Str("replay_id", art.ReplayID).
			Uint32("match_id", art.MatchID).
			Msg("no replay sink configured, replay discarded")
	} else {
		a.logger.Info().
			Str("replay_id", art.ReplayID).
			Uint32("match_id", art.MatchID).
			Int("size", len(art.Blob)).
			Strs("sinks", result.Sinks).
			Msg("replay archived")
	}

	a.eventBus.Emit(ctx, events.Event{
		Type:    events.EventReplayStored,
		Source:  "archiver",
		Payload: result,
	})

	return &result, errors.Join(errs...)
}
