package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/gamerecorder/internal/db"
	"github.com/energizer-project/gamerecorder/internal/events"
)

type failingSink struct{}

func (failingSink) Name() string { return "broken" }

func (failingSink) Store(context.Context, *Artifact) error { return errors.New("disk on fire") }

func TestFileSinkStore(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)

	art := &Artifact{ReplayID: "r1", MatchID: 42, Blob: []byte{1, 7, 0}}
	require.NoError(t, sink.Store(context.Background(), art))

	path := sink.Path(art)
	assert.Equal(t, "M42-r1.gprec", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 7, 0}, data)

	// No temp files are left behind.
	entries, err := os.ReadDir(sink.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSinkPrune(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	old := &Artifact{ReplayID: "old", MatchID: 1, Blob: []byte{0}}
	fresh := &Artifact{ReplayID: "new", MatchID: 2, Blob: []byte{0}}
	require.NoError(t, sink.Store(context.Background(), old))
	require.NoError(t, sink.Store(context.Background(), fresh))

	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(sink.Path(old), past, past))
	require.NoError(t, os.WriteFile(filepath.Join(sink.Dir(), "notes.txt"), []byte("keep"), 0644))
	require.NoError(t, os.Chtimes(filepath.Join(sink.Dir(), "notes.txt"), past, past))

	removed, err := sink.Prune(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, sink.Path(old))
	assert.FileExists(t, sink.Path(fresh))
	assert.FileExists(t, filepath.Join(sink.Dir(), "notes.txt"))
}

func TestArchiverStoresAndEmits(t *testing.T) {
	dir := t.TempDir()
	rdb, err := db.NewReplayDatabase(filepath.Join(dir, "replays.db"))
	require.NoError(t, err)
	defer rdb.Close()

	files, err := NewFileSink(filepath.Join(dir, "files"))
	require.NoError(t, err)

	bus := events.NewEventBus()
	defer bus.Stop()

	stored := make(chan events.ReplayStoredPayload, 1)
	bus.Subscribe(events.EventReplayStored, "test", func(_ context.Context, e events.Event) error {
		stored <- e.Payload.(events.ReplayStoredPayload)
		return nil
	})

	archiver := NewArchiver(bus, NewDatabaseSink(rdb), files, failingSink{})
	archiver.Register()

	encodedAt := time.UnixMilli(1700000000123).UTC()
	bus.Emit(context.Background(), events.Event{
		Type: events.EventReplayEncoded,
		Payload: events.ReplayEncodedPayload{
			ReplayID:  "abc",
			MatchID:   7,
			LobbyID:   3,
			Sessions:  1,
			Packets:   2,
			Blob:      []byte{1, 7, 2, 1, 1, 1, 0, 0, 0},
			EncodedAt: encodedAt,
		},
	})

	select {
	case p := <-stored:
		assert.Equal(t, "abc", p.ReplayID)
		assert.Equal(t, []string{"sqlite", "file"}, p.Sinks)
		assert.Equal(t, []string{"broken"}, p.Failed)
		assert.Equal(t, 9, p.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("replay_stored not emitted")
	}

	r, err := rdb.Latest(7)
	require.NoError(t, err)
	assert.Equal(t, "abc", r.ID)
	assert.True(t, r.Verify())
	assert.True(t, encodedAt.Equal(r.CreatedAt), "created_at %v, want %v", r.CreatedAt, encodedAt)
	assert.FileExists(t, files.Path(&Artifact{ReplayID: "abc", MatchID: 7}))

	stats := archiver.Stats()
	assert.Equal(t, uint64(2), stats.Stored)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestArchiveJoinsErrors(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	archiver := NewArchiver(bus, failingSink{})
	result, err := archiver.Archive(context.Background(), &Artifact{ReplayID: "x", Blob: []byte{0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken sink")
	assert.Empty(t, result.Sinks)
}
