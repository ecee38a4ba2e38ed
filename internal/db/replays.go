package db

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrReplayNotFound is returned when no archived replay matches a lookup.
var ErrReplayNotFound = errors.New("replay not found")

// ReplayDatabase archives encoded replays in SQLite.
type ReplayDatabase struct {
	db *Database
}

// StoredReplay is one archived replay. Blob is only populated by lookups
// that return the payload.
type StoredReplay struct {
	ID        string    `json:"id"`
	MatchID   uint32    `json:"match_id"`
	LobbyID   uint32    `json:"lobby_id"`
	Sessions  int       `json:"sessions"`
	Packets   int       `json:"packets"`
	Size      int       `json:"size"`
	CRC32     uint32    `json:"crc32"`
	Blob      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Verify reports whether Blob matches the recorded checksum.
func (r *StoredReplay) Verify() bool {
	return len(r.Blob) == r.Size && crc32.ChecksumIEEE(r.Blob) == r.CRC32
}

// NewReplayDatabase opens the archive at dbPath and applies the schema.
func NewReplayDatabase(dbPath string) (*ReplayDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	rdb := &ReplayDatabase{db: database}

	if err := rdb.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate replay database: %w", err)
	}

	return rdb, nil
}

// migrate creates the database schema.
func (rdb *ReplayDatabase) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS replays (
			id TEXT PRIMARY KEY,
			match_id INTEGER NOT NULL,
			lobby_id INTEGER NOT NULL,
			sessions INTEGER NOT NULL,
			packets INTEGER NOT NULL,
			size INTEGER NOT NULL,
			crc32 INTEGER NOT NULL,
			blob BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_replays_match ON replays(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_replays_created ON replays(created_at)`,
	}

	return rdb.db.Transaction(func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Path returns the database file path.
func (rdb *ReplayDatabase) Path() string {
	return rdb.db.Path()
}

// Insert archives a replay. Size and CRC32 are derived from the blob.
func (rdb *ReplayDatabase) Insert(r *StoredReplay) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Size = len(r.Blob)
	r.CRC32 = crc32.ChecksumIEEE(r.Blob)

	_, err := rdb.db.Exec(`
		INSERT INTO replays (id, match_id, lobby_id, sessions, packets, size, crc32, blob, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MatchID, r.LobbyID, r.Sessions, r.Packets, r.Size, r.CRC32, r.Blob, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert replay %s: %w", r.ID, err)
	}

	log.Debug().
		Str("replay_id", r.ID).
		Uint32("match_id", r.MatchID).
		Int("size", r.Size).
		Msg("replay archived")
	return nil
}

// Latest returns the most recent replay recorded for a match, blob included.
func (rdb *ReplayDatabase) Latest(matchID uint32) (*StoredReplay, error) {
	row := rdb.db.QueryRow(`
		SELECT id, match_id, lobby_id, sessions, packets, size, crc32, created_at, blob
		FROM replays WHERE match_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, matchID)

	r, err := scanReplay(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %d: %w", matchID, ErrReplayNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load replay for match %d: %w", matchID, err)
	}
	return r, nil
}

// Get returns a replay by id, blob included.
func (rdb *ReplayDatabase) Get(id string) (*StoredReplay, error) {
	row := rdb.db.QueryRow(`
		SELECT id, match_id, lobby_id, sessions, packets, size, crc32, created_at, blob
		FROM replays WHERE id = ?`, id)

	r, err := scanReplay(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("replay %s: %w", id, ErrReplayNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load replay %s: %w", id, err)
	}
	return r, nil
}

// List returns up to limit replays, newest first, without blobs.
func (rdb *ReplayDatabase) List(limit int) ([]StoredReplay, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := rdb.db.Query(`
		SELECT id, match_id, lobby_id, sessions, packets, size, crc32, created_at
		FROM replays ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list replays: %w", err)
	}
	defer rows.Close()

	replays := make([]StoredReplay, 0)
	for rows.Next() {
		r, err := scanReplay(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan replay: %w", err)
		}
		replays = append(replays, *r)
	}
	return replays, rows.Err()
}

// Count returns the number of archived replays.
func (rdb *ReplayDatabase) Count() (int, error) {
	var n int
	if err := rdb.db.QueryRow("SELECT COUNT(*) FROM replays").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count replays: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes replays archived before cutoff.
func (rdb *ReplayDatabase) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := rdb.db.Exec("DELETE FROM replays WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old replays: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("old replays deleted")
	}
	return n, nil
}

// Close closes the database.
func (rdb *ReplayDatabase) Close() error {
	return rdb.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReplay(s scanner, withBlob bool) (*StoredReplay, error) {
	var (
		r         StoredReplay
		crc       int64
		createdAt int64
	)

	dest := []interface{}{&r.ID, &r.MatchID, &r.LobbyID, &r.Sessions, &r.Packets, &r.Size, &crc, &createdAt}
	if withBlob {
		dest = append(dest, &r.Blob)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	r.CRC32 = uint32(crc)
	r.CreatedAt = time.UnixMilli(createdAt)
	if withBlob && r.Blob == nil {
		r.Blob = []byte{}
	}
	return &r, nil
}
