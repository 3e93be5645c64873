package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SongAdminMetadata is an admin-entered title/artist/genre override for a
// fallback-queue song, keyed by its content fingerprint so the override
// survives the song being re-queued.
type SongAdminMetadata struct {
	Fingerprint string
	Title       string
	Artist      string
	Genre       string
	UpdatedAt   time.Time
}

// UpsertSongMetadata inserts or replaces the override for fingerprint.
func (s *Store) UpsertSongMetadata(ctx context.Context, m SongAdminMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO songs_admin_metadata (fingerprint, title, artist, genre, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			title = excluded.title, artist = excluded.artist, genre = excluded.genre, updated_at = excluded.updated_at
	`, m.Fingerprint, m.Title, m.Artist, m.Genre, nowString())
	return err
}

// GetSongMetadata looks up an override by fingerprint. Returns ok=false if
// none exists (not an error: most songs never get an admin override).
func (s *Store) GetSongMetadata(ctx context.Context, fingerprint string) (SongAdminMetadata, bool, error) {
	var m SongAdminMetadata
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, title, artist, genre, updated_at FROM songs_admin_metadata WHERE fingerprint = ?`, fingerprint,
	).Scan(&m.Fingerprint, &m.Title, &m.Artist, &m.Genre, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SongAdminMetadata{}, false, nil
	}
	if err != nil {
		return SongAdminMetadata{}, false, err
	}
	m.UpdatedAt = parseTime(updatedAt)
	return m, true, nil
}
