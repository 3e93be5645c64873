package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dhowden/tag"

	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/queue"
)

// newOpaqueID returns a short random hex string, used to give admin-issued
// tokens a distinct subject id without standing up a user-account system
// (out of scope per spec.md's Non-goals).
func newOpaqueID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// writeAdminUpload persists an admin-submitted fallback/queue file under
// the Control API's own scratch directory, independent of the Queue
// Controller's user-upload directory since admin uploads never go through
// AddUserSong's quota path.
func (s *server) writeAdminUpload(fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(s.deps.AdminUploadDir, 0o755); err != nil {
		return "", err
	}
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	dest := filepath.Join(s.deps.AdminUploadDir, hex.EncodeToString(suffix[:])+"-"+filepath.Base(fileName))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// resolveAdminMetadata fills in whatever title/artist/genre the admin
// didn't supply explicitly from a previously recorded songs_admin_metadata
// override for this exact file content; it does not read the file's
// embedded tags (the caller falls back to those for fields still empty).
// When the admin supplied at least one field, the resulting values are
// persisted back as the override, so the next admin re-add of the same
// content inherits them without retyping.
func (s *server) resolveAdminMetadata(c context.Context, data []byte, req adminAddSongRequest) (title, artist, genre string) {
	fingerprint := queue.FingerprintBytes(data)

	title, artist, genre = req.Title, req.Artist, req.Genre
	if title == "" || artist == "" || genre == "" {
		if override, ok, err := s.deps.Catalog.GetSongMetadata(c, fingerprint); err == nil && ok {
			if title == "" {
				title = override.Title
			}
			if artist == "" {
				artist = override.Artist
			}
			if genre == "" {
				genre = override.Genre
			}
		}
	}

	if req.Title != "" || req.Artist != "" || req.Genre != "" {
		if err := s.deps.Catalog.UpsertSongMetadata(c, catalog.SongAdminMetadata{
			Fingerprint: fingerprint,
			Title:       title,
			Artist:      artist,
			Genre:       genre,
		}); err != nil {
			slog.Warn("api: failed to persist admin song metadata override", "error", err)
		}
	}

	return title, artist, genre
}

// bestEffortTagsFromBytes is the admin-upload path's last-resort metadata
// source, read from the written file itself once neither the request nor
// a songs_admin_metadata override supplied a value.
func bestEffortTagsFromBytes(path string) (title, artist, genre string) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", ""
	}
	defer f.Close()
	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", ""
	}
	return m.Title(), m.Artist(), m.Genre()
}

// removeFileBestEffort deletes a recording's backing file after catalog
// deletion. A missing file is not an error; the catalog row is already gone.
func removeFileBestEffort(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
