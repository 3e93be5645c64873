package queue

import (
	"log/slog"
	"os"

	"github.com/dhowden/tag"
)

// bestEffortMetadata reads ID3/Vorbis-comment tags from the file at path,
// the same best-effort tag.ReadFrom call the teacher's NewTrackFromFile
// uses. Callers only use the returned fields to fill in whatever the
// submitter didn't supply; a read failure just leaves everything blank.
func bestEffortMetadata(path string) (title, artist, genre string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Debug("queue: could not open file for metadata", "path", path, "error", err)
		return "", "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		slog.Debug("queue: could not read tags", "path", path, "error", err)
		return "", "", ""
	}

	return m.Title(), m.Artist(), m.Genre()
}
