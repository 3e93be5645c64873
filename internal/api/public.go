package api

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

// queueSongView is the public-facing shape of a queued song: spec.md §6
// names exactly {song_id, title?, artist?, queue}.
type queueSongView struct {
	SongID string          `json:"song_id"`
	Title  string          `json:"title,omitempty"`
	Artist string          `json:"artist,omitempty"`
	Queue  model.QueueName `json:"queue"`
}

func toQueueView(songs []model.Song) []queueSongView {
	out := make([]queueSongView, 0, len(songs))
	for _, s := range songs {
		out = append(out, queueSongView{SongID: s.SongID, Title: s.Title, Artist: s.Artist, Queue: s.Queue})
	}
	return out
}

func (s *server) listQueue(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 20 {
			_ = c.Error(apperr.BadInput("limit must be between 1 and 20"))
			return
		}
		limit = n
	}

	songs, err := s.deps.Queue.List(c.Request.Context(), model.QueueUser, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeOK(c, toQueueView(songs))
}

func (s *server) listRecordings(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := catalog.RecordingFilter{
		ShowName: c.Query("show_name"),
		Search:   c.Query("search"),
		Genre:    c.Query("genre"),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := c.Query("date_from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = c.Error(apperr.BadInput("date_from must be RFC3339"))
			return
		}
		filter.DateFrom = t
	}
	if raw := c.Query("date_to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = c.Error(apperr.BadInput("date_to must be RFC3339"))
			return
		}
		filter.DateTo = t
	}

	recordings, total, err := s.deps.Catalog.ListRecordings(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "catalog unavailable", err))
		return
	}
	writeOK(c, gin.H{"recordings": recordings, "total": total, "page": filter.Page, "page_size": filter.PageSize})
}

func (s *server) streamRecording(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.deps.Catalog.GetRecording(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	f, err := os.Open(rec.FilePath)
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindNotFound, "recording file missing", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindInternal, "could not stat recording file", err))
		return
	}

	c.Header("Content-Type", "audio/ogg")
	http.ServeContent(c.Writer, c.Request, rec.FilePath, info.ModTime(), f)
}

func (s *server) nowPlaying(c *gin.Context) {
	np, err := s.deps.Observer.NowPlaying(c.Request.Context())
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "could not derive now playing", err))
		return
	}
	writeOK(c, np)
}
