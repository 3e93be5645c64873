package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/auth"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

func (s *server) issueUserToken(c *gin.Context) {
	var req issueUserTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	ttl := time.Duration(req.DurationSeconds) * time.Second
	token, err := s.deps.Issuer.IssueUserToken("user-"+newOpaqueID(), req.MaxQueueSongs, req.MaxAddRequests, ttl)
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindInternal, "failed to sign token", err))
		return
	}
	writeOK(c, gin.H{"token": token, "expires_in": req.DurationSeconds})
}

func (s *server) issueLivestreamToken(c *gin.Context) {
	var req issueLivestreamTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	ttl := auth.MinTokenTTL(req.MaxStreamingSeconds)
	token, err := s.deps.Issuer.IssueLivestreamToken("dj-"+newOpaqueID(), req.MaxStreamingSeconds, req.ShowName, req.MinRecordingDuration, ttl)
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindInternal, "failed to sign token", err))
		return
	}
	writeOK(c, gin.H{"token": token, "expires_in": int(ttl.Seconds())})
}

func queueNameFromQuery(c *gin.Context) (model.QueueName, error) {
	switch c.Query("playlist") {
	case "user":
		return model.QueueUser, nil
	case "fallback":
		return model.QueueFallback, nil
	default:
		return "", apperr.BadInput("playlist must be 'user' or 'fallback'")
	}
}

func (s *server) adminAddSong(c *gin.Context) {
	queueName, err := queueNameFromQuery(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(apperr.BadInput("file is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindBadInput, "could not read uploaded file", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindBadInput, "could not read uploaded file", err))
		return
	}

	dest, werr := s.writeAdminUpload(fileHeader.Filename, data)
	if werr != nil {
		_ = c.Error(apperr.Wrap(apperr.KindInternal, "failed to persist upload", werr))
		return
	}

	req := adminAddSongRequest{Title: c.PostForm("title"), Artist: c.PostForm("artist"), Genre: c.PostForm("genre")}
	title, artist, genre := s.resolveAdminMetadata(c, data, req)
	if title == "" || artist == "" || genre == "" {
		bestTitle, bestArtist, bestGenre := bestEffortTagsFromBytes(dest)
		if title == "" {
			title = bestTitle
		}
		if artist == "" {
			artist = bestArtist
		}
		if genre == "" {
			genre = bestGenre
		}
	}

	song, err := s.deps.Queue.AddAdminSong(c.Request.Context(), queueName, dest, title, artist, genre)
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeOK(c, song)
}

func (s *server) adminListQueue(c *gin.Context) {
	queueName, err := queueNameFromQuery(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	songs, err := s.deps.Queue.List(c.Request.Context(), queueName, 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeOK(c, songs)
}

func (s *server) adminDeleteSong(c *gin.Context) {
	queueName, err := queueNameFromQuery(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := s.deps.Queue.AdminDeleteSong(c.Request.Context(), queueName, c.Param("song_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(204)
}

func (s *server) adminClearQueue(c *gin.Context) {
	queueName, err := queueNameFromQuery(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := s.deps.Queue.Clear(c.Request.Context(), queueName); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(204)
}

func (s *server) adminPlayback(c *gin.Context) {
	queueName, err := queueNameFromQuery(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ctx := c.Request.Context()
	switch c.Param("action") {
	case "play":
		err = s.deps.Queue.Play(ctx, queueName)
	case "pause":
		err = s.deps.Queue.Pause(ctx, queueName)
	case "resume":
		err = s.deps.Queue.Resume(ctx, queueName)
	default:
		_ = c.Error(apperr.BadInput("action must be one of play, pause, resume"))
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(204)
}

func (s *server) adminDeleteRecording(c *gin.Context) {
	id := c.Param("id")
	filePath, err := s.deps.Catalog.DeleteRecording(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	_ = removeFileBestEffort(filePath)
	c.Status(204)
}

func (s *server) subscribeWebhook(c *gin.Context) {
	var req subscribeWebhookRequest
	if !bindJSON(c, &req) {
		return
	}

	events := make([]model.EventType, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, model.EventType(e))
	}

	sub, err := s.deps.Catalog.Subscribe(c.Request.Context(), req.URL, events, req.SigningKey, req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}
	sub.SigningKey = ""
	writeOK(c, sub)
}

func (s *server) listWebhooks(c *gin.Context) {
	subs, err := s.deps.Catalog.ListWebhooks(c.Request.Context())
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "catalog unavailable", err))
		return
	}
	for i := range subs {
		subs[i].SigningKey = ""
	}
	writeOK(c, subs)
}

func (s *server) deleteWebhook(c *gin.Context) {
	if err := s.deps.Catalog.DeleteWebhook(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(204)
}

func (s *server) webhookDeliveries(c *gin.Context) {
	deliveries, err := s.deps.Catalog.ListDeliveries(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "catalog unavailable", err))
		return
	}
	writeOK(c, deliveries)
}

func (s *server) webhookStats(c *gin.Context) {
	deliveries, err := s.deps.Catalog.ListDeliveries(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "catalog unavailable", err))
		return
	}

	var succeeded, failed int
	var lastAttempt time.Time
	for _, d := range deliveries {
		if d.Status == model.DeliverySuccess {
			succeeded++
		} else {
			failed++
		}
		if d.Timestamp.After(lastAttempt) {
			lastAttempt = d.Timestamp
		}
	}
	writeOK(c, gin.H{
		"total_attempts": len(deliveries),
		"succeeded":      succeeded,
		"failed":         failed,
		"last_attempt":   lastAttempt,
	})
}

func (s *server) testWebhook(c *gin.Context) {
	delivery, err := s.deps.Webhooks.Test(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeOK(c, delivery)
}

// liveStatusSSE streams the derived now-playing snapshot to an admin
// dashboard every second until the client disconnects, using
// gin-contrib/sse the way gin's own streaming examples do.
func (s *server) liveStatusSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			np, err := s.deps.Observer.NowPlaying(ctx)
			if err != nil {
				continue
			}
			c.SSEvent("now_playing", np)
			c.Writer.Flush()
		}
	}
}

