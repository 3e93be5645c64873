package api

import (
	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/arbiter"
)

// livestreamAuth is the mixer's source-auth callback. The livestream
// bearer token travels in the password field (there is no separate
// account password in this system). A rejected or already-claimed slot is
// an ordinary negative outcome, not an HTTP error.
func (s *server) livestreamAuth(c *gin.Context) {
	var req livestreamAuthRequest
	if !bindJSON(c, &req) {
		return
	}

	slot, accepted, err := s.deps.Arbiter.Auth(c.Request.Context(), req.Password)
	if err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err))
		return
	}
	if !accepted {
		writeOK(c, gin.H{"accept": false, "reason": "invalid token or slot occupied"})
		return
	}
	writeOK(c, gin.H{"accept": true, "session_id": slot.SessionID})
}

func (s *server) livestreamConnect(c *gin.Context) {
	var req livestreamConnectRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.deps.Arbiter.Connect(c.Request.Context(), req.SessionID); err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err))
		return
	}
	c.Status(204)
}

func (s *server) livestreamDisconnect(c *gin.Context) {
	var req livestreamDisconnectRequest
	if !bindJSON(c, &req) {
		return
	}
	reason := arbiter.DisconnectReason(req.Reason)
	if err := s.deps.Arbiter.Disconnect(c.Request.Context(), req.SessionID, reason); err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err))
		return
	}
	c.Status(204)
}

// livestreamMetadata records display metadata for the current broadcast,
// read back by the Source Observer's NowPlaying projection while the slot
// remains occupied.
func (s *server) livestreamMetadata(c *gin.Context) {
	var req livestreamMetadataRequest
	if !bindJSON(c, &req) {
		return
	}
	metadata := map[string]any{
		"title":       nullable(req.Title),
		"artist":      nullable(req.Artist),
		"genre":       nullable(req.Genre),
		"description": nullable(req.Description),
	}
	if err := s.deps.Arbiter.SetLiveMetadata(c.Request.Context(), metadata); err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err))
		return
	}
	c.Status(204)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
