package api

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/queue"
)

// addUserSong handles multipart {url?, file?, song_name?, artist?}. At
// least one of url or file must be present; when url is, the file is not
// read. The Queue Controller itself enforces that and every later
// precondition.
func (s *server) addUserSong(c *gin.Context) {
	principal := principalFrom(c)

	in := queue.AddUserSongInput{
		Principal: principal,
		URL:       strings.TrimSpace(c.PostForm("url")),
		SongName:  c.PostForm("song_name"),
		Artist:    c.PostForm("artist"),
	}

	if in.URL == "" {
		fileHeader, err := c.FormFile("file")
		if err == nil {
			f, openErr := fileHeader.Open()
			if openErr != nil {
				_ = c.Error(apperr.Wrap(apperr.KindBadInput, "could not read uploaded file", openErr))
				return
			}
			defer f.Close()
			data, readErr := io.ReadAll(f)
			if readErr != nil {
				_ = c.Error(apperr.Wrap(apperr.KindBadInput, "could not read uploaded file", readErr))
				return
			}
			in.FileBytes = data
			in.FileName = fileHeader.Filename
		}
	}

	song, err := s.deps.Queue.AddUserSong(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	writeOK(c, toQueueView([]model.Song{song})[0])
}

// deleteUserSong deletes a song the caller owns. Ownership is enforced by
// the Queue Controller itself (song.OwnerPrincipalID must match), which
// also guarantees a song from the fallback queue can never be deleted
// through this endpoint since fallback songs carry no owner.
func (s *server) deleteUserSong(c *gin.Context) {
	principal := principalFrom(c)
	songID := c.Param("song_id")

	if err := s.deps.Queue.DeleteUserSong(c.Request.Context(), principal, songID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(204)
}
