// Package api implements the Control API: the external HTTP contract in
// front of the Queue Controller, Livestream Arbiter, Catalog Store, and
// Webhook Dispatcher. Handlers only parse/validate requests, resolve the
// calling principal, delegate to a collaborator, and map the result back
// to an HTTP response — no business logic lives here.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-relay/internal/arbiter"
	"github.com/arung-agamani/denpa-relay/internal/auth"
	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/observer"
	"github.com/arung-agamani/denpa-relay/internal/queue"
	"github.com/arung-agamani/denpa-relay/internal/webhook"
)

// Dependencies bundles every collaborator the Control API's handlers
// delegate to.
type Dependencies struct {
	Queue    *queue.Controller
	Arbiter  *arbiter.Arbiter
	Catalog  *catalog.Store
	Observer *observer.Observer
	Webhooks *webhook.Dispatcher
	Resolver *auth.Resolver
	Issuer   *auth.Issuer

	AdminUploadDir string
}

// server carries the Dependencies every handler shares.
type server struct {
	deps Dependencies
}

// NewRouter builds the full gin.Engine: public, user, admin, and internal
// route groups, each behind the principal-resolution middleware their
// authorization rule calls for.
func NewRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), requestLogger(), errorMapper())

	s := &server{deps: deps}

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/queue/list", s.listQueue)
		api.GET("/recordings/list", s.listRecordings)
		api.GET("/recordings/stream/:id", s.streamRecording)
		api.GET("/metadata/now", s.nowPlaying)

		user := api.Group("/")
		user.Use(s.requirePrincipal(model.PrincipalUser))
		{
			user.POST("/queue/add", s.addUserSong)
			user.DELETE("/queue/:song_id", s.deleteUserSong)
		}

		admin := api.Group("/admin")
		admin.Use(s.requirePrincipal(model.PrincipalAdmin))
		{
			admin.POST("/token", s.issueUserToken)
			admin.POST("/livestream/token", s.issueLivestreamToken)
			admin.POST("/queue/add", s.adminAddSong)
			admin.GET("/queue/list", s.adminListQueue)
			admin.DELETE("/queue/:song_id", s.adminDeleteSong)
			admin.POST("/queue/clear", s.adminClearQueue)
			admin.POST("/playback/:action", s.adminPlayback)
			admin.DELETE("/recordings/:id", s.adminDeleteRecording)
			admin.POST("/webhooks/subscribe", s.subscribeWebhook)
			admin.GET("/webhooks/list", s.listWebhooks)
			admin.DELETE("/webhooks/:id", s.deleteWebhook)
			admin.GET("/webhooks/:id/deliveries", s.webhookDeliveries)
			admin.GET("/webhooks/:id/stats", s.webhookStats)
			admin.POST("/webhooks/:id/test", s.testWebhook)
			admin.GET("/live-status", s.liveStatusSSE)
		}

		internalGroup := api.Group("/internal")
		internalGroup.Use(s.requirePrincipal(model.PrincipalInternal))
		{
			internalGroup.POST("/livestream/auth", s.livestreamAuth)
			internalGroup.POST("/livestream/connect", s.livestreamConnect)
			internalGroup.POST("/livestream/disconnect", s.livestreamDisconnect)
			internalGroup.POST("/livestream/metadata", s.livestreamMetadata)
		}
	}

	return r
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// securityHeaders applies the same hardening set the control plane's
// predecessor wrapped every response in.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; media-src 'self'; connect-src 'self'; font-src 'self'")
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("api: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
