package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

const principalContextKey = "principal"

// requirePrincipal resolves the bearer credential and rejects the request
// unless it resolves to one of allowed. Internal-prefix routes enforce
// this even though spec.md §4.I expects the reverse proxy to already
// block external reach to them — defense in depth, not the only check.
func (s *server) requirePrincipal(allowed ...model.PrincipalKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.deps.Resolver.Resolve(c.GetHeader("Authorization"))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		for _, kind := range allowed {
			if principal.Kind == kind {
				c.Set(principalContextKey, principal)
				return
			}
		}
		_ = c.Error(apperr.New(apperr.KindForbidden, "endpoint not allowed for this principal"))
		c.Abort()
	}
}

func principalFrom(c *gin.Context) model.Principal {
	v, _ := c.Get(principalContextKey)
	p, _ := v.(model.Principal)
	return p
}

// errorMapper runs after every handler and turns the last recorded gin
// error into the HTTP response, per spec.md §7's kind→status table. A
// handler that has already written a response (success path) never
// reaches here with a recorded error.
func errorMapper() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		kind := apperr.KindOf(err)
		message := err.Error()
		if appErr, ok := err.(*apperr.Error); ok {
			message = appErr.Message
		}
		c.JSON(kind.HTTPStatus(), gin.H{"error": message})
	}
}

// bindJSON binds and validates a JSON body, recording a bad_input error on
// failure. Returns false if the caller should stop handling the request.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		_ = c.Error(apperr.Wrap(apperr.KindBadInput, "invalid request body", err))
		c.Abort()
		return false
	}
	return true
}

func writeOK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
