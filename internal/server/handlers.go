package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avauthn/internal/auth"
	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// verify answers a proxy subrequest: 200 with identity headers, or the
// generic 401.
func (s *Server) verify(c *gin.Context) {
	client := c.ClientIP()
	now := s.now()

	if s.throttle.Blocked(client, now) {
		s.metrics.RecordThrottled()
		retry := int(math.Ceil(s.throttle.RetryAfter(client, now).Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	res := s.Authenticator().Authenticate(c.Request)
	if !res.Authenticated() {
		if countsAsAttempt(res.Kind()) {
			s.throttle.Fail(client, now)
		}
		s.logger.WithContext(c.Request.Context()).Info("verification rejected",
			observability.String("clientIP", client),
			observability.String("kind", res.Kind().String()),
		)
		auth.WriteUnauthenticated(c.Writer)
		c.Abort()
		return
	}

	id := res.Identity()
	c.Header(auth.HeaderAuthSubject, id.Subject)
	c.Header(auth.HeaderAuthMethod, string(res.Method()))
	if res.Method() == auth.AuthTypeAPIKey && id.KeyID != "" {
		c.Header(auth.HeaderAuthKeyID, id.KeyID)
	}
	c.Status(http.StatusOK)
}

// countsAsAttempt reports whether a failure spends a throttle token.
// Missing credentials and store outages do not.
func countsAsAttempt(k auth.Kind) bool {
	switch k {
	case auth.KindNoCredential, auth.KindStoreUnavailable:
		return false
	default:
		return true
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if !s.Authenticator().Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
