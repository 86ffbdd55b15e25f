package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/log"
	"golang.org/x/time/rate"
)

const userKey = "user"

// baseContext carries the server logger into every request context.
func baseContext(ctx context.Context) gin.HandlerFunc {
	logger := log.FromCtx(ctx)
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.FromCtx(c.Request.Context()).Error()
		case status >= http.StatusBadRequest:
			ev = log.FromCtx(c.Request.Context()).Warn()
		default:
			ev = log.FromCtx(c.Request.Context()).Debug()
		}

		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			ev = ev.Str("error", errs.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("http request")
	}
}

// authMiddleware resolves the bearer token to a user. Websocket handshakes
// may pass the token as ?token= since browsers cannot set headers on them.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" && websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("token")
		}
		if token == "" {
			abort(c, http.StatusUnauthorized, "missing token")
			return
		}

		user, err := s.users.ResolveToken(c.Request.Context(), token)
		if errors.Is(err, core.ErrNotFound) {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}

		ctx := log.WithFields(c.Request.Context(), "user_id", user.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) core.User {
	return c.MustGet(userKey).(core.User)
}

// limiter hands out one token bucket per user.
type limiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	users map[string]*rate.Limiter
}

func newLimiter(perSecond float64, burst int) *limiter {
	if burst <= 0 {
		burst = 1
	}
	return &limiter{limit: rate.Limit(perSecond), burst: burst, users: make(map[string]*rate.Limiter)}
}

func (l *limiter) allow(userID string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(currentUser(c).ID) {
			abort(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
