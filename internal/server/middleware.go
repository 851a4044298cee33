package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	"go.uber.org/zap"
)

const (
	contextRequestIDKey = "request_id"
	contextLoggerKey    = "logger"

	headerRequestID = "X-Request-Id"
	headerUserID    = "X-User-Id"
	headerUserEmail = "X-User-Email"
)

// RequestID reuses the caller's request id or issues one, and attaches a
// request scoped logger.
func (s *Server) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Set(contextLoggerKey, s.log.With(zap.String("request_id", id)))
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString(contextRequestIDKey)),
		}
		if c.Writer.Status() >= 500 {
			s.log.Warn("request", fields...)
			return
		}
		s.log.Debug("request", fields...)
	}
}

// WithUser reads the calling internal user from the identity headers set by
// the upstream gateway. Authentication happens before requests reach us.
func (s *Server) WithUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.GetHeader(headerUserEmail))
		rawID := strings.TrimSpace(c.GetHeader(headerUserID))
		if email == "" || rawID == "" {
			c.Next()
			return
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		ctx := actor.WithUser(c.Request.Context(), actor.User{ID: id, Email: email})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser rejects state changing requests that carry no user.
func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := actor.FromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) actor.User {
	return actor.OrSystem(c.Request.Context())
}
