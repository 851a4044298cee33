package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type ReadinessState string

const (
	ReadinessStateReady    ReadinessState = "ready"
	ReadinessStateNotReady ReadinessState = "not_ready"
)

type ReadinessCheck struct {
	ID       string            `json:"id"`
	Status   ReadinessState    `json:"status"`
	Error    string            `json:"error,omitempty"`
	Evidence map[string]string `json:"evidence,omitempty"`
}

type ReadinessResponse struct {
	SystemState ReadinessState   `json:"system_state"`
	Checks      []ReadinessCheck `json:"checks"`
}

const readinessTimeout = 2 * time.Second

// Liveness handles GET /healthz
func (s *Server) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /readyz. The database and redis must answer; queue
// depth is reported as evidence only.
func (s *Server) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := []ReadinessCheck{
		s.check("database", func() (map[string]string, error) {
			sqlDB, err := s.db.DB()
			if err != nil {
				return nil, err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return nil, err
			}
			stats := sqlDB.Stats()
			return map[string]string{"open_connections": strconv.Itoa(stats.OpenConnections)}, nil
		}),
		s.check("redis", func() (map[string]string, error) {
			return nil, s.redis.Ping(ctx).Err()
		}),
		s.check("job_queue", func() (map[string]string, error) {
			depth, err := s.queue.Depth(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"pending": strconv.FormatInt(depth, 10)}, nil
		}),
	}

	resp := ReadinessResponse{SystemState: ReadinessStateReady, Checks: checks}
	for _, check := range checks {
		if check.Status != ReadinessStateReady {
			resp.SystemState = ReadinessStateNotReady
		}
	}
	status := http.StatusOK
	if resp.SystemState != ReadinessStateReady {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) check(id string, fn func() (map[string]string, error)) ReadinessCheck {
	evidence, err := fn()
	if err != nil {
		return ReadinessCheck{ID: id, Status: ReadinessStateNotReady, Error: err.Error()}
	}
	return ReadinessCheck{ID: id, Status: ReadinessStateReady, Evidence: evidence}
}
