package server

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = ierr.ErrValidation.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
)

// APIErrorResponse is the body of every failed request.
type APIErrorResponse struct {
	Code          string               `json:"code"`
	Message       string               `json:"message"`
	Hints         []string             `json:"hints,omitempty"`
	ExistingBatch *batchdomain.Summary `json:"existing_batch,omitempty"`
	RequestID     string               `json:"request_id,omitempty"`
	Timestamp     string               `json:"timestamp"`
	Path          string               `json:"path"`
}

// AbortWithError maps err to a status and aborts the request. Untagged
// errors are logged and reported without their message.
func AbortWithError(c *gin.Context, err error) {
	resp := APIErrorResponse{
		RequestID: c.GetString(contextRequestIDKey),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      c.Request.URL.Path,
	}

	status := ierr.HTTPStatus(err)
	var tagged *ierr.Error
	switch {
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
		resp.Code = "unauthorized"
		resp.Message = "user headers are required"
	case ierr.As(err, &tagged):
		resp.Code = tagged.Code
		if resp.Code == "" {
			resp.Code = string(tagged.Kind)
		}
		resp.Message = tagged.Error()
	default:
		resp.Code = "internal"
		resp.Message = "internal error"
	}

	var conflict *batchdomain.CreateConflictError
	if errors.As(err, &conflict) {
		existing := batchdomain.ToSummary(conflict.Existing, nil)
		resp.ExistingBatch = &existing
	}
	resp.Hints = ierr.Hints(err)

	if status >= http.StatusInternalServerError {
		if logger, ok := c.Get(contextLoggerKey); ok {
			logger.(*zap.Logger).Error("request failed", zap.Error(err))
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

// abortWithIntents enqueues any job intents carried by err before reporting it.
func (s *Server) abortWithIntents(c *gin.Context, err error) {
	_ = s.enqueue(c, jobqueue.IntentsFrom(err))
	AbortWithError(c, err)
}
