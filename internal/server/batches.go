package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"go.uber.org/zap"
)

// CreateBatch handles POST /api/v1/batches
func (s *Server) CreateBatch(c *gin.Context) {
	ctx := c.Request.Context()
	key := idempotencyKeyFromHeader(c)
	if id, ok, err := s.rememberedBatch(ctx, key); err != nil {
		AbortWithError(c, err)
		return
	} else if ok {
		summary, err := s.batches.GetSummary(ctx, id)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		respondData(c, summary)
		return
	}

	var req batchdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ierr.Validation("invalid batch request: %v", err))
		return
	}

	b, jobs, err := s.batches.Create(ctx, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.enqueue(c, jobs); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.rememberBatch(ctx, key, b.ID); err != nil {
		s.log.Warn("remember idempotency key failed", zap.String("batch_id", b.ID.String()), zap.Error(err))
	}

	summary, err := s.batches.GetSummary(ctx, b.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, summary)
}

// ListBatches handles GET /api/v1/batches
func (s *Server) ListBatches(c *gin.Context) {
	var filter batchdomain.ListFilter
	if raw := strings.TrimSpace(c.Query("region_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.RegionID = &id
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, batchdomain.BatchStatus(strings.TrimSpace(st)))
		}
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.Limit = limit
	}

	summaries, err := s.batches.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, summaries, len(summaries))
}

// GetBatch handles GET /api/v1/batches/:batch_id
func (s *Server) GetBatch(c *gin.Context) {
	id, ok := idParam(c, "batch_id")
	if !ok {
		return
	}
	summary, err := s.batches.GetSummary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, summary)
}

// DeleteBatch handles DELETE /api/v1/batches/:batch_id
func (s *Server) DeleteBatch(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	if err := s.batches.DeleteBatch(c.Request.Context(), *b, currentUser(c)); err != nil {
		s.abortWithIntents(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ApproveBatch handles POST /api/v1/batches/:batch_id/approve. Approval talks
// to the Charge Module, so it is queued and the batch is returned as it stands.
func (s *Server) ApproveBatch(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	if b.Status != batchdomain.BatchStatusReady {
		AbortWithError(c, ierr.BatchStatus(batchdomain.MessageBatchNotReady))
		return
	}

	job, err := jobqueue.NewJob(jobqueue.JobApproveBatch, b.ID).
		WithPayload(jobqueue.ApprovePayload{User: currentUser(c)})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.enqueue(c, []jobqueue.Job{job}); err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.batches.GetSummary(c.Request.Context(), b.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondAccepted(c, summary)
}

// ApproveReview handles POST /api/v1/batches/:batch_id/review/approve
func (s *Server) ApproveReview(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	updated, jobs, err := s.batches.ApproveTptBatchReview(c.Request.Context(), *b, currentUser(c))
	if err != nil {
		s.abortWithIntents(c, err)
		return
	}
	if err := s.enqueue(c, jobs); err != nil {
		AbortWithError(c, err)
		return
	}
	summary, err := s.batches.GetSummary(c.Request.Context(), updated.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, summary)
}

func (s *Server) loadBatch(c *gin.Context) (*batchdomain.Batch, bool) {
	id, ok := idParam(c, "batch_id")
	if !ok {
		return nil, false
	}
	b, err := s.batches.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return b, true
}
