package scheduler

import (
	"context"

	"github.com/railzwaylabs/waterbilling/internal/actor"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"go.uber.org/zap"
)

// CreateBillRunJob opens the remote bill run for a new batch, then queues population.
func (s *Scheduler) CreateBillRunJob(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error) {
	b, err := s.batches.GetBatch(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	if b.Status != batchdomain.BatchStatusProcessing {
		s.skip(job, b.Status)
		return nil, nil
	}
	if _, err := s.batches.RequestExternalBillRunCreation(ctx, b.ID); err != nil {
		return nil, err
	}
	return []jobqueue.Job{jobqueue.NewJob(jobqueue.JobPopulateBatch, b.ID)}, nil
}

func (s *Scheduler) PopulateBatchJob(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error) {
	return s.population.Populate(ctx, job.BatchID)
}

// ApproveBatchJob approves and sends a ready batch on behalf of the requesting user.
func (s *Scheduler) ApproveBatchJob(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error) {
	var payload jobqueue.ApprovePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, ierr.Validation("invalid approve payload: %v", err)
	}
	user := payload.User
	if user.ID == 0 && user.Email == "" {
		user = actor.System
	}

	b, err := s.batches.GetBatch(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	return s.batches.Approve(actor.WithUser(ctx, user), *b, user)
}

// DeleteRemoteBillRunJob removes a remote bill run left behind by a failed batch.
func (s *Scheduler) DeleteRemoteBillRunJob(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error) {
	var payload jobqueue.DeleteRemotePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, ierr.Validation("invalid delete payload: %v", err)
	}
	if payload.ExternalID == "" {
		return nil, ierr.Validation("delete payload has no external id")
	}
	if err := s.chargeModule.DeleteBillRun(ctx, payload.ExternalID); err != nil {
		return nil, err
	}
	s.log.Info("remote bill run deleted",
		zap.String("batch_id", job.BatchID.String()),
		zap.String("external_id", payload.ExternalID),
	)
	return nil, nil
}

func (s *Scheduler) skip(job jobqueue.Job, status batchdomain.BatchStatus) {
	s.log.Info("batch not in a state for job, skipping",
		zap.String("job", job.Name),
		zap.String("batch_id", job.BatchID.String()),
		zap.String("status", string(status)),
	)
}
