package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	transactionrepo "github.com/railzwaylabs/waterbilling/internal/transaction/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RequestExternalBillRunCreation creates the remote bill run for the batch
// and stores its id and number. A batch that already has one is returned as is.
func (s *Service) RequestExternalBillRunCreation(ctx context.Context, id snowflake.ID) (*batchdomain.Batch, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.HasExternalBillRun() {
		return b, nil
	}
	region, err := s.repo.FindRegion(ctx, b.RegionID)
	if err != nil {
		return nil, err
	}
	if region == nil {
		return nil, ierr.ErrRegionNotFound.New("Region %s not found", b.RegionID)
	}

	run, err := s.chargeModule.CreateBillRun(ctx, region.ChargeRegionID, b.Scheme.Ruleset())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, map[string]any{
		"external_id":     run.ID,
		"bill_run_number": run.BillRunNumber,
	}); err != nil {
		return nil, err
	}
	s.log.Info("charge module bill run created",
		zap.String("batch_id", id.String()),
		zap.String("external_id", run.ID),
		zap.Int("bill_run_number", run.BillRunNumber),
	)
	return s.GetBatch(ctx, id)
}

// Approve approves and sends the remote bill run. The batch only becomes sent
// once the refreshed remote summary says so. On failure the batch is put back
// to ready so the operator can retry.
func (s *Service) Approve(ctx context.Context, batch batchdomain.Batch, user actor.User) ([]jobqueue.Job, error) {
	var jobs []jobqueue.Job
	err := s.locker.WithLock(ctx, batch.ID, func(ctx context.Context) error {
		b, err := s.GetBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		if b.Status != batchdomain.BatchStatusReady {
			return ierr.BatchStatus(batchdomain.MessageBatchNotReady)
		}
		if !b.HasExternalBillRun() {
			return ierr.BatchStatus(batchdomain.MessageNoExternalBillRun)
		}

		if err := s.approveRemote(ctx, *b.ExternalID); err != nil {
			s.log.Error("batch approval failed", zap.String("batch_id", b.ID.String()), zap.Error(err))
			s.audit(ctx, user, auditdomain.ActionBatchApprove, *b, auditdomain.StatusError, map[string]any{"error": err.Error()})
			if _, resetErr := s.repo.CompareAndSetStatus(ctx, b.ID, s.nonSentStatuses(), batchdomain.BatchStatusReady, nil); resetErr != nil {
				s.log.Error("failed to reset batch to ready", zap.String("batch_id", b.ID.String()), zap.Error(resetErr))
			}
			return err
		}

		s.audit(ctx, user, auditdomain.ActionBatchApprove, *b, auditdomain.StatusSuccess, nil)
		jobs = append(jobs, jobqueue.NewJob(jobqueue.JobRefreshTotals, b.ID))
		return nil
	})
	return jobs, err
}

func (s *Service) approveRemote(ctx context.Context, billRunID string) error {
	if err := s.chargeModule.ApproveBillRun(ctx, billRunID); err != nil {
		return err
	}
	return s.chargeModule.SendBillRun(ctx, billRunID)
}

// UpdateWithExternalSummary copies remote counts and totals onto the batch
// and derives its status: sent once billed remotely, empty without local
// transactions, otherwise ready.
func (s *Service) UpdateWithExternalSummary(ctx context.Context, id snowflake.ID, summary batchdomain.ExternalSummary) (*batchdomain.Batch, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := transactionrepo.NewRepository(s.db).CountByBatchID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := batchdomain.BatchStatusReady
	switch {
	case lo.Contains(batchdomain.ExternalCompletedStatuses, summary.Status):
		status = batchdomain.BatchStatusSent
	case count == 0:
		status = batchdomain.BatchStatusEmpty
	}
	if !batchdomain.IsTransitionAllowed(b.Status, status) {
		return nil, ierr.BatchStatus("Batch cannot move from " + string(b.Status) + " to " + string(status))
	}

	ok, err := s.repo.CompareAndSetStatus(ctx, id, []batchdomain.BatchStatus{b.Status}, status, map[string]any{
		"invoice_count":     summary.InvoiceCount,
		"credit_note_count": summary.CreditNoteCount,
		"invoice_value":     summary.InvoiceValue,
		"credit_note_value": summary.CreditNoteValue,
		"net_total":         summary.NetTotal,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ierr.BatchStatus("Batch " + id.String() + " changed status concurrently")
	}
	return s.GetBatch(ctx, id)
}

// SetErrorStatus records an unrecoverable failure. It is safe to call more
// than once. When charges failed after the remote bill run was created, the
// returned job removes the orphaned remote run.
func (s *Service) SetErrorStatus(ctx context.Context, id snowflake.ID, code batchdomain.ErrorCode) ([]jobqueue.Job, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == batchdomain.BatchStatusSent {
		return nil, ierr.BatchStatus("Sent batch cannot be set to error")
	}

	if err := s.billingVolumes.MarkVolumesAsErrored(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.repo.CompareAndSetStatus(ctx, id, s.nonSentStatuses(), batchdomain.BatchStatusError, map[string]any{
		"error_code": code,
	}); err != nil {
		return nil, err
	}
	s.log.Warn("batch set to error",
		zap.String("batch_id", id.String()),
		zap.Int("error_code", int(code)),
	)

	var jobs []jobqueue.Job
	if code == batchdomain.ErrorCodeFailedToCreateCharge && b.HasExternalBillRun() {
		job, err := jobqueue.NewJob(jobqueue.JobDeleteRemoteBillRun, id).WithPayload(jobqueue.DeleteRemotePayload{
			ExternalID: *b.ExternalID,
		})
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ApproveTptBatchReview closes two-part-tariff review. Every billing volume
// must be free of errors; the batch then returns to processing and the
// returned job creates its charges.
func (s *Service) ApproveTptBatchReview(ctx context.Context, batch batchdomain.Batch, user actor.User) (*batchdomain.Batch, []jobqueue.Job, error) {
	var (
		updated *batchdomain.Batch
		jobs    []jobqueue.Job
	)
	err := s.locker.WithLock(ctx, batch.ID, func(ctx context.Context) error {
		b, err := s.GetBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		if b.Status != batchdomain.BatchStatusReview {
			return ierr.BatchStatus(batchdomain.MessageBatchNotInReview)
		}
		if err := s.billingVolumes.ApproveVolumesForBatch(ctx, *b); err != nil {
			return err
		}
		ok, err := s.repo.CompareAndSetStatus(ctx, b.ID, []batchdomain.BatchStatus{batchdomain.BatchStatusReview}, batchdomain.BatchStatusProcessing, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ierr.BatchStatus(batchdomain.MessageBatchNotInReview)
		}

		s.audit(ctx, user, auditdomain.ActionBatchReviewApprove, *b, auditdomain.StatusSuccess, nil)
		updated, err = s.GetBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		jobs = append(jobs, jobqueue.NewJob(jobqueue.JobCreateCharges, b.ID))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, jobs, nil
}
