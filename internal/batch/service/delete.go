package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/batch/repository"
	billingvolumerepo "github.com/railzwaylabs/waterbilling/internal/billingvolume/repository"
	cvyrepo "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/repository"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	invoicerepo "github.com/railzwaylabs/waterbilling/internal/invoice/repository"
	transactionrepo "github.com/railzwaylabs/waterbilling/internal/transaction/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeleteBatch removes the remote bill run and then every local row owned by
// the batch. Licences that lose charges are flagged for supplementary
// billing. If anything fails the batch is kept and set to error.
func (s *Service) DeleteBatch(ctx context.Context, batch batchdomain.Batch, user actor.User) error {
	return s.locker.WithLock(ctx, batch.ID, func(ctx context.Context) error {
		b, err := s.GetBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		if !b.CanDelete() {
			return ierr.BatchStatus(batchdomain.MessageSentBatchNotDeletable)
		}

		if err := s.deleteBatch(ctx, *b); err != nil {
			s.log.Error("batch delete failed", zap.String("batch_id", b.ID.String()), zap.Error(err))
			s.audit(ctx, user, auditdomain.ActionBatchCancel, *b, auditdomain.StatusError, map[string]any{"error": err.Error()})
			if _, setErr := s.repo.CompareAndSetStatus(ctx, b.ID, s.nonSentStatuses(), batchdomain.BatchStatusError, nil); setErr != nil {
				s.log.Error("failed to set batch error status", zap.String("batch_id", b.ID.String()), zap.Error(setErr))
			}
			return err
		}

		s.audit(ctx, user, auditdomain.ActionBatchCancel, *b, auditdomain.StatusSuccess, nil)
		s.log.Info("batch deleted", zap.String("batch_id", b.ID.String()))
		return nil
	})
}

func (s *Service) deleteBatch(ctx context.Context, b batchdomain.Batch) error {
	if b.HasExternalBillRun() {
		if err := s.chargeModule.DeleteBillRun(ctx, *b.ExternalID); err != nil {
			return err
		}
	}

	licences, err := invoicerepo.NewRepository(s.db).FindLicencesByBatchID(ctx, b.ID)
	if err != nil {
		return err
	}
	licenceIDs := lo.Uniq(lo.Map(licences, func(il invoicedomain.InvoiceLicence, _ int) snowflake.ID { return il.LicenceID }))

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoices := invoicerepo.NewRepository(tx)
		if err := invoices.ResetFlaggedForRebillingByBatchID(ctx, b.ID); err != nil {
			return err
		}
		if err := cvyrepo.NewRepository(tx).DeleteByBatchID(ctx, b.ID); err != nil {
			return err
		}
		if err := billingvolumerepo.NewRepository(tx).DeleteByBatchID(ctx, b.ID); err != nil {
			return err
		}
		if err := transactionrepo.NewRepository(tx).DeleteByBatchID(ctx, b.ID); err != nil {
			return err
		}
		if err := invoices.DeleteLicencesByBatchID(ctx, b.ID); err != nil {
			return err
		}
		if err := invoices.DeleteByBatchID(ctx, b.ID); err != nil {
			return err
		}
		return repository.NewRepository(tx).Delete(ctx, b.ID)
	})
	if err != nil {
		return err
	}

	return s.licences.FlagForSupplementaryBilling(ctx, licenceIDs...)
}
