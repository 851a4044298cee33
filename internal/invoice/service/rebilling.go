package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	billingvolumerepo "github.com/railzwaylabs/waterbilling/internal/billingvolume/repository"
	cvyrepo "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/repository"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	"github.com/railzwaylabs/waterbilling/internal/invoice/repository"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	transactionrepo "github.com/railzwaylabs/waterbilling/internal/transaction/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) DeleteBatchInvoice(ctx context.Context, batch batchdomain.Batch, invoiceID snowflake.ID, rebilling *invoicedomain.RebillingContext, user actor.User) ([]jobqueue.Job, error) {
	var jobs []jobqueue.Job
	err := s.locker.WithLock(ctx, batch.ID, func(ctx context.Context) error {
		b, err := s.batches.GetBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		if b.Status != batchdomain.BatchStatusReady {
			return ierr.BatchStatus(invoicedomain.MessageBatchNotReady)
		}

		plan, err := s.planDeletion(ctx, *b, invoiceID, rebilling)
		if err != nil {
			return err
		}

		if err := s.applyDeletion(ctx, *b, plan); err != nil {
			s.log.Error("invoice delete failed",
				zap.String("batch_id", b.ID.String()),
				zap.String("invoice_id", invoiceID.String()),
				zap.Error(err),
			)
			s.audit(ctx, user, invoiceID, auditdomain.StatusError, map[string]any{
				"batch_id": b.ID.String(),
				"error":    err.Error(),
			})
			intents, setErr := s.batches.SetErrorStatus(ctx, b.ID, batchdomain.ErrorCodeFailedToDeleteInvoice)
			if setErr != nil {
				s.log.Error("failed to set batch error status", zap.String("batch_id", b.ID.String()), zap.Error(setErr))
			}
			return jobqueue.WithIntents(err, intents)
		}

		s.audit(ctx, user, invoiceID, auditdomain.StatusSuccess, map[string]any{
			"batch_id":    b.ID.String(),
			"deleted_ids": lo.Map(plan.DeletedIDs(), func(id snowflake.ID, _ int) string { return id.String() }),
		})
		s.log.Info("invoice deleted",
			zap.String("batch_id", b.ID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.Int("cascaded", len(plan.Delete)),
		)
		jobs = append(jobs, jobqueue.NewJob(jobqueue.JobRefreshTotals, b.ID))
		return nil
	})
	return jobs, err
}

// planDeletion loads every invoice the deletion touches and decides the
// changes before any write happens.
func (s *Service) planDeletion(ctx context.Context, b batchdomain.Batch, invoiceID snowflake.ID, rebilling *invoicedomain.RebillingContext) (invoicedomain.DeletionPlan, error) {
	target, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return invoicedomain.DeletionPlan{}, err
	}
	if target == nil || target.BatchID != b.ID {
		return invoicedomain.DeletionPlan{}, ierr.ErrInvoiceNotFound.New("Invoice %s not found in batch %s", invoiceID, b.ID)
	}

	var original, rebill *invoicedomain.Invoice
	if rebilling != nil {
		if original, err = s.repo.FindByID(ctx, rebilling.OriginalInvoiceID); err != nil {
			return invoicedomain.DeletionPlan{}, err
		}
		if original == nil {
			return invoicedomain.DeletionPlan{}, ierr.ErrOriginalInvoiceNotFound.New("Original invoice %s not found", rebilling.OriginalInvoiceID)
		}
		if rebill, err = s.repo.FindByID(ctx, rebilling.RebillInvoiceID); err != nil {
			return invoicedomain.DeletionPlan{}, err
		}
		if rebill == nil {
			return invoicedomain.DeletionPlan{}, ierr.ErrRebillInvoiceNotFound.New("Rebill invoice %s not found", rebilling.RebillInvoiceID)
		}
	}

	chain, err := invoicedomain.BuildChain(ctx, *target, s.repo.FindByID)
	if err != nil {
		return invoicedomain.DeletionPlan{}, err
	}
	return invoicedomain.PlanDeletion(chain, original, rebill), nil
}

// applyDeletion removes the planned invoices from the Charge Module first and
// then locally in one transaction. Affected licences are flagged afterwards.
func (s *Service) applyDeletion(ctx context.Context, b batchdomain.Batch, plan invoicedomain.DeletionPlan) error {
	if b.HasExternalBillRun() {
		for _, inv := range plan.Delete {
			if !inv.HasExternalID() {
				continue
			}
			if err := s.chargeModule.DeleteInvoiceFromBillRun(ctx, *b.ExternalID, *inv.ExternalID); err != nil {
				return err
			}
		}
	}

	var licenceIDs []snowflake.ID
	deleted := plan.DeletedIDs()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoices := repository.NewRepository(tx)
		transactions := transactionrepo.NewRepository(tx)

		for _, inv := range plan.Delete {
			licences, err := invoices.FindLicencesByInvoiceID(ctx, inv.ID)
			if err != nil {
				return err
			}
			ids := lo.Map(licences, func(il invoicedomain.InvoiceLicence, _ int) snowflake.ID { return il.LicenceID })
			licenceIDs = append(licenceIDs, ids...)

			chargeElementIDs, err := transactions.ChargeElementIDsByInvoiceID(ctx, inv.ID)
			if err != nil {
				return err
			}
			if err := cvyrepo.NewRepository(tx).DeleteByBatchIDAndLicenceIDs(ctx, b.ID, ids, inv.FinancialYearEnding); err != nil {
				return err
			}
			if err := billingvolumerepo.NewRepository(tx).DeleteByChargeElementIDs(ctx, b.ID, chargeElementIDs, inv.FinancialYearEnding); err != nil {
				return err
			}
			if err := transactions.DeleteByInvoiceID(ctx, inv.ID); err != nil {
				return err
			}
			if err := invoices.DeleteLicencesByInvoiceID(ctx, inv.ID); err != nil {
				return err
			}
			if err := invoices.Delete(ctx, inv.ID); err != nil {
				return err
			}
		}

		dependants, err := invoices.FindByOriginalInvoiceIDs(ctx, deleted)
		if err != nil {
			return err
		}
		for _, dep := range dependants {
			if err := invoices.Update(ctx, dep.ID, map[string]any{
				"original_invoice_id": plan.Relink[*dep.OriginalInvoiceID],
			}); err != nil {
				return err
			}
		}

		for _, id := range plan.Clear {
			if err := invoices.Update(ctx, id, map[string]any{
				"is_flagged_for_rebilling": false,
				"original_invoice_id":      nil,
				"rebilling_state":          nil,
			}); err != nil {
				return err
			}
		}
		for _, id := range plan.MarkRebill {
			if err := invoices.Update(ctx, id, map[string]any{
				"is_flagged_for_rebilling": false,
				"rebilling_state":          invoicedomain.RebillingStateRebill,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.licences.FlagForSupplementaryBilling(ctx, lo.Uniq(licenceIDs)...)
}

func (s *Service) audit(ctx context.Context, user actor.User, invoiceID snowflake.ID, status string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType, actorID := auditdomain.ActorFor(user)
	targetID := invoiceID.String()
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, auditdomain.ActionInvoiceDelete, "billing_invoice", &targetID, status, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("invoice_id", targetID), zap.Error(err))
	}
}
