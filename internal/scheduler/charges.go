package scheduler

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	invoicerepo "github.com/railzwaylabs/waterbilling/internal/invoice/repository"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	transactionrepo "github.com/railzwaylabs/waterbilling/internal/transaction/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const chargePeriodLayout = "02-Jan-2006"

// CreateChargesJob pushes every candidate transaction to the remote bill run
// and asks for the run to be generated. Transactions already charged are
// left alone, so a rerun picks up where a failed one stopped.
func (s *Scheduler) CreateChargesJob(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error) {
	summary, err := s.batches.GetSummary(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	if summary.Status != batchdomain.BatchStatusProcessing {
		s.skip(job, summary.Status)
		return nil, nil
	}
	if summary.ExternalID == nil || *summary.ExternalID == "" {
		return nil, ierr.BatchStatus(batchdomain.MessageNoExternalBillRun)
	}
	billRunID := *summary.ExternalID

	if summary.Type == batchdomain.BatchTypeTwoPartTariff {
		if _, err := s.transactions.ApplyApprovedVolumes(ctx, job.BatchID); err != nil {
			return nil, err
		}
	}

	tree, err := invoicerepo.NewRepository(s.db).LoadTree(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	created := 0
	for _, inv := range tree {
		for _, il := range inv.InvoiceLicences {
			for _, t := range il.Transactions {
				if t.Status != transactiondomain.TransactionStatusCandidate {
					continue
				}
				reply, err := s.chargeModule.CreateTransaction(ctx, billRunID, chargeRequest(summary, inv, il, t))
				if err != nil {
					return nil, err
				}
				if err := s.transactions.UpdateWithExternalResponse(ctx, t.ID, reply); err != nil {
					return nil, err
				}
				created++
			}
		}
	}

	remaining, err := transactionrepo.NewRepository(s.db).CountByBatchID(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		if _, err := s.batches.SetStatus(ctx, job.BatchID, batchdomain.BatchStatusEmpty); err != nil {
			return nil, err
		}
		s.log.Info("batch has no charges", zap.String("batch_id", job.BatchID.String()))
		return nil, nil
	}

	if err := s.chargeModule.GenerateBillRun(ctx, billRunID); err != nil {
		return nil, err
	}
	s.log.Info("charges created",
		zap.String("batch_id", job.BatchID.String()),
		zap.Int("created", created),
		zap.Int64("transactions", remaining),
	)
	return []jobqueue.Job{jobqueue.NewJob(jobqueue.JobRefreshTotals, job.BatchID)}, nil
}

func chargeRequest(b *batchdomain.Summary, inv invoicedomain.Invoice, il invoicedomain.InvoiceLicence, t transactiondomain.Transaction) chargemodule.TransactionRequest {
	return chargemodule.TransactionRequest{
		ClientID:          t.ID.String(),
		Region:            b.Region.ChargeRegionID,
		CustomerReference: inv.InvoiceAccountNumber,
		LicenceNumber:     il.LicenceRef,
		ChargePeriod: fmt.Sprintf("%s - %s",
			t.StartDate.Format(chargePeriodLayout),
			t.EndDate.Format(chargePeriodLayout),
		),
		PeriodStart:     t.StartDate,
		PeriodEnd:       t.EndDate,
		AuthorisedDays:  t.AuthorisedDays,
		BillableDays:    t.BillableDays,
		Volume:          t.Volume.String(),
		Credit:          t.IsCredit,
		Ruleset:         b.Scheme.Ruleset(),
		TwoPartTariff:   t.IsTwoPartSecondPartCharge,
		LineDescription: t.Description,
	}
}

// RefreshTotalsJob copies remote totals once the bill run has been generated.
// Until then the job is rescheduled.
func (s *Scheduler) RefreshTotalsJob(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error) {
	b, err := s.batches.GetBatch(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	if b.Status != batchdomain.BatchStatusProcessing && b.Status != batchdomain.BatchStatusReady {
		s.skip(job, b.Status)
		return nil, nil
	}
	if !b.HasExternalBillRun() {
		return nil, ierr.BatchStatus(batchdomain.MessageNoExternalBillRun)
	}

	remote, err := s.chargeModule.GetBillRun(ctx, *b.ExternalID)
	if err != nil {
		return nil, err
	}
	// An approved run is still being sent; wait for billed.
	if !remote.IsGenerated() || (b.Status == batchdomain.BatchStatusReady && remote.AwaitingSend()) {
		return nil, &RetryError{After: s.cfg.Queue.RefreshBackoff, Reason: "bill run " + remote.Status}
	}

	if err := s.applyRemoteInvoices(ctx, b.ID, remote); err != nil {
		return nil, err
	}
	if _, err := s.batches.UpdateWithExternalSummary(ctx, b.ID, batchdomain.ExternalSummary{
		Status:          remote.Status,
		InvoiceCount:    remote.InvoiceCount,
		CreditNoteCount: remote.CreditNoteCount,
		InvoiceValue:    remote.InvoiceValue,
		CreditNoteValue: remote.CreditNoteValue,
		NetTotal:        remote.NetTotal,
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

type invoiceKey struct {
	accountNumber       string
	financialYearEnding int
}

// applyRemoteInvoices records remote invoice ids and totals on the local
// invoices and flags the transactions of de minimis invoices.
func (s *Scheduler) applyRemoteInvoices(ctx context.Context, batchID snowflake.ID, remote *chargemodule.BillRunSummary) error {
	tree, err := invoicerepo.NewRepository(s.db).LoadTree(ctx, batchID)
	if err != nil {
		return err
	}
	local := lo.KeyBy(tree, func(inv invoicedomain.Invoice) invoiceKey {
		return invoiceKey{inv.InvoiceAccountNumber, inv.FinancialYearEnding}
	})
	deMinimis := lo.SliceToMap(
		lo.FlatMap(lo.Filter(remote.Invoices, func(ri chargemodule.RemoteInvoice, _ int) bool {
			return ri.DeminimisInvoice
		}), func(ri chargemodule.RemoteInvoice, _ int) []chargemodule.RemoteTransaction {
			return lo.FlatMap(ri.Licences, func(rl chargemodule.RemoteLicence, _ int) []chargemodule.RemoteTransaction {
				return rl.Transactions
			})
		}),
		func(rt chargemodule.RemoteTransaction) (string, bool) { return rt.ID, true },
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := invoicerepo.NewRepository(tx)
		for _, ri := range remote.Invoices {
			inv, ok := local[invoiceKey{ri.CustomerReference, ri.FinancialYear}]
			if !ok {
				s.log.Warn("remote invoice has no local match",
					zap.String("batch_id", batchID.String()),
					zap.String("remote_invoice_id", ri.ID),
				)
				continue
			}
			if err := repo.Update(ctx, inv.ID, map[string]any{
				"external_id":   ri.ID,
				"net_amount":    ri.NetTotal,
				"is_credit":     ri.NetTotal < 0,
				"is_de_minimis": ri.DeminimisInvoice,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range tree {
		for j := range tree[i].InvoiceLicences {
			txns := tree[i].InvoiceLicences[j].Transactions
			for k := range txns {
				txns[k].IsDeMinimis = txns[k].ExternalID != nil && deMinimis[*txns[k].ExternalID]
			}
		}
	}
	return s.transactions.PersistDeMinimis(ctx, invoicedomain.Leaves(tree))
}
