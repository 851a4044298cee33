package population

import (
	"context"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	billingvolumerepo "github.com/railzwaylabs/waterbilling/internal/billingvolume/repository"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	cvyrepo "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/repository"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	invoicerepo "github.com/railzwaylabs/waterbilling/internal/invoice/repository"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	transactionrepo "github.com/railzwaylabs/waterbilling/internal/transaction/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Batches   batchdomain.Service
	Processor Processor
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	batches   batchdomain.Service
	processor Processor
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("population.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		batches:   p.Batches,
		processor: p.Processor,
	}
}

// Populate writes the batch's charge lines and moves it to its next step. A
// batch that already holds charge version years is not processed again.
func (s *Service) Populate(ctx context.Context, batchID snowflake.ID) ([]jobqueue.Job, error) {
	summary, err := s.batches.GetSummary(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if summary.Status != batchdomain.BatchStatusProcessing {
		s.log.Info("batch no longer processing, skipping population",
			zap.String("batch_id", batchID.String()),
			zap.String("status", string(summary.Status)),
		)
		return nil, nil
	}

	existing, err := cvyrepo.NewRepository(s.db).FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		result, err := s.processor.Process(ctx, Request{
			BatchID:                 batchID,
			Region:                  summary.Region.ChargeRegionID,
			Type:                    summary.Type,
			Scheme:                  summary.Scheme,
			FromFinancialYearEnding: summary.FinancialYears.From,
			ToFinancialYearEnding:   summary.FinancialYears.To,
			IsSummer:                summary.IsSummer,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store(ctx, batchID, result); err != nil {
			return nil, err
		}
		s.log.Info("batch populated",
			zap.String("batch_id", batchID.String()),
			zap.Int("charge_version_years", len(result.ChargeVersionYears)),
			zap.Int("invoices", len(result.Invoices)),
			zap.Int("transactions", result.TransactionCount()),
			zap.Int("billing_volumes", len(result.BillingVolumes)),
		)
	}

	if summary.Type == batchdomain.BatchTypeTwoPartTariff {
		if _, err := s.batches.SetStatus(ctx, batchID, batchdomain.BatchStatusReview); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return []jobqueue.Job{jobqueue.NewJob(jobqueue.JobCreateCharges, batchID)}, nil
}

func (s *Service) store(ctx context.Context, batchID snowflake.ID, result *Result) error {
	now := s.clock.Now(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cvys := cvyrepo.NewRepository(tx)
		invoices := invoicerepo.NewRepository(tx)
		transactions := transactionrepo.NewRepository(tx)
		volumes := billingvolumerepo.NewRepository(tx)

		for _, in := range result.ChargeVersionYears {
			if err := cvys.Insert(ctx, &cvydomain.ChargeVersionYear{
				ID:                  s.genID.Generate(),
				BatchID:             batchID,
				ChargeVersionID:     in.ChargeVersionID,
				LicenceID:           in.LicenceID,
				FinancialYearEnding: in.FinancialYearEnding,
				TransactionType:     cvydomain.TransactionType(in.TransactionType),
				IsSummer:            in.IsSummer,
				HasTwoPartAgreement: in.HasTwoPartAgreement,
				IsChargeable:        in.IsChargeable,
				StartDate:           in.StartDate,
				EndDate:             in.EndDate,
				Status:              cvydomain.StatusReady,
				CreatedAt:           now,
			}); err != nil {
				return err
			}
		}

		for _, in := range result.Invoices {
			inv := &invoicedomain.Invoice{
				ID:                   s.genID.Generate(),
				BatchID:              batchID,
				InvoiceAccountID:     in.InvoiceAccountID,
				InvoiceAccountNumber: in.InvoiceAccountNumber,
				FinancialYearEnding:  in.FinancialYearEnding,
				IsCredit:             in.IsCredit,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			if err := invoices.Insert(ctx, inv); err != nil {
				return err
			}
			for _, l := range in.Licences {
				il := &invoicedomain.InvoiceLicence{
					ID:         s.genID.Generate(),
					InvoiceID:  inv.ID,
					LicenceID:  l.LicenceID,
					LicenceRef: l.LicenceRef,
					CreatedAt:  now,
				}
				if err := invoices.InsertLicence(ctx, il); err != nil {
					return err
				}
				for _, t := range l.Transactions {
					if err := transactions.Insert(ctx, &transactiondomain.Transaction{
						ID:                        s.genID.Generate(),
						InvoiceLicenceID:          il.ID,
						ChargeElementID:           t.ChargeElementID,
						Status:                    transactiondomain.TransactionStatusCandidate,
						Description:               t.Description,
						StartDate:                 t.StartDate,
						EndDate:                   t.EndDate,
						AuthorisedDays:            t.AuthorisedDays,
						BillableDays:              t.BillableDays,
						Volume:                    t.Volume,
						IsCredit:                  t.IsCredit,
						IsTwoPartSecondPartCharge: t.IsTwoPartSecondPartCharge,
						TwoPartTariffError:        t.TwoPartTariffError,
						TwoPartTariffStatus:       t.TwoPartTariffStatus,
						CreatedAt:                 now,
						UpdatedAt:                 now,
					}); err != nil {
						return err
					}
				}
			}
		}

		for _, in := range result.BillingVolumes {
			if err := volumes.Insert(ctx, &billingvolumedomain.BillingVolume{
				ID:                  s.genID.Generate(),
				ChargeElementID:     in.ChargeElementID,
				BatchID:             batchID,
				LicenceID:           in.LicenceID,
				FinancialYear:       in.FinancialYear,
				IsSummer:            in.IsSummer,
				CalculatedVolume:    in.CalculatedVolume,
				Volume:              in.CalculatedVolume,
				TwoPartTariffError:  in.TwoPartTariffError,
				TwoPartTariffStatus: in.TwoPartTariffStatus,
				CreatedAt:           now,
				UpdatedAt:           now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
