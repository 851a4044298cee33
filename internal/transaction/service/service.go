package service

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	batchrepo "github.com/railzwaylabs/waterbilling/internal/batch/repository"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	billingvolumerepo "github.com/railzwaylabs/waterbilling/internal/billingvolume/repository"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	cvyrepo "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/repository"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"github.com/railzwaylabs/waterbilling/internal/transaction/repository"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  transactiondomain.Repository
}

func NewService(p ServiceParam) transactiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("transaction.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.NewRepository(p.DB),
	}
}

// Save inserts a new transaction under the invoice licence, or overwrites an
// existing one when it already has an id.
func (s *Service) Save(ctx context.Context, invoiceLicenceID snowflake.ID, t *transactiondomain.Transaction) error {
	now := s.clock.Now(ctx)
	t.InvoiceLicenceID = invoiceLicenceID
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = transactiondomain.TransactionStatusCandidate
	}
	if t.ID == 0 {
		t.ID = s.genID.Generate()
		t.CreatedAt = now
		return s.repo.Insert(ctx, t)
	}
	return s.repo.Save(ctx, t)
}

// UpdateVolume changes the volume of a candidate transaction in a
// two-part-tariff batch under review. The guards are re-read inside the
// write transaction with the batch row locked.
func (s *Service) UpdateVolume(ctx context.Context, batch batchdomain.Batch, transactionID snowflake.ID, volume decimal.Decimal) (*transactiondomain.Transaction, error) {
	var updated *transactiondomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := batchrepo.NewRepository(tx).FindByIDForUpdate(ctx, batch.ID)
		if err != nil {
			return err
		}
		if b == nil {
			return ierr.ErrBatchNotFound.New("Batch %s not found", batch.ID)
		}
		if b.Type != batchdomain.BatchTypeTwoPartTariff {
			return ierr.BatchStatus(transactiondomain.MessageBatchNotTwoPartTariff)
		}
		if b.Status != batchdomain.BatchStatusReview {
			return ierr.BatchStatus(transactiondomain.MessageBatchNotInReview)
		}

		repo := repository.NewRepository(tx)
		t, err := repo.FindInBatch(ctx, b.ID, transactionID)
		if err != nil {
			return err
		}
		if t == nil {
			return ierr.ErrTransactionNotFound.New("Transaction %s not found", transactionID)
		}
		if t.Status != transactiondomain.TransactionStatusCandidate {
			return ierr.TransactionStatus(transactiondomain.MessageTransactionNotCandidate)
		}

		if err := repo.Update(ctx, transactionID, map[string]any{"volume": volume}); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateWithExternalResponse applies the Charge Module reply to a
// create-transaction call.
func (s *Service) UpdateWithExternalResponse(ctx context.Context, transactionID snowflake.ID, response json.RawMessage) error {
	var reply transactiondomain.ChargeResponse
	if err := json.Unmarshal(response, &reply); err != nil {
		s.log.Error("unrecognised charge module response",
			zap.String("transaction_id", transactionID.String()),
			zap.ByteString("response", response),
			zap.Error(err),
		)
		return ierr.InvalidResponse("Charge Module returned an unrecognised response for transaction %s", transactionID)
	}

	switch {
	case reply.Transaction != nil && reply.Transaction.ID != "":
		return s.repo.Update(ctx, transactionID, map[string]any{
			"status":      transactiondomain.TransactionStatusChargeCreated,
			"external_id": reply.Transaction.ID,
		})
	case reply.Status == transactiondomain.ZeroValueChargeStatus:
		s.log.Info("zero value charge, removing transaction", zap.String("transaction_id", transactionID.String()))
		return s.repo.Delete(ctx, transactionID)
	default:
		s.log.Error("unrecognised charge module response",
			zap.String("transaction_id", transactionID.String()),
			zap.ByteString("response", response),
		)
		return ierr.InvalidResponse("Charge Module returned an unrecognised response for transaction %s", transactionID)
	}
}

// PersistDeMinimis writes the de-minimis flag of every transaction in the
// tree with one update per flag value.
func (s *Service) PersistDeMinimis(ctx context.Context, tree []transactiondomain.LicenceTransactions) error {
	all := lo.FlatMap(tree, func(l transactiondomain.LicenceTransactions, _ int) []transactiondomain.Transaction {
		return l.Transactions
	})
	deMinimis, other := lo.FilterReject(all, func(t transactiondomain.Transaction, _ int) bool {
		return t.IsDeMinimis
	})
	id := func(t transactiondomain.Transaction, _ int) snowflake.ID { return t.ID }

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewRepository(tx)
		if err := repo.BulkUpdate(ctx, lo.Map(deMinimis, id), map[string]any{"is_de_minimis": true}); err != nil {
			return err
		}
		return repo.BulkUpdate(ctx, lo.Map(other, id), map[string]any{"is_de_minimis": false})
	})
}

type elementYear struct {
	chargeElementID     snowflake.ID
	financialYearEnding int
}

// ApplyApprovedVolumes copies each approved billing volume onto the candidate
// transactions for the same charge element and financial year. Transactions
// that end up with the same volume are written with one update.
func (s *Service) ApplyApprovedVolumes(ctx context.Context, batchID snowflake.ID) (int, error) {
	volumes, err := billingvolumerepo.NewRepository(s.db).FindByBatchID(ctx, batchID)
	if err != nil {
		return 0, err
	}
	approved := lo.SliceToMap(
		lo.Filter(volumes, func(v billingvolumedomain.BillingVolume, _ int) bool {
			return v.IsApproved && v.Volume.Valid
		}),
		func(v billingvolumedomain.BillingVolume) (elementYear, decimal.Decimal) {
			return elementYear{v.ChargeElementID, v.FinancialYear}, v.Volume.Decimal
		},
	)
	if len(approved) == 0 {
		return 0, nil
	}

	candidates, err := s.repo.FindByBatchIDAndStatus(ctx, batchID, transactiondomain.TransactionStatusCandidate)
	if err != nil {
		return 0, err
	}
	changed := lo.Filter(candidates, func(t transactiondomain.BatchTransaction, _ int) bool {
		v, ok := approved[elementYear{t.ChargeElementID, t.FinancialYearEnding}]
		return ok && !t.Volume.Equal(v)
	})
	byVolume := lo.GroupBy(changed, func(t transactiondomain.BatchTransaction) string {
		return approved[elementYear{t.ChargeElementID, t.FinancialYearEnding}].String()
	})

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewRepository(tx)
		for volume, txns := range byVolume {
			ids := lo.Map(txns, func(t transactiondomain.BatchTransaction, _ int) snowflake.ID { return t.ID })
			if err := repo.BulkUpdate(ctx, ids, map[string]any{"volume": decimal.RequireFromString(volume)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(changed) > 0 {
		s.log.Info("approved volumes applied to transactions",
			zap.String("batch_id", batchID.String()),
			zap.Int("transactions", len(changed)),
		)
	}
	return len(changed), nil
}

// GetBatchTransactionHistory returns the batch transactions, leaving out
// second-part charges with no chargeable charge version year behind them.
func (s *Service) GetBatchTransactionHistory(ctx context.Context, batchID snowflake.ID) ([]transactiondomain.BatchTransaction, error) {
	transactions, err := s.repo.FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	years, err := cvyrepo.NewRepository(s.db).FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	return lo.Filter(transactions, func(t transactiondomain.BatchTransaction, _ int) bool {
		if !t.IsTwoPartSecondPartCharge {
			return true
		}
		return lo.SomeBy(years, func(y cvydomain.ChargeVersionYear) bool {
			return y.Covers(t.LicenceID, t.FinancialYearEnding, t.StartDate, t.EndDate)
		})
	}), nil
}
