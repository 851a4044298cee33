package domain

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/shopspring/decimal"
)

// Service is the transaction ledger.
type Service interface {
	Save(ctx context.Context, invoiceLicenceID snowflake.ID, t *Transaction) error
	UpdateVolume(ctx context.Context, batch batchdomain.Batch, transactionID snowflake.ID, volume decimal.Decimal) (*Transaction, error)
	UpdateWithExternalResponse(ctx context.Context, transactionID snowflake.ID, response json.RawMessage) error
	PersistDeMinimis(ctx context.Context, tree []LicenceTransactions) error
	ApplyApprovedVolumes(ctx context.Context, batchID snowflake.ID) (int, error)
	GetBatchTransactionHistory(ctx context.Context, batchID snowflake.ID) ([]BatchTransaction, error)
}

// LicenceTransactions is the transaction leaf of an in-memory batch tree.
type LicenceTransactions struct {
	InvoiceLicenceID snowflake.ID
	Transactions     []Transaction
}

const (
	MessageBatchNotTwoPartTariff   = "Batch type must be two part tariff"
	MessageBatchNotInReview        = batchdomain.MessageBatchNotInReview
	MessageTransactionNotCandidate = "Transaction must have candidate status"
)
