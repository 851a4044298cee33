package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Insert(ctx context.Context, t *Transaction) error
	Save(ctx context.Context, t *Transaction) error
	FindByID(ctx context.Context, id snowflake.ID) (*Transaction, error)
	// FindInBatch returns the transaction only when it belongs to the batch.
	FindInBatch(ctx context.Context, batchID, id snowflake.ID) (*BatchTransaction, error)
	FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]BatchTransaction, error)
	FindByBatchIDAndStatus(ctx context.Context, batchID snowflake.ID, status TransactionStatus) ([]BatchTransaction, error)
	CountByBatchID(ctx context.Context, batchID snowflake.ID) (int64, error)
	Update(ctx context.Context, id snowflake.ID, fields map[string]any) error
	BulkUpdate(ctx context.Context, ids []snowflake.ID, fields map[string]any) error
	Delete(ctx context.Context, id snowflake.ID) error
	DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error
	DeleteByInvoiceID(ctx context.Context, invoiceID snowflake.ID) error
	ChargeElementIDsByInvoiceID(ctx context.Context, invoiceID snowflake.ID) ([]snowflake.ID, error)
}
