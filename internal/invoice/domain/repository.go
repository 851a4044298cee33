package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Insert(ctx context.Context, inv *Invoice) error
	InsertLicence(ctx context.Context, il *InvoiceLicence) error
	FindByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]Invoice, error)
	FindByOriginalInvoiceIDs(ctx context.Context, ids []snowflake.ID) ([]Invoice, error)
	FindLicencesByInvoiceID(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceLicence, error)
	FindLicencesByBatchID(ctx context.Context, batchID snowflake.ID) ([]InvoiceLicence, error)
	// LoadTree returns the batch invoices with their licences and transactions attached.
	LoadTree(ctx context.Context, batchID snowflake.ID) ([]Invoice, error)
	Update(ctx context.Context, id snowflake.ID, fields map[string]any) error
	ResetFlaggedForRebillingByBatchID(ctx context.Context, batchID snowflake.ID) error
	Delete(ctx context.Context, id snowflake.ID) error
	DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error
	DeleteLicencesByInvoiceID(ctx context.Context, invoiceID snowflake.ID) error
	DeleteLicencesByBatchID(ctx context.Context, batchID snowflake.ID) error
}
