package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
)

const MessageBatchNotReady = "Batch must have ready status"

type Service interface {
	Create(ctx context.Context, inv *Invoice) error
	CreateLicence(ctx context.Context, il *InvoiceLicence) error
	ListBatchInvoices(ctx context.Context, batchID snowflake.ID) ([]Invoice, error)
	// GetInvoice returns the invoice with its licences and transactions.
	GetInvoice(ctx context.Context, batchID, invoiceID snowflake.ID) (*Invoice, error)
	// DeleteBatchInvoice removes an invoice from a ready batch, locally and in
	// the Charge Module, and repairs the rebilling chain around it.
	DeleteBatchInvoice(ctx context.Context, batch batchdomain.Batch, invoiceID snowflake.ID, rebilling *RebillingContext, user actor.User) ([]jobqueue.Job, error)
}
