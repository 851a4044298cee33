package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Insert(ctx context.Context, v *BillingVolume) error
	FindByID(ctx context.Context, id snowflake.ID) (*BillingVolume, error)
	FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]BillingVolume, error)
	FindByBatchIDAndLicenceID(ctx context.Context, batchID, licenceID snowflake.ID) ([]BillingVolume, error)
	// UpdateUnapproved writes the fields only while the volume is unapproved and
	// reports whether a row changed.
	UpdateUnapproved(ctx context.Context, id snowflake.ID, fields map[string]any) (bool, error)
	ApproveByBatchID(ctx context.Context, batchID snowflake.ID) (int64, error)
	MarkErroredByBatchID(ctx context.Context, batchID snowflake.ID, at time.Time) error
	DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error
	DeleteByChargeElementIDs(ctx context.Context, batchID snowflake.ID, chargeElementIDs []snowflake.ID, financialYear int) error
}
