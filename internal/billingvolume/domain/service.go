package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, v *BillingVolume) error
	UpdateVolume(ctx context.Context, id snowflake.ID, volume decimal.Decimal, user actor.User) (*BillingVolume, error)
	ApproveVolumesForBatch(ctx context.Context, batch batchdomain.Batch) error
	GetLicenceBillingVolumes(ctx context.Context, batch batchdomain.Batch, licenceID snowflake.ID) ([]LicenceBillingVolume, error)
	MarkVolumesAsErrored(ctx context.Context, batchID snowflake.ID) error
	ListLicenceReviewRows(ctx context.Context, batch batchdomain.Batch) ([]LicenceReviewRow, error)
}
