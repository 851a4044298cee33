package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) billingvolumedomain.Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, v *billingvolumedomain.BillingVolume) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*billingvolumedomain.BillingVolume, error) {
	var v billingvolumedomain.BillingVolume
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *repository) FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]billingvolumedomain.BillingVolume, error) {
	var volumes []billingvolumedomain.BillingVolume
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id").Find(&volumes).Error
	return volumes, err
}

func (r *repository) FindByBatchIDAndLicenceID(ctx context.Context, batchID, licenceID snowflake.ID) ([]billingvolumedomain.BillingVolume, error) {
	var volumes []billingvolumedomain.BillingVolume
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND licence_id = ?", batchID, licenceID).
		Order("financial_year, charge_element_id").
		Find(&volumes).Error
	return volumes, err
}

func (r *repository) UpdateUnapproved(ctx context.Context, id snowflake.ID, fields map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).Model(&billingvolumedomain.BillingVolume{}).
		Where("id = ? AND is_approved = ?", id, false).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApproveByBatchID approves every volume in the batch unless one still
// carries an error, in which case nothing is written.
func (r *repository) ApproveByBatchID(ctx context.Context, batchID snowflake.ID) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE billing_volumes
		SET is_approved = ?
		WHERE batch_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM billing_volumes e
			WHERE e.batch_id = ? AND e.two_part_tariff_error = ?
		)`,
		true, batchID, batchID, true,
	)
	return result.RowsAffected, result.Error
}

func (r *repository) MarkErroredByBatchID(ctx context.Context, batchID snowflake.ID, at time.Time) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE billing_volumes
		SET errored_on = ?
		WHERE batch_id = ? AND errored_on IS NULL`,
		at, batchID,
	).Error
}

func (r *repository) DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM billing_volumes WHERE batch_id = ?`, batchID).Error
}

func (r *repository) DeleteByChargeElementIDs(ctx context.Context, batchID snowflake.ID, chargeElementIDs []snowflake.ID, financialYear int) error {
	if len(chargeElementIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Exec(`
		DELETE FROM billing_volumes
		WHERE batch_id = ? AND financial_year = ? AND charge_element_id IN ?`,
		batchID, financialYear, chargeElementIDs,
	).Error
}
