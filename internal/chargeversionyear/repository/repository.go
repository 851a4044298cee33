package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) cvydomain.Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, cvy *cvydomain.ChargeVersionYear) error {
	return r.db.WithContext(ctx).Create(cvy).Error
}

func (r *repository) FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]cvydomain.ChargeVersionYear, error) {
	var rows []cvydomain.ChargeVersionYear
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id").Find(&rows).Error
	return rows, err
}

func (r *repository) FindByBatchIDAndLicenceID(ctx context.Context, batchID, licenceID snowflake.ID) ([]cvydomain.ChargeVersionYear, error) {
	var rows []cvydomain.ChargeVersionYear
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND licence_id = ?", batchID, licenceID).
		Order("financial_year_ending, id").
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateStatusByBatchID(ctx context.Context, batchID snowflake.ID, status cvydomain.Status) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE billing_batch_charge_version_years SET status = ? WHERE batch_id = ?`,
		status, batchID,
	).Error
}

func (r *repository) DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`DELETE FROM billing_batch_charge_version_years WHERE batch_id = ?`,
		batchID,
	).Error
}

func (r *repository) DeleteByBatchIDAndLicenceIDs(ctx context.Context, batchID snowflake.ID, licenceIDs []snowflake.ID, financialYearEnding int) error {
	if len(licenceIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Exec(`
		DELETE FROM billing_batch_charge_version_years
		WHERE batch_id = ? AND financial_year_ending = ? AND licence_id IN ?`,
		batchID, financialYearEnding, licenceIDs,
	).Error
}
