package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) batchdomain.Repository {
	return &repository{db: db}
}

func liveStatuses() []string {
	out := make([]string, 0, len(batchdomain.LiveStatuses))
	for _, s := range batchdomain.LiveStatuses {
		out = append(out, string(s))
	}
	return out
}

// InsertIfNoConflict checks and inserts in a single statement so two
// concurrent requests cannot both pass the check. The partial unique index on
// live batches per region backs this up on Postgres.
func (r *repository) InsertIfNoConflict(ctx context.Context, b *batchdomain.Batch) (bool, error) {
	query := `
		INSERT INTO billing_batches (
			id, region_id, type, status, scheme,
			from_financial_year_ending, to_financial_year_ending, is_summer,
			invoice_count, credit_note_count, invoice_value, credit_note_value, net_total,
			created_at, updated_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM billing_batches WHERE region_id = ? AND status IN ?
		)`
	args := []any{
		b.ID, b.RegionID, b.Type, b.Status, b.Scheme,
		b.FromFinancialYearEnding, b.ToFinancialYearEnding, b.IsSummer,
		b.CreatedAt, b.UpdatedAt,
		b.RegionID, liveStatuses(),
	}
	if b.Type != batchdomain.BatchTypeSupplementary {
		query += `
		AND NOT EXISTS (
			SELECT 1 FROM billing_batches
			WHERE region_id = ? AND type = ? AND to_financial_year_ending = ? AND is_summer = ? AND status = ?
		)`
		args = append(args, b.RegionID, b.Type, b.ToFinancialYearEnding, b.IsSummer, batchdomain.BatchStatusSent)
	}

	result := r.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*batchdomain.Batch, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id snowflake.ID) (*batchdomain.Batch, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repository) FindLiveByRegion(ctx context.Context, regionID snowflake.ID) (*batchdomain.Batch, error) {
	return r.first(r.db.WithContext(ctx).
		Where("region_id = ? AND status IN ?", regionID, liveStatuses()).
		Order("created_at DESC"))
}

func (r *repository) FindSentDuplicate(ctx context.Context, regionID snowflake.ID, batchType batchdomain.BatchType, toFinancialYearEnding int, isSummer bool) (*batchdomain.Batch, error) {
	return r.first(r.db.WithContext(ctx).
		Where("region_id = ? AND type = ? AND to_financial_year_ending = ? AND is_summer = ? AND status = ?",
			regionID, batchType, toFinancialYearEnding, isSummer, batchdomain.BatchStatusSent).
		Order("created_at DESC"))
}

func (r *repository) first(query *gorm.DB) (*batchdomain.Batch, error) {
	var b batchdomain.Batch
	if err := query.First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) List(ctx context.Context, filter batchdomain.ListFilter) ([]batchdomain.Batch, error) {
	query := r.db.WithContext(ctx).Model(&batchdomain.Batch{})
	if filter.RegionID != nil {
		query = query.Where("region_id = ?", *filter.RegionID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var batches []batchdomain.Batch
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&batches).Error
	return batches, err
}

func (r *repository) Update(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&batchdomain.Batch{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repository) CompareAndSetStatus(ctx context.Context, id snowflake.ID, from []batchdomain.BatchStatus, to batchdomain.BatchStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&batchdomain.Batch{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM billing_batches WHERE id = ?`, id).Error
}

func (r *repository) FindRegion(ctx context.Context, id snowflake.ID) (*batchdomain.Region, error) {
	var region batchdomain.Region
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&region).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &region, nil
}
