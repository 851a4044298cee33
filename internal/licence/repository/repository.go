package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) licencedomain.Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*licencedomain.Licence, error) {
	var l licencedomain.Licence
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []snowflake.ID) ([]licencedomain.Licence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var licences []licencedomain.Licence
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("licence_ref").Find(&licences).Error
	return licences, err
}

func (r *repository) SetIncludeInSupplementaryBilling(ctx context.Context, ids []snowflake.ID, include bool, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Exec(`
		UPDATE licences
		SET include_in_supplementary_billing = ?, updated_at = ?
		WHERE id IN ?`,
		include, at, ids,
	).Error
}
