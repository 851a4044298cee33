package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	"github.com/railzwaylabs/waterbilling/internal/licence/repository"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	repo  licencedomain.Repository
}

func NewService(p ServiceParam) licencedomain.Service {
	return &Service{
		log:   p.Log.Named("licence.service"),
		clock: p.Clock,
		repo:  repository.NewRepository(p.DB),
	}
}

// FlagForSupplementaryBilling marks licences whose charges were removed from a
// batch so the next supplementary run picks them up.
func (s *Service) FlagForSupplementaryBilling(ctx context.Context, licenceIDs ...snowflake.ID) error {
	ids := lo.Uniq(licenceIDs)
	if len(ids) == 0 {
		return nil
	}
	if err := s.repo.SetIncludeInSupplementaryBilling(ctx, ids, true, s.clock.Now(ctx)); err != nil {
		return err
	}
	s.log.Info("licences flagged for supplementary billing", zap.Int("count", len(ids)))
	return nil
}

func (s *Service) FindByIDs(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]licencedomain.Licence, error) {
	licences, err := s.repo.FindByIDs(ctx, lo.Uniq(ids))
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(licences, func(l licencedomain.Licence) snowflake.ID { return l.ID }), nil
}
