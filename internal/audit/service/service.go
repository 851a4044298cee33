package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	"github.com/railzwaylabs/waterbilling/internal/audit/repository"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p ServiceParam) auditdomain.Service {
	return &Service{
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.NewRepository(p.DB),
	}
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action, targetType string, targetID *string, status string, metadata map[string]any) error {
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	if status == "" {
		status = auditdomain.StatusSuccess
	}
	entry := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     status,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  s.clock.Now(ctx),
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter auditdomain.ListFilter) ([]auditdomain.AuditLog, error) {
	return s.repo.List(ctx, filter)
}

// Purge removes audit events older than the retention window. A non-positive
// window disables retention.
func (s *Service) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		s.log.Info("audit retention disabled", zap.Int("days", retentionDays))
		return 0, nil
	}
	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)
	deleted, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Info("audit retention completed", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	return deleted, nil
}
