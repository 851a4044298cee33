package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/batch/repository"
	"github.com/railzwaylabs/waterbilling/internal/batchlock"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         config.Config
	ChargeModule   chargemodule.Gateway
	BillingVolumes billingvolumedomain.Service
	Licences       licencedomain.Service
	AuditSvc       auditdomain.Service `optional:"true"`
	Locker         batchlock.Locker    `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	cfg            config.BillingConfig
	chargeModule   chargemodule.Gateway
	billingVolumes billingvolumedomain.Service
	licences       licencedomain.Service
	auditSvc       auditdomain.Service
	locker         batchlock.Locker
	repo           batchdomain.Repository
}

func NewService(p ServiceParam) batchdomain.Service {
	locker := p.Locker
	if locker == nil {
		locker = batchlock.Noop{}
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("batch.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		cfg:            p.Config.Billing,
		chargeModule:   p.ChargeModule,
		billingVolumes: p.BillingVolumes,
		licences:       p.Licences,
		auditSvc:       p.AuditSvc,
		locker:         locker,
		repo:           repository.NewRepository(p.DB),
	}
}

func (s *Service) GetBatch(ctx context.Context, id snowflake.ID) (*batchdomain.Batch, error) {
	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ierr.ErrBatchNotFound.New("Batch %s not found", id)
	}
	return b, nil
}

func (s *Service) GetSummary(ctx context.Context, id snowflake.ID) (*batchdomain.Summary, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	region, err := s.repo.FindRegion(ctx, b.RegionID)
	if err != nil {
		return nil, err
	}
	summary := batchdomain.ToSummary(*b, region)
	return &summary, nil
}

func (s *Service) List(ctx context.Context, filter batchdomain.ListFilter) ([]batchdomain.Summary, error) {
	batches, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	regions := make(map[snowflake.ID]*batchdomain.Region)
	out := make([]batchdomain.Summary, 0, len(batches))
	for _, b := range batches {
		region, ok := regions[b.RegionID]
		if !ok {
			region, err = s.repo.FindRegion(ctx, b.RegionID)
			if err != nil {
				return nil, err
			}
			regions[b.RegionID] = region
		}
		out = append(out, batchdomain.ToSummary(b, region))
	}
	return out, nil
}

// SetStatus moves the batch along the state machine from its current status.
func (s *Service) SetStatus(ctx context.Context, id snowflake.ID, to batchdomain.BatchStatus) (*batchdomain.Batch, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !batchdomain.IsTransitionAllowed(b.Status, to) {
		return nil, ierr.BatchStatus("Batch cannot move from " + string(b.Status) + " to " + string(to))
	}
	ok, err := s.repo.CompareAndSetStatus(ctx, id, []batchdomain.BatchStatus{b.Status}, to, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ierr.BatchStatus("Batch " + id.String() + " changed status concurrently")
	}
	return s.GetBatch(ctx, id)
}

func (s *Service) audit(ctx context.Context, user actor.User, action string, b batchdomain.Batch, status string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType, actorID := auditdomain.ActorFor(user)
	targetID := b.ID.String()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["batch_status"] = string(b.Status)
	metadata["batch_type"] = string(b.Type)
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, action, "billing_batch", &targetID, status, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.String("batch_id", targetID), zap.Error(err))
	}
}

func (s *Service) nonSentStatuses() []batchdomain.BatchStatus {
	return []batchdomain.BatchStatus{
		batchdomain.BatchStatusProcessing,
		batchdomain.BatchStatusReady,
		batchdomain.BatchStatusReview,
		batchdomain.BatchStatusEmpty,
		batchdomain.BatchStatusError,
	}
}
