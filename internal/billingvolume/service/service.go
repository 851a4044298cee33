package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	batchrepo "github.com/railzwaylabs/waterbilling/internal/batch/repository"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	"github.com/railzwaylabs/waterbilling/internal/billingvolume/repository"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	cvyrepo "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/repository"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Licences licencedomain.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	licences licencedomain.Service
	auditSvc auditdomain.Service
	repo     billingvolumedomain.Repository
}

func NewService(p ServiceParam) billingvolumedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billingvolume.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		licences: p.Licences,
		auditSvc: p.AuditSvc,
		repo:     repository.NewRepository(p.DB),
	}
}

func (s *Service) Create(ctx context.Context, v *billingvolumedomain.BillingVolume) error {
	if v.ID == 0 {
		v.ID = s.genID.Generate()
	}
	now := s.clock.Now(ctx)
	v.CreatedAt = now
	v.UpdatedAt = now
	return s.repo.Insert(ctx, v)
}

// UpdateVolume sets a reviewed volume, clears the two-part-tariff error and
// stamps the reviewer. Approved volumes are immutable.
func (s *Service) UpdateVolume(ctx context.Context, id snowflake.ID, volume decimal.Decimal, user actor.User) (*billingvolumedomain.BillingVolume, error) {
	var updated *billingvolumedomain.BillingVolume
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewRepository(tx)
		v, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if v == nil {
			return ierr.ErrBillingVolumeNotFound.New("Billing volume %s not found", id)
		}
		if _, err := batchrepo.NewRepository(tx).FindByIDForUpdate(ctx, v.BatchID); err != nil {
			return err
		}
		if v.IsApproved {
			return ierr.BillingVolumeStatus(billingvolumedomain.MessageApprovedVolumeNotEditable)
		}

		reviewer := user
		ok, err := repo.UpdateUnapproved(ctx, id, map[string]any{
			"volume":                 decimal.NewNullDecimal(volume),
			"two_part_tariff_error":  false,
			"two_part_tariff_review": datatypes.NewJSONType(&reviewer),
		})
		if err != nil {
			return err
		}
		if !ok {
			return ierr.BillingVolumeStatus(billingvolumedomain.MessageApprovedVolumeNotEditable)
		}
		updated, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.auditSvc != nil {
		actorType, actorID := auditdomain.ActorFor(user)
		targetID := id.String()
		if err := s.auditSvc.AuditLog(ctx, actorType, actorID, auditdomain.ActionVolumeEdit, "billing_volume", &targetID, auditdomain.StatusSuccess, map[string]any{
			"batch_id": updated.BatchID.String(),
			"volume":   volume.String(),
		}); err != nil {
			s.log.Warn("failed to audit billing volume edit", zap.String("billing_volume_id", targetID), zap.Error(err))
		}
	}
	return updated, nil
}

// ApproveVolumesForBatch approves every volume in the batch, or none of them
// while any still carries a two-part-tariff error.
func (s *Service) ApproveVolumesForBatch(ctx context.Context, batch batchdomain.Batch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := batchrepo.NewRepository(tx).FindByIDForUpdate(ctx, batch.ID); err != nil {
			return err
		}
		repo := repository.NewRepository(tx)
		volumes, err := repo.FindByBatchID(ctx, batch.ID)
		if err != nil {
			return err
		}
		if billingvolumedomain.HasErrors(volumes) {
			return ierr.BillingVolumeStatus(billingvolumedomain.MessageVolumesHaveErrors)
		}
		approved, err := repo.ApproveByBatchID(ctx, batch.ID)
		if err != nil {
			return err
		}
		s.log.Info("billing volumes approved", zap.String("batch_id", batch.ID.String()), zap.Int64("count", approved))
		return nil
	})
}

func (s *Service) GetLicenceBillingVolumes(ctx context.Context, batch batchdomain.Batch, licenceID snowflake.ID) ([]billingvolumedomain.LicenceBillingVolume, error) {
	volumes, err := s.repo.FindByBatchIDAndLicenceID(ctx, batch.ID, licenceID)
	if err != nil {
		return nil, err
	}
	years, err := cvyrepo.NewRepository(s.db).FindByBatchIDAndLicenceID(ctx, batch.ID, licenceID)
	if err != nil {
		return nil, err
	}

	out := make([]billingvolumedomain.LicenceBillingVolume, 0, len(volumes))
	for _, v := range volumes {
		cvy, found := lo.Find(years, func(y cvydomain.ChargeVersionYear) bool {
			return y.FinancialYearEnding == v.FinancialYear && y.IsSummer == v.IsSummer
		})
		period := billingvolumedomain.ChargePeriodFor(v.FinancialYear, time.Time{}, nil)
		if found {
			period = billingvolumedomain.ChargePeriodFor(v.FinancialYear, cvy.StartDate, &cvy.EndDate)
		}
		out = append(out, billingvolumedomain.LicenceBillingVolume{BillingVolume: v, ChargePeriod: period})
	}
	return out, nil
}

// MarkVolumesAsErrored stamps every volume in the batch with the time it
// errored. Volumes already stamped keep their original time.
func (s *Service) MarkVolumesAsErrored(ctx context.Context, batchID snowflake.ID) error {
	return s.repo.MarkErroredByBatchID(ctx, batchID, s.clock.Now(ctx))
}

// ListLicenceReviewRows aggregates the batch's volumes per licence for the
// two-part-tariff review screen.
func (s *Service) ListLicenceReviewRows(ctx context.Context, batch batchdomain.Batch) ([]billingvolumedomain.LicenceReviewRow, error) {
	volumes, err := s.repo.FindByBatchID(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(volumes, func(v billingvolumedomain.BillingVolume) snowflake.ID { return v.LicenceID })
	licences, err := s.licences.FindByIDs(ctx, lo.Keys(grouped))
	if err != nil {
		return nil, err
	}

	rows := make([]billingvolumedomain.LicenceReviewRow, 0, len(grouped))
	for licenceID, vs := range grouped {
		var statuses []int
		for _, v := range vs {
			if v.TwoPartTariffStatus != nil {
				statuses = append(statuses, *v.TwoPartTariffStatus)
			}
		}
		statuses = lo.Uniq(statuses)
		sort.Ints(statuses)

		row := billingvolumedomain.LicenceReviewRow{
			LicenceID:             licenceID.String(),
			TwoPartTariffError:    lo.SomeBy(vs, func(v billingvolumedomain.BillingVolume) bool { return v.TwoPartTariffError }),
			TwoPartTariffStatuses: statuses,
			BillingVolumeEdited:   lo.SomeBy(vs, func(v billingvolumedomain.BillingVolume) bool { return v.IsEdited() }),
		}
		if l, ok := licences[licenceID]; ok {
			row.LicenceRef = l.LicenceRef
			row.BillingContact = l.BillingContact
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LicenceRef != rows[j].LicenceRef {
			return rows[i].LicenceRef < rows[j].LicenceRef
		}
		return rows[i].LicenceID < rows[j].LicenceID
	})
	return rows, nil
}
