package service

import (
	"context"

	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"go.uber.org/zap"
)

// Create inserts a processing batch unless a live batch exists for the region
// or an identical batch was already sent. The returned job requests the
// Charge Module bill run.
func (s *Service) Create(ctx context.Context, req batchdomain.CreateRequest) (*batchdomain.Batch, []jobqueue.Job, error) {
	if !req.Type.Valid() {
		return nil, nil, ierr.Validation("invalid batch type %q", req.Type)
	}
	if req.Scheme != "" && !req.Scheme.Valid() {
		return nil, nil, ierr.Validation("invalid scheme %q", req.Scheme)
	}
	if req.FinancialYearEnding <= 0 {
		return nil, nil, ierr.Validation("financial year ending is required")
	}

	region, err := s.repo.FindRegion(ctx, req.RegionID)
	if err != nil {
		return nil, nil, err
	}
	if region == nil {
		return nil, nil, ierr.ErrRegionNotFound.New("Region %s not found", req.RegionID)
	}

	scheme := s.schemeFor(req)
	from, to := s.yearWindow(req.Type, scheme, req.FinancialYearEnding)
	now := s.clock.Now(ctx)

	b := &batchdomain.Batch{
		ID:                      s.genID.Generate(),
		RegionID:                req.RegionID,
		Type:                    req.Type,
		Status:                  batchdomain.BatchStatusProcessing,
		Scheme:                  scheme,
		FromFinancialYearEnding: from,
		ToFinancialYearEnding:   to,
		IsSummer:                req.Type == batchdomain.BatchTypeTwoPartTariff && req.IsSummer,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	inserted, err := s.repo.InsertIfNoConflict(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	if !inserted {
		return nil, nil, s.conflictFor(ctx, b)
	}

	s.log.Info("batch created",
		zap.String("batch_id", b.ID.String()),
		zap.String("region_id", b.RegionID.String()),
		zap.String("type", string(b.Type)),
		zap.Int("from", from),
		zap.Int("to", to),
	)
	return b, []jobqueue.Job{jobqueue.NewJob(jobqueue.JobCreateBillRun, b.ID)}, nil
}

// conflictFor reports why the insert was refused. A live batch in the region
// takes precedence over an already sent duplicate.
func (s *Service) conflictFor(ctx context.Context, b *batchdomain.Batch) error {
	live, err := s.repo.FindLiveByRegion(ctx, b.RegionID)
	if err != nil {
		return err
	}
	var sent *batchdomain.Batch
	if live == nil && b.Type != batchdomain.BatchTypeSupplementary {
		sent, err = s.repo.FindSentDuplicate(ctx, b.RegionID, b.Type, b.ToFinancialYearEnding, b.IsSummer)
		if err != nil {
			return err
		}
	}
	if conflict := batchdomain.NewCreateConflict(live, sent); conflict != nil {
		return conflict
	}
	// The blocking batch finished between the insert and the lookup.
	return ierr.ErrConflict.New("Batch for region %s could not be created, retry", b.RegionID)
}

func (s *Service) schemeFor(req batchdomain.CreateRequest) batchdomain.Scheme {
	if req.Scheme != "" {
		return req.Scheme
	}
	if s.cfg.ForceCurrentScheme || req.FinancialYearEnding >= s.cfg.CurrentSchemeFirstYear {
		return batchdomain.SchemeCurrent
	}
	return batchdomain.SchemeLegacy
}

// yearWindow returns the financial years a batch covers. Supplementary runs
// reach back over a trailing window; other types bill a single year. Legacy
// runs never go past the last legacy year and current runs never start
// before the first current year.
func (s *Service) yearWindow(t batchdomain.BatchType, scheme batchdomain.Scheme, financialYearEnding int) (int, int) {
	to := financialYearEnding
	if scheme == batchdomain.SchemeLegacy && to > s.cfg.LegacyMaxFinancialYear {
		to = s.cfg.LegacyMaxFinancialYear
	}
	from := to
	if t == batchdomain.BatchTypeSupplementary {
		from = to - s.cfg.SupplementaryYears
	}
	if scheme == batchdomain.SchemeCurrent && from < s.cfg.CurrentSchemeFirstYear {
		from = s.cfg.CurrentSchemeFirstYear
	}
	if from > to {
		from = to
	}
	return from, to
}
