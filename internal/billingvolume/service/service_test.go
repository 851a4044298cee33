package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	auditservice "github.com/railzwaylabs/waterbilling/internal/audit/service"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	licenceservice "github.com/railzwaylabs/waterbilling/internal/licence/service"
	"github.com/railzwaylabs/waterbilling/internal/testsupport"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   billingvolumedomain.Service
	audit auditdomain.Service
	batch batchdomain.Batch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testsupport.NewDB(t)
	node := testsupport.Node(t)
	clk := clock.Fixed{At: testsupport.Now}
	log := zap.NewNop()

	auditSvc := auditservice.NewService(auditservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: clk})
	licences := licenceservice.NewService(licenceservice.ServiceParam{DB: db, Log: log, Clock: clk})

	batch := batchdomain.Batch{
		ID:                      node.Generate(),
		RegionID:                node.Generate(),
		Type:                    batchdomain.BatchTypeTwoPartTariff,
		Status:                  batchdomain.BatchStatusReview,
		Scheme:                  batchdomain.SchemeLegacy,
		FromFinancialYearEnding: 2022,
		ToFinancialYearEnding:   2022,
		IsSummer:                true,
		CreatedAt:               testsupport.Now,
		UpdatedAt:               testsupport.Now,
	}
	testsupport.Insert(t, db, &batch)

	return &fixture{
		db:    db,
		node:  node,
		audit: auditSvc,
		batch: batch,
		svc: NewService(ServiceParam{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Licences: licences,
			AuditSvc: auditSvc,
		}),
	}
}

func (f *fixture) volume(t *testing.T, licenceID snowflake.ID, mutate func(*billingvolumedomain.BillingVolume)) billingvolumedomain.BillingVolume {
	t.Helper()
	v := billingvolumedomain.BillingVolume{
		ChargeElementID:  f.node.Generate(),
		BatchID:          f.batch.ID,
		LicenceID:        licenceID,
		FinancialYear:    2022,
		IsSummer:         true,
		CalculatedVolume: decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
	}
	if mutate != nil {
		mutate(&v)
	}
	require.NoError(t, f.svc.Create(context.Background(), &v))
	return v
}

func reload(t *testing.T, db *gorm.DB, id snowflake.ID) billingvolumedomain.BillingVolume {
	t.Helper()
	var v billingvolumedomain.BillingVolume
	require.NoError(t, db.First(&v, "id = ?", id).Error)
	return v
}

func TestUpdateVolumeClearsErrorAndStampsReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.volume(t, f.node.Generate(), func(v *billingvolumedomain.BillingVolume) { v.TwoPartTariffError = true })
	reviewer := actor.User{ID: 42, Email: "reviewer@example.test"}

	updated, err := f.svc.UpdateVolume(ctx, v.ID, decimal.RequireFromString("5.64"), reviewer)
	require.NoError(t, err)

	assert.True(t, updated.Volume.Valid)
	assert.True(t, updated.Volume.Decimal.Equal(decimal.RequireFromString("5.64")))
	assert.False(t, updated.TwoPartTariffError)
	require.NotNil(t, updated.Reviewer())
	assert.Equal(t, reviewer, *updated.Reviewer())
	assert.True(t, updated.IsEdited())

	logs, err := f.audit.List(ctx, auditdomain.ListFilter{Actions: []string{auditdomain.ActionVolumeEdit}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, v.ID.String(), *logs[0].TargetID)
}

func TestUpdateVolumeRejectsApprovedRegardlessOfValue(t *testing.T) {
	f := newFixture(t)
	v := f.volume(t, f.node.Generate(), func(v *billingvolumedomain.BillingVolume) { v.IsApproved = true })

	for _, value := range []string{"0", "5.64", "1000"} {
		_, err := f.svc.UpdateVolume(context.Background(), v.ID, decimal.RequireFromString(value), actor.User{ID: 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, ierr.ErrBillingVolumeStatus)
		assert.Equal(t, billingvolumedomain.MessageApprovedVolumeNotEditable, err.Error())
	}

	stored := reload(t, f.db, v.ID)
	assert.False(t, stored.Volume.Valid)
	assert.False(t, stored.IsEdited())
}

func TestUpdateVolumeNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateVolume(context.Background(), f.node.Generate(), decimal.NewFromInt(1), actor.User{ID: 1})
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
	assert.ErrorIs(t, err, ierr.ErrBillingVolumeNotFound)
}

func TestApproveVolumesForBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	licenceID := f.node.Generate()
	clean := f.volume(t, licenceID, nil)
	errored := f.volume(t, licenceID, func(v *billingvolumedomain.BillingVolume) { v.TwoPartTariffError = true })

	err := f.svc.ApproveVolumesForBatch(ctx, f.batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierr.ErrBillingVolumeStatus)
	assert.Equal(t, billingvolumedomain.MessageVolumesHaveErrors, err.Error())
	assert.False(t, reload(t, f.db, clean.ID).IsApproved)
	assert.False(t, reload(t, f.db, errored.ID).IsApproved)

	_, err = f.svc.UpdateVolume(ctx, errored.ID, decimal.NewFromInt(3), actor.User{ID: 9})
	require.NoError(t, err)

	require.NoError(t, f.svc.ApproveVolumesForBatch(ctx, f.batch))
	assert.True(t, reload(t, f.db, clean.ID).IsApproved)
	assert.True(t, reload(t, f.db, errored.ID).IsApproved)
}

func TestApproveVolumesForBatchLeavesOtherBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.volume(t, f.node.Generate(), func(v *billingvolumedomain.BillingVolume) { v.BatchID = f.node.Generate() })
	mine := f.volume(t, f.node.Generate(), nil)

	require.NoError(t, f.svc.ApproveVolumesForBatch(ctx, f.batch))
	assert.True(t, reload(t, f.db, mine.ID).IsApproved)
	assert.False(t, reload(t, f.db, other.ID).IsApproved)
}

func TestGetLicenceBillingVolumesClampsChargePeriod(t *testing.T) {
	f := newFixture(t)
	licenceID := f.node.Generate()
	v := f.volume(t, licenceID, nil)
	f.volume(t, f.node.Generate(), nil)

	versionStart := time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)
	versionEnd := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	testsupport.Insert(t, f.db, &cvydomain.ChargeVersionYear{
		ID:                  f.node.Generate(),
		BatchID:             f.batch.ID,
		ChargeVersionID:     f.node.Generate(),
		LicenceID:           licenceID,
		FinancialYearEnding: 2022,
		TransactionType:     cvydomain.TransactionTypeTwoPartTariff,
		IsSummer:            true,
		HasTwoPartAgreement: true,
		IsChargeable:        true,
		StartDate:           versionStart,
		EndDate:             versionEnd,
		Status:              cvydomain.StatusReady,
		CreatedAt:           testsupport.Now,
	})

	got, err := f.svc.GetLicenceBillingVolumes(context.Background(), f.batch, licenceID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, v.ID, got[0].ID)
	assert.Equal(t, v.ChargeElementID, got[0].ChargeElementID)
	assert.True(t, got[0].ChargePeriod.StartDate.Equal(time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got[0].ChargePeriod.EndDate.Equal(time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC)))
}

func TestMarkVolumesAsErroredKeepsFirstTimestamp(t *testing.T) {
	f := newFixture(t)
	earlier := testsupport.Now.Add(-48 * time.Hour)
	stamped := f.volume(t, f.node.Generate(), func(v *billingvolumedomain.BillingVolume) { v.ErroredOn = &earlier })
	fresh := f.volume(t, f.node.Generate(), nil)

	require.NoError(t, f.svc.MarkVolumesAsErrored(context.Background(), f.batch.ID))
	require.NoError(t, f.svc.MarkVolumesAsErrored(context.Background(), f.batch.ID))

	got := reload(t, f.db, stamped.ID)
	require.NotNil(t, got.ErroredOn)
	assert.True(t, got.ErroredOn.Equal(earlier))
	got = reload(t, f.db, fresh.ID)
	require.NotNil(t, got.ErroredOn)
	assert.True(t, got.ErroredOn.Equal(testsupport.Now))
}

func TestListLicenceReviewRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := licencedomain.Licence{ID: f.node.Generate(), LicenceRef: "01/123", RegionID: f.batch.RegionID, BillingContact: "A Farmer", UpdatedAt: testsupport.Now}
	second := licencedomain.Licence{ID: f.node.Generate(), LicenceRef: "02/456", RegionID: f.batch.RegionID, UpdatedAt: testsupport.Now}
	testsupport.Insert(t, f.db, &first, &second)

	f.volume(t, first.ID, func(v *billingvolumedomain.BillingVolume) {
		v.TwoPartTariffError = true
		v.TwoPartTariffStatus = lo.ToPtr(20)
	})
	edited := f.volume(t, first.ID, func(v *billingvolumedomain.BillingVolume) {
		v.TwoPartTariffStatus = lo.ToPtr(10)
	})
	f.volume(t, second.ID, func(v *billingvolumedomain.BillingVolume) {
		v.TwoPartTariffStatus = lo.ToPtr(20)
	})
	_, err := f.svc.UpdateVolume(ctx, edited.ID, decimal.NewFromInt(2), actor.User{ID: 3})
	require.NoError(t, err)

	rows, err := f.svc.ListLicenceReviewRows(ctx, f.batch)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, billingvolumedomain.LicenceReviewRow{
		LicenceID:             first.ID.String(),
		LicenceRef:            "01/123",
		TwoPartTariffError:    true,
		TwoPartTariffStatuses: []int{10, 20},
		BillingContact:        "A Farmer",
		BillingVolumeEdited:   true,
	}, rows[0])
	assert.Equal(t, billingvolumedomain.LicenceReviewRow{
		LicenceID:             second.ID.String(),
		LicenceRef:            "02/456",
		TwoPartTariffStatuses: []int{20},
	}, rows[1])
}

type failingAudit struct {
	auditdomain.Service
}

func (failingAudit) AuditLog(context.Context, string, *string, string, string, *string, string, map[string]any) error {
	return errors.New("audit store unavailable")
}

func TestUpdateVolumeLogsAuditFailure(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(ServiceParam{
		DB:       f.db,
		Log:      zap.New(core),
		GenID:    f.node,
		Clock:    clock.Fixed{At: testsupport.Now},
		Licences: licenceservice.NewService(licenceservice.ServiceParam{DB: f.db, Log: zap.NewNop(), Clock: clock.Fixed{At: testsupport.Now}}),
		AuditSvc: failingAudit{},
	})
	v := f.volume(t, f.node.Generate(), nil)

	updated, err := svc.UpdateVolume(context.Background(), v.ID, decimal.RequireFromString("3"), actor.User{ID: 9})
	require.NoError(t, err)
	assert.True(t, updated.Volume.Decimal.Equal(decimal.RequireFromString("3")))

	warned := logs.FilterMessage("failed to audit billing volume edit").All()
	require.Len(t, warned, 1)
	assert.Equal(t, v.ID.String(), warned[0].ContextMap()["billing_volume_id"])
}
