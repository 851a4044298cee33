package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	auditservice "github.com/railzwaylabs/waterbilling/internal/audit/service"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	billingvolumeservice "github.com/railzwaylabs/waterbilling/internal/billingvolume/service"
	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	licenceservice "github.com/railzwaylabs/waterbilling/internal/licence/service"
	"github.com/railzwaylabs/waterbilling/internal/testsupport"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var reviewer = actor.User{ID: 77, Email: "billing.officer@example.test"}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *testsupport.MockGateway
	audit   auditdomain.Service
	volumes billingvolumedomain.Service
	svc     batchdomain.Service
	region  batchdomain.Region
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testsupport.NewDB(t)
	node := testsupport.Node(t)
	clk := clock.Fixed{At: testsupport.Now}
	log := zap.NewNop()

	f := &fixture{db: db, node: node, gateway: &testsupport.MockGateway{}}
	f.region = batchdomain.Region{ID: node.Generate(), ChargeRegionID: "A", Name: "Anglian"}
	testsupport.Insert(t, db, &f.region)

	f.audit = auditservice.NewService(auditservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: clk})
	licences := licenceservice.NewService(licenceservice.ServiceParam{DB: db, Log: log, Clock: clk})
	f.volumes = billingvolumeservice.NewService(billingvolumeservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Licences: licences, AuditSvc: f.audit,
	})
	f.svc = NewService(ServiceParam{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Config:         config.Default(),
		ChargeModule:   f.gateway,
		BillingVolumes: f.volumes,
		Licences:       licences,
		AuditSvc:       f.audit,
	})
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

func (f *fixture) batch(t *testing.T, mutate func(*batchdomain.Batch)) batchdomain.Batch {
	t.Helper()
	b := batchdomain.Batch{
		ID:                      f.node.Generate(),
		RegionID:                f.region.ID,
		Type:                    batchdomain.BatchTypeAnnual,
		Status:                  batchdomain.BatchStatusProcessing,
		Scheme:                  batchdomain.SchemeCurrent,
		FromFinancialYearEnding: 2024,
		ToFinancialYearEnding:   2024,
		CreatedAt:               testsupport.Now,
		UpdatedAt:               testsupport.Now,
	}
	if mutate != nil {
		mutate(&b)
	}
	testsupport.Insert(t, f.db, &b)
	return b
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *batchdomain.Batch {
	t.Helper()
	var b batchdomain.Batch
	err := f.db.First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &b
}

func (f *fixture) auditLogs(t *testing.T, action string) []auditdomain.AuditLog {
	t.Helper()
	logs, err := f.audit.List(context.Background(), auditdomain.ListFilter{Actions: []string{action}})
	require.NoError(t, err)
	return logs
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestCreateReturnsBillRunIntent(t *testing.T) {
	f := newFixture(t)

	b, jobs, err := f.svc.Create(context.Background(), batchdomain.CreateRequest{
		RegionID:            f.region.ID,
		Type:                batchdomain.BatchTypeAnnual,
		FinancialYearEnding: 2024,
		IsSummer:            true,
	})
	require.NoError(t, err)

	assert.Equal(t, batchdomain.BatchStatusProcessing, b.Status)
	assert.Equal(t, batchdomain.SchemeCurrent, b.Scheme)
	assert.False(t, b.IsSummer)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobqueue.JobCreateBillRun, jobs[0].Name)
	assert.Equal(t, b.ID, jobs[0].BatchID)
	require.NotNil(t, f.reload(t, b.ID))
}

func TestCreateConflictsWithLiveBatch(t *testing.T) {
	f := newFixture(t)
	existing := f.batch(t, func(b *batchdomain.Batch) {
		b.Type = batchdomain.BatchTypeTwoPartTariff
		b.FromFinancialYearEnding = 2023
		b.ToFinancialYearEnding = 2023
		b.IsSummer = true
	})

	_, jobs, err := f.svc.Create(context.Background(), batchdomain.CreateRequest{
		RegionID:            f.region.ID,
		Type:                batchdomain.BatchTypeTwoPartTariff,
		FinancialYearEnding: 2023,
		IsSummer:            true,
	})
	require.Error(t, err)
	assert.Empty(t, jobs)
	assert.True(t, ierr.IsConflict(err))
	assert.ErrorIs(t, err, ierr.ErrBatchAlreadyLive)

	var conflict *batchdomain.CreateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, existing.ID, conflict.Existing.ID)
	assert.EqualValues(t, 1, countRows(t, f.db, &batchdomain.Batch{}))
}

func TestCreateConflictsWithSentDuplicate(t *testing.T) {
	f := newFixture(t)
	sent := f.batch(t, func(b *batchdomain.Batch) { b.Status = batchdomain.BatchStatusSent })

	_, _, err := f.svc.Create(context.Background(), batchdomain.CreateRequest{
		RegionID:            f.region.ID,
		Type:                batchdomain.BatchTypeAnnual,
		FinancialYearEnding: 2024,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ierr.ErrBatchAlreadySent)

	var conflict *batchdomain.CreateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, sent.ID, conflict.Existing.ID)
}

func TestCreatePrefersLiveBatchOverSentDuplicate(t *testing.T) {
	f := newFixture(t)
	f.batch(t, func(b *batchdomain.Batch) { b.Status = batchdomain.BatchStatusSent })
	live := f.batch(t, func(b *batchdomain.Batch) {
		b.Type = batchdomain.BatchTypeSupplementary
		b.Status = batchdomain.BatchStatusReady
	})

	_, _, err := f.svc.Create(context.Background(), batchdomain.CreateRequest{
		RegionID:            f.region.ID,
		Type:                batchdomain.BatchTypeAnnual,
		FinancialYearEnding: 2024,
	})
	var conflict *batchdomain.CreateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ierr.ErrBatchAlreadyLive)
	assert.Equal(t, live.ID, conflict.Existing.ID)
}

func TestCreateSupplementaryIgnoresSentDuplicate(t *testing.T) {
	f := newFixture(t)
	f.batch(t, func(b *batchdomain.Batch) {
		b.Type = batchdomain.BatchTypeSupplementary
		b.Status = batchdomain.BatchStatusSent
	})

	b, _, err := f.svc.Create(context.Background(), batchdomain.CreateRequest{
		RegionID:            f.region.ID,
		Type:                batchdomain.BatchTypeSupplementary,
		FinancialYearEnding: 2024,
	})
	require.NoError(t, err)
	assert.Equal(t, 2023, b.FromFinancialYearEnding)
	assert.Equal(t, 2024, b.ToFinancialYearEnding)
}

func TestCreateRejectsUnknownRegionAndType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, batchdomain.CreateRequest{RegionID: f.node.Generate(), Type: batchdomain.BatchTypeAnnual, FinancialYearEnding: 2024})
	assert.ErrorIs(t, err, ierr.ErrRegionNotFound)

	_, _, err = f.svc.Create(ctx, batchdomain.CreateRequest{RegionID: f.region.ID, Type: "quarterly", FinancialYearEnding: 2024})
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestYearWindow(t *testing.T) {
	s := &Service{cfg: config.Default().Billing}

	tests := []struct {
		name     string
		typ      batchdomain.BatchType
		scheme   batchdomain.Scheme
		year     int
		from, to int
	}{
		{name: "annual legacy clamps to last legacy year", typ: batchdomain.BatchTypeAnnual, scheme: batchdomain.SchemeLegacy, year: 2025, from: 2022, to: 2022},
		{name: "two part tariff legacy", typ: batchdomain.BatchTypeTwoPartTariff, scheme: batchdomain.SchemeLegacy, year: 2021, from: 2021, to: 2021},
		{name: "supplementary legacy window", typ: batchdomain.BatchTypeSupplementary, scheme: batchdomain.SchemeLegacy, year: 2022, from: 2017, to: 2022},
		{name: "supplementary current starts at first current year", typ: batchdomain.BatchTypeSupplementary, scheme: batchdomain.SchemeCurrent, year: 2025, from: 2023, to: 2025},
		{name: "supplementary current long window", typ: batchdomain.BatchTypeSupplementary, scheme: batchdomain.SchemeCurrent, year: 2030, from: 2025, to: 2030},
		{name: "annual current", typ: batchdomain.BatchTypeAnnual, scheme: batchdomain.SchemeCurrent, year: 2024, from: 2024, to: 2024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := s.yearWindow(tt.typ, tt.scheme, tt.year)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestRequestExternalBillRunCreation(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, func(b *batchdomain.Batch) { b.Scheme = batchdomain.SchemeLegacy })
	f.gateway.On("CreateBillRun", mock.Anything, "A", "presroc").
		Return(&chargemodule.BillRun{ID: "b1e0a3f2-6c1d-4f6e-9a8b-1c2d3e4f5a6b", BillRunNumber: 10029}, nil).Once()

	updated, err := f.svc.RequestExternalBillRunCreation(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.ExternalID)
	assert.Equal(t, "b1e0a3f2-6c1d-4f6e-9a8b-1c2d3e4f5a6b", *updated.ExternalID)
	assert.Equal(t, 10029, *updated.BillRunNumber)

	again, err := f.svc.RequestExternalBillRunCreation(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, *updated.ExternalID, *again.ExternalID)
}

func readyBatch(f *fixture, t *testing.T) batchdomain.Batch {
	return f.batch(t, func(b *batchdomain.Batch) {
		b.Status = batchdomain.BatchStatusReady
		b.ExternalID = lo.ToPtr("0f3c2b1a-9d8e-4c7b-a6f5-e4d3c2b1a090")
	})
}

func TestApproveSuccess(t *testing.T) {
	f := newFixture(t)
	b := readyBatch(f, t)
	f.gateway.On("ApproveBillRun", mock.Anything, *b.ExternalID).Return(nil).Once()
	f.gateway.On("SendBillRun", mock.Anything, *b.ExternalID).Return(nil).Once()

	jobs, err := f.svc.Approve(context.Background(), b, reviewer)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobqueue.JobRefreshTotals, jobs[0].Name)

	assert.Equal(t, batchdomain.BatchStatusReady, f.reload(t, b.ID).Status)
	logs := f.auditLogs(t, auditdomain.ActionBatchApprove)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.StatusSuccess, logs[0].Status)
	assert.Equal(t, auditdomain.ActorTypeUser, logs[0].ActorType)
}

func TestApproveFailureRevertsToReady(t *testing.T) {
	f := newFixture(t)
	b := readyBatch(f, t)
	remoteErr := errors.New("charge module unavailable")
	f.gateway.On("ApproveBillRun", mock.Anything, *b.ExternalID).Return(nil).Once()
	f.gateway.On("SendBillRun", mock.Anything, *b.ExternalID).Return(remoteErr).Once()

	_, err := f.svc.Approve(context.Background(), b, reviewer)
	require.ErrorIs(t, err, remoteErr)

	assert.Equal(t, batchdomain.BatchStatusReady, f.reload(t, b.ID).Status)
	logs := f.auditLogs(t, auditdomain.ActionBatchApprove)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.StatusError, logs[0].Status)
}

func TestApproveRequiresReadyBatch(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, func(b *batchdomain.Batch) { b.Status = batchdomain.BatchStatusReview })

	_, err := f.svc.Approve(context.Background(), b, reviewer)
	require.Error(t, err)
	assert.True(t, ierr.IsBatchStatus(err))
	assert.Equal(t, batchdomain.MessageBatchNotReady, err.Error())
}

func TestUpdateWithExternalSummary(t *testing.T) {
	summary := batchdomain.ExternalSummary{
		InvoiceCount:    3,
		CreditNoteCount: 1,
		InvoiceValue:    125000,
		CreditNoteValue: -4000,
		NetTotal:        121000,
	}

	t.Run("billed becomes sent", func(t *testing.T) {
		f := newFixture(t)
		b := readyBatch(f, t)
		s := summary
		s.Status = chargemodule.BillRunStatusBilled

		updated, err := f.svc.UpdateWithExternalSummary(context.Background(), b.ID, s)
		require.NoError(t, err)
		assert.Equal(t, batchdomain.BatchStatusSent, updated.Status)
		assert.Equal(t, 3, updated.InvoiceCount)
		assert.Equal(t, 1, updated.CreditNoteCount)
		assert.EqualValues(t, 121000, updated.NetTotal)
	})

	t.Run("no transactions becomes empty", func(t *testing.T) {
		f := newFixture(t)
		b := f.batch(t, nil)
		s := summary
		s.Status = chargemodule.BillRunStatusGenerated

		updated, err := f.svc.UpdateWithExternalSummary(context.Background(), b.ID, s)
		require.NoError(t, err)
		assert.Equal(t, batchdomain.BatchStatusEmpty, updated.Status)
	})

	t.Run("transactions become ready", func(t *testing.T) {
		f := newFixture(t)
		b := f.batch(t, nil)
		seedInvoice(t, f, b, nil)
		s := summary
		s.Status = chargemodule.BillRunStatusGenerated

		updated, err := f.svc.UpdateWithExternalSummary(context.Background(), b.ID, s)
		require.NoError(t, err)
		assert.Equal(t, batchdomain.BatchStatusReady, updated.Status)
		assert.EqualValues(t, 125000, updated.InvoiceValue)
	})

	t.Run("ready batch without transactions becomes empty", func(t *testing.T) {
		f := newFixture(t)
		b := readyBatch(f, t)
		s := summary
		s.Status = chargemodule.BillRunStatusGenerated

		updated, err := f.svc.UpdateWithExternalSummary(context.Background(), b.ID, s)
		require.NoError(t, err)
		assert.Equal(t, batchdomain.BatchStatusEmpty, updated.Status)
	})

	t.Run("billing not required sends a processing batch", func(t *testing.T) {
		f := newFixture(t)
		b := f.batch(t, nil)
		seedInvoice(t, f, b, nil)
		s := summary
		s.Status = chargemodule.BillRunStatusBillingNotRequired

		updated, err := f.svc.UpdateWithExternalSummary(context.Background(), b.ID, s)
		require.NoError(t, err)
		assert.Equal(t, batchdomain.BatchStatusSent, updated.Status)
	})
}

func TestSetErrorStatus(t *testing.T) {
	t.Run("charge failure schedules remote delete", func(t *testing.T) {
		f := newFixture(t)
		b := readyBatch(f, t)
		v := &billingvolumedomain.BillingVolume{ChargeElementID: f.node.Generate(), BatchID: b.ID, LicenceID: f.node.Generate(), FinancialYear: 2024}
		require.NoError(t, f.volumes.Create(context.Background(), v))

		jobs, err := f.svc.SetErrorStatus(context.Background(), b.ID, batchdomain.ErrorCodeFailedToCreateCharge)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, jobqueue.JobDeleteRemoteBillRun, jobs[0].Name)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
		assert.Equal(t, *b.ExternalID, payload["external_id"])

		stored := f.reload(t, b.ID)
		assert.Equal(t, batchdomain.BatchStatusError, stored.Status)
		require.NotNil(t, stored.ErrorCode)
		assert.Equal(t, batchdomain.ErrorCodeFailedToCreateCharge, *stored.ErrorCode)

		var volume billingvolumedomain.BillingVolume
		require.NoError(t, f.db.First(&volume, "id = ?", v.ID).Error)
		assert.NotNil(t, volume.ErroredOn)

		again, err := f.svc.SetErrorStatus(context.Background(), b.ID, batchdomain.ErrorCodeFailedToCreateCharge)
		require.NoError(t, err)
		assert.Len(t, again, 1)
	})

	t.Run("bill run failure has no intents", func(t *testing.T) {
		f := newFixture(t)
		b := f.batch(t, nil)

		jobs, err := f.svc.SetErrorStatus(context.Background(), b.ID, batchdomain.ErrorCodeFailedToCreateBillRun)
		require.NoError(t, err)
		assert.Empty(t, jobs)
		assert.Equal(t, batchdomain.BatchStatusError, f.reload(t, b.ID).Status)
	})

	t.Run("sent batch is refused", func(t *testing.T) {
		f := newFixture(t)
		b := f.batch(t, func(b *batchdomain.Batch) { b.Status = batchdomain.BatchStatusSent })

		_, err := f.svc.SetErrorStatus(context.Background(), b.ID, batchdomain.ErrorCodeFailedToCreateCharge)
		assert.True(t, ierr.IsBatchStatus(err))
		assert.Equal(t, batchdomain.BatchStatusSent, f.reload(t, b.ID).Status)
	})
}

func TestApproveTptBatchReviewRejectsErroredVolumes(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, func(b *batchdomain.Batch) {
		b.Type = batchdomain.BatchTypeTwoPartTariff
		b.Status = batchdomain.BatchStatusReview
	})
	for _, hasError := range []bool{false, true} {
		require.NoError(t, f.volumes.Create(context.Background(), &billingvolumedomain.BillingVolume{
			ChargeElementID:    f.node.Generate(),
			BatchID:            b.ID,
			LicenceID:          f.node.Generate(),
			FinancialYear:      2024,
			TwoPartTariffError: hasError,
		}))
	}

	_, jobs, err := f.svc.ApproveTptBatchReview(context.Background(), b, reviewer)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierr.ErrBillingVolumeStatus)
	assert.Empty(t, jobs)
	assert.Equal(t, batchdomain.BatchStatusReview, f.reload(t, b.ID).Status)

	var approved int64
	require.NoError(t, f.db.Model(&billingvolumedomain.BillingVolume{}).Where("is_approved = ?", true).Count(&approved).Error)
	assert.Zero(t, approved)
}

func TestApproveTptBatchReviewMovesToProcessing(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, func(b *batchdomain.Batch) {
		b.Type = batchdomain.BatchTypeTwoPartTariff
		b.Status = batchdomain.BatchStatusReview
	})
	require.NoError(t, f.volumes.Create(context.Background(), &billingvolumedomain.BillingVolume{
		ChargeElementID: f.node.Generate(),
		BatchID:         b.ID,
		LicenceID:       f.node.Generate(),
		FinancialYear:   2024,
	}))

	updated, jobs, err := f.svc.ApproveTptBatchReview(context.Background(), b, reviewer)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.BatchStatusProcessing, updated.Status)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobqueue.JobCreateCharges, jobs[0].Name)
	assert.Len(t, f.auditLogs(t, auditdomain.ActionBatchReviewApprove), 1)
}

func TestApproveTptBatchReviewRequiresReview(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, func(b *batchdomain.Batch) { b.Type = batchdomain.BatchTypeTwoPartTariff })

	_, _, err := f.svc.ApproveTptBatchReview(context.Background(), b, reviewer)
	require.Error(t, err)
	assert.Equal(t, batchdomain.MessageBatchNotInReview, err.Error())
}

// seedInvoice adds an invoice with one licence, one transaction, a billing
// volume and a charge version year to the batch.
func seedInvoice(t *testing.T, f *fixture, b batchdomain.Batch, original *invoicedomain.Invoice) (invoicedomain.Invoice, licencedomain.Licence) {
	t.Helper()
	licence := licencedomain.Licence{
		ID:         f.node.Generate(),
		LicenceRef: "AN/" + f.node.Generate().String(),
		RegionID:   b.RegionID,
		UpdatedAt:  testsupport.Now,
	}
	inv := invoicedomain.Invoice{
		ID:                   f.node.Generate(),
		BatchID:              b.ID,
		InvoiceAccountID:     f.node.Generate(),
		InvoiceAccountNumber: "A00000001A",
		FinancialYearEnding:  b.ToFinancialYearEnding,
		CreatedAt:            testsupport.Now,
		UpdatedAt:            testsupport.Now,
	}
	if original != nil {
		inv.OriginalInvoiceID = &original.ID
		inv.RebillingState = lo.ToPtr(invoicedomain.RebillingStateRebill)
	}
	il := invoicedomain.InvoiceLicence{ID: f.node.Generate(), InvoiceID: inv.ID, LicenceID: licence.ID, LicenceRef: licence.LicenceRef, CreatedAt: testsupport.Now}
	chargeElementID := f.node.Generate()
	tx := transactiondomain.Transaction{
		ID:               f.node.Generate(),
		InvoiceLicenceID: il.ID,
		ChargeElementID:  chargeElementID,
		Status:           transactiondomain.TransactionStatusCandidate,
		StartDate:        testsupport.Now,
		EndDate:          testsupport.Now,
		Volume:           decimal.NewFromInt(12),
		CreatedAt:        testsupport.Now,
		UpdatedAt:        testsupport.Now,
	}
	volume := billingvolumedomain.BillingVolume{
		ID:              f.node.Generate(),
		ChargeElementID: chargeElementID,
		BatchID:         b.ID,
		LicenceID:       licence.ID,
		FinancialYear:   b.ToFinancialYearEnding,
		CreatedAt:       testsupport.Now,
		UpdatedAt:       testsupport.Now,
	}
	cvy := cvydomain.ChargeVersionYear{
		ID:                  f.node.Generate(),
		BatchID:             b.ID,
		ChargeVersionID:     f.node.Generate(),
		LicenceID:           licence.ID,
		FinancialYearEnding: b.ToFinancialYearEnding,
		TransactionType:     cvydomain.TransactionTypeAnnual,
		IsChargeable:        true,
		StartDate:           testsupport.Now,
		EndDate:             testsupport.Now,
		Status:              cvydomain.StatusReady,
		CreatedAt:           testsupport.Now,
	}
	testsupport.Insert(t, f.db, &licence, &inv, &il, &tx, &volume, &cvy)
	return inv, licence
}

func TestDeleteBatchRejectsSentBatch(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, func(b *batchdomain.Batch) {
		b.Status = batchdomain.BatchStatusSent
		b.ExternalID = lo.ToPtr("0f3c2b1a-9d8e-4c7b-a6f5-e4d3c2b1a090")
	})
	seedInvoice(t, f, b, nil)

	err := f.svc.DeleteBatch(context.Background(), b, reviewer)
	require.Error(t, err)
	assert.True(t, ierr.IsBatchStatus(err))
	assert.Equal(t, batchdomain.MessageSentBatchNotDeletable, err.Error())

	stored := f.reload(t, b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, batchdomain.BatchStatusSent, stored.Status)
	assert.EqualValues(t, 1, countRows(t, f.db, &invoicedomain.Invoice{}))
	f.gateway.AssertNotCalled(t, "DeleteBillRun", mock.Anything, mock.Anything)
}

func TestDeleteBatchCascades(t *testing.T) {
	f := newFixture(t)
	previous := f.batch(t, func(b *batchdomain.Batch) {
		b.Status = batchdomain.BatchStatusSent
		b.FromFinancialYearEnding = 2023
		b.ToFinancialYearEnding = 2023
	})
	original, _ := seedInvoice(t, f, previous, nil)
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("id = ?", original.ID).Update("is_flagged_for_rebilling", true).Error)

	b := readyBatch(f, t)
	_, licence := seedInvoice(t, f, b, &original)
	f.gateway.On("DeleteBillRun", mock.Anything, *b.ExternalID).Return(nil).Once()

	require.NoError(t, f.svc.DeleteBatch(context.Background(), b, reviewer))

	assert.Nil(t, f.reload(t, b.ID))
	assert.EqualValues(t, 1, countRows(t, f.db, &invoicedomain.Invoice{}))
	assert.EqualValues(t, 1, countRows(t, f.db, &invoicedomain.InvoiceLicence{}))
	assert.EqualValues(t, 1, countRows(t, f.db, &transactiondomain.Transaction{}))
	assert.EqualValues(t, 1, countRows(t, f.db, &billingvolumedomain.BillingVolume{}))
	assert.EqualValues(t, 1, countRows(t, f.db, &cvydomain.ChargeVersionYear{}))

	var storedOriginal invoicedomain.Invoice
	require.NoError(t, f.db.First(&storedOriginal, "id = ?", original.ID).Error)
	assert.False(t, storedOriginal.IsFlaggedForRebilling)

	var storedLicence licencedomain.Licence
	require.NoError(t, f.db.First(&storedLicence, "id = ?", licence.ID).Error)
	assert.True(t, storedLicence.IncludeInSupplementaryBilling)

	logs := f.auditLogs(t, auditdomain.ActionBatchCancel)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.StatusSuccess, logs[0].Status)
}

func TestDeleteBatchRemoteFailureSetsError(t *testing.T) {
	f := newFixture(t)
	b := readyBatch(f, t)
	seedInvoice(t, f, b, nil)
	remoteErr := errors.New("bill run locked")
	f.gateway.On("DeleteBillRun", mock.Anything, *b.ExternalID).Return(remoteErr).Once()

	err := f.svc.DeleteBatch(context.Background(), b, reviewer)
	require.ErrorIs(t, err, remoteErr)

	stored := f.reload(t, b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, batchdomain.BatchStatusError, stored.Status)
	assert.EqualValues(t, 1, countRows(t, f.db, &invoicedomain.Invoice{}))
	logs := f.auditLogs(t, auditdomain.ActionBatchCancel)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.StatusError, logs[0].Status)
}

func TestGetSummary(t *testing.T) {
	f := newFixture(t)
	b := readyBatch(f, t)

	summary, err := f.svc.GetSummary(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID.String(), summary.ID)
	assert.Equal(t, "Anglian", summary.Region.Name)
	assert.Equal(t, batchdomain.YearRange{From: 2024, To: 2024}, summary.FinancialYears)

	_, err = f.svc.GetSummary(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, ierr.ErrBatchNotFound)
}
