package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	auditservice "github.com/railzwaylabs/waterbilling/internal/audit/service"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	batchservice "github.com/railzwaylabs/waterbilling/internal/batch/service"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	billingvolumeservice "github.com/railzwaylabs/waterbilling/internal/billingvolume/service"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	"github.com/railzwaylabs/waterbilling/internal/config"
	invoiceservice "github.com/railzwaylabs/waterbilling/internal/invoice/service"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	licenceservice "github.com/railzwaylabs/waterbilling/internal/licence/service"
	"github.com/railzwaylabs/waterbilling/internal/testsupport"
	transactionservice "github.com/railzwaylabs/waterbilling/internal/transaction/service"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *testsupport.MockGateway
	queue   *jobqueue.Queue
	region  batchdomain.Region
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testsupport.NewDB(t)
	node := testsupport.Node(t)
	clk := clock.Fixed{At: testsupport.Now}
	log := zap.NewNop()
	cfg := config.Default()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{db: db, node: node, gateway: &testsupport.MockGateway{}}
	f.region = batchdomain.Region{ID: node.Generate(), ChargeRegionID: "A", Name: "Anglian"}
	testsupport.Insert(t, db, &f.region)

	f.queue = jobqueue.NewQueue(jobqueue.QueueParam{Redis: rdb, Config: cfg, Log: log, Clock: clk})
	audit := auditservice.NewService(auditservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: clk})
	licences := licenceservice.NewService(licenceservice.ServiceParam{DB: db, Log: log, Clock: clk})
	volumes := billingvolumeservice.NewService(billingvolumeservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Licences: licences,
	})
	batches := batchservice.NewService(batchservice.ServiceParam{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Config:         cfg,
		ChargeModule:   f.gateway,
		BillingVolumes: volumes,
		Licences:       licences,
		AuditSvc:       audit,
	})

	s := NewServer(ServerParam{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Redis:   rdb,
		Queue:   f.queue,
		Batches: batches,
		Invoices: invoiceservice.NewService(invoiceservice.ServiceParam{
			DB: db, Log: log, GenID: node, Clock: clk, ChargeModule: f.gateway, Batches: batches, Licences: licences, AuditSvc: audit,
		}),
		Explanations:   invoiceservice.NewExplanationService(db),
		Transactions:   transactionservice.NewService(transactionservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: clk}),
		BillingVolumes: volumes,
		AuditExport:    auditservice.NewExportService(db),
	})
	f.handler = s.Handler()
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

var reviewer = actor.User{ID: 42, Email: "reviewer@example.com"}

func (f *fixture) do(t *testing.T, method, path string, body any, user *actor.User) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set(headerUserID, "42")
		req.Header.Set(headerUserEmail, user.Email)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) batch(t *testing.T, batchType batchdomain.BatchType, status batchdomain.BatchStatus) batchdomain.Batch {
	t.Helper()
	b := batchdomain.Batch{
		ID:                      f.node.Generate(),
		RegionID:                f.region.ID,
		Type:                    batchType,
		Status:                  status,
		Scheme:                  batchdomain.SchemeCurrent,
		FromFinancialYearEnding: 2024,
		ToFinancialYearEnding:   2024,
		CreatedAt:               testsupport.Now,
		UpdatedAt:               testsupport.Now,
	}
	testsupport.Insert(t, f.db, &b)
	return b
}

type dataBody[T any] struct {
	Data T `json:"data"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *fixture) dequeue(t *testing.T) *jobqueue.Job {
	t.Helper()
	d, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	if d == nil {
		return nil
	}
	return &d.Job
}

func TestCreateBatchQueuesBillRunAndReplaysIdempotently(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"region_id":             f.region.ID.String(),
		"type":                  batchdomain.BatchTypeAnnual,
		"financial_year_ending": 2025,
	}

	req := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		r := httptest.NewRequest(http.MethodPost, "/api/v1/batches", &buf)
		r.Header.Set(headerUserID, "42")
		r.Header.Set(headerUserEmail, reviewer.Email)
		r.Header.Set("Idempotency-Key", "create-1")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, r)
		return rec
	}

	first := req()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	created := decode[dataBody[batchdomain.Summary]](t, first).Data
	assert.Equal(t, batchdomain.BatchStatusProcessing, created.Status)
	assert.Equal(t, "A", created.Region.ChargeRegionID)

	job := f.dequeue(t)
	require.NotNil(t, job)
	assert.Equal(t, jobqueue.JobCreateBillRun, job.Name)
	assert.Equal(t, created.ID, job.BatchID.String())

	replay := req()
	require.Equal(t, http.StatusOK, replay.Code, replay.Body.String())
	assert.Equal(t, created.ID, decode[dataBody[batchdomain.Summary]](t, replay).Data.ID)
	assert.Nil(t, f.dequeue(t))
}

func TestCreateBatchConflictReportsExistingBatch(t *testing.T) {
	f := newFixture(t)
	live := f.batch(t, batchdomain.BatchTypeSupplementary, batchdomain.BatchStatusReady)

	rec := f.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"region_id":             f.region.ID.String(),
		"type":                  batchdomain.BatchTypeAnnual,
		"financial_year_ending": 2025,
	}, &reviewer)

	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[APIErrorResponse](t, rec)
	assert.Equal(t, "batch_already_live", resp.Code)
	require.NotNil(t, resp.ExistingBatch)
	assert.Equal(t, live.ID.String(), resp.ExistingBatch.ID)
	assert.Nil(t, f.dequeue(t))
}

func TestStateChangesRequireUser(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, batchdomain.BatchTypeAnnual, batchdomain.BatchStatusReady)

	rec := f.do(t, http.MethodPost, "/api/v1/batches/"+b.ID.String()+"/approve", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, f.dequeue(t))
}

func TestGetBatch(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, batchdomain.BatchTypeAnnual, batchdomain.BatchStatusReady)

	t.Run("found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/batches/"+b.ID.String(), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, b.ID.String(), decode[dataBody[batchdomain.Summary]](t, rec).Data.ID)
	})
	t.Run("missing", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/batches/"+f.node.Generate().String(), nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "batch_not_found", decode[APIErrorResponse](t, rec).Code)
	})
	t.Run("malformed id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/batches/not-an-id", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestApproveBatchQueuesApprovalForUser(t *testing.T) {
	f := newFixture(t)

	t.Run("not ready", func(t *testing.T) {
		b := f.batch(t, batchdomain.BatchTypeAnnual, batchdomain.BatchStatusProcessing)
		rec := f.do(t, http.MethodPost, "/api/v1/batches/"+b.ID.String()+"/approve", nil, &reviewer)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, batchdomain.MessageBatchNotReady, decode[APIErrorResponse](t, rec).Message)
		assert.Nil(t, f.dequeue(t))
	})

	t.Run("ready", func(t *testing.T) {
		b := f.batch(t, batchdomain.BatchTypeSupplementary, batchdomain.BatchStatusReady)
		rec := f.do(t, http.MethodPost, "/api/v1/batches/"+b.ID.String()+"/approve", nil, &reviewer)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		job := f.dequeue(t)
		require.NotNil(t, job)
		assert.Equal(t, jobqueue.JobApproveBatch, job.Name)
		var payload jobqueue.ApprovePayload
		require.NoError(t, job.DecodePayload(&payload))
		assert.Equal(t, reviewer, payload.User)
	})
}

func TestUpdateBillingVolumeStampsReviewer(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, batchdomain.BatchTypeTwoPartTariff, batchdomain.BatchStatusReview)
	v := billingvolumedomain.BillingVolume{
		ID:               f.node.Generate(),
		ChargeElementID:  f.node.Generate(),
		BatchID:          b.ID,
		LicenceID:        f.node.Generate(),
		FinancialYear:    2024,
		CalculatedVolume: decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
		Volume:           decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
		CreatedAt:        testsupport.Now,
		UpdatedAt:        testsupport.Now,
	}
	testsupport.Insert(t, f.db, &v)

	rec := f.do(t, http.MethodPatch, "/api/v1/billing-volumes/"+v.ID.String(), map[string]any{"volume": "7.25"}, &reviewer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[dataBody[billingVolumeView]](t, rec).Data
	require.NotNil(t, got.Volume)
	assert.True(t, got.Volume.Equal(decimal.RequireFromString("7.25")))
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, reviewer.Email, got.ReviewedBy.Email)

	t.Run("negative volume rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/v1/billing-volumes/"+v.ID.String(), map[string]any{"volume": "-1"}, &reviewer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditExportValidatesRange(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/audit/export?start_date=2024-01-01", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/export?start_date=2024-01-01&end_date=2024-06-01", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/export?start_date=2024-01-01&end_date=2024-01-31&format=json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Audit-Export-Checksum"))
	assert.Equal(t, "0", rec.Header().Get("X-Audit-Export-Count"))
}

func TestReadiness(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ReadinessResponse](t, rec)
	assert.Equal(t, ReadinessStateReady, resp.SystemState)
	assert.Len(t, resp.Checks, 3)
}
