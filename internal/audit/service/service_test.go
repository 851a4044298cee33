package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/testsupport"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T, at time.Time) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	db := testsupport.NewDB(t)
	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testsupport.Node(t),
		Clock: clock.Fixed{At: at},
	}), db
}

func TestExportFiltersByBatchAndAction(t *testing.T) {
	ctx := context.Background()
	svc, db := newAuditService(t, testsupport.Now)

	batchA, batchB := "101", "202"
	require.NoError(t, svc.AuditLog(ctx, auditdomain.ActorTypeUser, lo.ToPtr("7"), auditdomain.ActionBatchApprove, "billing_batch", &batchA, "", map[string]any{"region": "A"}))
	require.NoError(t, svc.AuditLog(ctx, auditdomain.ActorTypeUser, lo.ToPtr("7"), auditdomain.ActionBatchCancel, "billing_batch", &batchA, auditdomain.StatusError, nil))
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionBatchApprove, "billing_batch", &batchB, "", nil))

	export := NewExportService(db)
	result, err := export.Export(ctx, auditdomain.ExportRequest{
		StartDate: testsupport.Now.Add(-time.Hour),
		EndDate:   testsupport.Now.Add(time.Hour),
		Format:    auditdomain.ExportFormatCSV,
		Actions:   []string{auditdomain.ActionBatchApprove},
		BatchID:   &batchA,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Len(t, result.Checksum, 64)

	rows, err := csv.NewReader(bytes.NewReader(result.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, auditdomain.ActionBatchApprove, rows[1][3])
	assert.Equal(t, batchA, rows[1][5])
	assert.Equal(t, auditdomain.StatusSuccess, rows[1][6])
}

func TestExportRejectsOversizedRange(t *testing.T) {
	_, db := newAuditService(t, testsupport.Now)

	_, err := NewExportService(db).Export(context.Background(), auditdomain.ExportRequest{
		StartDate: testsupport.Now.AddDate(0, -6, 0),
		EndDate:   testsupport.Now,
		Format:    auditdomain.ExportFormatJSON,
	})
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestPurgeKeepsEventsInsideRetention(t *testing.T) {
	ctx := context.Background()
	old, db := newAuditService(t, testsupport.Now.AddDate(0, 0, -40))
	require.NoError(t, old.AuditLog(ctx, "", nil, auditdomain.ActionBatchApprove, "billing_batch", nil, "", nil))

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: testsupport.Node(t), Clock: clock.Fixed{At: testsupport.Now}})
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionBatchCancel, "billing_batch", nil, "", nil))

	deleted, err := svc.Purge(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := svc.List(ctx, auditdomain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, auditdomain.ActionBatchCancel, remaining[0].Action)

	deleted, err = svc.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
