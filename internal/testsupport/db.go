// Package testsupport builds in-memory databases and fixtures for package tests.
package testsupport

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	cvydomain "github.com/railzwaylabs/waterbilling/internal/chargeversionyear/domain"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Models lists every table the billing core owns.
func Models() []any {
	return []any{
		&batchdomain.Region{},
		&batchdomain.Batch{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLicence{},
		&transactiondomain.Transaction{},
		&billingvolumedomain.BillingVolume{},
		&cvydomain.ChargeVersionYear{},
		&licencedomain.Licence{},
		&auditdomain.AuditLog{},
	}
}

// NewDB opens a private in-memory sqlite database with the schema applied.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_batches_live_region
		ON billing_batches (region_id) WHERE status IN ('processing', 'ready', 'review')`).Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Now is the fixed instant used by fixtures.
var Now = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
