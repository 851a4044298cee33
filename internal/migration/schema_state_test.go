package migration

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedManifest(t *testing.T) {
	m, err := EmbeddedManifest()
	require.NoError(t, err)
	assert.Equal(t, uint(2), m.Version)
	assert.Len(t, m.Checksum, 64)

	again, err := EmbeddedManifest()
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]struct {
		want uint
		ok   bool
	}{
		"000001_billing_core.up.sql": {1, true},
		"000012_x.up.sql":            {12, true},
		"billing.up.sql":             {0, false},
		"abc_x.up.sql":               {0, false},
		"000000_zero.up.sql":         {0, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := parseMigrationVersion(name)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVerifySchema(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	db, err := conn.DB()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	ctx := context.Background()

	_, err = db.Exec(`CREATE TABLE schema_state (
		id BOOLEAN PRIMARY KEY, version TEXT NOT NULL, checksum TEXT NOT NULL, applied_at TIMESTAMP NOT NULL)`)
	require.NoError(t, err)

	err = VerifySchema(ctx, db)
	assert.ErrorIs(t, err, ErrSchemaOutdated)

	m, err := EmbeddedManifest()
	require.NoError(t, err)
	require.NoError(t, recordSchemaState(ctx, db, Manifest{Version: m.Version - 1, Checksum: "old"}, time.Now()))
	assert.ErrorIs(t, VerifySchema(ctx, db), ErrSchemaOutdated)

	require.NoError(t, recordSchemaState(ctx, db, m, time.Now()))
	assert.NoError(t, VerifySchema(ctx, db))
}
