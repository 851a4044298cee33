package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	"github.com/railzwaylabs/waterbilling/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFlagForSupplementaryBilling(t *testing.T) {
	ctx := context.Background()
	db := testsupport.NewDB(t)
	node := testsupport.Node(t)
	regionID := node.Generate()

	first := licencedomain.Licence{ID: node.Generate(), LicenceRef: "01/123", RegionID: regionID, UpdatedAt: testsupport.Now.AddDate(0, -1, 0)}
	second := licencedomain.Licence{ID: node.Generate(), LicenceRef: "02/456", RegionID: regionID, UpdatedAt: testsupport.Now.AddDate(0, -1, 0)}
	untouched := licencedomain.Licence{ID: node.Generate(), LicenceRef: "03/789", RegionID: regionID, UpdatedAt: testsupport.Now.AddDate(0, -1, 0)}
	testsupport.Insert(t, db, &first, &second, &untouched)

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), Clock: clock.Fixed{At: testsupport.Now}})

	require.NoError(t, svc.FlagForSupplementaryBilling(ctx, first.ID, second.ID, first.ID))
	require.NoError(t, svc.FlagForSupplementaryBilling(ctx))

	got, err := svc.FindByIDs(ctx, []snowflake.ID{first.ID, second.ID, untouched.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[first.ID].IncludeInSupplementaryBilling)
	assert.True(t, got[second.ID].IncludeInSupplementaryBilling)
	assert.False(t, got[untouched.ID].IncludeInSupplementaryBilling)
	assert.True(t, got[first.ID].UpdatedAt.Equal(testsupport.Now))
}

func TestFindByIDsEmpty(t *testing.T) {
	svc := NewService(ServiceParam{DB: testsupport.NewDB(t), Log: zap.NewNop(), Clock: clock.SystemClock{}})

	got, err := svc.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
