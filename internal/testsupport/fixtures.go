package testsupport

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Insert writes fixture rows as given.
func Insert(t testing.TB, db *gorm.DB, rows ...any) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}
}
