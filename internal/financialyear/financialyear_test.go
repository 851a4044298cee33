package financialyear

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromDate(t *testing.T) {
	assert.Equal(t, 2023, FromDate(time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC)).Ending)
	assert.Equal(t, 2024, FromDate(time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC)).Ending)
}

func TestYearBounds(t *testing.T) {
	y := New(2023)
	assert.Equal(t, time.Date(2022, time.April, 1, 0, 0, 0, 0, time.UTC), y.Start())
	assert.Equal(t, time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC), y.End())
	assert.True(t, y.Contains(time.Date(2023, time.March, 31, 15, 0, 0, 0, time.UTC)))
	assert.False(t, y.Contains(time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2022-23", y.String())
}

func TestRange(t *testing.T) {
	years := Range(2019, 2023)
	assert.Len(t, years, 5)
	assert.Equal(t, 2019, years[0].Ending)
	assert.Equal(t, 2023, years[4].Ending)
	assert.Nil(t, Range(2023, 2019))
}

func TestOverlaps(t *testing.T) {
	d := func(m time.Month, day int) time.Time { return time.Date(2023, m, day, 0, 0, 0, 0, time.UTC) }
	assert.True(t, Overlaps(d(4, 1), d(6, 30), d(6, 30), d(9, 1)))
	assert.False(t, Overlaps(d(4, 1), d(6, 29), d(6, 30), d(9, 1)))
}
