// Package financialyear models the 1 April to 31 March charging year.
package financialyear

import (
	"fmt"
	"time"
)

// Year is identified by the calendar year in which it ends.
type Year struct {
	Ending int
}

func New(ending int) Year {
	return Year{Ending: ending}
}

// FromDate returns the financial year containing the date.
func FromDate(t time.Time) Year {
	if t.Month() >= time.April {
		return Year{Ending: t.Year() + 1}
	}
	return Year{Ending: t.Year()}
}

func (y Year) Starting() int { return y.Ending - 1 }

func (y Year) Start() time.Time {
	return time.Date(y.Ending-1, time.April, 1, 0, 0, 0, 0, time.UTC)
}

func (y Year) End() time.Time {
	return time.Date(y.Ending, time.March, 31, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether the date falls inside the year, inclusive of both ends.
func (y Year) Contains(t time.Time) bool {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(y.Start()) && !d.After(y.End())
}

func (y Year) Previous() Year { return Year{Ending: y.Ending - 1} }

func (y Year) String() string {
	return fmt.Sprintf("%d-%02d", y.Ending-1, y.Ending%100)
}

// Range returns every year from `from` to `to` inclusive, oldest first.
func Range(from, to int) []Year {
	if to < from {
		return nil
	}
	years := make([]Year, 0, to-from+1)
	for e := from; e <= to; e++ {
		years = append(years, Year{Ending: e})
	}
	return years
}

// Overlaps reports whether two inclusive date ranges share at least one day.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
