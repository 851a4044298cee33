package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type ListFilter struct {
	RegionID *snowflake.ID
	Statuses []BatchStatus
	Limit    int
}

type Repository interface {
	// InsertIfNoConflict writes the batch only when no live batch exists for the
	// region and no sent batch matches its type, year and season. It reports
	// whether the row was written.
	InsertIfNoConflict(ctx context.Context, b *Batch) (bool, error)
	FindByID(ctx context.Context, id snowflake.ID) (*Batch, error)
	FindByIDForUpdate(ctx context.Context, id snowflake.ID) (*Batch, error)
	FindLiveByRegion(ctx context.Context, regionID snowflake.ID) (*Batch, error)
	FindSentDuplicate(ctx context.Context, regionID snowflake.ID, batchType BatchType, toFinancialYearEnding int, isSummer bool) (*Batch, error)
	List(ctx context.Context, filter ListFilter) ([]Batch, error)
	Update(ctx context.Context, id snowflake.ID, fields map[string]any) error
	// CompareAndSetStatus moves the batch to `to` only when its current status is one of `from`.
	CompareAndSetStatus(ctx context.Context, id snowflake.ID, from []BatchStatus, to BatchStatus, fields map[string]any) (bool, error)
	Delete(ctx context.Context, id snowflake.ID) error
	FindRegion(ctx context.Context, id snowflake.ID) (*Region, error)
}
