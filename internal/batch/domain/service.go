package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
)

type CreateRequest struct {
	RegionID            snowflake.ID `json:"region_id" validate:"required"`
	Type                BatchType    `json:"type" validate:"required"`
	FinancialYearEnding int          `json:"financial_year_ending" validate:"required,gte=2000"`
	IsSummer            bool         `json:"is_summer"`
	Scheme              Scheme       `json:"scheme,omitempty"`
}

// Service drives the batch lifecycle. Operations that need background work
// return it as jobs for the caller to enqueue.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Batch, []jobqueue.Job, error)
	GetBatch(ctx context.Context, id snowflake.ID) (*Batch, error)
	GetSummary(ctx context.Context, id snowflake.ID) (*Summary, error)
	List(ctx context.Context, filter ListFilter) ([]Summary, error)
	RequestExternalBillRunCreation(ctx context.Context, id snowflake.ID) (*Batch, error)
	Approve(ctx context.Context, batch Batch, user actor.User) ([]jobqueue.Job, error)
	UpdateWithExternalSummary(ctx context.Context, id snowflake.ID, summary ExternalSummary) (*Batch, error)
	SetErrorStatus(ctx context.Context, id snowflake.ID, code ErrorCode) ([]jobqueue.Job, error)
	SetStatus(ctx context.Context, id snowflake.ID, to BatchStatus) (*Batch, error)
	DeleteBatch(ctx context.Context, batch Batch, user actor.User) error
	ApproveTptBatchReview(ctx context.Context, batch Batch, user actor.User) (*Batch, []jobqueue.Job, error)
}

const (
	MessageSentBatchNotDeletable = "Sent batch cannot be deleted"
	MessageBatchNotInReview      = "Batch must have review status"
	MessageBatchNotReady         = "Batch must have ready status"
	MessageNoExternalBillRun     = "Batch has no Charge Module bill run"
)
