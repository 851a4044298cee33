package domain

import (
	"fmt"

	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
)

// IsTransitionAllowed encodes the batch state machine. A processing batch
// may go straight to sent when the remote run needs no billing, and a ready
// batch becomes empty once its last invoice is removed.
func IsTransitionAllowed(current, target BatchStatus) bool {
	if current == target {
		return true
	}
	if target == BatchStatusError {
		return current != BatchStatusSent
	}
	switch current {
	case BatchStatusProcessing:
		return target == BatchStatusReady ||
			target == BatchStatusReview ||
			target == BatchStatusEmpty ||
			target == BatchStatusSent
	case BatchStatusReview:
		return target == BatchStatusProcessing
	case BatchStatusReady:
		return target == BatchStatusSent || target == BatchStatusEmpty
	default:
		return false
	}
}

// CanDelete reports whether the batch may be removed.
func (b *Batch) CanDelete() bool {
	return b.Status != BatchStatusSent
}

// CreateConflictError is returned when a batch cannot be created because of
// an existing live batch or an already sent duplicate. Existing is the batch
// the caller should link to.
type CreateConflictError struct {
	Err      error
	Existing Batch
}

func (e *CreateConflictError) Error() string {
	return e.Err.Error()
}

func (e *CreateConflictError) Unwrap() error {
	return e.Err
}

func newLiveBatchConflict(existing Batch) error {
	return &CreateConflictError{
		Err:      ierr.ErrBatchAlreadyLive.New("Batch already live for region %s", existing.RegionID),
		Existing: existing,
	}
}

func newSentBatchConflict(existing Batch) error {
	return &CreateConflictError{
		Err: ierr.ErrBatchAlreadySent.New(
			"%s batch already sent for: region %s, financial year %d, isSummer %t",
			existing.Type, existing.RegionID, existing.ToFinancialYearEnding, existing.IsSummer,
		),
		Existing: existing,
	}
}

// NewCreateConflict resolves which of the two conflicts to report. A live
// batch takes precedence over an already sent duplicate.
func NewCreateConflict(live, sent *Batch) error {
	if live != nil {
		return newLiveBatchConflict(*live)
	}
	if sent != nil {
		return newSentBatchConflict(*sent)
	}
	return nil
}

func statusMessage(format string, args ...any) error {
	return ierr.BatchStatus(fmt.Sprintf(format, args...))
}

// AssertStatus fails with a batch-status error unless the batch is in one of the statuses.
func (b *Batch) AssertStatus(allowed ...BatchStatus) error {
	for _, s := range allowed {
		if b.Status == s {
			return nil
		}
	}
	return statusMessage("Batch %s has status %s, expected %v", b.ID, b.Status, allowed)
}
