package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
)

const (
	JobCreateBillRun       = "billing.create-bill-run"
	JobPopulateBatch       = "billing.populate-batch"
	JobCreateCharges       = "billing.create-charges"
	JobRefreshTotals       = "billing.refresh-totals"
	JobApproveBatch        = "billing.approve-batch"
	JobDeleteRemoteBillRun = "billing.delete-remote-bill-run"
)

// Job is a unit of background work keyed by the batch it acts on. Domain
// operations return jobs as intents; the caller decides when to enqueue them.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	BatchID    snowflake.ID    `json:"batch_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob builds an intent for the named job.
func NewJob(name string, batchID snowflake.ID) Job {
	return Job{Name: name, BatchID: batchID}
}

// WithPayload attaches a JSON payload to the job.
func (j Job) WithPayload(v any) (Job, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return j, err
	}
	j.Payload = raw
	return j, nil
}

// DedupeKey identifies equivalent jobs so the same work is never queued twice.
func (j Job) DedupeKey() string {
	return j.Name + ":" + j.BatchID.String()
}

// DecodePayload reads the job payload into v. An empty payload leaves v untouched.
func (j Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// ApprovePayload carries the user who asked for a batch to be approved.
type ApprovePayload struct {
	User actor.User `json:"user"`
}

// DeleteRemotePayload names the remote bill run to remove.
type DeleteRemotePayload struct {
	ExternalID string `json:"external_id"`
}
