// Package domain defines the audit event log for batch lifecycle operations.
package domain

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	"gorm.io/datatypes"
)

const (
	ActionBatchApprove       = "billing-batch:approve"
	ActionBatchCancel        = "billing-batch:cancel"
	ActionBatchReviewApprove = "billing-batch:review-approve"
	ActionInvoiceDelete      = "billing-invoice:delete"
	ActionVolumeEdit         = "billing-volume:edit"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// AuditLog is one recorded action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Status     string            `gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Repository interface {
	Insert(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ListFilter struct {
	StartDate time.Time
	EndDate   time.Time
	Actions   []string
	TargetID  *string
}

type Service interface {
	AuditLog(ctx context.Context, actorType string, actorID *string, action, targetType string, targetID *string, status string, metadata map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
	Purge(ctx context.Context, retentionDays int) (int64, error)
}

// ActorFor returns the actor columns for a user. The zero-ID user is the system.
func ActorFor(u actor.User) (string, *string) {
	if u.ID == 0 {
		return ActorTypeSystem, nil
	}
	id := strconv.FormatInt(u.ID, 10)
	return ActorTypeUser, &id
}
