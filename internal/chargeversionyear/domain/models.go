// Package domain holds the charge version years queued for processing in a batch.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type TransactionType string

const (
	TransactionTypeAnnual        TransactionType = "annual"
	TransactionTypeTwoPartTariff TransactionType = "two_part_tariff"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// ChargeVersionYear is one charge version billed for one financial year in a batch.
type ChargeVersionYear struct {
	ID                  snowflake.ID    `gorm:"primaryKey"`
	BatchID             snowflake.ID    `gorm:"not null;index"`
	ChargeVersionID     snowflake.ID    `gorm:"not null"`
	LicenceID           snowflake.ID    `gorm:"not null;index"`
	FinancialYearEnding int             `gorm:"not null"`
	TransactionType     TransactionType `gorm:"type:text;not null"`
	IsSummer            bool            `gorm:"not null;default:false"`
	HasTwoPartAgreement bool            `gorm:"not null;default:false"`
	IsChargeable        bool            `gorm:"not null;default:true"`
	StartDate           time.Time       `gorm:"not null"`
	EndDate             time.Time       `gorm:"not null"`
	Status              Status          `gorm:"type:text;not null"`
	CreatedAt           time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (ChargeVersionYear) TableName() string { return "billing_batch_charge_version_years" }

// Covers reports whether the year backs a second-part charge for the licence
// and financial year over the given period. A year with a two-part agreement
// or a non-chargeable year always does; an annual year without an agreement
// only when its dates overlap the period.
func (c ChargeVersionYear) Covers(licenceID snowflake.ID, financialYearEnding int, start, end time.Time) bool {
	if c.LicenceID != licenceID || c.FinancialYearEnding != financialYearEnding {
		return false
	}
	if c.HasTwoPartAgreement || !c.IsChargeable {
		return true
	}
	return c.TransactionType == TransactionTypeAnnual && !c.StartDate.After(end) && !c.EndDate.Before(start)
}

type Repository interface {
	Insert(ctx context.Context, cvy *ChargeVersionYear) error
	FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]ChargeVersionYear, error)
	FindByBatchIDAndLicenceID(ctx context.Context, batchID, licenceID snowflake.ID) ([]ChargeVersionYear, error)
	UpdateStatusByBatchID(ctx context.Context, batchID snowflake.ID, status Status) error
	DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error
	DeleteByBatchIDAndLicenceIDs(ctx context.Context, batchID snowflake.ID, licenceIDs []snowflake.ID, financialYearEnding int) error
}
