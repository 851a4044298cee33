// Package domain contains two-part-tariff billing volumes and the approval gate rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	"github.com/railzwaylabs/waterbilling/internal/financialyear"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	MessageApprovedVolumeNotEditable = "Approved billing volumes cannot be edited"
	MessageVolumesHaveErrors         = "Cannot approve billing volumes with two-part tariff errors"
)

// BillingVolume is the reviewable volume for one charge element, financial
// year and season within a batch.
type BillingVolume struct {
	ID                  snowflake.ID                    `gorm:"primaryKey"`
	ChargeElementID     snowflake.ID                    `gorm:"not null;index"`
	BatchID             snowflake.ID                    `gorm:"not null;index"`
	LicenceID           snowflake.ID                    `gorm:"not null;index"`
	FinancialYear       int                             `gorm:"not null"`
	IsSummer            bool                            `gorm:"not null;default:false"`
	CalculatedVolume    decimal.NullDecimal             `gorm:"type:numeric"`
	Volume              decimal.NullDecimal             `gorm:"type:numeric"`
	IsApproved          bool                            `gorm:"not null;default:false"`
	TwoPartTariffError  bool                            `gorm:"not null;default:false"`
	TwoPartTariffStatus *int                            `gorm:""`
	TwoPartTariffReview datatypes.JSONType[*actor.User] `gorm:"not null;default:'null'"`
	ErroredOn           *time.Time                      `gorm:""`
	CreatedAt           time.Time                       `gorm:"not null"`
	UpdatedAt           time.Time                       `gorm:"not null"`
}

// TableName sets the database table name.
func (BillingVolume) TableName() string { return "billing_volumes" }

// Reviewer returns the user who last edited the volume, if any.
func (v *BillingVolume) Reviewer() *actor.User {
	return v.TwoPartTariffReview.Data()
}

// IsEdited reports whether a reviewer has changed the calculated volume.
func (v *BillingVolume) IsEdited() bool {
	return v.Reviewer() != nil
}

// ChargePeriod is the date range a billing volume covers.
type ChargePeriod struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// LicenceBillingVolume is a full billing volume record with its charge period.
type LicenceBillingVolume struct {
	BillingVolume
	ChargePeriod ChargePeriod
}

// ChargePeriodFor clamps a charge version range to the volume's financial year.
func ChargePeriodFor(financialYearEnding int, versionStart time.Time, versionEnd *time.Time) ChargePeriod {
	fy := financialyear.New(financialYearEnding)
	start := fy.Start()
	if versionStart.After(start) {
		start = versionStart
	}
	end := fy.End()
	if versionEnd != nil && versionEnd.Before(end) {
		end = *versionEnd
	}
	return ChargePeriod{StartDate: start, EndDate: end}
}

// HasErrors reports whether any volume still carries a two-part-tariff error.
func HasErrors(volumes []BillingVolume) bool {
	for _, v := range volumes {
		if v.TwoPartTariffError {
			return true
		}
	}
	return false
}

// LicenceReviewRow summarises the two-part-tariff review state of one licence.
type LicenceReviewRow struct {
	LicenceID             string `json:"licence_id"`
	LicenceRef            string `json:"licence_ref"`
	TwoPartTariffError    bool   `json:"two_part_tariff_error"`
	TwoPartTariffStatuses []int  `json:"two_part_tariff_statuses"`
	BillingContact        string `json:"billing_contact"`
	BillingVolumeEdited   bool   `json:"billing_volume_edited"`
}
