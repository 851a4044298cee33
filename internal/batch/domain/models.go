// Package domain contains the billing batch model and its lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BatchType selects which charge versions a batch bills.
type BatchType string

const (
	BatchTypeAnnual        BatchType = "annual"
	BatchTypeSupplementary BatchType = "supplementary"
	BatchTypeTwoPartTariff BatchType = "two_part_tariff"
)

func (t BatchType) Valid() bool {
	switch t {
	case BatchTypeAnnual, BatchTypeSupplementary, BatchTypeTwoPartTariff:
		return true
	default:
		return false
	}
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusReady      BatchStatus = "ready"
	BatchStatusReview     BatchStatus = "review"
	BatchStatusEmpty      BatchStatus = "empty"
	BatchStatusError      BatchStatus = "error"
	BatchStatusSent       BatchStatus = "sent"
)

// LiveStatuses block creation of another batch in the same region.
var LiveStatuses = []BatchStatus{
	BatchStatusProcessing,
	BatchStatusReady,
	BatchStatusReview,
}

func (s BatchStatus) IsLive() bool {
	for _, live := range LiveStatuses {
		if s == live {
			return true
		}
	}
	return false
}

// Scheme is the charging scheme a batch is calculated under.
type Scheme string

const (
	SchemeLegacy  Scheme = "legacy"
	SchemeCurrent Scheme = "current"
)

func (s Scheme) Valid() bool {
	return s == SchemeLegacy || s == SchemeCurrent
}

// Ruleset names the Charge Module ruleset for the scheme.
func (s Scheme) Ruleset() string {
	if s == SchemeLegacy {
		return "presroc"
	}
	return "sroc"
}

// ErrorCode records why a batch moved to the error status.
type ErrorCode int

const (
	ErrorCodeFailedToPopulateChargeVersions        ErrorCode = 10
	ErrorCodeFailedToProcessChargeVersions         ErrorCode = 20
	ErrorCodeFailedToPrepareTransactions           ErrorCode = 30
	ErrorCodeFailedToCreateCharge                  ErrorCode = 40
	ErrorCodeFailedToCreateBillRun                 ErrorCode = 50
	ErrorCodeFailedToDeleteInvoice                 ErrorCode = 60
	ErrorCodeFailedToProcessTwoPartTariff          ErrorCode = 70
	ErrorCodeFailedToGetChargeModuleBillRunSummary ErrorCode = 80
	ErrorCodeFailedToProcessRebilling              ErrorCode = 90
)

// Batch is one billing run for a region, financial year range and type.
type Batch struct {
	ID                      snowflake.ID `gorm:"primaryKey"`
	RegionID                snowflake.ID `gorm:"not null;index"`
	Type                    BatchType    `gorm:"type:text;not null"`
	Status                  BatchStatus  `gorm:"type:text;not null;index"`
	Scheme                  Scheme       `gorm:"type:text;not null"`
	FromFinancialYearEnding int          `gorm:"not null"`
	ToFinancialYearEnding   int          `gorm:"not null"`
	IsSummer                bool         `gorm:"not null;default:false"`
	ExternalID              *string      `gorm:"type:text"`
	BillRunNumber           *int         `gorm:""`
	ErrorCode               *ErrorCode   `gorm:""`
	InvoiceCount            int          `gorm:"not null;default:0"`
	CreditNoteCount         int          `gorm:"not null;default:0"`
	InvoiceValue            int64        `gorm:"not null;default:0"`
	CreditNoteValue         int64        `gorm:"not null;default:0"`
	NetTotal                int64        `gorm:"not null;default:0"`
	CreatedAt               time.Time    `gorm:"not null"`
	UpdatedAt               time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Batch) TableName() string { return "billing_batches" }

func (b *Batch) HasExternalBillRun() bool {
	return b.ExternalID != nil && *b.ExternalID != ""
}

func (b *Batch) IsTwoPartTariff() bool {
	return b.Type == BatchTypeTwoPartTariff
}

// Region is a charging region and its Charge Module code.
type Region struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ChargeRegionID string       `gorm:"type:text;not null"`
	Name           string       `gorm:"type:text;not null"`
}

// TableName sets the database table name.
func (Region) TableName() string { return "regions" }

// ExternalSummary is the bill-run state reported back by the Charge Module.
type ExternalSummary struct {
	Status          string
	InvoiceCount    int
	CreditNoteCount int
	InvoiceValue    int64
	CreditNoteValue int64
	NetTotal        int64
}

// ExternalCompletedStatuses are remote states that mean the run has been sent.
var ExternalCompletedStatuses = []string{"billed", "billing_not_required"}

// Summary is the caller-facing view of a batch.
type Summary struct {
	ID             string        `json:"id"`
	Type           BatchType     `json:"type"`
	Status         BatchStatus   `json:"status"`
	Scheme         Scheme        `json:"scheme"`
	Region         RegionSummary `json:"region"`
	FinancialYears YearRange     `json:"financial_years"`
	IsSummer       bool          `json:"is_summer"`
	ExternalID     *string       `json:"external_id,omitempty"`
	BillRunNumber  *int          `json:"bill_run_number,omitempty"`
	ErrorCode      *ErrorCode    `json:"error_code,omitempty"`
	Counts         SummaryCounts `json:"counts"`
	Totals         SummaryTotals `json:"totals"`
	CreatedAt      time.Time     `json:"created_at"`
}

type RegionSummary struct {
	ID             string `json:"id"`
	ChargeRegionID string `json:"charge_region_id"`
	Name           string `json:"name"`
}

type YearRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SummaryCounts struct {
	Invoices    int `json:"invoices"`
	CreditNotes int `json:"credit_notes"`
}

type SummaryTotals struct {
	InvoiceValue    int64 `json:"invoice_value"`
	CreditNoteValue int64 `json:"credit_note_value"`
	NetTotal        int64 `json:"net_total"`
}

// ToSummary shapes a batch and its region for callers.
func ToSummary(b Batch, r *Region) Summary {
	s := Summary{
		ID:             b.ID.String(),
		Type:           b.Type,
		Status:         b.Status,
		Scheme:         b.Scheme,
		FinancialYears: YearRange{From: b.FromFinancialYearEnding, To: b.ToFinancialYearEnding},
		IsSummer:       b.IsSummer,
		ExternalID:     b.ExternalID,
		BillRunNumber:  b.BillRunNumber,
		ErrorCode:      b.ErrorCode,
		Counts:         SummaryCounts{Invoices: b.InvoiceCount, CreditNotes: b.CreditNoteCount},
		Totals: SummaryTotals{
			InvoiceValue:    b.InvoiceValue,
			CreditNoteValue: b.CreditNoteValue,
			NetTotal:        b.NetTotal,
		},
		CreatedAt: b.CreatedAt,
	}
	if r != nil {
		s.Region = RegionSummary{ID: r.ID.String(), ChargeRegionID: r.ChargeRegionID, Name: r.Name}
	} else {
		s.Region = RegionSummary{ID: b.RegionID.String()}
	}
	return s
}
