// Package domain contains billing transaction line items.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus tracks whether the line has been pushed to the Charge Module.
type TransactionStatus string

const (
	TransactionStatusCandidate     TransactionStatus = "candidate"
	TransactionStatusChargeCreated TransactionStatus = "charge_created"
)

// Transaction is a single charge line for one charge element.
type Transaction struct {
	ID                        snowflake.ID                    `gorm:"primaryKey"`
	InvoiceLicenceID          snowflake.ID                    `gorm:"not null;index"`
	ChargeElementID           snowflake.ID                    `gorm:"not null;index"`
	ExternalID                *string                         `gorm:"type:text"`
	Status                    TransactionStatus               `gorm:"type:text;not null"`
	Description               string                          `gorm:"type:text"`
	StartDate                 time.Time                       `gorm:"not null"`
	EndDate                   time.Time                       `gorm:"not null"`
	AuthorisedDays            int                             `gorm:"not null;default:0"`
	BillableDays              int                             `gorm:"not null;default:0"`
	Volume                    decimal.Decimal                 `gorm:"type:numeric;not null;default:0"`
	IsCredit                  bool                            `gorm:"not null;default:false"`
	IsDeMinimis               bool                            `gorm:"not null;default:false"`
	IsTwoPartSecondPartCharge bool                            `gorm:"not null;default:false"`
	TwoPartTariffError        bool                            `gorm:"not null;default:false"`
	TwoPartTariffStatus       *int                            `gorm:""`
	TwoPartTariffReview       datatypes.JSONType[*actor.User] `gorm:"not null;default:'null'"`
	CreatedAt                 time.Time                       `gorm:"not null"`
	UpdatedAt                 time.Time                       `gorm:"not null"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "billing_transactions" }

// Reviewer returns the user who last edited the transaction volume, if any.
func (t *Transaction) Reviewer() *actor.User {
	return t.TwoPartTariffReview.Data()
}

// BatchTransaction is a transaction with the licence and financial year it bills.
type BatchTransaction struct {
	Transaction
	BatchID             snowflake.ID
	InvoiceID           snowflake.ID
	LicenceID           snowflake.ID
	FinancialYearEnding int
}

// ChargeResponse is the Charge Module reply to a create-transaction call.
type ChargeResponse struct {
	Transaction *struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Status string `json:"status"`
}

// ZeroValueChargeStatus marks a charge that calculated to nothing and has no billable effect.
const ZeroValueChargeStatus = "Zero value charge calculated"
