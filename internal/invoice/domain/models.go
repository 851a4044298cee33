// Package domain contains invoices, invoice licences and rebilling chain rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
)

// RebillingState is the role an invoice plays in a rebilling chain.
type RebillingState string

const (
	RebillingStateRebill   RebillingState = "rebill"
	RebillingStateReversal RebillingState = "reversal"
	RebillingStateRebilled RebillingState = "rebilled"
)

func (s RebillingState) Valid() bool {
	switch s {
	case RebillingStateRebill, RebillingStateReversal, RebillingStateRebilled:
		return true
	default:
		return false
	}
}

// Invoice belongs to exactly one batch.
type Invoice struct {
	ID                    snowflake.ID    `gorm:"primaryKey"`
	BatchID               snowflake.ID    `gorm:"not null;index"`
	InvoiceAccountID      snowflake.ID    `gorm:"not null;index"`
	InvoiceAccountNumber  string          `gorm:"type:text;not null"`
	ExternalID            *string         `gorm:"type:text"`
	FinancialYearEnding   int             `gorm:"not null"`
	IsCredit              bool            `gorm:"not null;default:false"`
	IsDeMinimis           bool            `gorm:"not null;default:false"`
	NetAmount             int64           `gorm:"not null;default:0"`
	RebillingState        *RebillingState `gorm:"type:text"`
	OriginalInvoiceID     *snowflake.ID   `gorm:"index"`
	IsFlaggedForRebilling bool            `gorm:"not null;default:false"`
	CreatedAt             time.Time       `gorm:"not null"`
	UpdatedAt             time.Time       `gorm:"not null"`

	InvoiceLicences []InvoiceLicence `gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "billing_invoices" }

func (i *Invoice) HasExternalID() bool {
	return i.ExternalID != nil && *i.ExternalID != ""
}

// InvoiceLicence groups the transactions for one licence within one invoice.
type InvoiceLicence struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	LicenceID  snowflake.ID `gorm:"not null;index"`
	LicenceRef string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null"`

	Transactions []transactiondomain.Transaction `gorm:"-"`
}

// TableName sets the database table name.
func (InvoiceLicence) TableName() string { return "billing_invoice_licences" }

// Leaves flattens an invoice tree into its licence transaction groups.
func Leaves(invoices []Invoice) []transactiondomain.LicenceTransactions {
	var out []transactiondomain.LicenceTransactions
	for _, inv := range invoices {
		for _, il := range inv.InvoiceLicences {
			out = append(out, transactiondomain.LicenceTransactions{
				InvoiceLicenceID: il.ID,
				Transactions:     il.Transactions,
			})
		}
	}
	return out
}
