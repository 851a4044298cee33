// Package population fills a processing batch with the charge lines computed
// for its charge versions.
package population

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/shopspring/decimal"
)

// Processor expands the charge versions in scope for a batch into invoices,
// charge lines and two-part-tariff volumes.
type Processor interface {
	Process(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	BatchID                 snowflake.ID          `json:"batchId"`
	Region                  string                `json:"region"`
	Type                    batchdomain.BatchType `json:"type"`
	Scheme                  batchdomain.Scheme    `json:"scheme"`
	FromFinancialYearEnding int                   `json:"fromFinancialYearEnding"`
	ToFinancialYearEnding   int                   `json:"toFinancialYearEnding"`
	IsSummer                bool                  `json:"isSummer"`
}

type Result struct {
	ChargeVersionYears []ChargeVersionYear `json:"chargeVersionYears" validate:"dive"`
	Invoices           []Invoice           `json:"invoices" validate:"dive"`
	BillingVolumes     []BillingVolume     `json:"billingVolumes" validate:"dive"`
}

type ChargeVersionYear struct {
	ChargeVersionID     snowflake.ID `json:"chargeVersionId" validate:"required"`
	LicenceID           snowflake.ID `json:"licenceId" validate:"required"`
	FinancialYearEnding int          `json:"financialYearEnding" validate:"required,gte=2000"`
	TransactionType     string       `json:"transactionType" validate:"required,oneof=annual two_part_tariff"`
	IsSummer            bool         `json:"isSummer"`
	HasTwoPartAgreement bool         `json:"hasTwoPartAgreement"`
	IsChargeable        bool         `json:"isChargeable"`
	StartDate           time.Time    `json:"startDate" validate:"required"`
	EndDate             time.Time    `json:"endDate" validate:"required,gtefield=StartDate"`
}

type Invoice struct {
	InvoiceAccountID     snowflake.ID `json:"invoiceAccountId" validate:"required"`
	InvoiceAccountNumber string       `json:"invoiceAccountNumber" validate:"required"`
	FinancialYearEnding  int          `json:"financialYearEnding" validate:"required,gte=2000"`
	IsCredit             bool         `json:"isCredit"`
	Licences             []Licence    `json:"licences" validate:"required,min=1,dive"`
}

type Licence struct {
	LicenceID    snowflake.ID  `json:"licenceId" validate:"required"`
	LicenceRef   string        `json:"licenceRef" validate:"required"`
	Transactions []Transaction `json:"transactions" validate:"dive"`
}

type Transaction struct {
	ChargeElementID           snowflake.ID    `json:"chargeElementId" validate:"required"`
	Description               string          `json:"description"`
	StartDate                 time.Time       `json:"startDate" validate:"required"`
	EndDate                   time.Time       `json:"endDate" validate:"required,gtefield=StartDate"`
	AuthorisedDays            int             `json:"authorisedDays" validate:"gte=0,lte=366"`
	BillableDays              int             `json:"billableDays" validate:"gte=0,lte=366"`
	Volume                    decimal.Decimal `json:"volume"`
	IsCredit                  bool            `json:"isCredit"`
	IsTwoPartSecondPartCharge bool            `json:"isTwoPartSecondPartCharge"`
	TwoPartTariffError        bool            `json:"twoPartTariffError"`
	TwoPartTariffStatus       *int            `json:"twoPartTariffStatus,omitempty"`
}

type BillingVolume struct {
	ChargeElementID     snowflake.ID        `json:"chargeElementId" validate:"required"`
	LicenceID           snowflake.ID        `json:"licenceId" validate:"required"`
	FinancialYear       int                 `json:"financialYear" validate:"required,gte=2000"`
	IsSummer            bool                `json:"isSummer"`
	CalculatedVolume    decimal.NullDecimal `json:"calculatedVolume"`
	TwoPartTariffError  bool                `json:"twoPartTariffError"`
	TwoPartTariffStatus *int                `json:"twoPartTariffStatus,omitempty"`
}

// TransactionCount is the number of charge lines across every invoice.
func (r *Result) TransactionCount() int {
	n := 0
	for _, inv := range r.Invoices {
		for _, l := range inv.Licences {
			n += len(l.Transactions)
		}
	}
	return n
}
