// Package chargemodule is the HTTP client for the remote Charge Module that
// owns bill runs and computes charge amounts.
package chargemodule

import (
	"context"
	"encoding/json"
	"time"
)

// Gateway is the set of Charge Module bill-run operations billing depends on.
type Gateway interface {
	CreateBillRun(ctx context.Context, region, ruleset string) (*BillRun, error)
	ApproveBillRun(ctx context.Context, billRunID string) error
	SendBillRun(ctx context.Context, billRunID string) error
	GenerateBillRun(ctx context.Context, billRunID string) error
	GetBillRun(ctx context.Context, billRunID string) (*BillRunSummary, error)
	DeleteBillRun(ctx context.Context, billRunID string) error
	DeleteInvoiceFromBillRun(ctx context.Context, billRunID, invoiceID string) error
	CreateTransaction(ctx context.Context, billRunID string, req TransactionRequest) (json.RawMessage, error)
}

// BillRun is the reply to a create call.
type BillRun struct {
	ID            string `json:"id"`
	BillRunNumber int    `json:"billRunNumber"`
}

const (
	BillRunStatusInitialised        = "initialised"
	BillRunStatusPending            = "pending"
	BillRunStatusGenerating         = "generating"
	BillRunStatusGenerated          = "generated"
	BillRunStatusApproved           = "approved"
	BillRunStatusBillingNotRequired = "billing_not_required"
	BillRunStatusBilled             = "billed"
)

// BillRunSummary is the remote state of a bill run.
type BillRunSummary struct {
	ID              string          `json:"id"`
	BillRunNumber   int             `json:"billRunNumber"`
	Region          string          `json:"region"`
	Status          string          `json:"status"`
	InvoiceCount    int             `json:"invoiceCount"`
	InvoiceValue    int64           `json:"invoiceValue"`
	CreditNoteCount int             `json:"creditNoteCount"`
	CreditNoteValue int64           `json:"creditNoteValue"`
	NetTotal        int64           `json:"netTotal"`
	Invoices        []RemoteInvoice `json:"invoices"`
}

// IsGenerated reports whether totals are final enough to copy locally.
func (s *BillRunSummary) IsGenerated() bool {
	switch s.Status {
	case BillRunStatusGenerated, BillRunStatusApproved, BillRunStatusBilled, BillRunStatusBillingNotRequired:
		return true
	default:
		return false
	}
}

// AwaitingSend reports whether the run was approved but not yet billed.
func (s *BillRunSummary) AwaitingSend() bool {
	return s.Status == BillRunStatusApproved
}

// RemoteInvoice is an invoice within a remote bill run.
type RemoteInvoice struct {
	ID                string          `json:"id"`
	CustomerReference string          `json:"customerReference"`
	FinancialYear     int             `json:"financialYear"`
	DeminimisInvoice  bool            `json:"deminimisInvoice"`
	NetTotal          int64           `json:"netTotal"`
	Licences          []RemoteLicence `json:"licences"`
}

type RemoteLicence struct {
	ID            string              `json:"id"`
	LicenceNumber string              `json:"licenceNumber"`
	Transactions  []RemoteTransaction `json:"transactions"`
}

type RemoteTransaction struct {
	ID          string `json:"id"`
	ChargeValue int64  `json:"chargeValue"`
	Credit      bool   `json:"credit"`
}

// TransactionRequest is the charge line pushed for calculation.
type TransactionRequest struct {
	ClientID           string    `json:"clientId"`
	Region             string    `json:"region"`
	CustomerReference  string    `json:"customerReference"`
	LicenceNumber      string    `json:"licenceNumber"`
	ChargePeriod       string    `json:"chargePeriod"`
	PeriodStart        time.Time `json:"periodStart"`
	PeriodEnd          time.Time `json:"periodEnd"`
	AuthorisedDays     int       `json:"authorisedDays"`
	BillableDays       int       `json:"billableDays"`
	Volume             string    `json:"volume"`
	Credit             bool      `json:"credit"`
	Ruleset            string    `json:"ruleset"`
	TwoPartTariff      bool      `json:"twoPartTariff"`
	CompensationCharge bool      `json:"compensationCharge"`
	LineDescription    string    `json:"lineDescription"`
}
