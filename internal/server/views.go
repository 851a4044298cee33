package server

import (
	"time"

	"github.com/railzwaylabs/waterbilling/internal/actor"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type invoiceView struct {
	ID                    string               `json:"id"`
	BatchID               string               `json:"batch_id"`
	InvoiceAccountID      string               `json:"invoice_account_id"`
	InvoiceAccountNumber  string               `json:"invoice_account_number"`
	ExternalID            *string              `json:"external_id,omitempty"`
	FinancialYearEnding   int                  `json:"financial_year_ending"`
	IsCredit              bool                 `json:"is_credit"`
	IsDeMinimis           bool                 `json:"is_de_minimis"`
	NetAmount             int64                `json:"net_amount"`
	RebillingState        *string              `json:"rebilling_state,omitempty"`
	OriginalInvoiceID     *string              `json:"original_invoice_id,omitempty"`
	IsFlaggedForRebilling bool                 `json:"is_flagged_for_rebilling"`
	Licences              []invoiceLicenceView `json:"licences,omitempty"`
}

type invoiceLicenceView struct {
	ID           string            `json:"id"`
	LicenceID    string            `json:"licence_id"`
	LicenceRef   string            `json:"licence_ref"`
	Transactions []transactionView `json:"transactions"`
}

type transactionView struct {
	ID                        string          `json:"id"`
	ChargeElementID           string          `json:"charge_element_id"`
	ExternalID                *string         `json:"external_id,omitempty"`
	Status                    string          `json:"status"`
	Description               string          `json:"description"`
	StartDate                 time.Time       `json:"start_date"`
	EndDate                   time.Time       `json:"end_date"`
	AuthorisedDays            int             `json:"authorised_days"`
	BillableDays              int             `json:"billable_days"`
	Volume                    decimal.Decimal `json:"volume"`
	IsCredit                  bool            `json:"is_credit"`
	IsDeMinimis               bool            `json:"is_de_minimis"`
	IsTwoPartSecondPartCharge bool            `json:"is_two_part_second_part_charge"`
	TwoPartTariffError        bool            `json:"two_part_tariff_error"`
	TwoPartTariffStatus       *int            `json:"two_part_tariff_status,omitempty"`
	ReviewedBy                *actor.User     `json:"reviewed_by,omitempty"`
}

type batchTransactionView struct {
	transactionView
	InvoiceID           string `json:"invoice_id"`
	LicenceID           string `json:"licence_id"`
	FinancialYearEnding int    `json:"financial_year_ending"`
}

type billingVolumeView struct {
	ID                  string                            `json:"id"`
	ChargeElementID     string                            `json:"charge_element_id"`
	BatchID             string                            `json:"batch_id"`
	LicenceID           string                            `json:"licence_id"`
	FinancialYear       int                               `json:"financial_year"`
	IsSummer            bool                              `json:"is_summer"`
	CalculatedVolume    *decimal.Decimal                  `json:"calculated_volume"`
	Volume              *decimal.Decimal                  `json:"volume"`
	IsApproved          bool                              `json:"is_approved"`
	TwoPartTariffError  bool                              `json:"two_part_tariff_error"`
	TwoPartTariffStatus *int                              `json:"two_part_tariff_status,omitempty"`
	ReviewedBy          *actor.User                       `json:"reviewed_by,omitempty"`
	ErroredOn           *time.Time                        `json:"errored_on,omitempty"`
	ChargePeriod        *billingvolumedomain.ChargePeriod `json:"charge_period,omitempty"`
}

func toInvoiceView(inv invoicedomain.Invoice) invoiceView {
	v := invoiceView{
		ID:                    inv.ID.String(),
		BatchID:               inv.BatchID.String(),
		InvoiceAccountID:      inv.InvoiceAccountID.String(),
		InvoiceAccountNumber:  inv.InvoiceAccountNumber,
		ExternalID:            inv.ExternalID,
		FinancialYearEnding:   inv.FinancialYearEnding,
		IsCredit:              inv.IsCredit,
		IsDeMinimis:           inv.IsDeMinimis,
		NetAmount:             inv.NetAmount,
		IsFlaggedForRebilling: inv.IsFlaggedForRebilling,
	}
	if inv.RebillingState != nil {
		v.RebillingState = lo.ToPtr(string(*inv.RebillingState))
	}
	if inv.OriginalInvoiceID != nil {
		v.OriginalInvoiceID = lo.ToPtr(inv.OriginalInvoiceID.String())
	}
	v.Licences = lo.Map(inv.InvoiceLicences, func(il invoicedomain.InvoiceLicence, _ int) invoiceLicenceView {
		return invoiceLicenceView{
			ID:           il.ID.String(),
			LicenceID:    il.LicenceID.String(),
			LicenceRef:   il.LicenceRef,
			Transactions: lo.Map(il.Transactions, func(t transactiondomain.Transaction, _ int) transactionView { return toTransactionView(t) }),
		}
	})
	return v
}

func toTransactionView(t transactiondomain.Transaction) transactionView {
	return transactionView{
		ID:                        t.ID.String(),
		ChargeElementID:           t.ChargeElementID.String(),
		ExternalID:                t.ExternalID,
		Status:                    string(t.Status),
		Description:               t.Description,
		StartDate:                 t.StartDate,
		EndDate:                   t.EndDate,
		AuthorisedDays:            t.AuthorisedDays,
		BillableDays:              t.BillableDays,
		Volume:                    t.Volume,
		IsCredit:                  t.IsCredit,
		IsDeMinimis:               t.IsDeMinimis,
		IsTwoPartSecondPartCharge: t.IsTwoPartSecondPartCharge,
		TwoPartTariffError:        t.TwoPartTariffError,
		TwoPartTariffStatus:       t.TwoPartTariffStatus,
		ReviewedBy:                t.Reviewer(),
	}
}

func toBatchTransactionView(t transactiondomain.BatchTransaction) batchTransactionView {
	return batchTransactionView{
		transactionView:     toTransactionView(t.Transaction),
		InvoiceID:           t.InvoiceID.String(),
		LicenceID:           t.LicenceID.String(),
		FinancialYearEnding: t.FinancialYearEnding,
	}
}

func toBillingVolumeView(v billingvolumedomain.BillingVolume) billingVolumeView {
	return billingVolumeView{
		ID:                  v.ID.String(),
		ChargeElementID:     v.ChargeElementID.String(),
		BatchID:             v.BatchID.String(),
		LicenceID:           v.LicenceID.String(),
		FinancialYear:       v.FinancialYear,
		IsSummer:            v.IsSummer,
		CalculatedVolume:    nullDecimal(v.CalculatedVolume),
		Volume:              nullDecimal(v.Volume),
		IsApproved:          v.IsApproved,
		TwoPartTariffError:  v.TwoPartTariffError,
		TwoPartTariffStatus: v.TwoPartTariffStatus,
		ReviewedBy:          v.Reviewer(),
		ErroredOn:           v.ErroredOn,
	}
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}
