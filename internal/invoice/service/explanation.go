package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/actor"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ExplanationService struct {
	db *gorm.DB
}

func NewExplanationService(db *gorm.DB) *ExplanationService {
	return &ExplanationService{db: db}
}

type InvoiceExplanation struct {
	InvoiceID            string                   `json:"invoice_id"`
	InvoiceAccountNumber string                   `json:"invoice_account_number"`
	FinancialYearEnding  int                      `json:"financial_year_ending"`
	NetAmount            int64                    `json:"net_amount"`
	RebillingState       *string                  `json:"rebilling_state,omitempty"`
	Breakdown            []TransactionExplanation `json:"breakdown"`
}

type TransactionExplanation struct {
	TransactionID  string          `json:"transaction_id"`
	LicenceRef     string          `json:"licence_ref"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Volume         decimal.Decimal `json:"volume"`
	AuthorisedDays int             `json:"authorised_days"`
	BillableDays   int             `json:"billable_days"`
	PeriodStart    string          `json:"period_start"`
	PeriodEnd      string          `json:"period_end"`
	IsCredit       bool            `json:"is_credit"`
	IsDeMinimis    bool            `json:"is_de_minimis"`
	Review         *VolumeReview   `json:"review,omitempty"`
}

// VolumeReview is the two-part-tariff billing volume behind a second-part charge.
type VolumeReview struct {
	CalculatedVolume *decimal.Decimal `json:"calculated_volume,omitempty"`
	Volume           *decimal.Decimal `json:"volume,omitempty"`
	IsApproved       bool             `json:"is_approved"`
	ReviewedBy       *actor.User      `json:"reviewed_by,omitempty"`
}

// ExplainInvoice breaks an invoice down into its transactions, attaching the
// reviewed billing volume to second-part charges.
func (s *ExplanationService) ExplainInvoice(ctx context.Context, invoiceID snowflake.ID) (*InvoiceExplanation, error) {
	var invoice invoicedomain.Invoice
	if err := s.db.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.ErrInvoiceNotFound.New("Invoice %s not found", invoiceID)
		}
		return nil, err
	}

	var items []struct {
		ID                        snowflake.ID
		LicenceRef                string
		Description               string
		Status                    string
		Volume                    decimal.Decimal
		AuthorisedDays            int
		BillableDays              int
		StartDate                 time.Time
		EndDate                   time.Time
		IsCredit                  bool
		IsDeMinimis               bool
		IsTwoPartSecondPartCharge bool
		VolumeID                  *snowflake.ID
		CalculatedVolume          decimal.NullDecimal
		ReviewedVolume            decimal.NullDecimal
		IsApproved                *bool
		Reviewer                  datatypes.JSONType[*actor.User]
	}

	if err := s.db.WithContext(ctx).Raw(`
		SELECT
			t.id,
			il.licence_ref,
			t.description,
			t.status,
			t.volume,
			t.authorised_days,
			t.billable_days,
			t.start_date,
			t.end_date,
			t.is_credit,
			t.is_de_minimis,
			t.is_two_part_second_part_charge,
			bv.id AS volume_id,
			bv.calculated_volume,
			bv.volume AS reviewed_volume,
			bv.is_approved,
			COALESCE(bv.two_part_tariff_review, 'null') AS reviewer
		FROM billing_transactions t
		JOIN billing_invoice_licences il ON il.id = t.invoice_licence_id
		LEFT JOIN billing_volumes bv
			ON bv.charge_element_id = t.charge_element_id
			AND bv.batch_id = ?
			AND bv.financial_year = ?
			AND t.is_two_part_second_part_charge = ?
		WHERE il.invoice_id = ?
		ORDER BY il.licence_ref ASC, t.id ASC
	`, invoice.BatchID, invoice.FinancialYearEnding, true, invoiceID).Scan(&items).Error; err != nil {
		return nil, err
	}

	breakdown := make([]TransactionExplanation, 0, len(items))
	for _, item := range items {
		line := TransactionExplanation{
			TransactionID:  item.ID.String(),
			LicenceRef:     item.LicenceRef,
			Description:    item.Description,
			Status:         item.Status,
			Volume:         item.Volume,
			AuthorisedDays: item.AuthorisedDays,
			BillableDays:   item.BillableDays,
			PeriodStart:    item.StartDate.Format(time.DateOnly),
			PeriodEnd:      item.EndDate.Format(time.DateOnly),
			IsCredit:       item.IsCredit,
			IsDeMinimis:    item.IsDeMinimis,
		}

		if item.IsTwoPartSecondPartCharge && item.VolumeID != nil {
			line.Review = &VolumeReview{
				CalculatedVolume: nullable(item.CalculatedVolume),
				Volume:           nullable(item.ReviewedVolume),
				IsApproved:       item.IsApproved != nil && *item.IsApproved,
				ReviewedBy:       item.Reviewer.Data(),
			}
		}

		breakdown = append(breakdown, line)
	}

	var state *string
	if invoice.RebillingState != nil {
		v := string(*invoice.RebillingState)
		state = &v
	}
	return &InvoiceExplanation{
		InvoiceID:            invoiceID.String(),
		InvoiceAccountNumber: invoice.InvoiceAccountNumber,
		FinancialYearEnding:  invoice.FinancialYearEnding,
		NetAmount:            invoice.NetAmount,
		RebillingState:       state,
		Breakdown:            breakdown,
	}, nil
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}
