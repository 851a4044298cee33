package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) invoicedomain.Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, inv *invoicedomain.Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) InsertLicence(ctx context.Context, il *invoicedomain.InvoiceLicence) error {
	return r.db.WithContext(ctx).Create(il).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id").Find(&invoices).Error
	return invoices, err
}

func (r *repository) FindByOriginalInvoiceIDs(ctx context.Context, ids []snowflake.ID) ([]invoicedomain.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var invoices []invoicedomain.Invoice
	err := r.db.WithContext(ctx).Where("original_invoice_id IN ?", ids).Order("id").Find(&invoices).Error
	return invoices, err
}

func (r *repository) FindLicencesByInvoiceID(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.InvoiceLicence, error) {
	var licences []invoicedomain.InvoiceLicence
	err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("id").Find(&licences).Error
	return licences, err
}

func (r *repository) FindLicencesByBatchID(ctx context.Context, batchID snowflake.ID) ([]invoicedomain.InvoiceLicence, error) {
	var licences []invoicedomain.InvoiceLicence
	err := r.db.WithContext(ctx).Raw(`
		SELECT il.*
		FROM billing_invoice_licences il
		JOIN billing_invoices i ON i.id = il.invoice_id
		WHERE i.batch_id = ?
		ORDER BY il.id`,
		batchID,
	).Scan(&licences).Error
	return licences, err
}

func (r *repository) LoadTree(ctx context.Context, batchID snowflake.ID) ([]invoicedomain.Invoice, error) {
	invoices, err := r.FindByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	licences, err := r.FindLicencesByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var transactions []transactiondomain.Transaction
	err = r.db.WithContext(ctx).Raw(`
		SELECT t.*
		FROM billing_transactions t
		JOIN billing_invoice_licences il ON il.id = t.invoice_licence_id
		JOIN billing_invoices i ON i.id = il.invoice_id
		WHERE i.batch_id = ?
		ORDER BY t.id`,
		batchID,
	).Scan(&transactions).Error
	if err != nil {
		return nil, err
	}

	byLicence := make(map[snowflake.ID][]transactiondomain.Transaction)
	for _, t := range transactions {
		byLicence[t.InvoiceLicenceID] = append(byLicence[t.InvoiceLicenceID], t)
	}
	byInvoice := make(map[snowflake.ID][]invoicedomain.InvoiceLicence)
	for _, il := range licences {
		il.Transactions = byLicence[il.ID]
		byInvoice[il.InvoiceID] = append(byInvoice[il.InvoiceID], il)
	}
	for i := range invoices {
		invoices[i].InvoiceLicences = byInvoice[invoices[i].ID]
	}
	return invoices, nil
}

func (r *repository) Update(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).Where("id = ?", id).Updates(fields).Error
}

// ResetFlaggedForRebillingByBatchID clears the rebilling flag on the originals
// that invoices in the batch were raised against.
func (r *repository) ResetFlaggedForRebillingByBatchID(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE billing_invoices
		SET is_flagged_for_rebilling = ?
		WHERE id IN (
			SELECT original_invoice_id FROM billing_invoices
			WHERE batch_id = ? AND original_invoice_id IS NOT NULL
		)`, false, batchID).Error
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM billing_invoices WHERE id = ?`, id).Error
}

func (r *repository) DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM billing_invoices WHERE batch_id = ?`, batchID).Error
}

func (r *repository) DeleteLicencesByInvoiceID(ctx context.Context, invoiceID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM billing_invoice_licences WHERE invoice_id = ?`, invoiceID).Error
}

func (r *repository) DeleteLicencesByBatchID(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`
		DELETE FROM billing_invoice_licences
		WHERE invoice_id IN (SELECT id FROM billing_invoices WHERE batch_id = ?)`,
		batchID,
	).Error
}
