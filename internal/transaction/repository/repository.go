package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) transactiondomain.Repository {
	return &repository{db: db}
}

const batchTransactionSelect = `
	SELECT t.*, i.batch_id, il.invoice_id, il.licence_id, i.financial_year_ending
	FROM billing_transactions t
	JOIN billing_invoice_licences il ON il.id = t.invoice_licence_id
	JOIN billing_invoices i ON i.id = il.invoice_id`

func (r *repository) Insert(ctx context.Context, t *transactiondomain.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) Save(ctx context.Context, t *transactiondomain.Transaction) error {
	return r.db.WithContext(ctx).Save(t).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*transactiondomain.Transaction, error) {
	var t transactiondomain.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) FindInBatch(ctx context.Context, batchID, id snowflake.ID) (*transactiondomain.BatchTransaction, error) {
	var rows []transactiondomain.BatchTransaction
	err := r.db.WithContext(ctx).Raw(batchTransactionSelect+`
		WHERE i.batch_id = ? AND t.id = ?`,
		batchID, id,
	).Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (r *repository) FindByBatchID(ctx context.Context, batchID snowflake.ID) ([]transactiondomain.BatchTransaction, error) {
	var rows []transactiondomain.BatchTransaction
	err := r.db.WithContext(ctx).Raw(batchTransactionSelect+`
		WHERE i.batch_id = ?
		ORDER BY t.id`,
		batchID,
	).Scan(&rows).Error
	return rows, err
}

func (r *repository) FindByBatchIDAndStatus(ctx context.Context, batchID snowflake.ID, status transactiondomain.TransactionStatus) ([]transactiondomain.BatchTransaction, error) {
	var rows []transactiondomain.BatchTransaction
	err := r.db.WithContext(ctx).Raw(batchTransactionSelect+`
		WHERE i.batch_id = ? AND t.status = ?
		ORDER BY t.id`,
		batchID, status,
	).Scan(&rows).Error
	return rows, err
}

func (r *repository) CountByBatchID(ctx context.Context, batchID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*)
		FROM billing_transactions t
		JOIN billing_invoice_licences il ON il.id = t.invoice_licence_id
		JOIN billing_invoices i ON i.id = il.invoice_id
		WHERE i.batch_id = ?`,
		batchID,
	).Scan(&count).Error
	return count, err
}

func (r *repository) Update(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&transactiondomain.Transaction{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repository) BulkUpdate(ctx context.Context, ids []snowflake.ID, fields map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&transactiondomain.Transaction{}).Where("id IN ?", ids).Updates(fields).Error
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM billing_transactions WHERE id = ?`, id).Error
}

func (r *repository) DeleteByBatchID(ctx context.Context, batchID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`
		DELETE FROM billing_transactions
		WHERE invoice_licence_id IN (
			SELECT il.id FROM billing_invoice_licences il
			JOIN billing_invoices i ON i.id = il.invoice_id
			WHERE i.batch_id = ?
		)`, batchID).Error
}

func (r *repository) DeleteByInvoiceID(ctx context.Context, invoiceID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`
		DELETE FROM billing_transactions
		WHERE invoice_licence_id IN (
			SELECT id FROM billing_invoice_licences WHERE invoice_id = ?
		)`, invoiceID).Error
}

func (r *repository) ChargeElementIDsByInvoiceID(ctx context.Context, invoiceID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT t.charge_element_id
		FROM billing_transactions t
		JOIN billing_invoice_licences il ON il.id = t.invoice_licence_id
		WHERE il.invoice_id = ?`,
		invoiceID,
	).Scan(&ids).Error
	return ids, err
}
