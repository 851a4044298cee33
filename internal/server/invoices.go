package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	"github.com/samber/lo"
)

// ListInvoices handles GET /api/v1/batches/:batch_id/invoices
func (s *Server) ListInvoices(c *gin.Context) {
	batchID, ok := idParam(c, "batch_id")
	if !ok {
		return
	}
	if _, err := s.batches.GetBatch(c.Request.Context(), batchID); err != nil {
		AbortWithError(c, err)
		return
	}
	invoices, err := s.invoices.ListBatchInvoices(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, lo.Map(invoices, func(inv invoicedomain.Invoice, _ int) invoiceView { return toInvoiceView(inv) }), len(invoices))
}

// GetInvoice handles GET /api/v1/batches/:batch_id/invoices/:invoice_id
func (s *Server) GetInvoice(c *gin.Context) {
	batchID, ok := idParam(c, "batch_id")
	if !ok {
		return
	}
	invoiceID, ok := idParam(c, "invoice_id")
	if !ok {
		return
	}
	inv, err := s.invoices.GetInvoice(c.Request.Context(), batchID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, toInvoiceView(*inv))
}

// DeleteInvoice handles DELETE /api/v1/batches/:batch_id/invoices/:invoice_id.
// When the invoice sits in a rebilling chain the caller names the original
// and rebill invoices with the original_invoice_id and rebill_invoice_id
// query parameters.
func (s *Server) DeleteInvoice(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	invoiceID, ok := idParam(c, "invoice_id")
	if !ok {
		return
	}
	rebilling, err := rebillingContextFromQuery(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	jobs, err := s.invoices.DeleteBatchInvoice(c.Request.Context(), *b, invoiceID, rebilling, currentUser(c))
	if err != nil {
		s.abortWithIntents(c, err)
		return
	}
	if err := s.enqueue(c, jobs); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func rebillingContextFromQuery(c *gin.Context) (*invoicedomain.RebillingContext, error) {
	original := strings.TrimSpace(c.Query("original_invoice_id"))
	rebill := strings.TrimSpace(c.Query("rebill_invoice_id"))
	if original == "" && rebill == "" {
		return nil, nil
	}
	if original == "" || rebill == "" {
		return nil, ErrInvalidRequest
	}
	originalID, err := snowflake.ParseString(original)
	if err != nil {
		return nil, err
	}
	rebillID, err := snowflake.ParseString(rebill)
	if err != nil {
		return nil, err
	}
	return &invoicedomain.RebillingContext{OriginalInvoiceID: originalID, RebillInvoiceID: rebillID}, nil
}
