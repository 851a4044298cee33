package server

import (
	"github.com/gin-gonic/gin"
)

// ExplainInvoice handles GET /api/v1/invoices/:invoice_id/explanation
func (s *Server) ExplainInvoice(c *gin.Context) {
	invoiceID, ok := idParam(c, "invoice_id")
	if !ok {
		return
	}

	explanation, err := s.explanations.ExplainInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, explanation)
}
