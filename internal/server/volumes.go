package server

import (
	"github.com/gin-gonic/gin"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type volumeRequest struct {
	Volume *decimal.Decimal `json:"volume" binding:"required"`
}

func bindVolume(c *gin.Context) (decimal.Decimal, bool) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ierr.Validation("volume is required"))
		return decimal.Zero, false
	}
	if req.Volume.IsNegative() {
		AbortWithError(c, ierr.Validation("volume must not be negative"))
		return decimal.Zero, false
	}
	return *req.Volume, true
}

// UpdateBillingVolume handles PATCH /api/v1/billing-volumes/:volume_id
func (s *Server) UpdateBillingVolume(c *gin.Context) {
	id, ok := idParam(c, "volume_id")
	if !ok {
		return
	}
	volume, ok := bindVolume(c)
	if !ok {
		return
	}
	updated, err := s.billingVolumes.UpdateVolume(c.Request.Context(), id, volume, currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, toBillingVolumeView(*updated))
}

// ListLicenceBillingVolumes handles GET /api/v1/batches/:batch_id/licences/:licence_id/billing-volumes
func (s *Server) ListLicenceBillingVolumes(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	licenceID, ok := idParam(c, "licence_id")
	if !ok {
		return
	}
	volumes, err := s.billingVolumes.GetLicenceBillingVolumes(c.Request.Context(), *b, licenceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, lo.Map(volumes, func(v billingvolumedomain.LicenceBillingVolume, _ int) billingVolumeView {
		view := toBillingVolumeView(v.BillingVolume)
		view.ChargePeriod = &v.ChargePeriod
		return view
	}), len(volumes))
}

// ListReviewRows handles GET /api/v1/batches/:batch_id/review
func (s *Server) ListReviewRows(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	rows, err := s.billingVolumes.ListLicenceReviewRows(c.Request.Context(), *b)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, rows, len(rows))
}

// UpdateTransactionVolume handles PATCH /api/v1/batches/:batch_id/transactions/:transaction_id
func (s *Server) UpdateTransactionVolume(c *gin.Context) {
	b, ok := s.loadBatch(c)
	if !ok {
		return
	}
	transactionID, ok := idParam(c, "transaction_id")
	if !ok {
		return
	}
	volume, ok := bindVolume(c)
	if !ok {
		return
	}
	updated, err := s.transactions.UpdateVolume(c.Request.Context(), *b, transactionID, volume)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, toTransactionView(*updated))
}

// ListTransactionHistory handles GET /api/v1/batches/:batch_id/transactions
func (s *Server) ListTransactionHistory(c *gin.Context) {
	batchID, ok := idParam(c, "batch_id")
	if !ok {
		return
	}
	if _, err := s.batches.GetBatch(c.Request.Context(), batchID); err != nil {
		AbortWithError(c, err)
		return
	}
	history, err := s.transactions.GetBatchTransactionHistory(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, lo.Map(history, func(t transactiondomain.BatchTransaction, _ int) batchTransactionView {
		return toBatchTransactionView(t)
	}), len(history))
}
