package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
)

// ExportAuditLogs handles GET /api/v1/audit/export
func (s *Server) ExportAuditLogs(c *gin.Context) {
	startDateStr := strings.TrimSpace(c.Query("start_date"))
	endDateStr := strings.TrimSpace(c.Query("end_date"))
	batchIDStr := strings.TrimSpace(c.Query("batch_id"))
	actionsStr := strings.TrimSpace(c.Query("actions"))

	if startDateStr == "" || endDateStr == "" {
		AbortWithError(c, ierr.Validation("start_date and end_date are required"))
		return
	}
	startDate, err := time.Parse(time.DateOnly, startDateStr)
	if err != nil {
		AbortWithError(c, ierr.Validation("start_date must be YYYY-MM-DD"))
		return
	}
	endDate, err := time.Parse(time.DateOnly, endDateStr)
	if err != nil {
		AbortWithError(c, ierr.Validation("end_date must be YYYY-MM-DD"))
		return
	}
	format, err := auditdomain.ParseExportFormat(c.Query("format"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var batchID *string
	if batchIDStr != "" {
		if _, err := snowflake.ParseString(batchIDStr); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		batchID = &batchIDStr
	}

	var actions []string
	if actionsStr != "" {
		for _, a := range strings.Split(actionsStr, ",") {
			if a = strings.TrimSpace(a); a != "" {
				actions = append(actions, a)
			}
		}
	}

	req := auditdomain.ExportRequest{
		StartDate: startDate,
		// end_date is inclusive
		EndDate: endDate.Add(24 * time.Hour),
		Format:  format,
		Actions: actions,
		BatchID: batchID,
	}
	if err := req.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.auditExportSvc.Export(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("X-Audit-Export-Checksum", result.Checksum)
	c.Header("X-Audit-Export-Count", strconv.Itoa(result.Count))

	contentType := "text/csv"
	if result.Format == auditdomain.ExportFormatJSON {
		contentType = "application/json"
	}
	filename := "audit_export_" + startDateStr + "_" + endDateStr + "." + string(result.Format)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Data(http.StatusOK, contentType, result.Data)
}
