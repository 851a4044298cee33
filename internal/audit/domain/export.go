package domain

import (
	"context"
	"strings"
	"time"

	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
)

type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)

// MaxExportRange bounds the window a single export may cover.
const MaxExportRange = 90 * 24 * time.Hour

// ParseExportFormat accepts csv or json in any case. An empty value means csv.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return ExportFormatCSV, nil
	case ExportFormatCSV, ExportFormatJSON:
		return f, nil
	default:
		return "", ierr.Validation("format must be csv or json")
	}
}

// ExportRequest selects the audit events to export. EndDate is exclusive.
type ExportRequest struct {
	StartDate time.Time
	EndDate   time.Time
	Format    ExportFormat
	Actions   []string
	BatchID   *string
}

func (r ExportRequest) Validate() error {
	if !r.EndDate.After(r.StartDate) || r.EndDate.Sub(r.StartDate) > MaxExportRange {
		return ierr.Validation("export range must be between 1 and 90 days")
	}
	if r.Format != ExportFormatCSV && r.Format != ExportFormatJSON {
		return ierr.Validation("format must be csv or json")
	}
	return nil
}

// ExportResult holds the rendered export and a sha256 checksum of Data.
type ExportResult struct {
	Data     []byte
	Checksum string
	Format   ExportFormat
	Count    int
}

type ExportService interface {
	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
}
