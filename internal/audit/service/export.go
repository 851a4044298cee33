package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"time"

	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	"github.com/railzwaylabs/waterbilling/internal/audit/repository"
	"gorm.io/gorm"
)

type ExportService struct {
	repo auditdomain.Repository
}

func NewExportService(db *gorm.DB) auditdomain.ExportService {
	return &ExportService{repo: repository.NewRepository(db)}
}

func (s *ExportService) Export(ctx context.Context, req auditdomain.ExportRequest) (*auditdomain.ExportResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logs, err := s.repo.List(ctx, auditdomain.ListFilter{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Actions:   req.Actions,
		TargetID:  req.BatchID,
	})
	if err != nil {
		return nil, err
	}

	var data []byte
	switch req.Format {
	case auditdomain.ExportFormatJSON:
		data, err = formatJSON(logs)
	default:
		data, err = formatCSV(logs)
	}
	if err != nil {
		return nil, err
	}

	return &auditdomain.ExportResult{
		Data:     data,
		Checksum: checksum(data),
		Format:   req.Format,
		Count:    len(logs),
	}, nil
}

func formatCSV(logs []auditdomain.AuditLog) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"timestamp", "actor_type", "actor_id", "action", "target_type", "target_id", "status", "metadata"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, log := range logs {
		metadata, _ := json.Marshal(log.Metadata)
		row := []string{
			log.CreatedAt.Format(time.RFC3339),
			log.ActorType,
			stringValue(log.ActorID),
			log.Action,
			log.TargetType,
			stringValue(log.TargetID),
			log.Status,
			string(metadata),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type exportRecord struct {
	Timestamp  string         `json:"timestamp"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id,omitempty"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func formatJSON(logs []auditdomain.AuditLog) ([]byte, error) {
	records := make([]exportRecord, 0, len(logs))
	for _, log := range logs {
		records = append(records, exportRecord{
			Timestamp:  log.CreatedAt.Format(time.RFC3339),
			ActorType:  log.ActorType,
			ActorID:    stringValue(log.ActorID),
			Action:     log.Action,
			TargetType: log.TargetType,
			TargetID:   stringValue(log.TargetID),
			Status:     log.Status,
			Metadata:   log.Metadata,
		})
	}
	return json.MarshalIndent(records, "", "  ")
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
