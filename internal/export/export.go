// Package export writes operator-facing XLSX reports: the dead-letter queue
// and the audit trail for a single entity.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ledgersync/internal/database"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

type Service struct {
	db     *database.DB
	path   string
	logger zerolog.Logger
}

func NewService(db *database.DB, exportPath string, logger *zerolog.Logger) *Service {
	return &Service{
		db:     db,
		path:   exportPath,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// FailedJobs writes the dead-letter queue to an XLSX file and returns its
// path.
func (s *Service) FailedJobs(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	jobs, err := s.db.GetFailedJobs(ctx)
	if err != nil {
		return "", fmt.Errorf("load failed jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Failed jobs"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []interface{}{"Job ID", "Type", "Entity", "Entity ID", "Attempts", "Last Error", "Created", "Failed"}
	writeRow(f, sheetName, 1, headers)

	for i, job := range jobs {
		lastError := ""
		if job.LastError != nil {
			lastError = *job.LastError
		}
		writeRow(f, sheetName, i+2, []interface{}{
			job.ID,
			job.Type,
			job.EntityType,
			job.EntityID,
			job.Attempts,
			lastError,
			job.CreatedAt.Format(time.RFC3339),
			job.UpdatedAt.Format(time.RFC3339),
		})
	}

	styleHeader(f, sheetName)
	_ = f.SetColWidth(sheetName, "A", "H", 22)
	_ = f.DeleteSheet("Sheet1")

	filePath := filepath.Join(s.path, fmt.Sprintf("failed_jobs_%s.xlsx", time.Now().Format("2006-01-02_150405")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}

	s.logger.Info().Str("file_path", filePath).Int("jobs", len(jobs)).Msg("failed jobs exported")
	return filePath, nil
}

// AuditTrail writes every recorded attempt for one entity to an XLSX file
// and returns its path.
func (s *Service) AuditTrail(ctx context.Context, entityType string, entityID int64) (string, error) {
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	entries, err := s.db.ListAuditEntries(ctx, entityType, entityID)
	if err != nil {
		return "", fmt.Errorf("load audit entries: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Audit trail"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []interface{}{"Entry ID", "Job ID", "Status Code", "Error", "Request", "Response", "Recorded"}
	writeRow(f, sheetName, 1, headers)

	for i, e := range entries {
		row := []interface{}{e.ID, deref64(e.JobID), derefInt(e.StatusCode), derefStr(e.Error), e.Request, e.Response, e.CreatedAt.Format(time.RFC3339)}
		writeRow(f, sheetName, i+2, row)
	}

	styleHeader(f, sheetName)
	_ = f.SetColWidth(sheetName, "A", "D", 16)
	_ = f.SetColWidth(sheetName, "E", "F", 60)
	_ = f.DeleteSheet("Sheet1")

	filePath := filepath.Join(s.path, fmt.Sprintf("audit_%s_%d_%s.xlsx", entityType, entityID, time.Now().Format("2006-01-02_150405")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}

	s.logger.Info().Str("file_path", filePath).Int("entries", len(entries)).Msg("audit trail exported")
	return filePath, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func styleHeader(f *excelize.File, sheet string) {
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return
	}
	_ = f.SetCellStyle(sheet, "A1", "H1", style)
}

func deref64(v *int64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func derefStr(v *string) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
