package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"content-autoposter/internal/logger"
	"content-autoposter/models"
)

const (
	queueSheet   = "Queue"
	auditSheet   = "Audit"
	summarySheet = "Summary"
)

// ExportSummary counts what went into a workbook.
type ExportSummary struct {
	Path      string
	Pending   int
	Published int
	Attempts  int
	Failures  int
}

// QueueReader loads the post queue.
type QueueReader interface {
	Load() ([]models.QueueEntry, error)
}

// AuditReader loads every audit record.
type AuditReader interface {
	ReadAll() ([]models.AuditRecord, error)
}

// ExportService writes the queue and audit history to an XLSX workbook.
type ExportService struct {
	queue QueueReader
	audit AuditReader
}

func NewExportService(queue QueueReader, audit AuditReader) *ExportService {
	return &ExportService{queue: queue, audit: audit}
}

// Export builds the workbook and saves it to path.
func (es *ExportService) Export(path string, now time.Time) (*ExportSummary, error) {
	entries, err := es.queue.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	records, err := es.audit.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Error closing workbook", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", queueSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(auditSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F2F2F2"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	summary := &ExportSummary{Path: path, Attempts: len(records)}

	queueRows := make([][]any, 0, len(entries))
	for _, e := range entries {
		if e.Published {
			summary.Published++
		} else {
			summary.Pending++
		}
		queueRows = append(queueRows, []any{
			e.ID, e.SourceURL, e.Title, e.Body, strings.Join(e.Tags, ","), string(e.PostType),
			cellTime(e.CreatedAt), cellTime(e.ScheduledAt), e.Published, cellTime(e.PublishedAt), e.RemotePostID,
		})
	}
	queueHeaders := []string{"ID", "URL", "Title", "Content", "Tags", "Type", "Generated", "Scheduled", "Posted", "Posted At", "Post ID"}
	if err := writeSheet(f, queueSheet, queueHeaders, queueRows, headerStyle); err != nil {
		return nil, err
	}

	auditRows := make([][]any, 0, len(records))
	for _, r := range records {
		if !r.Success {
			summary.Failures++
		}
		auditRows = append(auditRows, []any{
			r.EntryID, r.URL, r.Body, strings.Join(r.Tags, ","), cellTime(r.ScheduledAt),
			cellTime(r.AttemptedAt), r.Success, r.RemotePostID, r.Error,
		})
	}
	auditHeaders := []string{"ID", "URL", "Content", "Tags", "Scheduled", "Attempted", "Success", "Post ID", "Error"}
	if err := writeSheet(f, auditSheet, auditHeaders, auditRows, headerStyle); err != nil {
		return nil, err
	}

	summaryRows := [][]any{
		{"Exported At", cellTime(now)},
		{"Pending Posts", summary.Pending},
		{"Published Posts", summary.Published},
		{"Publish Attempts", summary.Attempts},
		{"Failed Attempts", summary.Failures},
	}
	if err := writeSheet(f, summarySheet, []string{"Metric", "Value"}, summaryRows, headerStyle); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	logger.Info("Workbook exported", "path", path, "entries", len(entries), "attempts", len(records))
	return summary, nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func cellTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
