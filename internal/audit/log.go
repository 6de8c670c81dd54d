package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"content-autoposter/internal/logger"
	"content-autoposter/internal/queue"
	"content-autoposter/models"
	"content-autoposter/utils"
)

// PreviewLength is how much of the post body an audit record keeps.
const PreviewLength = 100

// Columns is the audit log header, in order.
var Columns = []string{
	"id", "url", "post_content", "tags", "scheduled_time",
	"actual_posted_time", "success", "tumblr_post_id", "error",
}

// Sink receives one record per publish attempt.
type Sink interface {
	Append(ctx context.Context, rec models.AuditRecord) error
}

// RecordFor snapshots an entry's outcome. A nil err records a success.
func RecordFor(entry *models.QueueEntry, at time.Time, remoteID string, err error) models.AuditRecord {
	rec := models.AuditRecord{
		EntryID:     entry.ID,
		URL:         entry.SourceURL,
		Body:        utils.Truncate(entry.Body, PreviewLength),
		Tags:        append([]string(nil), entry.Tags...),
		ScheduledAt: entry.ScheduledAt,
		AttemptedAt: at,
		Success:     err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.RemotePostID = remoteID
	}
	return rec
}

// Log is the append-only CSV audit file.
type Log struct {
	path string
	mu   sync.Mutex
}

func NewLog(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Path() string { return l.path }

// Append writes rec as a new row, adding the header when the file is new or empty.
func (l *Log) Append(ctx context.Context, rec models.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return utils.IOError("create audit dir", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return utils.IOError("open audit log", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return utils.IOError("stat audit log", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			return utils.IOError("write audit header", err)
		}
	}
	if err := w.Write(encode(rec)); err != nil {
		return utils.IOError("write audit record", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return utils.IOError("write audit record", err)
	}
	return nil
}

// ReadAll returns every record in file order; a missing file yields none.
func (l *Log) ReadAll() ([]models.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.IOError("open audit log", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, utils.IOError("read audit header", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	var records []models.AuditRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				logger.Warn("Skipping malformed audit row", "line", pe.Line, "error", pe.Err)
				continue
			}
			return nil, utils.IOError("read audit log", err)
		}
		rec, err := decode(row, index)
		if err != nil {
			logger.Warn("Skipping invalid audit row", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func encode(rec models.AuditRecord) []string {
	success := "False"
	if rec.Success {
		success = "True"
	}
	return []string{
		rec.EntryID,
		rec.URL,
		rec.Body,
		queue.JoinTags(rec.Tags),
		formatTime(rec.ScheduledAt),
		formatTime(rec.AttemptedAt),
		success,
		rec.RemotePostID,
		rec.Error,
	}
}

func decode(row []string, index map[string]int) (models.AuditRecord, error) {
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	rec := models.AuditRecord{
		EntryID:      get("id"),
		URL:          get("url"),
		Body:         get("post_content"),
		Tags:         queue.SplitTags(get("tags")),
		RemotePostID: get("tumblr_post_id"),
		Error:        get("error"),
	}
	var err error
	if rec.Success, err = strconv.ParseBool(strings.TrimSpace(get("success"))); err != nil {
		return rec, fmt.Errorf("success: %w", err)
	}
	if rec.ScheduledAt, err = parseTime(get("scheduled_time")); err != nil {
		return rec, fmt.Errorf("scheduled_time: %w", err)
	}
	if rec.AttemptedAt, err = parseTime(get("actual_posted_time")); err != nil {
		return rec, fmt.Errorf("actual_posted_time: %w", err)
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(queue.TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s = strings.TrimSpace(s); s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(queue.TimeLayout, s, time.Local)
}
