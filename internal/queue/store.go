package queue

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"content-autoposter/internal/logger"
	"content-autoposter/models"
	"content-autoposter/utils"
)

// TimeLayout is used for every timestamp column, in local time.
const TimeLayout = "2006-01-02 15:04:05"

// Columns is the queue file header, in order.
var Columns = []string{
	"id", "url", "title", "post_content", "tags", "post_type",
	"generated_time", "scheduled_time", "posted", "posted_time", "tumblr_post_id",
}

// Store is the CSV-backed pending posts table.
type Store struct {
	path string

	mu sync.Mutex
	// held keeps rows the last Load could not decode so Save writes them back.
	held []heldRow
}

// heldRow is an undecodable row in Columns order, positioned after the
// first `after` valid entries.
type heldRow struct {
	after  int
	fields []string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads every valid entry in file order. A missing file is an empty queue.
// Rows that fail to decode are skipped with a warning and kept for the next Save.
func (s *Store) Load() ([]models.QueueEntry, error) {
	entries, held, err := s.read()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.held = held
	s.mu.Unlock()
	return entries, nil
}

func (s *Store) read() ([]models.QueueEntry, []heldRow, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, utils.IOError("open queue", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, utils.IOError("read queue header", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, nil, utils.IOError("read queue header", err)
	}

	var (
		entries []models.QueueEntry
		held    []heldRow
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				logger.Warn("Skipping malformed queue row", "path", s.path, "line", pe.Line, "error", pe.Err)
				continue
			}
			return nil, nil, utils.IOError("read queue", err)
		}

		line, _ := r.FieldPos(0)
		entry, err := decodeRow(row, index)
		if err != nil {
			logger.Warn("Skipping invalid queue row", "path", s.path, "line", line, "error", err)
			held = append(held, heldRow{after: len(entries), fields: reorderRow(row, index)})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, held, nil
}

// Save overwrites the queue with entries via a temp file and rename. Rows the
// last Load could not decode are written back unchanged at their positions.
func (s *Store) Save(entries []models.QueueEntry) error {
	s.mu.Lock()
	held := s.held
	s.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return utils.IOError("encode queue", err)
	}
	h := 0
	for i := range entries {
		for ; h < len(held) && held[h].after <= i; h++ {
			if err := w.Write(held[h].fields); err != nil {
				return utils.IOError("encode queue", err)
			}
		}
		if err := w.Write(encodeRow(&entries[i])); err != nil {
			return utils.IOError("encode queue", err)
		}
	}
	for ; h < len(held); h++ {
		if err := w.Write(held[h].fields); err != nil {
			return utils.IOError("encode queue", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return utils.IOError("encode queue", err)
	}

	if err := utils.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return utils.IOError("write queue", err)
	}
	return nil
}

// Append adds entries after the existing ones and saves the result.
func (s *Store) Append(entries ...models.QueueEntry) error {
	existing, err := s.Load()
	if err != nil {
		return err
	}
	return s.Save(append(existing, entries...))
}

// reorderRow maps a raw row onto Columns without cleaning any cell.
func reorderRow(row []string, index map[string]int) []string {
	out := make([]string, len(Columns))
	for i, col := range Columns {
		if j, ok := index[col]; ok && j < len(row) {
			out[i] = row[j]
		}
	}
	return out
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"id", "scheduled_time", "posted"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	return index, nil
}

func decodeRow(row []string, index map[string]int) (models.QueueEntry, error) {
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return cleanCell(row[i])
	}

	var e models.QueueEntry
	e.ID = strings.TrimSpace(get("id"))
	e.SourceURL = get("url")
	e.Title = get("title")
	e.Body = get("post_content")
	e.Tags = SplitTags(get("tags"))

	pt, err := models.ParsePostType(strings.TrimSpace(get("post_type")))
	if err != nil {
		return e, err
	}
	e.PostType = pt

	if e.CreatedAt, err = parseTime(get("generated_time"), false); err != nil {
		return e, fmt.Errorf("generated_time: %w", err)
	}
	if e.ScheduledAt, err = parseTime(get("scheduled_time"), true); err != nil {
		return e, fmt.Errorf("scheduled_time: %w", err)
	}

	if posted := strings.TrimSpace(get("posted")); posted != "" {
		if e.Published, err = strconv.ParseBool(posted); err != nil {
			return e, fmt.Errorf("posted: %w", err)
		}
	}
	if e.PublishedAt, err = parseTime(get("posted_time"), false); err != nil {
		return e, fmt.Errorf("posted_time: %w", err)
	}
	e.RemotePostID = strings.TrimSuffix(strings.TrimSpace(get("tumblr_post_id")), ".0")

	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

func encodeRow(e *models.QueueEntry) []string {
	posted := "False"
	if e.Published {
		posted = "True"
	}
	pt := e.PostType
	if pt == "" {
		pt = models.PostTypeText
	}
	return []string{
		e.ID,
		e.SourceURL,
		e.Title,
		e.Body,
		JoinTags(e.Tags),
		string(pt),
		formatTime(e.CreatedAt),
		formatTime(e.ScheduledAt),
		posted,
		formatTime(e.PublishedAt),
		e.RemotePostID,
	}
}

// cleanCell maps the null markers dataframe tooling writes to empty strings.
func cleanCell(s string) string {
	switch strings.TrimSpace(s) {
	case "nan", "NaN", "None", "NaT":
		return ""
	}
	return s
}

// SplitTags parses the comma-joined tags column.
func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(TimeLayout)
}

func parseTime(s string, required bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return time.Time{}, errors.New("empty")
		}
		return time.Time{}, nil
	}
	// pandas may write fractional seconds.
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return time.ParseInLocation(TimeLayout, s, time.Local)
}
