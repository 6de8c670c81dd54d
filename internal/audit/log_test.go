package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"content-autoposter/internal/config"
	"content-autoposter/models"
)

func testEntry() *models.QueueEntry {
	return &models.QueueEntry{
		ID:          "post_20250301_090000_001",
		SourceURL:   "https://example.com/a",
		Body:        strings.Repeat("x", 150),
		Tags:        []string{"go", "testing"},
		ScheduledAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local),
	}
}

func TestRecordFor(t *testing.T) {
	at := time.Date(2025, 3, 1, 11, 0, 0, 0, time.Local)

	ok := RecordFor(testEntry(), at, "999", nil)
	if !ok.Success || ok.RemotePostID != "999" || ok.Error != "" {
		t.Fatalf("success record = %+v", ok)
	}
	if ok.Body != strings.Repeat("x", 100)+"..." {
		t.Fatalf("body not truncated: %d chars", len(ok.Body))
	}

	failed := RecordFor(testEntry(), at, "999", errors.New("API Error: 500 - boom"))
	if failed.Success || failed.RemotePostID != "" || failed.Error != "API Error: 500 - boom" {
		t.Fatalf("failure record = %+v", failed)
	}
}

func TestLogAppendWritesHeaderOnce(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "posted_logs.csv"))
	at := time.Date(2025, 3, 1, 11, 0, 0, 0, time.Local)
	ctx := context.Background()

	if err := log.Append(ctx, RecordFor(testEntry(), at, "1", nil)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(ctx, RecordFor(testEntry(), at.Add(time.Hour), "", errors.New("timeout"))); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(data), "id,url,post_content"); n != 1 {
		t.Fatalf("header written %d times:\n%s", n, data)
	}

	records, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if !records[0].Success || records[0].RemotePostID != "1" || !records[0].AttemptedAt.Equal(at) {
		t.Fatalf("first = %+v", records[0])
	}
	if records[1].Success || records[1].Error != "timeout" {
		t.Fatalf("second = %+v", records[1])
	}
	if strings.Join(records[0].Tags, ",") != "go,testing" {
		t.Fatalf("tags = %v", records[0].Tags)
	}
}

func TestLogAppendKeepsExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted_logs.csv")
	existing := strings.Join(Columns, ",") + "\nold,https://old.example,old body,,2025-01-01 00:00:00,2025-01-01 00:00:01,True,42,\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	log := NewLog(path)
	if err := log.Append(context.Background(), RecordFor(testEntry(), time.Now(), "43", nil)); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), existing) {
		t.Fatalf("existing rows rewritten:\n%s", data)
	}
	records, err := log.ReadAll()
	if err != nil || len(records) != 2 || records[0].EntryID != "old" {
		t.Fatalf("records = %+v err = %v", records, err)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Append(context.Context, models.AuditRecord) error {
	f.calls++
	return errors.New("mirror down")
}

type memorySink struct{ records []models.AuditRecord }

func (m *memorySink) Append(_ context.Context, rec models.AuditRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func TestMultiSinkIgnoresMirrorFailure(t *testing.T) {
	primary := &memorySink{}
	mirror := &failingSink{}
	sink := &MultiSink{Primary: primary, Mirrors: []Sink{mirror}}

	if err := sink.Append(context.Background(), models.AuditRecord{EntryID: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(primary.records) != 1 || mirror.calls != 1 {
		t.Fatalf("primary=%d mirror=%d", len(primary.records), mirror.calls)
	}
}

func TestMultiSinkPrimaryFailure(t *testing.T) {
	mirror := &memorySink{}
	sink := &MultiSink{Primary: &failingSink{}, Mirrors: []Sink{mirror}}

	if err := sink.Append(context.Background(), models.AuditRecord{EntryID: "a"}); err == nil {
		t.Fatalf("expected primary error")
	}
	if len(mirror.records) != 0 {
		t.Fatalf("mirror written after primary failure")
	}
}

func TestMongoSink(t *testing.T) {
	uri := os.Getenv("AUDIT_MONGO_URI")
	if uri == "" {
		t.Skip("AUDIT_MONGO_URI not set, skipping MongoDB audit mirror test")
	}

	cfg := &config.Config{AuditMongoURI: uri, AuditMongoDB: "autoposter_test"}
	client, err := config.ConnectAuditMongo(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect(context.Background())

	ctx := context.Background()
	sink := NewMongoSink(client, cfg.AuditMongoDB)
	entryID := "post_test_" + time.Now().Format("150405.000000")
	rec := RecordFor(&models.QueueEntry{ID: entryID, Body: "hello"}, time.Now(), "1", nil)
	if err := sink.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	var got models.AuditRecord
	col := client.Database(cfg.AuditMongoDB).Collection(config.AuditCollection)
	if err := col.FindOne(ctx, bson.M{"entry_id": entryID}).Decode(&got); err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.RemotePostID != "1" || !got.Success {
		t.Fatalf("mirrored = %+v", got)
	}
}
