package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"content-autoposter/internal/audit"
	"content-autoposter/internal/auth"
	"content-autoposter/internal/queue"
	"content-autoposter/models"
	"content-autoposter/utils"
)

type publishCall struct {
	entryID string
	cred    auth.Credential
}

// fakePlatform answers Publish from a scripted list of results.
type fakePlatform struct {
	results  []fakeResult
	calls    []publishCall
	checkErr error
}

type fakeResult struct {
	id  string
	err error
}

func (f *fakePlatform) Name() string { return "fake" }

func (f *fakePlatform) Publish(_ context.Context, cred auth.Credential, entry models.QueueEntry) (string, error) {
	f.calls = append(f.calls, publishCall{entryID: entry.ID, cred: cred})
	if len(f.results) == 0 {
		return "", errors.New("unexpected publish call")
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.id, r.err
}

func (f *fakePlatform) CheckConnection(context.Context, auth.Credential) (string, error) {
	if f.checkErr != nil {
		return "", f.checkErr
	}
	return "Test Blog", nil
}

type fakeCreds struct {
	token      string
	err        error
	refreshed  string
	refreshErr error
	refreshes  int
}

func (f *fakeCreds) Credential(context.Context) (auth.Credential, error) {
	if f.err != nil {
		return auth.Credential{}, f.err
	}
	return auth.Credential{BearerToken: f.token}, nil
}

func (f *fakeCreds) ForceRefresh(context.Context) (auth.Credential, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return auth.Credential{}, f.refreshErr
	}
	f.token = f.refreshed
	return auth.Credential{BearerToken: f.refreshed}, nil
}

var runAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)

type publisherFixture struct {
	store *queue.Store
	log   *audit.Log
}

func newFixture(t *testing.T, entries ...models.QueueEntry) *publisherFixture {
	t.Helper()
	dir := t.TempDir()
	f := &publisherFixture{
		store: queue.NewStore(filepath.Join(dir, "pending_posts.csv")),
		log:   audit.NewLog(filepath.Join(dir, "posted_logs.csv")),
	}
	if len(entries) > 0 {
		if err := f.store.Save(entries); err != nil {
			t.Fatalf("seed queue: %v", err)
		}
	}
	return f
}

func (f *publisherFixture) publisher(pf *fakePlatform, creds auth.CredentialSource) *Publisher {
	return NewPublisher(f.store, f.log, pf, creds, PublisherOptions{
		Clock: func() time.Time { return runAt },
	})
}

func pendingEntry(id string, scheduled time.Time) models.QueueEntry {
	return models.QueueEntry{
		ID:          id,
		SourceURL:   "https://example.com/" + id,
		Title:       "Title " + id,
		Body:        "Body for " + id,
		Tags:        []string{"go"},
		PostType:    models.PostTypeText,
		CreatedAt:   runAt.Add(-24 * time.Hour),
		ScheduledAt: scheduled,
	}
}

func mustLoad(t *testing.T, s *queue.Store) []models.QueueEntry {
	t.Helper()
	entries, err := s.Load()
	if err != nil {
		t.Fatalf("load queue: %v", err)
	}
	return entries
}

func mustAudit(t *testing.T, l *audit.Log) []models.AuditRecord {
	t.Helper()
	records, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	return records
}

func TestPublishDuePublishesPastEntry(t *testing.T) {
	fx := newFixture(t, pendingEntry("a", runAt.Add(-time.Hour)))
	pf := &fakePlatform{results: []fakeResult{{id: "12345"}}}

	report, err := fx.publisher(pf, &fakeCreds{token: "tok"}).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 || report.Processed() != 1 {
		t.Fatalf("report = %+v", report)
	}

	entries := mustLoad(t, fx.store)
	if !entries[0].Published || entries[0].RemotePostID != "12345" || !entries[0].PublishedAt.Equal(runAt) {
		t.Fatalf("entry = %+v", entries[0])
	}

	records := mustAudit(t, fx.log)
	if len(records) != 1 || !records[0].Success || records[0].RemotePostID != "12345" {
		t.Fatalf("audit = %+v", records)
	}
}

func TestPublishDueKeepsUndecodableRows(t *testing.T) {
	fx := newFixture(t, pendingEntry("a", runAt.Add(-time.Hour)))
	data, err := os.ReadFile(fx.store.Path())
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	broken := "b,https://example.com/b,B,Body for b,go,text,,2025-03-01 13:00,False,,"
	if err := os.WriteFile(fx.store.Path(), append(data, broken+"\n"...), 0o644); err != nil {
		t.Fatalf("write queue: %v", err)
	}

	pf := &fakePlatform{results: []fakeResult{{id: "1"}}}
	report, err := fx.publisher(pf, &fakeCreds{token: "tok"}).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Succeeded != 1 || len(pf.calls) != 1 {
		t.Fatalf("report = %+v", report)
	}

	after, _ := os.ReadFile(fx.store.Path())
	if !bytes.Contains(after, []byte(broken+"\n")) {
		t.Fatalf("undecodable row lost:\n%s", after)
	}
	if entries := mustLoad(t, fx.store); len(entries) != 1 || !entries[0].Published {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPublishDueFutureEntryLeavesQueueUntouched(t *testing.T) {
	future := runAt.Add(2 * time.Hour)
	fx := newFixture(t, pendingEntry("a", future))
	before, _ := os.ReadFile(fx.store.Path())
	pf := &fakePlatform{}

	report, err := fx.publisher(pf, &fakeCreds{token: "tok"}).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Processed() != 0 || report.Due != 0 || len(pf.calls) != 0 {
		t.Fatalf("report = %+v calls = %d", report, len(pf.calls))
	}
	if report.NextScheduled == nil || !report.NextScheduled.Equal(future) {
		t.Fatalf("next scheduled = %v", report.NextScheduled)
	}

	after, _ := os.ReadFile(fx.store.Path())
	if !bytes.Equal(before, after) {
		t.Fatalf("queue file changed")
	}
	if _, err := os.Stat(fx.log.Path()); !os.IsNotExist(err) {
		t.Fatalf("audit log written for an empty run")
	}
}

func TestPublishDueRefreshesOnceAfterUnauthorized(t *testing.T) {
	fx := newFixture(t, pendingEntry("a", runAt.Add(-time.Minute)))
	pf := &fakePlatform{results: []fakeResult{
		{err: &utils.RemoteError{Status: http.StatusUnauthorized, Body: "expired"}},
		{id: "777"},
	}}
	creds := &fakeCreds{token: "old", refreshed: "new"}

	report, err := fx.publisher(pf, creds).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if creds.refreshes != 1 || len(pf.calls) != 2 || pf.calls[1].cred.BearerToken != "new" {
		t.Fatalf("refreshes=%d calls=%+v", creds.refreshes, pf.calls)
	}

	entries := mustLoad(t, fx.store)
	if !entries[0].Published || entries[0].RemotePostID != "777" {
		t.Fatalf("entry = %+v", entries[0])
	}
	records := mustAudit(t, fx.log)
	if len(records) != 1 || !records[0].Success {
		t.Fatalf("want exactly one success audit record, got %+v", records)
	}
}

func TestPublishDueUnauthorizedTwiceLeavesPending(t *testing.T) {
	fx := newFixture(t,
		pendingEntry("a", runAt.Add(-2*time.Minute)),
		pendingEntry("b", runAt.Add(-time.Minute)),
	)
	unauthorized := &utils.RemoteError{Status: http.StatusUnauthorized, Body: "nope"}
	pf := &fakePlatform{results: []fakeResult{{err: unauthorized}, {err: unauthorized}, {id: "2"}}}
	creds := &fakeCreds{token: "old", refreshed: "new"}

	report, err := fx.publisher(pf, creds).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 || report.Aborted {
		t.Fatalf("report = %+v", report)
	}
	if creds.refreshes != 1 {
		t.Fatalf("refreshes = %d", creds.refreshes)
	}

	entries := mustLoad(t, fx.store)
	if entries[0].Published || !entries[1].Published {
		t.Fatalf("entries = %+v", entries)
	}
	records := mustAudit(t, fx.log)
	if len(records) != 2 || records[0].Success || !records[1].Success {
		t.Fatalf("audit = %+v", records)
	}
}

func TestPublishDueRefreshFailureIsPerEntry(t *testing.T) {
	fx := newFixture(t, pendingEntry("a", runAt.Add(-time.Minute)))
	pf := &fakePlatform{results: []fakeResult{{err: &utils.RemoteError{Status: http.StatusUnauthorized}}}}
	creds := &fakeCreds{token: "old", refreshErr: &utils.RefreshError{Status: 400, Body: "invalid_grant"}}

	report, err := fx.publisher(pf, creds).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Failed != 1 || report.Aborted {
		t.Fatalf("report = %+v", report)
	}
	if len(pf.calls) != 1 {
		t.Fatalf("retried without a refreshed credential")
	}
	if mustLoad(t, fx.store)[0].Published {
		t.Fatalf("entry published after failed refresh")
	}
}

func TestPublishDueRemoteFailureLeavesPending(t *testing.T) {
	fx := newFixture(t,
		pendingEntry("a", runAt.Add(-2*time.Minute)),
		pendingEntry("b", runAt.Add(-time.Minute)),
	)
	pf := &fakePlatform{results: []fakeResult{
		{err: &utils.RemoteError{Status: 500, Body: "boom"}},
		{id: "2"},
	}}

	report, err := fx.publisher(pf, &fakeCreds{token: "tok"}).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[0].Status != models.StatusFailed || report.Results[0].Error != "API Error: 500 - boom" {
		t.Fatalf("result = %+v", report.Results[0])
	}

	entries := mustLoad(t, fx.store)
	if entries[0].Published {
		t.Fatalf("failed entry marked published")
	}
	records := mustAudit(t, fx.log)
	if len(records) != 2 || records[0].Error != "API Error: 500 - boom" {
		t.Fatalf("audit = %+v", records)
	}

	// The failed entry is retried on the next run.
	pf.results = []fakeResult{{id: "1"}}
	report, err = fx.publisher(pf, &fakeCreds{token: "tok"}).PublishDue(context.Background(), runAt.Add(time.Hour))
	if err != nil || report.Succeeded != 1 {
		t.Fatalf("retry run report = %+v err = %v", report, err)
	}
	if len(mustAudit(t, fx.log)) != 3 {
		t.Fatalf("retry attempt not audited")
	}
}

func TestPublishDueNoCredentialAbortsBatch(t *testing.T) {
	fx := newFixture(t,
		pendingEntry("a", runAt.Add(-2*time.Minute)),
		pendingEntry("b", runAt.Add(-time.Minute)),
	)
	resolver := auth.NewResolver(auth.NewTokenStore(filepath.Join(t.TempDir(), "missing.json")), auth.ResolverConfig{
		ClientID: "id", ClientSecret: "secret", TokenURL: "http://127.0.0.1:0/token",
	})
	pf := &fakePlatform{}

	report, err := fx.publisher(pf, resolver).PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !report.Aborted || report.Failed != 2 || report.Succeeded != 0 || len(pf.calls) != 0 {
		t.Fatalf("report = %+v calls = %d", report, len(pf.calls))
	}
	for _, r := range report.Results {
		if r.Status != models.StatusFailed {
			t.Fatalf("result = %+v", r)
		}
	}
	for _, e := range mustLoad(t, fx.store) {
		if e.Published {
			t.Fatalf("entry %s marked published", e.ID)
		}
	}
	if len(mustAudit(t, fx.log)) != 2 {
		t.Fatalf("aborted entries not audited")
	}
}

func TestPublishDueIsIdempotent(t *testing.T) {
	fx := newFixture(t,
		pendingEntry("a", runAt.Add(-time.Minute)),
		pendingEntry("b", runAt.Add(24*time.Hour)),
	)
	pf := &fakePlatform{results: []fakeResult{{id: "1"}}}
	p := fx.publisher(pf, &fakeCreds{token: "tok"})

	if _, err := p.PublishDue(context.Background(), runAt); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := os.ReadFile(fx.store.Path())

	report, err := p.PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Processed() != 0 || len(pf.calls) != 1 {
		t.Fatalf("second run processed %d entries", report.Processed())
	}
	after, _ := os.ReadFile(fx.store.Path())
	if !bytes.Equal(before, after) {
		t.Fatalf("queue changed by idempotent run")
	}
}

func TestPublishDueConnectionCheckFailureAborts(t *testing.T) {
	fx := newFixture(t, pendingEntry("a", runAt.Add(-time.Minute)))
	pf := &fakePlatform{checkErr: errors.New("down")}
	p := NewPublisher(fx.store, fx.log, pf, &fakeCreds{token: "tok"}, PublisherOptions{VerifyConnection: true})

	report, err := p.PublishDue(context.Background(), runAt)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !report.Aborted || report.Failed != 1 || len(pf.calls) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestPublishDueInvariantHolds(t *testing.T) {
	fx := newFixture(t,
		pendingEntry("a", runAt.Add(-3*time.Minute)),
		pendingEntry("b", runAt.Add(-2*time.Minute)),
		pendingEntry("c", runAt.Add(time.Hour)),
	)
	pf := &fakePlatform{results: []fakeResult{{id: "1"}, {err: errors.New("reset by peer")}}}

	if _, err := fx.publisher(pf, &fakeCreds{token: "tok"}).PublishDue(context.Background(), runAt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, e := range mustLoad(t, fx.store) {
		if err := e.Validate(); err != nil {
			t.Fatalf("invariant broken: %v", err)
		}
		if e.Published != (e.RemotePostID != "" && !e.PublishedAt.IsZero()) {
			t.Fatalf("entry %s violates published invariant", e.ID)
		}
	}
}
