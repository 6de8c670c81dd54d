package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"content-autoposter/internal/audit"
	"content-autoposter/internal/config"
	"content-autoposter/internal/queue"
	"content-autoposter/models"
	"content-autoposter/services"
	"content-autoposter/utils"
)

func testApp(t *testing.T, apiBase string) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		PendingPostsFile: filepath.Join(dir, "pending_posts.csv"),
		PostedLogsFile:   filepath.Join(dir, "posted_logs.csv"),
		TokenFile:        filepath.Join(dir, "tumblr_token.json"),
		Platform:         config.PlatformTumblrOAuth2,
		BlogName:         "myblog",
		TumblrAPIBase:    apiBase,
		ClientID:         "id",
		ClientSecret:     "secret",
		TokenURL:         apiBase + "/oauth2/token",
		RequestTimeout:   5 * time.Second,
		LockTTL:          time.Minute,
	}
	return &App{Cfg: cfg, Notifier: services.NewNotifier(cfg, nil)}
}

func seedQueue(t *testing.T, path string, scheduled time.Time) {
	t.Helper()
	entry := models.QueueEntry{
		ID:          "post_20250301_060000_001",
		SourceURL:   "https://example.com/a",
		Body:        "hello",
		PostType:    models.PostTypeText,
		CreatedAt:   scheduled.Add(-time.Hour),
		ScheduledAt: scheduled,
	}
	if err := queue.NewStore(path).Save([]models.QueueEntry{entry}); err != nil {
		t.Fatal(err)
	}
}

func TestPublishInvalidConfig(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	a.Cfg.BlogName = ""

	code, err := a.Publish(context.Background())
	if code != ExitFatal || utils.KindOf(err) != utils.KindConfig {
		t.Fatalf("code = %d, err = %v", code, err)
	}
}

func TestPublishNothingDue(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	seedQueue(t, a.Cfg.PendingPostsFile, time.Now().Add(time.Hour))

	code, err := a.Publish(context.Background())
	if err != nil || code != ExitNothingDue {
		t.Fatalf("code = %d, err = %v", code, err)
	}
}

func TestPublishWithoutCredential(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	seedQueue(t, a.Cfg.PendingPostsFile, time.Now().Add(-time.Minute))
	before, _ := os.ReadFile(a.Cfg.PendingPostsFile)

	code, err := a.Publish(context.Background())
	if err != nil || code != ExitFailures {
		t.Fatalf("code = %d, err = %v", code, err)
	}

	after, _ := os.ReadFile(a.Cfg.PendingPostsFile)
	if string(before) != string(after) {
		t.Fatalf("queue content changed:\n%s\n---\n%s", before, after)
	}
	records, err := audit.NewLog(a.Cfg.PostedLogsFile).ReadAll()
	if err != nil || len(records) != 1 || records[0].Success {
		t.Fatalf("audit = %+v, %v", records, err)
	}
}

func TestPublishSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer live-token" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"meta":{"status":201,"msg":"Created"},"response":{"id":"98765"}}`))
	}))
	defer srv.Close()

	a := testApp(t, srv.URL)
	seedQueue(t, a.Cfg.PendingPostsFile, time.Now().Add(-time.Minute))
	token := `{"access_token":"live-token","refresh_token":"r","expires_at":"` +
		time.Now().Add(24*time.Hour).Format(time.RFC3339) + `","expires_in":86400}`
	if err := os.WriteFile(a.Cfg.TokenFile, []byte(token), 0o600); err != nil {
		t.Fatal(err)
	}

	code, err := a.Publish(context.Background())
	if err != nil || code != ExitOK {
		t.Fatalf("code = %d, err = %v", code, err)
	}
	entries, _ := queue.NewStore(a.Cfg.PendingPostsFile).Load()
	if len(entries) != 1 || !entries[0].Published || entries[0].RemotePostID != "98765" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestGenerateInvalidConfig(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	code, err := a.Generate(context.Background())
	if code != ExitFatal || utils.KindOf(err) != utils.KindConfig {
		t.Fatalf("code = %d, err = %v", code, err)
	}
}

func TestAuditSinkWithoutMongo(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	if _, ok := a.AuditSink().(*audit.Log); !ok {
		t.Fatalf("expected plain CSV log without Mongo")
	}
}
