package crawler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
)

const samplePage = `<!doctype html>
<html><head>
<title>  Building Reliable Schedulers  </title>
<meta name="description" content="How to run periodic jobs without overlap.">
<script>var tracking = "ignore me";</script>
</head>
<body>
<nav>Home | About</nav>
<article><h1>Building Reliable Schedulers</h1>
<p>Cron expressions are simple until two runs overlap and both write the same file at once.</p>
<p>Singleton mode keeps one run in flight.</p></article>
<footer>copyright</footer>
</body></html>`

func TestFetchExtractsPageContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	page, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/post#comments")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Title != "Building Reliable Schedulers" {
		t.Fatalf("title = %q", page.Title)
	}
	if page.Description != "How to run periodic jobs without overlap." {
		t.Fatalf("description = %q", page.Description)
	}
	if !strings.Contains(page.Excerpt, "Singleton mode") || strings.Contains(page.Excerpt, "Home | About") {
		t.Fatalf("excerpt = %q", page.Excerpt)
	}
	if strings.Contains(page.URL, "#") {
		t.Fatalf("fragment kept in %q", page.URL)
	}
}

func TestFetchDecodesBrotli(t *testing.T) {
	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	bw.Write([]byte(samplePage))
	bw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			t.Errorf("brotli not advertised: %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "br")
		w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	page, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Title != "Building Reliable Schedulers" {
		t.Fatalf("title = %q", page.Title)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func TestExtractPageContextFallbacks(t *testing.T) {
	html := `<html><head>
<meta property="og:title" content="OG Title">
<script type="application/ld+json">{"@graph":[{"@type":"WebSite"},{"@type":"Article","description":"From JSON-LD"}]}</script>
</head><body><p>Short.</p></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pc := ExtractPageContext(doc.Selection)
	if pc.Title != "OG Title" || pc.Description != "From JSON-LD" || pc.Excerpt != "Short." {
		t.Fatalf("got %+v", pc)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "HTTPS://Example.COM:443/a#frag", want: "https://example.com/a"},
		{in: "example.com", want: "https://example.com/"},
		{in: "http://example.com:80", want: "http://example.com/"},
		{in: "https://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := normalizeURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("normalizeURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	if got := truncateWords("alpha beta gamma", 11); got != "alpha beta..." {
		t.Fatalf("got %q", got)
	}
	if got := truncateWords("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
}
