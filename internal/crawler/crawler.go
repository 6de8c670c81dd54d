package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"content-autoposter/internal/logger"
)

var (
	// Shared transport; gzip is decoded by colly, brotli in onResponse.
	httpTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// PageContext is the metadata of a source page used to ground a generated post.
type PageContext struct {
	URL         string
	Title       string
	Description string
	Excerpt     string
	StatusCode  int
}

// Empty reports whether nothing useful was extracted.
func (p *PageContext) Empty() bool {
	return p == nil || (p.Title == "" && p.Description == "" && p.Excerpt == "")
}

// Fetcher downloads a single page and extracts its PageContext.
type Fetcher struct {
	Timeout   time.Duration
	UserAgent string
	Transport http.RoundTripper
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{Timeout: timeout, UserAgent: defaultUserAgent, Transport: httpTransport}
}

// normalizeURL canonicalises a URL: lower-case scheme and host, no fragment, no default port.
func normalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		parsed, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil {
			return "", err
		}
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}

	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Port() == "80" && parsed.Scheme == "http") || (parsed.Port() == "443" && parsed.Scheme == "https") {
		parsed.Host = parsed.Hostname()
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

// Fetch visits rawURL once, without following links.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageContext, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	if f.Transport != nil {
		c.WithTransport(f.Transport)
	}
	if f.Timeout > 0 {
		c.SetRequestTimeout(f.Timeout)
	} else {
		c.SetRequestTimeout(30 * time.Second)
	}
	c.UserAgent = f.UserAgent
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	page := &PageContext{URL: target}
	var visitErr error

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, br")
	})

	c.OnResponse(func(r *colly.Response) {
		page.StatusCode = r.StatusCode
		decodeBody(r)
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		extracted := ExtractPageContext(e.DOM)
		page.Title = extracted.Title
		page.Description = extracted.Description
		page.Excerpt = extracted.Excerpt
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			page.StatusCode = r.StatusCode
		}
		visitErr = err
	})

	if err := c.Visit(target); err != nil && visitErr == nil {
		visitErr = err
	}
	c.Wait()

	if visitErr != nil {
		if page.StatusCode != 0 {
			return nil, fmt.Errorf("fetch %s: status %d: %w", target, page.StatusCode, visitErr)
		}
		return nil, fmt.Errorf("fetch %s: %w", target, visitErr)
	}

	logger.Debug("Fetched page context", "url", target, "title", page.Title, "status", page.StatusCode)
	return page, nil
}

// decodeBody turns the response body into UTF-8 HTML. colly already inflates gzip
// and converts bodies whose Content-Type declares a charset.
func decodeBody(r *colly.Response) {
	contentType := r.Headers.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml+xml") {
		return
	}

	decompressed := false
	if strings.Contains(r.Headers.Get("Content-Encoding"), "br") {
		body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(r.Body)))
		if err != nil {
			logger.Warn("Failed to decode brotli body", "url", r.Request.URL.String(), "error", err)
			return
		}
		r.Body = body
		decompressed = true
	}

	if len(r.Body) == 0 {
		return
	}
	if !decompressed && strings.Contains(strings.ToLower(contentType), "charset=") {
		return
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(r.Body), contentType)
	if err != nil {
		return
	}
	if decoded, err := io.ReadAll(utf8Reader); err == nil && len(decoded) > 0 {
		r.Body = decoded
	}
}
