package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"content-autoposter/internal/ai"
	"content-autoposter/internal/crawler"
	"content-autoposter/internal/logger"
	"content-autoposter/internal/telemetry"
	"content-autoposter/models"
	"content-autoposter/utils"
)

var (
	keywordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

	stopWords = map[string]struct{}{
		"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
		"can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {}, "day": {},
		"get": {}, "has": {}, "him": {}, "his": {}, "how": {}, "its": {}, "new": {}, "now": {},
		"old": {}, "see": {}, "two": {}, "who": {}, "boy": {}, "did": {}, "www": {}, "com": {},
		"org": {}, "net": {}, "http": {}, "https": {},
	}

	fallbackTags = []string{"interesting", "article", "worth-reading"}
)

const maxKeywords = 5

// PageFetcher loads title and description of a source page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*crawler.PageContext, error)
}

// QueueAppender adds new entries to the post queue.
type QueueAppender interface {
	Append(entries ...models.QueueEntry) error
}

type GeneratorOptions struct {
	URLsFile          string
	ProcessedURLsFile string
	URLsPerRun        int
	FirstPostDelay    time.Duration
	PostInterval      time.Duration
	Model             string
	// Fetcher is optional; without it prompts carry only the URL.
	Fetcher PageFetcher
	Metrics *telemetry.Metrics
}

// GenerateReport summarises one generation run.
type GenerateReport struct {
	Available int
	Selected  int
	Failed    []string
	Entries   []models.QueueEntry
}

// Generator drafts queue entries for source URLs listed in a text file.
type Generator struct {
	queue QueueAppender
	llm   ai.TextGenerator
	opts  GeneratorOptions
}

func NewGenerator(queue QueueAppender, llm ai.TextGenerator, opts GeneratorOptions) *Generator {
	if opts.URLsPerRun <= 0 {
		opts.URLsPerRun = 50
	}
	return &Generator{queue: queue, llm: llm, opts: opts}
}

// Run drafts posts for the next batch of URLs. Successful URLs are removed from the
// URL file and logged to the processed file; failed ones stay for the next run.
func (g *Generator) Run(ctx context.Context, now time.Time) (*GenerateReport, error) {
	tracer := otel.Tracer("generator")
	ctx, span := tracer.Start(ctx, "generator.run")
	defer span.End()

	// The queue stores whole seconds.
	now = now.Truncate(time.Second)

	lines, err := readURLLines(g.opts.URLsFile)
	if err != nil {
		return nil, err
	}
	urls := sourceURLs(lines)

	report := &GenerateReport{Available: len(urls)}
	batch := urls
	if len(batch) > g.opts.URLsPerRun {
		batch = batch[:g.opts.URLsPerRun]
	}
	report.Selected = len(batch)
	span.SetAttributes(attribute.Int("generator.urls", len(batch)))

	if len(batch) == 0 {
		logger.Info("No URLs to process", "file", g.opts.URLsFile)
		return report, nil
	}
	logger.Info("Generating posts", "available", len(urls), "selected", len(batch))

	done := make(map[string]int)
	for i, url := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Info("Processing URL", "index", i+1, "url", url)

		body, err := g.llm.Generate(ctx, BuildPrompt(url, g.pageContext(ctx, url)))
		if err == nil && strings.HasPrefix(body, "Error") {
			err = fmt.Errorf("model returned an error message")
		}
		if err != nil {
			logger.Warn("Post generation failed, skipping URL", "url", url, "error", err)
			report.Failed = append(report.Failed, url)
			continue
		}

		seq := len(report.Entries) + 1
		tags := ExtractKeywords(url)
		if len(tags) == 0 {
			tags = append([]string(nil), fallbackTags...)
		}
		report.Entries = append(report.Entries, models.QueueEntry{
			ID:          models.EntryID(now, seq),
			SourceURL:   url,
			Title:       BuildTitle(tags),
			Body:        body,
			Tags:        tags,
			PostType:    models.PostTypeText,
			CreatedAt:   now,
			ScheduledAt: now.Add(g.opts.FirstPostDelay + time.Duration(seq-1)*g.opts.PostInterval),
		})
		done[url]++
	}

	if len(report.Entries) == 0 {
		logger.Warn("No posts generated", "failed", len(report.Failed))
		return report, nil
	}

	if err := g.queue.Append(report.Entries...); err != nil {
		return nil, err
	}
	g.opts.Metrics.RecordGenerated(ctx, g.opts.Model, len(report.Entries))

	if err := writeURLLines(g.opts.URLsFile, lines, done); err != nil {
		return report, err
	}
	processed := make([]string, 0, len(report.Entries))
	for _, e := range report.Entries {
		processed = append(processed, e.SourceURL)
	}
	if err := appendProcessedURLs(g.opts.ProcessedURLsFile, processed, now); err != nil {
		return report, err
	}

	logger.Info("Generation complete", "generated", len(report.Entries), "failed", len(report.Failed))
	return report, nil
}

func (g *Generator) pageContext(ctx context.Context, url string) *crawler.PageContext {
	if g.opts.Fetcher == nil {
		return nil
	}
	page, err := g.opts.Fetcher.Fetch(ctx, url)
	if err != nil {
		logger.Warn("Page context unavailable", "url", url, "error", err)
		return nil
	}
	return page
}

// BuildPrompt asks for a short conversational post about url.
func BuildPrompt(url string, page *crawler.PageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create an engaging Tumblr post for the article at this URL: %s\n\n", url)

	if !page.Empty() {
		b.WriteString("What the page says about itself:\n")
		if page.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", page.Title)
		}
		if page.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", page.Description)
		}
		if page.Excerpt != "" {
			fmt.Fprintf(&b, "Excerpt: %s\n", page.Excerpt)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Guidelines for the Tumblr post:
1. Keep it conversational and authentic (2-4 short paragraphs)
2. Start with a relatable hook or interesting observation
3. Include a brief summary of key insights from the article
4. Use a casual, friendly tone that fits Tumblr's community
5. End with a thoughtful question or call-to-action to encourage engagement
6. Don't use hashtags in the main text (they'll be added separately)
7. Don't use excessive emojis or clickbait language
8. Focus on what makes this content interesting or valuable
9. Make it feel like a genuine recommendation from a friend

The post should be ready to publish on Tumblr with the link included at the end.
`)
	return b.String()
}

// ExtractKeywords returns up to five tag candidates found in the URL text.
func ExtractKeywords(url string) []string {
	var out []string
	for _, word := range keywordPattern.FindAllString(strings.ToLower(url), -1) {
		if _, stop := stopWords[word]; stop || len(word) <= 3 {
			continue
		}
		out = append(out, word)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// BuildTitle joins tags into a title-cased headline.
func BuildTitle(tags []string) string {
	raw := strings.ReplaceAll(strings.Join(tags, " "), "-", " ")

	var b strings.Builder
	prevLetter := false
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r) && !prevLetter:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}

// readURLLines returns the raw lines of the URL file, creating it when missing.
func readURLLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("URLs file not found, creating it", "file", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, utils.IOError("create urls dir", err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, utils.IOError("create urls file", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, utils.IOError("read urls file", err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, utils.IOError("read urls file", err)
	}
	return lines, nil
}

func sourceURLs(lines []string) []string {
	var urls []string
	for _, line := range lines {
		url := strings.TrimSpace(line)
		if url == "" || strings.HasPrefix(url, "#") {
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// writeURLLines rewrites the URL file without the processed URLs, dropping the
// first processed[url] occurrences of each. Comments and unprocessed URLs are kept in place.
func writeURLLines(path string, lines []string, processed map[string]int) error {
	var b bytes.Buffer
	for _, line := range lines {
		if url := strings.TrimSpace(line); processed[url] > 0 {
			processed[url]--
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := utils.WriteFileAtomic(path, b.Bytes(), 0o644); err != nil {
		return utils.IOError("rewrite urls file", err)
	}
	return nil
}

func appendProcessedURLs(path string, urls []string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return utils.IOError("create processed urls dir", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return utils.IOError("open processed urls file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return utils.IOError("stat processed urls file", err)
	}

	ts := at.Format("2006-01-02 15:04:05")
	var b bytes.Buffer
	if info.Size() == 0 {
		b.WriteString("# Processed URLs Log\n# Format: [TIMESTAMP] URL\n\n")
	}
	fmt.Fprintf(&b, "## Batch processed on %s\n", ts)
	for _, url := range urls {
		fmt.Fprintf(&b, "[%s] %s\n", ts, url)
	}
	b.WriteString("\n")

	if _, err := f.Write(b.Bytes()); err != nil {
		return utils.IOError("append processed urls", err)
	}
	return nil
}
