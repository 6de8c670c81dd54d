package crawler

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExcerptLength bounds PageContext.Excerpt.
const ExcerptLength = 500

// ExtractPageContext reads title, description and a body excerpt from a parsed page.
func ExtractPageContext(doc *goquery.Selection) PageContext {
	var pc PageContext

	pc.Title = firstNonEmpty(
		metaContent(doc, "property", "og:title"),
		metaContent(doc, "name", "twitter:title"),
		cleanText(doc.Find("title").First().Text()),
		cleanText(doc.Find("h1").First().Text()),
	)

	pc.Description = firstNonEmpty(
		metaContent(doc, "name", "description"),
		metaContent(doc, "property", "og:description"),
		metaContent(doc, "name", "twitter:description"),
		jsonLDDescription(doc),
	)

	pc.Excerpt = truncateWords(extractMainContent(doc), ExcerptLength)
	return pc
}

func metaContent(doc *goquery.Selection, attr, value string) string {
	var out string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr(attr); ok && strings.EqualFold(v, value) {
			out = cleanText(s.AttrOr("content", ""))
			return out == ""
		}
		return true
	})
	return out
}

// jsonLDDescription reads "description" from the first JSON-LD object carrying one.
func jsonLDDescription(doc *goquery.Selection) string {
	var out string
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		out = findDescription(data)
		return out == ""
	})
	return out
}

func findDescription(v any) string {
	switch t := v.(type) {
	case map[string]any:
		if d, ok := t["description"].(string); ok && strings.TrimSpace(d) != "" {
			return cleanText(d)
		}
		if graph, ok := t["@graph"]; ok {
			return findDescription(graph)
		}
	case []any:
		for _, item := range t {
			if d := findDescription(item); d != "" {
				return d
			}
		}
	}
	return ""
}

// extractMainContent prefers semantic containers and falls back to paragraphs.
func extractMainContent(doc *goquery.Selection) string {
	content := doc.Clone()
	content.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()

	for _, selector := range []string{"article", "main", "[role='main']", ".post-content", ".entry-content", "#content"} {
		if text := cleanText(content.Find(selector).First().Text()); len(text) > 80 {
			return text
		}
	}

	var parts []string
	content.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return cleanText(content.Find("body").Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncateWords cuts s to at most max bytes on a word boundary.
func truncateWords(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
