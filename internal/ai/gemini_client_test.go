package ai

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	genai "github.com/google/generative-ai-go/genai"
)

func TestTokenCounterLimits(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tc := &TokenCounter{limits: RateLimits{RPM: 2, TPM: 1000, RPD: 3}}

	if !tc.CanConsume(100, 1, now) {
		t.Fatalf("first request rejected")
	}
	tc.RecordUsage(100, 1)
	tc.RecordUsage(100, 1)
	if tc.CanConsume(100, 1, now.Add(time.Second)) {
		t.Fatalf("per-minute request limit not enforced")
	}

	// A new minute resets the minute window but not the daily one.
	next := now.Add(time.Minute)
	if !tc.CanConsume(100, 1, next) {
		t.Fatalf("minute window not reset")
	}
	tc.RecordUsage(100, 1)
	if tc.CanConsume(100, 1, next.Add(time.Minute)) {
		t.Fatalf("daily limit not enforced")
	}
	if !tc.CanConsume(100, 1, now.Add(25*time.Hour)) {
		t.Fatalf("daily window not reset")
	}
}

func TestTokenCounterTokenBudget(t *testing.T) {
	tc := &TokenCounter{limits: RateLimits{RPM: 10, TPM: 500, RPD: 10}}
	if tc.CanConsume(501, 1, time.Now()) {
		t.Fatalf("token budget not enforced")
	}
}

func TestRateLimitsByTier(t *testing.T) {
	if got := getRateLimits("tier2").RPM; got != 2000 {
		t.Fatalf("tier2 RPM = %d", got)
	}
	if got := getRateLimits("unknown"); got != getRateLimits("free") {
		t.Fatalf("unknown tier = %+v", got)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("  Hello "), genai.Text("world\n")}},
		}},
	}
	if got := responseText(resp); got != "Hello world" {
		t.Fatalf("got %q", got)
	}
	if got := responseText(&genai.GenerateContentResponse{}); got != "" {
		t.Fatalf("empty response = %q", got)
	}
	if extractTokenUsage(&genai.GenerateContentResponse{UsageMetadata: &genai.UsageMetadata{TotalTokenCount: 42}}) != 42 {
		t.Fatalf("usage metadata ignored")
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", "", "free", nil); err == nil {
		t.Fatalf("expected error without API key")
	}
}

func TestGeminiGenerateLive(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := NewGeminiClient(ctx, apiKey, os.Getenv("GEMINI_MODEL"), "free", nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	text, err := client.Generate(ctx, "Write one short sentence about reading good articles.")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		t.Fatalf("empty text")
	}
}
