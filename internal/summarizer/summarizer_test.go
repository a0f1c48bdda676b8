package summarizer

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/ocotilloai/kestrel/internal/llm"
)

var shapeRe = regexp.MustCompile(`(?s)^I did.*I learned.*Next[^?]*\?$`)

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Name() string                         { return "stub" }
func (s *stubProvider) Models() []llm.Model                  { return nil }
func (s *stubProvider) SupportsToolCallMessages() bool        { return true }
func (s *stubProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	ch := make(chan *llm.CompletionChunk, 2)
	if s.err != nil {
		ch <- &llm.CompletionChunk{Error: s.err}
		close(ch)
		return ch, nil
	}
	ch <- &llm.CompletionChunk{Text: s.text}
	ch <- &llm.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestSummarizePassesThroughAlreadyValidShape(t *testing.T) {
	provider := &stubProvider{text: "I did fix the bug. I learned the root cause was a race. Next, should I add a regression test?"}
	got := Summarize(context.Background(), provider, "model", "raw turn text")
	if !shapeRe.MatchString(got) {
		t.Fatalf("expected output to already satisfy the shape, got %q", got)
	}
}

func TestSummarizeNormalizesMalformedOutput(t *testing.T) {
	provider := &stubProvider{text: "Updated the config loader. It now reads YAML overrides."}
	got := Summarize(context.Background(), provider, "model", "raw turn text")
	if !shapeRe.MatchString(got) {
		t.Fatalf("expected normalized output to satisfy the shape, got %q", got)
	}
}

func TestSummarizeFallsBackOnLLMError(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	got := Summarize(context.Background(), provider, "model", "```go\nfunc f() {}\n``` fixed the handler and added tests")
	if !shapeRe.MatchString(got) {
		t.Fatalf("expected deterministic fallback to satisfy the shape, got %q", got)
	}
}

func TestValidRequiresAllThreeMarkers(t *testing.T) {
	if valid("I did a thing. Next?") {
		t.Fatalf("expected invalid: missing 'I learned'")
	}
	if valid("I learned something. I did a thing. Next?") {
		t.Fatalf("expected invalid: first sentence must start with 'I did'")
	}
	if valid("I did a thing. I learned something. What now.") {
		t.Fatalf("expected invalid: last sentence must start with Next and end in ?")
	}
	if !valid("I did a thing. I learned something useful. Next, should I continue?") {
		t.Fatalf("expected valid shape to be accepted")
	}
}

func TestDeterministicFallbackCountsCodeBlocks(t *testing.T) {
	raw := "fixed it ```go\ncode\n``` and also ```go\nmore\n```"
	got := deterministicFallback(raw)
	if !shapeRe.MatchString(got) {
		t.Fatalf("fallback does not satisfy shape: %q", got)
	}
}
