// Package summarizer implements the Summarizer (SPEC_FULL.md C7): a
// fixed-shape three-sentence recap ("I did / I learned / Next?") derived
// from the raw text of a completed turn, with deterministic normalization
// and fallback when the LLM doesn't cooperate.
package summarizer

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ocotilloai/kestrel/internal/llm"
)

// Timeout bounds the summarizer's own LLM call, per SPEC_FULL.md §5.
const Timeout = 30 * time.Second

const systemPrompt = `Summarize the work just performed in exactly three sentences:
1. Begins with "I did" and states what was accomplished.
2. Contains "I learned" and states one useful fact discovered along the way.
3. Begins with "Next" and ends with a question mark, proposing what to do next.
Do not use markdown, bullet points, or additional sentences.`

var (
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
)

// Summarize calls the LLM to produce the recap, validates its shape, and
// falls back to a deterministic rewrite or a purely mechanical summary if
// the call fails outright.
func Summarize(ctx context.Context, provider llm.Provider, model, rawText string) string {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	text, err := llm.Chat(ctx, provider, &llm.CompletionRequest{
		Model:    model,
		System:   systemPrompt,
		Messages: []llm.CompletionMessage{{Role: "user", Content: rawText}},
	})
	if err != nil {
		return deterministicFallback(rawText)
	}

	if valid(text) {
		return strings.TrimSpace(text)
	}
	return normalize(text, rawText)
}

// valid reports whether text already has the required three-sentence
// shape: "I did" lead, "I learned" present, final sentence starting with
// "Next" and ending in "?".
func valid(text string) bool {
	sentences := splitSentences(text)
	if len(sentences) < 3 {
		return false
	}
	first, last := sentences[0], sentences[len(sentences)-1]
	hasLearned := false
	for _, s := range sentences {
		if strings.Contains(s, "I learned") {
			hasLearned = true
			break
		}
	}
	return strings.HasPrefix(strings.TrimSpace(first), "I did") &&
		hasLearned &&
		strings.HasPrefix(strings.TrimSpace(last), "Next") &&
		strings.HasSuffix(strings.TrimSpace(last), "?")
}

// normalize rewrites arbitrary LLM output into the required shape by
// reusing whatever sentences are present and patching in the missing
// pieces, rather than discarding the model's content outright.
func normalize(text, rawText string) string {
	sentences := splitSentences(text)

	var did, learned, next string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		switch {
		case did == "" && !strings.Contains(s, "I learned") && !strings.HasSuffix(s, "?"):
			did = s
		case learned == "" && strings.Contains(s, "I learned"):
			learned = s
		case strings.HasSuffix(s, "?"):
			next = s
		}
	}

	if did == "" {
		did = "I did " + firstClause(rawText)
	} else if !strings.HasPrefix(did, "I did") {
		did = "I did " + lowerFirst(did)
	}
	if learned == "" {
		learned = "I learned the task's constraints along the way."
	}
	if next == "" {
		next = "Next, should I continue with the remaining work?"
	} else if !strings.HasPrefix(strings.TrimSpace(next), "Next") {
		next = "Next, " + lowerFirst(next)
	}
	if !strings.HasSuffix(strings.TrimSpace(next), "?") {
		next = strings.TrimRight(strings.TrimSpace(next), ".!") + "?"
	}

	return strings.TrimSpace(did) + " " + strings.TrimSpace(learned) + " " + strings.TrimSpace(next)
}

// deterministicFallback produces a summary with no model call at all,
// built purely from the shape of rawText: the number of fenced code
// blocks, and the first twelve words outside of any code fence.
func deterministicFallback(rawText string) string {
	codeBlocks := len(codeFenceRe.FindAllString(rawText, -1))
	stripped := codeFenceRe.ReplaceAllString(rawText, " ")
	words := strings.Fields(stripped)
	if len(words) > 12 {
		words = words[:12]
	}
	gist := strings.Join(words, " ")
	if gist == "" {
		gist = "the requested changes"
	}

	did := "I did work covering " + gist + "."
	learned := "I learned the change touched " + pluralize(codeBlocks, "code block") + "."
	next := "Next, should I move on to the remaining work?"
	return did + " " + learned + " " + next
}

func splitSentences(text string) []string {
	matches := sentenceRe.FindAllString(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstClause(text string) string {
	words := strings.Fields(text)
	if len(words) > 12 {
		words = words[:12]
	}
	return strings.Join(words, " ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
