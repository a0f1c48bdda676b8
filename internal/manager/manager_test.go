package manager

import (
	"context"
	"testing"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/tools"
)

// scriptedProvider serves a fixed plan-decompose response followed by a
// scripted sequence of Coder-step responses, so Manager.Run can be driven
// deterministically end to end.
type scriptedProvider struct {
	decompose string
	coder     []string
	calls     int
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Models() []llm.Model            { return nil }
func (p *scriptedProvider) SupportsToolCallMessages() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	var text string
	if req.Tools == nil {
		text = p.decompose
	} else if p.calls < len(p.coder) {
		text = p.coder[p.calls]
		p.calls++
	}
	ch := make(chan *llm.CompletionChunk, 2)
	ch <- &llm.CompletionChunk{Text: text}
	ch <- &llm.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newRegistry() *tools.Registry {
	return tools.NewDefaultRegistry(tools.NewProcessTracker(), nil)
}

// TestRunRetriesFailedTaskUpToMaxRetries exercises SPEC_FULL.md §8 scenario
// 4: a Coder that reports failure twice then succeeds is invoked exactly
// three times, and the final outcome is task_complete.
func TestRunRetriesFailedTaskUpToMaxRetries(t *testing.T) {
	provider := &scriptedProvider{
		decompose: `<plan><intent>fix the bug</intent><confidence>0.9</confidence>
<task id="1"><description>fix it</description><criteria>tests pass</criteria></task></plan>`,
		coder: []string{
			`<result><status>failed</status><summary>still broken</summary><errors>nil pointer</errors></result>`,
			`<result><status>failed</status><summary>still broken again</summary><errors>nil pointer again</errors></result>`,
			`<result><status>success</status><summary>fixed it</summary></result>`,
		},
	}

	m := New(provider, newRegistry(), "test-model")
	events, done := m.Run(context.Background(), t.TempDir(), "fix the bug", "", nil)

	attempts := map[int]bool{}
	var sawTaskComplete bool
	for ev := range events {
		if a, ok := ev.Metadata["attempt"]; ok {
			if n, ok := a.(int); ok {
				attempts[n] = true
			}
		}
		if ev.Type == models.EventTaskComplete {
			sawTaskComplete = true
		}
	}
	summary := <-done

	if provider.calls != 3 {
		t.Fatalf("expected exactly 3 Coder invocations, got %d", provider.calls)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected events tagged with 3 distinct attempts, got %v", attempts)
	}
	if !sawTaskComplete {
		t.Fatalf("expected a task_complete event after the third attempt succeeds")
	}
	if summary == nil || summary.CompletedCount != 1 {
		t.Fatalf("expected 1 completed task in the summary, got %+v", summary)
	}
}

// TestRunEmitsClarifyAndSkipsExecution exercises SPEC_FULL.md §8 scenario
// 5's first half: a plan with <clarify> set produces a single clarify
// event, no task dispatch, and a nil Summary.
func TestRunEmitsClarifyAndSkipsExecution(t *testing.T) {
	provider := &scriptedProvider{
		decompose: `<plan><clarify>Which framework?</clarify></plan>`,
	}

	m := New(provider, newRegistry(), "test-model")
	events, done := m.Run(context.Background(), t.TempDir(), "build me an API", "", nil)

	var clarifyCount int
	var sawTaskEvent bool
	for ev := range events {
		if ev.Type == models.EventClarify {
			clarifyCount++
			if ev.Body != "Which framework?" {
				t.Fatalf("unexpected clarify body: %q", ev.Body)
			}
		}
		if ev.Type == models.EventTaskStart || ev.Type == models.EventTaskComplete {
			sawTaskEvent = true
		}
	}
	summary := <-done

	if clarifyCount != 1 {
		t.Fatalf("expected exactly 1 clarify event, got %d", clarifyCount)
	}
	if sawTaskEvent {
		t.Fatalf("did not expect any task execution when clarification is needed")
	}
	if summary != nil {
		t.Fatalf("expected a nil Summary when clarification is needed, got %+v", summary)
	}
}

// TestRunSkipsTaskWithUnmetDependency ensures a task whose dependency never
// completes is BLOCKED and excluded from both the numerator and
// denominator of the final count (Open Question (b) decision).
func TestRunSkipsTaskWithUnmetDependency(t *testing.T) {
	provider := &scriptedProvider{
		decompose: `<plan><intent>two step change</intent><confidence>0.9</confidence>
<task id="1"><description>step one</description></task>
<task id="2"><description>step two</description><depends>1</depends></task></plan>`,
		coder: []string{
			`<result><status>failed</status><summary>broken</summary></result>`,
			`<result><status>failed</status><summary>still broken</summary></result>`,
			`<result><status>failed</status><summary>still broken</summary></result>`,
		},
	}

	m := New(provider, newRegistry(), "test-model")
	events, done := m.Run(context.Background(), t.TempDir(), "do two things", "", nil)
	var sawSkip bool
	for ev := range events {
		if ev.Type == models.EventSystem && ev.Metadata["task_id"] == "2" {
			sawSkip = true
		}
	}
	summary := <-done

	if provider.calls != 3 {
		t.Fatalf("expected task 1 to exhaust its 3 attempts, got %d Coder calls", provider.calls)
	}
	if !sawSkip {
		t.Fatalf("expected a skip event for task 2's unmet dependency")
	}
	if summary.TotalCounted != 1 || summary.CompletedCount != 0 {
		t.Fatalf("expected 1 counted/0 completed (task 2 excluded from both), got %+v", summary)
	}
}
