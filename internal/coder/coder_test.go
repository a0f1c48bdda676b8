package coder

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/tools"
)

// scriptedProvider replays a fixed sequence of ChatWithToolsResult-shaped
// responses, one per Complete call, so the Coder's step loop can be driven
// deterministically without a real LLM endpoint.
type scriptedProvider struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	text      string
	toolCalls []llm.ToolCall
}

func (p *scriptedProvider) Name() string                     { return "scripted" }
func (p *scriptedProvider) Models() []llm.Model               { return nil }
func (p *scriptedProvider) SupportsToolCallMessages() bool    { return true }
func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	if p.calls >= len(p.responses) {
		p.calls++
		ch := make(chan *llm.CompletionChunk, 1)
		ch <- &llm.CompletionChunk{Error: errEndOfScript}
		close(ch)
		return ch, nil
	}
	resp := p.responses[p.calls]
	p.calls++

	ch := make(chan *llm.CompletionChunk, len(resp.toolCalls)+2)
	if resp.text != "" {
		ch <- &llm.CompletionChunk{Text: resp.text}
	}
	for i := range resp.toolCalls {
		tc := resp.toolCalls[i]
		ch <- &llm.CompletionChunk{ToolCall: &tc}
	}
	ch <- &llm.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

var errEndOfScript = &scriptedError{"scripted provider: no more responses"}

type scriptedError struct{ msg string }

func (e *scriptedError) Error() string { return e.msg }

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	return tools.NewDefaultRegistry(tools.NewProcessTracker(), nil)
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// TestCoderRunToolRoundTrip exercises SPEC_FULL.md §8 scenario 3: a stubbed
// LLM returns one tool call (list_dir) then a <result> block, and the
// events must arrive in the documented order with a matching call_id.
func TestCoderRunToolRoundTrip(t *testing.T) {
	cwd := t.TempDir()
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []llm.ToolCall{{ID: "tc1", Name: "list_dir", Input: json.RawMessage(`{"path":"."}`)}}},
		{text: "<result><status>success</status><summary>listed the directory</summary></result>"},
	}}

	c := New(provider, newTestRegistry(t), "test-model")
	events, done := c.Run(context.Background(), cwd, "1", "list the directory", nil)
	got := drain(t, events)
	result := <-done

	if result == nil || result.Status != models.TaskCompleted {
		t.Fatalf("expected a COMPLETED result, got %+v", result)
	}

	var sawCall, sawResult bool
	var callID string
	for _, ev := range got {
		switch ev.Type {
		case models.EventToolCall:
			sawCall = true
			callID, _ = ev.Metadata["call_id"].(string)
			if callID == "" {
				t.Fatalf("tool_call event missing call_id: %+v", ev)
			}
		case models.EventToolResult:
			sawResult = true
			rid, _ := ev.Metadata["call_id"].(string)
			if rid != callID {
				t.Fatalf("tool_result call_id %q does not match tool_call call_id %q", rid, callID)
			}
			success, _ := ev.Metadata["success"].(bool)
			if !success {
				t.Fatalf("expected list_dir to succeed, got %+v", ev)
			}
		}
	}
	if !sawCall || !sawResult {
		t.Fatalf("expected both tool_call and tool_result events, got %+v", got)
	}
	if got[len(got)-1].Type != models.EventResult {
		t.Fatalf("expected the final event to be a result, got %+v", got[len(got)-1])
	}
}

// TestCoderRunEmitsPlanningFromThinkBlock covers the <think> extraction
// step: its content becomes a planning event and is stripped from the
// assistant body.
func TestCoderRunEmitsPlanningFromThinkBlock(t *testing.T) {
	cwd := t.TempDir()
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "<think>I should just report done.</think><result><status>success</status><summary>done</summary></result>"},
	}}

	c := New(provider, newTestRegistry(t), "test-model")
	events, done := c.Run(context.Background(), cwd, "1", "do nothing", nil)
	got := drain(t, events)
	result := <-done

	if result.Status != models.TaskCompleted {
		t.Fatalf("expected COMPLETED, got %+v", result)
	}
	var sawPlanning bool
	for _, ev := range got {
		if ev.Type == models.EventPlanning {
			sawPlanning = true
			if ev.Body != "I should just report done." {
				t.Fatalf("unexpected planning body: %q", ev.Body)
			}
		}
		if ev.Type == models.EventAssistant && (strings.Contains(ev.Body, "<think>") || strings.Contains(ev.Body, "I should just report done.")) {
			t.Fatalf("expected no leftover think content in assistant body, got %q", ev.Body)
		}
	}
	if !sawPlanning {
		t.Fatalf("expected a planning event, got %+v", got)
	}
}

// TestCoderRunExhaustsMaxSteps ensures step exhaustion yields a structured
// FAILED result (never an unhandled error) per SPEC_FULL.md §4.3 step 7.
func TestCoderRunExhaustsMaxSteps(t *testing.T) {
	cwd := t.TempDir()
	responses := make([]scriptedResponse, 3)
	for i := range responses {
		responses[i] = scriptedResponse{toolCalls: []llm.ToolCall{{ID: "x", Name: "list_dir", Input: json.RawMessage(`{"path":"."}`)}}}
	}
	provider := &scriptedProvider{responses: responses}

	c := New(provider, newTestRegistry(t), "test-model")
	c.MaxSteps = 3
	events, done := c.Run(context.Background(), cwd, "1", "loop forever", nil)
	got := drain(t, events)
	result := <-done

	if result.Status != models.TaskFailed {
		t.Fatalf("expected FAILED on step exhaustion, got %+v", result)
	}
	last := got[len(got)-1]
	if last.Type != models.EventError {
		t.Fatalf("expected a trailing error event, got %+v", last)
	}
}
