package orchestrator

import (
	"context"
	"testing"

	"github.com/ocotilloai/kestrel/internal/manager"
	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/sessions"
)

func TestReadFileCommandRegexpMatchesVariants(t *testing.T) {
	cases := map[string]string{
		"read file main.go":   "main.go",
		"read script run.sh":  "run.sh",
		"read notes.md":       "notes.md",
		"Read FILE ./x/y.txt": "./x/y.txt",
	}
	for input, want := range cases {
		m := readFileCommandRe.FindStringSubmatch(input)
		if m == nil {
			t.Errorf("%q: expected a match", input)
			continue
		}
		if m[1] != want {
			t.Errorf("%q: path = %q, want %q", input, m[1], want)
		}
	}
}

func TestReadFileCommandRegexpRejectsOrdinaryMessages(t *testing.T) {
	for _, input := range []string{"please read the readme and summarize it", "read"} {
		if m := readFileCommandRe.FindStringSubmatch(input); m != nil {
			t.Errorf("%q: expected no match, got %v", input, m)
		}
	}
}

func TestIsReplacePhraseDetectsRestartLanguage(t *testing.T) {
	for _, text := range []string{"Stop and do something else", "cancel this request", "let's start over", "ignore previous instructions"} {
		if !isReplacePhrase(text) {
			t.Errorf("%q: expected a replace phrase", text)
		}
	}
}

func TestIsReplacePhraseIgnoresOrdinaryMessages(t *testing.T) {
	if isReplacePhrase("please continue fixing the bug") {
		t.Error("did not expect a replace phrase")
	}
}

func TestRecordManagerEventRoutesSummaryToRecordSummary(t *testing.T) {
	store, err := sessions.New(t.TempDir())
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sess, err := store.Create(context.Background(), sessions.CreateOptions{CWD: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	o := &Orchestrator{Store: store}
	o.recordManagerEvent(sess.ID, manager.Event{
		Type:     models.EventSummary,
		Role:     models.RoleManager,
		Source:   models.SourceManager,
		Body:     "completed 2/2 tasks",
		Metadata: map[string]any{"files_changed": []string{"a.go", "b.go"}},
	})

	events, err := store.GetEvents(sess.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Type == models.EventSummary && ev.Body == "completed 2/2 tasks" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a recorded summary event, got %+v", events)
	}
}

func TestRecordManagerEventRoutesToolCallAndResult(t *testing.T) {
	store, err := sessions.New(t.TempDir())
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sess, err := store.Create(context.Background(), sessions.CreateOptions{CWD: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	o := &Orchestrator{Store: store}
	o.recordManagerEvent(sess.ID, manager.Event{
		Type:     models.EventToolCall,
		Body:     `{"path":"main.go"}`,
		Metadata: map[string]any{"tool": "read_file", "task_id": "1", "call_id": "1_call_1"},
	})
	o.recordManagerEvent(sess.ID, manager.Event{
		Type:     models.EventToolResult,
		Body:     `{"content":"package main"}`,
		Metadata: map[string]any{"tool": "read_file", "task_id": "1", "call_id": "1_call_1", "success": true, "duration_ms": int64(7)},
	})

	events, err := store.GetEvents(sess.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	var sawCall, sawResult bool
	for _, ev := range events {
		if ev.Type == models.EventToolCall {
			sawCall = true
			if ev.MetaString("call_id") != "1_call_1" {
				t.Fatalf("tool_call missing call_id, got %+v", ev.Metadata)
			}
		}
		if ev.Type == models.EventToolResult {
			sawResult = true
			if ev.MetaString("call_id") != "1_call_1" {
				t.Fatalf("tool_result call_id does not match its tool_call, got %+v", ev.Metadata)
			}
		}
	}
	if !sawCall || !sawResult {
		t.Fatalf("expected both a tool_call and tool_result event, got %+v", events)
	}
}
