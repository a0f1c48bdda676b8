package sessions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ocotilloai/kestrel/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestRecordEventRoundTripsBodyByteForByte(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()
	sess, err := store.Create(context.Background(), CreateOptions{CWD: cwd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	body := "line one\nline two with \"quotes\" and emoji 🚀\n\x00tail"
	if err := store.RecordEvent(sess.ID, models.Event{
		Type:   models.EventAssistant,
		Role:   models.RoleAssistant,
		Source: models.SourceCoder,
		Body:   body,
	}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	events, err := store.GetEvents(sess.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Body != body {
		t.Fatalf("body did not round trip: got %q want %q", events[0].Body, body)
	}
}

func TestRecordEventOrdersEventsAndPersistsAcrossReads(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()
	sess, err := store.Create(context.Background(), CreateOptions{CWD: cwd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.RecordUserIntent(sess.ID, "add a health endpoint"); err != nil {
		t.Fatalf("RecordUserIntent: %v", err)
	}
	if err := store.RecordPlanning(sess.ID, "decomposing the request"); err != nil {
		t.Fatalf("RecordPlanning: %v", err)
	}
	if err := store.RecordPlan(sess.ID, "<plan>...</plan>"); err != nil {
		t.Fatalf("RecordPlan: %v", err)
	}
	if err := store.RecordTaskStart(sess.ID, "1", "write handler"); err != nil {
		t.Fatalf("RecordTaskStart: %v", err)
	}
	if err := store.RecordToolCall(sess.ID, "1", "1_call_1", "write_file", json.RawMessage(`{"path":"a.go"}`)); err != nil {
		t.Fatalf("RecordToolCall: %v", err)
	}
	if err := store.RecordToolResult(sess.ID, "1", "1_call_1", "write_file", "wrote 12 bytes", false, 5); err != nil {
		t.Fatalf("RecordToolResult: %v", err)
	}
	if err := store.RecordTaskComplete(sess.ID, "1", false, "done"); err != nil {
		t.Fatalf("RecordTaskComplete: %v", err)
	}

	events, err := store.GetEvents(sess.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	wantTypes := []models.EventType{
		models.EventUserIntent,
		models.EventPlanning,
		models.EventPlan,
		models.EventTaskStart,
		models.EventToolCall,
		models.EventToolResult,
		models.EventTaskComplete,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: expected type %v, got %v", i, want, events[i].Type)
		}
	}
	if events[4].MetaString("tool") != "write_file" {
		t.Fatalf("expected tool metadata on tool_call event, got %+v", events[4].Metadata)
	}
}

func TestRecordTaskCompleteUsesFailedEventOnFailure(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()
	sess, err := store.Create(context.Background(), CreateOptions{CWD: cwd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.RecordTaskComplete(sess.ID, "1", true, "boom"); err != nil {
		t.Fatalf("RecordTaskComplete: %v", err)
	}
	events, err := store.GetEvents(sess.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventTaskFailed {
		t.Fatalf("expected a single task_failed event, got %+v", events)
	}
}

func TestAggregateCollapsesConsecutiveSameTriple(t *testing.T) {
	events := []models.Event{
		{Type: models.EventAssistant, Role: models.RoleAssistant, Source: models.SourceCoder, Body: "first"},
		{Type: models.EventAssistant, Role: models.RoleAssistant, Source: models.SourceCoder, Body: "second"},
		{Type: models.EventToolCall, Role: models.RoleCoder, Source: models.SourceCoder, Body: "{}"},
		{Type: models.EventDetail, Role: models.RoleSystem, Source: models.SourceController, Body: "chunk one"},
		{Type: models.EventDetail, Role: models.RoleSystem, Source: models.SourceController, Body: "chunk two"},
		{Type: models.EventAssistant, Role: models.RoleAssistant, Source: models.SourceManager, Body: "third"},
	}

	turns := Aggregate(events)
	if len(turns) != 4 {
		t.Fatalf("expected 4 aggregated turns, got %d: %+v", len(turns), turns)
	}
	if turns[0].Body != "first second" {
		t.Fatalf("expected first two assistant/coder events merged with a space, got %q", turns[0].Body)
	}
	if turns[1].Type != models.EventToolCall {
		t.Fatalf("expected tool_call to remain its own turn, got %+v", turns[1])
	}
	if turns[2].Body != "chunk one chunk two" {
		t.Fatalf("expected detail chunks merged with a space, got %q", turns[2].Body)
	}
	if turns[3].Body != "third" {
		t.Fatalf("expected differing source to start a new turn, got %q", turns[3].Body)
	}
}

func TestMergeTextAvoidsDoubleSpacingAcrossPunctuation(t *testing.T) {
	cases := []struct{ prev, next, want string }{
		{"hello", " world", "hello world"},
		{"line one\n", "line two", "line one\nline two"},
		{"Hello", ", world", "Hello, world"},
		{"a", "b", "a b"},
		{"", "b", "b"},
		{"a", "", "a"},
	}
	for _, c := range cases {
		if got := mergeText(c.prev, c.next); got != c.want {
			t.Fatalf("mergeText(%q, %q) = %q, want %q", c.prev, c.next, got, c.want)
		}
	}
}

// TestRehydrationSeedsContextFromExistingTranscript exercises the
// reattach-to-existing-branch path: a second session pointed at the same
// transcript file as an earlier one should recover its last user message,
// last plan text, and trailing history without replaying anything live.
func TestRehydrationSeedsContextFromExistingTranscript(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()

	first, err := store.Create(context.Background(), CreateOptions{CWD: cwd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.RecordUserIntent(first.ID, "add a health endpoint"); err != nil {
		t.Fatalf("RecordUserIntent: %v", err)
	}
	if err := store.RecordPlan(first.ID, "<plan><intent>health endpoint</intent></plan>"); err != nil {
		t.Fatalf("RecordPlan: %v", err)
	}
	if err := store.RecordEvent(first.ID, models.Event{
		Type: models.EventAssistant, Role: models.RoleAssistant, Source: models.SourceCoder, Body: "wired the route",
	}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	second := &models.Session{ID: "second", CWD: cwd, LogPath: first.LogPath}
	out, ok := store.tryRehydrate(second)
	if !ok {
		t.Fatalf("expected rehydration to succeed from an existing transcript")
	}
	if out.lastUser != "add a health endpoint" {
		t.Fatalf("unexpected lastUser: %q", out.lastUser)
	}
	if out.lastPlan != "<plan><intent>health endpoint</intent></plan>" {
		t.Fatalf("unexpected lastPlan: %q", out.lastPlan)
	}
	if len(out.history) != 2 || out.history[0].Content != "add a health endpoint" || out.history[1].Content != "wired the route" {
		t.Fatalf("unexpected history: %+v", out.history)
	}
}

func TestTryRehydrateFailsOnEmptyTranscript(t *testing.T) {
	store := newTestStore(t)
	sess := &models.Session{ID: "none", LogPath: t.TempDir() + "/missing.jsonl"}
	if _, ok := store.tryRehydrate(sess); ok {
		t.Fatalf("expected tryRehydrate to fail when no transcript exists")
	}
}
