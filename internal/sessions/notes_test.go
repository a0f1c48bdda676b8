package sessions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendDailyNoteIncludesRequestPlanningChecklistAndLinks(t *testing.T) {
	store := newTestStore(t)
	projectRoot := t.TempDir()
	sess, err := store.Create(context.Background(), CreateOptions{CWD: filepath.Join(projectRoot, "main")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// AppendDailyNote reads sess.ProjectRoot/Branch directly; attach mode
	// leaves both unset, so stamp them in for this test. sess is the same
	// pointer the Store holds internally, so this mutation is visible to it.
	sess.ProjectRoot = projectRoot
	sess.Branch = "main"

	if err := store.RecordUserIntent(sess.ID, "add a health endpoint"); err != nil {
		t.Fatalf("RecordUserIntent: %v", err)
	}
	if err := store.RecordPlanning(sess.ID, "will add a /healthz route"); err != nil {
		t.Fatalf("RecordPlanning: %v", err)
	}
	if err := store.RecordToolCall(sess.ID, "1", "1_call_1", "write_file", json.RawMessage(`{"path":"health.go"}`)); err != nil {
		t.Fatalf("RecordToolCall: %v", err)
	}
	if err := store.RecordToolResult(sess.ID, "1", "1_call_1", "write_file", "wrote 40 bytes", false, 12); err != nil {
		t.Fatalf("RecordToolResult: %v", err)
	}

	if err := store.AppendDailyNote(sess.ID, "I did add the route. I learned the router needed one more entry. Next, should I add a test?", []string{"health.go", "README.md", "notes.txt"}); err != nil {
		t.Fatalf("AppendDailyNote: %v", err)
	}

	notesDir := filepath.Join(projectRoot, ".kestrel", "notes", "main")
	entries, err := os.ReadDir(notesDir)
	if err != nil {
		t.Fatalf("ReadDir notes: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one daily note file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(notesDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"add a health endpoint",
		"will add a /healthz route",
		"write_file",
		"ok, 12ms",
		"I did add the route",
		"[[health.go]]",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected note to contain %q, got:\n%s", want, content)
		}
	}
	if strings.Contains(content, "[[notes.txt]]") {
		t.Fatalf("expected notes.txt (unknown extension) to be excluded from the link list, got:\n%s", content)
	}
}
