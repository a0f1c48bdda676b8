package sessions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocotilloai/kestrel/internal/models"
)

// codeExtensions gates which changed files earn an Obsidian-style link in
// the daily notes' file list, per SPEC_FULL.md §4.5.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".rb": true, ".rs": true, ".c": true, ".cc": true, ".cpp": true,
	".h": true, ".hpp": true, ".cs": true, ".php": true, ".sh": true, ".sql": true,
	".md": true, ".json": true, ".yaml": true, ".yml": true,
}

// toolCheck is one line of the daily note's tool-call checklist.
type toolCheck struct {
	tool       string
	success    bool
	durationMs int64
}

// AppendDailyNote writes a per-interaction markdown section to the
// session's branch-scoped daily notes file
// (<project>/.kestrel/notes/<branch>/YYYY-MM-DD.md): the triggering user
// request, the last planning block, a checklist of tool calls with success
// marks and durations, the summary prose, and an Obsidian-style link list
// of changed files with a known code extension (SPEC_FULL.md §4.5).
func (s *Store) AppendDailyNote(sessionID, summary string, filesChanged []string) error {
	sess, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.ProjectRoot == "" {
		return nil
	}

	events, err := s.GetEvents(sessionID)
	if err != nil {
		return fmt.Errorf("sessions: read transcript for notes: %w", err)
	}
	request, planning, checks := interactionContext(events)

	now := time.Now().UTC()
	branch := sess.Branch
	if branch == "" {
		branch = "main"
	}
	notesDir := filepath.Join(sess.ProjectRoot, ".kestrel", "notes", branch)
	if err := os.MkdirAll(notesDir, 0o755); err != nil {
		return fmt.Errorf("sessions: create notes dir: %w", err)
	}
	notePath := filepath.Join(notesDir, now.Format("2006-01-02")+".md")

	firstWrite := false
	if _, err := os.Stat(notePath); os.IsNotExist(err) {
		firstWrite = true
	}

	var b strings.Builder
	if firstWrite {
		fmt.Fprintf(&b, "# %s / %s — %s\n\n", sess.Name, branch, now.Format("2006-01-02"))
	}

	fmt.Fprintf(&b, "## %s\n\n", now.Format("15:04:05 UTC"))
	if request != "" {
		fmt.Fprintf(&b, "**Request:** %s\n\n", strings.TrimSpace(request))
	}
	if planning != "" {
		b.WriteString("**Planning:**\n\n")
		for _, line := range strings.Split(strings.TrimSpace(planning), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}
	if len(checks) > 0 {
		b.WriteString("**Tool calls:**\n\n")
		for _, c := range checks {
			mark, status := "x", "ok"
			if !c.success {
				mark, status = " ", "failed"
			}
			fmt.Fprintf(&b, "- [%s] `%s` (%s, %dms)\n", mark, c.tool, status, c.durationMs)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s\n", strings.TrimSpace(summary))

	if links := codeLinks(filesChanged); len(links) > 0 {
		b.WriteString("\nFiles changed:\n")
		for _, l := range links {
			fmt.Fprintf(&b, "- [[%s]]\n", l)
		}
	}
	b.WriteString("\n")

	f, err := os.OpenFile(notePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open notes file: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// interactionContext scans back from the end of the transcript to the most
// recent user/user_intent event, returning the triggering request, the
// last planning block, and a success/duration checklist of the tool calls
// issued since, correlated by call_id.
func interactionContext(events []models.Event) (request, planning string, checks []toolCheck) {
	start := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == models.EventUserIntent || events[i].Type == models.EventUser {
			start = i
			request = events[i].Body
			break
		}
	}

	calls := map[string]string{} // call_id -> tool name

	for _, ev := range events[start:] {
		switch ev.Type {
		case models.EventPlanning:
			planning = ev.Body
		case models.EventToolCall:
			callID := ev.MetaString("call_id")
			calls[callID] = ev.MetaString("tool")
		case models.EventToolResult:
			callID := ev.MetaString("call_id")
			success, _ := ev.Meta("success")
			ok, _ := success.(bool)
			var dur int64
			if d, has := ev.Meta("duration_ms"); has {
				switch v := d.(type) {
				case int64:
					dur = v
				case float64:
					dur = int64(v)
				case int:
					dur = int64(v)
				}
			}
			if tool, known := calls[callID]; known {
				checks = append(checks, toolCheck{tool: tool, success: ok, durationMs: dur})
			}
		}
	}
	return request, planning, checks
}

// codeLinks filters filesChanged down to paths with a known code extension
// for an Obsidian-style [[link]]; each path is kept as given, not reduced
// to its base name.
func codeLinks(filesChanged []string) []string {
	var out []string
	for _, f := range filesChanged {
		ext := strings.ToLower(filepath.Ext(f))
		if codeExtensions[ext] {
			out = append(out, f)
		}
	}
	return out
}

// RecordSummary records the summarizer's final "I did / I learned / Next?"
// text as a transcript event and mirrors it into the daily notes file.
func (s *Store) RecordSummary(sessionID, summary string, filesChanged []string) error {
	if err := s.RecordEvent(sessionID, models.Event{
		Type:   models.EventSummary,
		Role:   models.RoleAssistant,
		Source: models.SourceSummarizer,
		Body:   summary,
	}); err != nil {
		return err
	}
	return s.AppendDailyNote(sessionID, summary, filesChanged)
}
