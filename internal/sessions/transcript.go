package sessions

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocotilloai/kestrel/internal/models"
)

// RecordEvent appends one event to a session's JSONL transcript, base64
// encoding its body for on-disk storage (SPEC_FULL.md §3, transcript
// format). Writes for a single session are serialized through the
// session's writeLock so concurrent task/tool events from the Manager and
// Coder never interleave mid-line.
func (s *Store) RecordEvent(sessionID string, ev models.Event) error {
	sess, err := s.Get(sessionID)
	if err != nil {
		return err
	}

	lock := s.writeLockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.BodyB64 = base64.StdEncoding.EncodeToString([]byte(ev.Body))

	if err := os.MkdirAll(filepath.Dir(sess.LogPath), 0o755); err != nil {
		return fmt.Errorf("sessions: create transcript dir: %w", err)
	}
	f, err := os.OpenFile(sess.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open transcript: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sessions: marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("sessions: write transcript: %w", err)
	}

	s.applyToContextSeed(sess, ev)
	return nil
}

// applyToContextSeed updates the in-memory context seed (last user message,
// last plan, up to six trailing user/assistant turns) of the live session
// as events are recorded. tryRehydrate does not use it: a new session
// rebuilds its seed by reading the whole transcript.
func (s *Store) applyToContextSeed(sess *models.Session, ev models.Event) {
	sess.Lock()
	defer sess.Unlock()

	switch ev.Type {
	case models.EventUserIntent, models.EventUser:
		sess.LastUserMessage = ev.Body
	case models.EventPlan:
		sess.LastPlanText = ev.Body
	}

	switch ev.Role {
	case models.RoleUser, models.RoleAssistant:
		sess.History = append(sess.History, models.HistoryTurn{Role: ev.Role, Content: ev.Body})
		if len(sess.History) > 6 {
			sess.History = sess.History[len(sess.History)-6:]
		}
	}
}

// --- Typed recording helpers (one per event kind the spec names) ---

func (s *Store) RecordUserIntent(sessionID, text string) error {
	return s.RecordEvent(sessionID, models.Event{Type: models.EventUserIntent, Role: models.RoleUser, Source: models.SourceController, Body: text})
}

func (s *Store) RecordPlanning(sessionID, text string) error {
	return s.RecordEvent(sessionID, models.Event{Type: models.EventPlanning, Role: models.RoleManager, Source: models.SourceManager, Body: text})
}

func (s *Store) RecordPlan(sessionID, text string) error {
	return s.RecordEvent(sessionID, models.Event{Type: models.EventPlan, Role: models.RoleManager, Source: models.SourceManager, Body: text})
}

func (s *Store) RecordTaskStart(sessionID, taskID, description string) error {
	ev := models.Event{Type: models.EventTaskStart, Role: models.RoleManager, Source: models.SourceManager, Body: description}
	ev.SetMeta("task_id", taskID)
	return s.RecordEvent(sessionID, ev)
}

func (s *Store) RecordToolCall(sessionID, taskID, callID, toolName string, args json.RawMessage) error {
	ev := models.Event{Type: models.EventToolCall, Role: models.RoleCoder, Source: models.SourceCoder, Body: string(args)}
	ev.SetMeta("task_id", taskID)
	ev.SetMeta("call_id", callID)
	ev.SetMeta("tool", toolName)
	return s.RecordEvent(sessionID, ev)
}

func (s *Store) RecordToolResult(sessionID, taskID, callID, toolName, summary string, isError bool, durationMs int64) error {
	ev := models.Event{Type: models.EventToolResult, Role: models.RoleCoder, Source: models.SourceToolRunner, Body: summary}
	ev.SetMeta("task_id", taskID)
	ev.SetMeta("call_id", callID)
	ev.SetMeta("tool", toolName)
	ev.SetMeta("success", !isError)
	ev.SetMeta("duration_ms", durationMs)
	return s.RecordEvent(sessionID, ev)
}

// RecordTaskComplete records either task_complete or task_failed depending
// on status, matching the Manager's per-task terminal transitions.
func (s *Store) RecordTaskComplete(sessionID, taskID string, failed bool, summary string) error {
	evType := models.EventTaskComplete
	if failed {
		evType = models.EventTaskFailed
	}
	ev := models.Event{Type: evType, Role: models.RoleManager, Source: models.SourceManager, Body: summary}
	ev.SetMeta("task_id", taskID)
	return s.RecordEvent(sessionID, ev)
}

// GetEvents reads and decodes the entire transcript for a session, in order.
func (s *Store) GetEvents(sessionID string) ([]models.Event, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return readTranscript(sess.LogPath)
}

func readTranscript(path string) ([]models.Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: open transcript: %w", err)
	}
	defer f.Close()

	var events []models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.BodyB64 != "" {
			if raw, err := base64.StdEncoding.DecodeString(ev.BodyB64); err == nil {
				ev.Body = string(raw)
			}
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// AggregatedTurn is one merged display turn: a run of consecutive events
// sharing (Type, Role, Source) within {assistant, detail, system}, folded
// into a single block, per SPEC_FULL.md's transcript aggregation rule.
type AggregatedTurn struct {
	Type    models.EventType
	Role    models.Role
	Source  models.Source
	Body    string
	Started time.Time
}

var aggregatableTypes = map[models.EventType]bool{
	models.EventAssistant: true,
	models.EventDetail:    true,
	models.EventSystem:    true,
}

// Aggregate collapses consecutive same-(type,role,source) events drawn from
// {assistant, detail, system} into single turns, leaving every other event
// type as its own one-event turn. Used to render the transcript for
// display without a wall of one-line bubbles.
func Aggregate(events []models.Event) []AggregatedTurn {
	var turns []AggregatedTurn
	for _, ev := range events {
		if aggregatableTypes[ev.Type] && len(turns) > 0 {
			last := &turns[len(turns)-1]
			if last.Type == ev.Type && last.Role == ev.Role && last.Source == ev.Source {
				last.Body = mergeText(last.Body, ev.Body)
				continue
			}
		}
		turns = append(turns, AggregatedTurn{Type: ev.Type, Role: ev.Role, Source: ev.Source, Body: ev.Body, Started: ev.Timestamp})
	}
	return turns
}

// mergeText joins two chunks of streamed text without introducing a
// spurious space or line break across punctuation a model already placed
// at a chunk boundary (e.g. "...with a" + "\ndog." or "Hello" + ", world").
func mergeText(prev, next string) string {
	if prev == "" {
		return next
	}
	if next == "" {
		return prev
	}
	if strings.HasSuffix(prev, "\n") || strings.HasSuffix(prev, " ") {
		return prev + next
	}
	switch next[0] {
	case ' ', '\n', '\t', '\'', '.', ',', '!', '?', ':', ';', ')', ']', '}', '%':
		return prev + next
	}
	return prev + " " + next
}
