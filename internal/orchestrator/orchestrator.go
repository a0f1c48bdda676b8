// Package orchestrator implements the per-connection state machine (C6):
// routing each inbound user message to a file read, a clarification
// resume, a fresh request, or the Manager, and forwarding the resulting
// event stream with typed transcript recording.
package orchestrator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/manager"
	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/observability"
	"github.com/ocotilloai/kestrel/internal/sessions"
	"github.com/ocotilloai/kestrel/internal/tools"
)

// readFileCommandRe matches "read file <path>" / "read script <path>" /
// bare "read <path>", per SPEC_FULL.md §4.6 step 2.
var readFileCommandRe = regexp.MustCompile(`(?i)^read\s+(?:file|script)?\s*(\S+)$`)

// replacePhrases restart a request, discarding any pending clarification
// or in-flight state, per §4.6 step 4.
var replacePhrases = []string{
	"stop and", "cancel this", "start over", "new plan", "ignore previous",
}

const chunkSize = 1200

// Outbound is one event the orchestrator emits on the connection's
// transport. Fields mirror SPEC_FULL.md §6's outbound frame shape.
type Outbound struct {
	Type      models.EventType
	Role      models.Role
	Content   string
	Source    models.Source
	Metadata  map[string]any
}

// Orchestrator routes inbound messages for one session.
type Orchestrator struct {
	Store    *sessions.Store
	Provider llm.Provider
	Registry *tools.Registry
	Model    string
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// New constructs an Orchestrator bound to a shared Store, LLM provider,
// and tool registry.
func New(store *sessions.Store, provider llm.Provider, registry *tools.Registry, model string) *Orchestrator {
	return &Orchestrator{Store: store, Provider: provider, Registry: registry, Model: model}
}

// Welcome returns the one-time welcome + cwd event pair sent on first
// connection, per §4.6. It returns nil if the pair was already sent for
// this session (tracked by Session.WelcomeSent).
func (o *Orchestrator) Welcome(sess *models.Session) []Outbound {
	sess.Lock()
	alreadySent := sess.WelcomeSent
	sess.WelcomeSent = true
	sess.Unlock()
	if alreadySent {
		return nil
	}

	_ = o.Store.RecordEvent(sess.ID, models.Event{Type: models.EventSystem, Role: models.RoleSystem, Source: models.SourceSystem, Body: "welcome"})
	_ = o.Store.RecordEvent(sess.ID, models.Event{Type: models.EventSystem, Role: models.RoleSystem, Source: models.SourceSystem, Body: sess.CWD, Metadata: map[string]any{"kind": "cwd"}})

	return []Outbound{
		{Type: models.EventSystem, Role: models.RoleSystem, Source: models.SourceSystem, Content: "welcome"},
		{Type: models.EventSystem, Role: models.RoleSystem, Source: models.SourceSystem, Content: sess.CWD, Metadata: map[string]any{"kind": "cwd"}},
	}
}

// HandleMessage routes one inbound user message, streaming outbound
// events on the returned channel. The channel is closed when this turn
// finishes (a file read, a clarify prompt, or a full Manager run).
func (o *Orchestrator) HandleMessage(ctx context.Context, sess *models.Session, text string) <-chan Outbound {
	out := make(chan Outbound, 32)

	go func() {
		defer close(out)

		_ = o.Store.RecordUserIntent(sess.ID, text)
		out <- Outbound{Type: models.EventUser, Role: models.RoleUser, Source: models.SourceController, Content: text}

		if m := readFileCommandRe.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
			o.streamFile(sess, m[1], out)
			return
		}

		sess.Lock()
		pending := sess.PendingClarify
		sess.Unlock()

		if isReplacePhrase(text) {
			sess.Lock()
			sess.PendingClarify = ""
			sess.Unlock()
			sess.CancelInFlight()
			o.runManager(ctx, sess, text, out)
			return
		}

		if pending != "" {
			sess.Lock()
			sess.PendingClarify = ""
			sess.Unlock()
			combined := pending + "\n\nClarification: " + text
			o.runManager(ctx, sess, combined, out)
			return
		}

		o.runManager(ctx, sess, text, out)
	}()

	return out
}

func (o *Orchestrator) streamFile(sess *models.Session, path string, out chan<- Outbound) {
	rf := &tools.ReadFileTool{}
	argsJSON, _ := json.Marshal(map[string]string{"path": path})
	res := rf.Call(context.Background(), sess.CWD, argsJSON)
	if res.Error != nil {
		out <- Outbound{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceController, Content: res.Error.Error()}
		return
	}
	content, _ := res.Data["content"].(string)
	if errVal, ok := res.Data["error"]; ok {
		out <- Outbound{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceController, Content: fmtErr(errVal)}
		return
	}
	for i := 0; i < len(content); i += chunkSize {
		end := i + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[i:end]
		_ = o.Store.RecordEvent(sess.ID, models.Event{Type: models.EventDetail, Role: models.RoleSystem, Source: models.SourceController, Body: chunk})
		out <- Outbound{Type: models.EventDetail, Role: models.RoleSystem, Source: models.SourceController, Content: chunk}
	}
}

// runManager drives one full Manager lifecycle, forwarding its events
// (and the Coder events it relays) to the transport, recording typed
// transcript events for tool calls/results along the way.
func (o *Orchestrator) runManager(ctx context.Context, sess *models.Session, text string, out chan<- Outbound) {
	runCtx, cancel := context.WithCancel(ctx)
	sess.SetCancel(cancel)
	defer cancel()

	mgr := manager.New(o.Provider, o.Registry, o.Model)
	mgr.Metrics = o.Metrics
	mgr.Tracer = o.Tracer

	sess.Lock()
	seed := sess.LastPlanText
	history := append([]models.HistoryTurn(nil), sess.History...)
	sess.Unlock()

	events, done := mgr.Run(runCtx, sess.CWD, text, seed, history)
	for ev := range events {
		o.recordManagerEvent(sess.ID, ev)
		out <- Outbound{Type: ev.Type, Role: ev.Role, Source: ev.Source, Content: ev.Body, Metadata: ev.Metadata}

		if ev.Type == models.EventClarify {
			sess.Lock()
			sess.PendingClarify = text
			sess.Unlock()
		}
	}
	<-done
}

func (o *Orchestrator) recordManagerEvent(sessionID string, ev manager.Event) {
	switch ev.Type {
	case models.EventToolCall:
		callID, _ := ev.Metadata["call_id"].(string)
		toolName, _ := ev.Metadata["tool"].(string)
		taskID, _ := ev.Metadata["task_id"].(string)
		_ = o.Store.RecordToolCall(sessionID, taskID, callID, toolName, json.RawMessage(ev.Body))
	case models.EventToolResult:
		callID, _ := ev.Metadata["call_id"].(string)
		toolName, _ := ev.Metadata["tool"].(string)
		taskID, _ := ev.Metadata["task_id"].(string)
		success, _ := ev.Metadata["success"].(bool)
		var durationMs int64
		switch d := ev.Metadata["duration_ms"].(type) {
		case int64:
			durationMs = d
		case int:
			durationMs = int64(d)
		}
		_ = o.Store.RecordToolResult(sessionID, taskID, callID, toolName, ev.Body, !success, durationMs)
	case models.EventSummary:
		var filesChanged []string
		if raw, ok := ev.Metadata["files_changed"].([]string); ok {
			filesChanged = raw
		}
		_ = o.Store.RecordSummary(sessionID, ev.Body, filesChanged)
	default:
		_ = o.Store.RecordEvent(sessionID, models.Event{Type: ev.Type, Role: ev.Role, Source: ev.Source, Body: ev.Body, Metadata: ev.Metadata})
	}
}

func isReplacePhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range replacePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func fmtErr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
