// Package models defines the domain types shared across the orchestrator:
// sessions, transcript events, and the Manager/Coder task and plan records.
package models

import "time"

// EventType enumerates the kinds of records that can appear in a session
// transcript. The zero value is not a valid event type.
type EventType string

const (
	EventSTTRaw        EventType = "stt_raw"
	EventUserIntent     EventType = "user_intent"
	EventUser           EventType = "user"
	EventPlanning       EventType = "planning"
	EventPlan           EventType = "plan"
	EventTaskStart      EventType = "task_start"
	EventTaskComplete   EventType = "task_complete"
	EventTaskFailed     EventType = "task_failed"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventAgentStream    EventType = "agent_stream"
	EventAssistant      EventType = "assistant"
	EventDetail         EventType = "detail"
	EventResult         EventType = "result"
	EventClarify        EventType = "clarify"
	EventSummary        EventType = "summary"
	EventRecap          EventType = "recap"
	EventSystem         EventType = "system"
	EventError          EventType = "error"
)

// Role identifies who produced an event's content.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleController Role = "controller"
	RoleCoder      Role = "coder"
	RoleManager    Role = "manager"
)

// Source identifies the subsystem that originated an event, independent of
// its logical Role (e.g. a "system" role event can come from several
// sources).
type Source string

const (
	SourceWhisper     Source = "whisper"
	SourceBrowserSTT  Source = "browser_stt"
	SourceController  Source = "controller"
	SourceCoder       Source = "coder"
	SourceManager     Source = "manager"
	SourceSummarizer  Source = "summarizer"
	SourceToolRunner  Source = "tool_runner"
	SourceSystem      Source = "system"
)

// Event is the atomic, append-only unit of a session transcript. Body is
// kept in memory as plain text; BodyB64 is populated only when the event is
// marshaled for the JSONL transcript file (see sessions.Store).
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Role      Role           `json:"role"`
	Source    Source         `json:"source"`
	Body      string         `json:"-"`
	BodyB64   string         `json:"body_b64"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Meta reads a metadata field, returning ok=false if absent.
func (e *Event) Meta(key string) (any, bool) {
	if e.Metadata == nil {
		return nil, false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

// MetaString reads a string metadata field, defaulting to "".
func (e *Event) MetaString(key string) string {
	v, ok := e.Meta(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetMeta sets a metadata field, allocating the map if necessary.
func (e *Event) SetMeta(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}
