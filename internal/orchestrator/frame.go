package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Frame is one inbound WebSocket envelope, per SPEC_FULL.md §6.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

const envelopeSchemaSrc = `{
	"type": "object",
	"properties": {
		"type": {"type": "string", "enum": ["message", "ping", "kill"]},
		"id": {"type": "string"},
		"content": {}
	},
	"required": ["type"]
}`

const messageContentSchemaSrc = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`

const killContentSchemaSrc = `{
	"type": "object",
	"properties": {
		"session_id": {"type": "string"}
	}
}`

var (
	once           sync.Once
	envelopeSchema *jsonschema.Schema
	perTypeSchema  map[string]*jsonschema.Schema
	compileErr     error
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()
	must := func(name, src string) *jsonschema.Schema {
		if compileErr != nil {
			return nil
		}
		if err := compiler.AddResource(name, mustDecode(src)); err != nil {
			compileErr = fmt.Errorf("orchestrator: add schema resource %s: %w", name, err)
			return nil
		}
		s, err := compiler.Compile(name)
		if err != nil {
			compileErr = fmt.Errorf("orchestrator: compile schema %s: %w", name, err)
			return nil
		}
		return s
	}

	envelopeSchema = must("envelope.json", envelopeSchemaSrc)
	perTypeSchema = map[string]*jsonschema.Schema{
		"message": must("message.json", messageContentSchemaSrc),
		"kill":    must("kill.json", killContentSchemaSrc),
	}
}

func mustDecode(src string) any {
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		panic(err)
	}
	return v
}

// ValidateFrame validates a raw inbound WebSocket frame against the
// envelope schema and, where one exists, the per-type content schema
// (SPEC_FULL.md §4.6, "Wire protocol validation").
func ValidateFrame(raw []byte) (*Frame, error) {
	once.Do(compileSchemas)
	if compileErr != nil {
		return nil, compileErr
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("envelope validation failed: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	if schema, ok := perTypeSchema[frame.Type]; ok && len(frame.Content) > 0 {
		var content any
		if err := json.Unmarshal(frame.Content, &content); err != nil {
			return nil, fmt.Errorf("invalid content: %w", err)
		}
		if err := schema.Validate(content); err != nil {
			return nil, fmt.Errorf("%s content validation failed: %w", frame.Type, err)
		}
	}

	return &frame, nil
}
