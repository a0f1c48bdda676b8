package coder

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ocotilloai/kestrel/internal/llm"
)

var (
	thinkRe      = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	toolCallRe   = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	functionRe   = regexp.MustCompile(`(?s)<function=(\w+)>(.*?)</function>`)
	parameterRe  = regexp.MustCompile(`(?s)<parameter=([\w.-]+)>(.*?)</parameter>`)
)

// extractThink pulls the first <think>...</think> block out of content,
// returning its (trimmed) text and the remaining content with the block
// removed.
func extractThink(content string) (thinking, rest string) {
	m := thinkRe.FindStringSubmatchIndex(content)
	if m == nil {
		return "", content
	}
	thinking = strings.TrimSpace(content[m[2]:m[3]])
	rest = strings.TrimSpace(content[:m[0]] + content[m[1]:])
	return thinking, rest
}

// parseFallbackToolCalls recognizes the three textual tool-call encodings a
// model may fall back to when it cannot or does not use the provider's
// native tool-call mechanism (SPEC_FULL.md §4.3 step 2). It returns the
// content with recognized tool-call blocks stripped, plus any calls found.
func parseFallbackToolCalls(content string) (string, []llm.ToolCall) {
	var calls []llm.ToolCall
	remaining := content

	remaining = toolCallRe.ReplaceAllStringFunc(remaining, func(block string) string {
		m := toolCallRe.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		body := strings.TrimSpace(m[1])

		if call, ok := parseJSONToolCall(body); ok {
			calls = append(calls, call)
			return ""
		}
		if fm := functionRe.FindStringSubmatch(body); fm != nil {
			calls = append(calls, parseFunctionToolCall(fm[1], fm[2]))
			return ""
		}
		// Bare shell text: treat the whole block as a shell command.
		calls = append(calls, llm.ToolCall{
			ID:    "call_" + uuid.NewString()[:8],
			Name:  "shell",
			Input: mustMarshal(map[string]any{"command": body}),
		})
		return ""
	})

	// <function=...> blocks may also appear outside <tool_call> wrappers.
	remaining = functionRe.ReplaceAllStringFunc(remaining, func(block string) string {
		m := functionRe.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		calls = append(calls, parseFunctionToolCall(m[1], m[2]))
		return ""
	})

	return strings.TrimSpace(remaining), calls
}

func parseJSONToolCall(body string) (llm.ToolCall, bool) {
	var decoded struct {
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
		Args  json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil || decoded.Name == "" {
		return llm.ToolCall{}, false
	}
	input := decoded.Input
	if input == nil {
		input = decoded.Args
	}
	if input == nil {
		input = json.RawMessage("{}")
	}
	return llm.ToolCall{ID: "call_" + uuid.NewString()[:8], Name: decoded.Name, Input: input}, true
}

func parseFunctionToolCall(name, body string) llm.ToolCall {
	args := map[string]any{}
	for _, pm := range parameterRe.FindAllStringSubmatch(body, -1) {
		args[pm[1]] = strings.TrimSpace(pm[2])
	}
	return llm.ToolCall{ID: "call_" + uuid.NewString()[:8], Name: name, Input: mustMarshal(args)}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
