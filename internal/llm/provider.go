// Package llm provides a provider-agnostic chat and tool-calling client
// (SPEC_FULL.md C2), plus concrete adapters for Anthropic, OpenAI-compatible
// endpoints (including Venice), and AWS Bedrock.
package llm

import (
	"context"
	"encoding/json"
)

// Tool is the schema for a single tool exposed to an LLM during
// chat_with_tools. Name and Description are sent verbatim; Schema must be a
// valid JSON Schema object describing the tool's arguments.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolCall is a single invocation requested by the model: an id correlating
// it to a later tool_result, the tool name, and its raw JSON arguments.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultMessage carries a tool's output back into conversation history.
type ToolResultMessage struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// CompletionMessage is one message in a chat history. Role is one of
// "user", "assistant", "system", or "tool". Assistant messages may carry
// ToolCalls; tool messages carry ToolResults.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResultMessage
}

// CompletionRequest is the input to Complete.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int
	// ResponseFormat, when non-empty, requests a constrained output mode
	// ("json" is the only value providers are required to honor).
	ResponseFormat string
}

// CompletionChunk is one unit of a streamed completion. A chunk carries
// exactly one of Text, ToolCall, or a terminal Error/Done signal.
type CompletionChunk struct {
	Text     string
	ToolCall *ToolCall
	Done     bool
	Error    error
}

// Model describes one model a provider can serve.
type Model struct {
	ID          string
	Name        string
	ContextSize int
}

// Provider is the interface every LLM backend adapter implements. It backs
// both of C2's logical operations: Complete with Tools == nil serves
// chat(), Complete with Tools set serves chat_with_tools().
type Provider interface {
	// Name is the provider's identifier, e.g. "anthropic".
	Name() string
	// Models lists the models this provider can serve.
	Models() []Model
	// SupportsToolCallMessages reports whether "tool"-role messages can be
	// appended to history for this provider; when false, callers must
	// serialize tool results into "system"-role messages instead (C2).
	SupportsToolCallMessages() bool
	// Complete issues one chat completion call and streams the response.
	// The channel is closed after a final chunk with Done==true (or an
	// Error). Complete itself is retry-free; transient-failure retries, if
	// any, are the adapter's own concern below this interface boundary.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// Chat performs the chat() operation: it drains a tool-free completion
// into a single string. Suitable for the summarizer and the Manager.
func Chat(ctx context.Context, p Provider, req *CompletionRequest) (string, error) {
	req.Tools = nil
	chunks, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var text string
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		text += chunk.Text
	}
	return text, nil
}

// ChatWithToolsResult is the aggregated outcome of ChatWithTools.
type ChatWithToolsResult struct {
	Text      string
	ToolCalls []ToolCall
}

// ChatWithTools performs the chat_with_tools() operation: it drains a
// completion that may include tool calls, collecting both text and calls.
func ChatWithTools(ctx context.Context, p Provider, req *CompletionRequest) (*ChatWithToolsResult, error) {
	chunks, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &ChatWithToolsResult{}
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.ToolCall != nil {
			result.ToolCalls = append(result.ToolCalls, *chunk.ToolCall)
		}
		result.Text += chunk.Text
	}
	return result, nil
}
