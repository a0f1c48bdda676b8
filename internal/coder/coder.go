// Package coder implements the Coder Agent (SPEC_FULL.md C3): a bounded
// tool-use loop that executes one task and emits a lazy stream of typed
// events describing its progress.
package coder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/observability"
	"github.com/ocotilloai/kestrel/internal/tools"
)

// DefaultMaxSteps bounds the tool-use loop per SPEC_FULL.md §4.3.
const DefaultMaxSteps = 30

const systemPrompt = `You are the Coder agent in an autonomous software assistant.
You execute exactly one task using the tools available to you.
Think before acting by wrapping deliberation in <think>...</think>; it will not be shown to the user.
Call tools to read, write, and validate code, run tests, and inspect git state.
When the task is complete (or you are certain it cannot be completed), respond with a
<result><status>completed|partial|failed</status><summary>...</summary>
<files>comma,separated,paths</files><tested>true|false</tested><errors>...</errors></result> block.`

// Event is one unit the Coder emits while executing a task. Type is one of
// planning, assistant, tool_call, tool_result, result, system, error.
type Event struct {
	Type     models.EventType
	Role     models.Role
	Source   models.Source
	Body     string
	TaskID   string
	Metadata map[string]any
}

// Coder executes tasks against a Provider and a tool Registry.
type Coder struct {
	Provider llm.Provider
	Registry *tools.Registry
	Model    string
	MaxSteps int
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// New constructs a Coder with the spec's default step bound.
func New(provider llm.Provider, registry *tools.Registry, model string) *Coder {
	return &Coder{Provider: provider, Registry: registry, Model: model, MaxSteps: DefaultMaxSteps}
}

// Run executes one task to completion (or step exhaustion), streaming
// events on the returned channel. The channel is closed when the loop
// ends. history seeds the conversation (session history + prior turns);
// taskPrompt is the task-specific instruction appended as the final user
// message. cwd confines every tool call's path resolution.
func (c *Coder) Run(ctx context.Context, cwd, taskID, taskPrompt string, history []models.HistoryTurn) (<-chan Event, <-chan *models.TaskResult) {
	events := make(chan Event, 16)
	done := make(chan *models.TaskResult, 1)

	go func() {
		defer close(events)
		defer close(done)

		messages := seedMessages(history, taskPrompt)
		steps := c.MaxSteps
		if steps <= 0 {
			steps = DefaultMaxSteps
		}
		callCounter := 0

		for step := 0; step < steps; step++ {
			select {
			case <-ctx.Done():
				events <- Event{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceCoder, Body: ctx.Err().Error(), TaskID: taskID}
				done <- &models.TaskResult{Status: models.TaskFailed, Summary: "cancelled", Errors: []string{ctx.Err().Error()}}
				return
			default:
			}

			stepCtx := ctx
			var stepSpan trace.Span
			if c.Tracer != nil {
				stepCtx, stepSpan = c.Tracer.TraceCoderStep(ctx, taskID, step)
			}

			req := &llm.CompletionRequest{
				Model:    c.Model,
				System:   systemPrompt,
				Messages: messages,
				Tools:    toolSchemas(c.Registry),
			}

			llmStart := time.Now()
			var llmSpan trace.Span
			if c.Tracer != nil {
				stepCtx, llmSpan = c.Tracer.TraceLLMCall(stepCtx, c.Provider.Name(), c.Model)
			}
			result, err := llm.ChatWithTools(stepCtx, c.Provider, req)
			if llmSpan != nil {
				c.Tracer.RecordError(llmSpan, err)
				llmSpan.End()
			}
			if c.Metrics != nil {
				status := "success"
				if err != nil {
					status = "error"
				}
				c.Metrics.RecordLLMRequest(c.Provider.Name(), c.Model, status, time.Since(llmStart).Seconds())
			}
			if err != nil {
				if stepSpan != nil {
					c.Tracer.RecordError(stepSpan, err)
					stepSpan.End()
				}
				events <- Event{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceCoder, Body: err.Error(), TaskID: taskID}
				done <- &models.TaskResult{Status: models.TaskFailed, Summary: "LLM error", Errors: []string{err.Error()}}
				return
			}

			content, toolCalls := result.Text, result.ToolCalls
			if len(toolCalls) == 0 {
				content, toolCalls = parseFallbackToolCalls(content)
			}

			thinking, content := extractThink(content)
			if thinking != "" {
				events <- Event{Type: models.EventPlanning, Role: models.RoleCoder, Source: models.SourceCoder, Body: thinking, TaskID: taskID}
			}

			if content != "" {
				events <- Event{Type: models.EventAssistant, Role: models.RoleCoder, Source: models.SourceCoder, Body: content, TaskID: taskID}
				messages = append(messages, llm.CompletionMessage{Role: "assistant", Content: content})
			}

			if len(toolCalls) == 0 {
				if stepSpan != nil {
					stepSpan.End()
				}
				if content != "" {
					tr, ok := models.ParseResult(content)
					if !ok {
						tr = models.InferResult(content)
					}
					events <- Event{Type: models.EventResult, Role: models.RoleCoder, Source: models.SourceCoder, Body: content, TaskID: taskID}
					done <- tr
					return
				}
				// No content and no tool calls: nothing more this step can do.
				events <- Event{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceCoder, Body: "model returned empty response", TaskID: taskID}
				done <- &models.TaskResult{Status: models.TaskFailed, Summary: "empty model response"}
				return
			}

			assistantToolMsg := llm.CompletionMessage{Role: "assistant", ToolCalls: toolCalls}
			messages = append(messages, assistantToolMsg)

			for _, call := range toolCalls {
				callCounter++
				callID := fmt.Sprintf("%s_call_%d", taskID, callCounter)

				events <- Event{
					Type: models.EventToolCall, Role: models.RoleCoder, Source: models.SourceCoder,
					Body: string(call.Input), TaskID: taskID,
					Metadata: map[string]any{"call_id": callID, "tool": call.Name},
				}

				toolCtx := ctx
				var toolSpan trace.Span
				if c.Tracer != nil {
					toolCtx, toolSpan = c.Tracer.TraceToolCall(stepCtx, call.Name, taskID)
				}
				start := time.Now()
				res := c.Registry.Execute(toolCtx, call.Name, cwd, call.Input)
				duration := time.Since(start)
				if toolSpan != nil {
					c.Tracer.RecordError(toolSpan, res.Error)
					toolSpan.End()
				}

				success, summary := summarizeToolResult(res)

				events <- Event{
					Type: models.EventToolResult, Role: models.RoleCoder, Source: models.SourceToolRunner,
					Body: summary, TaskID: taskID,
					Metadata: map[string]any{"call_id": callID, "tool": call.Name, "success": success, "duration_ms": duration.Milliseconds()},
				}

				role := "tool"
				if !c.Provider.SupportsToolCallMessages() {
					role = "system"
				}
				messages = append(messages, llm.CompletionMessage{
					Role: role,
					ToolResults: []llm.ToolResultMessage{{ToolCallID: call.ID, Content: summary, IsError: !success}},
				})
			}
			if stepSpan != nil {
				stepSpan.End()
			}
		}

		events <- Event{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceCoder, Body: "max steps exhausted", TaskID: taskID}
		done <- &models.TaskResult{Status: models.TaskFailed, Summary: "exceeded max_steps without a result"}
	}()

	return events, done
}

func seedMessages(history []models.HistoryTurn, taskPrompt string) []llm.CompletionMessage {
	messages := make([]llm.CompletionMessage, 0, len(history)+1)
	for _, h := range history {
		messages = append(messages, llm.CompletionMessage{Role: string(h.Role), Content: h.Content})
	}
	messages = append(messages, llm.CompletionMessage{Role: "user", Content: taskPrompt})
	return messages
}

func toolSchemas(r *tools.Registry) []llm.Tool {
	list := r.List()
	out := make([]llm.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, llm.Tool{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return out
}

func summarizeToolResult(res tools.Result) (success bool, summary string) {
	if res.Error != nil {
		return false, res.Error.Error()
	}
	if errVal, ok := res.Data["error"]; ok {
		return false, fmt.Sprintf("%v", errVal)
	}
	if exitCode, ok := res.Data["exit_code"]; ok {
		code, _ := toInt(exitCode)
		success = code == 0
	} else {
		success = true
	}
	b, err := json.Marshal(res.Data)
	if err != nil {
		return success, fmt.Sprintf("%v", res.Data)
	}
	return success, string(b)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
