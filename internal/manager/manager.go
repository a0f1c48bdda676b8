// Package manager implements the Manager Agent (SPEC_FULL.md C4): request
// decomposition into a dependency-ordered Plan, per-task dispatch to the
// Coder with bounded retries, and a final summary.
package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ocotilloai/kestrel/internal/coder"
	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/observability"
	"github.com/ocotilloai/kestrel/internal/tools"
)

// DefaultMaxRetries bounds per-task Coder re-invocations per SPEC_FULL.md §4.4.
const DefaultMaxRetries = 2

const systemPrompt = `You are the Manager agent in an autonomous software assistant.
Decompose the user's request into a dependency-ordered set of atomic tasks a subordinate Coder
agent can execute one at a time. Respond with exactly one block of the form:
<plan>
  <intent>...</intent>
  <confidence>0.0-1.0</confidence>
  <clarify>optional clarifying question, omit if none needed</clarify>
  <task id="1"><description>...</description><criteria>...</criteria><depends></depends></task>
  ...
</plan>
If the request is ambiguous, set <clarify> and leave tasks empty.`

// Event is one unit the Manager emits over a request's lifetime.
type Event struct {
	Type     models.EventType
	Role     models.Role
	Source   models.Source
	Body     string
	Metadata map[string]any
}

// Manager decomposes requests and dispatches tasks to a Coder.
type Manager struct {
	Provider   llm.Provider
	Registry   *tools.Registry
	Model      string
	MaxRetries int
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// New constructs a Manager with the spec's default retry bound.
func New(provider llm.Provider, registry *tools.Registry, model string) *Manager {
	return &Manager{Provider: provider, Registry: registry, Model: model, MaxRetries: DefaultMaxRetries}
}

// Summary is the terminal outcome of a Run, used to build the final
// "summary" event and feed the summarizer.
type Summary struct {
	Plan            *models.Plan
	CompletedCount  int
	TotalCounted    int
	FilesChanged    []string
}

// Run decomposes userText (optionally seeded with prior context) and
// executes every task in the resulting plan, streaming events as it goes.
// If the plan needs clarification, Run emits a single clarify event and
// returns a nil Summary; the caller is responsible for resuming the
// request once the user answers.
func (m *Manager) Run(ctx context.Context, cwd string, userText, contextSeed string, history []models.HistoryTurn) (<-chan Event, <-chan *Summary) {
	events := make(chan Event, 32)
	done := make(chan *Summary, 1)

	go func() {
		defer close(events)
		defer close(done)

		events <- Event{Type: models.EventSystem, Role: models.RoleManager, Source: models.SourceManager, Body: "manager: decomposing request"}

		plan := m.decompose(ctx, userText, contextSeed, history)

		if plan.NeedsClarification != "" {
			events <- Event{Type: models.EventClarify, Role: models.RoleManager, Source: models.SourceManager, Body: plan.NeedsClarification}
			done <- nil
			return
		}

		events <- Event{
			Type: models.EventPlan, Role: models.RoleManager, Source: models.SourceManager,
			Body:     renderPlan(plan),
			Metadata: map[string]any{"intent": plan.Intent, "confidence": plan.Confidence, "count": len(plan.Tasks)},
		}

		completed := map[string]bool{}
		failed := map[string]bool{}
		var filesChanged []string
		completedCount, totalCounted := 0, 0

		for _, task := range plan.Tasks {
			select {
			case <-ctx.Done():
				done <- &Summary{Plan: plan, CompletedCount: completedCount, TotalCounted: totalCounted, FilesChanged: filesChanged}
				return
			default:
			}

			if !task.DependenciesMet(completed) {
				// A dependency either never ran or failed: per Open Question (b),
				// this task is excluded from both the numerator and denominator.
				task.Status = models.TaskBlocked
				events <- Event{
					Type: models.EventSystem, Role: models.RoleManager, Source: models.SourceManager,
					Body:     fmt.Sprintf("skipping task %s: unmet dependency", task.ID),
					Metadata: map[string]any{"task_id": task.ID},
				}
				if m.Metrics != nil {
					m.Metrics.RecordTaskOutcome("blocked")
				}
				continue
			}

			totalCounted++
			task.Status = models.TaskInProgress
			events <- Event{Type: models.EventTaskStart, Role: models.RoleManager, Source: models.SourceManager, Body: task.Description, Metadata: map[string]any{"task_id": task.ID}}

			result := m.runTaskWithRetries(ctx, cwd, task, plan, history, events)
			task.Result = result

			if result.Status == models.TaskCompleted {
				task.Status = models.TaskCompleted
				completed[task.ID] = true
				completedCount++
				filesChanged = append(filesChanged, result.FilesChanged...)
				events <- Event{Type: models.EventTaskComplete, Role: models.RoleManager, Source: models.SourceManager, Body: result.Summary, Metadata: map[string]any{"task_id": task.ID}}
				if m.Metrics != nil {
					m.Metrics.RecordTaskOutcome("completed")
				}
			} else {
				task.Status = models.TaskFailed
				failed[task.ID] = true
				events <- Event{Type: models.EventTaskFailed, Role: models.RoleManager, Source: models.SourceManager, Body: result.Summary, Metadata: map[string]any{"task_id": task.ID}}
				if m.Metrics != nil {
					m.Metrics.RecordTaskOutcome("failed")
				}
			}
		}

		summaryBody := fmt.Sprintf("completed %d/%d tasks", completedCount, totalCounted)
		events <- Event{
			Type: models.EventSummary, Role: models.RoleManager, Source: models.SourceManager, Body: summaryBody,
			Metadata: map[string]any{"completed": completedCount, "total": totalCounted, "files_changed": dedupe(filesChanged)},
		}

		done <- &Summary{Plan: plan, CompletedCount: completedCount, TotalCounted: totalCounted, FilesChanged: dedupe(filesChanged)}
	}()

	return events, done
}

// runTaskWithRetries invokes the Coder up to MaxRetries+1 times, feeding
// the previous attempt's errors into the next prompt, stopping as soon as
// a COMPLETED result is produced.
func (m *Manager) runTaskWithRetries(ctx context.Context, cwd string, task *models.Task, plan *models.Plan, history []models.HistoryTurn, out chan<- Event) *models.TaskResult {
	c := coder.New(m.Provider, m.Registry, m.Model)
	c.Metrics = m.Metrics
	c.Tracer = m.Tracer

	var lastResult *models.TaskResult
	var priorErrors []string

	for attempt := 0; attempt <= m.MaxRetries; attempt++ {
		task.Retries = attempt
		prompt := buildTaskPrompt(task, plan.Intent, priorErrors)

		coderEvents, doneCh := c.Run(ctx, cwd, task.ID, prompt, history)
		for ev := range coderEvents {
			meta := ev.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			meta["task_id"] = ev.TaskID
			meta["attempt"] = attempt
			out <- Event{Type: ev.Type, Role: ev.Role, Source: ev.Source, Body: ev.Body, Metadata: meta}
		}
		lastResult = <-doneCh

		if lastResult != nil && lastResult.Status == models.TaskCompleted {
			return lastResult
		}
		if lastResult != nil {
			priorErrors = lastResult.Errors
			if len(priorErrors) == 0 && lastResult.Summary != "" {
				priorErrors = []string{lastResult.Summary}
			}
		}
	}

	if lastResult == nil {
		lastResult = &models.TaskResult{Status: models.TaskFailed, Summary: "no result produced"}
	}
	return lastResult
}

func buildTaskPrompt(task *models.Task, intent string, priorErrors []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall intent: %s\n\n", intent)
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	if task.SuccessCriteria != "" {
		fmt.Fprintf(&b, "Success criteria: %s\n", task.SuccessCriteria)
	}
	if len(priorErrors) > 0 {
		b.WriteString("\nThe previous attempt at this task failed with:\n")
		for _, e := range priorErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("Address these before reporting completion.\n")
	}
	return b.String()
}

func renderPlan(plan *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s (confidence %.2f)\n", plan.Intent, plan.Confidence)
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "%s. %s", t.ID, t.Description)
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&b, " (depends on %s)", strings.Join(t.Dependencies, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// decompose calls the LLM and parses a Plan, falling back to a single-task
// plan on parse failure, per SPEC_FULL.md §4.4.
func (m *Manager) decompose(ctx context.Context, userText, contextSeed string, history []models.HistoryTurn) *models.Plan {
	messages := make([]llm.CompletionMessage, 0, len(history)+2)
	for _, h := range history {
		messages = append(messages, llm.CompletionMessage{Role: string(h.Role), Content: h.Content})
	}
	if contextSeed != "" {
		messages = append(messages, llm.CompletionMessage{Role: "system", Content: "Prior context: " + contextSeed})
	}
	messages = append(messages, llm.CompletionMessage{Role: "user", Content: userText})

	llmCtx := ctx
	var span trace.Span
	if m.Tracer != nil {
		llmCtx, span = m.Tracer.TraceLLMCall(ctx, m.Provider.Name(), m.Model)
	}
	start := time.Now()
	content, err := llm.Chat(llmCtx, m.Provider, &llm.CompletionRequest{Model: m.Model, System: systemPrompt, Messages: messages})
	if span != nil {
		m.Tracer.RecordError(span, err)
		span.End()
	}
	if m.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.Metrics.RecordLLMRequest(m.Provider.Name(), m.Model, status, time.Since(start).Seconds())
	}
	if err != nil {
		return models.FallbackPlan(userText)
	}

	plan, ok := models.ParsePlan(content)
	if !ok || len(plan.Tasks) == 0 && plan.NeedsClarification == "" {
		return models.FallbackPlan(userText)
	}
	if err := plan.Validate(); err != nil {
		return models.FallbackPlan(userText)
	}
	return plan
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
