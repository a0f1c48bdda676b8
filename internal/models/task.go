package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TaskStatus is the lifecycle state of a single plan Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskBlocked    TaskStatus = "BLOCKED"
)

// Task is one atomic unit of work dispatched by the Manager to the Coder.
type Task struct {
	ID               string
	Description      string
	SuccessCriteria  string
	Dependencies     []string
	Status           TaskStatus
	Result           *TaskResult
	Errors           []string
	Retries          int
}

// DependenciesMet reports whether every dependency id of t is present in
// completed, the set of task ids that have reached TaskCompleted this
// request.
func (t *Task) DependenciesMet(completed map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Plan is the Manager's decomposition of a user request into a
// dependency-ordered set of Tasks.
type Plan struct {
	Intent             string
	Confidence          float64
	Tasks               []*Task
	NeedsClarification string
}

// TaskByID returns the task with the given id, or nil.
func (p *Plan) TaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Validate checks that the task dependency graph is a DAG over ids present
// in the plan, per the Plan invariant. It returns the first cycle or
// dangling reference found.
func (p *Plan) Validate() error {
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		ids[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}

	// Cycle detection via DFS coloring.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Tasks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		t := p.TaskByID(id)
		for _, dep := range t.Dependencies {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle involving task %s", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range p.Tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// TaskResult is the Coder's report of the outcome of a single Task
// invocation.
type TaskResult struct {
	Status       TaskStatus
	Summary      string
	FilesChanged []string
	Tested       bool
	Errors       []string
}

var (
	planTagRe       = regexp.MustCompile(`(?s)<plan>(.*?)</plan>`)
	intentTagRe     = regexp.MustCompile(`(?s)<intent>(.*?)</intent>`)
	confidenceTagRe = regexp.MustCompile(`<confidence>([\d.]+)</confidence>`)
	clarifyTagRe    = regexp.MustCompile(`(?s)<clarify>(.*?)</clarify>`)
	taskBlockRe     = regexp.MustCompile(`(?s)<task\s+id=["']?(\w+)["']?>(.*?)</task>`)
	descriptionRe   = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	criteriaRe      = regexp.MustCompile(`(?s)<criteria>(.*?)</criteria>`)
	dependsRe       = regexp.MustCompile(`(?s)<depends>(.*?)</depends>`)

	resultTagRe  = regexp.MustCompile(`(?s)<result>(.*?)</result>`)
	statusTagRe  = regexp.MustCompile(`(?s)<status>(.*?)</status>`)
	summaryTagRe = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)
	filesTagRe   = regexp.MustCompile(`(?s)<files>(.*?)</files>`)
	testedTagRe  = regexp.MustCompile(`(?s)<tested>(.*?)</tested>`)
	errorsTagRe  = regexp.MustCompile(`(?s)<errors>(.*?)</errors>`)
)

// ParsePlan extracts a <plan> block from LLM output per the Manager's wire
// format. It returns (nil, false) if no <plan> block is present at all; a
// malformed-but-present block still yields a best-effort Plan with zero
// values for missing fields. The Manager falls back to a single-task plan
// when the LLM call fails, when no block is found, when the plan has no
// tasks and no clarification, or when Validate rejects it.
func ParsePlan(content string) (*Plan, bool) {
	m := planTagRe.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	body := m[1]

	plan := &Plan{Confidence: 0.5}
	if im := intentTagRe.FindStringSubmatch(body); im != nil {
		plan.Intent = strings.TrimSpace(im[1])
	}
	if cm := confidenceTagRe.FindStringSubmatch(body); cm != nil {
		if f, err := strconv.ParseFloat(cm[1], 64); err == nil {
			plan.Confidence = f
		}
	}
	if clm := clarifyTagRe.FindStringSubmatch(body); clm != nil {
		if q := strings.TrimSpace(clm[1]); q != "" {
			plan.NeedsClarification = q
		}
	}

	for _, tm := range taskBlockRe.FindAllStringSubmatch(body, -1) {
		id, taskBody := tm[1], tm[2]
		task := &Task{ID: id, Status: TaskPending}
		if dm := descriptionRe.FindStringSubmatch(taskBody); dm != nil {
			task.Description = strings.TrimSpace(dm[1])
		}
		if crm := criteriaRe.FindStringSubmatch(taskBody); crm != nil {
			task.SuccessCriteria = strings.TrimSpace(crm[1])
		}
		if dem := dependsRe.FindStringSubmatch(taskBody); dem != nil {
			for _, dep := range strings.Split(strings.TrimSpace(dem[1]), ",") {
				dep = strings.TrimSpace(dep)
				if dep != "" {
					task.Dependencies = append(task.Dependencies, dep)
				}
			}
		}
		plan.Tasks = append(plan.Tasks, task)
	}

	return plan, true
}

// FallbackPlan builds the single-task plan the Manager substitutes when LLM
// output contains no parseable <plan> block, per §4.4.
func FallbackPlan(userText string) *Plan {
	return &Plan{
		Intent:     userText,
		Confidence: 0.5,
		Tasks: []*Task{
			{
				ID:              "1",
				Description:     userText,
				SuccessCriteria: "Completes the user's request.",
				Status:          TaskPending,
			},
		},
	}
}

var statusMap = map[string]TaskStatus{
	"success":   TaskCompleted,
	"completed": TaskCompleted,
	"partial":   TaskInProgress,
	"failed":    TaskFailed,
	"error":     TaskFailed,
}

// ParseResult extracts a <result> block from Coder output per the wire
// format documented in SPEC_FULL.md §3. Returns (nil, false) if absent.
func ParseResult(content string) (*TaskResult, bool) {
	m := resultTagRe.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	body := m[1]

	result := &TaskResult{Status: TaskFailed}
	if sm := statusTagRe.FindStringSubmatch(body); sm != nil {
		key := strings.ToLower(strings.TrimSpace(sm[1]))
		if st, ok := statusMap[key]; ok {
			result.Status = st
		}
	}
	if sum := summaryTagRe.FindStringSubmatch(body); sum != nil {
		result.Summary = strings.TrimSpace(sum[1])
	}
	if fm := filesTagRe.FindStringSubmatch(body); fm != nil {
		for _, f := range strings.Split(strings.TrimSpace(fm[1]), ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				result.FilesChanged = append(result.FilesChanged, f)
			}
		}
	}
	if tm := testedTagRe.FindStringSubmatch(body); tm != nil {
		v := strings.ToLower(strings.TrimSpace(tm[1]))
		result.Tested = v == "true" || v == "yes" || v == "1"
	}
	if em := errorsTagRe.FindStringSubmatch(body); em != nil {
		if e := strings.TrimSpace(em[1]); e != "" {
			result.Errors = append(result.Errors, e)
		}
	}
	return result, true
}

// InferResult produces a heuristic TaskResult when no <result> block is
// present at all, matching the Manager's fallback inference policy (§4.4
// step 5): presence of common failure language marks the task FAILED,
// otherwise it is treated as COMPLETED with the raw content as summary.
func InferResult(content string) *TaskResult {
	lower := strings.ToLower(content)
	failureMarkers := []string{"error:", "failed", "traceback", "exception", "could not", "unable to"}
	status := TaskCompleted
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			status = TaskFailed
			break
		}
	}
	summary := strings.TrimSpace(content)
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return &TaskResult{Status: status, Summary: summary}
}
