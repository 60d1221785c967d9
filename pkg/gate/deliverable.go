package gate

import "time"

// SelfValidation is the worker's own check on its output.
type SelfValidation struct {
	Passed bool   `json:"passed"`
	Notes  string `json:"notes,omitempty"`
}

// CriterionResult reports one acceptance criterion's pass/fail state as
// observed by the worker.
type CriterionResult struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
}

// Deliverable is what a worker reports when it finishes a task. The
// coordinator never inspects content beyond these fields.
type Deliverable struct {
	ID              string            `json:"id"`
	TaskID          string            `json:"task_id"`
	StoryID         string            `json:"story_id"`
	AgentRole       string            `json:"agent_role"`
	SelfValidation  SelfValidation    `json:"self_validation"`
	Output          map[string]string `json:"output"` // artifact references, e.g. "draft" -> path
	CriteriaResults []CriterionResult `json:"acceptance_criteria_results"`
	SubmittedAt     time.Time         `json:"submitted_at"`
}
