package queue

import (
	"fmt"
	"time"

	"copydesk/pkg/backlog"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusBlocked    TaskStatus = "blocked"
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusComplete   TaskStatus = "complete"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
// Failed tasks are only revived by an external re-enqueue, never in place.
func (s TaskStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Task is the unit of schedulable work, one per pipeline phase per story.
type Task struct {
	ID         string           `json:"id"` // <story-id>-<phase seq>, e.g. RS-101-02
	StoryID    string           `json:"story_id"`
	Phase      string           `json:"phase"`
	Status     TaskStatus       `json:"status"`
	AgentRole  string           `json:"agent_role,omitempty"`
	Priority   backlog.Priority `json:"priority"`
	DependsOn  []string         `json:"depends_on"`
	CreatedAt  time.Time        `json:"created_at"`
	AssignedAt *time.Time       `json:"assigned_at,omitempty"`
}

// TaskID builds the canonical task identifier for a story phase.
func TaskID(storyID string, seq int) string {
	return fmt.Sprintf("%s-%02d", storyID, seq)
}
