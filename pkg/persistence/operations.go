package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"copydesk/pkg/backlog"
	"copydesk/pkg/escalation"
	"copydesk/pkg/gate"
	"copydesk/pkg/monitor"
	"copydesk/pkg/queue"
)

// DatabaseOperations provides methods for all database reads and writes. It
// implements the store interfaces of the queue, monitor, and escalation
// packages.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// UpsertStory inserts or updates a story record.
func (ops *DatabaseOperations) UpsertStory(story *backlog.Story) error {
	criteria, err := json.Marshal(story.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("failed to encode acceptance criteria: %w", err)
	}
	requirements, err := json.Marshal(story.QualityRequirements)
	if err != nil {
		return fmt.Errorf("failed to encode quality requirements: %w", err)
	}

	query := `
		INSERT INTO stories (id, title, narrative, acceptance_criteria, quality_requirements, priority, story_points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			narrative = excluded.narrative,
			acceptance_criteria = excluded.acceptance_criteria,
			quality_requirements = excluded.quality_requirements,
			priority = excluded.priority,
			story_points = excluded.story_points
	`
	_, err = ops.db.Exec(query, story.ID, story.Title, story.Narrative,
		string(criteria), string(requirements), string(story.Priority), story.Points, story.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert story %s: %w", story.ID, err)
	}
	return nil
}

// GetStory returns a story by id.
func (ops *DatabaseOperations) GetStory(storyID string) (*backlog.Story, error) {
	row := ops.db.QueryRow(`
		SELECT id, title, narrative, acceptance_criteria, quality_requirements, priority, story_points, created_at
		FROM stories WHERE id = ?`, storyID)

	var story backlog.Story
	var criteria, requirements, priority string
	err := row.Scan(&story.ID, &story.Title, &story.Narrative, &criteria, &requirements,
		&priority, &story.Points, &story.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("story %s not found", storyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story %s: %w", storyID, err)
	}

	if err := json.Unmarshal([]byte(criteria), &story.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("failed to decode acceptance criteria for %s: %w", storyID, err)
	}
	if err := json.Unmarshal([]byte(requirements), &story.QualityRequirements); err != nil {
		return nil, fmt.Errorf("failed to decode quality requirements for %s: %w", storyID, err)
	}
	story.Priority = backlog.Priority(priority)
	return &story, nil
}

// SaveTask inserts or updates a task record. Implements queue.Store.
func (ops *DatabaseOperations) SaveTask(task *queue.Task) error {
	dependsOn, err := json.Marshal(task.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}

	query := `
		INSERT INTO tasks (id, story_id, phase, status, agent_role, priority, depends_on, created_at, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			agent_role = excluded.agent_role,
			assigned_at = excluded.assigned_at
	`
	_, err = ops.db.Exec(query, task.ID, task.StoryID, task.Phase, string(task.Status),
		task.AgentRole, string(task.Priority), string(dependsOn), task.CreatedAt, task.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// LoadTasks returns every persisted task.
func (ops *DatabaseOperations) LoadTasks() ([]*queue.Task, error) {
	rows, err := ops.db.Query(`
		SELECT id, story_id, phase, status, agent_role, priority, depends_on, created_at, assigned_at
		FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*queue.Task
	for rows.Next() {
		var task queue.Task
		var status, priority, dependsOn string
		var assignedAt sql.NullTime
		if err := rows.Scan(&task.ID, &task.StoryID, &task.Phase, &status, &task.AgentRole,
			&priority, &dependsOn, &task.CreatedAt, &assignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Status = queue.TaskStatus(status)
		task.Priority = backlog.Priority(priority)
		if err := json.Unmarshal([]byte(dependsOn), &task.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies for %s: %w", task.ID, err)
		}
		if assignedAt.Valid {
			t := assignedAt.Time
			task.AssignedAt = &t
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task row iteration failed: %w", err)
	}
	return tasks, nil
}

// SaveAgentStatus inserts or updates an agent status record. Implements
// monitor.Store.
func (ops *DatabaseOperations) SaveAgentStatus(status *monitor.AgentStatus) error {
	query := `
		INSERT INTO agent_status (role, state, current_task_id, processed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			state = excluded.state,
			current_task_id = excluded.current_task_id,
			processed = excluded.processed,
			updated_at = excluded.updated_at
	`
	_, err := ops.db.Exec(query, status.Role, string(status.State), status.CurrentTaskID,
		boolToInt(status.Processed), status.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save agent status for %s: %w", status.Role, err)
	}
	return nil
}

// LoadAgentStatus returns every persisted agent status record.
func (ops *DatabaseOperations) LoadAgentStatus() ([]*monitor.AgentStatus, error) {
	rows, err := ops.db.Query(`SELECT role, state, current_task_id, processed, updated_at FROM agent_status ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statuses []*monitor.AgentStatus
	for rows.Next() {
		var status monitor.AgentStatus
		var state string
		var processed int
		if err := rows.Scan(&status.Role, &state, &status.CurrentTaskID, &processed, &status.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent status: %w", err)
		}
		status.State = monitor.AgentState(state)
		status.Processed = processed != 0
		statuses = append(statuses, &status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent status row iteration failed: %w", err)
	}
	return statuses, nil
}

// SaveEscalation inserts or updates an escalation record. Implements
// escalation.Store.
func (ops *DatabaseOperations) SaveEscalation(esc *escalation.Escalation) error {
	context, err := json.Marshal(esc.Context)
	if err != nil {
		return fmt.Errorf("failed to encode escalation context: %w", err)
	}

	query := `
		INSERT INTO escalations (id, story_id, type, question, context, recommendation, resolved, created_at, resolved_at, resolution_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolved = excluded.resolved,
			resolved_at = excluded.resolved_at,
			resolution_notes = excluded.resolution_notes
	`
	_, err = ops.db.Exec(query, esc.ID, esc.StoryID, esc.Type, esc.Question, string(context),
		esc.Recommendation, boolToInt(esc.Resolved), esc.CreatedAt, esc.ResolvedAt, esc.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("failed to save escalation %s: %w", esc.ID, err)
	}
	return nil
}

// LoadEscalations returns every persisted escalation.
func (ops *DatabaseOperations) LoadEscalations() ([]*escalation.Escalation, error) {
	rows, err := ops.db.Query(`
		SELECT id, story_id, type, question, context, recommendation, resolved, created_at, resolved_at, resolution_notes
		FROM escalations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var escalations []*escalation.Escalation
	for rows.Next() {
		var esc escalation.Escalation
		var context string
		var resolved int
		var resolvedAt sql.NullTime
		if err := rows.Scan(&esc.ID, &esc.StoryID, &esc.Type, &esc.Question, &context,
			&esc.Recommendation, &resolved, &esc.CreatedAt, &resolvedAt, &esc.ResolutionNotes); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		if err := json.Unmarshal([]byte(context), &esc.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context for %s: %w", esc.ID, err)
		}
		esc.Resolved = resolved != 0
		if resolvedAt.Valid {
			t := resolvedAt.Time
			esc.ResolvedAt = &t
		}
		escalations = append(escalations, &esc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escalation row iteration failed: %w", err)
	}
	return escalations, nil
}

// SaveDeliverable stores a worker's deliverable keyed by task id, replacing
// any earlier submission for the same task.
func (ops *DatabaseOperations) SaveDeliverable(d *gate.Deliverable) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode deliverable: %w", err)
	}

	query := `
		INSERT INTO deliverables (task_id, id, story_id, agent_role, payload, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			id = excluded.id,
			story_id = excluded.story_id,
			agent_role = excluded.agent_role,
			payload = excluded.payload,
			submitted_at = excluded.submitted_at
	`
	_, err = ops.db.Exec(query, d.TaskID, d.ID, d.StoryID, d.AgentRole, string(payload), d.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to save deliverable for task %s: %w", d.TaskID, err)
	}
	return nil
}

// GetDeliverable returns the deliverable reported for a task, or ok=false
// when the worker has not submitted one.
func (ops *DatabaseOperations) GetDeliverable(taskID string) (*gate.Deliverable, bool, error) {
	var payload string
	err := ops.db.QueryRow(`SELECT payload FROM deliverables WHERE task_id = ?`, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get deliverable for task %s: %w", taskID, err)
	}

	var d gate.Deliverable
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, false, fmt.Errorf("failed to decode deliverable for task %s: %w", taskID, err)
	}
	return &d, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
