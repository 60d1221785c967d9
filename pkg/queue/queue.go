// Package queue owns the durable set of tasks derived from backlog stories:
// creation by decomposition, priority-ordered retrieval, and dependency-aware
// status transitions.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"copydesk/pkg/backlog"
	"copydesk/pkg/gate"
	"copydesk/pkg/logx"
	"copydesk/pkg/pipeline"
)

// Sentinel errors surfaced to callers. Both abort only the operation that
// raised them; the rest of the queue stays schedulable.
var (
	ErrInvalidStory = errors.New("invalid story")
	ErrTaskNotFound = errors.New("task not found")
)

// Store persists individual task mutations. Implementations must make each
// write atomic so a restart mid-cycle never loses an in-flight assignment.
type Store interface {
	SaveTask(task *Task) error
}

// Queue manages the task set with dependency resolution.
type Queue struct {
	tasks   map[string]*Task
	routing pipeline.Routing
	store   Store // nil disables persistence (unit tests)
	logger  *logx.Logger
}

// NewQueue creates a queue over a validated routing table. Pass a nil store
// to keep the queue memory-only.
func NewQueue(routing pipeline.Routing, store Store) (*Queue, error) {
	if err := routing.Validate(); err != nil {
		return nil, fmt.Errorf("queue routing: %w", err)
	}
	return &Queue{
		tasks:   make(map[string]*Task),
		routing: routing,
		store:   store,
		logger:  logx.NewLogger("queue"),
	}, nil
}

// Restore loads previously persisted tasks into the queue. Used at startup;
// does not write back to the store.
func (q *Queue) Restore(tasks []*Task) {
	for _, task := range tasks {
		q.tasks[task.ID] = task
	}
}

// Decompose produces one task per pipeline phase for a story. Phase i
// depends on phase i-1; the first phase starts pending, the rest blocked.
// Returns ErrInvalidStory when the story fails the readiness check, in which
// case nothing is enqueued.
func (q *Queue) Decompose(story *backlog.Story) ([]*Task, error) {
	if pass, missing := gate.ValidateReadiness(story); !pass {
		return nil, fmt.Errorf("%w: story %s missing %v", ErrInvalidStory, story.ID, missing)
	}

	now := time.Now().UTC()
	tasks := make([]*Task, 0, len(q.routing.Phases))
	for i, phase := range q.routing.Phases {
		task := &Task{
			ID:        TaskID(story.ID, i+1),
			StoryID:   story.ID,
			Phase:     phase,
			Status:    StatusBlocked,
			Priority:  story.Priority,
			DependsOn: []string{},
			CreatedAt: now,
		}
		if i == 0 {
			task.Status = StatusPending
		} else {
			task.DependsOn = []string{TaskID(story.ID, i)}
		}
		tasks = append(tasks, task)
	}

	// Persist the whole set before exposing any of it, so a mid-story write
	// failure leaves the queue exactly as it was.
	for _, task := range tasks {
		if err := q.persist(task); err != nil {
			return nil, err
		}
	}
	for _, task := range tasks {
		q.tasks[task.ID] = task
	}

	q.logger.Info("decomposed story %s into %d tasks", story.ID, len(tasks))
	return tasks, nil
}

// Assign looks up the phase-to-role table, marks the task assigned, and
// stamps the assignment time. Calling it again overwrites the stamp; dispatch
// is at-most-once by orchestration discipline, not enforced here.
func (q *Queue) Assign(taskID string) (string, error) {
	task, exists := q.tasks[taskID]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	role, ok := q.routing.RoleFor(task.Phase)
	if !ok {
		return "", fmt.Errorf("no role for phase %q", task.Phase)
	}

	now := time.Now().UTC()
	task.Status = StatusAssigned
	task.AgentRole = role
	task.AssignedAt = &now
	if err := q.persist(task); err != nil {
		return "", err
	}

	return role, nil
}

// UpdateStatus transitions a task. Completing a task is the sole unblocking
// mechanism: every dependent whose dependencies are now all complete moves
// blocked -> pending. There is no separate scheduler tick.
func (q *Queue) UpdateStatus(taskID string, status TaskStatus) error {
	task, exists := q.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is %s and cannot transition to %s", taskID, task.Status, status)
	}

	task.Status = status
	if err := q.persist(task); err != nil {
		return err
	}

	if status == StatusComplete {
		return q.unblockDependents(taskID)
	}
	return nil
}

// unblockDependents scans tasks depending on the completed task and promotes
// those whose dependency lists are now fully complete.
func (q *Queue) unblockDependents(completedID string) error {
	for _, task := range q.tasks {
		if task.Status != StatusBlocked || !dependsOn(task, completedID) {
			continue
		}
		if !q.dependenciesComplete(task) {
			continue
		}
		task.Status = StatusPending
		if err := q.persist(task); err != nil {
			return err
		}
		q.logger.Debug("task %s unblocked by completion of %s", task.ID, completedID)
	}
	return nil
}

func dependsOn(task *Task, depID string) bool {
	for _, id := range task.DependsOn {
		if id == depID {
			return true
		}
	}
	return false
}

func (q *Queue) dependenciesComplete(task *Task) bool {
	for _, depID := range task.DependsOn {
		dep, exists := q.tasks[depID]
		if !exists || dep.Status != StatusComplete {
			return false
		}
	}
	return true
}

// NextTask selects the pending task with the highest priority (P0 first);
// ties break by earliest creation time, then lexical ID so the order is
// stable. Returns nil when nothing is pending.
func (q *Queue) NextTask() *Task {
	return q.NextTaskExcluding(nil)
}

// NextTaskExcluding is NextTask restricted to stories outside the given hold
// set. The orchestrator holds stories with unresolved escalations.
func (q *Queue) NextTaskExcluding(heldStories map[string]bool) *Task {
	var candidates []*Task
	for _, task := range q.tasks {
		if task.Status != StatusPending {
			continue
		}
		if heldStories[task.StoryID] {
			continue
		}
		candidates = append(candidates, task)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return candidates[0]
}

// Get returns a task by ID.
func (q *Queue) Get(taskID string) (*Task, bool) {
	task, exists := q.tasks[taskID]
	return task, exists
}

// All returns every task, sorted by ID for deterministic output.
func (q *Queue) All() []*Task {
	tasks := make([]*Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// ByStatus returns tasks with the given status, sorted by ID.
func (q *Queue) ByStatus(status TaskStatus) []*Task {
	var filtered []*Task
	for _, task := range q.tasks {
		if task.Status == status {
			filtered = append(filtered, task)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered
}

// Stalled reports whether the queue can make no further progress on its own:
// nothing pending or in flight, but blocked tasks remain. This covers both
// dependency cycles and dependents of failed tasks. Reported as a warning,
// not a hard failure, since escalation resolution may still free other paths.
func (q *Queue) Stalled() (bool, []string) {
	var blocked []string
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending, StatusAssigned, StatusInProgress:
			return false, nil
		case StatusBlocked:
			blocked = append(blocked, task.ID)
		}
	}
	sort.Strings(blocked)
	return len(blocked) > 0, blocked
}

// DetectCycles finds circular dependencies via depth-first search. Chained
// decomposition cannot produce one, but restored or hand-edited state can.
func (q *Queue) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	ids := make([]string, 0, len(q.tasks))
	for id := range q.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if cycle := q.cycleDFS(id, visited, recStack, nil); len(cycle) > 0 {
				cycles = append(cycles, cycle)
			}
		}
	}
	return cycles
}

func (q *Queue) cycleDFS(taskID string, visited, recStack map[string]bool, path []string) []string {
	visited[taskID] = true
	recStack[taskID] = true
	path = append(path, taskID)

	task, exists := q.tasks[taskID]
	if !exists {
		return nil
	}

	for _, depID := range task.DependsOn {
		if !visited[depID] {
			if cycle := q.cycleDFS(depID, visited, recStack, path); len(cycle) > 0 {
				return cycle
			}
		} else if recStack[depID] {
			start := -1
			for i, id := range path {
				if id == depID {
					start = i
					break
				}
			}
			if start >= 0 {
				return append(path[start:], depID)
			}
		}
	}

	recStack[taskID] = false
	return nil
}

func (q *Queue) persist(task *Task) error {
	if q.store == nil {
		return nil
	}
	if err := q.store.SaveTask(task); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", task.ID, err)
	}
	return nil
}
