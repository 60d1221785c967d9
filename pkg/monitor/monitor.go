// Package monitor owns per-worker-role status snapshots: polling for newly
// completed work, pipeline routing, and blocker detection.
package monitor

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"copydesk/pkg/logx"
	"copydesk/pkg/pipeline"
)

// ErrUnknownRole is returned for operations referencing a role outside the
// routing table.
var ErrUnknownRole = errors.New("unknown agent role")

// AgentState is a worker role's reported state.
type AgentState string

const (
	StateIdle       AgentState = "idle"
	StateInProgress AgentState = "in_progress"
	StateComplete   AgentState = "complete"
	StateBlocked    AgentState = "blocked"
)

// AgentStatus is one worker role's status record. The worker writes it; the
// monitor reads it and flips Processed to make polling idempotent.
type AgentStatus struct {
	Role          string     `json:"role"`
	State         AgentState `json:"state"`
	CurrentTaskID string     `json:"current_task_id,omitempty"`
	Processed     bool       `json:"processed"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Store persists individual agent status mutations.
type Store interface {
	SaveAgentStatus(status *AgentStatus) error
}

// Monitor tracks one status record per worker role.
type Monitor struct {
	agents  map[string]*AgentStatus
	routing pipeline.Routing
	store   Store // nil disables persistence (unit tests)
	logger  *logx.Logger
}

// NewMonitor creates a monitor with an idle record for every role in the
// routing table.
func NewMonitor(routing pipeline.Routing, store Store) (*Monitor, error) {
	if err := routing.Validate(); err != nil {
		return nil, fmt.Errorf("monitor routing: %w", err)
	}

	m := &Monitor{
		agents:  make(map[string]*AgentStatus),
		routing: routing,
		store:   store,
		logger:  logx.NewLogger("monitor"),
	}
	for _, role := range routing.AllRoles() {
		m.agents[role] = &AgentStatus{
			Role:      role,
			State:     StateIdle,
			Processed: true, // nothing to report yet
			UpdatedAt: time.Now().UTC(),
		}
	}
	return m, nil
}

// Restore overlays previously persisted status records. Unknown roles are
// ignored with a warning rather than rejected, so a routing change does not
// wedge startup.
func (m *Monitor) Restore(statuses []*AgentStatus) {
	for _, status := range statuses {
		if _, known := m.agents[status.Role]; !known {
			m.logger.Warn("dropping persisted status for unknown role %q", status.Role)
			continue
		}
		m.agents[status.Role] = status
	}
}

// Report records a status update for a role. This is the worker's write
// path: a newly reported state resets Processed so the next poll sees it.
func (m *Monitor) Report(role string, state AgentState, taskID string) error {
	status, exists := m.agents[role]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	status.State = state
	status.CurrentTaskID = taskID
	status.Processed = false
	status.UpdatedAt = time.Now().UTC()
	return m.persist(status)
}

// PollCompleted returns every role that has completed work not yet handed to
// the orchestrator, marking each returned record processed. Repeated polls
// without an intervening status change return nothing: each completion event
// is reported exactly once.
func (m *Monitor) PollCompleted() ([]*AgentStatus, error) {
	var completed []*AgentStatus
	for _, status := range m.agents {
		if status.State != StateComplete || status.Processed {
			continue
		}
		completed = append(completed, status)
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i].Role < completed[j].Role })

	for _, status := range completed {
		status.Processed = true
		if err := m.persist(status); err != nil {
			return nil, err
		}
	}
	return completed, nil
}

// NextRole returns the role that runs after current in the fixed pipeline,
// or ok=false when current is terminal.
func (m *Monitor) NextRole(current string) (string, bool) {
	return m.routing.NextRole(current)
}

// Blockers returns all roles currently blocked. Read-only; used for
// alerting.
func (m *Monitor) Blockers() []*AgentStatus {
	var blocked []*AgentStatus
	for _, status := range m.agents {
		if status.State == StateBlocked {
			blocked = append(blocked, status)
		}
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].Role < blocked[j].Role })
	return blocked
}

// Status returns the record for a role.
func (m *Monitor) Status(role string) (*AgentStatus, bool) {
	status, exists := m.agents[role]
	return status, exists
}

// All returns every status record in pipeline order.
func (m *Monitor) All() []*AgentStatus {
	statuses := make([]*AgentStatus, 0, len(m.agents))
	for _, role := range m.routing.AllRoles() {
		if status, ok := m.agents[role]; ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func (m *Monitor) persist(status *AgentStatus) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveAgentStatus(status); err != nil {
		return fmt.Errorf("failed to persist status for %s: %w", status.Role, err)
	}
	return nil
}
