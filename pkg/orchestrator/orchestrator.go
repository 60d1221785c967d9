// Package orchestrator composes the task queue, agent status monitor,
// quality gate, and escalation manager into a single scheduling cycle.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"copydesk/pkg/backlog"
	"copydesk/pkg/escalation"
	"copydesk/pkg/eventlog"
	"copydesk/pkg/gate"
	"copydesk/pkg/logx"
	"copydesk/pkg/monitor"
	"copydesk/pkg/queue"
)

// Dispatcher hands a task to an external worker executor. Dispatch is an
// external call: the core never runs worker logic itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *queue.Task, story *backlog.Story) error
}

// DeliverableSource looks up the deliverable a worker reported for a task.
type DeliverableSource interface {
	GetDeliverable(taskID string) (*gate.Deliverable, bool, error)
}

// StorySource looks up backlog stories by id.
type StorySource interface {
	GetStory(storyID string) (*backlog.Story, error)
}

// MetricsRecorder receives scheduling-cycle observations. Optional.
type MetricsRecorder interface {
	ObserveGateDecision(decision, agentRole string)
	ObserveDispatch(agentRole string)
	SetOpenEscalations(count int)
	ObserveCycle(duration time.Duration)
}

// EventSink receives audit events. Optional.
type EventSink interface {
	Write(event *eventlog.Event) error
}

// CycleReport summarizes one scheduling cycle for the CLI exit-status
// mapping and operator output.
type CycleReport struct {
	CycleID          string   `json:"cycle_id"`
	Approved         []string `json:"approved,omitempty"`  // task ids
	Escalated        []string `json:"escalated,omitempty"` // escalation ids
	Rejected         []string `json:"rejected,omitempty"`  // task ids
	DispatchedTaskID string   `json:"dispatched_task_id,omitempty"`
	DispatchedRole   string   `json:"dispatched_role,omitempty"`
	BlockedAgents    []string `json:"blocked_agents,omitempty"`
	StrandedTasks    []string `json:"stranded_tasks,omitempty"` // escalation resolved, worker has not resubmitted
	Stalled          bool     `json:"stalled"`
	StallReason      string   `json:"stall_reason,omitempty"`
}

// Orchestrator drives scheduling cycles over the three durable stores.
type Orchestrator struct {
	queue        *queue.Queue
	monitor      *monitor.Monitor
	escalations  *escalation.Manager
	stories      StorySource
	deliverables DeliverableSource
	dispatcher   Dispatcher
	metrics      MetricsRecorder
	events       EventSink
	logger       *logx.Logger
}

// New creates an orchestrator. metrics and events may be nil; dispatcher may
// be nil, in which case dispatch falls back to logging only.
func New(q *queue.Queue, m *monitor.Monitor, esc *escalation.Manager,
	stories StorySource, deliverables DeliverableSource, dispatcher Dispatcher,
	metrics MetricsRecorder, events EventSink) *Orchestrator {
	if dispatcher == nil {
		dispatcher = &LogDispatcher{}
	}
	return &Orchestrator{
		queue:        q,
		monitor:      m,
		escalations:  esc,
		stories:      stories,
		deliverables: deliverables,
		dispatcher:   dispatcher,
		metrics:      metrics,
		events:       events,
		logger:       logx.NewLogger("orchestrator"),
	}
}

// RunCycle executes one scheduling cycle: process completed worker reports
// through the quality gate, then dispatch the next highest-priority task.
// Re-entrant; all state between invocations lives in the persisted stores.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{CycleID: uuid.New().String()}
	o.emit(&eventlog.Event{CycleID: report.CycleID, Type: eventlog.EventCycleStart})

	completed, err := o.monitor.PollCompleted()
	if err != nil {
		return nil, logx.Wrap(err, "poll agent status")
	}
	for _, status := range completed {
		// Polling already consumed these records; one bad report must not
		// swallow the rest of the poll window.
		if err := o.processCompletion(status, report); err != nil {
			o.logger.Error("completion from %s not processed: %v", status.Role, err)
		}
	}

	if o.metrics != nil {
		o.metrics.SetOpenEscalations(len(o.escalations.Unresolved()))
	}

	if err := o.dispatchNext(ctx, report); err != nil {
		return nil, err
	}

	o.checkStall(report)

	for _, blocked := range o.monitor.Blockers() {
		report.BlockedAgents = append(report.BlockedAgents, blocked.Role)
		o.logger.Warn("agent %s is blocked on task %s", blocked.Role, blocked.CurrentTaskID)
	}

	if o.metrics != nil {
		o.metrics.ObserveCycle(time.Since(start))
	}
	o.emit(&eventlog.Event{
		CycleID: report.CycleID,
		Type:    eventlog.EventCycleEnd,
		Details: map[string]any{
			"approved":  len(report.Approved),
			"escalated": len(report.Escalated),
			"rejected":  len(report.Rejected),
			"stalled":   report.Stalled,
		},
	})
	return report, nil
}

// processCompletion validates one completed worker report and applies the
// gate decision to the owning task.
func (o *Orchestrator) processCompletion(status *monitor.AgentStatus, report *CycleReport) error {
	taskID := status.CurrentTaskID
	task, exists := o.queue.Get(taskID)
	if !exists {
		o.logger.Warn("agent %s reported completion of unknown task %q", status.Role, taskID)
		return nil
	}
	if task.Status.Terminal() {
		// Stale re-report of a task already gated. Drop it and free the role.
		o.logger.Warn("agent %s re-reported %s task %s; ignoring", status.Role, task.Status, taskID)
		return o.monitor.Report(status.Role, monitor.StateIdle, "")
	}

	deliverable, found, err := o.deliverables.GetDeliverable(taskID)
	if err != nil {
		return logx.Wrap(err, "load deliverable")
	}
	if !found {
		// No submission at all still flows through the gate: the empty
		// deliverable fails self-validation and has no output, which lands
		// in the escalation band rather than silently approving.
		o.logger.Warn("agent %s completed task %s without a deliverable", status.Role, taskID)
		deliverable = &gate.Deliverable{TaskID: taskID, StoryID: task.StoryID, AgentRole: status.Role}
	}

	_, issues := gate.ValidateDone(deliverable)
	decision := gate.Decide(issues)

	if o.metrics != nil {
		o.metrics.ObserveGateDecision(string(decision), status.Role)
	}
	o.emit(&eventlog.Event{
		CycleID:   report.CycleID,
		Type:      eventlog.EventGateDecision,
		TaskID:    taskID,
		StoryID:   task.StoryID,
		AgentRole: status.Role,
		Decision:  string(decision),
		Details:   map[string]any{"issues": issues},
	})

	switch decision {
	case gate.DecisionApprove:
		if err := o.queue.UpdateStatus(taskID, queue.StatusComplete); err != nil {
			return logx.Wrap(err, "mark task complete")
		}
		report.Approved = append(report.Approved, taskID)
		if next, ok := o.monitor.NextRole(status.Role); ok {
			o.logger.Info("task %s approved; pipeline advances to %s", taskID, next)
		} else {
			o.logger.Info("task %s approved; story %s pipeline complete", taskID, task.StoryID)
		}

	case gate.DecisionEscalate:
		escID, err := o.escalations.Create(task.StoryID, escalation.TypeGateAmbiguous,
			"Deliverable for task "+taskID+" has borderline validation issues; approve or rework?",
			map[string]any{"task_id": taskID, "agent_role": status.Role, "issues": issues},
			"Review the listed issues against the story's acceptance criteria.")
		if err != nil {
			return logx.Wrap(err, "create escalation")
		}
		report.Escalated = append(report.Escalated, escID)
		o.emit(&eventlog.Event{
			CycleID: report.CycleID,
			Type:    eventlog.EventEscalation,
			TaskID:  taskID,
			StoryID: task.StoryID,
			Details: map[string]any{"escalation_id": escID},
		})
		o.logger.Warn("task %s escalated as %s; story %s held until resolved", taskID, escID, task.StoryID)

	case gate.DecisionReject:
		if err := o.queue.UpdateStatus(taskID, queue.StatusFailed); err != nil {
			return logx.Wrap(err, "mark task failed")
		}
		report.Rejected = append(report.Rejected, taskID)
		o.logger.Warn("task %s rejected with %d issues; remediation is external", taskID, len(issues))
	}

	// The completion has been consumed; return the role to idle.
	if err := o.monitor.Report(status.Role, monitor.StateIdle, ""); err != nil {
		return logx.Wrap(err, "reset agent status")
	}
	return nil
}

// dispatchNext assigns and dispatches the next schedulable task, skipping
// stories held by unresolved escalations.
func (o *Orchestrator) dispatchNext(ctx context.Context, report *CycleReport) error {
	next := o.queue.NextTaskExcluding(o.escalations.HeldStories())
	if next == nil {
		return nil
	}

	role, err := o.queue.Assign(next.ID)
	if err != nil {
		return logx.Wrap(err, "assign task")
	}

	story, err := o.stories.GetStory(next.StoryID)
	if err != nil {
		return logx.Wrap(err, "load story for dispatch")
	}

	if err := o.dispatcher.Dispatch(ctx, next, story); err != nil {
		return logx.Wrap(err, "dispatch task")
	}

	report.DispatchedTaskID = next.ID
	report.DispatchedRole = role
	if o.metrics != nil {
		o.metrics.ObserveDispatch(role)
	}
	o.emit(&eventlog.Event{
		CycleID:   report.CycleID,
		Type:      eventlog.EventDispatch,
		TaskID:    next.ID,
		StoryID:   next.StoryID,
		AgentRole: role,
	})
	o.logger.Info("dispatched task %s to %s", next.ID, role)
	return nil
}

// strandedTasks returns in-flight tasks whose escalation was resolved but
// whose worker has not resubmitted a completion. The gate consumed their
// original completion, so nothing re-gates them until the worker reports
// again.
func (o *Orchestrator) strandedTasks() []string {
	var stranded []string
	for _, esc := range o.escalations.All() {
		if !esc.Resolved {
			continue
		}
		taskID, ok := esc.Context["task_id"].(string)
		if !ok {
			continue
		}
		task, exists := o.queue.Get(taskID)
		if !exists {
			continue
		}
		if task.Status == queue.StatusAssigned || task.Status == queue.StatusInProgress {
			stranded = append(stranded, taskID)
		}
	}
	sort.Strings(stranded)
	return stranded
}

// checkStall flags cycles that made no progress and can make none: a
// dependency cycle, every pending task held by an unresolved escalation, or
// every in-flight task stranded awaiting worker resubmission. A stall is a
// warning, not a failure; resolution or resubmission may free paths.
func (o *Orchestrator) checkStall(report *CycleReport) {
	report.StrandedTasks = o.strandedTasks()
	for _, taskID := range report.StrandedTasks {
		o.logger.Warn("task %s awaits worker resubmission after escalation", taskID)
	}

	if report.DispatchedTaskID != "" {
		return
	}
	inFlight := len(o.queue.ByStatus(queue.StatusAssigned)) + len(o.queue.ByStatus(queue.StatusInProgress))
	if inFlight > len(report.StrandedTasks) {
		return // workers are busy; not a stall
	}

	if pending := o.queue.ByStatus(queue.StatusPending); len(pending) > 0 {
		report.Stalled = true
		report.StallReason = "all pending tasks are held by unresolved escalations"
	} else if len(report.StrandedTasks) > 0 {
		report.Stalled = true
		report.StallReason = "escalated tasks await worker resubmission"
	} else if stalled, blocked := o.queue.Stalled(); stalled {
		report.Stalled = true
		report.StallReason = "blocked tasks can never unblock"
		if cycles := o.queue.DetectCycles(); len(cycles) > 0 {
			report.StallReason = "dependency cycle detected"
			o.logger.Warn("dependency cycle: %v", cycles[0])
		}
		o.logger.Warn("queue stalled; blocked tasks: %v", blocked)
	}

	if report.Stalled {
		o.emit(&eventlog.Event{
			CycleID: report.CycleID,
			Type:    eventlog.EventStallWarning,
			Details: map[string]any{"reason": report.StallReason},
		})
	}
}

func (o *Orchestrator) emit(event *eventlog.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Write(event); err != nil {
		o.logger.Warn("failed to write event log entry: %v", err)
	}
}

// LogDispatcher is the default dispatcher: it only logs. Real deployments
// replace it with an executor bridge that starts the worker process.
type LogDispatcher struct{}

// Dispatch logs the handoff and returns.
func (d *LogDispatcher) Dispatch(_ context.Context, task *queue.Task, _ *backlog.Story) error {
	logx.Infof("task %s ready for %s (no executor configured)", task.ID, task.AgentRole)
	return nil
}
