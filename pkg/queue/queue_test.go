package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/pkg/backlog"
	"copydesk/pkg/pipeline"
)

func testStory(id string, priority backlog.Priority) *backlog.Story {
	return &backlog.Story{
		ID:        id,
		Narrative: "Narrative for " + id,
		AcceptanceCriteria: []string{
			"[ ] first criterion",
			"[ ] second criterion",
			"[ ] third criterion",
		},
		QualityRequirements: map[string]string{"tone": "neutral"},
		Priority:            priority,
		Points:              3,
	}
}

// threePhaseRouting keeps dependency scenarios compact.
func threePhaseRouting() pipeline.Routing {
	return pipeline.Routing{
		Phases: []string{pipeline.PhaseResearch, pipeline.PhaseWriting, pipeline.PhaseEditing},
		Roles: map[string]string{
			pipeline.PhaseResearch: pipeline.RoleResearch,
			pipeline.PhaseWriting:  pipeline.RoleWriter,
			pipeline.PhaseEditing:  pipeline.RoleEditor,
		},
	}
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(threePhaseRouting(), nil)
	require.NoError(t, err)
	return q
}

func TestNewQueueRejectsBadRouting(t *testing.T) {
	_, err := NewQueue(pipeline.Routing{}, nil)
	assert.Error(t, err)
}

func TestDecompose(t *testing.T) {
	q := newTestQueue(t)

	tasks, err := q.Decompose(testStory("RS-101", backlog.PriorityP1))
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "RS-101-01", tasks[0].ID)
	assert.Equal(t, StatusPending, tasks[0].Status)
	assert.Empty(t, tasks[0].DependsOn)

	assert.Equal(t, StatusBlocked, tasks[1].Status)
	assert.Equal(t, []string{"RS-101-01"}, tasks[1].DependsOn)

	assert.Equal(t, StatusBlocked, tasks[2].Status)
	assert.Equal(t, []string{"RS-101-02"}, tasks[2].DependsOn)
}

func TestDecomposeInvalidStory(t *testing.T) {
	q := newTestQueue(t)

	story := testStory("RS-102", backlog.PriorityP1)
	story.QualityRequirements = nil
	story.Points = 0

	_, err := q.Decompose(story)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStory)
	assert.Empty(t, q.All(), "invalid story must not enqueue anything")
}

// failAfterStore accepts the first n saves and rejects the rest.
type failAfterStore struct {
	n     int
	saves int
}

func (s *failAfterStore) SaveTask(task *Task) error {
	s.saves++
	if s.saves > s.n {
		return fmt.Errorf("disk full saving %s", task.ID)
	}
	return nil
}

func TestDecomposePersistFailureEnqueuesNothing(t *testing.T) {
	q, err := NewQueue(threePhaseRouting(), &failAfterStore{n: 1})
	require.NoError(t, err)

	_, err = q.Decompose(testStory("RS-103", backlog.PriorityP1))
	require.Error(t, err)
	assert.Empty(t, q.All(), "partial persistence must not leave tasks behind")
	assert.Nil(t, q.NextTask())
}

func TestCompletionUnblocksNextPhaseOnly(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Decompose(testStory("RS-101", backlog.PriorityP1))
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus("RS-101-01", StatusComplete))

	second, _ := q.Get("RS-101-02")
	third, _ := q.Get("RS-101-03")
	assert.Equal(t, StatusPending, second.Status, "writing unblocks after research")
	assert.Equal(t, StatusBlocked, third.Status, "editing still waits on writing")
}

func TestUpdateStatusNotFound(t *testing.T) {
	q := newTestQueue(t)
	err := q.UpdateStatus("missing-01", StatusComplete)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateStatusTerminalTask(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Decompose(testStory("RS-101", backlog.PriorityP1))
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus("RS-101-01", StatusFailed))
	assert.Error(t, q.UpdateStatus("RS-101-01", StatusComplete))
}

func TestAssign(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Decompose(testStory("RS-101", backlog.PriorityP2))
	require.NoError(t, err)

	role, err := q.Assign("RS-101-01")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RoleResearch, role)

	task, _ := q.Get("RS-101-01")
	assert.Equal(t, StatusAssigned, task.Status)
	assert.Equal(t, pipeline.RoleResearch, task.AgentRole)
	require.NotNil(t, task.AssignedAt)
}

func TestAssignNotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Assign("nope-01")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestNextTaskPriorityOrder(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Decompose(testStory("RS-201", backlog.PriorityP2))
	require.NoError(t, err)
	_, err = q.Decompose(testStory("RS-202", backlog.PriorityP0))
	require.NoError(t, err)
	_, err = q.Decompose(testStory("RS-203", backlog.PriorityP1))
	require.NoError(t, err)

	next := q.NextTask()
	require.NotNil(t, next)
	assert.Equal(t, "RS-202-01", next.ID, "P0 beats P1 and P2")
}

func TestNextTaskFIFOWithinBand(t *testing.T) {
	q := newTestQueue(t)

	earlier := time.Now().UTC().Add(-time.Hour)
	q.Restore([]*Task{
		{ID: "RS-302-01", StoryID: "RS-302", Status: StatusPending, Priority: backlog.PriorityP1, CreatedAt: time.Now().UTC()},
		{ID: "RS-301-01", StoryID: "RS-301", Status: StatusPending, Priority: backlog.PriorityP1, CreatedAt: earlier},
	})

	next := q.NextTask()
	require.NotNil(t, next)
	assert.Equal(t, "RS-301-01", next.ID, "earliest creation wins within a band")
}

func TestNextTaskEmpty(t *testing.T) {
	q := newTestQueue(t)
	assert.Nil(t, q.NextTask())
}

func TestNextTaskExcludingHeldStory(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Decompose(testStory("RS-401", backlog.PriorityP0))
	require.NoError(t, err)
	_, err = q.Decompose(testStory("RS-402", backlog.PriorityP1))
	require.NoError(t, err)

	next := q.NextTaskExcluding(map[string]bool{"RS-401": true})
	require.NotNil(t, next)
	assert.Equal(t, "RS-402-01", next.ID)
}

func TestPendingImpliesDependenciesComplete(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Decompose(testStory("RS-101", backlog.PriorityP1))
	require.NoError(t, err)
	require.NoError(t, q.UpdateStatus("RS-101-01", StatusComplete))
	require.NoError(t, q.UpdateStatus("RS-101-02", StatusComplete))

	for _, task := range q.All() {
		if task.Status != StatusPending {
			continue
		}
		for _, depID := range task.DependsOn {
			dep, exists := q.Get(depID)
			require.True(t, exists)
			assert.Equal(t, StatusComplete, dep.Status)
		}
	}
}

func TestStalled(t *testing.T) {
	q := newTestQueue(t)

	// Two tasks blocked on each other: nothing can ever unblock.
	q.Restore([]*Task{
		{ID: "A-01", StoryID: "A", Status: StatusBlocked, DependsOn: []string{"A-02"}},
		{ID: "A-02", StoryID: "A", Status: StatusBlocked, DependsOn: []string{"A-01"}},
	})

	stalled, blocked := q.Stalled()
	assert.True(t, stalled)
	assert.Equal(t, []string{"A-01", "A-02"}, blocked)
}

func TestNotStalledWhileInFlight(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Decompose(testStory("RS-101", backlog.PriorityP1))
	require.NoError(t, err)

	stalled, _ := q.Stalled()
	assert.False(t, stalled, "pending work means progress is possible")
}

func TestDetectCycles(t *testing.T) {
	q := newTestQueue(t)
	q.Restore([]*Task{
		{ID: "A-01", DependsOn: []string{"A-03"}},
		{ID: "A-02", DependsOn: []string{"A-01"}},
		{ID: "A-03", DependsOn: []string{"A-02"}},
	})

	cycles := q.DetectCycles()
	require.NotEmpty(t, cycles)
	assert.GreaterOrEqual(t, len(cycles[0]), 3)
}

func TestDetectCyclesCleanChain(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Decompose(testStory("RS-101", backlog.PriorityP1))
	require.NoError(t, err)
	assert.Empty(t, q.DetectCycles())
}
