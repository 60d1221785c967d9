package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/pkg/backlog"
	"copydesk/pkg/config"
	"copydesk/pkg/monitor"
	"copydesk/pkg/pipeline"
	"copydesk/pkg/queue"
)

// seedAssignedTask creates a fresh project with one story decomposed and its
// research task assigned, the moment a worker would pick it up.
func seedAssignedTask(t *testing.T) (string, string) {
	t.Helper()
	projectDir := t.TempDir()
	t.Cleanup(config.Reset)

	cfg, db, ops, err := openProject(projectDir)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	story := &backlog.Story{
		ID:        "ART-001",
		Narrative: "As a reader I want the council vote explained.",
		AcceptanceCriteria: []string{
			"[ ] quotes both council factions",
			"[ ] links the full vote record",
		},
		QualityRequirements: map[string]string{"style": "house style guide v4"},
		Priority:            backlog.PriorityP1,
		Points:              3,
	}
	require.NoError(t, ops.UpsertStory(story))

	q, err := queue.NewQueue(cfg.Pipeline, ops)
	require.NoError(t, err)
	tasks, err := q.Decompose(story)
	require.NoError(t, err)
	_, err = q.Assign(tasks[0].ID)
	require.NoError(t, err)

	return projectDir, tasks[0].ID
}

func TestReportInProgressTransitionsTask(t *testing.T) {
	projectDir, taskID := seedAssignedTask(t)

	err := cmdReport([]string{
		"-role", pipeline.RoleResearch,
		"-task", taskID,
		"-state", "in_progress",
		"-project", projectDir,
	})
	require.NoError(t, err)

	_, db, ops, err := openProject(projectDir)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tasks, err := ops.LoadTasks()
	require.NoError(t, err)
	var found *queue.Task
	for _, task := range tasks {
		if task.ID == taskID {
			found = task
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, queue.StatusInProgress, found.Status)

	statuses, err := ops.LoadAgentStatus()
	require.NoError(t, err)
	var reported *monitor.AgentStatus
	for _, status := range statuses {
		if status.Role == pipeline.RoleResearch {
			reported = status
		}
	}
	require.NotNil(t, reported)
	assert.Equal(t, monitor.StateInProgress, reported.State)
	assert.Equal(t, taskID, reported.CurrentTaskID)
	assert.False(t, reported.Processed)
}

func TestReportInProgressUnknownTask(t *testing.T) {
	projectDir, _ := seedAssignedTask(t)

	err := cmdReport([]string{
		"-role", pipeline.RoleResearch,
		"-task", "GHOST-01",
		"-state", "in_progress",
		"-project", projectDir,
	})
	assert.Error(t, err)
}

func TestReportRejectsUnknownRole(t *testing.T) {
	projectDir, taskID := seedAssignedTask(t)

	err := cmdReport([]string{
		"-role", "cartoonist_agent",
		"-task", taskID,
		"-state", "in_progress",
		"-project", projectDir,
	})
	assert.Error(t, err)
}
