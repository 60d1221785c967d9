package webapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/pkg/backlog"
	"copydesk/pkg/escalation"
	"copydesk/pkg/monitor"
	"copydesk/pkg/pipeline"
	"copydesk/pkg/queue"
)

func newTestServer(t *testing.T) (*Server, *queue.Queue, *escalation.Manager) {
	t.Helper()
	routing := pipeline.Default()
	q, err := queue.NewQueue(routing, nil)
	require.NoError(t, err)
	m, err := monitor.NewMonitor(routing, nil)
	require.NoError(t, err)
	esc := escalation.NewManager(nil)
	return NewServer(q, m, esc), q, esc
}

func seedStory(t *testing.T, q *queue.Queue) {
	t.Helper()
	_, err := q.Decompose(&backlog.Story{
		ID:        "ART-001",
		Title:     "Election night liveblog recap",
		Narrative: "As a reader I want a recap of the liveblog highlights.",
		AcceptanceCriteria: []string{
			"[ ] covers all declared races",
			"[ ] links each claim to a liveblog entry",
			"[ ] published within house style",
		},
		QualityRequirements: map[string]string{"style": "house style guide v4"},
		Priority:            backlog.PriorityP1,
		Points:              3,
	})
	require.NoError(t, err)
}

func doGet(t *testing.T, server *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, body := doGet(t, server, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestTasksEndpoint(t *testing.T) {
	server, q, _ := newTestServer(t)
	seedStory(t, q)

	_, body := doGet(t, server, "/api/tasks")
	assert.EqualValues(t, len(pipeline.Default().Phases), body["count"])

	_, body = doGet(t, server, "/api/tasks?status=pending")
	assert.EqualValues(t, 1, body["count"])

	_, body = doGet(t, server, "/api/tasks?status=failed")
	assert.EqualValues(t, 0, body["count"])
}

func TestAgentsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	_, body := doGet(t, server, "/api/agents")
	agents, ok := body["agents"].([]any)
	require.True(t, ok)
	assert.Len(t, agents, len(pipeline.Default().Phases))
}

func TestEscalationsEndpoint(t *testing.T) {
	server, _, esc := newTestServer(t)

	_, body := doGet(t, server, "/api/escalations")
	assert.EqualValues(t, 0, body["count"])

	_, err := esc.Create("ART-001", escalation.TypeGateAmbiguous, "borderline deliverable", nil, "")
	require.NoError(t, err)

	_, body = doGet(t, server, "/api/escalations")
	assert.EqualValues(t, 1, body["count"])
}

func TestMethodNotAllowed(t *testing.T) {
	server, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
