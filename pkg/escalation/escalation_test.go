package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignsSequentialIDs(t *testing.T) {
	m := NewManager(nil)

	first, err := m.Create("RS-101", TypeGateAmbiguous, "Is one failed criterion acceptable?", nil, "approve with note")
	require.NoError(t, err)
	second, err := m.Create("RS-102", TypeGateAmbiguous, "Missing chart reference?", nil, "")
	require.NoError(t, err)

	assert.Equal(t, "ESC-1", first)
	assert.Equal(t, "ESC-2", second)
}

func TestUnresolvedFiltersResolved(t *testing.T) {
	m := NewManager(nil)

	_, err := m.Create("RS-101", TypeGateAmbiguous, "q1", nil, "")
	require.NoError(t, err)
	_, err = m.Create("RS-102", TypeGateAmbiguous, "q2", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.Resolve("ESC-1", "approved after review"))

	open := m.Unresolved()
	require.Len(t, open, 1)
	assert.Equal(t, "ESC-2", open[0].ID)
}

func TestResolveNotFound(t *testing.T) {
	m := NewManager(nil)
	err := m.Resolve("ESC-99", "n/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveStampsTimeAndNotes(t *testing.T) {
	m := NewManager(nil)

	id, err := m.Create("RS-101", TypeGateAmbiguous, "q", nil, "")
	require.NoError(t, err)
	require.NoError(t, m.Resolve(id, "editor confirmed sources"))

	esc, ok := m.Get(id)
	require.True(t, ok)
	assert.True(t, esc.Resolved)
	require.NotNil(t, esc.ResolvedAt)
	assert.Equal(t, "editor confirmed sources", esc.ResolutionNotes)
}

func TestHeldStories(t *testing.T) {
	m := NewManager(nil)

	_, err := m.Create("RS-101", TypeGateAmbiguous, "q1", nil, "")
	require.NoError(t, err)
	id, err := m.Create("RS-102", TypeGateAmbiguous, "q2", nil, "")
	require.NoError(t, err)
	require.NoError(t, m.Resolve(id, "ok"))

	held := m.HeldStories()
	assert.True(t, held["RS-101"])
	assert.False(t, held["RS-102"], "resolved escalation releases the story")
}

func TestRestoreAdvancesSequence(t *testing.T) {
	m := NewManager(nil)
	m.Restore([]*Escalation{
		{ID: "ESC-4", StoryID: "RS-101"},
		{ID: "ESC-2", StoryID: "RS-102", Resolved: true},
	})

	id, err := m.Create("RS-103", TypeGateAmbiguous, "q", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "ESC-5", id)
}

func TestUnresolvedOrderedByCreation(t *testing.T) {
	m := NewManager(nil)
	m.Restore([]*Escalation{
		{ID: "ESC-10", StoryID: "RS-110"},
		{ID: "ESC-2", StoryID: "RS-102"},
	})

	open := m.Unresolved()
	require.Len(t, open, 2)
	assert.Equal(t, "ESC-2", open[0].ID)
	assert.Equal(t, "ESC-10", open[1].ID)
}
