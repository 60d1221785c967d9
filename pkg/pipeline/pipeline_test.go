package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRoutingValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateMissingRole(t *testing.T) {
	r := Routing{
		Phases: []string{PhaseResearch, PhaseWriting},
		Roles:  map[string]string{PhaseResearch: RoleResearch},
	}
	assert.Error(t, r.Validate())
}

func TestValidateDuplicatePhase(t *testing.T) {
	r := Routing{
		Phases: []string{PhaseResearch, PhaseResearch},
		Roles:  map[string]string{PhaseResearch: RoleResearch},
	}
	assert.Error(t, r.Validate())
}

func TestNextRoleChain(t *testing.T) {
	r := Default()

	next, ok := r.NextRole(RoleResearch)
	require.True(t, ok)
	assert.Equal(t, RoleWriter, next)

	next, ok = r.NextRole(RoleGraphics)
	require.True(t, ok)
	assert.Equal(t, RoleReview, next)
}

func TestNextRoleTerminal(t *testing.T) {
	r := Default()
	_, ok := r.NextRole(RoleReview)
	assert.False(t, ok, "final review role has no successor")
}

func TestNextRoleUnknown(t *testing.T) {
	_, ok := Default().NextRole("percussionist")
	assert.False(t, ok)
}

func TestRoleFor(t *testing.T) {
	role, ok := Default().RoleFor(PhaseEditing)
	require.True(t, ok)
	assert.Equal(t, RoleEditor, role)
}

func TestTerminalRole(t *testing.T) {
	assert.Equal(t, RoleReview, Default().TerminalRole())
}
