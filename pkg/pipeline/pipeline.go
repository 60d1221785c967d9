// Package pipeline defines the fixed content pipeline: the ordered phase
// list and the phase-to-role table. Routing is plain data, validated once at
// startup, so a config typo fails fast instead of stranding tasks mid-sprint.
package pipeline

import "fmt"

// Canonical phase names.
const (
	PhaseResearch    = "research"
	PhaseWriting     = "writing"
	PhaseEditing     = "editing"
	PhaseGraphics    = "graphics"
	PhaseFinalReview = "final_review"
)

// Canonical worker role names.
const (
	RoleResearch = "research_agent"
	RoleWriter   = "writer_agent"
	RoleEditor   = "editor_agent"
	RoleGraphics = "graphics_agent"
	RoleReview   = "review_agent"
)

// Routing holds the ordered phase list and the phase-to-role assignment
// table. The role chain is derived from phase order: the role of phase i
// hands off to the role of phase i+1, and the last phase's role is terminal.
type Routing struct {
	Phases []string          `json:"phases"`
	Roles  map[string]string `json:"roles"`
}

// Default returns the built-in five-phase content pipeline.
func Default() Routing {
	return Routing{
		Phases: []string{PhaseResearch, PhaseWriting, PhaseEditing, PhaseGraphics, PhaseFinalReview},
		Roles: map[string]string{
			PhaseResearch:    RoleResearch,
			PhaseWriting:     RoleWriter,
			PhaseEditing:     RoleEditor,
			PhaseGraphics:    RoleGraphics,
			PhaseFinalReview: RoleReview,
		},
	}
}

// Validate checks the routing table for completeness: at least one phase, no
// duplicate phases, and a non-empty role for every phase.
func (r Routing) Validate() error {
	if len(r.Phases) == 0 {
		return fmt.Errorf("routing has no phases")
	}

	seen := make(map[string]bool, len(r.Phases))
	for _, phase := range r.Phases {
		if seen[phase] {
			return fmt.Errorf("duplicate phase %q in routing", phase)
		}
		seen[phase] = true

		if r.Roles[phase] == "" {
			return fmt.Errorf("phase %q has no assigned role", phase)
		}
	}

	return nil
}

// RoleFor returns the worker role assigned to a phase.
func (r Routing) RoleFor(phase string) (string, bool) {
	role, ok := r.Roles[phase]
	return role, ok
}

// NextRole returns the role that runs after the given role, or ok=false when
// the role is terminal (pipeline complete) or unknown.
func (r Routing) NextRole(role string) (string, bool) {
	for i, phase := range r.Phases {
		if r.Roles[phase] != role {
			continue
		}
		if i+1 >= len(r.Phases) {
			return "", false // terminal role
		}
		return r.Roles[r.Phases[i+1]], true
	}
	return "", false
}

// TerminalRole returns the role of the last pipeline phase.
func (r Routing) TerminalRole() string {
	if len(r.Phases) == 0 {
		return ""
	}
	return r.Roles[r.Phases[len(r.Phases)-1]]
}

// AllRoles returns the roles in pipeline order.
func (r Routing) AllRoles() []string {
	roles := make([]string, 0, len(r.Phases))
	for _, phase := range r.Phases {
		roles = append(roles, r.Roles[phase])
	}
	return roles
}
