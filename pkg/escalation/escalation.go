// Package escalation owns the durable log of open questions raised when a
// gate decision is ambiguous. Escalations are created by the orchestrator
// and resolved only by an external human-review action.
package escalation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"copydesk/pkg/logx"
)

// ErrNotFound is returned when an operation references an unknown
// escalation id.
var ErrNotFound = errors.New("escalation not found")

// Common escalation type categories. The field is free-form; these are the
// ones the orchestrator itself raises.
const (
	TypeGateAmbiguous = "gate_ambiguous"
	TypeAgentBlocked  = "agent_blocked"
)

// Escalation is one durably logged open question.
type Escalation struct {
	ID              string         `json:"id"` // ESC-N, monotonically increasing
	StoryID         string         `json:"story_id"`
	Type            string         `json:"type"`
	Question        string         `json:"question"`
	Context         map[string]any `json:"context,omitempty"`
	Recommendation  string         `json:"recommendation,omitempty"`
	Resolved        bool           `json:"resolved"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
}

// Store persists individual escalation mutations.
type Store interface {
	SaveEscalation(esc *Escalation) error
}

// Manager owns the escalation log.
type Manager struct {
	escalations map[string]*Escalation
	nextSeq     int
	store       Store // nil disables persistence (unit tests)
	logger      *logx.Logger
}

// NewManager creates an empty escalation manager.
func NewManager(store Store) *Manager {
	return &Manager{
		escalations: make(map[string]*Escalation),
		nextSeq:     1,
		store:       store,
		logger:      logx.NewLogger("escalation"),
	}
}

// Restore loads previously persisted escalations and advances the id
// sequence past the highest one seen.
func (m *Manager) Restore(escalations []*Escalation) {
	for _, esc := range escalations {
		m.escalations[esc.ID] = esc
		if seq, ok := parseSeq(esc.ID); ok && seq >= m.nextSeq {
			m.nextSeq = seq + 1
		}
	}
}

func parseSeq(id string) (int, bool) {
	rest, found := strings.CutPrefix(id, "ESC-")
	if !found {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Create appends a new unresolved escalation and returns its id.
func (m *Manager) Create(storyID, escType, question string, context map[string]any, recommendation string) (string, error) {
	esc := &Escalation{
		ID:             fmt.Sprintf("ESC-%d", m.nextSeq),
		StoryID:        storyID,
		Type:           escType,
		Question:       question,
		Context:        context,
		Recommendation: recommendation,
		CreatedAt:      time.Now().UTC(),
	}
	m.nextSeq++
	m.escalations[esc.ID] = esc

	if err := m.persist(esc); err != nil {
		return "", err
	}

	m.logger.Info("created escalation %s for story %s (%s)", esc.ID, storyID, escType)
	return esc.ID, nil
}

// Unresolved returns all open escalations, oldest first.
func (m *Manager) Unresolved() []*Escalation {
	var open []*Escalation
	for _, esc := range m.escalations {
		if !esc.Resolved {
			open = append(open, esc)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		si, _ := parseSeq(open[i].ID)
		sj, _ := parseSeq(open[j].ID)
		return si < sj
	})
	return open
}

// HeldStories returns the set of story ids with at least one unresolved
// escalation. The orchestrator skips dispatching work for these stories.
func (m *Manager) HeldStories() map[string]bool {
	held := make(map[string]bool)
	for _, esc := range m.escalations {
		if !esc.Resolved {
			held[esc.StoryID] = true
		}
	}
	return held
}

// Resolve marks an escalation resolved, stamping the resolution time and
// notes. Returns ErrNotFound for an unknown id; no partial mutation occurs.
func (m *Manager) Resolve(id, notes string) error {
	esc, exists := m.escalations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := time.Now().UTC()
	esc.Resolved = true
	esc.ResolvedAt = &now
	esc.ResolutionNotes = notes
	if err := m.persist(esc); err != nil {
		return err
	}

	m.logger.Info("resolved escalation %s", id)
	return nil
}

// All returns every escalation, resolved or not, oldest first.
func (m *Manager) All() []*Escalation {
	all := make([]*Escalation, 0, len(m.escalations))
	for _, esc := range m.escalations {
		all = append(all, esc)
	}
	sort.Slice(all, func(i, j int) bool {
		si, _ := parseSeq(all[i].ID)
		sj, _ := parseSeq(all[j].ID)
		return si < sj
	})
	return all
}

// Get returns an escalation by id.
func (m *Manager) Get(id string) (*Escalation, bool) {
	esc, exists := m.escalations[id]
	return esc, exists
}

func (m *Manager) persist(esc *Escalation) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveEscalation(esc); err != nil {
		return fmt.Errorf("failed to persist escalation %s: %w", esc.ID, err)
	}
	return nil
}
