// Package backlog defines the story input model and the YAML backlog loader.
package backlog

import (
	"fmt"
	"strings"
	"time"
)

// Priority is a backlog priority label, P0 highest through P3 lowest.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Rank returns the numeric rank of a priority (0 for P0 through 3 for P3).
// Unknown labels rank below P3 so malformed input never jumps the queue.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	default:
		return 4
	}
}

// Valid reports whether the label is one of P0..P3.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// Fibonacci-style point scale used for story estimates.
var validPoints = map[int]bool{1: true, 2: true, 3: true, 5: true, 8: true, 13: true}

// ValidPoints reports whether points is on the estimation scale.
func ValidPoints(points int) bool {
	return validPoints[points]
}

// Acceptance criteria bounds per story.
const (
	MinCriteria = 3
	MaxCriteria = 7
)

// Criterion state prefixes. Every acceptance criterion string carries one.
const (
	CriterionPassed = "[x]"
	CriterionOpen   = "[ ]"
)

// Story is an immutable backlog item. It is created once by the authoring
// process and never mutated by the coordinator.
type Story struct {
	ID                  string            `json:"id" yaml:"id"`
	Title               string            `json:"title" yaml:"title"`
	Narrative           string            `json:"narrative" yaml:"narrative"`
	AcceptanceCriteria  []string          `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	QualityRequirements map[string]string `json:"quality_requirements" yaml:"quality_requirements"`
	Priority            Priority          `json:"priority" yaml:"priority"`
	Points              int               `json:"story_points" yaml:"story_points"`
	CreatedAt           time.Time         `json:"created_at" yaml:"created_at,omitempty"`
}

// Validate checks structural constraints that the authoring process must
// satisfy: id present, 3-7 prefixed acceptance criteria, a known priority
// label, and a point estimate on the scale.
func (s *Story) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("story missing id")
	}
	if n := len(s.AcceptanceCriteria); n < MinCriteria || n > MaxCriteria {
		return fmt.Errorf("story %s: acceptance criteria count %d outside %d-%d", s.ID, n, MinCriteria, MaxCriteria)
	}
	for i, criterion := range s.AcceptanceCriteria {
		if !strings.HasPrefix(criterion, CriterionPassed) && !strings.HasPrefix(criterion, CriterionOpen) {
			return fmt.Errorf("story %s: criterion %d missing %q or %q prefix", s.ID, i+1, CriterionPassed, CriterionOpen)
		}
	}
	if !s.Priority.Valid() {
		return fmt.Errorf("story %s: unknown priority label %q", s.ID, s.Priority)
	}
	if !ValidPoints(s.Points) {
		return fmt.Errorf("story %s: point estimate %d not on scale {1,2,3,5,8,13}", s.ID, s.Points)
	}
	return nil
}
