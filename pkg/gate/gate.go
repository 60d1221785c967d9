// Package gate implements the readiness and done checks plus the three-way
// gate decision applied to completed deliverables. Everything here is a pure
// function: same input, same verdict, no side effects.
package gate

import (
	"strings"

	"copydesk/pkg/backlog"
)

// Decision is the verdict computed from a deliverable's validation issues.
type Decision string

const (
	DecisionApprove  Decision = "APPROVE"
	DecisionEscalate Decision = "ESCALATE"
	DecisionReject   Decision = "REJECT"
)

// Escalation band: one or two issues is a borderline call worth a human
// glance; three or more means the deliverable is unfit and burns no review
// cycle.
const maxEscalateIssues = 2

// Required story fields, reported by name when absent.
const (
	FieldNarrative           = "narrative"
	FieldAcceptanceCriteria  = "acceptance_criteria"
	FieldQualityRequirements = "quality_requirements"
	FieldStoryPoints         = "story_points"
)

// ValidateReadiness checks a story against the definition of ready. It
// returns pass=true iff no required field is absent or empty; the second
// return lists every missing field by name.
func ValidateReadiness(story *backlog.Story) (bool, []string) {
	var missing []string

	if strings.TrimSpace(story.Narrative) == "" {
		missing = append(missing, FieldNarrative)
	}
	if len(story.AcceptanceCriteria) == 0 {
		missing = append(missing, FieldAcceptanceCriteria)
	}
	if len(story.QualityRequirements) == 0 {
		missing = append(missing, FieldQualityRequirements)
	}
	if story.Points == 0 {
		missing = append(missing, FieldStoryPoints)
	}

	return len(missing) == 0, missing
}

// ValidateDone checks a deliverable against the definition of done. Issues
// accumulate independently; pass=true iff the issue list is empty.
func ValidateDone(d *Deliverable) (bool, []string) {
	var issues []string

	if !d.SelfValidation.Passed {
		issues = append(issues, "self-validation failed")
	}
	if len(d.Output) == 0 {
		issues = append(issues, "missing output")
	}
	for _, result := range d.CriteriaResults {
		if !result.Passed {
			issues = append(issues, "criterion not met: "+result.Criterion)
		}
	}

	return len(issues) == 0, issues
}

// Decide maps an issue count onto the coarse gate decision. The content of
// the issues never matters, only how many there are.
func Decide(issues []string) Decision {
	switch {
	case len(issues) == 0:
		return DecisionApprove
	case len(issues) <= maxEscalateIssues:
		return DecisionEscalate
	default:
		return DecisionReject
	}
}
