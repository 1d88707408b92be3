package engine

import (
	"formflow-backend/internal/metadata"
)

// Pure step/level resolution over a request's workflow steps. Steps sharing
// a step_order form a parallel level; every step of the current level must
// be approved before the next level becomes actionable.

// CurrentLevel returns the lowest step_order among pending steps. ok is
// false when no step is pending (workflow fully resolved, or the request is
// not in review).
func CurrentLevel(steps []*metadata.RequestWorkflowStep) (level int, ok bool) {
	for _, s := range steps {
		if s.Status != metadata.StepPending {
			continue
		}
		if !ok || s.StepOrder < level {
			level = s.StepOrder
			ok = true
		}
	}
	return level, ok
}

// ActiveSteps returns the active parallel set: all pending steps at the
// current level.
func ActiveSteps(steps []*metadata.RequestWorkflowStep) []*metadata.RequestWorkflowStep {
	level, ok := CurrentLevel(steps)
	if !ok {
		return nil
	}
	var active []*metadata.RequestWorkflowStep
	for _, s := range steps {
		if s.Status == metadata.StepPending && s.StepOrder == level {
			active = append(active, s)
		}
	}
	return active
}

// FindActionableStep returns the step the user may act on: a member of the
// active parallel set whose role the user holds. Admins may act on any
// active step.
func FindActionableStep(steps []*metadata.RequestWorkflowStep, user *metadata.UserContext) *metadata.RequestWorkflowStep {
	if user == nil {
		return nil
	}
	for _, s := range ActiveSteps(steps) {
		if user.HasRole(s.RoleName) || user.IsAdmin() {
			return s
		}
	}
	return nil
}

// LevelApproved reports whether every step at the given level is approved.
func LevelApproved(steps []*metadata.RequestWorkflowStep, level int) bool {
	for _, s := range steps {
		if s.StepOrder == level && s.Status != metadata.StepApproved {
			return false
		}
	}
	return true
}

// HasHigherLevel reports whether any step sits above the given level.
func HasHigherLevel(steps []*metadata.RequestWorkflowStep, level int) bool {
	for _, s := range steps {
		if s.StepOrder > level {
			return true
		}
	}
	return false
}
