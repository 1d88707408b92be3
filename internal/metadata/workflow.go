package metadata

import "sort"

// WorkflowStep is one approval slot in a workflow template. Steps sharing a
// step_order form a parallel level: all of them must approve before the next
// level becomes actionable.
type WorkflowStep struct {
	StepOrder int    `json:"step_order"`
	RoleName  string `json:"role_name"`
	Label     string `json:"label"`
}

// WorkflowTemplate is the admin-configured approval chain cloned into
// per-request steps at submission time.
type WorkflowTemplate struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Steps  []WorkflowStep `json:"steps"`
	Active bool           `json:"active"`
}

// SortedSteps returns the steps ordered by step_order.
func (w *WorkflowTemplate) SortedSteps() []WorkflowStep {
	steps := make([]WorkflowStep, len(w.Steps))
	copy(steps, w.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
	return steps
}
