package engine

import (
	"testing"

	"formflow-backend/internal/metadata"
)

func step(id string, order int, role, status string) *metadata.RequestWorkflowStep {
	return &metadata.RequestWorkflowStep{ID: id, StepOrder: order, RoleName: role, Status: status}
}

func reviewSteps() []*metadata.RequestWorkflowStep {
	return []*metadata.RequestWorkflowStep{
		step("s1", 1, "supervisor", metadata.StepPending),
		step("s2", 1, "contabilidad", metadata.StepPending),
		step("s3", 2, "gerencia", metadata.StepPending),
	}
}

func TestCurrentLevel(t *testing.T) {
	steps := reviewSteps()

	level, ok := CurrentLevel(steps)
	if !ok || level != 1 {
		t.Errorf("expected level 1, got %d (ok=%v)", level, ok)
	}

	steps[0].Status = metadata.StepApproved
	if level, ok = CurrentLevel(steps); !ok || level != 1 {
		t.Error("expected level 1 while a parallel step is still pending")
	}

	steps[1].Status = metadata.StepApproved
	if level, ok = CurrentLevel(steps); !ok || level != 2 {
		t.Errorf("expected level 2 after level 1 resolved, got %d", level)
	}

	steps[2].Status = metadata.StepApproved
	if _, ok = CurrentLevel(steps); ok {
		t.Error("expected no current level when all steps resolved")
	}
}

func TestActiveSteps_ParallelSet(t *testing.T) {
	steps := reviewSteps()

	active := ActiveSteps(steps)
	if len(active) != 2 {
		t.Fatalf("expected 2 active steps, got %d", len(active))
	}
	for _, s := range active {
		if s.StepOrder != 1 {
			t.Errorf("unexpected step %s at level %d", s.ID, s.StepOrder)
		}
	}

	steps[0].Status = metadata.StepApproved
	active = ActiveSteps(steps)
	if len(active) != 1 || active[0].ID != "s2" {
		t.Errorf("expected only s2 active, got %v", active)
	}
}

func TestFindActionableStep(t *testing.T) {
	steps := reviewSteps()

	supervisor := &metadata.UserContext{ID: "u1", Roles: []string{"supervisor"}}
	if s := FindActionableStep(steps, supervisor); s == nil || s.ID != "s1" {
		t.Error("expected supervisor to act on s1")
	}

	// gerencia's step is at level 2: not actionable yet
	gerente := &metadata.UserContext{ID: "u2", Roles: []string{"gerencia"}}
	if s := FindActionableStep(steps, gerente); s != nil {
		t.Errorf("expected no actionable step for gerencia at level 1, got %s", s.ID)
	}

	// Admins act on any active step
	admin := &metadata.UserContext{ID: "u3", Roles: []string{"admin"}}
	if s := FindActionableStep(steps, admin); s == nil {
		t.Error("expected admin to act on an active step")
	}

	if s := FindActionableStep(steps, &metadata.UserContext{ID: "u4", Roles: []string{"ventas"}}); s != nil {
		t.Error("expected no step for an unrelated role")
	}
	if s := FindActionableStep(steps, nil); s != nil {
		t.Error("expected nil user to have no actionable step")
	}
}

func TestLevelApproved(t *testing.T) {
	steps := reviewSteps()

	if LevelApproved(steps, 1) {
		t.Error("expected level 1 not approved with pending steps")
	}
	steps[0].Status = metadata.StepApproved
	if LevelApproved(steps, 1) {
		t.Error("expected level 1 not approved with one step pending")
	}
	steps[1].Status = metadata.StepApproved
	if !LevelApproved(steps, 1) {
		t.Error("expected level 1 approved")
	}
}

func TestHasHigherLevel(t *testing.T) {
	steps := reviewSteps()
	if !HasHigherLevel(steps, 1) {
		t.Error("expected a level above 1")
	}
	if HasHigherLevel(steps, 2) {
		t.Error("expected no level above 2")
	}
}
