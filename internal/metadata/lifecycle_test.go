package metadata

import "testing"

func TestFindStatusTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusBorrador, StatusEnRevision},
		{StatusBorrador, StatusEsperandoTercero},
		{StatusBorrador, StatusAprobada},
		{StatusEsperandoTercero, StatusEnRevision},
		{StatusDevuelta, StatusEnRevision},
		{StatusEnRevision, StatusAprobada},
		{StatusEnRevision, StatusRechazada},
		{StatusEnRevision, StatusDevuelta},
		{StatusAprobada, StatusEnEjecucion},
		{StatusEnEjecucion, StatusEnEspera},
		{StatusEnEspera, StatusEnEjecucion},
		{StatusEnEjecucion, StatusCompletada},
		{StatusBorrador, StatusAnulada},
		{StatusEnEjecucion, StatusAnulada},
	}
	for _, pair := range allowed {
		if FindStatusTransition(pair[0], pair[1]) == nil {
			t.Errorf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]string{
		{StatusBorrador, StatusCompletada},
		{StatusRechazada, StatusEnRevision},
		{StatusCompletada, StatusAnulada},
		{StatusAnulada, StatusBorrador},
		{StatusAprobada, StatusEnRevision},
	}
	for _, pair := range denied {
		if FindStatusTransition(pair[0], pair[1]) != nil {
			t.Errorf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}

func TestStatusTransitionAllowed(t *testing.T) {
	tr := FindStatusTransition(StatusAprobada, StatusEnEjecucion)
	if tr == nil {
		t.Fatal("missing execution transition")
	}

	if tr.Allowed(&UserContext{ID: "u1", Roles: []string{"ventas"}}) {
		t.Error("expected unrelated role to be rejected")
	}
	if !tr.Allowed(&UserContext{ID: "u2", Roles: []string{"ejecutor"}}) {
		t.Error("expected ejecutor to be allowed")
	}
	if !tr.Allowed(&UserContext{ID: "u3", Roles: []string{"admin"}}) {
		t.Error("expected admin to be allowed")
	}
	if tr.Allowed(nil) {
		t.Error("expected nil user to be rejected on a role-gated transition")
	}

	open := FindStatusTransition(StatusBorrador, StatusEnRevision)
	if !open.Allowed(nil) {
		t.Error("expected ungated transition to allow anyone")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{StatusCompletada, StatusRechazada, StatusAnulada} {
		if !IsTerminalStatus(s) {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []string{StatusBorrador, StatusEnRevision, StatusAprobada, StatusEnEspera} {
		if IsTerminalStatus(s) {
			t.Errorf("expected %s not terminal", s)
		}
	}
}
