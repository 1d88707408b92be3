package metadata

// StatusTransition is a single allowed request status change. Roles, when
// set, restrict who may drive the transition (admin always may).
type StatusTransition struct {
	From  []string
	To    string
	Roles []string
}

// requestTransitions is the full lifecycle of a request. Review-phase
// changes (en_revision to aprobada/rechazada/devuelta) are driven by the
// workflow engine from step state; the rest are explicit operations.
var requestTransitions = []StatusTransition{
	{From: []string{StatusBorrador}, To: StatusEnRevision},
	{From: []string{StatusBorrador}, To: StatusEsperandoTercero},
	{From: []string{StatusBorrador, StatusEsperandoTercero, StatusDevuelta}, To: StatusAprobada}, // no-workflow bypass
	{From: []string{StatusEsperandoTercero}, To: StatusEnRevision},
	{From: []string{StatusDevuelta}, To: StatusEnRevision},
	{From: []string{StatusEnRevision}, To: StatusAprobada},
	{From: []string{StatusEnRevision}, To: StatusRechazada},
	{From: []string{StatusEnRevision}, To: StatusDevuelta},
	{From: []string{StatusAprobada}, To: StatusEnEjecucion, Roles: []string{"admin", "ejecutor"}},
	{From: []string{StatusEnEjecucion}, To: StatusEnEspera, Roles: []string{"admin", "ejecutor"}},
	{From: []string{StatusEnEspera}, To: StatusEnEjecucion, Roles: []string{"admin", "ejecutor"}},
	{From: []string{StatusEnEjecucion}, To: StatusCompletada, Roles: []string{"admin", "ejecutor"}},
	{From: []string{StatusBorrador, StatusEsperandoTercero, StatusEnRevision, StatusDevuelta,
		StatusAprobada, StatusEnEjecucion, StatusEnEspera}, To: StatusAnulada},
}

// FindStatusTransition returns the transition matching from and to, or nil
// if the status change is not allowed.
func FindStatusTransition(from, to string) *StatusTransition {
	for i := range requestTransitions {
		t := &requestTransitions[i]
		if t.To != to {
			continue
		}
		for _, f := range t.From {
			if f == from {
				return t
			}
		}
	}
	return nil
}

// Allowed reports whether the user may drive this transition.
func (t *StatusTransition) Allowed(user *UserContext) bool {
	if len(t.Roles) == 0 {
		return true
	}
	if user == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	for _, r := range t.Roles {
		if user.HasRole(r) {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transitions leave the status.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompletada, StatusRechazada, StatusAnulada:
		return true
	}
	return false
}
