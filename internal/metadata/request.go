package metadata

// Request statuses. Values are stored as-is; they come from the original
// deployment and are part of the data contract.
const (
	StatusBorrador         = "borrador"
	StatusEsperandoTercero = "esperando_tercero"
	StatusEnRevision       = "en_revision"
	StatusDevuelta         = "devuelta"
	StatusAprobada         = "aprobada"
	StatusEnEjecucion      = "en_ejecucion"
	StatusEnEspera         = "en_espera"
	StatusCompletada       = "completada"
	StatusRechazada        = "rechazada"
	StatusAnulada          = "anulada"
)

// Per-step statuses.
const (
	StepPending  = "pending"
	StepApproved = "approved"
	StepRejected = "rejected"
	StepSkipped  = "skipped"
)

// Request is a user submission of a templated form.
type Request struct {
	ID            string         `json:"id"`
	RequestNumber int64          `json:"request_number"`
	Title         string         `json:"title"`
	Status        string         `json:"status"`
	Data          map[string]any `json:"data_json"`
	TemplateID    string         `json:"template_id"`
	CreatedBy     string         `json:"created_by"`
	GroupID       string         `json:"group_id,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
}

// RequestWorkflowStep is one approval slot instantiated for a request.
// Steps are cloned once from the workflow template at submission and are
// never reordered; a "return" transition resets every step to pending.
type RequestWorkflowStep struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
	StepOrder  int    `json:"step_order"`
	RoleName   string `json:"role_name"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// RequestStatusHistory is one append-only audit row. Every status transition
// writes exactly one entry; rows are never updated or deleted.
type RequestStatusHistory struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedBy  string `json:"changed_by"`
	Comment    string `json:"comment,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}
