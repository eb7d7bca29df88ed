package domain

// =============================================================================
// Lifecycle Observer
// =============================================================================

// Observer receives typed lifecycle notifications from the coordinator,
// pipeline, and rollback engine. Implementations must not block; slow
// consumers should buffer internally.
type Observer interface {
	CoordinationStarted(cc *CoordinationContext)
	CoordinationCompleted(result *CoordinationResult)
	BatchStarted(coordinationID string, index, size int)
	BatchCompleted(coordinationID string, result BatchResult)
	UnitPhaseStarted(unitID string, phase Phase)
	UnitCompleted(result UnitResult)
	UnitFailed(result UnitResult)
	RollbackAttemptFailed(unitID string, attempt int, err error)
	RollbackFinalized(result *RollbackResult)
}

// NopObserver is an Observer that ignores every notification. Embed it
// to implement only the notifications you care about.
type NopObserver struct{}

func (NopObserver) CoordinationStarted(*CoordinationContext)  {}
func (NopObserver) CoordinationCompleted(*CoordinationResult) {}
func (NopObserver) BatchStarted(string, int, int)             {}
func (NopObserver) BatchCompleted(string, BatchResult)        {}
func (NopObserver) UnitPhaseStarted(string, Phase)            {}
func (NopObserver) UnitCompleted(UnitResult)                  {}
func (NopObserver) UnitFailed(UnitResult)                     {}
func (NopObserver) RollbackAttemptFailed(string, int, error)  {}
func (NopObserver) RollbackFinalized(*RollbackResult)         {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) CoordinationStarted(cc *CoordinationContext) {
	for _, o := range m {
		o.CoordinationStarted(cc)
	}
}

func (m MultiObserver) CoordinationCompleted(r *CoordinationResult) {
	for _, o := range m {
		o.CoordinationCompleted(r)
	}
}

func (m MultiObserver) BatchStarted(id string, index, size int) {
	for _, o := range m {
		o.BatchStarted(id, index, size)
	}
}

func (m MultiObserver) BatchCompleted(id string, r BatchResult) {
	for _, o := range m {
		o.BatchCompleted(id, r)
	}
}

func (m MultiObserver) UnitPhaseStarted(unitID string, phase Phase) {
	for _, o := range m {
		o.UnitPhaseStarted(unitID, phase)
	}
}

func (m MultiObserver) UnitCompleted(r UnitResult) {
	for _, o := range m {
		o.UnitCompleted(r)
	}
}

func (m MultiObserver) UnitFailed(r UnitResult) {
	for _, o := range m {
		o.UnitFailed(r)
	}
}

func (m MultiObserver) RollbackAttemptFailed(unitID string, attempt int, err error) {
	for _, o := range m {
		o.RollbackAttemptFailed(unitID, attempt, err)
	}
}

func (m MultiObserver) RollbackFinalized(r *RollbackResult) {
	for _, o := range m {
		o.RollbackFinalized(r)
	}
}

// =============================================================================
// Audit Events
// =============================================================================

// AuditStatus classifies an audit event.
type AuditStatus string

const (
	AuditStarted   AuditStatus = "started"
	AuditSucceeded AuditStatus = "succeeded"
	AuditFailed    AuditStatus = "failed"
)

// AuditEvent is one deployment lifecycle record handed to the Auditor.
type AuditEvent struct {
	AuditID      string            `json:"audit_id"`
	DeploymentID string            `json:"deployment_id"`
	UnitID       string            `json:"unit_id"`
	Status       AuditStatus       `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
