package workflow

// PhaseStatus is the approval status of a phase.
type PhaseStatus string

const (
	// PhaseStatusPending means the phase has not been approved.
	PhaseStatusPending PhaseStatus = "pending"
	// PhaseStatusApproved means the user (or the entry transition) passed the gate.
	PhaseStatusApproved PhaseStatus = "approved"
	// PhaseStatusRejected means the phase ended without approval.
	PhaseStatusRejected PhaseStatus = "rejected"
)

// String returns the string representation of the status.
func (s PhaseStatus) String() string {
	return string(s)
}

// CanTransitionTo returns true if the status can transition to target.
// Approval is final until the ledger is reset.
func (s PhaseStatus) CanTransitionTo(target PhaseStatus) bool {
	switch s {
	case PhaseStatusPending:
		return target == PhaseStatusApproved || target == PhaseStatusRejected
	case PhaseStatusRejected:
		return target == PhaseStatusApproved
	default:
		return false
	}
}

// Ledger records the status of every phase. It is a value type; copies are
// independent.
type Ledger struct {
	statuses [PhaseCount]PhaseStatus
}

// NewLedger returns a ledger with every phase pending.
func NewLedger() Ledger {
	var l Ledger
	for i := range l.statuses {
		l.statuses[i] = PhaseStatusPending
	}
	return l
}

// Status returns the status of p. Invalid phases report pending.
func (l Ledger) Status(p Phase) PhaseStatus {
	if !p.IsValid() || l.statuses[p] == "" {
		return PhaseStatusPending
	}
	return l.statuses[p]
}

// Approved returns true if p is approved.
func (l Ledger) Approved(p Phase) bool {
	return l.Status(p) == PhaseStatusApproved
}

// Approve marks p approved. It never moves a phase backward and reports
// whether the status changed.
func (l *Ledger) Approve(p Phase) bool {
	if !p.IsValid() || !l.Status(p).CanTransitionTo(PhaseStatusApproved) {
		return false
	}
	l.statuses[p] = PhaseStatusApproved
	return true
}

// Reject marks a pending p rejected and reports whether the status changed.
func (l *Ledger) Reject(p Phase) bool {
	if !p.IsValid() || !l.Status(p).CanTransitionTo(PhaseStatusRejected) {
		return false
	}
	l.statuses[p] = PhaseStatusRejected
	return true
}

// CanGenerate returns true when phase p's generation stage may run: every
// earlier phase is approved.
func (l Ledger) CanGenerate(p Phase) bool {
	if !p.IsValid() || p == PhaseConfiguration {
		return false
	}
	for q := PhaseConfiguration; q < p; q++ {
		if !l.Approved(q) {
			return false
		}
	}
	return true
}

// Entries returns the statuses in phase order.
func (l Ledger) Entries() []PhaseStatus {
	out := make([]PhaseStatus, PhaseCount)
	for i := range out {
		out[i] = l.Status(Phase(i))
	}
	return out
}
