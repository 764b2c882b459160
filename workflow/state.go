// Package workflow implements the phase-gated workflow controller: the state
// machine that owns one challenge session, walks it through the gated
// phases, tracks approvals in a ledger, and recovers from failures and
// resets.
package workflow

// Phase is one gated step of the workflow.
type Phase int

// Phases in order.
const (
	PhaseConfiguration Phase = iota
	PhaseProblem
	PhaseSchema
	PhasePreview
	PhaseGeneration
	PhaseDelivery
)

// PhaseCount is the number of phases.
const PhaseCount = int(PhaseDelivery) + 1

var phaseNames = [PhaseCount]string{
	"configuration", "problem", "schema", "preview", "generation", "delivery",
}

// String returns the phase name.
func (p Phase) String() string {
	if !p.IsValid() {
		return "unknown"
	}
	return phaseNames[p]
}

// IsValid returns true for phases 0-5.
func (p Phase) IsValid() bool {
	return p >= PhaseConfiguration && p <= PhaseDelivery
}

// Gated returns true for phases whose draft needs explicit approval.
func (p Phase) Gated() bool {
	return p >= PhaseProblem && p <= PhasePreview
}

// State is the controller's position in the workflow.
type State string

const (
	// StateIdle holds configuration only; no session exists.
	StateIdle State = "idle"
	// StateAwaitingResearch is waiting on create-research.
	StateAwaitingResearch State = "awaiting_research"
	// StateAwaitingProblem is waiting on generate-problem.
	StateAwaitingProblem State = "awaiting_problem"
	// StateReviewProblem holds a problem statement pending approval.
	StateReviewProblem State = "ready_to_approve_problem"
	// StateAwaitingSchema is waiting on generate-schema.
	StateAwaitingSchema State = "awaiting_schema"
	// StateReviewSchema holds a schema pending approval.
	StateReviewSchema State = "ready_to_approve_schema"
	// StateAwaitingPreview is waiting on generate-preview.
	StateAwaitingPreview State = "awaiting_preview"
	// StateReviewPreview holds a preview pending approval.
	StateReviewPreview State = "ready_to_approve_preview"
	// StateGenerating is polling the full generation job.
	StateGenerating State = "generating"
	// StateReadyForDelivery is the terminal success state.
	StateReadyForDelivery State = "ready_for_delivery"
	// StateFailed is the terminal job failure state.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateAwaitingResearch, StateAwaitingProblem, StateReviewProblem,
		StateAwaitingSchema, StateReviewSchema, StateAwaitingPreview, StateReviewPreview,
		StateGenerating, StateReadyForDelivery, StateFailed:
		return true
	default:
		return false
	}
}

// Phase returns the phase the state belongs to. Failed belongs to the
// generation phase.
func (s State) Phase() Phase {
	switch s {
	case StateAwaitingResearch, StateAwaitingProblem, StateReviewProblem:
		return PhaseProblem
	case StateAwaitingSchema, StateReviewSchema:
		return PhaseSchema
	case StateAwaitingPreview, StateReviewPreview:
		return PhasePreview
	case StateGenerating, StateFailed:
		return PhaseGeneration
	case StateReadyForDelivery:
		return PhaseDelivery
	default:
		return PhaseConfiguration
	}
}

// IsReview returns true for the ready-to-approve states.
func (s State) IsReview() bool {
	return s == StateReviewProblem || s == StateReviewSchema || s == StateReviewPreview
}

// IsAwaiting returns true for states waiting on a generation stage.
func (s State) IsAwaiting() bool {
	switch s {
	case StateAwaitingResearch, StateAwaitingProblem, StateAwaitingSchema, StateAwaitingPreview:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for ready_for_delivery and failed.
func (s State) IsTerminal() bool {
	return s == StateReadyForDelivery || s == StateFailed
}

// reviewState returns the ready-to-approve state of a gated phase.
func reviewState(p Phase) State {
	switch p {
	case PhaseProblem:
		return StateReviewProblem
	case PhaseSchema:
		return StateReviewSchema
	case PhasePreview:
		return StateReviewPreview
	default:
		return ""
	}
}

// awaitingState returns the state that waits on phase p's generation stage.
func awaitingState(p Phase) State {
	switch p {
	case PhaseProblem:
		return StateAwaitingProblem
	case PhaseSchema:
		return StateAwaitingSchema
	case PhasePreview:
		return StateAwaitingPreview
	case PhaseGeneration:
		return StateGenerating
	default:
		return ""
	}
}

// CanTransitionTo returns true if the state can transition to target.
// Every state may return to idle through a reset.
//
//	idle → awaiting_research → awaiting_problem → ready_to_approve_problem
//	  → awaiting_schema → ready_to_approve_schema
//	  → awaiting_preview → ready_to_approve_preview
//	  → generating → ready_for_delivery | failed
func (s State) CanTransitionTo(target State) bool {
	if target == StateIdle {
		return true
	}
	switch s {
	case StateIdle:
		return target == StateAwaitingResearch
	case StateAwaitingResearch:
		return target == StateAwaitingProblem
	case StateAwaitingProblem:
		return target == StateReviewProblem
	case StateReviewProblem:
		// Regenerate replaces the draft in place.
		return target == StateAwaitingSchema || target == StateReviewProblem
	case StateAwaitingSchema:
		return target == StateReviewSchema
	case StateReviewSchema:
		return target == StateAwaitingPreview || target == StateReviewSchema
	case StateAwaitingPreview:
		return target == StateReviewPreview
	case StateReviewPreview:
		return target == StateGenerating || target == StateReviewPreview
	case StateGenerating:
		return target == StateReadyForDelivery || target == StateFailed
	case StateReadyForDelivery, StateFailed:
		return false // Terminal until reset
	default:
		return false
	}
}
