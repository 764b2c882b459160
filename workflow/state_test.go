package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []State{
	StateIdle, StateAwaitingResearch, StateAwaitingProblem, StateReviewProblem,
	StateAwaitingSchema, StateReviewSchema, StateAwaitingPreview, StateReviewPreview,
	StateGenerating, StateReadyForDelivery, StateFailed,
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateIdle, StateAwaitingResearch, true},
		{StateIdle, StateAwaitingSchema, false},
		{StateAwaitingResearch, StateAwaitingProblem, true},
		{StateAwaitingProblem, StateReviewProblem, true},
		{StateReviewProblem, StateReviewProblem, true},
		{StateReviewProblem, StateAwaitingSchema, true},
		{StateReviewProblem, StateAwaitingPreview, false},
		{StateReviewSchema, StateAwaitingPreview, true},
		{StateReviewPreview, StateGenerating, true},
		{StateAwaitingPreview, StateGenerating, false},
		{StateGenerating, StateReadyForDelivery, true},
		{StateGenerating, StateFailed, true},
		{StateFailed, StateGenerating, false},
		{StateReadyForDelivery, StateFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	for _, s := range allStates {
		assert.True(t, s.CanTransitionTo(StateIdle), "%s must allow reset", s)
		assert.True(t, s.IsValid())
	}
	assert.False(t, State("paused").IsValid())
}

// Every way into a phase's generation goes through the previous phase's
// approval state, so generation before approval is unreachable.
func TestState_GenerationOnlyAfterApprovalState(t *testing.T) {
	gates := map[State]State{
		StateAwaitingSchema:  StateReviewProblem,
		StateAwaitingPreview: StateReviewSchema,
		StateGenerating:      StateReviewPreview,
	}
	for target, gate := range gates {
		for _, s := range allStates {
			if s == target || !s.CanTransitionTo(target) {
				continue
			}
			assert.Equal(t, gate, s, "%s reachable from %s", target, s)
		}
	}

	// Problem generation is only reachable after research.
	for _, s := range allStates {
		if s != StateAwaitingProblem && s.CanTransitionTo(StateAwaitingProblem) {
			assert.Equal(t, StateAwaitingResearch, s)
		}
	}
}

func TestState_Reachability(t *testing.T) {
	seen := map[State]bool{StateIdle: true}
	queue := []State{StateIdle}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range allStates {
			if s.CanTransitionTo(next) && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, s := range allStates {
		assert.True(t, seen[s], "%s unreachable from idle", s)
	}
}

func TestState_Phase(t *testing.T) {
	assert.Equal(t, PhaseConfiguration, StateIdle.Phase())
	assert.Equal(t, PhaseProblem, StateAwaitingResearch.Phase())
	assert.Equal(t, PhaseSchema, StateReviewSchema.Phase())
	assert.Equal(t, PhasePreview, StateAwaitingPreview.Phase())
	assert.Equal(t, PhaseGeneration, StateFailed.Phase())
	assert.Equal(t, PhaseDelivery, StateReadyForDelivery.Phase())

	assert.Equal(t, "schema", PhaseSchema.String())
	assert.Equal(t, "unknown", Phase(9).String())
	assert.True(t, PhasePreview.Gated())
	assert.False(t, PhaseGeneration.Gated())
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	for _, s := range l.Entries() {
		assert.Equal(t, PhaseStatusPending, s)
	}
	assert.False(t, l.CanGenerate(PhaseProblem))

	assert.True(t, l.Approve(PhaseConfiguration))
	assert.True(t, l.CanGenerate(PhaseProblem))
	assert.False(t, l.CanGenerate(PhaseSchema))

	assert.True(t, l.Approve(PhaseProblem))
	assert.False(t, l.Approve(PhaseProblem), "approval is idempotent")
	assert.False(t, l.Reject(PhaseProblem), "approved never moves backward")
	assert.Equal(t, PhaseStatusApproved, l.Status(PhaseProblem))

	assert.True(t, l.Reject(PhaseGeneration))
	assert.Equal(t, PhaseStatusRejected, l.Status(PhaseGeneration))
	assert.False(t, l.Approve(Phase(12)))

	copied := l
	copied.Approve(PhaseSchema)
	assert.False(t, l.Approved(PhaseSchema), "ledger copies are independent")
}
