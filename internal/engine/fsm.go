package engine

import (
	"context"

	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/pkg/schema"
)

// ValidPhaseTransitions defines the allowed phase progression. The chain
// loop is the one legal backward edge: chain_awaiting returns to
// chain_scheduled for the next chained activity. Terminal phases have no
// outgoing edges, and every live phase may fail.
var ValidPhaseTransitions = map[schema.InstancePhase][]schema.InstancePhase{
	schema.PhaseCreated:         {schema.PhaseFanOutScheduled, schema.PhaseFailed},
	schema.PhaseFanOutScheduled: {schema.PhaseFanOutAwaiting, schema.PhaseFailed},
	schema.PhaseFanOutAwaiting:  {schema.PhaseFanInComplete, schema.PhaseFailed},
	schema.PhaseFanInComplete:   {schema.PhaseChainScheduled, schema.PhaseFailed},
	schema.PhaseChainScheduled:  {schema.PhaseChainAwaiting, schema.PhaseFailed},
	schema.PhaseChainAwaiting:   {schema.PhaseChainScheduled, schema.PhaseCompleted, schema.PhaseFailed},
	schema.PhaseCompleted:       {},
	schema.PhaseFailed:          {},
}

// PhaseTracker validates and persists phase transitions. Phases are derived
// from the history log on replay and persisted for observability only; the
// tracker keeps the persisted view from ever skipping or reversing the
// progression.
type PhaseTracker struct {
	store store.Store
}

// NewPhaseTracker creates a PhaseTracker persisting through the given store.
func NewPhaseTracker(s store.Store) *PhaseTracker {
	return &PhaseTracker{store: s}
}

// Advance validates the transition and persists the new phase. A same-phase
// advance is a no-op, which is what a resumed driver hits when it re-derives
// a phase the crashed run already persisted.
func (t *PhaseTracker) Advance(ctx context.Context, instanceID string, from, to schema.InstancePhase) error {
	if from == to {
		return nil
	}
	if !isValidPhaseTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %s -> %s", from, to).
			WithDetails(map[string]any{"instance_id": instanceID, "from": string(from), "to": string(to)})
	}
	if err := t.store.UpdateInstance(ctx, instanceID, store.InstanceUpdate{Phase: &to}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist phase %s", to).WithCause(err)
	}
	return nil
}

func isValidPhaseTransition(from, to schema.InstancePhase) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// DerivePhase reconstructs the phase a driver should resume in from the
// replayed history. It intentionally lands one decision before the next
// action: a resumed driver re-derives the phase and then advances it as it
// walks forward.
func DerivePhase(rp *store.Replay) schema.InstancePhase {
	if rp.Terminal != nil {
		if rp.Terminal.Status == schema.InstanceStatusCompleted {
			return schema.PhaseCompleted
		}
		return schema.PhaseFailed
	}
	if len(rp.Tasks) == 0 {
		return schema.PhaseCreated
	}
	for _, name := range schema.ChainActivities {
		if _, ok := rp.Tasks[name]; ok {
			return schema.PhaseChainAwaiting
		}
	}
	allCompleted := true
	for _, name := range schema.FanOutActivities {
		rec, ok := rp.Tasks[name]
		if !ok || rec.State != schema.TaskStateCompleted {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return schema.PhaseFanInComplete
	}
	return schema.PhaseFanOutAwaiting
}
