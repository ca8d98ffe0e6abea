package wizard

import (
	"context"

	"respirakids/internal/metrics"
)

// recoverFromConflict handles a lost slot race. In order: tell the user, go back to select-slot,
// replace the slot list with a fresh query and drop the stale selection. It never retries the claim
// and never chooses another slot.
func (w *Wizard) recoverFromConflict(ctx context.Context) {
	lost := w.request.SlotID
	metrics.IncConflictRecovery()
	w.logger.Info().Str("slot_id", lost).Msg("slot taken by another booking, returning to slot selection")

	w.notify(LevelWarning, CodeSlotUnavailable, msgSlotUnavailable)
	w.step = StepSlot
	metrics.IncStepEntered(string(StepSlot))
	w.loadSlots(ctx)
	w.request.SlotID = ""
}
