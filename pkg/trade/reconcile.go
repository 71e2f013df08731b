package trade

import (
	"context"
	"fmt"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/venue"
)

// ReconcileReduceOnly checks a reduce-only order against the live book
// before dispatch. It rejects orders on flat symbols or orders that would
// increase the position, caps the size to the live size, defaults a missing
// exit_mode to manual, and (when the exit FSM is enforced) validates the
// exit contract.
func ReconcileReduceOnly(ctx context.Context, client venue.Client, o *models.OrderRequest, enforceExitFSM bool) error {
	if !o.ReduceOnly {
		return nil
	}

	state, err := client.GetClearinghouseState(ctx)
	if err != nil {
		return fmt.Errorf("reduce-only reconciliation: failed to read clearinghouse state: %w", err)
	}

	pos := state.PositionFor(o.Symbol)
	if pos == nil {
		return fmt.Errorf("reduce-only reconciliation: no live position on %s", o.Symbol)
	}

	// A reduce of a long is a sell; of a short, a buy.
	long := pos.Szi > 0
	if (long && o.Side == "buy") || (!long && o.Side == "sell") {
		return fmt.Errorf("reduce-only reconciliation: %s order would increase the %s position on %s",
			o.Side, positionDirection(long), o.Symbol)
	}

	liveSize := pos.Szi
	if liveSize < 0 {
		liveSize = -liveSize
	}
	if o.Size > liveSize {
		o.Size = liveSize
	}

	if enforceExitFSM {
		if o.ExitMode == "" {
			o.ExitMode = models.ExitModeManual
		}
		if err := ValidateExit(o); err != nil {
			return err
		}
	}
	return nil
}

func positionDirection(long bool) string {
	if long {
		return "long"
	}
	return "short"
}
