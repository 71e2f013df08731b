package trade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/venue"
)

func TestReconcileReduceOnlyIgnoresOpeningOrders(t *testing.T) {
	c := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	o := &models.OrderRequest{Symbol: "BTC", Side: "buy", Size: 1, ReduceOnly: false}

	require.NoError(t, ReconcileReduceOnly(context.Background(), c, o, true))
	assert.Equal(t, 1.0, o.Size)
}

func TestReconcileReduceOnlyFlatSymbol(t *testing.T) {
	c := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	o := &models.OrderRequest{Symbol: "BTC", Side: "sell", Size: 0.5, ReduceOnly: true}

	err := ReconcileReduceOnly(context.Background(), c, o, false)
	assert.ErrorContains(t, err, "no live position on BTC")
}

func TestReconcileReduceOnlyWrongDirection(t *testing.T) {
	c := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	c.SetPosition("BTC", 1.0, 64000)

	o := &models.OrderRequest{Symbol: "BTC", Side: "buy", Size: 0.5, ReduceOnly: true}
	err := ReconcileReduceOnly(context.Background(), c, o, false)
	assert.ErrorContains(t, err, "would increase the long position")

	c.SetPosition("BTC", -1.0, 64000)
	o = &models.OrderRequest{Symbol: "BTC", Side: "sell", Size: 0.5, ReduceOnly: true}
	err = ReconcileReduceOnly(context.Background(), c, o, false)
	assert.ErrorContains(t, err, "would increase the short position")
}

func TestReconcileReduceOnlyCapsSizeToLive(t *testing.T) {
	c := venue.NewPaperClient(map[string]float64{"ETH": 3000})
	c.SetPosition("ETH", -2.0, 3100)

	o := &models.OrderRequest{
		Symbol: "ETH", Side: "buy", Size: 5, ReduceOnly: true,
		ExitMode: models.ExitModeTakeProfit,
	}
	require.NoError(t, ReconcileReduceOnly(context.Background(), c, o, true))
	assert.Equal(t, 2.0, o.Size)
}

func TestReconcileReduceOnlyDefaultsExitModeToManual(t *testing.T) {
	c := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	c.SetPosition("BTC", 1.0, 64000)

	o := &models.OrderRequest{Symbol: "BTC", Side: "sell", Size: 0.5, ReduceOnly: true}
	err := ReconcileReduceOnly(context.Background(), c, o, true)

	// Defaulted manual exits hit the FSM block.
	assert.Equal(t, models.ExitModeManual, o.ExitMode)
	assert.ErrorContains(t, err, "manual/unknown reduce-only exits are blocked")
}

func TestReconcileReduceOnlyWithoutFSMSkipsExitValidation(t *testing.T) {
	c := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	c.SetPosition("BTC", 1.0, 64000)

	o := &models.OrderRequest{Symbol: "BTC", Side: "sell", Size: 0.5, ReduceOnly: true}
	require.NoError(t, ReconcileReduceOnly(context.Background(), c, o, false))
	assert.Empty(t, o.ExitMode)
}
