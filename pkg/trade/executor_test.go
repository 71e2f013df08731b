package trade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/venue"
)

// fakeReserver records Confirm/Release calls.
type fakeReserver struct {
	confirmed []string
	released  []string
}

func (f *fakeReserver) Confirm(_ context.Context, id string) error {
	f.confirmed = append(f.confirmed, id)
	return nil
}

func (f *fakeReserver) Release(_ context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}

func TestExecutorWidensSlippageOnNoMatch(t *testing.T) {
	paper := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	paper.FailMatches = 2
	reserver := &fakeReserver{}
	exec := NewExecutor(paper, reserver, 10, 3)

	fill, err := exec.Execute(context.Background(), &models.OrderRequest{
		Symbol: "BTC", Side: "buy", Size: 0.01, OrderType: "market",
	}, "res-1")
	require.NoError(t, err)

	require.Len(t, paper.OrderLog, 3)
	assert.Equal(t, 10, paper.OrderLog[0].SlippageBps)
	assert.Equal(t, 35, paper.OrderLog[1].SlippageBps)
	assert.Equal(t, 60, paper.OrderLog[2].SlippageBps)
	assert.Equal(t, 60, fill.SlippageBps)

	assert.Equal(t, []string{"res-1"}, reserver.confirmed)
	assert.Empty(t, reserver.released)
}

func TestExecutorFirstAttemptSuccess(t *testing.T) {
	paper := venue.NewPaperClient(map[string]float64{"ETH": 3000})
	reserver := &fakeReserver{}
	exec := NewExecutor(paper, reserver, 10, 3)

	fill, err := exec.Execute(context.Background(), &models.OrderRequest{
		Symbol: "ETH", Side: "sell", Size: 1, OrderType: "market",
	}, "res-2")
	require.NoError(t, err)

	require.Len(t, paper.OrderLog, 1)
	assert.Equal(t, 10, fill.SlippageBps)
	// Sells fill below mid by the slippage allowance.
	assert.InDelta(t, 3000-3000*0.001, fill.AvgPrice, 1e-9)
	assert.Equal(t, []string{"res-2"}, reserver.confirmed)
}

func TestExecutorReleasesOnTotalFailure(t *testing.T) {
	paper := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	paper.FailMatches = 3
	reserver := &fakeReserver{}
	exec := NewExecutor(paper, reserver, 10, 3)

	fill, err := exec.Execute(context.Background(), &models.OrderRequest{
		Symbol: "BTC", Side: "buy", Size: 0.01, OrderType: "market",
	}, "res-3")
	require.Error(t, err)
	assert.Nil(t, fill)
	assert.ErrorContains(t, err, "order failed after retries")
	assert.ErrorIs(t, err, venue.ErrNoImmediateMatch)

	assert.Len(t, paper.OrderLog, 3)
	assert.Empty(t, reserver.confirmed)
	assert.Equal(t, []string{"res-3"}, reserver.released)
}

func TestExecutorNonTransientFailureBreaksImmediately(t *testing.T) {
	paper := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	reserver := &fakeReserver{}
	exec := NewExecutor(paper, reserver, 10, 3)

	// DOGE is not listed on this paper venue: unknown symbol, not a
	// no-match failure, so no widening retries happen.
	_, err := exec.Execute(context.Background(), &models.OrderRequest{
		Symbol: "DOGE", Side: "buy", Size: 100, OrderType: "market",
	}, "res-4")
	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrUnknownSymbol)
	assert.Len(t, paper.OrderLog, 1)
	assert.Equal(t, []string{"res-4"}, reserver.released)
}

func TestExecutorWithoutReservation(t *testing.T) {
	paper := venue.NewPaperClient(map[string]float64{"BTC": 65000})
	reserver := &fakeReserver{}
	exec := NewExecutor(paper, reserver, 10, 3)

	_, err := exec.Execute(context.Background(), &models.OrderRequest{
		Symbol: "BTC", Side: "buy", Size: 0.01, OrderType: "market",
	}, "")
	require.NoError(t, err)
	assert.Empty(t, reserver.confirmed)
	assert.Empty(t, reserver.released)
}
