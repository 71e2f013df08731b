package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantfold/perpd/pkg/limiter"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/venue"
)

// slippageWidenBps is added to the slippage per retry attempt.
const slippageWidenBps = 25

// Reserver is the spending-limiter surface the executor needs.
type Reserver interface {
	Confirm(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

// Executor submits normalized orders to the venue with the
// retry-with-widening strategy: up to maxRetries attempts, slippage widened
// by 25 bps each time a "no immediate match" failure comes back. The spend
// reservation is confirmed exactly once on the first success, and released
// when every attempt fails.
type Executor struct {
	venue           venue.Client
	limiter         Reserver
	baseSlippageBps int
	maxRetries      int
	logger          *slog.Logger
}

// NewExecutor creates an order executor. limiter may be nil (no budget
// enforcement, e.g. paper mode without a database).
func NewExecutor(v venue.Client, lim Reserver, baseSlippageBps, maxRetries int) *Executor {
	if v == nil {
		panic("trade.NewExecutor: venue client must not be nil")
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Executor{
		venue:           v,
		limiter:         lim,
		baseSlippageBps: baseSlippageBps,
		maxRetries:      maxRetries,
		logger:          slog.Default().With("component", "trade-executor"),
	}
}

// Execute dispatches the order. reservationID may be empty when no budget
// reservation backs the order.
func (e *Executor) Execute(ctx context.Context, o *models.OrderRequest, reservationID string) (*models.OrderFill, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		slippage := e.baseSlippageBps + attempt*slippageWidenBps

		result, err := e.venue.Order(ctx, venue.OrderInput{
			Symbol:      o.Symbol,
			Side:        o.Side,
			Size:        o.Size,
			ReduceOnly:  o.ReduceOnly,
			SlippageBps: slippage,
			Cloid:       o.Cloid,
		})
		if err == nil {
			e.confirmReservation(ctx, reservationID)
			return &models.OrderFill{
				Symbol:      o.Symbol,
				Side:        o.Side,
				Size:        result.FilledSz,
				AvgPrice:    result.AvgPx,
				SlippageBps: slippage,
				Cloid:       o.Cloid,
			}, nil
		}

		lastErr = err
		if !isNoImmediateMatch(err) {
			break
		}
		e.logger.Warn("Order did not match, widening slippage",
			"symbol", o.Symbol, "attempt", attempt+1, "slippage_bps", slippage)
	}

	e.releaseReservation(ctx, reservationID)
	return nil, fmt.Errorf("order failed after retries: %w", lastErr)
}

func (e *Executor) confirmReservation(ctx context.Context, id string) {
	if e.limiter == nil || id == "" {
		return
	}
	if err := e.limiter.Confirm(ctx, id); err != nil && !errors.Is(err, limiter.ErrUnknownReservation) {
		e.logger.Warn("Failed to confirm spend reservation", "reservation_id", id, "error", err)
	}
}

func (e *Executor) releaseReservation(ctx context.Context, id string) {
	if e.limiter == nil || id == "" {
		return
	}
	if err := e.limiter.Release(ctx, id); err != nil && !errors.Is(err, limiter.ErrUnknownReservation) {
		e.logger.Warn("Failed to release spend reservation", "reservation_id", id, "error", err)
	}
}

// isNoImmediateMatch recognizes the transient failure class eligible for
// retry with widened slippage.
func isNoImmediateMatch(err error) bool {
	if errors.Is(err, venue.ErrNoImmediateMatch) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "immediately match")
}
