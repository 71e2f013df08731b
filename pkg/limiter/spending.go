// Package limiter enforces the process-wide spending budget. State lives in
// the single spending_state row; mutation follows checkAndReserve → confirm |
// release, and reservations that are neither confirmed nor released within
// the TTL are reclaimed on the next check.
package limiter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/database"
)

// ErrBudgetExceeded is returned when a reservation would exceed the daily
// budget.
var ErrBudgetExceeded = errors.New("daily spending budget exceeded")

// ErrUnknownReservation is returned when confirming or releasing a
// reservation that does not exist (already reclaimed or never made).
var ErrUnknownReservation = errors.New("unknown reservation")

// Limiter is the spending limiter handle.
type Limiter struct {
	db             *sql.DB
	dailyBudgetUsd float64
	reservationTTL time.Duration
}

type reservation struct {
	ID        string    `json:"id"`
	AmountUsd float64   `json:"amount_usd"`
	ExpiresAt time.Time `json:"expires_at"`
}

type state struct {
	TodaySpent      float64
	TodayTradeCount int
	Reserved        float64
	Reservations    []reservation
	ResetAt         time.Time
}

// New creates a spending limiter.
func New(client *database.Client, dailyBudgetUsd float64, reservationTTL time.Duration) *Limiter {
	if client == nil {
		panic("limiter.New: client must not be nil")
	}
	if reservationTTL <= 0 {
		reservationTTL = 5 * time.Minute
	}
	return &Limiter{db: client.DB(), dailyBudgetUsd: dailyBudgetUsd, reservationTTL: reservationTTL}
}

// CheckAndReserve reserves amountUsd against the remaining daily budget.
// Expired reservations are reclaimed first. Returns a reservation ID to pass
// to Confirm or Release.
func (l *Limiter) CheckAndReserve(ctx context.Context, amountUsd float64) (string, error) {
	if amountUsd <= 0 {
		return "", fmt.Errorf("reservation amount must be positive, got %v", amountUsd)
	}
	var id string
	err := l.withState(ctx, func(st *state, now time.Time) error {
		id = uuid.New().String()
		return reserve(st, id, amountUsd, l.dailyBudgetUsd, now, l.reservationTTL)
	})
	return id, err
}

// Confirm converts a reservation into spend. Called exactly once, on the
// first successful submission.
func (l *Limiter) Confirm(ctx context.Context, reservationID string) error {
	return l.withState(ctx, func(st *state, _ time.Time) error {
		return confirmReservation(st, reservationID)
	})
}

// Release returns a reservation to the budget without spending it.
func (l *Limiter) Release(ctx context.Context, reservationID string) error {
	return l.withState(ctx, func(st *state, _ time.Time) error {
		return releaseReservation(st, reservationID)
	})
}

// Remaining returns the budget currently available for new reservations.
func (l *Limiter) Remaining(ctx context.Context) (float64, error) {
	var remaining float64
	err := l.withState(ctx, func(st *state, _ time.Time) error {
		remaining = l.dailyBudgetUsd - st.TodaySpent - st.Reserved
		if remaining < 0 {
			remaining = 0
		}
		return nil
	})
	return remaining, err
}

// TodayTradeCount returns the number of confirmed trades today.
func (l *Limiter) TodayTradeCount(ctx context.Context) (int, error) {
	var count int
	err := l.withState(ctx, func(st *state, _ time.Time) error {
		count = st.TodayTradeCount
		return nil
	})
	return count, err
}

// withState runs fn against the row-locked spending state, applying the
// daily reset and TTL reclaim first, and persists the result iff fn succeeds.
func (l *Limiter) withState(ctx context.Context, fn func(st *state, now time.Time) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin limiter transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var st state
	var reservationsRaw []byte
	var now time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT today_spent, today_trade_count, reserved, reservations_json, reset_at, now()
		 FROM spending_state WHERE id = 1 FOR UPDATE`).
		Scan(&st.TodaySpent, &st.TodayTradeCount, &st.Reserved, &reservationsRaw, &st.ResetAt, &now)
	if err != nil {
		return fmt.Errorf("failed to load spending state: %w", err)
	}
	if err := json.Unmarshal(reservationsRaw, &st.Reservations); err != nil {
		return fmt.Errorf("failed to decode reservations: %w", err)
	}
	now = now.UTC()

	applyDailyReset(&st, now)
	reclaimExpired(&st, now)

	if err := fn(&st, now); err != nil {
		return err
	}

	data, err := json.Marshal(st.Reservations)
	if err != nil {
		return fmt.Errorf("failed to encode reservations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE spending_state
		 SET today_spent = $1, today_trade_count = $2, reserved = $3,
		     reservations_json = $4, reset_at = $5
		 WHERE id = 1`,
		st.TodaySpent, st.TodayTradeCount, st.Reserved, data, st.ResetAt); err != nil {
		return fmt.Errorf("failed to persist spending state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spending state: %w", err)
	}
	return nil
}

// applyDailyReset zeroes the day counters at the first touch after UTC
// midnight.
func applyDailyReset(st *state, now time.Time) {
	if dayStart := now.Truncate(24 * time.Hour); st.ResetAt.Before(dayStart) {
		st.TodaySpent = 0
		st.TodayTradeCount = 0
		st.ResetAt = now
	}
}

// reclaimExpired returns lapsed reservations to the budget. Reservations
// neither confirmed nor released within the TTL die here.
func reclaimExpired(st *state, now time.Time) {
	kept := st.Reservations[:0]
	for _, r := range st.Reservations {
		if r.ExpiresAt.After(now) {
			kept = append(kept, r)
		} else {
			st.Reserved -= r.AmountUsd
		}
	}
	st.Reservations = kept
	if st.Reserved < 0 {
		st.Reserved = 0
	}
}

// reserve appends a reservation when spent + reserved + requested fits the
// daily budget.
func reserve(st *state, id string, amountUsd, budgetUsd float64, now time.Time, ttl time.Duration) error {
	if st.TodaySpent+st.Reserved+amountUsd > budgetUsd {
		return fmt.Errorf("%w: spent %.2f + reserved %.2f + requested %.2f > budget %.2f",
			ErrBudgetExceeded, st.TodaySpent, st.Reserved, amountUsd, budgetUsd)
	}
	st.Reservations = append(st.Reservations, reservation{
		ID:        id,
		AmountUsd: amountUsd,
		ExpiresAt: now.Add(ttl),
	})
	st.Reserved += amountUsd
	return nil
}

// confirmReservation converts a live reservation into spend.
func confirmReservation(st *state, id string) error {
	res, ok := takeReservation(st, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	st.TodaySpent += res.AmountUsd
	st.TodayTradeCount++
	return nil
}

// releaseReservation drops a live reservation without spending it.
func releaseReservation(st *state, id string) error {
	if _, ok := takeReservation(st, id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	return nil
}

func takeReservation(st *state, id string) (reservation, bool) {
	for i, r := range st.Reservations {
		if r.ID == id {
			st.Reservations = append(st.Reservations[:i], st.Reservations[i+1:]...)
			st.Reserved -= r.AmountUsd
			if st.Reserved < 0 {
				st.Reserved = 0
			}
			return r, true
		}
	}
	return reservation{}, false
}
