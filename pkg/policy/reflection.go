package policy

import (
	"time"

	"github.com/quantfold/perpd/pkg/models"
)

// ReflectionInput summarizes the recent journal for the adaptive mutator.
type ReflectionInput struct {
	Entries []*models.JournalEntry
	Now     time.Time

	// Base values from configuration, used when clearing overrides.
	BaseMinEdge          float64
	BaseMaxTradesPerScan int
	BaseLeverageCap      float64
}

// Reflect computes the adaptive policy mutation from the recent journal and
// applies it to st. Rules, in priority order:
//
//  1. Three or more consecutive losing closes → observation-only for 4h,
//     min edge raised 1.5x, leverage cap halved.
//  2. Failure rate over the window ≥ 50% (min 4 attempts) → max trades per
//     scan cut to 1, min edge raised 1.25x.
//  3. Five or more consecutive profitable closes → overrides cleared.
//
// When nothing fires, existing overrides are kept but expired
// observation-only windows are cleared.
func Reflect(st *models.PolicyState, in ReflectionInput) {
	losses := consecutiveLosingCloses(in.Entries)
	wins := consecutiveWinningCloses(in.Entries)
	attempts, failures := attemptStats(in.Entries)

	switch {
	case losses >= 3:
		st.ObservationOnlyUntilMs = in.Now.Add(4 * time.Hour).UnixMilli()
		edge := in.BaseMinEdge * 1.5
		st.MinEdgeOverride = &edge
		lev := in.BaseLeverageCap / 2
		if lev < 1 {
			lev = 1
		}
		st.LeverageCapOverride = &lev
		st.Reason = "loss streak: observation-only window, edge raised, leverage halved"

	case attempts >= 4 && float64(failures)/float64(attempts) >= 0.5:
		one := 1
		st.MaxTradesPerScanOverride = &one
		edge := in.BaseMinEdge * 1.25
		st.MinEdgeOverride = &edge
		st.Reason = "elevated failure rate: throttled to one trade per scan"

	case wins >= 5:
		st.MinEdgeOverride = nil
		st.MaxTradesPerScanOverride = nil
		st.LeverageCapOverride = nil
		st.ObservationOnlyUntilMs = 0
		st.Reason = "win streak: overrides cleared"

	default:
		if st.ObservationOnlyUntilMs > 0 && st.ObservationOnlyUntilMs <= in.Now.UnixMilli() {
			st.ObservationOnlyUntilMs = 0
			st.Reason = "observation-only window expired"
		}
	}
}

// consecutiveLosingCloses counts the tail streak of closes with P&L <= 0.
// Entries arrive newest first.
func consecutiveLosingCloses(entries []*models.JournalEntry) int {
	streak := 0
	for _, e := range entries {
		if e.PnlUsd == nil {
			continue
		}
		if *e.PnlUsd <= 0 {
			streak++
		} else {
			break
		}
	}
	return streak
}

func consecutiveWinningCloses(entries []*models.JournalEntry) int {
	streak := 0
	for _, e := range entries {
		if e.PnlUsd == nil {
			continue
		}
		if *e.PnlUsd > 0 {
			streak++
		} else {
			break
		}
	}
	return streak
}

func attemptStats(entries []*models.JournalEntry) (attempts, failures int) {
	for _, e := range entries {
		switch e.Outcome {
		case models.JournalOutcomeExecuted:
			attempts++
		case models.JournalOutcomeFailed:
			attempts++
			failures++
		}
	}
	return attempts, failures
}
