package autonomy

import "github.com/quantfold/perpd/pkg/models"

// LossStreak counts the tail streak of closes with P&L <= 0. Entries arrive
// newest first; entries without a P&L (attempts, blocks) are skipped.
func LossStreak(entries []*models.JournalEntry) int {
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

// ShouldPause reports whether the loss-streak pause triggers: exactly at
// limit consecutive losing closes, never before.
func ShouldPause(streak, limit int) bool {
	return limit > 0 && streak >= limit
}
