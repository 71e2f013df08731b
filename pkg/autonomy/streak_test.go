package autonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/perpd/pkg/models"
)

func pnl(v float64) *models.JournalEntry {
	return &models.JournalEntry{PnlUsd: &v}
}

func noPnl() *models.JournalEntry {
	return &models.JournalEntry{}
}

func TestLossStreak(t *testing.T) {
	tests := []struct {
		name    string
		entries []*models.JournalEntry
		want    int
	}{
		{"empty journal", nil, 0},
		{"single loss", []*models.JournalEntry{pnl(-10)}, 1},
		{"breakeven counts as loss", []*models.JournalEntry{pnl(0)}, 1},
		{"win resets", []*models.JournalEntry{pnl(-10), pnl(5), pnl(-20)}, 1},
		{"three straight losses", []*models.JournalEntry{pnl(-1), pnl(-2), pnl(-3)}, 3},
		{
			"entries without pnl are skipped",
			[]*models.JournalEntry{noPnl(), pnl(-1), noPnl(), pnl(-2), pnl(10)},
			2,
		},
		{"win at the head means no streak", []*models.JournalEntry{pnl(3), pnl(-1), pnl(-2)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LossStreak(tt.entries))
		})
	}
}

func TestShouldPause(t *testing.T) {
	assert.False(t, ShouldPause(2, 3))
	assert.True(t, ShouldPause(3, 3))
	assert.True(t, ShouldPause(4, 3))
	assert.False(t, ShouldPause(5, 0), "zero limit disables the pause")
}
