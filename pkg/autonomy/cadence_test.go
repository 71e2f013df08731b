package autonomy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextInterval(t *testing.T) {
	base := 900 * time.Second

	tests := []struct {
		name string
		in   CadenceInput
		want time.Duration
	}{
		{
			name: "base interval unchanged",
			in:   CadenceInput{ConcurrentCap: 3, RemainingDailyUsd: 1000, PerTradeCapUsd: 250, VolPulsePct: 0.5},
			want: 900 * time.Second,
		},
		{
			name: "book full doubles",
			in:   CadenceInput{OpenPositions: 3, ConcurrentCap: 3, RemainingDailyUsd: 1000, PerTradeCapUsd: 250, VolPulsePct: 0.5},
			want: 1800 * time.Second,
		},
		{
			name: "budget nearly spent doubles",
			in:   CadenceInput{ConcurrentCap: 3, RemainingDailyUsd: 100, PerTradeCapUsd: 250, VolPulsePct: 0.5},
			want: 1800 * time.Second,
		},
		{
			name: "high volatility slows by half again",
			in:   CadenceInput{ConcurrentCap: 3, RemainingDailyUsd: 1000, PerTradeCapUsd: 250, VolPulsePct: 1.2},
			want: 1350 * time.Second,
		},
		{
			name: "quiet tape speeds up",
			in:   CadenceInput{ConcurrentCap: 3, RemainingDailyUsd: 1000, PerTradeCapUsd: 250, VolPulsePct: 0.1},
			want: 675 * time.Second,
		},
		{
			name: "multipliers stack and clamp at the ceiling",
			in:   CadenceInput{OpenPositions: 3, ConcurrentCap: 3, RemainingDailyUsd: 100, PerTradeCapUsd: 250, VolPulsePct: 2.0},
			want: 3600 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextInterval(base, tt.in))
		})
	}
}

func TestNextIntervalClampFloor(t *testing.T) {
	got := NextInterval(60*time.Second, CadenceInput{VolPulsePct: 0.1})
	assert.Equal(t, 120*time.Second, got)
}
