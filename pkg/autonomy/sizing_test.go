package autonomy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFractionalKellyFraction(t *testing.T) {
	tests := []struct {
		name        string
		edge        float64
		expectancy  float64
		variance    float64
		samples     int
		maxFraction float64
		want        float64
	}{
		{
			name: "expectancy over variance with shrinkage",
			edge: 0.01, expectancy: 0.02, variance: 0.4, samples: 20, maxFraction: 0.25,
			// raw 0.05, halved at 20 samples
			want: 0.025,
		},
		{
			name: "edge stands in without variance",
			edge: 0.01, expectancy: 0, variance: 0, samples: 0, maxFraction: 0.25,
			want: 0.01,
		},
		{
			name: "clamped to max fraction",
			edge: 0, expectancy: 2, variance: 0.5, samples: 1000, maxFraction: 0.25,
			want: 0.25,
		},
		{
			name: "negative expectancy floors at zero",
			edge: 0.01, expectancy: -0.05, variance: 0.2, samples: 10, maxFraction: 0.25,
			want: 0,
		},
		{
			name: "negative edge floors at zero",
			edge: -0.02, expectancy: 0, variance: 0, samples: 0, maxFraction: 0.25,
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFractionalKellyFraction(tt.edge, tt.expectancy, tt.variance, tt.samples, tt.maxFraction)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestComputeFractionalKellyFractionNonFinite(t *testing.T) {
	assert.Zero(t, ComputeFractionalKellyFraction(math.NaN(), 0, 0, 0, 0.25))
	assert.Zero(t, ComputeFractionalKellyFraction(math.Inf(1), 0, 0, 0, 0.25))
}

func TestSessionWeight(t *testing.T) {
	tests := []struct {
		name      string
		hour      int
		liquidity string
		want      float64
	}{
		{"overlap full weight", 13, "deep", 1.0},
		{"new york", 18, "normal", 0.9},
		{"london", 9, "normal", 0.85},
		{"asia", 3, "normal", 0.6},
		{"late us", 22, "normal", 0.5},
		{"thin liquidity discount", 13, "thin", 0.8},
		{"low liquidity discount", 18, "low", 0.72},
		{"floor at 0.4", 22, "thin", 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SessionWeight(tt.hour, tt.liquidity), 1e-9)
		})
	}
}

func TestSessionWeightBounds(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		for _, bucket := range []string{"deep", "normal", "thin", "low", ""} {
			w := SessionWeight(hour, bucket)
			assert.GreaterOrEqual(t, w, 0.4, "hour %d bucket %q", hour, bucket)
			assert.LessOrEqual(t, w, 1.0, "hour %d bucket %q", hour, bucket)
		}
	}
}

func TestSizeProbe(t *testing.T) {
	base := SizingInput{
		ProbeUsd:          100,
		KellyFraction:     0.1,
		SessionWeight:     1.0,
		RemainingDailyUsd: 1000,
		MinOrderUsd:       10,
		MarkPrice:         50,
	}

	t.Run("modifier is kelly times four, session weighted", func(t *testing.T) {
		res := SizeProbe(base)
		require.False(t, res.Rejected)
		assert.InDelta(t, 0.4, res.SizingModifier, 1e-9)
		assert.InDelta(t, 40, res.ProbeUsd, 1e-9)
		assert.InDelta(t, 0.8, res.Size, 1e-9)
	})

	t.Run("modifier floors at a quarter", func(t *testing.T) {
		in := base
		in.KellyFraction = 0.01
		res := SizeProbe(in)
		require.False(t, res.Rejected)
		assert.InDelta(t, 0.25, res.SizingModifier, 1e-9)
	})

	t.Run("session weight scales the floor too", func(t *testing.T) {
		in := base
		in.KellyFraction = 0
		in.SessionWeight = 0.6
		res := SizeProbe(in)
		require.False(t, res.Rejected)
		assert.InDelta(t, 0.15, res.SizingModifier, 1e-9)
	})

	t.Run("news cap limits the probe", func(t *testing.T) {
		in := base
		in.KellyFraction = 0.25
		in.NewsTrigger = true
		in.NewsSizeCapFraction = 0.02
		res := SizeProbe(in)
		require.False(t, res.Rejected)
		// Uncapped 100, news cap 1000*0.02=20.
		assert.InDelta(t, 20, res.ProbeUsd, 1e-9)
	})

	t.Run("clamped to the remaining budget", func(t *testing.T) {
		in := base
		in.KellyFraction = 0.25
		in.RemainingDailyUsd = 30
		res := SizeProbe(in)
		require.False(t, res.Rejected)
		assert.InDelta(t, 30, res.ProbeUsd, 1e-9)
	})

	t.Run("rejected below minimum order notional", func(t *testing.T) {
		in := base
		in.RemainingDailyUsd = 5
		res := SizeProbe(in)
		assert.True(t, res.Rejected)
		assert.Contains(t, res.Reason, "minimum order notional")
	})

	t.Run("rejected without a mark price", func(t *testing.T) {
		in := base
		in.MarkPrice = 0
		res := SizeProbe(in)
		assert.True(t, res.Rejected)
		assert.Contains(t, res.Reason, "mark price")
	})
}
