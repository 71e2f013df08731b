package config

import (
	"time"

	"github.com/quantfold/perpd/pkg/models"
)

// DefaultConfig returns the built-in configuration. User YAML overrides it
// field by field via mergo.
func DefaultConfig() *Config {
	dashboard := true
	fragility := true
	entry := true
	exitFSM := true
	autonomy := false

	return &Config{
		System: &SystemConfig{
			HTTPPort:         "8080",
			DashboardEnabled: &dashboard,
			Identity:         "You are perpd, an autonomous perpetual-futures trading agent. You are precise, risk-aware, and you never invent fills.",
		},
		LLM: &LLMConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Timeout:     90 * time.Second,
			MaxAttempts: 2,
		},
		Venue: &VenueConfig{
			Mode:        "paper",
			Symbols:     []string{"BTC", "ETH", "SOL"},
			FragilityOn: &fragility,
		},
		Trading: &TradingConfig{
			EnforceEntryContract: &entry,
			EnforceExitFSM:       &exitFSM,
			BaseSlippageBps:      10,
			MaxOrderRetries:      3,
			MinOrderUsd:          10,
			MaxLeverage:          5,
			MaxNotionalUsd:       5000,
			DailyBudgetUsd:       1000,
			PerTradeCapUsd:       250,
			ReservationTTL:       5 * time.Minute,
		},
		Autonomy: &AutonomyConfig{
			Enabled:             &autonomy,
			ScanInterval:        900 * time.Second,
			DailyReportAt:       "21:00",
			MaxConcurrent:       3,
			MaxTradesPerScan:    2,
			MinEdge:             0.004,
			HighConfidence:      0.65,
			NewsSizeCapFraction: 0.5,
			KellyMaxFraction:    0.25,
			LossStreakLimit:     3,
			LossStreakPause:     2 * time.Hour,
		},
		Scheduler: &SchedulerConfig{
			PollInterval: 1 * time.Second,
			LeaseTTL:     60 * time.Second,
			Heartbeat:    15 * time.Second,
		},
		Modes: map[models.Mode]*ModeConfig{
			models.ModeTrade: {
				MaxIterations: 12,
				RequireCritic: true,
				Temperature:   0.3,
			},
			models.ModeAnalysis: {
				MaxIterations: 8,
				RequireCritic: false,
				Temperature:   0.5,
			},
			models.ModeAdmin: {
				MaxIterations: 4,
				RequireCritic: false,
				Temperature:   0.2,
			},
		},
	}
}
