package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/perpd/pkg/models"
)

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, validate(DefaultConfig()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "missing llm model",
			mutate:  func(cfg *Config) { cfg.LLM.Model = "" },
			wantErr: "llm.model is required",
		},
		{
			name:    "bad venue mode",
			mutate:  func(cfg *Config) { cfg.Venue.Mode = "dry-run" },
			wantErr: "venue.mode must be live or paper",
		},
		{
			name: "live mode needs an api url",
			mutate: func(cfg *Config) {
				cfg.Venue.Mode = "live"
				cfg.Venue.APIURL = ""
			},
			wantErr: "venue.api_url is required in live mode",
		},
		{
			name:    "negative slippage",
			mutate:  func(cfg *Config) { cfg.Trading.BaseSlippageBps = -1 },
			wantErr: "base_slippage_bps",
		},
		{
			name:    "zero retries",
			mutate:  func(cfg *Config) { cfg.Trading.MaxOrderRetries = 0 },
			wantErr: "max_order_retries",
		},
		{
			name: "per-trade cap above daily budget",
			mutate: func(cfg *Config) {
				cfg.Trading.DailyBudgetUsd = 100
				cfg.Trading.PerTradeCapUsd = 250
			},
			wantErr: "daily_budget_usd",
		},
		{
			name:    "zero scan interval",
			mutate:  func(cfg *Config) { cfg.Autonomy.ScanInterval = 0 },
			wantErr: "scan_interval",
		},
		{
			name:    "bad daily report time",
			mutate:  func(cfg *Config) { cfg.Autonomy.DailyReportAt = "9pm" },
			wantErr: "daily_report_at",
		},
		{
			name:    "kelly fraction above one",
			mutate:  func(cfg *Config) { cfg.Autonomy.KellyMaxFraction = 1.5 },
			wantErr: "kelly_max_fraction",
		},
		{
			name: "lease not exceeding poll",
			mutate: func(cfg *Config) {
				cfg.Scheduler.PollInterval = cfg.Scheduler.LeaseTTL
			},
			wantErr: "lease_ttl",
		},
		{
			name: "mode without iterations",
			mutate: func(cfg *Config) {
				cfg.Modes[models.ModeTrade].MaxIterations = 0
			},
			wantErr: "max_iterations",
		},
		{
			name: "mode temperature out of range",
			mutate: func(cfg *Config) {
				cfg.Modes[models.ModeAnalysis].Temperature = 2.5
			},
			wantErr: "temperature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, validate(cfg), tt.wantErr)
		})
	}
}

func TestValidateEmptyDailyReportAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Autonomy.DailyReportAt = ""
	assert.NoError(t, validate(cfg))
}
