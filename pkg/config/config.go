// Package config loads, merges, and validates perpd configuration.
package config

import (
	"time"

	"github.com/quantfold/perpd/pkg/models"
)

// Config is the umbrella configuration object returned by Initialize()
// and threaded through the application.
type Config struct {
	configDir string

	System    *SystemConfig    `yaml:"system"`
	LLM       *LLMConfig       `yaml:"llm"`
	Venue     *VenueConfig     `yaml:"venue"`
	Trading   *TradingConfig   `yaml:"trading"`
	Autonomy  *AutonomyConfig  `yaml:"autonomy"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Modes     map[models.Mode]*ModeConfig `yaml:"modes"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// Mode returns the mode configuration, falling back to analysis defaults
// for unknown modes.
func (c *Config) Mode(m models.Mode) *ModeConfig {
	if mc, ok := c.Modes[m]; ok {
		return mc
	}
	return c.Modes[models.ModeAnalysis]
}

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	HTTPPort         string   `yaml:"http_port"`
	DashboardEnabled *bool    `yaml:"dashboard_enabled,omitempty"`
	Identity         string   `yaml:"identity,omitempty"`
	Channels         []string `yaml:"channels,omitempty"`
}

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url,omitempty"`
	APIKeyEnv   string        `yaml:"api_key_env,omitempty"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
}

// VenueConfig configures the perp venue connection.
type VenueConfig struct {
	Mode         string   `yaml:"mode"` // live | paper
	APIURL       string   `yaml:"api_url,omitempty"`
	AccountEnv   string   `yaml:"account_env,omitempty"`
	Symbols      []string `yaml:"symbols,omitempty"`
	FragilityOn  *bool    `yaml:"fragility_enabled,omitempty"`
}

// Live reports whether orders are dispatched to the real venue.
func (v *VenueConfig) Live() bool { return v.Mode == "live" }

// DefaultSymbol returns the first configured symbol, or BTC.
func (v *VenueConfig) DefaultSymbol() string {
	if len(v.Symbols) > 0 {
		return v.Symbols[0]
	}
	return "BTC"
}

// TradingConfig holds trade-contract and execution settings.
type TradingConfig struct {
	EnforceEntryContract *bool   `yaml:"enforce_entry_contract,omitempty"`
	EnforceExitFSM       *bool   `yaml:"enforce_exit_fsm,omitempty"`
	BaseSlippageBps      int     `yaml:"base_slippage_bps"`
	MaxOrderRetries      int     `yaml:"max_order_retries"`
	MinOrderUsd          float64 `yaml:"min_order_usd"`
	MaxLeverage          float64 `yaml:"max_leverage"`
	MaxNotionalUsd       float64 `yaml:"max_notional_usd"`
	DailyBudgetUsd       float64 `yaml:"daily_budget_usd"`
	PerTradeCapUsd       float64 `yaml:"per_trade_cap_usd"`
	ReservationTTL       time.Duration `yaml:"reservation_ttl"`
}

// AutonomyConfig drives the scan/decision loop.
type AutonomyConfig struct {
	Enabled             *bool         `yaml:"enabled,omitempty"`
	ScanInterval        time.Duration `yaml:"scan_interval"`
	DailyReportAt       string        `yaml:"daily_report_at"` // HH:MM UTC
	MaxConcurrent       int           `yaml:"max_concurrent_positions"`
	MaxTradesPerScan    int           `yaml:"max_trades_per_scan"`
	MinEdge             float64       `yaml:"min_edge"`
	HighConfidence      float64       `yaml:"high_confidence"`
	NewsSizeCapFraction float64       `yaml:"news_size_cap_fraction"`
	KellyMaxFraction    float64       `yaml:"kelly_max_fraction"`
	LossStreakLimit     int           `yaml:"loss_streak_limit"`
	LossStreakPause     time.Duration `yaml:"loss_streak_pause"`
}

// SchedulerConfig controls the leased job runner.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	Heartbeat    time.Duration `yaml:"heartbeat_interval"`
}

// ModeConfig is the per-mode policy bundle.
type ModeConfig struct {
	AllowedTools  []string `yaml:"allowed_tools,omitempty"` // empty = all
	MaxIterations int      `yaml:"max_iterations"`
	RequireCritic bool     `yaml:"require_critic"`
	Temperature   float64  `yaml:"temperature"`
}

// ToolAllowed reports whether the tool is in the mode's allow-list.
// An empty allow-list admits every registered tool.
func (m *ModeConfig) ToolAllowed(name string) bool {
	if len(m.AllowedTools) == 0 {
		return true
	}
	for _, t := range m.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}
