package config

import (
	"fmt"
	"regexp"
)

var dailyTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// validate checks cross-field consistency after defaults are merged.
func validate(cfg *Config) error {
	if cfg.LLM == nil || cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if cfg.Venue == nil {
		return fmt.Errorf("venue section is required")
	}
	if cfg.Venue.Mode != "live" && cfg.Venue.Mode != "paper" {
		return fmt.Errorf("venue.mode must be live or paper, got %q", cfg.Venue.Mode)
	}
	if cfg.Venue.Live() && cfg.Venue.APIURL == "" {
		return fmt.Errorf("venue.api_url is required in live mode")
	}
	if cfg.Trading.BaseSlippageBps < 0 {
		return fmt.Errorf("trading.base_slippage_bps must be >= 0")
	}
	if cfg.Trading.MaxOrderRetries < 1 {
		return fmt.Errorf("trading.max_order_retries must be >= 1")
	}
	if cfg.Trading.MinOrderUsd <= 0 {
		return fmt.Errorf("trading.min_order_usd must be > 0")
	}
	if cfg.Trading.DailyBudgetUsd < cfg.Trading.PerTradeCapUsd {
		return fmt.Errorf("trading.daily_budget_usd must be >= per_trade_cap_usd")
	}
	if cfg.Autonomy.ScanInterval <= 0 {
		return fmt.Errorf("autonomy.scan_interval must be > 0")
	}
	if cfg.Autonomy.DailyReportAt != "" && !dailyTimeRe.MatchString(cfg.Autonomy.DailyReportAt) {
		return fmt.Errorf("autonomy.daily_report_at must be HH:MM, got %q", cfg.Autonomy.DailyReportAt)
	}
	if cfg.Autonomy.KellyMaxFraction <= 0 || cfg.Autonomy.KellyMaxFraction > 1 {
		return fmt.Errorf("autonomy.kelly_max_fraction must be in (0, 1]")
	}
	if cfg.Scheduler.PollInterval <= 0 || cfg.Scheduler.LeaseTTL <= cfg.Scheduler.PollInterval {
		return fmt.Errorf("scheduler.lease_ttl must exceed poll_interval")
	}
	for mode, mc := range cfg.Modes {
		if mc.MaxIterations < 1 {
			return fmt.Errorf("modes.%s.max_iterations must be >= 1", mode)
		}
		if mc.Temperature < 0 || mc.Temperature > 2 {
			return fmt.Errorf("modes.%s.temperature must be in [0, 2]", mode)
		}
	}
	return nil
}
