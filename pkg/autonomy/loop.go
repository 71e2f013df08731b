// Package autonomy implements the scheduled scan/decision loop: discovery,
// adaptive policy gating, Kelly-based sizing, risk and budget checks, order
// submission, and journal writes.
package autonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/config"
	"github.com/quantfold/perpd/pkg/journal"
	"github.com/quantfold/perpd/pkg/limiter"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/policy"
	"github.com/quantfold/perpd/pkg/trade"
	"github.com/quantfold/perpd/pkg/venue"
)

// Emitter pushes a human-readable line to an adapter channel.
type Emitter func(channel, message string)

// Service runs the autonomy scan pipeline. One instance per process; scans
// are serialized by the scheduler lease.
type Service struct {
	cfg       *config.Config
	venue     venue.Client
	executor  *trade.Executor
	limiter   *limiter.Limiter
	policy    *policy.Store
	journal   *journal.Service
	discovery Discovery
	emit      Emitter
	logger    *slog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
	lastMids    map[string]float64
	lastStats   *models.ScanStats
}

// NewService wires the autonomy loop. emit may be nil (no adapter output).
func NewService(cfg *config.Config, v venue.Client, ex *trade.Executor, lim *limiter.Limiter, ps *policy.Store, j *journal.Service, d Discovery, emit Emitter) *Service {
	if cfg == nil {
		panic("autonomy.NewService: config must not be nil")
	}
	if v == nil {
		panic("autonomy.NewService: venue client must not be nil")
	}
	if ex == nil {
		panic("autonomy.NewService: executor must not be nil")
	}
	if d == nil {
		panic("autonomy.NewService: discovery must not be nil")
	}
	return &Service{
		cfg:       cfg,
		venue:     v,
		executor:  ex,
		limiter:   lim,
		policy:    ps,
		journal:   j,
		discovery: d,
		emit:      emit,
		logger:    slog.Default().With("component", "autonomy"),
	}
}

// Paused reports whether the loss-streak pause is active.
func (s *Service) Paused(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.pausedUntil)
}

// LastStats returns the stats of the most recent scan, or nil.
func (s *Service) LastStats() *models.ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

// NextScanInterval adapts the configured scan interval from the latest
// observed stats and account state.
func (s *Service) NextScanInterval(ctx context.Context) time.Duration {
	in := CadenceInput{ConcurrentCap: s.cfg.Autonomy.MaxConcurrent, PerTradeCapUsd: s.cfg.Trading.PerTradeCapUsd}
	if state, err := s.venue.GetClearinghouseState(ctx); err == nil {
		for _, ap := range state.AssetPositions {
			if ap.Position.Szi != 0 {
				in.OpenPositions++
			}
		}
	}
	if s.limiter != nil {
		if remaining, err := s.limiter.Remaining(ctx); err == nil {
			in.RemainingDailyUsd = remaining
		}
	}
	if stats := s.LastStats(); stats != nil {
		in.VolPulsePct = stats.VolPulsePct
	}
	return NextInterval(s.cfg.Autonomy.ScanInterval, in)
}

// Scan runs one tick of the pipeline.
func (s *Service) Scan(ctx context.Context) (*models.ScanStats, error) {
	now := time.Now().UTC()
	stats := &models.ScanStats{At: now, VolPulsePct: s.volPulse(ctx)}

	if s.Paused(now) {
		s.logger.Info("Scan skipped: loss-streak pause active", "until", s.pausedUntil)
		return stats, nil
	}

	st, err := s.reflectPolicy(ctx, now)
	if err != nil {
		s.logger.Warn("Policy reflection failed; scanning with last known state", "error", err)
		st = &models.PolicyState{}
	}
	observationOnly := st.ObservationOnly(now)

	candidates, err := s.discovery.Discover(ctx)
	if err != nil {
		return stats, fmt.Errorf("discovery failed: %w", err)
	}
	stats.Candidates = len(candidates)

	minEdge := s.cfg.Autonomy.MinEdge
	if st.MinEdgeOverride != nil {
		minEdge = *st.MinEdgeOverride
	}
	maxTrades := s.cfg.Autonomy.MaxTradesPerScan
	if st.MaxTradesPerScanOverride != nil && *st.MaxTradesPerScanOverride < maxTrades {
		maxTrades = *st.MaxTradesPerScanOverride
	}

	mids, err := s.venue.GetAllMids(ctx)
	if err != nil {
		return stats, fmt.Errorf("mid fetch failed: %w", err)
	}

	executed := 0
	for _, exp := range candidates {
		weight := SessionWeight(now.Hour(), packString(exp.ContextPack, "liquidity_bucket"))

		gate := Gate(exp, GateInput{
			MinEdge:        minEdge,
			HighConfidence: s.cfg.Autonomy.HighConfidence,
			SessionWeight:  weight,
		})
		if !gate.Pass {
			stats.Gated++
			s.logger.Debug("Expression gated", "symbol", exp.Symbol, "reason", gate.Reason)
			continue
		}

		if observationOnly {
			stats.Blocked++
			s.journalOutcome(ctx, exp, weight, 0, 0, models.JournalOutcomeBlocked,
				fmt.Sprintf("observation-only until %s: %s",
					time.UnixMilli(st.ObservationOnlyUntilMs).UTC().Format(time.RFC3339), st.Reason))
			continue
		}
		if executed >= maxTrades {
			stats.Blocked++
			s.journalOutcome(ctx, exp, weight, 0, 0, models.JournalOutcomeBlocked, "max trades per scan reached")
			continue
		}

		outcome := s.express(ctx, exp, weight, mids, st)
		switch outcome {
		case models.JournalOutcomeExecuted:
			stats.Executed++
			executed++
		case models.JournalOutcomeFailed:
			stats.Failed++
		default:
			stats.Blocked++
		}
	}

	s.checkLossStreak(ctx, now)

	s.mu.Lock()
	s.lastStats = stats
	s.mu.Unlock()
	return stats, nil
}

// express sizes, risk-checks, reserves, and submits one expression, writing
// exactly one journal entry whatever happens. Returns the journal outcome.
func (s *Service) express(ctx context.Context, exp *models.ExpressionPlan, weight float64, mids map[string]float64, st *models.PolicyState) string {
	mark := mids[exp.Symbol]

	remaining := math.MaxFloat64
	if s.limiter != nil {
		if r, err := s.limiter.Remaining(ctx); err == nil {
			remaining = r
		}
	}

	kelly := ComputeFractionalKellyFraction(
		exp.ExpectedEdge,
		packFloat(exp.ContextPack, "signal_expectancy"),
		packFloat(exp.ContextPack, "signal_variance"),
		int(packFloat(exp.ContextPack, "sample_count")),
		s.cfg.Autonomy.KellyMaxFraction,
	)

	sized := SizeProbe(SizingInput{
		ProbeUsd:            exp.ProbeSizeUsd,
		KellyFraction:       kelly,
		SessionWeight:       weight,
		NewsTrigger:         exp.NewsTrigger,
		NewsSizeCapFraction: s.cfg.Autonomy.NewsSizeCapFraction,
		RemainingDailyUsd:   remaining,
		MinOrderUsd:         s.cfg.Trading.MinOrderUsd,
		MarkPrice:           mark,
	})
	if sized.Rejected {
		s.journalSized(ctx, exp, weight, kelly, sized, models.JournalOutcomeBlocked, sized.Reason)
		return models.JournalOutcomeBlocked
	}

	marketMax := s.marketMaxLeverage(ctx, exp.Symbol)
	levCap := EffectiveLeverageCap(s.cfg.Trading.MaxLeverage, st.LeverageCapOverride, marketMax)
	leverage := math.Min(exp.Leverage, levCap)

	if err := CheckPerpRiskLimits(RiskInput{
		NotionalUsd:    sized.ProbeUsd * leverage,
		Leverage:       leverage,
		LeverageCap:    levCap,
		MarketMax:      marketMax,
		MaxNotionalUsd: s.cfg.Trading.MaxNotionalUsd,
	}); err != nil {
		s.emitLine(fmt.Sprintf("%s %s blocked by risk limits: %v", exp.Symbol, exp.Side, err))
		s.journalSized(ctx, exp, weight, kelly, sized, models.JournalOutcomeBlocked, err.Error())
		return models.JournalOutcomeBlocked
	}

	reservationID := ""
	if s.limiter != nil {
		id, err := s.limiter.CheckAndReserve(ctx, sized.ProbeUsd)
		if err != nil {
			if errors.Is(err, limiter.ErrBudgetExceeded) {
				s.emitLine(fmt.Sprintf("%s %s blocked by budget: %v", exp.Symbol, exp.Side, err))
			}
			s.journalSized(ctx, exp, weight, kelly, sized, models.JournalOutcomeBlocked, err.Error())
			return models.JournalOutcomeBlocked
		}
		reservationID = id
	}

	order := &models.OrderRequest{
		Symbol:         exp.Symbol,
		Side:           exp.Side,
		Size:           sized.Size,
		OrderType:      "market",
		Cloid:          uuid.New().String(),
		TradeArchetype: models.ArchetypeIntraday,
		MarketRegime:   exp.MarketRegime,
		EntryTrigger:   entryTrigger(exp),
	}
	fill, err := s.executor.Execute(ctx, order, reservationID)
	if err != nil {
		s.journalSized(ctx, exp, weight, kelly, sized, models.JournalOutcomeFailed, err.Error())
		return models.JournalOutcomeFailed
	}

	s.emitLine(fmt.Sprintf("%s %s executed: size %.4f @ %.2f (%.0f bps)",
		fill.Symbol, fill.Side, fill.Size, fill.AvgPrice, float64(fill.SlippageBps)))
	s.journalSized(ctx, exp, weight, kelly, sized, models.JournalOutcomeExecuted, "")
	return models.JournalOutcomeExecuted
}

func entryTrigger(exp *models.ExpressionPlan) string {
	if exp.NewsTrigger {
		return models.EntryTriggerNews
	}
	return models.EntryTriggerTechnical
}

// reflectPolicy applies the adaptive mutation under the policy row lock and
// returns the resulting state.
func (s *Service) reflectPolicy(ctx context.Context, now time.Time) (*models.PolicyState, error) {
	if s.policy == nil {
		return &models.PolicyState{}, nil
	}
	var entries []*models.JournalEntry
	if s.journal != nil {
		var err error
		entries, err = s.journal.Recent(ctx, 50)
		if err != nil {
			s.logger.Warn("Journal read failed before policy reflection", "error", err)
		}
	}
	return s.policy.Update(ctx, func(st *models.PolicyState) error {
		policy.Reflect(st, policy.ReflectionInput{
			Entries:              entries,
			Now:                  now,
			BaseMinEdge:          s.cfg.Autonomy.MinEdge,
			BaseMaxTradesPerScan: s.cfg.Autonomy.MaxTradesPerScan,
			BaseLeverageCap:      s.cfg.Trading.MaxLeverage,
		})
		return nil
	})
}

// checkLossStreak arms the pause when the close streak hits the limit.
func (s *Service) checkLossStreak(ctx context.Context, now time.Time) {
	limit := s.cfg.Autonomy.LossStreakLimit
	if limit <= 0 || s.journal == nil {
		return
	}
	entries, err := s.journal.Recent(ctx, 50)
	if err != nil {
		return
	}
	if ShouldPause(LossStreak(entries), limit) {
		until := now.Add(s.cfg.Autonomy.LossStreakPause)
		s.mu.Lock()
		alreadyPaused := now.Before(s.pausedUntil)
		if !alreadyPaused {
			s.pausedUntil = until
		}
		s.mu.Unlock()
		if !alreadyPaused {
			s.logger.Warn("Loss streak hit; pausing autonomy", "limit", limit, "until", until)
			s.emitLine(fmt.Sprintf("Autonomy paused until %s after %d consecutive losing closes",
				until.Format(time.RFC3339), limit))
		}
	}
}

// volPulse measures the average absolute mid move since the previous scan,
// in percent.
func (s *Service) volPulse(ctx context.Context) float64 {
	mids, err := s.venue.GetAllMids(ctx)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	prev := s.lastMids
	s.lastMids = mids
	s.mu.Unlock()
	if len(prev) == 0 {
		return 0
	}

	var sum float64
	var n int
	for sym, px := range mids {
		if old, ok := prev[sym]; ok && old > 0 {
			sum += math.Abs(px-old) / old * 100
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (s *Service) marketMaxLeverage(ctx context.Context, symbol string) float64 {
	meta, _, err := s.venue.GetMetaAndAssetCtxs(ctx)
	if err != nil {
		return 0
	}
	for _, m := range meta {
		if m.Name == symbol {
			return m.MaxLeverage
		}
	}
	return 0
}

func (s *Service) journalSized(ctx context.Context, exp *models.ExpressionPlan, weight, kelly float64, sized SizingResult, outcome, errMsg string) {
	s.journalWrite(ctx, exp, weight, kelly, sized.SizingModifier, sized.ProbeUsd, sized.Size, outcome, errMsg)
}

func (s *Service) journalOutcome(ctx context.Context, exp *models.ExpressionPlan, weight, sizeUsd, size float64, outcome, errMsg string) {
	s.journalWrite(ctx, exp, weight, 0, 0, sizeUsd, size, outcome, errMsg)
}

func (s *Service) journalWrite(ctx context.Context, exp *models.ExpressionPlan, weight, kelly, modifier, sizeUsd, size float64, outcome, errMsg string) {
	if s.journal == nil {
		return
	}
	entry := &models.JournalEntry{
		Symbol:             exp.Symbol,
		Side:               exp.Side,
		Outcome:            outcome,
		SizeUsd:            sizeUsd,
		Size:               size,
		Error:              errMsg,
		SignalClass:        exp.SignalClass,
		MarketRegime:       exp.MarketRegime,
		LiquidityBucket:    packString(exp.ContextPack, "liquidity_bucket"),
		NewsSource:         exp.NewsSource,
		Confidence:         exp.Confidence,
		WeightedConfidence: exp.Confidence * weight,
		SizingModifier:     modifier,
		KellyFraction:      kelly,
		ContextPack:        exp.ContextPack,
	}
	if _, err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Warn("Journal write failed", "symbol", exp.Symbol, "error", err)
	}
}

func (s *Service) emitLine(msg string) {
	if s.emit == nil {
		return
	}
	channels := s.cfg.System.Channels
	if len(channels) == 0 {
		channels = []string{"default"}
	}
	for _, ch := range channels {
		s.emit(ch, msg)
	}
}

func packString(pack map[string]any, key string) string {
	if pack == nil {
		return ""
	}
	s, _ := pack[key].(string)
	return s
}

func packFloat(pack map[string]any, key string) float64 {
	if pack == nil {
		return 0
	}
	switch v := pack[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
