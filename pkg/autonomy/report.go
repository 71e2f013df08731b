package autonomy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantfold/perpd/pkg/models"
)

// DailyReport composes the end-of-day summary from today's journal and a
// fresh discovery snapshot, and emits it to the configured channels.
func (s *Service) DailyReport(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var entries []*models.JournalEntry
	if s.journal != nil {
		var err error
		entries, err = s.journal.Since(ctx, midnight)
		if err != nil {
			return "", fmt.Errorf("journal read for daily report failed: %w", err)
		}
	}

	var executed, failed, blocked int
	var pnl, volume float64
	bySymbol := map[string]int{}
	for _, e := range entries {
		switch e.Outcome {
		case models.JournalOutcomeExecuted:
			executed++
			volume += e.SizeUsd
		case models.JournalOutcomeFailed:
			failed++
		case models.JournalOutcomeBlocked:
			blocked++
		}
		if e.PnlUsd != nil {
			pnl += *e.PnlUsd
		}
		bySymbol[e.Symbol]++
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Daily report %s\n", now.Format("2006-01-02")))
	sb.WriteString(fmt.Sprintf("Trades: %d executed, %d failed, %d blocked. Volume $%.2f. Realized P&L $%.2f.\n",
		executed, failed, blocked, volume, pnl))
	if len(bySymbol) > 0 {
		var parts []string
		for sym, n := range bySymbol {
			parts = append(parts, fmt.Sprintf("%s:%d", sym, n))
		}
		sb.WriteString("Activity: " + strings.Join(parts, " ") + "\n")
	}

	if candidates, err := s.discovery.Discover(ctx); err == nil {
		sb.WriteString(fmt.Sprintf("Current scan: %d candidate expression(s)", len(candidates)))
		for i, c := range candidates {
			if i == 5 {
				sb.WriteString(" ...")
				break
			}
			sb.WriteString(fmt.Sprintf("\n- %s %s edge %.4f conf %.2f (%s)",
				c.Symbol, c.Side, c.ExpectedEdge, c.Confidence, c.SignalClass))
		}
	}

	report := sb.String()
	s.emitLine(report)
	return report, nil
}
