package autonomy

import (
	"fmt"

	"github.com/quantfold/perpd/pkg/models"
)

// classRegimeAllowed is the global trade gate: which signal classes may
// express in which market regimes. Classes or regimes outside the table pass
// only with a 1.25x edge premium.
var classRegimeAllowed = map[string]map[string]bool{
	"momentum": {
		models.RegimeTrending:         true,
		models.RegimeHighVolExpansion: true,
	},
	"mean_reversion": {
		models.RegimeChoppy:         true,
		models.RegimeLowVolCompress: true,
	},
	"carry": {
		models.RegimeChoppy:         true,
		models.RegimeLowVolCompress: true,
	},
	"news": {
		models.RegimeTrending:         true,
		models.RegimeChoppy:           true,
		models.RegimeHighVolExpansion: true,
		models.RegimeLowVolCompress:   true,
	},
}

// GateInput carries the thresholds effective for this scan: configuration
// merged with any policy overrides.
type GateInput struct {
	MinEdge        float64
	HighConfidence float64
	SessionWeight  float64
}

// GateResult explains a gating decision.
type GateResult struct {
	Pass   bool
	Reason string
}

// Gate filters one expression through the global trade gate, the news entry
// gate, and the adaptive min-edge. The high-confidence requirement applies
// to the session-weighted confidence only.
func Gate(exp *models.ExpressionPlan, in GateInput) GateResult {
	minEdge := in.MinEdge

	regimes, knownClass := classRegimeAllowed[exp.SignalClass]
	switch {
	case !knownClass || exp.MarketRegime == "":
		minEdge *= 1.25
	case !regimes[exp.MarketRegime]:
		return GateResult{Reason: fmt.Sprintf(
			"signal class %q not expressible in regime %q", exp.SignalClass, exp.MarketRegime)}
	}

	if exp.NewsTrigger && exp.NewsSource == "" {
		return GateResult{Reason: "news-triggered expression without a news source"}
	}

	if exp.ExpectedEdge < minEdge {
		return GateResult{Reason: fmt.Sprintf(
			"edge %.4f below effective minimum %.4f", exp.ExpectedEdge, minEdge)}
	}

	weighted := exp.Confidence * in.SessionWeight
	if in.HighConfidence > 0 && weighted < in.HighConfidence {
		return GateResult{Reason: fmt.Sprintf(
			"weighted confidence %.2f below requirement %.2f", weighted, in.HighConfidence)}
	}

	return GateResult{Pass: true}
}
