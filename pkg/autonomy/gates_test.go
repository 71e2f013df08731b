package autonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/perpd/pkg/models"
)

func gateInput() GateInput {
	return GateInput{MinEdge: 0.004, HighConfidence: 0.65, SessionWeight: 1.0}
}

func expression() *models.ExpressionPlan {
	return &models.ExpressionPlan{
		Symbol:       "BTC",
		Side:         "buy",
		ExpectedEdge: 0.01,
		Confidence:   0.8,
		SignalClass:  "momentum",
		MarketRegime: models.RegimeTrending,
	}
}

func TestGate(t *testing.T) {
	t.Run("allowed class and regime passes", func(t *testing.T) {
		res := Gate(expression(), gateInput())
		assert.True(t, res.Pass)
	})

	t.Run("momentum blocked in choppy", func(t *testing.T) {
		exp := expression()
		exp.MarketRegime = models.RegimeChoppy
		res := Gate(exp, gateInput())
		assert.False(t, res.Pass)
		assert.Contains(t, res.Reason, "not expressible")
	})

	t.Run("mean reversion allowed in compression", func(t *testing.T) {
		exp := expression()
		exp.SignalClass = "mean_reversion"
		exp.MarketRegime = models.RegimeLowVolCompress
		assert.True(t, Gate(exp, gateInput()).Pass)
	})

	t.Run("news class expressible in any regime", func(t *testing.T) {
		for _, regime := range []string{
			models.RegimeTrending, models.RegimeChoppy,
			models.RegimeHighVolExpansion, models.RegimeLowVolCompress,
		} {
			exp := expression()
			exp.SignalClass = "news"
			exp.MarketRegime = regime
			exp.NewsTrigger = true
			exp.NewsSource = "exchange announcement"
			assert.True(t, Gate(exp, gateInput()).Pass, regime)
		}
	})

	t.Run("unknown class pays an edge premium", func(t *testing.T) {
		exp := expression()
		exp.SignalClass = "arbitrage"
		exp.ExpectedEdge = 0.0045 // above 0.004 but below 0.005
		res := Gate(exp, gateInput())
		assert.False(t, res.Pass)
		assert.Contains(t, res.Reason, "below effective minimum")

		exp.ExpectedEdge = 0.006
		assert.True(t, Gate(exp, gateInput()).Pass)
	})

	t.Run("empty regime pays an edge premium", func(t *testing.T) {
		exp := expression()
		exp.MarketRegime = ""
		exp.ExpectedEdge = 0.0045
		assert.False(t, Gate(exp, gateInput()).Pass)
	})

	t.Run("news trigger requires a source", func(t *testing.T) {
		exp := expression()
		exp.NewsTrigger = true
		res := Gate(exp, gateInput())
		assert.False(t, res.Pass)
		assert.Contains(t, res.Reason, "news source")
	})

	t.Run("high confidence applies to the weighted confidence", func(t *testing.T) {
		exp := expression()
		exp.Confidence = 0.8
		in := gateInput()
		in.SessionWeight = 0.6 // weighted 0.48 < 0.65
		res := Gate(exp, in)
		assert.False(t, res.Pass)
		assert.Contains(t, res.Reason, "weighted confidence")

		in.SessionWeight = 1.0
		assert.True(t, Gate(exp, in).Pass)
	})

	t.Run("zero high-confidence threshold disables the check", func(t *testing.T) {
		exp := expression()
		exp.Confidence = 0.1
		in := gateInput()
		in.HighConfidence = 0
		assert.True(t, Gate(exp, in).Pass)
	})
}
