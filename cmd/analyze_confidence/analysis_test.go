package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/database"
	"trading-decision-engine/internal/models"
)

func outcome(strategy string, regime models.Regime, aggregate, pnl float64) database.ConfidenceOutcome {
	return database.ConfidenceOutcome{Strategy: strategy, Regime: regime, Aggregate: aggregate, Ceiling: 100, PnL: pnl}
}

func TestAnalyzeBucketsAndThresholds(t *testing.T) {
	outcomes := []database.ConfidenceOutcome{
		outcome("swing", models.RegimeStrongTrend, 55, -40),
		outcome("swing", models.RegimeStrongTrend, 58, -20),
		outcome("day", models.RegimeSideways, 72, 30),
		outcome("day", models.RegimeSideways, 91, 50),
		outcome("swing", models.RegimeStrongTrend, 100, 10),
	}

	r := Analyze(outcomes, nil, nil)
	require.Equal(t, 5, r.Trades)

	// 50-60 bucket holds the two losers
	require.Len(t, r.Buckets, 6)
	low := r.Buckets[1]
	assert.Equal(t, 2, low.TotalTrades)
	assert.Equal(t, 2, low.LosingTrades)
	assert.InDelta(t, -30, low.AvgPnL, 1e-9)
	assert.Equal(t, 0.0, low.WinRate)

	// a full-ceiling score lands in the top bucket
	top := r.Buckets[len(r.Buckets)-1]
	assert.Equal(t, 2, top.TotalTrades)

	assert.Equal(t, 3, r.ByStrategy["swing"].TotalTrades)
	assert.InDelta(t, 100.0, r.ByRegime[string(models.RegimeSideways)].WinRate, 1e-9)

	assert.Equal(t, 0.60, r.BestThreshold)
	assert.InDelta(t, 60, r.AvoidedLoss, 1e-9)

	var sixty ThresholdResult
	for _, th := range r.Thresholds {
		if th.Threshold == 0.60 {
			sixty = th
		}
	}
	assert.Equal(t, 3, sixty.Included.TotalTrades)
	assert.Equal(t, 2, sixty.Excluded.TotalTrades)
}

func TestAnalyzeNoOutcomes(t *testing.T) {
	r := Analyze(nil, []float64{0, 0.5, 1.01}, []float64{0.5})
	assert.Equal(t, 0, r.Trades)
	assert.Len(t, r.Buckets, 2)
	assert.Zero(t, r.BestThreshold)

	var buf bytes.Buffer
	printReport(&buf, r, 7)
	assert.Contains(t, buf.String(), "No closed positions")
}

func TestPrintReport(t *testing.T) {
	r := Analyze([]database.ConfidenceOutcome{outcome("swing", models.RegimeStrongTrend, 40, -5)}, nil, nil)
	var buf bytes.Buffer
	printReport(&buf, r, 30)
	out := buf.String()
	assert.Contains(t, out, "Analyzing 1 closed positions")
	assert.Contains(t, out, "BY STRATEGY")
	assert.Contains(t, out, "Best threshold: 50%")
}
