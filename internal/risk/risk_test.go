package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

func TestSpreadAwareLevelsScenario(t *testing.T) {
	levels, err := SpreadAwareLevels(LevelRequest{
		EntryPrice:       2000,
		Direction:        models.Long,
		StopLossPct:      1.5,
		TakeProfitPct:    2.5,
		Spread:           1.0,
		SpreadMultiplier: 2.0,
		TickSize:         0.01,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1970.00, levels.RawStopLoss, 1e-9)
	assert.InDelta(t, 2050.00, levels.RawTakeProfit, 1e-9)
	assert.InDelta(t, 1968.50, levels.StopLoss, 1e-9)
	assert.Greater(t, levels.TakeProfit, 2050.00)
	assert.InDelta(t, 2052.50, levels.TakeProfit, 1e-9)

	rr := (levels.TakeProfit - 2000) / (2000 - levels.StopLoss)
	assert.InDelta(t, 2.5/1.5, rr, 1e-6, "reward:risk preserved")
}

func TestSpreadAwareLevelsShort(t *testing.T) {
	levels, err := SpreadAwareLevels(LevelRequest{
		EntryPrice:       2000,
		Direction:        models.Short,
		StopLossPct:      1.5,
		TakeProfitPct:    2.5,
		Spread:           1.0,
		SpreadMultiplier: 2.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2031.50, levels.StopLoss, 1e-9)
	assert.InDelta(t, 1947.50, levels.TakeProfit, 1e-9)
}

func TestSpreadAwareLevelsWiderSpreadWidensStop(t *testing.T) {
	req := LevelRequest{EntryPrice: 2000, Direction: models.Long, StopLossPct: 1.5, TakeProfitPct: 2.5, SpreadMultiplier: 1.5}
	noSpread, err := SpreadAwareLevels(req)
	require.NoError(t, err)
	assert.InDelta(t, 1970.0, noSpread.StopLoss, 1e-9)

	req.Spread = 2.0
	wide, err := SpreadAwareLevels(req)
	require.NoError(t, err)
	assert.Less(t, wide.StopLoss, noSpread.StopLoss)
	assert.Greater(t, wide.TakeProfit, noSpread.TakeProfit)
}

func TestSpreadAwareLevelsRejectsBadInput(t *testing.T) {
	_, err := SpreadAwareLevels(LevelRequest{EntryPrice: 0, StopLossPct: 1, TakeProfitPct: 2})
	assert.True(t, errors.Is(err, models.ErrInvalidSignal))

	_, err = SpreadAwareLevels(LevelRequest{EntryPrice: 100, StopLossPct: 0, TakeProfitPct: 2})
	assert.True(t, errors.Is(err, models.ErrInvalidSignal))
}

func sizeRequest(tier strategy.TierName, normalized float64) SizeRequest {
	swing, _ := strategy.DefaultProfile(strategy.Swing)
	return SizeRequest{
		AssetID:    "GOLD",
		Balance:    10000,
		Confidence: models.ConfidenceScore{Aggregate: normalized * 100, Ceiling: 100},
		Tier:       strategy.DefaultTiers()[tier],
		Profile:    swing,
		EntryPrice: 2000,
		StopLoss:   1968.5,
		UnitValue:  100,
	}
}

func TestSizerBuckets(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())

	low, err := s.Size(sizeRequest(strategy.Standard, 0.65))
	require.NoError(t, err)
	assert.Equal(t, strategy.BucketLow, low.Bucket)
	assert.InDelta(t, 0.03, low.Quantity, 1e-9)

	mid, err := s.Size(sizeRequest(strategy.Standard, 0.75))
	require.NoError(t, err)
	assert.Equal(t, strategy.BucketMedium, mid.Bucket)
	assert.InDelta(t, 0.04, mid.Quantity, 1e-9)

	high, err := s.Size(sizeRequest(strategy.Standard, 0.90))
	require.NoError(t, err)
	assert.Equal(t, strategy.BucketHigh, high.Bucket)
	assert.InDelta(t, 0.06, high.Quantity, 1e-9)
	assert.InDelta(t, 1.89, high.RiskPercent, 1e-9)
}

func TestSizerMonotonicAndBounded(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())
	for name, tier := range strategy.DefaultTiers() {
		prevQty, prevFrac := 0.0, 0.0
		for c := tier.MinConfidence + 0.001; c <= 1.0; c += 0.01 {
			req := sizeRequest(name, c)
			res, err := s.Size(req)
			require.NoError(t, err, "%s at %.2f", name, c)
			assert.GreaterOrEqual(t, res.RiskFraction, prevFrac)
			assert.GreaterOrEqual(t, res.Quantity, prevQty)
			assert.GreaterOrEqual(t, res.Quantity, 0.01)
			assert.LessOrEqual(t, res.Quantity, tier.MaxLot)
			prevQty, prevFrac = res.Quantity, res.RiskFraction
		}
	}
}

func TestSizerClamps(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())

	tiny := sizeRequest(strategy.Standard, 0.65)
	tiny.Balance = 100
	tiny.Tier.MaxExposurePct = 100
	res, err := s.Size(tiny)
	require.NoError(t, err)
	assert.Equal(t, 0.01, res.Quantity)
	assert.Equal(t, "min_lot", res.Clamp)

	huge := sizeRequest(strategy.Standard, 0.90)
	huge.UnitValue = 1
	huge.Tier.MaxExposurePct = 100
	res, err = s.Size(huge)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Quantity)
	assert.Equal(t, "max_lot", res.Clamp)
}

func TestSizerRejectsZeroStopDistance(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())
	req := sizeRequest(strategy.Standard, 0.9)
	req.StopLoss = req.EntryPrice
	_, err := s.Size(req)
	assert.True(t, errors.Is(err, models.ErrInvalidSignal))
}

func TestSizerTierFloor(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())
	_, err := s.Size(sizeRequest(strategy.Standard, 0.55))
	assert.True(t, errors.Is(err, models.ErrInvalidSignal))
}

func TestSizerExposureLimit(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())
	req := sizeRequest(strategy.Standard, 0.90)
	req.CurrentExposurePct = 5.5
	_, err := s.Size(req)
	assert.True(t, errors.Is(err, models.ErrRiskLimitExceeded))
}

func TestComputeRiskState(t *testing.T) {
	now := time.Now()
	positions := []models.Position{
		{AssetID: "GOLD", Broker: "mt5", EntryPrice: 2000, StopLoss: 1968.5, Quantity: 0.06, Status: models.PositionOpen},
		{AssetID: "GOLD", Broker: "oanda", EntryPrice: 2000, StopLoss: 1968.5, Quantity: 1, Status: models.PositionOpen},
		{AssetID: "GOLD", Broker: "mt5", EntryPrice: 2000, StopLoss: 1968.5, Quantity: 1, Status: models.PositionClosed},
	}
	state := ComputeRiskState("mt5", models.AccountState{Balance: 10000, Equity: 9800, Margin: 500}, positions,
		func(string) float64 { return 100 }, now)

	assert.Equal(t, 1, state.OpenPositions)
	assert.InDelta(t, 1.89, state.ExposurePercent, 1e-9)
	assert.InDelta(t, 2.0, state.DrawdownPercent, 1e-9)
	assert.InDelta(t, 9300.0, state.AvailableMargin, 1e-9)

	d := NewDegradation()
	assert.True(t, d.MarkDegraded("mt5", "timeout"))
	assert.False(t, d.MarkDegraded("mt5", "timeout"))
	state = d.Apply(state)
	assert.True(t, state.Degraded)
	assert.Equal(t, "timeout", state.DegradedReason)
	assert.True(t, d.MarkHealthy("mt5"))
	assert.False(t, d.Apply(state).Degraded)
}

func TestLossBreaker(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	b := NewLossBreaker(DefaultBreakerConfig())
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		ok, _ := b.CanTrade()
		require.True(t, ok)
		b.RecordClose(-0.5)
	}
	ok, reason := b.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "consecutive losses")

	now = now.Add(61 * time.Minute)
	ok, _ = b.CanTrade()
	assert.True(t, ok)
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordClose(1.2)
	assert.Equal(t, StateClosed, b.State())
}
