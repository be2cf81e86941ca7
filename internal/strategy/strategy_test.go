package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/models"
)

func TestProfileWeightsSumToCeiling(t *testing.T) {
	for _, name := range AllNames() {
		p, ok := DefaultProfile(name)
		require.True(t, ok, name)
		assert.InDelta(t, p.Ceiling, p.Weights.Sum(), 1e-9, "%s weights", name)
		assert.NoError(t, p.Validate(), name)
		for _, pillar := range models.AllPillars {
			assert.GreaterOrEqual(t, p.Weights.Get(pillar), 0.0)
		}
	}
}

func TestCeilingsDifferAcrossProfiles(t *testing.T) {
	seen := map[float64]bool{}
	for _, p := range DefaultProfiles() {
		seen[p.Ceiling] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestProfileValidateRejectsBadWeights(t *testing.T) {
	p, _ := DefaultProfile(Swing)
	p.Weights.Sentiment += 5
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMalformedProfile))

	p, _ = DefaultProfile(Grid)
	p.Weights.Volatility = math.NaN()
	assert.Error(t, p.Validate())
}

func TestSelectScenarios(t *testing.T) {
	tests := []struct {
		name   string
		regime models.Regime
		ind    models.IndicatorSet
		want   Name
	}{
		{"strong trend rsi above 50", models.RegimeStrongTrend, models.IndicatorSet{ADX: 45, RSI: 62}, Momentum},
		{"strong trend rsi at 50", models.RegimeStrongTrend, models.IndicatorSet{ADX: 45, RSI: 50}, Breakout},
		{"moderate extreme low", models.RegimeModerateTrend, models.IndicatorSet{RSI: 25, ATRPercent: 3}, MeanReversion},
		{"moderate extreme high", models.RegimeModerateTrend, models.IndicatorSet{RSI: 75, ATRPercent: 0.4}, MeanReversion},
		{"moderate calm", models.RegimeModerateTrend, models.IndicatorSet{RSI: 55, ATRPercent: 1.5}, Swing},
		{"moderate volatile", models.RegimeModerateTrend, models.IndicatorSet{RSI: 55, ATRPercent: 1.6}, Momentum},
		{"sideways quiet", models.RegimeSideways, models.IndicatorSet{RSI: 50, ATRPercent: 0.4}, Scalping},
		{"sideways mild", models.RegimeSideways, models.IndicatorSet{RSI: 50, ATRPercent: 0.5}, Grid},
		{"sideways active", models.RegimeSideways, models.IndicatorSet{RSI: 50, ATRPercent: 1.0}, Day},
		{"volatile with volume", models.RegimeHighVolatility, models.IndicatorSet{VolumeConfirmed: true}, Breakout},
		{"volatile without volume", models.RegimeHighVolatility, models.IndicatorSet{}, Scalping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.regime, tt.ind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectSidewaysExtremeIgnoresATR(t *testing.T) {
	for _, atr := range []float64{0.1, 0.7, 1.2, 5} {
		got, err := Select(models.RegimeSideways, models.IndicatorSet{ADX: 18, RSI: 72, ATRPercent: atr})
		require.NoError(t, err)
		assert.Equal(t, MeanReversion, got, "atr%% %.1f", atr)
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	ind := models.IndicatorSet{ADX: 30, RSI: 55, ATRPercent: 1.2}
	first, _ := Select(models.RegimeModerateTrend, ind)
	for i := 0; i < 100; i++ {
		got, _ := Select(models.RegimeModerateTrend, ind)
		assert.Equal(t, first, got)
	}
}

func TestSelectChaos(t *testing.T) {
	_, err := Select(models.RegimeChaos, models.IndicatorSet{})
	assert.True(t, errors.Is(err, models.ErrNoEligibleStrategy))
}

func TestSelectForAssetPin(t *testing.T) {
	asset := models.Asset{ID: "GOLD", PreferredStrategy: "grid"}
	sel, err := SelectForAsset(asset, models.RegimeStrongTrend, models.IndicatorSet{RSI: 60})
	require.NoError(t, err)
	assert.Equal(t, Grid, sel.Strategy)
	assert.Equal(t, Momentum, sel.Selected)
	assert.True(t, sel.Pinned)

	_, err = SelectForAsset(asset, models.RegimeChaos, models.IndicatorSet{})
	assert.True(t, errors.Is(err, models.ErrNoEligibleStrategy))
}

func TestDirectionPolicy(t *testing.T) {
	mr, _ := DefaultProfile(MeanReversion)
	assert.Equal(t, models.Short, mr.Direction(models.MarketSnapshot{Indicators: models.IndicatorSet{RSI: 75}}))
	assert.Equal(t, models.Long, mr.Direction(models.MarketSnapshot{Indicators: models.IndicatorSet{RSI: 25}}))

	mom, _ := DefaultProfile(Momentum)
	assert.Equal(t, models.Long, mom.Direction(models.MarketSnapshot{Trend: models.TrendUp}))
	assert.Equal(t, models.Short, mom.Direction(models.MarketSnapshot{Trend: models.TrendDown}))
	flat := models.MarketSnapshot{Trend: models.TrendFlat, Indicators: models.IndicatorSet{MACD: models.MACD{Histogram: -1}}}
	assert.Equal(t, models.Short, mom.Direction(flat))

	grid, _ := DefaultProfile(Grid)
	assert.Equal(t, models.Short, grid.Direction(models.MarketSnapshot{Price: 101, Indicators: models.IndicatorSet{EMA20: 100}}))
}

func TestTiersAreOrdered(t *testing.T) {
	require.NoError(t, ValidateTiers(DefaultTiers()))

	tiers := DefaultTiers()
	agg := tiers[Aggressive]
	agg.HighRisk = 0.005
	agg.MediumRisk = 0.004
	agg.LowRisk = 0.003
	tiers[Aggressive] = agg
	assert.Error(t, ValidateTiers(tiers))
}

func TestTierBuckets(t *testing.T) {
	tier := DefaultTiers()[Standard]
	assert.Equal(t, BucketLow, tier.BucketFor(0.65))
	assert.Equal(t, BucketMedium, tier.BucketFor(0.70))
	assert.Equal(t, BucketHigh, tier.BucketFor(0.95))

	prev := 0.0
	for _, c := range []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0} {
		f := tier.RiskFraction(tier.BucketFor(c))
		assert.GreaterOrEqual(t, f, prev)
		prev = f
	}
}

func TestSettingsVersioning(t *testing.T) {
	s, err := DefaultSettings(Standard)
	require.NoError(t, err)
	store := NewStore(s)

	var seen []int64
	store.OnChange(func(prev, next *Settings) { seen = append(seen, next.Version) })

	swing, err := store.GetStrategyProfile(Swing)
	require.NoError(t, err)
	swing.StopLossPct = 2.0
	next, err := store.UpdateProfile(swing)
	require.NoError(t, err)

	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, []int64{2}, seen)
	assert.Equal(t, 1.5, s.Profiles[Swing].StopLossPct, "old version is untouched")
	assert.Equal(t, 2.0, store.Current().Profiles[Swing].StopLossPct)

	swing.Weights.BaseSignal = 90
	_, err = store.UpdateProfile(swing)
	assert.True(t, errors.Is(err, models.ErrMalformedProfile))
	assert.Equal(t, int64(2), store.Current().Version)

	_, err = store.SetActiveTier("reckless")
	assert.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
active_tier: conservative
profiles:
  scalping:
    stop_loss_pct: 0.4
    cooldown: 2m
  grid:
    weights: {base_signal: 25, trend_confluence: 15, volatility: 35, sentiment: 10}
`)
	s, err := ParseOverrides(data, Standard)
	require.NoError(t, err)
	assert.Equal(t, Conservative, s.ActiveTier)
	assert.Equal(t, 0.4, s.Profiles[Scalping].StopLossPct)
	assert.Equal(t, 2*time.Minute, s.Profiles[Scalping].Cooldown)
	assert.Equal(t, 25.0, s.Profiles[Grid].Weights.BaseSignal)

	bad := []byte(`
profiles:
  grid:
    weights: {base_signal: 50, trend_confluence: 15, volatility: 35, sentiment: 10}
`)
	_, err = ParseOverrides(bad, Standard)
	assert.True(t, errors.Is(err, models.ErrMalformedProfile))
}
