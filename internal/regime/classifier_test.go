package regime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/models"
)

func createTrendBars(count int, step float64) []models.Bar {
	bars := make([]models.Bar, count)
	for i := range bars {
		c := 1000 + float64(i)*step
		bars[i] = models.Bar{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	return bars
}

func TestClassifyInsufficientHistory(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	_, err := c.Classify(createTrendBars(c.MinBars()-1, 0.5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))
}

func TestClassifyExactlyMinimumHistory(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	_, err := c.Classify(createTrendBars(c.MinBars(), 0.5))
	assert.NoError(t, err)
}

func TestClassifyZeroATR(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	bars := make([]models.Bar, 300)
	for i := range bars {
		bars[i] = models.Bar{Open: 100, High: 100, Low: 100, Close: 100}
	}
	_, err := c.Classify(bars)
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))
}

func TestClassifySteadyTrend(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	got, err := c.Classify(createTrendBars(300, 0.5))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeStrongTrend, got.Regime)
	assert.Equal(t, models.TrendUp, got.Trend)
	assert.Greater(t, got.Indicators.ADX, 40.0)
	assert.Greater(t, got.Indicators.ATRPercent, 0.0)
}

func TestClassifyVolatilitySpike(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	bars := createTrendBars(300, 0.5)
	for i := len(bars) - 3; i < len(bars); i++ {
		bars[i].High = bars[i].Close + 20
		bars[i].Low = bars[i].Close - 20
	}
	got, err := c.Classify(bars)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeHighVolatility, got.Regime, "direction is stable so the chaos ceiling does not apply")
}

func TestLabelBands(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	calm := models.IndicatorSet{ATRPercent: 1, ATRBaselinePct: 1, EMA20: 110, EMA50: 105, EMA200: 100}

	tests := []struct {
		name string
		adx  float64
		want models.Regime
	}{
		{"strong above 40", 45, models.RegimeStrongTrend},
		{"40 is moderate", 40, models.RegimeModerateTrend},
		{"25 is moderate", 25, models.RegimeModerateTrend},
		{"below 25 sideways", 18, models.RegimeSideways},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := calm
			set.ADX = tt.adx
			assert.Equal(t, tt.want, c.label(set))
		})
	}
}

func TestLabelVolatilityOverrides(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	spike := models.IndicatorSet{ADX: 18, ATRPercent: 3, ATRBaselinePct: 1, EMA20: 110, EMA50: 105, EMA200: 100}
	assert.Equal(t, models.RegimeHighVolatility, c.label(spike))

	unstable := models.IndicatorSet{ADX: 45, ATRPercent: 5, ATRBaselinePct: 1, EMA20: 102, EMA50: 98, EMA200: 100}
	assert.Equal(t, models.RegimeChaos, c.label(unstable))

	stable := unstable
	stable.EMA50 = 101
	assert.Equal(t, models.RegimeHighVolatility, c.label(stable))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.ChaosCeiling = 2
	assert.Error(t, bad.Validate())
}
