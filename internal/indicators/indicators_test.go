package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trading-decision-engine/internal/models"
)

// createRisingBars builds a steady uptrend with a fixed bar range
func createRisingBars(count int, start, step float64) []models.Bar {
	bars := make([]models.Bar, count)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		c := start + float64(i)*step
		bars[i] = models.Bar{
			OpenTime: t0.Add(time.Duration(i) * time.Hour),
			Open:     c - step/2,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   1000,
		}
	}
	return bars
}

// createChoppyBars alternates between two closes
func createChoppyBars(count int) []models.Bar {
	bars := make([]models.Bar, count)
	for i := 0; i < count; i++ {
		c := 100.0
		if i%2 == 1 {
			c = 101.0
		}
		bars[i] = models.Bar{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	return bars
}

func TestSMAAndEMA(t *testing.T) {
	bars := createRisingBars(10, 1, 1) // closes 1..10
	assert.InDelta(t, 8.0, SMA(bars, 5), 1e-9)
	assert.Zero(t, SMA(bars, 20))

	flat := createRisingBars(50, 100, 0)
	assert.InDelta(t, 100.0, EMA(flat, 20), 1e-9)
	assert.Zero(t, EMA(flat[:10], 20))
}

func TestRSI(t *testing.T) {
	assert.Equal(t, 50.0, RSI(createRisingBars(5, 100, 1), 14), "short history is neutral")
	assert.Equal(t, 100.0, RSI(createRisingBars(30, 100, 1), 14))
	assert.Equal(t, 50.0, RSI(createRisingBars(30, 100, 0), 14), "no movement is neutral")

	falling := createRisingBars(30, 200, -1)
	assert.Less(t, RSI(falling, 14), 1.0)
}

func TestATR(t *testing.T) {
	flat := createRisingBars(30, 100, 0)
	assert.InDelta(t, 1.0, ATR(flat, 14), 1e-9)
	assert.InDelta(t, 1.0, ATRPercent(flat, 14), 1e-9)
	assert.InDelta(t, 1.0, ATRBaselinePercent(flat, 14, 10), 1e-9)
	assert.Zero(t, ATR(flat[:10], 14))
}

func TestADX(t *testing.T) {
	trend := createRisingBars(80, 100, 0.5)
	assert.Greater(t, ADX(trend, 14), 40.0)

	chop := createChoppyBars(80)
	assert.Less(t, ADX(chop, 14), 25.0)

	assert.Zero(t, ADX(trend[:20], 14), "needs 2*period+1 bars")
}

func TestMACDFollowsTrend(t *testing.T) {
	up := MACD(createRisingBars(100, 100, 0.5), 12, 26, 9)
	assert.Greater(t, up.Line, 0.0)

	down := MACD(createRisingBars(100, 200, -0.5), 12, 26, 9)
	assert.Less(t, down.Line, 0.0)

	assert.Equal(t, models.MACD{}, MACD(createRisingBars(20, 100, 1), 12, 26, 9))
}

func TestVolume(t *testing.T) {
	bars := createRisingBars(25, 100, 0)
	bars[len(bars)-1].Volume = 2500
	assert.InDelta(t, 1000.0, AverageVolume(bars, 20), 1e-9)
	assert.True(t, IsVolumeSpike(bars, 20, 1.5))
	assert.False(t, IsVolumeSpike(bars, 20, 3))
}

func TestTrendLabels(t *testing.T) {
	assert.Equal(t, models.TrendUp, DetectTrend(createRisingBars(60, 100, 0.5), 20, 50))
	assert.Equal(t, models.TrendDown, DetectTrend(createRisingBars(60, 200, -0.5), 20, 50))
	assert.Equal(t, models.TrendFlat, DetectTrend(createRisingBars(60, 100, 0), 20, 50))

	assert.Equal(t, models.TrendUp, StackTrend(105, 103, 100))
	assert.Equal(t, models.TrendDown, StackTrend(95, 97, 100))
	assert.Equal(t, models.TrendFlat, StackTrend(105, 99, 100))

	assert.Greater(t, EMASlope(createRisingBars(60, 100, 0.5), 20, 5), 0.0)
}
