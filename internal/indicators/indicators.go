package indicators

import (
	"math"

	"trading-decision-engine/internal/models"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average of closes
func SMA(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average of closes, seeded with an SMA
func EMA(bars []models.Bar, period int) float64 {
	series := EMASeries(closes(bars), period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// EMASeries returns one EMA value per input from index period-1 onward
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out = append(out, ema)
	}
	return out
}

// EMASlope is the percent change of the EMA over the last lookback bars
func EMASlope(bars []models.Bar, period, lookback int) float64 {
	if lookback <= 0 || len(bars) < period+lookback {
		return 0
	}
	now := EMA(bars, period)
	then := EMA(bars[:len(bars)-lookback], period)
	if then == 0 {
		return 0
	}
	return (now - then) / then * 100
}

// ============================================================================
// RSI
// ============================================================================

// RSI calculates the Relative Strength Index over the last period changes
func RSI(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD
// ============================================================================

// MACD calculates the MACD line, its signal EMA and the histogram
func MACD(bars []models.Bar, fastPeriod, slowPeriod, signalPeriod int) models.MACD {
	if len(bars) < slowPeriod+signalPeriod {
		return models.MACD{}
	}

	c := closes(bars)
	fast := EMASeries(c, fastPeriod)
	slow := EMASeries(c, slowPeriod)

	// Align both series on the slow EMA's first index
	offset := slowPeriod - fastPeriod
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}

	signal := EMASeries(line, signalPeriod)
	if len(signal) == 0 {
		return models.MACD{}
	}

	m := line[len(line)-1]
	s := signal[len(signal)-1]
	return models.MACD{Line: m, Signal: s, Histogram: m - s}
}

// ============================================================================
// VOLATILITY
// ============================================================================

func trueRange(cur, prev models.Bar) float64 {
	return math.Max(
		cur.High-cur.Low,
		math.Max(
			math.Abs(cur.High-prev.Close),
			math.Abs(cur.Low-prev.Close),
		),
	)
}

// ATR calculates the Average True Range over the last period bars
func ATR(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		trSum += trueRange(bars[i], bars[i-1])
	}
	return trSum / float64(period)
}

// ATRPercent is ATR expressed as a percent of the last close
func ATRPercent(bars []models.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	last := bars[len(bars)-1].Close
	if last <= 0 {
		return 0
	}
	return ATR(bars, period) / last * 100
}

// ATRBaselinePercent averages ATR% over the window bars preceding the last one
func ATRBaselinePercent(bars []models.Bar, period, window int) float64 {
	if window <= 0 || len(bars) < period+1+window {
		return 0
	}

	sum := 0.0
	for i := 0; i < window; i++ {
		end := len(bars) - 1 - i
		sum += ATRPercent(bars[:end], period)
	}
	return sum / float64(window)
}

// ============================================================================
// ADX (Wilder)
// ============================================================================

// ADX calculates Wilder's Average Directional Index.
// Needs at least 2*period+1 bars, otherwise returns 0.
func ADX(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < 2*period+1 {
		return 0
	}

	n := len(bars)
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = trueRange(bars[i], bars[i-1])
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	p := float64(period)
	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := func() float64 {
		if sTR == 0 {
			return 0
		}
		plusDI := 100 * sPlus / sTR
		minusDI := 100 * sMinus / sTR
		if plusDI+minusDI == 0 {
			return 0
		}
		return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}

	dxs := []float64{dx()}
	for i := period + 1; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		dxs = append(dxs, dx())
	}

	adx := 0.0
	for _, v := range dxs[:period] {
		adx += v
	}
	adx /= p
	for _, v := range dxs[period:] {
		adx = (adx*(p-1) + v) / p
	}
	return adx
}

// ============================================================================
// VOLUME
// ============================================================================

// AverageVolume averages volume over the period bars before the last one
func AverageVolume(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(bars) - 1 - period; i < len(bars)-1; i++ {
		sum += bars[i].Volume
	}
	return sum / float64(period)
}

// IsVolumeSpike reports whether the last bar's volume is at least multiplier times the average
func IsVolumeSpike(bars []models.Bar, period int, multiplier float64) bool {
	avg := AverageVolume(bars, period)
	if avg <= 0 {
		return false
	}
	return bars[len(bars)-1].Volume >= avg*multiplier
}

// ============================================================================
// TREND
// ============================================================================

// DetectTrend compares a fast and slow EMA with a small dead band
func DetectTrend(bars []models.Bar, fastPeriod, slowPeriod int) models.Trend {
	if len(bars) < slowPeriod {
		return models.TrendFlat
	}

	fast := EMA(bars, fastPeriod)
	slow := EMA(bars, slowPeriod)
	if slow == 0 {
		return models.TrendFlat
	}

	diff := (fast - slow) / slow * 100
	switch {
	case diff > 0.05:
		return models.TrendUp
	case diff < -0.05:
		return models.TrendDown
	default:
		return models.TrendFlat
	}
}

// StackTrend reads the EMA20/50/200 stack: fully ordered up, fully ordered down, or flat
func StackTrend(ema20, ema50, ema200 float64) models.Trend {
	switch {
	case ema20 > ema50 && ema50 > ema200:
		return models.TrendUp
	case ema20 < ema50 && ema50 < ema200:
		return models.TrendDown
	default:
		return models.TrendFlat
	}
}

func closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
