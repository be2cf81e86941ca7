package regime

import (
	"fmt"
	"math"

	"trading-decision-engine/internal/indicators"
	"trading-decision-engine/internal/models"
)

// Config holds classification thresholds and indicator periods
type Config struct {
	StrongADX         float64 `json:"strong_adx" default:"40"`
	ModerateADX       float64 `json:"moderate_adx" default:"25"`
	VolatilityCeiling float64 `json:"volatility_ceiling" default:"2.5"` // ATR% / baseline for HIGH_VOLATILITY
	ChaosCeiling      float64 `json:"chaos_ceiling" default:"4.0"`      // ATR% / baseline for CHAOS when direction is unstable
	ADXPeriod         int     `json:"adx_period" default:"14"`
	ATRPeriod         int     `json:"atr_period" default:"14"`
	RSIPeriod         int     `json:"rsi_period" default:"14"`
	BaselineWindow    int     `json:"baseline_window" default:"50"`
	VolumePeriod      int     `json:"volume_period" default:"20"`
	VolumeSpike       float64 `json:"volume_spike" default:"1.5"`
	SlopeLookback     int     `json:"slope_lookback" default:"5"`
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		StrongADX:         40,
		ModerateADX:       25,
		VolatilityCeiling: 2.5,
		ChaosCeiling:      4.0,
		ADXPeriod:         14,
		ATRPeriod:         14,
		RSIPeriod:         14,
		BaselineWindow:    50,
		VolumePeriod:      20,
		VolumeSpike:       1.5,
		SlopeLookback:     5,
	}
}

// Classification is a regime label plus the indicators it was derived from
type Classification struct {
	Regime     models.Regime
	Trend      models.Trend
	Price      float64
	Volume     float64
	Indicators models.IndicatorSet
}

// Classifier turns a bar series into a regime
type Classifier struct {
	config Config
}

// NewClassifier creates a classifier
func NewClassifier(config Config) *Classifier {
	return &Classifier{config: config}
}

// MinBars is the shortest history that satisfies every lookback
func (c *Classifier) MinBars() int {
	cfg := c.config
	n := 200 + cfg.SlopeLookback
	n = max(n, cfg.ATRPeriod+1+cfg.BaselineWindow)
	n = max(n, 2*cfg.ADXPeriod+1)
	n = max(n, 26+9) // MACD 12/26/9
	n = max(n, cfg.VolumePeriod+1)
	return n
}

// Classify labels the latest bar. Short history and zero ATR return ErrDataUnavailable.
func (c *Classifier) Classify(bars []models.Bar) (Classification, error) {
	cfg := c.config
	if need := c.MinBars(); len(bars) < need {
		return Classification{}, models.Veto(models.ErrDataUnavailable,
			"have %d bars, need %d", len(bars), need)
	}

	last := bars[len(bars)-1]
	atr := indicators.ATR(bars, cfg.ATRPeriod)
	if atr <= 0 || math.IsNaN(atr) || last.Close <= 0 {
		return Classification{}, models.Veto(models.ErrDataUnavailable, "zero ATR")
	}

	set := models.IndicatorSet{
		RSI:            indicators.RSI(bars, cfg.RSIPeriod),
		ADX:            indicators.ADX(bars, cfg.ADXPeriod),
		ATR:            atr,
		ATRPercent:     atr / last.Close * 100,
		ATRBaselinePct: indicators.ATRBaselinePercent(bars, cfg.ATRPeriod, cfg.BaselineWindow),
		EMA20:          indicators.EMA(bars, 20),
		EMA50:          indicators.EMA(bars, 50),
		EMA200:         indicators.EMA(bars, 200),
		EMA20Slope:     indicators.EMASlope(bars, 20, cfg.SlopeLookback),
		EMA50Slope:     indicators.EMASlope(bars, 50, cfg.SlopeLookback),
		EMA200Slope:    indicators.EMASlope(bars, 200, cfg.SlopeLookback),
		MACD:           indicators.MACD(bars, 12, 26, 9),
		AverageVolume:  indicators.AverageVolume(bars, cfg.VolumePeriod),
	}
	set.VolumeConfirmed = indicators.IsVolumeSpike(bars, cfg.VolumePeriod, cfg.VolumeSpike)

	if set.ATRBaselinePct <= 0 {
		return Classification{}, models.Veto(models.ErrDataUnavailable, "zero ATR baseline")
	}

	trend := indicators.StackTrend(set.EMA20, set.EMA50, set.EMA200)
	return Classification{
		Regime:     c.label(set),
		Trend:      trend,
		Price:      last.Close,
		Volume:     last.Volume,
		Indicators: set,
	}, nil
}

// label applies the volatility overrides first, then ADX banding
func (c *Classifier) label(set models.IndicatorSet) models.Regime {
	cfg := c.config
	ratio := set.VolatilityRatio()

	if ratio > cfg.ChaosCeiling && !stableDirection(set) {
		return models.RegimeChaos
	}
	if ratio > cfg.VolatilityCeiling {
		return models.RegimeHighVolatility
	}

	switch {
	case set.ADX > cfg.StrongADX:
		return models.RegimeStrongTrend
	case set.ADX >= cfg.ModerateADX:
		return models.RegimeModerateTrend
	default:
		return models.RegimeSideways
	}
}

// stableDirection is true when EMA20 and EMA50 sit on the same side of EMA200
func stableDirection(set models.IndicatorSet) bool {
	above := set.EMA20 > set.EMA200 && set.EMA50 > set.EMA200
	below := set.EMA20 < set.EMA200 && set.EMA50 < set.EMA200
	return above || below
}

// TimeframeTrend reads one timeframe's direction from EMA20 vs EMA50
func TimeframeTrend(bars []models.Bar) models.Trend {
	return indicators.DetectTrend(bars, 20, 50)
}

// Validate checks thresholds are ordered sensibly
func (c Config) Validate() error {
	if c.ModerateADX <= 0 || c.StrongADX <= c.ModerateADX {
		return fmt.Errorf("adx bands must satisfy 0 < moderate (%.1f) < strong (%.1f)", c.ModerateADX, c.StrongADX)
	}
	if c.VolatilityCeiling <= 1 || c.ChaosCeiling <= c.VolatilityCeiling {
		return fmt.Errorf("chaos ceiling (%.2f) must exceed volatility ceiling (%.2f) > 1", c.ChaosCeiling, c.VolatilityCeiling)
	}
	if c.ADXPeriod <= 0 || c.ATRPeriod <= 0 || c.RSIPeriod <= 0 || c.BaselineWindow <= 0 {
		return fmt.Errorf("indicator periods must be positive")
	}
	return nil
}
