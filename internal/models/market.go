package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category groups assets by how their sentiment pillar is sourced
type Category string

const (
	CategoryMetal  Category = "metal"
	CategoryEnergy Category = "energy"
	CategoryAgri   Category = "agri"
	CategoryFX     Category = "fx"
	CategoryCrypto Category = "crypto"
	CategoryIndex  Category = "index"
)

// IsCommodity reports whether sentiment for this category comes from positioning data
func (c Category) IsCommodity() bool {
	switch c {
	case CategoryMetal, CategoryEnergy, CategoryAgri, CategoryIndex:
		return true
	}
	return false
}

// TradingHours is a daily UTC window. Close before Open wraps past midnight.
// Empty Open/Close means the asset trades around the clock.
type TradingHours struct {
	Open  string   `json:"open" yaml:"open"`   // "HH:MM" UTC
	Close string   `json:"close" yaml:"close"` // "HH:MM" UTC
	Days  []string `json:"days" yaml:"days"`   // "Mon".."Sun", empty = every day
}

// IsOpen reports whether t falls inside the window
func (h TradingHours) IsOpen(t time.Time) bool {
	t = t.UTC()
	if len(h.Days) > 0 {
		day := t.Weekday().String()[:3]
		found := false
		for _, d := range h.Days {
			if strings.EqualFold(d, day) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if h.Open == "" || h.Close == "" {
		return true
	}

	open, err1 := minuteOfDay(h.Open)
	closeAt, err2 := minuteOfDay(h.Close)
	if err1 != nil || err2 != nil {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	if open <= closeAt {
		return now >= open && now < closeAt
	}
	return now >= open || now < closeAt
}

func minuteOfDay(hhmm string) (int, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h*60 + m, nil
}

// Asset is a tradeable instrument and the symbols each broker knows it by
type Asset struct {
	ID                string              `json:"id" validate:"required"`
	Category          Category            `json:"category" validate:"required,oneof=metal energy agri fx crypto index"`
	TradingHours      TradingHours        `json:"trading_hours"`
	Aliases           map[string][]string `json:"aliases" validate:"required,min=1"` // broker -> symbols
	UnitValue         float64             `json:"unit_value" default:"1"`            // account currency per 1.0 price move per lot
	TickSize          float64             `json:"tick_size,omitempty"`               // price increment, 0 = unrounded
	MinConfidence     float64             `json:"min_confidence,omitempty"`          // asset-specific gate floor, 0 = none
	PreferredStrategy string              `json:"preferred_strategy,omitempty"`
}

// AllAliases flattens every broker's aliases plus the asset id itself
func (a Asset) AllAliases() []string {
	seen := map[string]bool{}
	out := make([]string, 0, 4)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}
	add(a.ID)
	for _, syms := range a.Aliases {
		for _, s := range syms {
			add(s)
		}
	}
	return out
}

// SymbolFor returns the first alias for a broker, falling back to the asset id
func (a Asset) SymbolFor(broker string) string {
	if syms := a.Aliases[broker]; len(syms) > 0 {
		return syms[0]
	}
	return a.ID
}

// Validate checks the asset is tradeable
func (a Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is required")
	}
	total := 0
	for _, syms := range a.Aliases {
		for _, s := range syms {
			if strings.TrimSpace(s) != "" {
				total++
			}
		}
	}
	if total == 0 {
		return fmt.Errorf("asset %s has no symbol aliases", a.ID)
	}
	return nil
}

// Bar is one OHLCV candle
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Tick is a live quote
type Tick struct {
	Bid   float64   `json:"bid"`
	Ask   float64   `json:"ask"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Spread returns ask minus bid, never negative
func (t Tick) Spread() float64 {
	if t.Ask <= t.Bid {
		return 0
	}
	return t.Ask - t.Bid
}

// Trend is a direction label derived from the EMA stack
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Direction of a position or candidate signal
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Agrees reports whether a trend label points the same way as the direction
func (d Direction) Agrees(t Trend) bool {
	return (d == Long && t == TrendUp) || (d == Short && t == TrendDown)
}

// Regime classifies current market behaviour
type Regime string

const (
	RegimeStrongTrend    Regime = "STRONG_TREND"
	RegimeModerateTrend  Regime = "MODERATE_TREND"
	RegimeSideways       Regime = "SIDEWAYS"
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
	RegimeChaos          Regime = "CHAOS"
)

// MACD holds the line, signal and histogram values
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// IndicatorSet is the derived indicator block of a snapshot
type IndicatorSet struct {
	RSI             float64 `json:"rsi"`
	ADX             float64 `json:"adx"`
	ATR             float64 `json:"atr"`
	ATRPercent      float64 `json:"atr_percent"`
	ATRBaselinePct  float64 `json:"atr_baseline_percent"` // trailing average of ATR%
	EMA20           float64 `json:"ema20"`
	EMA50           float64 `json:"ema50"`
	EMA200          float64 `json:"ema200"`
	EMA20Slope      float64 `json:"ema20_slope"`
	EMA50Slope      float64 `json:"ema50_slope"`
	EMA200Slope     float64 `json:"ema200_slope"`
	MACD            MACD    `json:"macd"`
	AverageVolume   float64 `json:"average_volume"`
	VolumeConfirmed bool    `json:"volume_confirmed"`
}

// VolatilityRatio is current ATR% over its trailing baseline
func (s IndicatorSet) VolatilityRatio() float64 {
	if s.ATRBaselinePct <= 0 {
		return 0
	}
	return s.ATRPercent / s.ATRBaselinePct
}

// MarketSnapshot is an immutable view of one asset at one instant
type MarketSnapshot struct {
	AssetID         string       `json:"asset_id"`
	Timestamp       time.Time    `json:"timestamp"`
	Price           float64      `json:"price"`
	Volume          float64      `json:"volume"`
	Tick            Tick         `json:"tick"`
	Indicators      IndicatorSet `json:"indicators"`
	Trend           Trend        `json:"trend"`
	Regime          Regime       `json:"regime"`
	// Timeframe trends, longest first
	TimeframeTrends []Trend      `json:"timeframe_trends"`
}
