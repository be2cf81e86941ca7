package strategy

import (
	"fmt"
	"math"
	"time"

	"trading-decision-engine/internal/models"
)

// Name identifies one strategy in the fixed catalogue
type Name string

const (
	Swing         Name = "swing"
	Day           Name = "day"
	Scalping      Name = "scalping"
	MeanReversion Name = "mean_reversion"
	Momentum      Name = "momentum"
	Breakout      Name = "breakout"
	Grid          Name = "grid"
)

// AllNames returns the catalogue in display order
func AllNames() []Name {
	return []Name{Swing, Day, Scalping, MeanReversion, Momentum, Breakout, Grid}
}

// ParseName validates a strategy name
func ParseName(s string) (Name, error) {
	for _, n := range AllNames() {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Band is an inclusive ratio range
type Band struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Contains reports whether v falls inside the band
func (b Band) Contains(v float64) bool {
	return v >= b.Low && v <= b.High
}

// Profile is one strategy variant with its own weights, gate and risk parameters
type Profile struct {
	Name        Name   `json:"name"`
	DisplayName string `json:"display_name"`

	// Pillar weights sum to Ceiling exactly
	Weights models.PillarWeights `json:"weights"`
	Ceiling float64              `json:"ceiling"`

	// Gate, in points on the Ceiling scale, before tier adjustment
	MinConfidence float64 `json:"min_confidence"`

	// Protective levels in percent of entry
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`

	MaxConcurrent int     `json:"max_concurrent"`
	RiskPerTrade  float64 `json:"risk_per_trade"` // fraction of balance, scales tier bucket fractions

	// Volatility pillar bands, as ATR% over its baseline
	OptimalVolatility    Band    `json:"optimal_volatility"`
	AcceptableVolatility Band    `json:"acceptable_volatility"`
	PenaltyVolatility    float64 `json:"penalty_volatility"`

	SuitableRegimes []models.Regime `json:"suitable_regimes"`

	// Own cooldown, 0 = guard default
	Cooldown time.Duration `json:"cooldown"`
}

// DefaultProfile returns the built-in variant for a name
func DefaultProfile(name Name) (Profile, bool) {
	defaultBands := func(p Profile) Profile {
		p.OptimalVolatility = Band{Low: 0.8, High: 1.5}
		p.AcceptableVolatility = Band{Low: 0.5, High: 2.0}
		p.PenaltyVolatility = 2.5
		return p
	}

	switch name {
	case Swing:
		return defaultBands(Profile{
			Name:            name,
			DisplayName:     "Swing Trading",
			Weights:         models.PillarWeights{BaseSignal: 30, TrendConfluence: 35, Volatility: 15, Sentiment: 20},
			Ceiling:         100,
			MinConfidence:   65,
			StopLossPct:     1.5,
			TakeProfitPct:   2.5,
			MaxConcurrent:   3,
			RiskPerTrade:    0.01,
			SuitableRegimes: []models.Regime{models.RegimeStrongTrend, models.RegimeModerateTrend},
		}), true
	case Day:
		return defaultBands(Profile{
			Name:            name,
			DisplayName:     "Day Trading",
			Weights:         models.PillarWeights{BaseSignal: 30, TrendConfluence: 25, Volatility: 25, Sentiment: 20},
			Ceiling:         100,
			MinConfidence:   62,
			StopLossPct:     1.0,
			TakeProfitPct:   1.8,
			MaxConcurrent:   4,
			RiskPerTrade:    0.0075,
			SuitableRegimes: []models.Regime{models.RegimeSideways, models.RegimeModerateTrend},
		}), true
	case Scalping:
		return Profile{
			Name:                 name,
			DisplayName:          "Scalping",
			Weights:              models.PillarWeights{BaseSignal: 40, TrendConfluence: 15, Volatility: 30, Sentiment: 5},
			Ceiling:              90,
			MinConfidence:        58,
			StopLossPct:          0.3,
			TakeProfitPct:        0.5,
			MaxConcurrent:        5,
			RiskPerTrade:         0.005,
			OptimalVolatility:    Band{Low: 0.5, High: 1.2},
			AcceptableVolatility: Band{Low: 0.3, High: 1.8},
			PenaltyVolatility:    2.5,
			SuitableRegimes:      []models.Regime{models.RegimeSideways, models.RegimeHighVolatility},
			Cooldown:             time.Minute,
		}, true
	case MeanReversion:
		return defaultBands(Profile{
			Name:            name,
			DisplayName:     "Mean Reversion",
			Weights:         models.PillarWeights{BaseSignal: 35, TrendConfluence: 20, Volatility: 25, Sentiment: 15},
			Ceiling:         95,
			MinConfidence:   64,
			StopLossPct:     1.2,
			TakeProfitPct:   2.0,
			MaxConcurrent:   2,
			RiskPerTrade:    0.0075,
			SuitableRegimes: []models.Regime{models.RegimeSideways, models.RegimeModerateTrend},
		}), true
	case Momentum:
		return defaultBands(Profile{
			Name:            name,
			DisplayName:     "Momentum",
			Weights:         models.PillarWeights{BaseSignal: 30, TrendConfluence: 40, Volatility: 15, Sentiment: 15},
			Ceiling:         100,
			MinConfidence:   66,
			StopLossPct:     1.8,
			TakeProfitPct:   3.6,
			MaxConcurrent:   3,
			RiskPerTrade:    0.01,
			SuitableRegimes: []models.Regime{models.RegimeStrongTrend, models.RegimeModerateTrend},
		}), true
	case Breakout:
		return Profile{
			Name:                 name,
			DisplayName:          "Breakout",
			Weights:              models.PillarWeights{BaseSignal: 35, TrendConfluence: 25, Volatility: 30, Sentiment: 10},
			Ceiling:              100,
			MinConfidence:        68,
			StopLossPct:          2.0,
			TakeProfitPct:        4.0,
			MaxConcurrent:        2,
			RiskPerTrade:         0.01,
			OptimalVolatility:    Band{Low: 1.0, High: 2.0},
			AcceptableVolatility: Band{Low: 0.8, High: 2.5},
			PenaltyVolatility:    3.0,
			SuitableRegimes:      []models.Regime{models.RegimeStrongTrend, models.RegimeHighVolatility},
		}, true
	case Grid:
		return defaultBands(Profile{
			Name:            name,
			DisplayName:     "Grid",
			Weights:         models.PillarWeights{BaseSignal: 30, TrendConfluence: 10, Volatility: 35, Sentiment: 10},
			Ceiling:         85,
			MinConfidence:   55,
			StopLossPct:     0.8,
			TakeProfitPct:   0.8,
			MaxConcurrent:   6,
			RiskPerTrade:    0.004,
			SuitableRegimes: []models.Regime{models.RegimeSideways},
		}), true
	}
	return Profile{}, false
}

// Suits reports whether the profile is meant for a regime
func (p Profile) Suits(r models.Regime) bool {
	for _, s := range p.SuitableRegimes {
		if s == r {
			return true
		}
	}
	return false
}

// RewardRisk is take-profit distance over stop distance
func (p Profile) RewardRisk() float64 {
	if p.StopLossPct <= 0 {
		return 0
	}
	return p.TakeProfitPct / p.StopLossPct
}

// Direction picks the candidate side for this variant from a snapshot
func (p Profile) Direction(snap models.MarketSnapshot) models.Direction {
	ind := snap.Indicators
	switch p.Name {
	case MeanReversion:
		switch {
		case ind.RSI > 70:
			return models.Short
		case ind.RSI < 30:
			return models.Long
		case snap.Price > ind.EMA50:
			return models.Short
		default:
			return models.Long
		}
	case Grid:
		if snap.Price > ind.EMA20 {
			return models.Short
		}
		return models.Long
	default:
		switch snap.Trend {
		case models.TrendUp:
			return models.Long
		case models.TrendDown:
			return models.Short
		}
		if ind.MACD.Histogram < 0 {
			return models.Short
		}
		return models.Long
	}
}

const weightTolerance = 1e-9

// Validate checks the profile invariants
func (p Profile) Validate() error {
	if _, ok := DefaultProfile(p.Name); !ok {
		return fmt.Errorf("%w: unknown strategy %q", models.ErrMalformedProfile, p.Name)
	}
	if !p.Weights.Valid() {
		return fmt.Errorf("%w: %s weights must be finite and non-negative", models.ErrMalformedProfile, p.Name)
	}
	if p.Ceiling <= 0 {
		return fmt.Errorf("%w: %s ceiling must be positive", models.ErrMalformedProfile, p.Name)
	}
	if sum := p.Weights.Sum(); math.Abs(sum-p.Ceiling) > weightTolerance {
		return fmt.Errorf("%w: %s weights must sum to %.2f, got %.2f", models.ErrMalformedProfile, p.Name, p.Ceiling, sum)
	}
	if p.MinConfidence <= 0 || p.MinConfidence > p.Ceiling {
		return fmt.Errorf("%w: %s min confidence %.2f outside (0, %.2f]", models.ErrMalformedProfile, p.Name, p.MinConfidence, p.Ceiling)
	}
	if p.StopLossPct <= 0 || p.TakeProfitPct <= 0 {
		return fmt.Errorf("%w: %s stop and target must be positive", models.ErrMalformedProfile, p.Name)
	}
	if p.MaxConcurrent <= 0 || p.RiskPerTrade <= 0 || p.RiskPerTrade > 0.1 {
		return fmt.Errorf("%w: %s position limits out of range", models.ErrMalformedProfile, p.Name)
	}
	if p.OptimalVolatility.Low > p.OptimalVolatility.High ||
		p.AcceptableVolatility.Low > p.OptimalVolatility.Low ||
		p.AcceptableVolatility.High < p.OptimalVolatility.High ||
		p.PenaltyVolatility < p.AcceptableVolatility.High {
		return fmt.Errorf("%w: %s volatility bands must nest", models.ErrMalformedProfile, p.Name)
	}
	if len(p.SuitableRegimes) == 0 {
		return fmt.Errorf("%w: %s has no suitable regimes", models.ErrMalformedProfile, p.Name)
	}
	return nil
}

// DefaultProfiles returns the whole built-in catalogue
func DefaultProfiles() map[Name]Profile {
	out := make(map[Name]Profile, len(AllNames()))
	for _, n := range AllNames() {
		p, _ := DefaultProfile(n)
		out[n] = p
	}
	return out
}
