package confidence

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// Config holds the scoring constants
type Config struct {
	// Base signal fractions by number of agreeing indicators
	StrongAgreement float64 `json:"strong_agreement" default:"0.9"` // 5+
	MidAgreement    float64 `json:"mid_agreement" default:"0.6"`    // 3-4
	LowAgreement    float64 `json:"low_agreement" default:"0.3"`    // 2
	NoAgreement     float64 `json:"no_agreement" default:"0.1"`     // 0-1
	RegimeFitBonus  float64 `json:"regime_fit_bonus" default:"0.1"`
	RegimeMisfit    float64 `json:"regime_misfit" default:"0.3"`

	// Overextension against the long MA, in percent
	OverextensionSteps  [3]float64 `json:"overextension_steps"`
	OverextensionCost   [3]float64 `json:"overextension_cost"`
	OverextensionReward [3]float64 `json:"overextension_reward"`

	VolumeBonus float64 `json:"volume_bonus" default:"0.15"`

	// How far ahead a high-impact event zeroes the sentiment pillar
	EventWindow time.Duration `json:"event_window" default:"2h"`
}

// DefaultConfig returns the standard scoring constants
func DefaultConfig() Config {
	return Config{
		StrongAgreement:     0.9,
		MidAgreement:        0.6,
		LowAgreement:        0.3,
		NoAgreement:         0.1,
		RegimeFitBonus:      0.1,
		RegimeMisfit:        0.3,
		OverextensionSteps:  [3]float64{3, 5, 8},
		OverextensionCost:   [3]float64{0.10, 0.20, 0.30},
		OverextensionReward: [3]float64{0.05, 0.10, 0.15},
		VolumeBonus:         0.15,
		EventWindow:         2 * time.Hour,
	}
}

// ScheduledEvent is an upcoming calendar item
type ScheduledEvent struct {
	Title  string    `json:"title"`
	Impact string    `json:"impact"` // "high", "medium", "low"
	Time   time.Time `json:"time"`
}

// Sentiment is the broker-agnostic sentiment input. Nil fields mean no data.
type Sentiment struct {
	Positioning *float64         // net positioning bias, -1 (all short) .. +1 (all long)
	News        *float64         // news sentiment, -1 .. +1
	Events      []ScheduledEvent // pending calendar events
}

// Input is everything one scoring pass needs
type Input struct {
	Asset     models.Asset
	Direction models.Direction
	Profile   strategy.Profile
	Tier      strategy.RiskTier
	// Asset-scoped learned weights. Weights not summing to the profile
	// ceiling fall back to the profile table.
	Weights   models.PillarWeights
	Regime    models.Regime
	Snapshot  models.MarketSnapshot
	Sentiment Sentiment
}

// Engine scores candidate signals against four weighted pillars
type Engine struct {
	config Config
	now    func() time.Time
}

// NewEngine creates a confidence engine
func NewEngine(config Config) *Engine {
	return &Engine{config: config, now: time.Now}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// pillarResult is one pillar's 0..1 fraction and its notes
type pillarResult struct {
	fraction float64
	pro      []string
	contra   []string
}

func (r *pillarResult) plus(format string, args ...interface{}) {
	r.pro = append(r.pro, fmt.Sprintf(format, args...))
}

func (r *pillarResult) minus(format string, args ...interface{}) {
	r.contra = append(r.contra, fmt.Sprintf(format, args...))
}

// Threshold is the gate in points: the profile floor scaled by tier,
// raised to the tier and asset minimums, capped at the ceiling
func (e *Engine) Threshold(p strategy.Profile, tier strategy.RiskTier, asset models.Asset) float64 {
	mult := tier.ThresholdMultiplier
	if mult <= 0 {
		mult = 1
	}
	threshold := p.MinConfidence * mult
	threshold = math.Max(threshold, tier.MinConfidence*p.Ceiling)
	if asset.MinConfidence > 0 {
		threshold = math.Max(threshold, asset.MinConfidence*p.Ceiling)
	}
	return math.Min(threshold, p.Ceiling)
}

// Score runs all four pillars and the gate. A veto always carries an audit entry.
func (e *Engine) Score(in Input) (models.ConfidenceScore, *models.AuditLogEntry) {
	weights := in.Weights
	if !weights.Valid() || math.Abs(weights.Sum()-in.Profile.Ceiling) > 1e-6 {
		weights = in.Profile.Weights
	}

	results := map[models.Pillar]pillarResult{
		models.PillarBaseSignal:      e.baseSignal(in),
		models.PillarTrendConfluence: e.trendConfluence(in),
		models.PillarVolatility:      e.volatility(in),
		models.PillarSentiment:       e.sentiment(in),
	}

	score := models.ConfidenceScore{
		ID:        uuid.NewString(),
		AssetID:   in.Asset.ID,
		Strategy:  string(in.Profile.Name),
		Regime:    in.Regime,
		Direction: in.Direction,
		Weights:   weights,
		Rationale: make(map[models.Pillar][]string, 4),
		Ceiling:   in.Profile.Ceiling,
		Threshold: e.Threshold(in.Profile, in.Tier, in.Asset),
		Timestamp: e.now(),
	}

	for _, p := range models.AllPillars {
		r := results[p]
		w := weights.Get(p)
		sub := clamp(r.fraction, 0, 1) * w
		score.Pillars = score.Pillars.With(p, sub)
		score.Aggregate += sub

		for _, s := range r.pro {
			score.Rationale[p] = append(score.Rationale[p], "+ "+s)
			score.Pro = append(score.Pro, fmt.Sprintf("%s: %s", p, s))
		}
		for _, s := range r.contra {
			score.Rationale[p] = append(score.Rationale[p], "- "+s)
			score.Contra = append(score.Contra, fmt.Sprintf("%s: %s", p, s))
		}
	}

	score.Passed = score.Aggregate >= score.Threshold
	if score.Passed {
		return score, nil
	}

	reason := fmt.Sprintf("confidence %.1f below threshold %.1f", score.Aggregate, score.Threshold)
	entry := NewAuditEntry(score, models.Veto(models.ErrInvalidSignal, "%s", reason), in.Tier.Name)
	return score, &entry
}

// ============================================================================
// BASE SIGNAL
// ============================================================================

func (e *Engine) baseSignal(in Input) pillarResult {
	var r pillarResult
	agree, checks := agreeingIndicators(in.Profile.Name, in.Direction, in.Snapshot)

	switch {
	case agree >= 5:
		r.fraction = e.config.StrongAgreement
		r.plus("%d/%d indicators agree", agree, checks)
	case agree >= 3:
		r.fraction = e.config.MidAgreement
		r.plus("%d/%d indicators agree", agree, checks)
	case agree == 2:
		r.fraction = e.config.LowAgreement
		r.minus("only %d/%d indicators agree", agree, checks)
	default:
		r.fraction = e.config.NoAgreement
		r.minus("%d/%d indicators agree", agree, checks)
	}

	if in.Profile.Suits(in.Regime) {
		r.fraction += e.config.RegimeFitBonus
		r.plus("%s fits %s", in.Profile.Name, in.Regime)
	} else {
		r.fraction -= e.config.RegimeMisfit
		r.minus("%s unsuitable for %s", in.Profile.Name, in.Regime)
	}
	return r
}

// agreeingIndicators counts checks that support the direction.
// Trend followers and faders read different checks.
func agreeingIndicators(name strategy.Name, dir models.Direction, snap models.MarketSnapshot) (int, int) {
	ind := snap.Indicators
	sign := 1.0
	if dir == models.Short {
		sign = -1.0
	}
	positive := func(v float64) bool { return v*sign > 0 }

	var checks []bool
	switch name {
	case strategy.MeanReversion, strategy.Grid:
		rsiFade := (dir == models.Long && ind.RSI < 30) || (dir == models.Short && ind.RSI > 70)
		checks = []bool{
			rsiFade,
			positive(ind.EMA20 - snap.Price), // stretched away from EMA20
			positive(ind.EMA50 - snap.Price),
			positive(ind.MACD.Histogram), // momentum turning back
			math.Abs(ind.EMA20Slope) < 0.1,
			ind.ADX < 25,
			ind.VolumeConfirmed,
		}
	default:
		checks = []bool{
			positive(snap.Price - ind.EMA20),
			positive(ind.EMA20 - ind.EMA50),
			positive(ind.EMA50 - ind.EMA200),
			positive(ind.MACD.Histogram),
			positive(ind.MACD.Line),
			positive(ind.RSI - 50),
			positive(ind.EMA20Slope),
		}
	}

	count := 0
	for _, ok := range checks {
		if ok {
			count++
		}
	}
	return count, len(checks)
}

// ============================================================================
// TREND CONFLUENCE
// ============================================================================

var timeframeShares = [3]float64{0.4, 0.4, 0.2} // longest, medium, shortest

func (e *Engine) trendConfluence(in Input) pillarResult {
	var r pillarResult
	labels := [3]string{"long", "medium", "short"}

	for i, share := range timeframeShares {
		if i >= len(in.Snapshot.TimeframeTrends) {
			r.minus("%s timeframe missing", labels[i])
			continue
		}
		t := in.Snapshot.TimeframeTrends[i]
		switch {
		case in.Direction.Agrees(t):
			r.fraction += share
			r.plus("%s timeframe %s", labels[i], t)
		case t == models.TrendFlat:
			r.fraction += share * 0.25
			r.minus("%s timeframe flat", labels[i])
		default:
			r.minus("%s timeframe against (%s)", labels[i], t)
		}
	}

	ema200 := in.Snapshot.Indicators.EMA200
	if ema200 <= 0 || in.Snapshot.Price <= 0 {
		return r
	}
	deviation := (in.Snapshot.Price - ema200) / ema200 * 100
	level := -1
	for i, step := range e.config.OverextensionSteps {
		if math.Abs(deviation) >= step {
			level = i
		}
	}
	if level < 0 {
		return r
	}

	fading := (deviation > 0 && in.Direction == models.Short) || (deviation < 0 && in.Direction == models.Long)
	if fading {
		r.fraction += e.config.OverextensionReward[level]
		r.plus("trades against %.1f%% overextension", deviation)
	} else {
		r.fraction -= e.config.OverextensionCost[level]
		r.minus("price %.1f%% from long MA", deviation)
	}
	return r
}

// ============================================================================
// VOLATILITY
// ============================================================================

func (e *Engine) volatility(in Input) pillarResult {
	var r pillarResult
	p := in.Profile
	ratio := in.Snapshot.Indicators.VolatilityRatio()

	switch {
	case ratio <= 0:
		r.fraction = 0.2
		r.minus("no volatility baseline")
	case p.OptimalVolatility.Contains(ratio):
		r.fraction = 1.0
		r.plus("volatility %.2fx baseline is optimal", ratio)
	case p.AcceptableVolatility.Contains(ratio):
		r.fraction = 0.6
		r.plus("volatility %.2fx baseline is acceptable", ratio)
	case ratio > p.PenaltyVolatility:
		r.fraction = 0
		r.minus("volatility %.2fx baseline is excessive", ratio)
	case ratio > p.AcceptableVolatility.High:
		r.fraction = 0.3
		r.minus("volatility %.2fx baseline is elevated", ratio)
	default:
		r.fraction = 0.2
		r.minus("volatility %.2fx baseline is too quiet", ratio)
	}

	if in.Snapshot.Indicators.VolumeConfirmed {
		r.fraction += e.config.VolumeBonus
		r.plus("volume confirmation")
	}
	return r
}

// ============================================================================
// SENTIMENT
// ============================================================================

func (e *Engine) sentiment(in Input) pillarResult {
	var r pillarResult

	now := e.now()
	for _, ev := range in.Sentiment.Events {
		if !strings.EqualFold(ev.Impact, "high") {
			continue
		}
		if !ev.Time.Before(now.Add(-15*time.Minute)) && ev.Time.Before(now.Add(e.config.EventWindow)) {
			r.fraction = 0
			r.minus("high-impact event pending: %s at %s", ev.Title, ev.Time.UTC().Format("15:04"))
			return r
		}
	}

	source, value := "news", in.Sentiment.News
	if in.Asset.Category.IsCommodity() {
		source, value = "positioning", in.Sentiment.Positioning
	}
	if value == nil {
		r.fraction = 0.5
		r.minus("no %s data, neutral", source)
		return r
	}

	bias := clamp(*value, -1, 1)
	if in.Direction == models.Short {
		bias = -bias
	}
	r.fraction = (1 + bias) / 2
	if bias > 0 {
		r.plus("%s agrees (%.2f)", source, bias)
	} else if bias < 0 {
		r.minus("%s disagrees (%.2f)", source, bias)
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
