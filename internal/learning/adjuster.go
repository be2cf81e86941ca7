package learning

import (
	"context"
	"fmt"
	"math"
	"time"

	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// Config holds the learning parameters
type Config struct {
	Enabled      bool    `json:"enabled" default:"true"`
	LearningRate float64 `json:"learning_rate" default:"0.05" validate:"gt=0,lte=1"`
	// Band per pillar as a fraction of the strategy ceiling
	MinWeightPct float64 `json:"min_weight_pct" default:"0.05" validate:"gte=0,lt=0.25"`
	MaxWeightPct float64 `json:"max_weight_pct" default:"0.60" validate:"gt=0.25,lte=1"`
	// PnL percent that counts as a full-size outcome
	FullOutcomePct float64 `json:"full_outcome_pct" default:"1.0" validate:"gt=0"`
	HistoryLimit   int     `json:"history_limit" default:"500"`
}

// DefaultConfig returns the standard learning parameters
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		LearningRate:   0.05,
		MinWeightPct:   0.05,
		MaxWeightPct:   0.60,
		FullOutcomePct: 1.0,
		HistoryLimit:   500,
	}
}

// Outcome is a closed trade as the adjuster sees it
type Outcome struct {
	AssetID      string
	Profile      strategy.Profile
	PnLPercent   float64
	EntryPillars models.PillarWeights // sub-scores recorded at entry
	EntryWeights models.PillarWeights // weights in force at entry
	ClosedAt     time.Time
}

// OutcomeFromPosition builds an Outcome from a closed position
func OutcomeFromPosition(p models.Position, profile strategy.Profile) Outcome {
	closed := time.Now()
	if p.ClosedAt != nil {
		closed = *p.ClosedAt
	}
	return Outcome{
		AssetID:      p.AssetID,
		Profile:      profile,
		PnLPercent:   p.PnLPercent(),
		EntryPillars: p.EntryPillars,
		EntryWeights: p.EntryWeights,
		ClosedAt:     closed,
	}
}

// Persister stores each new weight version
type Persister interface {
	AppendWeightHistory(ctx context.Context, h models.WeightHistory) error
}

// Adjuster nudges pillar weights after every closed trade. Each update is a
// transition from one WeightHistory version to the next.
type Adjuster struct {
	config Config
	book   *WeightBook
	store  Persister
	logger *logging.Logger
}

// NewAdjuster creates an adjuster over a book. store may be nil.
func NewAdjuster(config Config, book *WeightBook, store Persister) *Adjuster {
	if book == nil {
		book = NewWeightBook(config.HistoryLimit)
	}
	book.SetBand(config.MinWeightPct, config.MaxWeightPct)
	return &Adjuster{
		config: config,
		book:   book,
		store:  store,
		logger: logging.WithComponent("learning"),
	}
}

// Book returns the weight book the adjuster writes to
func (a *Adjuster) Book() *WeightBook {
	return a.book
}

// OnTradeClosed produces the next weight version for the trade's asset and
// strategy. Other assets are never touched.
func (a *Adjuster) OnTradeClosed(ctx context.Context, out Outcome) (models.WeightHistory, error) {
	if out.AssetID == "" || out.Profile.Name == "" {
		return models.WeightHistory{}, models.Veto(models.ErrInvalidSignal, "outcome without asset or strategy")
	}
	if math.IsNaN(out.PnLPercent) || math.IsInf(out.PnLPercent, 0) {
		return models.WeightHistory{}, models.Veto(models.ErrInvalidSignal, "non-finite pnl for %s", out.AssetID)
	}

	key := Key{AssetID: out.AssetID, Strategy: out.Profile.Name}
	base := a.book.Current(out.AssetID, out.Profile)

	next := a.book.Update(key, base, func(prev models.WeightHistory) models.WeightHistory {
		h := prev
		h.Trades++
		if out.PnLPercent > 0 {
			h.Wins++
		}
		h.WinRate = winRate(h.Wins, h.Trades)
		h.Timestamp = out.ClosedAt
		if a.config.Enabled {
			h.Weights = a.Adjust(prev.Weights, out)
		} else {
			h.Weights = a.book.Fit(prev.Weights, out.Profile.Ceiling)
		}
		return h
	})

	a.logger.Info("Weights updated",
		"asset", out.AssetID,
		"strategy", out.Profile.Name,
		"version", next.Version,
		"pnl_pct", out.PnLPercent,
		"win_rate", next.WinRate,
		"base_signal", next.Weights.BaseSignal,
		"trend_confluence", next.Weights.TrendConfluence,
		"volatility", next.Weights.Volatility,
		"sentiment", next.Weights.Sentiment)

	if a.store != nil {
		if err := a.store.AppendWeightHistory(ctx, next); err != nil {
			return next, fmt.Errorf("persist weights %s v%d: %w", key, next.Version, err)
		}
	}
	return next, nil
}

// Adjust returns the weights after one outcome. A pillar that contributed
// more at entry moves further; wins raise weights and losses lower them.
func (a *Adjuster) Adjust(current models.PillarWeights, out Outcome) models.PillarWeights {
	ceiling := out.Profile.Ceiling
	if ceiling <= 0 {
		ceiling = current.Sum()
	}

	sign := 0.0
	switch {
	case out.PnLPercent > 0:
		sign = 1
	case out.PnLPercent < 0:
		sign = -1
	}
	magnitude := math.Min(math.Abs(out.PnLPercent)/a.config.FullOutcomePct, 1)

	entryWeights := out.EntryWeights
	if entryWeights.Sum() <= 0 {
		entryWeights = current
	}

	next := current
	for _, p := range models.AllPillars {
		contribution := 0.0
		if w := entryWeights.Get(p); w > 0 {
			contribution = clamp(out.EntryPillars.Get(p)/w, 0, 1)
		}
		w := current.Get(p) * (1 + a.config.LearningRate*sign*magnitude*contribution)
		next = next.With(p, w)
	}

	return Project(next, ceiling*a.config.MinWeightPct, ceiling*a.config.MaxWeightPct, ceiling)
}

// Project maps weights onto the set where every pillar lies in [lo, hi] and
// the four sum to total. All pillars share one scale factor s, found by
// bisection, and each s*w is clamped to the band.
func Project(w models.PillarWeights, lo, hi, total float64) models.PillarWeights {
	n := float64(len(models.AllPillars))
	vals := make(map[models.Pillar]float64, len(models.AllPillars))
	positive := 0.0
	for _, p := range models.AllPillars {
		v := w.Get(p)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		vals[p] = v
		positive += v
	}

	out := w
	if lo*n > total || hi*n < total || positive <= 0 {
		// Infeasible band or nothing to scale; equal shares
		for _, p := range models.AllPillars {
			out = out.With(p, total/n)
		}
		return out
	}

	sumAt := func(s float64) float64 {
		sum := 0.0
		for _, p := range models.AllPillars {
			sum += clamp(s*vals[p], lo, hi)
		}
		return sum
	}

	low, high := 0.0, 1.0
	for sumAt(high) < total && high < 1e12 {
		high *= 2
	}
	if sumAt(high) < total {
		for _, p := range models.AllPillars {
			out = out.With(p, total/n)
		}
		return out
	}
	for i := 0; i < 200 && high-low > 1e-15*high; i++ {
		mid := (low + high) / 2
		if sumAt(mid) < total {
			low = mid
		} else {
			high = mid
		}
	}

	sum := 0.0
	for _, p := range models.AllPillars {
		vals[p] = clamp(high*vals[p], lo, hi)
		sum += vals[p]
	}

	// Put the float residue on a pillar with room
	if residue := total - sum; residue != 0 {
		for _, p := range models.AllPillars {
			if v := vals[p] + residue; v >= lo && v <= hi {
				vals[p] = v
				break
			}
		}
	}

	for _, p := range models.AllPillars {
		out = out.With(p, vals[p])
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
