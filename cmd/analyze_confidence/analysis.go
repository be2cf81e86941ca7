package main

import (
	"sort"

	"trading-decision-engine/internal/database"
)

// ConfidenceBucket aggregates closed trades whose entry confidence fell in
// [MinConf, MaxConf)
type ConfidenceBucket struct {
	MinConf       float64 `json:"min_conf"`
	MaxConf       float64 `json:"max_conf"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	WinRate       float64 `json:"win_rate"` // percent
}

func (b *ConfidenceBucket) add(o database.ConfidenceOutcome) {
	b.TotalTrades++
	b.TotalPnL += o.PnL
	if o.PnL > 0 {
		b.WinningTrades++
	} else if o.PnL < 0 {
		b.LosingTrades++
	}
}

func (b *ConfidenceBucket) finish() {
	if b.TotalTrades > 0 {
		b.AvgPnL = b.TotalPnL / float64(b.TotalTrades)
		b.WinRate = float64(b.WinningTrades) / float64(b.TotalTrades) * 100
	}
}

// ThresholdResult splits trades around one minimum confidence
type ThresholdResult struct {
	Threshold float64          `json:"threshold"`
	Included  ConfidenceBucket `json:"included"`
	Excluded  ConfidenceBucket `json:"excluded"`
}

// Report is the full analysis of one outcome set
type Report struct {
	Trades        int                         `json:"trades"`
	Buckets       []ConfidenceBucket          `json:"buckets"`
	Thresholds    []ThresholdResult           `json:"thresholds"`
	ByStrategy    map[string]ConfidenceBucket `json:"by_strategy"`
	ByRegime      map[string]ConfidenceBucket `json:"by_regime"`
	BestThreshold float64                     `json:"best_threshold"`
	AvoidedLoss   float64                     `json:"avoided_loss"`
}

var defaultEdges = []float64{0, 0.50, 0.60, 0.70, 0.80, 0.90, 1.0000001}

var defaultThresholds = []float64{0.50, 0.60, 0.65, 0.70, 0.80}

// Analyze buckets outcomes by normalized entry confidence and measures
// what each candidate threshold would have kept or avoided
func Analyze(outcomes []database.ConfidenceOutcome, edges, thresholds []float64) Report {
	if len(edges) < 2 {
		edges = defaultEdges
	}
	if len(thresholds) == 0 {
		thresholds = defaultThresholds
	}

	r := Report{
		Trades:     len(outcomes),
		ByStrategy: make(map[string]ConfidenceBucket),
		ByRegime:   make(map[string]ConfidenceBucket),
	}
	for i := 0; i+1 < len(edges); i++ {
		r.Buckets = append(r.Buckets, ConfidenceBucket{MinConf: edges[i], MaxConf: edges[i+1]})
	}

	for _, o := range outcomes {
		conf := o.Normalized()
		for i := range r.Buckets {
			if conf >= r.Buckets[i].MinConf && conf < r.Buckets[i].MaxConf {
				r.Buckets[i].add(o)
				break
			}
		}

		s := r.ByStrategy[o.Strategy]
		s.add(o)
		r.ByStrategy[o.Strategy] = s

		g := r.ByRegime[string(o.Regime)]
		g.add(o)
		r.ByRegime[string(o.Regime)] = g
	}
	for i := range r.Buckets {
		r.Buckets[i].finish()
	}
	for k, b := range r.ByStrategy {
		b.finish()
		r.ByStrategy[k] = b
	}
	for k, b := range r.ByRegime {
		b.finish()
		r.ByRegime[k] = b
	}

	sorted := append([]float64(nil), thresholds...)
	sort.Float64s(sorted)
	for _, th := range sorted {
		res := ThresholdResult{Threshold: th}
		for _, o := range outcomes {
			if o.Normalized() >= th {
				res.Included.add(o)
			} else {
				res.Excluded.add(o)
			}
		}
		res.Included.finish()
		res.Excluded.finish()
		r.Thresholds = append(r.Thresholds, res)

		// the best threshold screens out the largest net loss
		if res.Excluded.TotalPnL < -r.AvoidedLoss {
			r.AvoidedLoss = -res.Excluded.TotalPnL
			r.BestThreshold = th
		}
	}
	return r
}
