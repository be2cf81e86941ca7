package models

import (
	"math"
	"time"
)

// Pillar names one of the four confidence dimensions
type Pillar string

const (
	PillarBaseSignal      Pillar = "base_signal"
	PillarTrendConfluence Pillar = "trend_confluence"
	PillarVolatility      Pillar = "volatility"
	PillarSentiment       Pillar = "sentiment"
)

// AllPillars in scoring order
var AllPillars = []Pillar{PillarBaseSignal, PillarTrendConfluence, PillarVolatility, PillarSentiment}

// PillarWeights holds one value per pillar. Used both for weight tables and sub-scores.
type PillarWeights struct {
	BaseSignal      float64 `json:"base_signal" yaml:"base_signal"`
	TrendConfluence float64 `json:"trend_confluence" yaml:"trend_confluence"`
	Volatility      float64 `json:"volatility" yaml:"volatility"`
	Sentiment       float64 `json:"sentiment" yaml:"sentiment"`
}

// Sum of all four values
func (w PillarWeights) Sum() float64 {
	return w.BaseSignal + w.TrendConfluence + w.Volatility + w.Sentiment
}

// Get returns the value for a pillar
func (w PillarWeights) Get(p Pillar) float64 {
	switch p {
	case PillarBaseSignal:
		return w.BaseSignal
	case PillarTrendConfluence:
		return w.TrendConfluence
	case PillarVolatility:
		return w.Volatility
	case PillarSentiment:
		return w.Sentiment
	}
	return 0
}

// With returns a copy with one pillar replaced
func (w PillarWeights) With(p Pillar, v float64) PillarWeights {
	switch p {
	case PillarBaseSignal:
		w.BaseSignal = v
	case PillarTrendConfluence:
		w.TrendConfluence = v
	case PillarVolatility:
		w.Volatility = v
	case PillarSentiment:
		w.Sentiment = v
	}
	return w
}

// Valid reports whether every value is finite and non-negative
func (w PillarWeights) Valid() bool {
	for _, p := range AllPillars {
		v := w.Get(p)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

// PositionStatus is open or closed
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Close reasons
const (
	CloseStopLoss     = "stop_loss"
	CloseTakeProfit   = "take_profit"
	CloseBrokerClosed = "broker_closed"
	CloseManual       = "manual"
)

// Position is a trade placed by the engine
type Position struct {
	ID           string         `json:"id"`
	AssetID      string         `json:"asset_id"`
	Broker       string         `json:"broker"`
	Symbol       string         `json:"symbol"`
	Ticket       string         `json:"ticket"`
	Direction    Direction      `json:"direction"`
	EntryPrice   float64        `json:"entry_price"`
	Quantity     float64        `json:"quantity"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	Strategy     string         `json:"strategy"`
	Status       PositionStatus `json:"status"`
	CloseReason  string         `json:"close_reason,omitempty"`
	ExitPrice    float64        `json:"exit_price,omitempty"`
	PnL          float64        `json:"pnl"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	// Confidence that opened this position, needed for learning on close
	ConfidenceID string         `json:"confidence_id"`
	EntryPillars PillarWeights  `json:"entry_pillars"`
	EntryWeights PillarWeights  `json:"entry_weights"`
}

// RiskAtStake is the loss if the stop is hit
func (p Position) RiskAtStake(unitValue float64) float64 {
	if unitValue <= 0 {
		unitValue = 1
	}
	return math.Abs(p.EntryPrice-p.StopLoss) * p.Quantity * unitValue
}

// PnLPercent is the move from entry to exit in the position's favour, in percent
func (p Position) PnLPercent() float64 {
	if p.EntryPrice == 0 || p.ExitPrice == 0 {
		return 0
	}
	move := (p.ExitPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Direction == Short {
		move = -move
	}
	return move
}

// BrokerPosition is what a gateway reports as open
type BrokerPosition struct {
	Ticket     string    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
}

// AccountState is a broker's balance snapshot
type AccountState struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
	Margin  float64 `json:"margin"`
}

// ConfidenceScore is the append-only record of one scoring pass
type ConfidenceScore struct {
	ID        string              `json:"id"`
	AssetID   string              `json:"asset_id"`
	Strategy  string              `json:"strategy"`
	Regime    Regime              `json:"regime"`
	Direction Direction           `json:"direction"`
	Pillars   PillarWeights       `json:"pillars"`
	Weights   PillarWeights       `json:"weights"`
	Rationale map[Pillar][]string `json:"rationale"`
	Pro       []string            `json:"pro"`
	Contra    []string            `json:"contra"`
	Aggregate float64             `json:"aggregate"`
	Ceiling   float64             `json:"ceiling"`
	Threshold float64             `json:"threshold"`
	Passed    bool                `json:"passed"`
	Timestamp time.Time           `json:"timestamp"`
}

// Normalized returns the aggregate as a 0..1 fraction of the profile ceiling
func (c ConfidenceScore) Normalized() float64 {
	if c.Ceiling <= 0 {
		return 0
	}
	return c.Aggregate / c.Ceiling
}

// AuditLogEntry explains a veto
type AuditLogEntry struct {
	ID             string    `json:"id"`
	AssetID        string    `json:"asset_id"`
	Broker         string    `json:"broker,omitempty"`
	Strategy       string    `json:"strategy"`
	Direction      Direction `json:"direction"`
	Kind           string    `json:"kind"`
	Reason         string    `json:"reason"`
	Pro            []string  `json:"pro"`
	Contra         []string  `json:"contra"`
	NetWeight      float64   `json:"net_weight"`
	RiskAssessment string    `json:"risk_assessment"`
	ConfidenceID   string    `json:"confidence_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// WeightHistory is one version of an asset's pillar weights for a strategy
type WeightHistory struct {
	AssetID   string        `json:"asset_id"`
	Strategy  string        `json:"strategy"`
	Version   int64         `json:"version"`
	Weights   PillarWeights `json:"weights"`
	WinRate   float64       `json:"win_rate"`
	Trades    int           `json:"trades"`
	Wins      int           `json:"wins"`
	Timestamp time.Time     `json:"timestamp"`
}

// RiskState is a per-broker exposure summary for one decision cycle
type RiskState struct {
	Broker          string    `json:"broker"`
	Balance         float64   `json:"balance"`
	Equity          float64   `json:"equity"`
	AvailableMargin float64   `json:"available_margin"`
	ExposurePercent float64   `json:"exposure_percent"`
	DrawdownPercent float64   `json:"drawdown_percent"`
	OpenPositions   int       `json:"open_positions"`
	Degraded        bool      `json:"degraded"`
	DegradedReason  string    `json:"degraded_reason,omitempty"`
	ComputedAt      time.Time `json:"computed_at"`
}
