package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trading-decision-engine/internal/models"
)

// Levels are absolute protective prices for a position
type Levels struct {
	StopLoss       float64  `json:"stop_loss"`
	TakeProfit     float64  `json:"take_profit"`
	RawStopLoss    float64  `json:"raw_stop_loss"`
	RawTakeProfit  float64  `json:"raw_take_profit"`
	SpreadBuffer   float64  `json:"spread_buffer"`
	StopDistance   float64  `json:"stop_distance"`
	TargetDistance float64  `json:"target_distance"`
	RewardRisk     float64  `json:"reward_risk"`
	Reasoning      []string `json:"reasoning"`
}

// LevelRequest describes one stop calculation
type LevelRequest struct {
	EntryPrice       float64
	Direction        models.Direction
	StopLossPct      float64
	TakeProfitPct    float64
	Spread           float64
	SpreadMultiplier float64
	TickSize         float64 // 0 = no rounding
}

// SpreadAwareLevels widens a percentage stop so spread alone cannot trigger it,
// then extends the target to keep the configured reward:risk.
//
// The buffer is SpreadMultiplier spreads less the half-spread already
// paid crossing from mid to the fill side.
func SpreadAwareLevels(req LevelRequest) (Levels, error) {
	if req.EntryPrice <= 0 || math.IsNaN(req.EntryPrice) {
		return Levels{}, models.Veto(models.ErrInvalidSignal, "entry price %.5f must be positive", req.EntryPrice)
	}
	if req.StopLossPct <= 0 || req.TakeProfitPct <= 0 {
		return Levels{}, models.Veto(models.ErrInvalidSignal,
			"stop %.2f%% and target %.2f%% must be positive", req.StopLossPct, req.TakeProfitPct)
	}

	spread := math.Max(req.Spread, 0)
	mult := math.Max(req.SpreadMultiplier, 1)

	rawStop := req.EntryPrice * req.StopLossPct / 100
	rawTarget := req.EntryPrice * req.TakeProfitPct / 100
	rr := req.TakeProfitPct / req.StopLossPct

	buffer := math.Max(spread*mult-spread/2, 0)
	stopDist := rawStop + buffer
	targetDist := stopDist * rr

	levels := Levels{
		SpreadBuffer:   buffer,
		StopDistance:   stopDist,
		TargetDistance: targetDist,
		RewardRisk:     rr,
	}

	sign := 1.0
	if req.Direction == models.Short {
		sign = -1.0
	}
	levels.RawStopLoss = req.EntryPrice - sign*rawStop
	levels.RawTakeProfit = req.EntryPrice + sign*rawTarget
	levels.StopLoss = roundAway(req.EntryPrice-sign*stopDist, req.TickSize, -sign)
	levels.TakeProfit = roundAway(req.EntryPrice+sign*targetDist, req.TickSize, sign)

	if levels.StopLoss <= 0 {
		return Levels{}, models.Veto(models.ErrInvalidSignal, "stop %.5f below zero", levels.StopLoss)
	}

	levels.Reasoning = append(levels.Reasoning,
		fmt.Sprintf("raw %.2f%% stop at %.5f", req.StopLossPct, levels.RawStopLoss),
		fmt.Sprintf("spread %.5f x%.1f adds %.5f buffer", spread, mult, buffer),
		fmt.Sprintf("target extended to %.5f keeping %.2f:1", levels.TakeProfit, rr),
	)
	return levels, nil
}

// roundAway rounds a price to the tick, moving it in dir (+1 up, -1 down)
func roundAway(price, tick, dir float64) float64 {
	p := decimal.NewFromFloat(price)
	if tick <= 0 {
		f, _ := p.Round(8).Float64()
		return f
	}
	t := decimal.NewFromFloat(tick)
	// Drop float noise before taking the ceiling or floor
	steps := p.Div(t).Round(6)
	if dir > 0 {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	f, _ := steps.Mul(t).Float64()
	return f
}
