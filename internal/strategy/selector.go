package strategy

import (
	"fmt"

	"trading-decision-engine/internal/models"
)

// RSI extremes used by the decision table
const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
)

func rsiExtreme(rsi float64) bool {
	return rsi < rsiOversold || rsi > rsiOverbought
}

// Select maps a regime and indicator snapshot to one strategy.
// Rules are evaluated top-down and the first match wins.
func Select(regime models.Regime, ind models.IndicatorSet) (Name, error) {
	switch regime {
	case models.RegimeStrongTrend:
		if ind.RSI > 50 {
			return Momentum, nil
		}
		return Breakout, nil

	case models.RegimeModerateTrend:
		if rsiExtreme(ind.RSI) {
			return MeanReversion, nil
		}
		if ind.ATRPercent <= 1.5 {
			return Swing, nil
		}
		return Momentum, nil

	case models.RegimeSideways:
		switch {
		case rsiExtreme(ind.RSI):
			return MeanReversion, nil
		case ind.ATRPercent < 0.5:
			return Scalping, nil
		case ind.ATRPercent < 1.0:
			return Grid, nil
		default:
			return Day, nil
		}

	case models.RegimeHighVolatility:
		if ind.VolumeConfirmed {
			return Breakout, nil
		}
		return Scalping, nil

	case models.RegimeChaos:
		return "", models.Veto(models.ErrNoEligibleStrategy, "chaos regime, no strategy eligible")
	}
	return "", fmt.Errorf("unknown regime %q", regime)
}

// Selection is the chosen strategy and whether an asset pin overrode the table
type Selection struct {
	Strategy Name
	Selected Name // what the table picked
	Pinned   bool
}

// SelectForAsset applies the decision table, then the asset's pinned strategy if any.
// A pin never overrides CHAOS.
func SelectForAsset(asset models.Asset, regime models.Regime, ind models.IndicatorSet) (Selection, error) {
	picked, err := Select(regime, ind)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Strategy: picked, Selected: picked}
	if asset.PreferredStrategy != "" {
		pin, err := ParseName(asset.PreferredStrategy)
		if err != nil {
			return Selection{}, fmt.Errorf("asset %s: %w", asset.ID, err)
		}
		sel.Strategy = pin
		sel.Pinned = pin != picked
	}
	return sel, nil
}
