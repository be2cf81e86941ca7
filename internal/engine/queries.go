package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trading-decision-engine/internal/learning"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/monitor"
	"trading-decision-engine/internal/risk"
	"trading-decision-engine/internal/strategy"
)

// RegimeView is the latest classification and strategy choice for an asset
type RegimeView struct {
	AssetID         string              `json:"asset_id"`
	Regime          models.Regime       `json:"regime"`
	Trend           models.Trend        `json:"trend"`
	Strategy        strategy.Name       `json:"strategy,omitempty"`
	Selected        strategy.Name       `json:"selected,omitempty"`
	Pinned          bool                `json:"pinned"`
	Price           float64             `json:"price"`
	Spread          float64             `json:"spread"`
	Indicators      models.IndicatorSet `json:"indicators"`
	TimeframeTrends []models.Trend      `json:"timeframe_trends"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// RiskView is one broker's risk state plus breaker status
type RiskView struct {
	models.RiskState
	Circuit      string                 `json:"circuit"`
	AccountError string                 `json:"account_error,omitempty"`
	LossBreaker  map[string]interface{} `json:"loss_breaker"`
}

// Assets returns the configured assets
func (e *Engine) Assets() []models.Asset {
	out := make([]models.Asset, len(e.assets))
	copy(out, e.assets)
	return out
}

// Asset looks up one configured asset
func (e *Engine) Asset(id string) (models.Asset, bool) {
	a, ok := e.byID[id]
	return a, ok
}

// CurrentConfidence returns the latest score computed for an asset
func (e *Engine) CurrentConfidence(assetID string) (models.ConfidenceScore, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.scores[assetID]
	return s, ok
}

// CurrentRegime returns the latest market read for an asset
func (e *Engine) CurrentRegime(assetID string) (RegimeView, bool) {
	v, ok := e.snapshot(assetID)
	if !ok {
		return RegimeView{AssetID: assetID}, false
	}
	snap := v.Snapshot
	return RegimeView{
		AssetID:         assetID,
		Regime:          snap.Regime,
		Trend:           snap.Trend,
		Strategy:        v.Selection.Strategy,
		Selected:        v.Selection.Selected,
		Pinned:          v.Selection.Pinned,
		Price:           snap.Price,
		Spread:          snap.Tick.Spread(),
		Indicators:      snap.Indicators,
		TimeframeTrends: snap.TimeframeTrends,
		UpdatedAt:       snap.Timestamp,
	}, true
}

// RecentVetoes returns the newest audit entries, optionally for one asset
func (e *Engine) RecentVetoes(ctx context.Context, assetID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return e.store.RecentAudit(ctx, assetID, limit)
}

// WeightSeries returns every in-memory weight version for an asset. An
// empty strategy returns the series of every strategy traded on it.
func (e *Engine) WeightSeries(assetID string, name strategy.Name) []models.WeightHistory {
	if name != "" {
		return e.weights.Series(learning.Key{AssetID: assetID, Strategy: name})
	}
	var out []models.WeightHistory
	for _, k := range e.weights.Keys() {
		if k.AssetID == assetID {
			out = append(out, e.weights.Series(k)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// CurrentWeights returns the weights in force for an asset and strategy
func (e *Engine) CurrentWeights(assetID string, name strategy.Name) (models.WeightHistory, error) {
	profile, err := e.settings.Current().Profile(name)
	if err != nil {
		return models.WeightHistory{}, err
	}
	return e.weights.Current(assetID, profile), nil
}

// RiskSummary recomputes each broker's risk state. A broker whose account
// cannot be read is reported with its last known positions only.
func (e *Engine) RiskSummary(ctx context.Context) []RiskView {
	open := e.book.Open()
	breaker := e.breaker.Stats()
	out := make([]RiskView, 0, len(e.brokerOrder))
	for _, name := range e.brokerOrder {
		gw := e.gateways[name]
		view := RiskView{Circuit: gw.BreakerState(), LossBreaker: breaker}

		account, err := gw.GetAccountState(ctx)
		if err != nil {
			view.AccountError = err.Error()
		}
		view.RiskState = e.degradation.Apply(risk.ComputeRiskState(name, account, open, e.unitValue, e.now()))
		out = append(out, view)
	}
	return out
}

// Positions returns every position in the book, oldest first
func (e *Engine) Positions(openOnly bool) []models.Position {
	if openOnly {
		return e.book.Open()
	}
	return e.book.All()
}

// ClosePosition exits one position on its broker at market
func (e *Engine) ClosePosition(ctx context.Context, id string) (models.Position, error) {
	return e.monitor.Close(ctx, id, models.CloseManual)
}

// Settings returns the settings version in force
func (e *Engine) Settings() *strategy.Settings {
	return e.settings.Current()
}

// UpdateProfile installs a new version of one strategy profile and
// re-levels every open position carrying that strategy.
func (e *Engine) UpdateProfile(p strategy.Profile) ([]monitor.RefreshReport, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	next, err := e.settings.UpdateProfile(p)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", p.Name, err)
	}
	return e.refreshReports(next.Version), nil
}

// SetActiveTier switches the risk tier and re-levels open positions when
// the spread buffer changes.
func (e *Engine) SetActiveTier(name strategy.TierName) ([]monitor.RefreshReport, error) {
	next, err := e.settings.SetActiveTier(name)
	if err != nil {
		return nil, fmt.Errorf("set tier %s: %w", name, err)
	}
	return e.refreshReports(next.Version), nil
}

func (e *Engine) refreshReports(version int64) []monitor.RefreshReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.refreshes[version]
}

// BreakerStats exposes the loss breaker counters
func (e *Engine) BreakerStats() map[string]interface{} {
	return e.breaker.Stats()
}
