package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/regime"
	"trading-decision-engine/internal/strategy"
)

// RunMarketDataCycle refreshes the snapshot of every asset in parallel.
// An asset without enough data keeps no snapshot this cycle.
func (e *Engine) RunMarketDataCycle(ctx context.Context) error {
	log := logging.FromContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, asset := range e.assets {
		asset := asset
		g.Go(func() error {
			if err := e.refreshAsset(gctx, asset); err != nil {
				if !models.IsRecoverable(err) {
					return err
				}
				e.mu.Lock()
				e.views[asset.ID] = assetView{Err: err.Error()}
				e.mu.Unlock()
				log.Debug("Skipping asset this cycle", "asset", asset.ID, "kind", models.KindName(err), "reason", err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

// refreshAsset classifies the primary timeframe and reads trend direction
// on every confluence timeframe.
func (e *Engine) refreshAsset(ctx context.Context, asset models.Asset) error {
	bars, err := e.feed.GetRecentBars(ctx, asset.ID, e.config.PrimaryTimeframe, e.config.HistoryBars)
	if err != nil {
		return models.Veto(models.ErrDataUnavailable, "%s bars for %s: %v", e.config.PrimaryTimeframe, asset.ID, err)
	}
	cls, err := e.classifier.Classify(bars)
	if err != nil {
		return err
	}
	tick, err := e.feed.GetLiveTick(ctx, asset.ID)
	if err != nil {
		return models.Veto(models.ErrDataUnavailable, "live tick for %s: %v", asset.ID, err)
	}

	trends := make([]models.Trend, 0, len(e.config.TrendTimeframes))
	for _, tf := range e.config.TrendTimeframes {
		if tf == e.config.PrimaryTimeframe {
			trends = append(trends, regime.TimeframeTrend(bars))
			continue
		}
		tfBars, err := e.feed.GetRecentBars(ctx, asset.ID, tf, e.config.HistoryBars)
		if err != nil {
			return models.Veto(models.ErrDataUnavailable, "%s bars for %s: %v", tf, asset.ID, err)
		}
		trends = append(trends, regime.TimeframeTrend(tfBars))
	}

	price := cls.Price
	if tick.Price > 0 {
		price = tick.Price
	}
	snap := models.MarketSnapshot{
		AssetID:         asset.ID,
		Timestamp:       e.now(),
		Price:           price,
		Volume:          cls.Volume,
		Tick:            tick,
		Indicators:      cls.Indicators,
		Trend:           cls.Trend,
		Regime:          cls.Regime,
		TimeframeTrends: trends,
	}

	selection, selErr := strategy.SelectForAsset(asset, snap.Regime, snap.Indicators)

	e.mu.Lock()
	prev, had := e.views[asset.ID]
	e.views[asset.ID] = assetView{Snapshot: snap, Selection: selection}
	e.mu.Unlock()

	if had && prev.Snapshot.Regime != "" && prev.Snapshot.Regime != snap.Regime {
		e.logger.Info("Regime changed", "asset", asset.ID, "from", prev.Snapshot.Regime, "to", snap.Regime,
			"adx", snap.Indicators.ADX, "atr_pct", snap.Indicators.ATRPercent)
		e.metrics.RegimeChanged(asset.ID, snap.Regime)
		e.bus.PublishRegimeChanged(asset.ID, prev.Snapshot.Regime, snap.Regime)
	}
	if selErr != nil {
		e.logger.Debug("No strategy for regime", "asset", asset.ID, "regime", snap.Regime)
	}
	return nil
}

// snapshot returns the latest snapshot and selection for an asset
func (e *Engine) snapshot(assetID string) (assetView, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.views[assetID]
	return v, ok && v.Snapshot.AssetID != ""
}
