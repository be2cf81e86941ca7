package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/confidence"
	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// RunSignalCycle scores every asset with a fresh snapshot. Passing scores
// become candidates for the execution worker; the rest are vetoed.
func (e *Engine) RunSignalCycle(ctx context.Context) error {
	log := logging.FromContext(ctx)
	settings := e.settings.Current()
	tier := settings.Active()
	now := e.now()

	var errs []error
	for _, asset := range e.assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !asset.TradingHours.IsOpen(now) {
			log.Debug("Outside trading hours", "asset", asset.ID)
			e.dropCandidate(asset.ID)
			continue
		}
		view, ok := e.snapshot(asset.ID)
		if !ok {
			continue
		}

		if err := e.evaluate(ctx, asset, view, settings, tier); err != nil && !models.IsRecoverable(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) evaluate(ctx context.Context, asset models.Asset, view assetView,
	settings *strategy.Settings, tier strategy.RiskTier) error {

	snap := view.Snapshot
	if view.Selection.Strategy == "" {
		e.dropCandidate(asset.ID)
		err := models.Veto(models.ErrNoEligibleStrategy, "no strategy trades %s", snap.Regime)
		e.recordVeto(ctx, models.ConfidenceScore{
			ID:        uuid.NewString(),
			AssetID:   asset.ID,
			Regime:    snap.Regime,
			Timestamp: e.now(),
		}, err, tier.Name, "")
		return err
	}

	profile, err := settings.Profile(view.Selection.Strategy)
	if err != nil {
		return err
	}
	direction := profile.Direction(snap)
	weights := e.weights.Current(asset.ID, profile)

	sentiment, feedErrs := broker.LoadSentiment(ctx, e.sentiment, asset.ID)
	for _, fe := range feedErrs {
		e.logger.Debug("Sentiment feed error", "asset", asset.ID, "error", fe)
	}

	score, veto := e.scorer.Score(confidence.Input{
		Asset:     asset,
		Direction: direction,
		Profile:   profile,
		Tier:      tier,
		Weights:   weights.Weights,
		Regime:    snap.Regime,
		Snapshot:  snap,
		Sentiment: sentiment,
	})

	e.mu.Lock()
	e.scores[asset.ID] = score
	e.mu.Unlock()
	e.metrics.Confidence(score)
	if err := e.store.SaveConfidenceScore(ctx, score); err != nil {
		e.logger.Error("Failed to persist confidence score", "asset", asset.ID, "error", err)
	}

	log := logging.DecisionContext(asset.ID, string(profile.Name), string(direction))
	if veto != nil {
		e.dropCandidate(asset.ID)
		e.publishVeto(ctx, *veto, models.ErrInvalidSignal)
		log.Info("Trade vetoed", "kind", veto.Kind, "reason", veto.Reason,
			"aggregate", score.Aggregate, "threshold", score.Threshold)
		return nil
	}

	e.mu.Lock()
	e.candidates[asset.ID] = candidate{
		Asset:    asset,
		Profile:  profile,
		Score:    score,
		Snapshot: snap,
		Created:  e.now(),
	}
	e.mu.Unlock()
	log.Info("Signal passed confidence gate",
		"regime", snap.Regime,
		"aggregate", score.Aggregate,
		"threshold", score.Threshold,
		"normalized", score.Normalized(),
		"pinned", view.Selection.Pinned)
	return nil
}

func (e *Engine) dropCandidate(assetID string) {
	e.mu.Lock()
	delete(e.candidates, assetID)
	e.mu.Unlock()
}

// takeCandidates removes and returns every pending candidate, oldest first
func (e *Engine) takeCandidates() []candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]candidate, 0, len(e.candidates))
	for id, c := range e.candidates {
		out = append(out, c)
		delete(e.candidates, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// recordVeto builds the audit record for err against score and publishes it
func (e *Engine) recordVeto(ctx context.Context, score models.ConfidenceScore, err error, tier strategy.TierName, brokerName string) {
	entry := confidence.NewAuditEntry(score, err, tier)
	entry.Broker = brokerName
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	e.publishVeto(ctx, entry, err)

	log := logging.DecisionContext(score.AssetID, score.Strategy, string(score.Direction))
	log.Info("Trade vetoed", "kind", entry.Kind, "reason", entry.Reason, "broker", brokerName)
}

func (e *Engine) publishVeto(ctx context.Context, entry models.AuditLogEntry, veto error) {
	if err := e.store.AppendAuditLog(ctx, entry); err != nil {
		e.logger.Error("Failed to persist audit entry", "asset", entry.AssetID, "error", err)
	}
	e.metrics.Veto(veto)
	e.bus.PublishVeto(entry)
}
