package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/guard"
	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/risk"
)

// RunExecutionCycle first reconciles open positions with the brokers, then
// tries to place every pending candidate. Vetoes end as audit records, never
// as cycle errors.
func (e *Engine) RunExecutionCycle(ctx context.Context) error {
	log := logging.FromContext(ctx)
	e.probeDegraded(ctx)

	closed, err := e.monitor.Reconcile(ctx)
	if err != nil {
		log.Warn("Reconcile incomplete", "error", err)
	}
	if len(closed) > 0 {
		log.Info("Positions closed since last cycle", "count", len(closed))
	}
	if hours := e.config.RetainClosedHours; hours > 0 {
		e.book.Prune(e.now().Add(-time.Duration(hours) * time.Hour))
	}

	var errs []error
	for _, c := range e.takeCandidates() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if age := e.now().Sub(c.Created); age > e.config.signalTTL() {
			log.Debug("Dropping stale candidate", "asset", c.Asset.ID, "age_s", int(age.Seconds()))
			continue
		}
		if _, err := e.execute(ctx, c); err != nil && !models.IsRecoverable(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// execute runs one candidate through the breaker, stop calculator, sizer and
// guard, then places the order. The broker call happens outside the asset lock.
func (e *Engine) execute(ctx context.Context, c candidate) (models.Position, error) {
	settings := e.settings.Current()
	tier := settings.Active()
	score := c.Score

	veto := func(brokerName string, err error) (models.Position, error) {
		e.recordVeto(ctx, score, err, tier.Name, brokerName)
		return models.Position{}, err
	}

	if ok, reason := e.breaker.CanTrade(); !ok {
		return veto("", models.Veto(models.ErrRiskLimitExceeded, "loss breaker: %s", reason))
	}

	profile, err := settings.Profile(c.Profile.Name)
	if err != nil {
		return models.Position{}, err
	}

	brokerName, gw, err := e.pickBroker(c.Asset)
	if err != nil {
		return veto("", err)
	}

	tick, err := e.feed.GetLiveTick(ctx, c.Asset.ID)
	if err != nil {
		return veto(brokerName, models.Veto(models.ErrDataUnavailable, "live tick for %s: %v", c.Asset.ID, err))
	}
	entry := tick.Ask
	if score.Direction == models.Short {
		entry = tick.Bid
	}
	if entry <= 0 {
		entry = tick.Price
	}

	levels, err := risk.SpreadAwareLevels(risk.LevelRequest{
		EntryPrice:       entry,
		Direction:        score.Direction,
		StopLossPct:      profile.StopLossPct,
		TakeProfitPct:    profile.TakeProfitPct,
		Spread:           tick.Spread(),
		SpreadMultiplier: tier.SpreadMultiplier,
		TickSize:         c.Asset.TickSize,
	})
	if err != nil {
		return veto(brokerName, err)
	}

	account, err := gw.GetAccountState(ctx)
	if err != nil {
		return veto(brokerName, err)
	}
	state := e.degradation.Apply(risk.ComputeRiskState(brokerName, account, e.book.Open(), e.unitValue, e.now()))
	if state.Degraded {
		return veto(brokerName, models.Veto(models.ErrBrokerUnavailable, "%s degraded: %s", brokerName, state.DegradedReason))
	}

	sized, err := e.sizer.Size(risk.SizeRequest{
		AssetID:            c.Asset.ID,
		Balance:            state.Balance,
		Confidence:         score,
		Tier:               tier,
		Profile:            profile,
		EntryPrice:         entry,
		StopLoss:           levels.StopLoss,
		UnitValue:          e.unitValue(c.Asset.ID),
		CurrentExposurePct: state.ExposurePercent,
	})
	if err != nil {
		return veto(brokerName, err)
	}

	log := logging.RiskContext(c.Asset.ID, sized.RiskPercent, sized.Quantity)
	if e.config.DryRun {
		log.Info("Dry run, order not placed",
			"broker", brokerName,
			"strategy", profile.Name,
			"direction", score.Direction,
			"entry", entry,
			"stop_loss", levels.StopLoss,
			"take_profit", levels.TakeProfit,
			"bucket", sized.Bucket)
		return models.Position{}, nil
	}

	open := append(e.book.Open(), e.externalPositions(ctx)...)
	res, err := e.guard.Reserve(ctx, guard.Candidate{Asset: c.Asset, Broker: brokerName, Strategy: profile}, open)
	if err != nil {
		return veto(brokerName, err)
	}

	fill, err := gw.PlaceOrder(ctx, broker.OrderRequest{
		ClientID:   res.ID,
		AssetID:    c.Asset.ID,
		Symbol:     c.Asset.SymbolFor(brokerName),
		Direction:  score.Direction,
		Quantity:   sized.Quantity,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
	})
	if err != nil {
		if relErr := e.guard.Release(ctx, res); relErr != nil {
			log.Warn("Reservation release failed", "reservation", res.ID, "error", relErr)
		}
		return veto(brokerName, err)
	}

	openedAt := fill.FilledAt
	if openedAt.IsZero() {
		openedAt = e.now()
	}
	pos := models.Position{
		ID:           uuid.NewString(),
		AssetID:      c.Asset.ID,
		Broker:       brokerName,
		Symbol:       c.Asset.SymbolFor(brokerName),
		Ticket:       fill.Ticket,
		Direction:    score.Direction,
		EntryPrice:   fill.FillPrice,
		Quantity:     sized.Quantity,
		StopLoss:     levels.StopLoss,
		TakeProfit:   levels.TakeProfit,
		Strategy:     string(profile.Name),
		Status:       models.PositionOpen,
		OpenedAt:     openedAt,
		ConfidenceID: score.ID,
		EntryPillars: score.Pillars,
		EntryWeights: score.Weights,
	}
	if pos.EntryPrice <= 0 {
		pos.EntryPrice = entry
	}

	unlock := e.guard.Lock(c.Asset.ID)
	e.book.Add(pos)
	unlock()
	e.guard.Commit(res)

	e.persistPosition(ctx, pos)
	e.metrics.TradeOpened(pos.Strategy)
	e.bus.PublishTradeOpened(pos, score.Normalized())

	log.Info("Position opened",
		"position", pos.ID,
		"broker", brokerName,
		"ticket", pos.Ticket,
		"strategy", pos.Strategy,
		"direction", pos.Direction,
		"entry", pos.EntryPrice,
		"stop_loss", pos.StopLoss,
		"take_profit", pos.TakeProfit,
		"bucket", sized.Bucket,
		"clamp", sized.Clamp,
		"confidence", score.Normalized())
	return pos, nil
}

// probeDegraded makes one cheap call to every degraded broker so a healthy
// answer clears the flag.
func (e *Engine) probeDegraded(ctx context.Context) {
	for _, name := range e.brokerOrder {
		if degraded, _ := e.degradation.Status(name); !degraded {
			continue
		}
		if _, err := e.gateways[name].GetAccountState(ctx); err != nil {
			e.logger.Debug("Broker still degraded", "broker", name, "error", err)
		}
	}
}

// pickBroker returns the first healthy broker in preference order that
// lists the asset.
func (e *Engine) pickBroker(asset models.Asset) (string, *broker.ResilientGateway, error) {
	reason := "no broker lists " + asset.ID
	for _, name := range e.brokerOrder {
		if len(asset.Aliases[name]) == 0 {
			continue
		}
		if degraded, why := e.degradation.Status(name); degraded {
			reason = name + " degraded: " + why
			continue
		}
		return name, e.gateways[name], nil
	}
	return "", nil, models.Veto(models.ErrBrokerUnavailable, "%s", reason)
}

// externalPositions lists broker positions the engine did not open, so the
// guard also sees manual trades. Unreachable brokers are skipped.
func (e *Engine) externalPositions(ctx context.Context) []models.Position {
	known := make(map[string]bool)
	for _, p := range e.book.Open() {
		known[p.Broker+"|"+p.Ticket] = true
	}

	var out []models.Position
	for _, name := range e.brokerOrder {
		if degraded, _ := e.degradation.Status(name); degraded {
			continue
		}
		live, err := e.gateways[name].ListOpenPositions(ctx)
		if err != nil {
			e.logger.Debug("Broker positions unavailable for guard", "broker", name, "error", err)
			continue
		}
		for _, bp := range live {
			if known[name+"|"+bp.Ticket] {
				continue
			}
			out = append(out, models.Position{
				ID:         name + ":" + bp.Ticket,
				Broker:     name,
				Symbol:     bp.Symbol,
				Ticket:     bp.Ticket,
				Direction:  bp.Direction,
				EntryPrice: bp.EntryPrice,
				Quantity:   bp.Quantity,
				StopLoss:   bp.StopLoss,
				TakeProfit: bp.TakeProfit,
				Status:     models.PositionOpen,
			})
		}
	}
	return out
}
