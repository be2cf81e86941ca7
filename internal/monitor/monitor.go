package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/guard"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/risk"
	"trading-decision-engine/internal/strategy"
)

// AssetLocker gives exclusive access to one asset's positions
type AssetLocker interface {
	Lock(assetID string) func()
}

// ClosedHandler runs after a position is marked closed, outside any lock
type ClosedHandler func(ctx context.Context, p models.Position)

// RefreshReport summarizes one re-leveling pass
type RefreshReport struct {
	Strategy strategy.Name `json:"strategy"`
	Matched  int           `json:"matched"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Errors   []string      `json:"errors,omitempty"`
}

// Monitor keeps open positions' stops in line with current settings and
// spreads, and notices positions that closed.
type Monitor struct {
	book     *PositionBook
	gateways map[string]broker.Gateway
	feed     broker.PriceFeed
	settings *strategy.Store
	assets   map[string]models.Asset
	locker   AssetLocker
	onClosed ClosedHandler
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a monitor. locker is usually the guard so monitor writes
// serialize with entries on the same asset.
func New(book *PositionBook, gateways map[string]broker.Gateway, feed broker.PriceFeed,
	settings *strategy.Store, assets map[string]models.Asset, locker AssetLocker, logger zerolog.Logger) *Monitor {
	if locker == nil {
		locker = guard.NewKeyedMutex()
	}
	return &Monitor{
		book:     book,
		gateways: gateways,
		feed:     feed,
		settings: settings,
		assets:   assets,
		locker:   locker,
		now:      time.Now,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// OnClosed sets the closure handler
func (m *Monitor) OnClosed(fn ClosedHandler) {
	m.onClosed = fn
}

// SetClock overrides the time source
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Levels computes spread-aware protective prices for a position under the
// current settings.
func (m *Monitor) Levels(ctx context.Context, p models.Position) (risk.Levels, error) {
	settings := m.settings.Current()
	profile, err := settings.Profile(strategy.Name(p.Strategy))
	if err != nil {
		return risk.Levels{}, err
	}
	tick, err := m.feed.GetLiveTick(ctx, p.AssetID)
	if err != nil {
		return risk.Levels{}, err
	}
	asset := m.assets[p.AssetID]
	return risk.SpreadAwareLevels(risk.LevelRequest{
		EntryPrice:       p.EntryPrice,
		Direction:        p.Direction,
		StopLossPct:      profile.StopLossPct,
		TakeProfitPct:    profile.TakeProfitPct,
		Spread:           tick.Spread(),
		SpreadMultiplier: settings.Active().SpreadMultiplier,
		TickSize:         asset.TickSize,
	})
}

// RefreshStrategy recomputes stops for every open position tagged with name
// and pushes changed levels to the broker. Broker calls run without the
// asset lock; the book is updated afterwards under it.
func (m *Monitor) RefreshStrategy(ctx context.Context, name strategy.Name) RefreshReport {
	report := RefreshReport{Strategy: name}
	for _, p := range m.book.OpenByStrategy(string(name)) {
		report.Matched++

		levels, err := m.Levels(ctx, p)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p.ID, err))
			continue
		}
		if levels.StopLoss == p.StopLoss && levels.TakeProfit == p.TakeProfit {
			continue
		}

		gw, ok := m.gateways[p.Broker]
		if !ok {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: unknown broker %s", p.ID, p.Broker))
			continue
		}
		if err := gw.ModifyOrder(ctx, p.Ticket, levels.StopLoss, levels.TakeProfit); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p.ID, err))
			m.logger.Warn().Err(err).Str("position", p.ID).Str("broker", p.Broker).Msg("Failed to modify stops")
			continue
		}

		unlock := m.locker.Lock(p.AssetID)
		_, updated := m.book.SetLevels(p.ID, levels.StopLoss, levels.TakeProfit)
		unlock()
		if updated {
			report.Updated++
			m.logger.Info().
				Str("position", p.ID).
				Str("asset", p.AssetID).
				Float64("old_sl", p.StopLoss).
				Float64("new_sl", levels.StopLoss).
				Float64("old_tp", p.TakeProfit).
				Float64("new_tp", levels.TakeProfit).
				Msg("Stops re-leveled")
		}
	}
	return report
}

// RefreshAll re-levels every strategy with open positions
func (m *Monitor) RefreshAll(ctx context.Context) []RefreshReport {
	var reports []RefreshReport
	for _, name := range strategy.AllNames() {
		if len(m.book.OpenByStrategy(string(name))) == 0 {
			continue
		}
		reports = append(reports, m.RefreshStrategy(ctx, name))
	}
	return reports
}

// Reconcile compares the book with each broker and closes what is gone or
// has crossed its stop or target. Returns the positions closed this pass.
func (m *Monitor) Reconcile(ctx context.Context) ([]models.Position, error) {
	var closed []models.Position
	var errs []error

	for name, gw := range m.gateways {
		ours := m.book.OpenByBroker(name)
		if len(ours) == 0 {
			continue
		}

		live, err := gw.ListOpenPositions(ctx)
		if err != nil {
			errs = append(errs, err)
			m.logger.Warn().Err(err).Str("broker", name).Msg("Skipping reconcile, positions unavailable")
			continue
		}
		tickets := make(map[string]bool, len(live))
		for _, bp := range live {
			tickets[bp.Ticket] = true
		}

		for _, p := range ours {
			tick, tickErr := m.feed.GetLiveTick(ctx, p.AssetID)

			if !tickets[p.Ticket] {
				exit := p.EntryPrice
				if tickErr == nil {
					exit = exitPrice(p, tick)
				}
				if c, ok := m.finish(ctx, p, models.CloseBrokerClosed, exit); ok {
					closed = append(closed, c)
				}
				continue
			}
			if tickErr != nil {
				continue
			}

			reason, hit := crossed(p, tick)
			if !hit {
				continue
			}
			exit, err := gw.ClosePosition(ctx, p.Ticket)
			if err != nil {
				errs = append(errs, err)
				m.logger.Warn().Err(err).Str("position", p.ID).Str("reason", reason).Msg("Failed to close crossed position")
				continue
			}
			if c, ok := m.finish(ctx, p, reason, exit); ok {
				closed = append(closed, c)
			}
		}
	}
	return closed, errors.Join(errs...)
}

// Close exits one position on its broker and records it with reason
func (m *Monitor) Close(ctx context.Context, id, reason string) (models.Position, error) {
	p, ok := m.book.Get(id)
	if !ok || p.Status != models.PositionOpen {
		return p, models.Veto(models.ErrInvalidSignal, "position %s is not open", id)
	}
	gw, ok := m.gateways[p.Broker]
	if !ok {
		return p, models.Veto(models.ErrBrokerUnavailable, "unknown broker %s", p.Broker)
	}
	exit, err := gw.ClosePosition(ctx, p.Ticket)
	if err != nil {
		return p, err
	}
	c, ok := m.finish(ctx, p, reason, exit)
	if !ok {
		return p, models.Veto(models.ErrInvalidSignal, "position %s already closed", id)
	}
	return c, nil
}

func (m *Monitor) finish(ctx context.Context, p models.Position, reason string, exit float64) (models.Position, bool) {
	unlock := m.locker.Lock(p.AssetID)
	closed, ok := m.book.Close(p.ID, reason, exit, m.assets[p.AssetID].UnitValue, m.now())
	unlock()
	if !ok {
		return closed, false
	}

	m.logger.Info().
		Str("position", closed.ID).
		Str("asset", closed.AssetID).
		Str("broker", closed.Broker).
		Str("reason", reason).
		Float64("exit", exit).
		Float64("pnl", closed.PnL).
		Msg("Position closed")

	if m.onClosed != nil {
		m.onClosed(ctx, closed)
	}
	return closed, true
}

// crossed reports whether the live quote is through the stop or target
func crossed(p models.Position, tick models.Tick) (string, bool) {
	price := exitPrice(p, tick)
	if p.Direction == models.Short {
		switch {
		case p.StopLoss > 0 && price >= p.StopLoss:
			return models.CloseStopLoss, true
		case p.TakeProfit > 0 && price <= p.TakeProfit:
			return models.CloseTakeProfit, true
		}
		return "", false
	}
	switch {
	case p.StopLoss > 0 && price <= p.StopLoss:
		return models.CloseStopLoss, true
	case p.TakeProfit > 0 && price >= p.TakeProfit:
		return models.CloseTakeProfit, true
	}
	return "", false
}

// exitPrice is the side of the quote a close would fill at
func exitPrice(p models.Position, tick models.Tick) float64 {
	price := tick.Bid
	if p.Direction == models.Short {
		price = tick.Ask
	}
	if price <= 0 {
		price = tick.Price
	}
	return price
}
