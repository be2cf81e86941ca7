package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/confidence"
	"trading-decision-engine/internal/database"
	"trading-decision-engine/internal/events"
	"trading-decision-engine/internal/guard"
	"trading-decision-engine/internal/learning"
	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/metrics"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/monitor"
	"trading-decision-engine/internal/regime"
	"trading-decision-engine/internal/risk"
	"trading-decision-engine/internal/strategy"
)

// Deps are the collaborators the engine does not build itself
type Deps struct {
	Assets    []models.Asset
	Feed      broker.PriceFeed
	Sentiment broker.SentimentFeed
	// Raw broker connections by name; the engine wraps each one
	Gateways  map[string]broker.Gateway
	Settings  *strategy.Store
	Store     database.Store
	Cooldowns guard.CooldownStore
	Bus       *events.EventBus
	Metrics   *metrics.Recorder
}

// candidate is a scored signal waiting for the execution worker
type candidate struct {
	Asset    models.Asset
	Profile  strategy.Profile
	Score    models.ConfidenceScore
	Snapshot models.MarketSnapshot
	Created  time.Time
}

// assetView is the latest market read for one asset
type assetView struct {
	Snapshot  models.MarketSnapshot
	Selection strategy.Selection
	Err       string
}

// Engine runs the market-data, signal and execution workers over a fixed
// asset list and answers dashboard queries about their state.
type Engine struct {
	config Config
	assets []models.Asset
	byID   map[string]models.Asset

	feed        broker.PriceFeed
	sentiment   broker.SentimentFeed
	gateways    map[string]*broker.ResilientGateway
	brokerOrder []string
	settings    *strategy.Store
	store       database.Store
	bus         *events.EventBus
	metrics     *metrics.Recorder

	classifier  *regime.Classifier
	scorer      *confidence.Engine
	sizer       *risk.Sizer
	breaker     *risk.LossBreaker
	degradation *risk.Degradation
	guard       *guard.Guard
	weights     *learning.WeightBook
	adjuster    *learning.Adjuster
	book        *monitor.PositionBook
	monitor     *monitor.Monitor

	mu         sync.RWMutex
	views      map[string]assetView
	scores     map[string]models.ConfidenceScore
	candidates map[string]candidate
	refreshes  map[int64][]monitor.RefreshReport

	workers  []*worker
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
	logger   *logging.Logger
}

// New wires every component. Gateways are wrapped with timeouts, retries
// and a circuit breaker before anything else sees them.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(deps.Assets) == 0 {
		return nil, fmt.Errorf("no assets configured")
	}
	if deps.Feed == nil || deps.Settings == nil || deps.Store == nil {
		return nil, fmt.Errorf("feed, settings and store are required")
	}
	if len(deps.Gateways) == 0 {
		return nil, fmt.Errorf("at least one broker gateway is required")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewEventBus()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	e := &Engine{
		config:      cfg,
		assets:      deps.Assets,
		byID:        make(map[string]models.Asset, len(deps.Assets)),
		feed:        deps.Feed,
		sentiment:   deps.Sentiment,
		gateways:    make(map[string]*broker.ResilientGateway, len(deps.Gateways)),
		settings:    deps.Settings,
		store:       deps.Store,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		classifier:  regime.NewClassifier(cfg.Regime),
		scorer:      confidence.NewEngine(cfg.Confidence),
		sizer:       risk.NewSizer(cfg.Sizer),
		breaker:     risk.NewLossBreaker(cfg.Breaker),
		degradation: risk.NewDegradation(),
		guard:       guard.New(cfg.Guard, deps.Cooldowns),
		weights:     learning.NewWeightBook(cfg.Learning.HistoryLimit),
		book:        monitor.NewPositionBook(),
		views:       make(map[string]assetView),
		scores:      make(map[string]models.ConfidenceScore),
		candidates:  make(map[string]candidate),
		refreshes:   make(map[int64][]monitor.RefreshReport),
		stopChan:    make(chan struct{}),
		now:         time.Now,
		logger:      logging.WithComponent("engine"),
	}
	for _, a := range deps.Assets {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.ID, err)
		}
		e.byID[a.ID] = a
	}
	e.adjuster = learning.NewAdjuster(cfg.Learning, e.weights, deps.Store)

	plain := make(map[string]broker.Gateway, len(deps.Gateways))
	for name, gw := range deps.Gateways {
		rg := broker.NewResilientGateway(gw, cfg.Resilience, e.degradation)
		rg.Observe(e.metrics.BrokerCall)
		rg.OnDegraded(e.onBrokerDegraded, e.onBrokerRecovered)
		e.gateways[name] = rg
		plain[name] = rg
	}
	e.brokerOrder = brokerOrder(cfg.Brokers, deps.Gateways)

	e.monitor = monitor.New(e.book, plain, deps.Feed, deps.Settings, e.byID, e.guard, e.logger.Zerolog())
	e.monitor.OnClosed(e.onPositionClosed)
	e.breaker.OnTrip(func(reason string) {
		e.logger.Warn("Loss breaker tripped, entries paused", "reason", reason)
	})
	deps.Settings.OnChange(e.onSettingsChanged)

	e.workers = []*worker{
		{name: "market_data", interval: seconds(cfg.MarketDataIntervalSeconds), run: e.RunMarketDataCycle},
		{name: "signal", interval: seconds(cfg.SignalIntervalSeconds), run: e.RunSignalCycle},
		{name: "execution", interval: seconds(cfg.ExecutionIntervalSeconds), run: e.RunExecutionCycle},
	}
	return e, nil
}

// brokerOrder lists configured brokers first, then the rest by name
func brokerOrder(preferred []string, gateways map[string]broker.Gateway) []string {
	seen := make(map[string]bool, len(gateways))
	order := make([]string, 0, len(gateways))
	for _, name := range preferred {
		if _, ok := gateways[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range gateways {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// SetClock overrides the time source of the engine and its components
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.scorer.SetClock(now)
	e.breaker.SetClock(now)
	e.guard.SetClock(now)
	e.monitor.SetClock(now)
}

// Restore loads persisted weights and open positions. Corrupted weight rows
// are a fatal error.
func (e *Engine) Restore(ctx context.Context) error {
	latest, err := e.store.LatestWeights(ctx)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}
	settings := e.settings.Current()
	ceilingFor := func(name strategy.Name) (float64, bool) {
		p, err := settings.Profile(name)
		if err != nil {
			return 0, false
		}
		return p.Ceiling, true
	}
	if err := e.weights.Restore(latest, ceilingFor); err != nil {
		return err
	}
	for _, h := range latest {
		e.metrics.Weights(h)
	}

	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	for _, p := range open {
		e.book.Add(p)
	}
	e.logger.Info("Engine state restored", "weight_rows", len(latest), "open_positions", len(open))
	return nil
}

// Start restores persisted state and launches the three workers
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	if err := e.Restore(ctx); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		<-e.stopChan
		cancel()
	}()

	for _, w := range e.workers {
		e.wg.Add(1)
		go func(w *worker) {
			defer e.wg.Done()
			e.runWorker(runCtx, w)
		}(w)
	}

	e.logger.Info("Engine started",
		"assets", len(e.assets),
		"brokers", e.brokerOrder,
		"tier", e.settings.Current().ActiveTier,
		"dry_run", e.config.DryRun)
	e.bus.Publish(events.Event{
		Type: events.EventEngineStarted,
		Data: map[string]interface{}{"assets": len(e.assets), "dry_run": e.config.DryRun},
	})
	return nil
}

// Stop signals every worker and waits for in-flight cycles to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()
	e.bus.Publish(events.Event{Type: events.EventEngineStopped})
	e.logger.Info("Engine stopped")
}

// IsRunning reports whether the workers are active
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// ============================================================================
// WORKERS
// ============================================================================

type worker struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	busy     atomic.Bool
}

// runWorker ticks at the worker's interval. A tick that arrives while the
// previous cycle is still running is skipped, never queued.
func (e *Engine) runWorker(ctx context.Context, w *worker) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	e.tick(ctx, w, &inflight)
	for {
		select {
		case <-ticker.C:
			e.tick(ctx, w, &inflight)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) tick(ctx context.Context, w *worker, inflight *sync.WaitGroup) {
	if !w.busy.CompareAndSwap(false, true) {
		e.metrics.CycleSkipped(w.name)
		e.logger.Warn("Previous cycle still running, skipping", "worker", w.name)
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer w.busy.Store(false)

		cycleCtx, log := logging.WithCycleContext(ctx, w.name)
		start := time.Now()
		err := w.run(cycleCtx)
		took := time.Since(start)
		e.metrics.CycleCompleted(w.name, took, err)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Cycle failed", "error", err, "took_ms", took.Milliseconds())
			return
		}
		log.Debug("Cycle finished", "took_ms", took.Milliseconds())
	}()
}

// ============================================================================
// CALLBACKS
// ============================================================================

func (e *Engine) onBrokerDegraded(name, reason string) {
	e.logger.Warn("Broker degraded", "broker", name, "reason", reason)
	e.metrics.BrokerDegraded(name, true)
	e.bus.PublishBrokerDegraded(name, reason)
}

func (e *Engine) onBrokerRecovered(name string) {
	e.logger.Info("Broker recovered", "broker", name)
	e.metrics.BrokerDegraded(name, false)
	e.bus.PublishBrokerRecovered(name)
}

// onSettingsChanged re-levels open positions whose stop inputs moved
func (e *Engine) onSettingsChanged(prev, next *strategy.Settings) {
	e.bus.Publish(events.Event{
		Type: events.EventSettingsChanged,
		Data: map[string]interface{}{
			"version":     next.Version,
			"active_tier": next.ActiveTier,
		},
	})

	tierMoved := prev.Active().SpreadMultiplier != next.Active().SpreadMultiplier
	var changed []strategy.Name
	for _, name := range strategy.AllNames() {
		before, errPrev := prev.Profile(name)
		after, errNext := next.Profile(name)
		if errPrev != nil || errNext != nil {
			continue
		}
		if tierMoved || before.StopLossPct != after.StopLossPct || before.TakeProfitPct != after.TakeProfitPct {
			changed = append(changed, name)
		}
	}
	if len(changed) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), seconds(e.config.Resilience.TimeoutSeconds)*2)
	defer cancel()

	reports := make([]monitor.RefreshReport, 0, len(changed))
	for _, name := range changed {
		r := e.monitor.RefreshStrategy(ctx, name)
		if r.Matched == 0 {
			continue
		}
		reports = append(reports, r)
		e.bus.PublishStopsUpdated(string(name), r.Matched, r.Updated, r.Failed)
		for _, p := range e.book.OpenByStrategy(string(name)) {
			e.persistPosition(ctx, p)
		}
	}

	e.mu.Lock()
	e.refreshes[next.Version] = reports
	for v := range e.refreshes {
		if v < next.Version-10 {
			delete(e.refreshes, v)
		}
	}
	e.mu.Unlock()
}

// onPositionClosed feeds a closed trade to the learner and the loss breaker
func (e *Engine) onPositionClosed(ctx context.Context, p models.Position) {
	e.persistPosition(ctx, p)
	e.metrics.TradeClosed(p)
	e.bus.PublishTradeClosed(p)
	e.breaker.RecordClose(p.PnLPercent())

	profile, err := e.settings.Current().Profile(strategy.Name(p.Strategy))
	if err != nil {
		def, ok := strategy.DefaultProfile(strategy.Name(p.Strategy))
		if !ok {
			e.logger.Error("Closed position has unknown strategy", "position", p.ID, "strategy", p.Strategy)
			return
		}
		profile = def
	}

	next, err := e.adjuster.OnTradeClosed(ctx, learning.OutcomeFromPosition(p, profile))
	if err != nil {
		e.logger.Error("Weight update failed", "position", p.ID, "error", err)
		if next.Version == 0 {
			return
		}
	}
	e.metrics.Weights(next)
	e.bus.PublishWeightsUpdated(next)
}

func (e *Engine) persistPosition(ctx context.Context, p models.Position) {
	if err := e.store.UpsertPosition(ctx, p); err != nil {
		e.logger.Error("Failed to persist position", "position", p.ID, "error", err)
	}
}

func (e *Engine) unitValue(assetID string) float64 {
	if a, ok := e.byID[assetID]; ok && a.UnitValue > 0 {
		return a.UnitValue
	}
	return 1
}
