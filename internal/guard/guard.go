package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// Config holds the duplicate and cooldown rules
type Config struct {
	CooldownMinutes             int  `json:"cooldown_minutes" default:"60" validate:"gte=0"`
	OpenPositionCooldownMinutes int  `json:"open_position_cooldown_minutes" default:"120" validate:"gte=0"`
	MaxPerAsset                 int  `json:"max_per_asset" default:"2" validate:"gte=1"`
	AllowStacking               bool `json:"allow_stacking"` // false: any open position on the asset blocks a new one
}

// DefaultConfig returns the standard guard rules
func DefaultConfig() Config {
	return Config{
		CooldownMinutes:             60,
		OpenPositionCooldownMinutes: 120,
		MaxPerAsset:                 2,
	}
}

// Candidate is a trade about to be placed
type Candidate struct {
	Asset    models.Asset
	Broker   string
	Strategy strategy.Profile
}

// Reservation marks an asset as having an order in flight
type Reservation struct {
	ID         string
	AssetID    string
	Broker     string
	Strategy   strategy.Name
	ReservedAt time.Time

	prevTrade time.Time
	hadPrev   bool
	done      bool
}

// Guard blocks redundant exposure to one instrument across every broker.
// All checks for an asset run under that asset's lock.
type Guard struct {
	config    Config
	cooldowns CooldownStore
	locks     *KeyedMutex
	now       func() time.Time
	logger    *logging.Logger

	mu      sync.Mutex
	pending map[string][]*Reservation
}

// New creates a guard. A nil store falls back to process memory.
func New(config Config, cooldowns CooldownStore) *Guard {
	if cooldowns == nil {
		cooldowns = NewMemoryCooldowns()
	}
	if config.MaxPerAsset <= 0 {
		config.MaxPerAsset = 1
	}
	return &Guard{
		config:    config,
		cooldowns: cooldowns,
		locks:     NewKeyedMutex(),
		now:       time.Now,
		logger:    logging.WithComponent("guard"),
		pending:   make(map[string][]*Reservation),
	}
}

// SetClock overrides the time source
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// Lock takes ownership of one asset. Monitor and close paths use it too.
func (g *Guard) Lock(assetID string) func() {
	return g.locks.Lock(assetID)
}

// MatchSymbol reports the first alias overlapping symbol, comparing
// case-insensitively and by substring in both directions.
func MatchSymbol(aliases []string, symbol string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		return "", false
	}
	for _, alias := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		if strings.Contains(a, s) || strings.Contains(s, a) {
			return alias, true
		}
	}
	return "", false
}

// Match is an open position overlapping an asset and the alias it matched
type Match struct {
	Position models.Position
	Alias    string
}

// MatchAliases returns the open positions that overlap the asset's aliases.
// A position booked on the asset itself matches even when its symbol does not.
func MatchAliases(asset models.Asset, positions []models.Position) []Match {
	aliases := asset.AllAliases()
	var out []Match
	for _, p := range positions {
		if p.Status != models.PositionOpen {
			continue
		}
		alias, ok := MatchSymbol(aliases, p.Symbol)
		if !ok && p.AssetID != asset.ID {
			continue
		}
		if !ok {
			alias = asset.ID
		}
		out = append(out, Match{Position: p, Alias: alias})
	}
	return out
}

// MatchingPositions returns the open positions that overlap the asset's aliases
func MatchingPositions(asset models.Asset, positions []models.Position) []models.Position {
	matches := MatchAliases(asset, positions)
	out := make([]models.Position, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Position)
	}
	return out
}

// Cooldown returns the window that applies to a candidate given how many
// positions are already open on its asset.
func (g *Guard) Cooldown(profile strategy.Profile, openOnAsset int) time.Duration {
	if profile.Cooldown > 0 {
		return profile.Cooldown
	}
	if openOnAsset > 0 {
		return time.Duration(g.config.OpenPositionCooldownMinutes) * time.Minute
	}
	return time.Duration(g.config.CooldownMinutes) * time.Minute
}

// Check evaluates the candidate without reserving anything. Callers that
// intend to place an order must use Reserve instead.
func (g *Guard) Check(ctx context.Context, c Candidate, open []models.Position) error {
	unlock := g.locks.Lock(c.Asset.ID)
	defer unlock()
	return g.checkLocked(ctx, c, open)
}

func (g *Guard) checkLocked(ctx context.Context, c Candidate, open []models.Position) error {
	now := g.now()
	matched := MatchAliases(c.Asset, open)
	inFlight := g.pendingCount(c.Asset.ID)
	count := len(matched) + inFlight

	last, ok, err := g.cooldowns.LastTrade(ctx, c.Asset.ID)
	if err != nil {
		return models.Veto(models.ErrDataUnavailable, "cooldown lookup for %s: %v", c.Asset.ID, err)
	}
	if ok {
		window := g.Cooldown(c.Strategy, count)
		if elapsed := now.Sub(last); elapsed < window {
			remaining := window - elapsed
			return models.Veto(models.ErrStaleCooldown, "%s traded %.0f min ago, cooldown %.0f min",
				c.Asset.ID, elapsed.Minutes(), window.Minutes()).
				WithDetail("remaining_minutes", remaining.Minutes()).
				WithDetail("last_trade", last)
		}
	}

	if count >= g.config.MaxPerAsset {
		return models.Veto(models.ErrDuplicatePosition, "%s already has %d of %d positions",
			c.Asset.ID, count, g.config.MaxPerAsset).WithDetail("open", count)
	}

	if err := g.strategyCap(c.Strategy, open); err != nil {
		return err
	}

	if !g.config.AllowStacking {
		if len(matched) > 0 {
			m := matched[0]
			return models.Veto(models.ErrDuplicatePosition, "%s overlaps open %s position %s on %s via alias %s",
				c.Asset.ID, m.Position.Symbol, m.Position.ID, m.Position.Broker, m.Alias).
				WithDetail("symbol", m.Position.Symbol).
				WithDetail("alias", m.Alias)
		}
		if inFlight > 0 {
			return models.Veto(models.ErrDuplicatePosition, "%s has an order in flight", c.Asset.ID)
		}
	}
	return nil
}

// Reserve atomically checks the candidate and, if allowed, marks the asset
// in flight and stamps its cooldown. The broker call happens after Reserve
// returns; finish with Commit on success or Release on failure.
func (g *Guard) Reserve(ctx context.Context, c Candidate, open []models.Position) (*Reservation, error) {
	unlock := g.locks.Lock(c.Asset.ID)
	defer unlock()

	if err := g.checkLocked(ctx, c, open); err != nil {
		return nil, err
	}

	prev, hadPrev, err := g.cooldowns.LastTrade(ctx, c.Asset.ID)
	if err != nil {
		return nil, models.Veto(models.ErrDataUnavailable, "cooldown lookup for %s: %v", c.Asset.ID, err)
	}
	now := g.now()
	res := &Reservation{
		ID:         uuid.New().String(),
		AssetID:    c.Asset.ID,
		Broker:     c.Broker,
		Strategy:   c.Strategy.Name,
		ReservedAt: now,
		prevTrade:  prev,
		hadPrev:    hadPrev,
	}

	// The strategy cap spans assets, so it is rechecked under g.mu together
	// with the append.
	g.mu.Lock()
	if limit := c.Strategy.MaxConcurrent; limit > 0 {
		if n := openByStrategy(open, c.Strategy.Name) + g.pendingByStrategyLocked(c.Strategy.Name); n >= limit {
			g.mu.Unlock()
			return nil, strategyCapVeto(c.Strategy, n)
		}
	}
	g.pending[c.Asset.ID] = append(g.pending[c.Asset.ID], res)
	g.mu.Unlock()

	if err := g.cooldowns.SetLastTrade(ctx, c.Asset.ID, now); err != nil {
		g.removePending(res)
		return nil, models.Veto(models.ErrDataUnavailable, "cooldown stamp for %s: %v", c.Asset.ID, err)
	}

	g.logger.Debug("Reserved asset", "asset", c.Asset.ID, "broker", c.Broker, "reservation", res.ID)
	return res, nil
}

// Commit finalizes a reservation once the position is visible in the position book
func (g *Guard) Commit(res *Reservation) {
	if res == nil {
		return
	}
	unlock := g.locks.Lock(res.AssetID)
	defer unlock()
	g.removePending(res)
}

// Release rolls back a reservation whose order never filled, restoring the
// previous cooldown stamp.
func (g *Guard) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	unlock := g.locks.Lock(res.AssetID)
	defer unlock()

	if !g.removePending(res) {
		return nil
	}
	var err error
	if res.hadPrev {
		err = g.cooldowns.SetLastTrade(ctx, res.AssetID, res.prevTrade)
	} else {
		err = g.cooldowns.ClearLastTrade(ctx, res.AssetID)
	}
	if err != nil {
		g.logger.Warn("Failed to restore cooldown", "asset", res.AssetID, "error", err)
	}
	return err
}

// RecordTrade stamps the cooldown for a trade opened outside Reserve
func (g *Guard) RecordTrade(ctx context.Context, assetID string, at time.Time) error {
	unlock := g.locks.Lock(assetID)
	defer unlock()
	return g.cooldowns.SetLastTrade(ctx, assetID, at)
}

// CooldownRemaining reports how long the asset stays blocked for a profile
func (g *Guard) CooldownRemaining(ctx context.Context, asset models.Asset, profile strategy.Profile, open []models.Position) time.Duration {
	last, ok, err := g.cooldowns.LastTrade(ctx, asset.ID)
	if err != nil || !ok {
		return 0
	}
	window := g.Cooldown(profile, len(MatchingPositions(asset, open))+g.pendingCount(asset.ID))
	if remaining := window - g.now().Sub(last); remaining > 0 {
		return remaining
	}
	return 0
}

// Pending returns the number of in-flight reservations for an asset
func (g *Guard) Pending(assetID string) int {
	return g.pendingCount(assetID)
}

func (g *Guard) pendingCount(assetID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending[assetID])
}

// strategyCap vetoes a candidate whose strategy already holds its maximum
// concurrent positions across all assets.
func (g *Guard) strategyCap(profile strategy.Profile, open []models.Position) error {
	if profile.MaxConcurrent <= 0 {
		return nil
	}
	g.mu.Lock()
	n := openByStrategy(open, profile.Name) + g.pendingByStrategyLocked(profile.Name)
	g.mu.Unlock()
	if n >= profile.MaxConcurrent {
		return strategyCapVeto(profile, n)
	}
	return nil
}

func strategyCapVeto(profile strategy.Profile, n int) error {
	return models.Veto(models.ErrRiskLimitExceeded, "%s already has %d of %d concurrent positions",
		profile.Name, n, profile.MaxConcurrent).
		WithDetail("strategy", string(profile.Name)).
		WithDetail("open", n)
}

func openByStrategy(open []models.Position, name strategy.Name) int {
	n := 0
	for _, p := range open {
		if p.Status == models.PositionOpen && p.Strategy == string(name) {
			n++
		}
	}
	return n
}

// pendingByStrategyLocked counts in-flight reservations; g.mu must be held
func (g *Guard) pendingByStrategyLocked(name strategy.Name) int {
	n := 0
	for _, list := range g.pending {
		for _, r := range list {
			if r.Strategy == name {
				n++
			}
		}
	}
	return n
}

func (g *Guard) removePending(res *Reservation) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res.done {
		return false
	}
	list := g.pending[res.AssetID]
	for i, r := range list {
		if r == res {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(g.pending, res.AssetID)
	} else {
		g.pending[res.AssetID] = list
	}
	res.done = true
	return true
}
