package learning

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/strategy"
)

// Key scopes one weight table to an asset and strategy
type Key struct {
	AssetID  string
	Strategy strategy.Name
}

func (k Key) String() string {
	return k.AssetID + "/" + string(k.Strategy)
}

type bookSnapshot struct {
	current map[Key]models.WeightHistory
	series  map[Key][]models.WeightHistory
}

// WeightBook holds the learned weights. Readers load an immutable snapshot;
// writers copy it, so a decision in progress never sees a half-applied update.
type WeightBook struct {
	snap         atomic.Pointer[bookSnapshot]
	writeMu      sync.Mutex
	historyLimit int

	// Per-pillar band as a fraction of the ceiling, used when a stored
	// version no longer sums to the profile's ceiling
	minPct float64
	maxPct float64
}

// NewWeightBook creates an empty book keeping at most historyLimit versions per key
func NewWeightBook(historyLimit int) *WeightBook {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	def := DefaultConfig()
	b := &WeightBook{historyLimit: historyLimit, minPct: def.MinWeightPct, maxPct: def.MaxWeightPct}
	b.snap.Store(&bookSnapshot{
		current: map[Key]models.WeightHistory{},
		series:  map[Key][]models.WeightHistory{},
	})
	return b
}

// SetBand sets the per-pillar band used by Fit. Call before the book is shared.
func (b *WeightBook) SetBand(minPct, maxPct float64) {
	if minPct < 0 || maxPct <= 0 || minPct > maxPct {
		return
	}
	b.minPct, b.maxPct = minPct, maxPct
}

// Fit maps weights onto ceiling, keeping each pillar inside the band.
// Weights already summing to ceiling are returned unchanged.
func (b *WeightBook) Fit(w models.PillarWeights, ceiling float64) models.PillarWeights {
	if ceiling <= 0 || math.Abs(w.Sum()-ceiling) <= 1e-6 {
		return w
	}
	return Project(w, ceiling*b.minPct, ceiling*b.maxPct, ceiling)
}

// Current returns the latest weights for a key, fitted to the profile's
// ceiling, falling back to the profile defaults at version 0 when nothing
// has been learned yet.
func (b *WeightBook) Current(assetID string, profile strategy.Profile) models.WeightHistory {
	key := Key{AssetID: assetID, Strategy: profile.Name}
	if h, ok := b.snap.Load().current[key]; ok {
		h.Weights = b.Fit(h.Weights, profile.Ceiling)
		return h
	}
	return models.WeightHistory{
		AssetID:  assetID,
		Strategy: string(profile.Name),
		Weights:  profile.Weights,
	}
}

// Learned reports whether a key has any stored version
func (b *WeightBook) Learned(key Key) bool {
	_, ok := b.snap.Load().current[key]
	return ok
}

// Series returns the stored versions for a key, oldest first
func (b *WeightBook) Series(key Key) []models.WeightHistory {
	s := b.snap.Load().series[key]
	out := make([]models.WeightHistory, len(s))
	copy(out, s)
	return out
}

// Keys lists every learned key in stable order
func (b *WeightBook) Keys() []Key {
	snap := b.snap.Load()
	keys := make([]Key, 0, len(snap.current))
	for k := range snap.current {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Update applies fn to the current version of key and publishes the result as
// the next version. fn runs under the writer lock.
func (b *WeightBook) Update(key Key, base models.WeightHistory, fn func(prev models.WeightHistory) models.WeightHistory) models.WeightHistory {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	old := b.snap.Load()
	prev, ok := old.current[key]
	if !ok {
		prev = base
	}
	next := fn(prev)
	next.AssetID = key.AssetID
	next.Strategy = string(key.Strategy)
	next.Version = prev.Version + 1

	b.publish(old, key, next)
	return next
}

// Restore loads persisted versions, replacing whatever the book holds for
// their keys. ceilingFor reports the strategy's current ceiling; versions
// written under another ceiling are fitted to it.
func (b *WeightBook) Restore(entries []models.WeightHistory, ceilingFor func(strategy.Name) (float64, bool)) error {
	for _, h := range entries {
		if err := validateHistory(h, ceilingFor); err != nil {
			return err
		}
	}

	sorted := make([]models.WeightHistory, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	snap := b.snap.Load()
	for _, h := range sorted {
		key := Key{AssetID: h.AssetID, Strategy: strategy.Name(h.Strategy)}
		if cur, ok := snap.current[key]; ok && cur.Version >= h.Version {
			continue
		}
		if ceilingFor != nil {
			if ceiling, ok := ceilingFor(key.Strategy); ok {
				h.Weights = b.Fit(h.Weights, ceiling)
			}
		}
		b.publish(snap, key, h)
		snap = b.snap.Load()
	}
	return nil
}

func (b *WeightBook) publish(old *bookSnapshot, key Key, next models.WeightHistory) {
	snap := &bookSnapshot{
		current: make(map[Key]models.WeightHistory, len(old.current)+1),
		series:  make(map[Key][]models.WeightHistory, len(old.series)+1),
	}
	for k, v := range old.current {
		snap.current[k] = v
	}
	for k, v := range old.series {
		snap.series[k] = v
	}
	snap.current[key] = next

	series := append(append([]models.WeightHistory(nil), old.series[key]...), next)
	if len(series) > b.historyLimit {
		series = series[len(series)-b.historyLimit:]
	}
	snap.series[key] = series

	b.snap.Store(snap)
}

func validateHistory(h models.WeightHistory, ceilingFor func(strategy.Name) (float64, bool)) error {
	if h.AssetID == "" || h.Strategy == "" {
		return fmt.Errorf("%w: entry without asset or strategy", models.ErrCorruptWeights)
	}
	if !h.Weights.Valid() || h.Weights.Sum() <= 0 {
		return fmt.Errorf("%w: %s/%s v%d has non-finite, negative or empty weights",
			models.ErrCorruptWeights, h.AssetID, h.Strategy, h.Version)
	}
	if h.Trades < 0 || h.Wins < 0 || h.Wins > h.Trades {
		return fmt.Errorf("%w: %s/%s v%d has %d wins over %d trades",
			models.ErrCorruptWeights, h.AssetID, h.Strategy, h.Version, h.Wins, h.Trades)
	}
	if ceilingFor == nil {
		return nil
	}
	if _, ok := ceilingFor(strategy.Name(h.Strategy)); !ok {
		return fmt.Errorf("%w: unknown strategy %q", models.ErrCorruptWeights, h.Strategy)
	}
	return nil
}

// winRate in percent
func winRate(wins, trades int) float64 {
	if trades == 0 {
		return 0
	}
	return float64(wins) / float64(trades) * 100
}
