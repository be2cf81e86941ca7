package monitor

import (
	"sort"
	"sync"
	"time"

	"trading-decision-engine/internal/models"
)

// PositionBook is the engine's view of every position it opened.
// Writes for one asset happen under that asset's guard lock.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]models.Position
}

// NewPositionBook creates an empty book
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]models.Position)}
}

// Add stores or replaces a position
func (b *PositionBook) Add(p models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.ID] = p
}

// Get returns one position
func (b *PositionBook) Get(id string) (models.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	return p, ok
}

// Open returns every open position, oldest first
func (b *PositionBook) Open() []models.Position {
	return b.filter(func(p models.Position) bool { return p.Status == models.PositionOpen })
}

// All returns every position, oldest first
func (b *PositionBook) All() []models.Position {
	return b.filter(func(models.Position) bool { return true })
}

// OpenByBroker returns open positions on one broker
func (b *PositionBook) OpenByBroker(broker string) []models.Position {
	return b.filter(func(p models.Position) bool {
		return p.Status == models.PositionOpen && p.Broker == broker
	})
}

// OpenByStrategy returns open positions carrying a strategy tag
func (b *PositionBook) OpenByStrategy(name string) []models.Position {
	return b.filter(func(p models.Position) bool {
		return p.Status == models.PositionOpen && p.Strategy == name
	})
}

func (b *PositionBook) filter(keep func(models.Position) bool) []models.Position {
	b.mu.RLock()
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// SetLevels updates the protective prices of an open position
func (b *PositionBook) SetLevels(id string, stopLoss, takeProfit float64) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok || p.Status != models.PositionOpen {
		return p, false
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	b.positions[id] = p
	return p, true
}

// Close marks a position closed and fills in its outcome. Returns false if
// it was not open, so a closure is only ever reported once.
func (b *PositionBook) Close(id, reason string, exitPrice, unitValue float64, at time.Time) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok || p.Status != models.PositionOpen {
		return p, false
	}
	if unitValue <= 0 {
		unitValue = 1
	}
	move := exitPrice - p.EntryPrice
	if p.Direction == models.Short {
		move = -move
	}
	p.Status = models.PositionClosed
	p.CloseReason = reason
	p.ExitPrice = exitPrice
	p.PnL = move * p.Quantity * unitValue
	p.ClosedAt = &at
	b.positions[id] = p
	return p, true
}

// Prune drops closed positions older than cutoff
func (b *PositionBook) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, p := range b.positions {
		if p.Status == models.PositionClosed && p.ClosedAt != nil && p.ClosedAt.Before(cutoff) {
			delete(b.positions, id)
			n++
		}
	}
	return n
}
