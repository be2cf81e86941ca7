package risk

import (
	"sync"
	"time"

	"trading-decision-engine/internal/models"
)

// ComputeRiskState summarizes one broker's exposure from its account and open positions.
// unitValue maps an asset id to its per-unit value. Not cached; callers recompute per cycle.
func ComputeRiskState(broker string, account models.AccountState, positions []models.Position,
	unitValue func(assetID string) float64, now time.Time) models.RiskState {

	state := models.RiskState{
		Broker:          broker,
		Balance:         account.Balance,
		Equity:          account.Equity,
		AvailableMargin: account.Equity - account.Margin,
		ComputedAt:      now,
	}

	atStake := 0.0
	for _, p := range positions {
		if p.Broker != broker || p.Status != models.PositionOpen {
			continue
		}
		state.OpenPositions++
		uv := 1.0
		if unitValue != nil {
			uv = unitValue(p.AssetID)
		}
		atStake += p.RiskAtStake(uv)
	}

	if account.Balance > 0 {
		state.ExposurePercent = atStake / account.Balance * 100
		if account.Equity < account.Balance {
			state.DrawdownPercent = (account.Balance - account.Equity) / account.Balance * 100
		}
	}
	if state.AvailableMargin < 0 {
		state.AvailableMargin = 0
	}
	return state
}

// Degradation tracks brokers whose calls are failing
type Degradation struct {
	mu      sync.RWMutex
	brokers map[string]degradedEntry
}

type degradedEntry struct {
	reason string
	since  time.Time
}

// NewDegradation creates an empty tracker
func NewDegradation() *Degradation {
	return &Degradation{brokers: make(map[string]degradedEntry)}
}

// MarkDegraded flags a broker. Returns true if it was healthy before.
func (d *Degradation) MarkDegraded(broker, reason string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, already := d.brokers[broker]
	if !already {
		d.brokers[broker] = degradedEntry{reason: reason, since: time.Now()}
	}
	return !already
}

// MarkHealthy clears a broker. Returns true if it was degraded before.
func (d *Degradation) MarkHealthy(broker string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, was := d.brokers[broker]
	delete(d.brokers, broker)
	return was
}

// Status reports whether a broker is degraded and why
func (d *Degradation) Status(broker string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.brokers[broker]
	return ok, e.reason
}

// Apply copies degradation status onto a computed state
func (d *Degradation) Apply(state models.RiskState) models.RiskState {
	state.Degraded, state.DegradedReason = d.Status(state.Broker)
	return state
}
