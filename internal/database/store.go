package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"trading-decision-engine/internal/models"
)

// Store persists the engine's records. Scores, audit entries and weight
// versions are append-only; positions are upserted by id.
type Store interface {
	SaveConfidenceScore(ctx context.Context, s models.ConfidenceScore) error
	AppendAuditLog(ctx context.Context, e models.AuditLogEntry) error
	AppendWeightHistory(ctx context.Context, h models.WeightHistory) error
	UpsertPosition(ctx context.Context, p models.Position) error
	GetOpenPositions(ctx context.Context) ([]models.Position, error)
	LatestWeights(ctx context.Context) ([]models.WeightHistory, error)
	RecentAudit(ctx context.Context, assetID string, limit int) ([]models.AuditLogEntry, error)
	ConfidenceOutcomes(ctx context.Context, since time.Time) ([]ConfidenceOutcome, error)
}

// ConfidenceOutcome joins a closed position with the score that opened it
type ConfidenceOutcome struct {
	PositionID string        `json:"position_id"`
	AssetID    string        `json:"asset_id"`
	Strategy   string        `json:"strategy"`
	Regime     models.Regime `json:"regime"`
	Aggregate  float64       `json:"aggregate"`
	Ceiling    float64       `json:"ceiling"`
	PnL        float64       `json:"pnl"`
	PnLPercent float64       `json:"pnl_percent"`
	ClosedAt   time.Time     `json:"closed_at"`
}

// Normalized returns the entry confidence as a 0..1 fraction
func (o ConfidenceOutcome) Normalized() float64 {
	if o.Ceiling <= 0 {
		return 0
	}
	return o.Aggregate / o.Ceiling
}

// MemoryStore keeps everything in process. Used for dry runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	scores    map[string]models.ConfidenceScore
	audit     []models.AuditLogEntry
	weights   []models.WeightHistory
	positions map[string]models.Position
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scores:    make(map[string]models.ConfidenceScore),
		positions: make(map[string]models.Position),
	}
}

func (m *MemoryStore) SaveConfidenceScore(_ context.Context, s models.ConfidenceScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scores[s.ID]; exists {
		return nil
	}
	m.scores[s.ID] = s
	return nil
}

func (m *MemoryStore) AppendAuditLog(_ context.Context, e models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) AppendWeightHistory(_ context.Context, h models.WeightHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = append(m.weights, h)
	return nil
}

func (m *MemoryStore) UpsertPosition(_ context.Context, p models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *MemoryStore) GetOpenPositions(_ context.Context) ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Position
	for _, p := range m.positions {
		if p.Status == models.PositionOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// LatestWeights returns the highest version per asset and strategy
func (m *MemoryStore) LatestWeights(_ context.Context) ([]models.WeightHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[string]models.WeightHistory)
	for _, h := range m.weights {
		k := h.AssetID + "|" + h.Strategy
		if cur, ok := latest[k]; !ok || h.Version > cur.Version {
			latest[k] = h
		}
	}
	out := make([]models.WeightHistory, 0, len(latest))
	for _, h := range latest {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetID != out[j].AssetID {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out, nil
}

// RecentAudit returns newest entries first; an empty assetID matches all
func (m *MemoryStore) RecentAudit(_ context.Context, assetID string, limit int) ([]models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditLogEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if assetID != "" && e.AssetID != assetID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ConfidenceOutcomes(_ context.Context, since time.Time) ([]ConfidenceOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConfidenceOutcome
	for _, p := range m.positions {
		if p.Status != models.PositionClosed || p.ClosedAt == nil || p.ClosedAt.Before(since) {
			continue
		}
		s, ok := m.scores[p.ConfidenceID]
		if !ok {
			continue
		}
		out = append(out, ConfidenceOutcome{
			PositionID: p.ID,
			AssetID:    p.AssetID,
			Strategy:   p.Strategy,
			Regime:     s.Regime,
			Aggregate:  s.Aggregate,
			Ceiling:    s.Ceiling,
			PnL:        p.PnL,
			PnLPercent: p.PnLPercent(),
			ClosedAt:   *p.ClosedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out, nil
}

// WeightHistory returns every appended version, oldest first
func (m *MemoryStore) WeightHistory() []models.WeightHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.WeightHistory(nil), m.weights...)
}

// Score returns one saved confidence score
func (m *MemoryStore) Score(id string) (models.ConfidenceScore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[id]
	return s, ok
}

// Position returns one saved position
func (m *MemoryStore) Position(id string) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}
