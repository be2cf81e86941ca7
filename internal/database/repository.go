package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trading-decision-engine/internal/models"
)

// Repository is the PostgreSQL Store
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// CONFIDENCE SCORES & AUDIT (append-only)
// ============================================================================

// SaveConfidenceScore inserts a score; re-inserting the same id is a no-op
func (r *Repository) SaveConfidenceScore(ctx context.Context, s models.ConfidenceScore) error {
	weights, err := json.Marshal(s.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	rationale, err := json.Marshal(s.Rationale)
	if err != nil {
		return fmt.Errorf("failed to marshal rationale: %w", err)
	}
	pro, _ := json.Marshal(s.Pro)
	contra, _ := json.Marshal(s.Contra)

	query := `
		INSERT INTO confidence_scores (id, asset_id, strategy, regime, direction,
			base_signal, trend_confluence, volatility, sentiment, weights, rationale, pro, contra,
			aggregate, ceiling, threshold, passed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(ctx, query,
		s.ID, s.AssetID, s.Strategy, string(s.Regime), string(s.Direction),
		s.Pillars.BaseSignal, s.Pillars.TrendConfluence, s.Pillars.Volatility, s.Pillars.Sentiment,
		weights, rationale, pro, contra,
		s.Aggregate, s.Ceiling, s.Threshold, s.Passed, s.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save confidence score %s: %w", s.ID, err)
	}
	return nil
}

// AppendAuditLog inserts one veto explanation
func (r *Repository) AppendAuditLog(ctx context.Context, e models.AuditLogEntry) error {
	pro, _ := json.Marshal(e.Pro)
	contra, _ := json.Marshal(e.Contra)
	query := `
		INSERT INTO audit_log (id, asset_id, broker, strategy, direction, kind, reason,
			pro, contra, net_weight, risk_assessment, confidence_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		e.ID, e.AssetID, e.Broker, e.Strategy, string(e.Direction), e.Kind, e.Reason,
		pro, contra, e.NetWeight, e.RiskAssessment, e.ConfidenceID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries, optionally for one asset
func (r *Repository) RecentAudit(ctx context.Context, assetID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, asset_id, COALESCE(broker, ''), COALESCE(strategy, ''), COALESCE(direction, ''),
		       kind, reason, pro, contra, COALESCE(net_weight, 0), COALESCE(risk_assessment, ''),
		       COALESCE(confidence_id, ''), created_at
		FROM audit_log
		WHERE ($1 = '' OR asset_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var direction string
		var pro, contra []byte
		if err := rows.Scan(&e.ID, &e.AssetID, &e.Broker, &e.Strategy, &direction,
			&e.Kind, &e.Reason, &pro, &contra, &e.NetWeight, &e.RiskAssessment,
			&e.ConfidenceID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Direction = models.Direction(direction)
		unmarshalList(pro, &e.Pro)
		unmarshalList(contra, &e.Contra)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ============================================================================
// WEIGHT HISTORY (append-only)
// ============================================================================

// AppendWeightHistory inserts one weight version
func (r *Repository) AppendWeightHistory(ctx context.Context, h models.WeightHistory) error {
	query := `
		INSERT INTO weight_history (asset_id, strategy, version, base_signal, trend_confluence,
			volatility, sentiment, win_rate, trades, wins, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		h.AssetID, h.Strategy, h.Version,
		h.Weights.BaseSignal, h.Weights.TrendConfluence, h.Weights.Volatility, h.Weights.Sentiment,
		h.WinRate, h.Trades, h.Wins, h.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append weights %s/%s v%d: %w", h.AssetID, h.Strategy, h.Version, err)
	}
	return nil
}

// LatestWeights returns the highest version per asset and strategy
func (r *Repository) LatestWeights(ctx context.Context) ([]models.WeightHistory, error) {
	query := `
		SELECT DISTINCT ON (asset_id, strategy)
		       asset_id, strategy, version, base_signal, trend_confluence, volatility, sentiment,
		       win_rate, trades, wins, created_at
		FROM weight_history
		ORDER BY asset_id, strategy, version DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WeightHistory
	for rows.Next() {
		var h models.WeightHistory
		if err := rows.Scan(&h.AssetID, &h.Strategy, &h.Version,
			&h.Weights.BaseSignal, &h.Weights.TrendConfluence, &h.Weights.Volatility, &h.Weights.Sentiment,
			&h.WinRate, &h.Trades, &h.Wins, &h.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ============================================================================
// POSITIONS
// ============================================================================

// UpsertPosition inserts or updates a position by id
func (r *Repository) UpsertPosition(ctx context.Context, p models.Position) error {
	pillars, _ := json.Marshal(p.EntryPillars)
	weights, _ := json.Marshal(p.EntryWeights)
	query := `
		INSERT INTO positions (id, asset_id, broker, symbol, ticket, direction, entry_price, quantity,
			stop_loss, take_profit, strategy, status, close_reason, exit_price, pnl, confidence_id,
			entry_pillars, entry_weights, opened_at, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
		ON CONFLICT (id) DO UPDATE SET
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			status = EXCLUDED.status,
			close_reason = EXCLUDED.close_reason,
			exit_price = EXCLUDED.exit_price,
			pnl = EXCLUDED.pnl,
			closed_at = EXCLUDED.closed_at,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.AssetID, p.Broker, p.Symbol, p.Ticket, string(p.Direction), p.EntryPrice, p.Quantity,
		p.StopLoss, p.TakeProfit, p.Strategy, string(p.Status), p.CloseReason, p.ExitPrice, p.PnL,
		p.ConfidenceID, pillars, weights, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetOpenPositions retrieves every open position, oldest first
func (r *Repository) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	query := `
		SELECT id, asset_id, broker, symbol, ticket, direction, entry_price, quantity,
		       stop_loss, take_profit, strategy, status, COALESCE(confidence_id, ''),
		       entry_pillars, entry_weights, opened_at
		FROM positions
		WHERE status = 'open'
		ORDER BY opened_at
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]models.Position, error) {
	var out []models.Position
	for rows.Next() {
		var p models.Position
		var direction, status string
		var pillars, weights []byte
		if err := rows.Scan(&p.ID, &p.AssetID, &p.Broker, &p.Symbol, &p.Ticket, &direction,
			&p.EntryPrice, &p.Quantity, &p.StopLoss, &p.TakeProfit, &p.Strategy, &status,
			&p.ConfidenceID, &pillars, &weights, &p.OpenedAt); err != nil {
			return nil, err
		}
		p.Direction = models.Direction(direction)
		p.Status = models.PositionStatus(status)
		if len(pillars) > 0 {
			_ = json.Unmarshal(pillars, &p.EntryPillars)
		}
		if len(weights) > 0 {
			_ = json.Unmarshal(weights, &p.EntryWeights)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================================================================
// ANALYSIS
// ============================================================================

// ConfidenceOutcomes joins closed positions to their entry scores
func (r *Repository) ConfidenceOutcomes(ctx context.Context, since time.Time) ([]ConfidenceOutcome, error) {
	query := `
		SELECT p.id, p.asset_id, p.strategy, c.regime, c.aggregate, c.ceiling,
		       p.pnl, p.direction, p.entry_price, COALESCE(p.exit_price, 0), p.closed_at
		FROM positions p
		JOIN confidence_scores c ON c.id = p.confidence_id
		WHERE p.status = 'closed' AND p.closed_at >= $1
		ORDER BY p.closed_at
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfidenceOutcome
	for rows.Next() {
		var o ConfidenceOutcome
		var regime, direction string
		var entry, exit float64
		if err := rows.Scan(&o.PositionID, &o.AssetID, &o.Strategy, &regime, &o.Aggregate, &o.Ceiling,
			&o.PnL, &direction, &entry, &exit, &o.ClosedAt); err != nil {
			return nil, err
		}
		o.Regime = models.Regime(regime)
		o.PnLPercent = models.Position{Direction: models.Direction(direction), EntryPrice: entry, ExitPrice: exit}.PnLPercent()
		out = append(out, o)
	}
	return out, rows.Err()
}

func unmarshalList(data []byte, into *[]string) {
	if len(data) == 0 {
		return
	}
	_ = json.Unmarshal(data, into)
}
