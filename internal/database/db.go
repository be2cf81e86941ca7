package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trading-decision-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host" default:"localhost"`
	Port     int    `json:"port" default:"5432" validate:"gt=0,lte=65535"`
	User     string `json:"user" default:"trader"`
	Password string `json:"password"`
	Database string `json:"database" default:"decision_engine"`
	SSLMode  string `json:"ssl_mode" default:"disable"`
	MaxConns int32  `json:"max_conns" default:"10" validate:"gt=0"`
}

// DSN renders the connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// migrations are applied in order; every statement is idempotent
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS confidence_scores (
		id VARCHAR(64) PRIMARY KEY,
		asset_id VARCHAR(32) NOT NULL,
		strategy VARCHAR(32) NOT NULL,
		regime VARCHAR(32) NOT NULL,
		direction VARCHAR(8) NOT NULL,
		base_signal DOUBLE PRECISION NOT NULL,
		trend_confluence DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		sentiment DOUBLE PRECISION NOT NULL,
		weights JSONB NOT NULL,
		rationale JSONB,
		pro JSONB,
		contra JSONB,
		aggregate DOUBLE PRECISION NOT NULL,
		ceiling DOUBLE PRECISION NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		passed BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_confidence_scores_asset ON confidence_scores(asset_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(64) PRIMARY KEY,
		asset_id VARCHAR(32) NOT NULL,
		broker VARCHAR(32),
		strategy VARCHAR(32),
		direction VARCHAR(8),
		kind VARCHAR(32) NOT NULL,
		reason TEXT NOT NULL,
		pro JSONB,
		contra JSONB,
		net_weight DOUBLE PRECISION,
		risk_assessment TEXT,
		confidence_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_asset ON audit_log(asset_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_kind ON audit_log(kind)`,

	`CREATE TABLE IF NOT EXISTS weight_history (
		asset_id VARCHAR(32) NOT NULL,
		strategy VARCHAR(32) NOT NULL,
		version BIGINT NOT NULL,
		base_signal DOUBLE PRECISION NOT NULL,
		trend_confluence DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		sentiment DOUBLE PRECISION NOT NULL,
		win_rate DOUBLE PRECISION NOT NULL,
		trades INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (asset_id, strategy, version)
	)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id VARCHAR(64) PRIMARY KEY,
		asset_id VARCHAR(32) NOT NULL,
		broker VARCHAR(32) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		ticket VARCHAR(64) NOT NULL,
		direction VARCHAR(8) NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL,
		take_profit DOUBLE PRECISION NOT NULL,
		strategy VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		close_reason VARCHAR(32),
		exit_price DOUBLE PRECISION,
		pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_id VARCHAR(64),
		entry_pillars JSONB,
		entry_weights JSONB,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_confidence ON positions(confidence_id)`,
}

// RunMigrations creates the schema
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations", "count", len(migrations))
	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
