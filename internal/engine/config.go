package engine

import (
	"fmt"
	"time"

	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/confidence"
	"trading-decision-engine/internal/guard"
	"trading-decision-engine/internal/learning"
	"trading-decision-engine/internal/regime"
	"trading-decision-engine/internal/risk"
)

// Config holds worker cadences and the component settings the engine builds
type Config struct {
	MarketDataIntervalSeconds int `json:"market_data_interval_seconds" default:"15" validate:"gte=1"`
	SignalIntervalSeconds     int `json:"signal_interval_seconds" default:"60" validate:"gte=1"`
	ExecutionIntervalSeconds  int `json:"execution_interval_seconds" default:"120" validate:"gte=1"`

	// Bars fetched per timeframe; must cover the classifier's lookbacks
	HistoryBars int `json:"history_bars" default:"250" validate:"gte=60"`
	// Timeframe the regime is classified on
	PrimaryTimeframe string `json:"primary_timeframe" default:"1h"`
	// Trend confluence timeframes, longest first
	TrendTimeframes []string `json:"trend_timeframes"`

	// Candidates older than this are dropped by the execution worker
	SignalTTLSeconds int `json:"signal_ttl_seconds" default:"300" validate:"gte=1"`
	// Parallel asset refreshes in the market-data worker
	Concurrency int `json:"concurrency" default:"4" validate:"gte=1"`
	// Broker preference order for new entries
	Brokers []string `json:"brokers"`
	// Score and size but never place orders
	DryRun bool `json:"dry_run"`
	// Closed positions are dropped from memory after this long
	RetainClosedHours int `json:"retain_closed_hours" default:"48"`

	Regime     regime.Config           `json:"regime"`
	Confidence confidence.Config       `json:"confidence"`
	Sizer      risk.SizerConfig        `json:"sizer"`
	Breaker    risk.BreakerConfig      `json:"breaker"`
	Guard      guard.Config            `json:"guard"`
	Learning   learning.Config         `json:"learning"`
	Resilience broker.ResilienceConfig `json:"resilience"`
}

// DefaultConfig returns production cadences and component defaults
func DefaultConfig() Config {
	return Config{
		MarketDataIntervalSeconds: 15,
		SignalIntervalSeconds:     60,
		ExecutionIntervalSeconds:  120,
		HistoryBars:               250,
		PrimaryTimeframe:          "1h",
		TrendTimeframes:           []string{"1d", "4h", "1h"},
		SignalTTLSeconds:          300,
		Concurrency:               4,
		RetainClosedHours:         48,
		Regime:                    regime.DefaultConfig(),
		Confidence:                confidence.DefaultConfig(),
		Sizer:                     risk.DefaultSizerConfig(),
		Breaker:                   risk.DefaultBreakerConfig(),
		Guard:                     guard.DefaultConfig(),
		Learning:                  learning.DefaultConfig(),
		Resilience:                broker.DefaultResilienceConfig(),
	}
}

// Validate checks the fields the engine depends on directly
func (c Config) Validate() error {
	if c.MarketDataIntervalSeconds <= 0 || c.SignalIntervalSeconds <= 0 || c.ExecutionIntervalSeconds <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	if c.PrimaryTimeframe == "" {
		return fmt.Errorf("primary timeframe is required")
	}
	if len(c.TrendTimeframes) == 0 {
		return fmt.Errorf("at least one trend timeframe is required")
	}
	if err := c.Regime.Validate(); err != nil {
		return fmt.Errorf("regime: %w", err)
	}
	return nil
}

func (c Config) signalTTL() time.Duration {
	return time.Duration(c.SignalTTLSeconds) * time.Second
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
