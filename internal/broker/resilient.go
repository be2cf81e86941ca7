package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/risk"
)

// ResilienceConfig bounds every broker call
type ResilienceConfig struct {
	TimeoutSeconds     int     `json:"timeout_seconds" default:"30" validate:"gte=1"`
	MaxRetries         uint64  `json:"max_retries" default:"3"`
	InitialBackoffMs   int     `json:"initial_backoff_ms" default:"500"`
	MaxBackoffSeconds  int     `json:"max_backoff_seconds" default:"10"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second" default:"5"`
	RateBurst          int     `json:"rate_burst" default:"5"`
	BreakerFailures    uint32  `json:"breaker_failures" default:"5"`
	BreakerOpenSeconds int     `json:"breaker_open_seconds" default:"60"`
}

// DefaultResilienceConfig returns generous limits; handshakes can be slow
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		TimeoutSeconds:     30,
		MaxRetries:         3,
		InitialBackoffMs:   500,
		MaxBackoffSeconds:  10,
		RateLimitPerSecond: 5,
		RateBurst:          5,
		BreakerFailures:    5,
		BreakerOpenSeconds: 60,
	}
}

// CallObserver sees every broker call after it finishes
type CallObserver func(broker, op string, took time.Duration, err error)

// ResilientGateway wraps a Gateway with a per-call timeout, rate limit,
// exponential backoff and a circuit breaker. Failures surface as
// ErrBrokerUnavailable and mark the broker degraded.
type ResilientGateway struct {
	inner       Gateway
	config      ResilienceConfig
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	degradation *risk.Degradation
	observer    CallObserver
	onDegraded  func(broker, reason string)
	onRecovered func(broker string)
	logger      *logging.Logger
}

// NewResilientGateway wraps inner. degradation may be shared across brokers.
func NewResilientGateway(inner Gateway, config ResilienceConfig, degradation *risk.Degradation) *ResilientGateway {
	if degradation == nil {
		degradation = risk.NewDegradation()
	}
	limit := rate.Inf
	if config.RateLimitPerSecond > 0 {
		limit = rate.Limit(config.RateLimitPerSecond)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}

	g := &ResilientGateway{
		inner:       inner,
		config:      config,
		limiter:     rate.NewLimiter(limit, burst),
		degradation: degradation,
		logger:      logging.WithComponent("broker").WithField("broker", inner.Name()),
	}

	failures := config.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Timeout:     time.Duration(config.BreakerOpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Broker rejections are answers, not outages
		IsSuccessful: func(err error) bool {
			return err == nil || isRejection(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("Broker circuit changed", "from", from.String(), "to", to.String())
		},
	})
	return g
}

// Observe installs a call observer, typically metrics
func (g *ResilientGateway) Observe(fn CallObserver) {
	g.observer = fn
}

// OnDegraded sets callbacks for degraded and recovered transitions
func (g *ResilientGateway) OnDegraded(degraded func(broker, reason string), recovered func(broker string)) {
	g.onDegraded = degraded
	g.onRecovered = recovered
}

// Name returns the wrapped broker's name
func (g *ResilientGateway) Name() string {
	return g.inner.Name()
}

// BreakerState exposes the circuit state for the risk summary
func (g *ResilientGateway) BreakerState() string {
	return g.breaker.State().String()
}

func (g *ResilientGateway) ListOpenPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	var out []models.BrokerPosition
	err := g.call(ctx, "list_open_positions", true, func(ctx context.Context) error {
		var err error
		out, err = g.inner.ListOpenPositions(ctx)
		return err
	})
	return out, err
}

func (g *ResilientGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var out OrderResult
	err := g.call(ctx, "place_order", req.ClientID != "", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PlaceOrder(ctx, req)
		return err
	})
	return out, err
}

func (g *ResilientGateway) ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	return g.call(ctx, "modify_order", true, func(ctx context.Context) error {
		return g.inner.ModifyOrder(ctx, ticket, stopLoss, takeProfit)
	})
}

func (g *ResilientGateway) ClosePosition(ctx context.Context, ticket string) (float64, error) {
	var exit float64
	err := g.call(ctx, "close_position", false, func(ctx context.Context) error {
		var err error
		exit, err = g.inner.ClosePosition(ctx, ticket)
		return err
	})
	return exit, err
}

func (g *ResilientGateway) GetAccountState(ctx context.Context) (models.AccountState, error) {
	var out models.AccountState
	err := g.call(ctx, "get_account_state", true, func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetAccountState(ctx)
		return err
	})
	return out, err
}

// call runs fn through the limiter, breaker and backoff. Only idempotent
// operations are retried.
func (g *ResilientGateway) call(ctx context.Context, op string, retry bool, fn func(ctx context.Context) error) error {
	start := time.Now()
	timeout := time.Duration(g.config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	attempt := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := g.breaker.Execute(func() (interface{}, error) {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return nil, fn(cctx)
		})
		switch {
		case err == nil:
			return nil
		case isRejection(err),
			errors.Is(err, gobreaker.ErrOpenState),
			errors.Is(err, gobreaker.ErrTooManyRequests),
			ctx.Err() != nil:
			return backoff.Permanent(err)
		}
		return err
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retry && g.config.MaxRetries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = time.Duration(g.config.InitialBackoffMs) * time.Millisecond
		exp.MaxInterval = time.Duration(g.config.MaxBackoffSeconds) * time.Second
		exp.MaxElapsedTime = 0
		policy = backoff.WithMaxRetries(exp, g.config.MaxRetries)
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		g.logger.Debug("Retrying broker call", "op", op, "wait", wait.String(), "error", err)
	})

	if g.observer != nil {
		g.observer(g.inner.Name(), op, time.Since(start), err)
	}

	if err == nil {
		if g.degradation.MarkHealthy(g.inner.Name()) {
			g.logger.Info("Broker recovered", "op", op)
			if g.onRecovered != nil {
				g.onRecovered(g.inner.Name())
			}
		}
		return nil
	}
	if isRejection(err) {
		return err
	}

	reason := fmt.Sprintf("%s: %v", op, err)
	if g.degradation.MarkDegraded(g.inner.Name(), reason) {
		g.logger.Warn("Broker degraded", "op", op, "error", err)
		if g.onDegraded != nil {
			g.onDegraded(g.inner.Name(), reason)
		}
	}
	return models.Veto(models.ErrBrokerUnavailable, "%s %s: %v", g.inner.Name(), op, err).
		WithDetail("broker", g.inner.Name())
}

// isRejection reports errors where the broker answered and said no
func isRejection(err error) bool {
	var veto *models.VetoError
	if !errors.As(err, &veto) {
		return false
	}
	return !errors.Is(veto, models.ErrBrokerUnavailable)
}
