package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/confidence"
	"trading-decision-engine/internal/models"
	"trading-decision-engine/internal/risk"
)

func goldFeed() *MemoryFeed {
	f := NewMemoryFeed()
	f.SetTick("GOLD", models.Tick{Bid: 1999.5, Ask: 2000.5, Price: 2000, Time: time.Now()})
	return f
}

func fastConfig() ResilienceConfig {
	cfg := DefaultResilienceConfig()
	cfg.InitialBackoffMs = 1
	cfg.MaxBackoffSeconds = 1
	cfg.RateLimitPerSecond = 0
	cfg.TimeoutSeconds = 1
	return cfg
}

type countingGateway struct {
	*PaperGateway
	accountCalls int32
}

func (c *countingGateway) GetAccountState(ctx context.Context) (models.AccountState, error) {
	atomic.AddInt32(&c.accountCalls, 1)
	return c.PaperGateway.GetAccountState(ctx)
}

func TestPaperGatewayLifecycle(t *testing.T) {
	ctx := context.Background()
	feed := goldFeed()
	p := NewPaperGateway(PaperConfig{Name: "paper", Balance: 10000, Leverage: 100}, feed,
		func(string) float64 { return 100 })

	res, err := p.PlaceOrder(ctx, OrderRequest{
		ClientID: "c1", AssetID: "GOLD", Symbol: "XAUUSD", Direction: models.Long,
		Quantity: 0.05, StopLoss: 1968.5, TakeProfit: 2052.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 2000.5, res.FillPrice)

	again, err := p.PlaceOrder(ctx, OrderRequest{ClientID: "c1", AssetID: "GOLD", Symbol: "XAUUSD", Direction: models.Long, Quantity: 0.05})
	require.NoError(t, err)
	assert.Equal(t, res.Ticket, again.Ticket, "client id makes retries idempotent")

	open, err := p.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "XAUUSD", open[0].Symbol)

	require.NoError(t, p.ModifyOrder(ctx, res.Ticket, 1970, 2060))
	open, _ = p.ListOpenPositions(ctx)
	assert.Equal(t, 1970.0, open[0].StopLoss)

	feed.SetTick("GOLD", models.Tick{Bid: 2010.5, Ask: 2011.5, Price: 2011})
	state, err := p.GetAccountState(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000+52.5, state.Equity, 1e-6)

	exit, err := p.ClosePosition(ctx, res.Ticket)
	require.NoError(t, err)
	assert.Equal(t, 2010.5, exit)
	state, _ = p.GetAccountState(ctx)
	assert.InDelta(t, 10050.0, state.Balance, 1e-6)

	_, err = p.ClosePosition(ctx, res.Ticket)
	assert.True(t, errors.Is(err, models.ErrInvalidSignal))
}

func TestResilientGatewayMarksDegraded(t *testing.T) {
	ctx := context.Background()
	inner := &countingGateway{PaperGateway: NewPaperGateway(PaperConfig{Name: "mt5", Balance: 1000}, goldFeed(), nil)}
	inner.FailNext("get_account_state", errors.New("connection reset"))

	deg := risk.NewDegradation()
	g := NewResilientGateway(inner, fastConfig(), deg)

	var degraded, recovered int32
	g.OnDegraded(func(string, string) { atomic.AddInt32(&degraded, 1) }, func(string) { atomic.AddInt32(&recovered, 1) })

	var observed int32
	g.Observe(func(broker, op string, took time.Duration, err error) {
		atomic.AddInt32(&observed, 1)
	})

	_, err := g.GetAccountState(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrBrokerUnavailable))
	assert.Equal(t, int32(4), atomic.LoadInt32(&inner.accountCalls), "first try plus three retries")
	assert.Equal(t, int32(1), degraded)

	isDegraded, reason := deg.Status("mt5")
	assert.True(t, isDegraded)
	assert.Contains(t, reason, "connection reset")

	inner.FailNext("get_account_state", nil)
	_, err = g.GetAccountState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), recovered)
	isDegraded, _ = deg.Status("mt5")
	assert.False(t, isDegraded)
	assert.Equal(t, int32(2), observed)
}

func TestResilientGatewayPassesRejections(t *testing.T) {
	ctx := context.Background()
	deg := risk.NewDegradation()
	g := NewResilientGateway(NewPaperGateway(PaperConfig{Name: "mt5", Balance: 1000}, goldFeed(), nil), fastConfig(), deg)

	err := g.ModifyOrder(ctx, "missing", 1, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidSignal))
	assert.False(t, errors.Is(err, models.ErrBrokerUnavailable))

	isDegraded, _ := deg.Status("mt5")
	assert.False(t, isDegraded)
}

func TestResilientGatewayOpensCircuit(t *testing.T) {
	ctx := context.Background()
	inner := &countingGateway{PaperGateway: NewPaperGateway(PaperConfig{Name: "mt5", Balance: 1000}, goldFeed(), nil)}
	inner.FailNext("get_account_state", errors.New("timeout"))

	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	g := NewResilientGateway(inner, cfg, nil)

	for i := 0; i < 5; i++ {
		_, err := g.GetAccountState(ctx)
		assert.True(t, errors.Is(err, models.ErrBrokerUnavailable))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.accountCalls), "open circuit stops calls")
	assert.Equal(t, "open", g.BreakerState())
}

func TestMemoryFeedWindow(t *testing.T) {
	f := NewMemoryFeed()
	var bars []models.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, models.Bar{Close: float64(i)})
	}
	f.SetBars("GOLD", "1h", bars)

	got, err := f.GetRecentBars(context.Background(), "GOLD", "1h", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 9.0, got[2].Close)

	_, err = f.GetRecentBars(context.Background(), "GOLD", "4h", 3)
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))
}

func TestSyntheticFeedIsConsistent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	f := NewSyntheticFeed(map[string]SyntheticConfig{
		"GOLD": {BasePrice: 2000, Volatility: 0.004, Spread: 0.5},
	}, 250, 42)
	f.SetClock(func() time.Time { return now })
	ctx := context.Background()

	bars, err := f.GetRecentBars(ctx, "GOLD", "1h", 300)
	require.NoError(t, err)
	require.Len(t, bars, 250)
	assert.Equal(t, 2000.0, bars[len(bars)-1].Close)
	for i := 1; i < len(bars); i++ {
		assert.Equal(t, bars[i-1].Close, bars[i].Open)
		assert.True(t, bars[i].OpenTime.After(bars[i-1].OpenTime))
		assert.GreaterOrEqual(t, bars[i].High, bars[i].Low)
	}

	now = now.Add(3 * time.Hour)
	bars, err = f.GetRecentBars(ctx, "GOLD", "1h", 300)
	require.NoError(t, err)
	assert.Len(t, bars, 253)

	tick, err := f.GetLiveTick(ctx, "GOLD")
	require.NoError(t, err)
	assert.InDelta(t, bars[len(bars)-1].Close, tick.Price, 1e-9)
	assert.InDelta(t, 0.5, tick.Spread(), 1e-9)

	_, err = f.GetRecentBars(ctx, "WTI", "1h", 10)
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))
}

func TestLoadSentiment(t *testing.T) {
	s := NewStaticSentiment()
	s.SetPositioning("GOLD", 0.4)
	s.AddEvent("GOLD", confidence.ScheduledEvent{Title: "CPI", Impact: "high", Time: time.Now().Add(time.Hour)})

	got, errs := LoadSentiment(context.Background(), s, "GOLD")
	assert.Empty(t, errs)
	require.NotNil(t, got.Positioning)
	assert.Equal(t, 0.4, *got.Positioning)
	assert.Nil(t, got.News)
	assert.Len(t, got.Events, 1)
}
