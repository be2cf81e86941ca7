package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/models"
)

func TestRedisCooldownStore(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	s := NewRedisCooldownStore(ctx, db)
	require.True(t, s.IsRedisAvailable())

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	stamp := at.Format(time.RFC3339Nano)

	t.Run("write then read", func(t *testing.T) {
		mock.ExpectSet("tde:cooldown:GOLD", stamp, CooldownTTL).SetVal("OK")
		require.NoError(t, s.SetLastTrade(ctx, "GOLD", at))

		mock.ExpectGet("tde:cooldown:GOLD").SetVal(stamp)
		got, ok, err := s.LastTrade(ctx, "GOLD")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, got.Equal(at))
	})

	t.Run("missing key", func(t *testing.T) {
		mock.ExpectGet("tde:cooldown:WTI").RedisNil()
		_, ok, err := s.LastTrade(ctx, "WTI")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("corrupt value", func(t *testing.T) {
		mock.ExpectGet("tde:cooldown:CORN").SetVal("yesterday")
		_, _, err := s.LastTrade(ctx, "CORN")
		assert.Error(t, err)
	})

	t.Run("outage falls back to memory", func(t *testing.T) {
		mock.ExpectGet("tde:cooldown:GOLD").SetErr(errors.New("connection refused"))
		got, ok, err := s.LastTrade(ctx, "GOLD")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, got.Equal(at))
		assert.False(t, s.IsRedisAvailable())

		// served from memory without touching redis
		require.NoError(t, s.SetLastTrade(ctx, "SILVER", at.Add(time.Minute)))
		_, ok, err = s.LastTrade(ctx, "SILVER")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, s.GetStats().InMemoryCacheSize)
	})

	t.Run("recovery resyncs", func(t *testing.T) {
		mock.MatchExpectationsInOrder(false)
		mock.ExpectPing().SetVal("PONG")
		mock.ExpectTxPipeline()
		mock.ExpectSet("tde:cooldown:GOLD", stamp, CooldownTTL).SetVal("OK")
		mock.ExpectSet("tde:cooldown:SILVER", at.Add(time.Minute).Format(time.RFC3339Nano), CooldownTTL).SetVal("OK")
		mock.ExpectTxPipelineExec()

		require.NoError(t, s.CheckRedisConnection(ctx))
		assert.True(t, s.IsRedisAvailable())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCooldownStoreWithoutClient(t *testing.T) {
	ctx := context.Background()
	s := NewRedisCooldownStore(ctx, nil)
	assert.False(t, s.IsRedisAvailable())

	now := time.Now()
	require.NoError(t, s.SetLastTrade(ctx, "GOLD", now))
	got, ok, err := s.LastTrade(ctx, "GOLD")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(now))

	require.NoError(t, s.ClearLastTrade(ctx, "GOLD"))
	_, ok, _ = s.LastTrade(ctx, "GOLD")
	assert.False(t, ok)
	assert.Error(t, s.CheckRedisConnection(ctx))
}

func TestMemoryStoreLatestWeights(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for v := int64(1); v <= 3; v++ {
		require.NoError(t, m.AppendWeightHistory(ctx, models.WeightHistory{AssetID: "GOLD", Strategy: "swing", Version: v}))
	}
	require.NoError(t, m.AppendWeightHistory(ctx, models.WeightHistory{AssetID: "CORN", Strategy: "day", Version: 7}))

	latest, err := m.LatestWeights(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "CORN", latest[0].AssetID)
	assert.Equal(t, int64(3), latest[1].Version)
	assert.Len(t, m.WeightHistory(), 4, "history is append-only")
}

func TestMemoryStoreAuditAndOutcomes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, asset := range []string{"GOLD", "WTI", "GOLD"} {
		require.NoError(t, m.AppendAuditLog(ctx, models.AuditLogEntry{ID: asset, AssetID: asset, Kind: "stale_cooldown"}))
	}
	gold, err := m.RecentAudit(ctx, "GOLD", 10)
	require.NoError(t, err)
	assert.Len(t, gold, 2)
	all, _ := m.RecentAudit(ctx, "", 2)
	assert.Len(t, all, 2)

	require.NoError(t, m.SaveConfidenceScore(ctx, models.ConfidenceScore{ID: "c1", Regime: models.RegimeStrongTrend, Aggregate: 80, Ceiling: 100}))
	closedAt := time.Now()
	require.NoError(t, m.UpsertPosition(ctx, models.Position{
		ID: "p1", ConfidenceID: "c1", Status: models.PositionClosed, Direction: models.Long,
		EntryPrice: 100, ExitPrice: 102, PnL: 20, ClosedAt: &closedAt,
	}))
	require.NoError(t, m.UpsertPosition(ctx, models.Position{ID: "p2", Status: models.PositionOpen}))

	outcomes, err := m.ConfidenceOutcomes(ctx, closedAt.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 0.8, outcomes[0].Normalized())
	assert.InDelta(t, 2.0, outcomes[0].PnLPercent, 1e-9)

	open, _ := m.GetOpenPositions(ctx)
	assert.Len(t, open, 1)
}
