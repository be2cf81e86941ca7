package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-decision-engine/internal/models"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestBusDeliversByType(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var vetoes, all []Event
	bus.Subscribe(EventVetoIssued, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		vetoes = append(vetoes, e)
	})
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, e)
	})

	bus.PublishVeto(models.AuditLogEntry{ID: "a1", AssetID: "GOLD", Kind: "stale_cooldown", Reason: "59 minutes left"})
	bus.PublishBrokerDegraded("mt5", "timeout")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(vetoes) == 1 && len(all) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "GOLD", vetoes[0].AssetID)
	assert.Equal(t, "stale_cooldown", vetoes[0].Data["kind"])
	assert.NotEmpty(t, vetoes[0].ID)
}

func TestKafkaSinkBatchesAndFlushes(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSinkWithWriter(w, KafkaConfig{Topic: "events", BatchSize: 2, BatchTimeMs: 10, BufferSize: 16})
	bus := NewEventBus()
	sink.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	closedAt := time.Now()
	bus.PublishTradeClosed(models.Position{ID: "p1", AssetID: "GOLD", Direction: models.Long,
		EntryPrice: 100, ExitPrice: 101, ClosedAt: &closedAt, CloseReason: models.CloseTakeProfit})
	bus.PublishWeightsUpdated(models.WeightHistory{AssetID: "GOLD", Strategy: "swing", Version: 4})
	bus.PublishBrokerRecovered("mt5")

	assert.Eventually(t, func() bool { return w.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, sink.Close())
	assert.True(t, w.closed)

	w.mu.Lock()
	defer w.mu.Unlock()
	keys := map[string]bool{}
	for _, m := range w.msgs {
		keys[string(m.Key)] = true
		var e Event
		require.NoError(t, json.Unmarshal(m.Value, &e))
		assert.Equal(t, string(e.Type), string(m.Headers[0].Value))
	}
	assert.True(t, keys["GOLD"])
	assert.True(t, keys[string(EventBrokerRecovered)], "events without an asset are keyed by type")
	assert.Equal(t, int64(3), sink.Stats().Sent)
}

func TestKafkaSinkCountsFailuresAndDrops(t *testing.T) {
	w := &recordingWriter{fail: errors.New("leader not available")}
	sink := NewKafkaSinkWithWriter(w, KafkaConfig{BatchSize: 1, BatchTimeMs: 10, BufferSize: 1})

	sink.Enqueue(Event{Type: EventEngineStarted})
	sink.Enqueue(Event{Type: EventEngineStarted})
	assert.Equal(t, int64(1), sink.Stats().Dropped)

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	assert.Eventually(t, func() bool { return sink.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, sink.Close())
}
