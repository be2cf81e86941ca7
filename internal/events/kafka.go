package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"trading-decision-engine/internal/logging"
)

// KafkaConfig configures the event sink
type KafkaConfig struct {
	Enabled      bool     `json:"enabled"`
	Brokers      []string `json:"brokers"`
	Topic        string   `json:"topic" default:"decision-engine.events"`
	Compression  string   `json:"compression" default:"gzip"`
	BatchSize    int      `json:"batch_size" default:"100" validate:"gt=0"`
	BatchTimeMs  int      `json:"batch_time_ms" default:"500" validate:"gt=0"`
	BufferSize   int      `json:"buffer_size" default:"1024" validate:"gt=0"`
	WriteTimeout int      `json:"write_timeout_seconds" default:"10" validate:"gt=0"`
}

// MessageWriter is the part of kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards every bus event to a Kafka topic, keyed by asset so
// one asset's events stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	batch   int
	flush   time.Duration
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
	logger  *logging.Logger
}

// NewKafkaSink builds a sink on a kafka.Writer
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  3,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: time.Duration(cfg.BatchTimeMs) * time.Millisecond,
	}
	return NewKafkaSinkWithWriter(writer, cfg), nil
}

// NewKafkaSinkWithWriter builds a sink on any writer
func NewKafkaSinkWithWriter(w MessageWriter, cfg KafkaConfig) *KafkaSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeMs <= 0 {
		cfg.BatchTimeMs = 500
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &KafkaSink{
		writer: w,
		topic:  cfg.Topic,
		batch:  cfg.BatchSize,
		flush:  time.Duration(cfg.BatchTimeMs) * time.Millisecond,
		queue:  make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
		logger: logging.WithComponent("kafka-sink"),
	}
}

// Attach subscribes the sink to every event on the bus
func (k *KafkaSink) Attach(bus *EventBus) {
	bus.SubscribeAll(k.Enqueue)
}

// Enqueue buffers one event. A full buffer drops the event rather than
// block the publisher.
func (k *KafkaSink) Enqueue(e Event) {
	select {
	case k.queue <- e:
	default:
		if k.dropped.Add(1)%100 == 1 {
			k.logger.Warn("Kafka sink buffer full, dropping events", "dropped", k.dropped.Load())
		}
	}
}

// Run drains the buffer in batches until ctx is done, then flushes what is left
func (k *KafkaSink) Run(ctx context.Context) {
	k.started.Store(true)
	defer close(k.done)
	ticker := time.NewTicker(k.flush)
	defer ticker.Stop()

	pending := make([]kafka.Message, 0, k.batch)
	send := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := k.writer.WriteMessages(ctx, pending...); err != nil {
			k.failed.Add(int64(len(pending)))
			k.logger.Error("Failed to publish events to Kafka", "count", len(pending), "error", err)
		} else {
			k.sent.Add(int64(len(pending)))
		}
		pending = pending[:0]
	}

	for {
		select {
		case e := <-k.queue:
			msg, err := k.message(e)
			if err != nil {
				k.failed.Add(1)
				continue
			}
			pending = append(pending, msg)
			if len(pending) >= k.batch {
				send(ctx)
			}
		case <-ticker.C:
			send(ctx)
		case <-ctx.Done():
		drain:
			for {
				select {
				case e := <-k.queue:
					if msg, err := k.message(e); err == nil {
						pending = append(pending, msg)
					}
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			send(flushCtx)
			cancel()
			return
		}
	}
}

func (k *KafkaSink) message(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	key := e.AssetID
	if key == "" {
		key = string(e.Type)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}

// Close waits for Run to finish and closes the writer. Cancel Run's
// context first.
func (k *KafkaSink) Close() error {
	var err error
	k.once.Do(func() {
		if k.started.Load() {
			<-k.done
		}
		err = k.writer.Close()
	})
	return err
}

// KafkaSinkStats reports delivery counters
type KafkaSinkStats struct {
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

func (k *KafkaSink) Stats() KafkaSinkStats {
	return KafkaSinkStats{Sent: k.sent.Load(), Dropped: k.dropped.Load(), Failed: k.failed.Load()}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
