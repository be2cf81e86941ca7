package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-decision-engine/internal/models"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventVetoIssued      EventType = "VETO_ISSUED"
	EventWeightsUpdated  EventType = "WEIGHTS_UPDATED"
	EventBrokerDegraded  EventType = "BROKER_DEGRADED"
	EventBrokerRecovered EventType = "BROKER_RECOVERED"
	EventRegimeChanged   EventType = "REGIME_CHANGED"
	EventStopsUpdated    EventType = "STOPS_UPDATED"
	EventSettingsChanged EventType = "SETTINGS_CHANGED"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	AssetID   string                 `json:"asset_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its
// own goroutine so a slow consumer never stalls a worker cycle.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(p models.Position, confidence float64) {
	eb.Publish(Event{
		Type:    EventTradeOpened,
		AssetID: p.AssetID,
		Data: map[string]interface{}{
			"position_id": p.ID,
			"broker":      p.Broker,
			"symbol":      p.Symbol,
			"direction":   p.Direction,
			"strategy":    p.Strategy,
			"entry_price": p.EntryPrice,
			"quantity":    p.Quantity,
			"stop_loss":   p.StopLoss,
			"take_profit": p.TakeProfit,
			"confidence":  confidence,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(p models.Position) {
	eb.Publish(Event{
		Type:    EventTradeClosed,
		AssetID: p.AssetID,
		Data: map[string]interface{}{
			"position_id": p.ID,
			"broker":      p.Broker,
			"strategy":    p.Strategy,
			"reason":      p.CloseReason,
			"entry_price": p.EntryPrice,
			"exit_price":  p.ExitPrice,
			"quantity":    p.Quantity,
			"pnl":         p.PnL,
			"pnl_percent": p.PnLPercent(),
		},
	})
}

// PublishVeto publishes an audit entry for a rejected trade
func (eb *EventBus) PublishVeto(e models.AuditLogEntry) {
	eb.Publish(Event{
		Type:      EventVetoIssued,
		AssetID:   e.AssetID,
		Timestamp: e.Timestamp,
		Data: map[string]interface{}{
			"audit_id":        e.ID,
			"kind":            e.Kind,
			"reason":          e.Reason,
			"strategy":        e.Strategy,
			"broker":          e.Broker,
			"net_weight":      e.NetWeight,
			"risk_assessment": e.RiskAssessment,
		},
	})
}

// PublishWeightsUpdated publishes a new weight version
func (eb *EventBus) PublishWeightsUpdated(h models.WeightHistory) {
	eb.Publish(Event{
		Type:    EventWeightsUpdated,
		AssetID: h.AssetID,
		Data: map[string]interface{}{
			"strategy": h.Strategy,
			"version":  h.Version,
			"weights":  h.Weights,
			"win_rate": h.WinRate,
			"trades":   h.Trades,
		},
	})
}

// PublishBrokerDegraded publishes a broker outage
func (eb *EventBus) PublishBrokerDegraded(broker, reason string) {
	eb.Publish(Event{
		Type: EventBrokerDegraded,
		Data: map[string]interface{}{
			"broker": broker,
			"reason": reason,
		},
	})
}

// PublishBrokerRecovered publishes a broker coming back
func (eb *EventBus) PublishBrokerRecovered(broker string) {
	eb.Publish(Event{
		Type: EventBrokerRecovered,
		Data: map[string]interface{}{
			"broker": broker,
		},
	})
}

// PublishRegimeChanged publishes a regime transition for an asset
func (eb *EventBus) PublishRegimeChanged(assetID string, from, to models.Regime) {
	eb.Publish(Event{
		Type:    EventRegimeChanged,
		AssetID: assetID,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishStopsUpdated publishes the outcome of a re-leveling pass
func (eb *EventBus) PublishStopsUpdated(strategy string, matched, updated, failed int) {
	eb.Publish(Event{
		Type: EventStopsUpdated,
		Data: map[string]interface{}{
			"strategy": strategy,
			"matched":  matched,
			"updated":  updated,
			"failed":   failed,
		},
	})
}
