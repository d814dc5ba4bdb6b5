package events

import (
	"sync"
	"time"
)

// EventType represents the kinds of events the system publishes
type EventType string

const (
	EventSignalReceived  EventType = "SIGNAL_RECEIVED"
	EventSignalProcessed EventType = "SIGNAL_PROCESSED"
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventStopUpdated     EventType = "STOP_UPDATED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventMarginSnapshot  EventType = "MARGIN_SNAPSHOT"
	EventHedgeBought     EventType = "HEDGE_BOUGHT"
	EventHedgeSold       EventType = "HEDGE_SOLD"
	EventHedgeFailed     EventType = "HEDGE_FAILED"
	EventCircuitTripped  EventType = "CIRCUIT_TRIPPED"
	EventCircuitReset    EventType = "CIRCUIT_RESET"
	EventConfirmation    EventType = "CONFIRMATION_REQUEST"
	EventError           EventType = "ERROR"
)

// Event is one published system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles published events
type Subscriber func(Event)

// Bus is an in-process pub/sub fan-out. Subscribers run on their own
// goroutines so publishers on the hot path never block.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish fans an event out to subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignalProcessed publishes a signal outcome event
func (b *Bus) PublishSignalProcessed(instrument, kind, slot, outcome, reason string) {
	b.Publish(Event{
		Type: EventSignalProcessed,
		Data: map[string]interface{}{
			"instrument": instrument,
			"kind":       kind,
			"slot":       slot,
			"outcome":    outcome,
			"reason":     reason,
		},
	})
}

// PublishPositionOpened publishes a position open event
func (b *Bus) PublishPositionOpened(instrument string, entryPrice float64, lots int, stop float64) {
	b.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"instrument":  instrument,
			"entry_price": entryPrice,
			"lots":        lots,
			"stop":        stop,
		},
	})
}

// PublishPositionClosed publishes a position close event
func (b *Bus) PublishPositionClosed(instrument string, exitPrice, realizedPnL float64) {
	b.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"instrument":   instrument,
			"exit_price":   exitPrice,
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishMarginSnapshot publishes the latest utilisation reading
func (b *Bus) PublishMarginSnapshot(intradayUsed, utilisationPct float64) {
	b.Publish(Event{
		Type: EventMarginSnapshot,
		Data: map[string]interface{}{
			"intraday_used":   intradayUsed,
			"utilisation_pct": utilisationPct,
		},
	})
}

// PublishHedgeAction publishes a hedge buy/sell event
func (b *Bus) PublishHedgeAction(eventType EventType, symbol string, strike float64, optionType string, qty int, price float64) {
	b.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"strike":      strike,
			"option_type": optionType,
			"quantity":    qty,
			"price":       price,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{"source": source, "message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
