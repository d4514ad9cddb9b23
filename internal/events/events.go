// Package events is the matching engine's broadcast stream (spec.md
// §4.7, §6): new_trade, order_update, and orderbook_delta records,
// delivered at-most-once to each subscriber. Publication never blocks
// the matching loop — a slow or dead subscriber drops updates rather
// than stalling a trade step.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ai-agentic-browser/lob-core/internal/domain"
)

// Kind identifies the event variant carried by an Event.
type Kind string

const (
	KindNewTrade       Kind = "new_trade"
	KindOrderUpdate    Kind = "order_update"
	KindOrderbookDelta Kind = "orderbook_delta"
)

// Event is the envelope broadcast to subscribers. Exactly one of Trade,
// OrderUpdate, or Delta is populated, matching Kind.
type Event struct {
	Kind        Kind
	Trade       *domain.Trade
	OrderUpdate *OrderUpdate
	Delta       *OrderbookDelta
	Timestamp   time.Time
}

// OrderUpdate carries an order's current (id, status, filled_quantity).
type OrderUpdate struct {
	OrderID        uuid.UUID
	Status         domain.Status
	FilledQuantity decimal.Decimal
}

// OrderbookDelta carries a single price level's change. NewQuantity of
// zero signals the level was removed from the index.
type OrderbookDelta struct {
	Side        domain.Side
	Price       decimal.Decimal
	NewQuantity decimal.Decimal
}

const subscriberBuffer = 256

// Broadcaster fans events out to any number of subscribers, grounded on
// the same per-topic subscriber-slice pattern the teacher uses for
// market data distribution, collapsed to a single instrument topic.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe returns a channel that receives every event published after
// this call. The caller must eventually call Unsubscribe to release it.
func (b *Broadcaster) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (b *Broadcaster) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish fans out ev to all current subscribers, non-blocking: a full
// subscriber channel drops the event instead of stalling the matching
// loop (spec.md §6: delivery is at-most-once).
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broadcaster) PublishTrade(t *domain.Trade) {
	b.Publish(Event{Kind: KindNewTrade, Trade: t, Timestamp: t.Timestamp})
}

func (b *Broadcaster) PublishOrderUpdate(u OrderUpdate) {
	b.Publish(Event{Kind: KindOrderUpdate, OrderUpdate: &u, Timestamp: time.Now().UTC()})
}

func (b *Broadcaster) PublishDelta(d OrderbookDelta) {
	b.Publish(Event{Kind: KindOrderbookDelta, Delta: &d, Timestamp: time.Now().UTC()})
}
