package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agentic-browser/lob-core/internal/domain"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()

	trade := &domain.Trade{TradeID: uuid.New(), Timestamp: time.Now().UTC()}
	b.PublishTrade(trade)

	select {
	case ev := <-ch:
		assert.Equal(t, KindNewTrade, ev.Kind)
		assert.Equal(t, trade.TradeID, ev.Trade.TradeID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.PublishOrderUpdate(OrderUpdate{OrderID: uuid.New(), Status: domain.StatusFilled, FilledQuantity: decimal.RequireFromString("1")})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, KindOrderUpdate, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	b.PublishDelta(OrderbookDelta{Side: domain.SideBuy, Price: decimal.RequireFromString("100"), NewQuantity: decimal.Zero})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBroadcaster()
	_ = b.Subscribe() // never drained

	require.NotPanics(t, func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.PublishDelta(OrderbookDelta{Side: domain.SideSell, Price: decimal.RequireFromString("1"), NewQuantity: decimal.RequireFromString("1")})
		}
	})
}
