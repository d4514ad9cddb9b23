package events

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ai-agentic-browser/lob-core/pkg/observability"
)

// websocketWriteWait bounds how long a single frame write may take
// before the connection is considered dead.
const websocketWriteWait = 10 * time.Second

// websocketPingPeriod keeps idle connections alive through
// intermediaries that close on inactivity.
const websocketPingPeriod = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON shape sent to websocket subscribers. It flattens
// Event's tagged-union fields into one record per kind.
type wireEvent struct {
	Kind      Kind        `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Trade     interface{} `json:"trade,omitempty"`
	Order     interface{} `json:"order_update,omitempty"`
	Delta     interface{} `json:"orderbook_delta,omitempty"`
}

func toWire(ev Event) wireEvent {
	w := wireEvent{Kind: ev.Kind, Timestamp: ev.Timestamp}
	switch ev.Kind {
	case KindNewTrade:
		w.Trade = ev.Trade
	case KindOrderUpdate:
		w.Order = ev.OrderUpdate
	case KindOrderbookDelta:
		w.Delta = ev.Delta
	}
	return w
}

// ServeWebSocket upgrades the request to a websocket connection and
// streams every subsequent broadcast event to it as JSON until the
// client disconnects. This is the optional external bridge for
// collaborators that cannot hold a Go channel (spec.md §6's event
// stream surface, exposed over the wire).
func (b *Broadcaster) ServeWebSocket(logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error(r.Context(), "websocket upgrade failed", err)
			return
		}
		go b.servePump(conn, logger)
	}
}

func (b *Broadcaster) servePump(conn *websocket.Conn, logger *observability.Logger) {
	defer conn.Close()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(websocketPingPeriod)
	defer ticker.Stop()

	go drainReads(conn)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(toWire(ev))
			if err != nil {
				logger.Error(context.Background(), "marshal event for websocket", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads discards any client-sent frames so control frames (close,
// pong) are processed and a read error closes the connection; this
// bridge is publish-only and accepts no client commands.
func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			return
		}
	}
}
