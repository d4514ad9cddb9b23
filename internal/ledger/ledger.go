// Package ledger is the durable source of truth for orders and trades
// (spec.md §4.1, component C1). Every mutation goes through Postgres
// inside a transaction; the in-memory book (internal/book) is a
// disposable projection that can always be discarded and, in principle,
// rebuilt by replaying this table.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ai-agentic-browser/lob-core/internal/coreerr"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
)

// Ledger persists orders and trades for one matching process. All
// methods that mutate state accept a *sql.Tx so the matching loop can
// compose an order-status update with its associated trade inserts into
// a single commit (spec.md §4.5: a fill always persists trade + both
// order updates atomically).
type Ledger struct {
	db *database.DB
}

func New(db *database.DB) *Ledger {
	return &Ledger{db: db}
}

// Begin starts a transaction for one matching step.
func (l *Ledger) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, "begin ledger transaction", err)
	}
	return tx, nil
}

// InsertOpenOrder writes a new order row with status open (or
// partially_filled/filled if the caller already matched before the
// first persist — matching always inserts as open first per spec.md
// §4.4 step ordering).
func (l *Ledger) InsertOpenOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	const q = `
		INSERT INTO orders (order_id, client_id, instrument, side, type, price, quantity, filled_quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := tx.ExecContext(ctx, q,
		o.OrderID, o.ClientID, o.Instrument, o.Side, o.Type,
		o.Price, o.Quantity, o.FilledQuantity, o.Status, o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return coreerr.Wrap(coreerr.Duplicate, "order already exists", err)
	}
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, "insert open order", err)
	}
	return nil
}

// UpdateOrderStatus advances an order's filled_quantity and status. The
// caller is responsible for monotonicity (filled_quantity never
// decreases, terminal statuses never change) per spec.md §3 invariants;
// this is the narrow write path the matching loop funnels through so
// that invariant only needs enforcing in one place.
func (l *Ledger) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, filledQuantity decimal.Decimal, status domain.Status, updatedAt time.Time) error {
	const q = `
		UPDATE orders
		SET filled_quantity = $2, status = $3, updated_at = $4
		WHERE order_id = $1`
	res, err := tx.ExecContext(ctx, q, orderID, filledQuantity, status, updatedAt)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, "update order status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, "update order status rows affected", err)
	}
	if n == 0 {
		return coreerr.New(coreerr.NotFound, "order not found")
	}
	return nil
}

// CreateTrade inserts one trade row.
func (l *Ledger) CreateTrade(ctx context.Context, tx *sql.Tx, t *domain.Trade) error {
	const q = `
		INSERT INTO trades (trade_id, buy_order_id, sell_order_id, instrument, price, quantity, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(ctx, q, t.TradeID, t.BuyOrderID, t.SellOrderID, t.Instrument, t.Price, t.Quantity, t.Timestamp)
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, "insert trade", err)
	}
	return nil
}

// RecordIdempotencyKey links an idempotency key to the order it
// produced, for lookups that outlive the Redis claim's TTL.
func (l *Ledger) RecordIdempotencyKey(ctx context.Context, tx *sql.Tx, key string, orderID uuid.UUID) error {
	const q = `INSERT INTO idempotency_keys (idempotency_key, order_id) VALUES ($1, $2)`
	_, err := tx.ExecContext(ctx, q, key, orderID)
	if isUniqueViolation(err) {
		return coreerr.Wrap(coreerr.Duplicate, "idempotency key already recorded", err)
	}
	if err != nil {
		return coreerr.Wrap(coreerr.Storage, "record idempotency key", err)
	}
	return nil
}

// OrderIDForKey resolves a previously recorded idempotency key back to
// its order id. Nothing in the core calls it: once the Redis claim has
// expired, intake relies on the idempotency_keys primary key to reject a
// reused key.
func (l *Ledger) OrderIDForKey(ctx context.Context, key string) (uuid.UUID, bool, error) {
	const q = `SELECT order_id FROM idempotency_keys WHERE idempotency_key = $1`
	var id uuid.UUID
	err := l.db.QueryRowWithMetrics(ctx, q, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, coreerr.Wrap(coreerr.Storage, "lookup idempotency key", err)
	}
	return id, true, nil
}

// GetOrder fetches a single order by id.
func (l *Ledger) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	const q = `
		SELECT order_id, client_id, instrument, side, type, price, quantity, filled_quantity, status, created_at, updated_at
		FROM orders WHERE order_id = $1`
	row := l.db.QueryRowWithMetrics(ctx, q, orderID)
	o := &domain.Order{}
	err := row.Scan(&o.OrderID, &o.ClientID, &o.Instrument, &o.Side, &o.Type, &o.Price, &o.Quantity, &o.FilledQuantity, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.New(coreerr.NotFound, "order not found")
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, "get order", err)
	}
	return o, nil
}

// RecentTrades returns the most recent trades for an instrument, most
// recent first.
func (l *Ledger) RecentTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	const q = `
		SELECT trade_id, buy_order_id, sell_order_id, instrument, price, quantity, executed_at
		FROM trades WHERE instrument = $1
		ORDER BY executed_at DESC LIMIT $2`
	rows, err := l.db.QueryWithMetrics(ctx, q, instrument, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, "recent trades", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		if err := rows.Scan(&t.TradeID, &t.BuyOrderID, &t.SellOrderID, &t.Instrument, &t.Price, &t.Quantity, &t.Timestamp); err != nil {
			return nil, coreerr.Wrap(coreerr.Storage, "scan trade", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DetailedTrades joins trades to their orders' client ids, for API
// consumers that need to know who was on each side of a fill.
func (l *Ledger) DetailedTrades(ctx context.Context, instrument string, limit int) ([]*domain.DetailedTrade, error) {
	const q = `
		SELECT t.trade_id, t.buy_order_id, t.sell_order_id, t.instrument, t.price, t.quantity, t.executed_at,
		       bo.client_id, so.client_id
		FROM trades t
		JOIN orders bo ON bo.order_id = t.buy_order_id
		JOIN orders so ON so.order_id = t.sell_order_id
		WHERE t.instrument = $1
		ORDER BY t.executed_at DESC LIMIT $2`
	rows, err := l.db.QueryWithMetrics(ctx, q, instrument, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, "detailed trades", err)
	}
	defer rows.Close()

	var out []*domain.DetailedTrade
	for rows.Next() {
		dt := &domain.DetailedTrade{}
		if err := rows.Scan(&dt.TradeID, &dt.BuyOrderID, &dt.SellOrderID, &dt.Instrument, &dt.Price, &dt.Quantity, &dt.Timestamp,
			&dt.BuyerClientID, &dt.SellerClientID); err != nil {
			return nil, coreerr.Wrap(coreerr.Storage, "scan detailed trade", err)
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
