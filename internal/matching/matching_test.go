//go:build integration

package matching

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ai-agentic-browser/lob-core/internal/book"
	"github.com/ai-agentic-browser/lob-core/internal/config"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/internal/events"
	"github.com/ai-agentic-browser/lob-core/internal/idempotency"
	"github.com/ai-agentic-browser/lob-core/internal/intake"
	"github.com/ai-agentic-browser/lob-core/internal/ledger"
	"github.com/ai-agentic-browser/lob-core/internal/queue"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
	"go.opentelemetry.io/otel/trace/noop"
)

type harness struct {
	in     *intake.Intake
	engine *Engine
	ledger *ledger.Ledger
	book   *book.Book
	bus    *events.Broadcaster
}

func newHarness(t *testing.T, policy EmptyBookMarketPolicy) *harness {
	t.Helper()
	dbURL := os.Getenv("LEDGER_TEST_DATABASE_URL")
	redisURL := os.Getenv("MATCHING_TEST_REDIS_URL")
	if dbURL == "" || redisURL == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL and MATCHING_TEST_REDIS_URL must both be set")
	}

	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "matching_test", LogLevel: "error", LogFormat: "json"})

	db, err := database.NewPostgresDB(config.DatabaseConfig{
		URL: dbURL, MaxOpenConns: 5, MaxIdleConns: 2,
		ConnMaxLifetime: time.Minute, ConnMaxIdleTime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	redisClient, err := database.NewRedisClient(config.RedisConfig{URL: redisURL, PoolSize: 5}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	l := ledger.New(db)
	gate := idempotency.New(redisClient, time.Minute)
	suffix := uuid.New().String()
	submitQ := queue.New(redisClient, "matching_test:submit:"+suffix)
	cancelQ := queue.New(redisClient, "matching_test:cancel:"+suffix)

	in := intake.New(l, gate, submitQ, cancelQ)
	b := book.New("BTC-USD")
	bus := events.NewBroadcaster()

	eng := New(Config{
		Instrument:            "BTC-USD",
		Epsilon:               decimal.RequireFromString("0.00000001"),
		EmptyBookMarketPolicy: policy,
		PopTimeout:            500 * time.Millisecond,
	}, b, l, submitQ, cancelQ, bus, logger, noop.NewTracerProvider().Tracer("matching_test"))

	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	return &harness{in: in, engine: eng, ledger: l, book: b, bus: bus}
}

func (h *harness) submit(t *testing.T, side domain.Side, typ domain.Type, price, qty string) *domain.Order {
	t.Helper()
	p := decimal.Zero
	if typ == domain.TypeLimit {
		p = decimal.RequireFromString(price)
	}
	order, err := h.in.Submit(context.Background(), intake.Submission{
		ClientID:       "client-" + string(side),
		Instrument:     "BTC-USD",
		Side:           side,
		Type:           typ,
		Price:          p,
		Quantity:       decimal.RequireFromString(qty),
		IdempotencyKey: uuid.New().String(),
	})
	require.NoError(t, err)
	return order
}

func (h *harness) waitSettled(t *testing.T, orderID uuid.UUID, want domain.Status) *domain.Order {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		o, err := h.ledger.GetOrder(context.Background(), orderID)
		require.NoError(t, err)
		if o.Status == want {
			return o
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("order %s did not reach status %s in time", orderID, want)
	return nil
}

// Scenario 1: full taker fill against a larger maker.
func TestScenarioPartialMakerFullTaker(t *testing.T) {
	h := newHarness(t, PolicyPartiallyFilled)

	sell := h.submit(t, domain.SideSell, domain.TypeLimit, "70100", "0.5")
	buy := h.submit(t, domain.SideBuy, domain.TypeLimit, "70100", "0.3")

	h.waitSettled(t, buy.OrderID, domain.StatusFilled)
	sellFinal := h.waitSettled(t, sell.OrderID, domain.StatusPartiallyFilled)
	require.True(t, sellFinal.FilledQuantity.Equal(decimal.RequireFromString("0.3")))
}

// Scenario 2: a market taker walks two resting sellers in FIFO order.
func TestScenarioMarketTakerWalksBook(t *testing.T) {
	h := newHarness(t, PolicyPartiallyFilled)

	first := h.submit(t, domain.SideSell, domain.TypeLimit, "70100", "0.3")
	second := h.submit(t, domain.SideSell, domain.TypeLimit, "70100", "0.4")
	buy := h.submit(t, domain.SideBuy, domain.TypeMarket, "", "0.5")

	h.waitSettled(t, first.OrderID, domain.StatusFilled)
	secondFinal := h.waitSettled(t, second.OrderID, domain.StatusPartiallyFilled)
	require.True(t, secondFinal.FilledQuantity.Equal(decimal.RequireFromString("0.2")))
	h.waitSettled(t, buy.OrderID, domain.StatusFilled)
}

// Scenario 3: cancel before any crossing order arrives.
func TestScenarioCancelBeforeCross(t *testing.T) {
	h := newHarness(t, PolicyPartiallyFilled)

	order := h.submit(t, domain.SideBuy, domain.TypeLimit, "70000", "1.0")
	h.waitSettled(t, order.OrderID, domain.StatusOpen)

	_, err := h.in.Cancel(context.Background(), order.OrderID)
	require.NoError(t, err)

	final := h.waitSettled(t, order.OrderID, domain.StatusCancelled)
	require.True(t, final.FilledQuantity.IsZero())

	_, _, ok := h.book.Fetch(order.OrderID)
	require.False(t, ok)
}

// Scenario 4: cancel after a partial fill preserves accumulated fill.
func TestScenarioCancelAfterPartialFill(t *testing.T) {
	h := newHarness(t, PolicyPartiallyFilled)

	buy := h.submit(t, domain.SideBuy, domain.TypeLimit, "70000", "1.0")
	h.waitSettled(t, buy.OrderID, domain.StatusOpen)

	sell := h.submit(t, domain.SideSell, domain.TypeMarket, "", "0.4")
	h.waitSettled(t, sell.OrderID, domain.StatusFilled)
	h.waitSettled(t, buy.OrderID, domain.StatusPartiallyFilled)

	_, err := h.in.Cancel(context.Background(), buy.OrderID)
	require.NoError(t, err)

	final := h.waitSettled(t, buy.OrderID, domain.StatusCancelled)
	require.True(t, final.FilledQuantity.Equal(decimal.RequireFromString("0.4")))
}

// Scenario 5: duplicate idempotency key is rejected.
func TestScenarioDuplicateIdempotencyKey(t *testing.T) {
	h := newHarness(t, PolicyPartiallyFilled)
	key := uuid.New().String()

	sub := intake.Submission{
		ClientID: "client-buy", Instrument: "BTC-USD", Side: domain.SideBuy, Type: domain.TypeLimit,
		Price: decimal.RequireFromString("100"), Quantity: decimal.RequireFromString("1"),
		IdempotencyKey: key,
	}
	_, err := h.in.Submit(context.Background(), sub)
	require.NoError(t, err)

	_, err = h.in.Submit(context.Background(), sub)
	require.Error(t, err)
}

// Scenario 6: market taker against an empty book.
func TestScenarioMarketTakerEmptyBookPartiallyFilledPolicy(t *testing.T) {
	h := newHarness(t, PolicyPartiallyFilled)

	order := h.submit(t, domain.SideBuy, domain.TypeMarket, "", "1.0")
	final := h.waitSettled(t, order.OrderID, domain.StatusPartiallyFilled)
	require.True(t, final.FilledQuantity.IsZero())
}

func TestScenarioMarketTakerEmptyBookRejectedPolicy(t *testing.T) {
	h := newHarness(t, PolicyRejected)

	order := h.submit(t, domain.SideBuy, domain.TypeMarket, "", "1.0")
	h.waitSettled(t, order.OrderID, domain.StatusRejected)
}
