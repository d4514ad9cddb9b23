// Command matching-engine is the composition root for the single-
// instrument matching core: it wires the ledger, book, idempotency
// gate, job queue, intake, and matching engine together, then drives
// them with a small deterministic demo submission feed. It stands in
// for the HTTP/transport framing layer, which spec.md treats as an
// external collaborator out of the core's scope.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ai-agentic-browser/lob-core/internal/book"
	"github.com/ai-agentic-browser/lob-core/internal/config"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/internal/events"
	"github.com/ai-agentic-browser/lob-core/internal/idempotency"
	"github.com/ai-agentic-browser/lob-core/internal/intake"
	"github.com/ai-agentic-browser/lob-core/internal/ledger"
	"github.com/ai-agentic-browser/lob-core/internal/matching"
	"github.com/ai-agentic-browser/lob-core/internal/queue"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.NewLogger(cfg.Observability)
	logger.Info(ctx, "starting matching-engine", map[string]interface{}{
		"instrument": cfg.Matching.Instrument,
	})

	tracer := noop.NewTracerProvider().Tracer(cfg.Observability.ServiceName)
	tracingProvider, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		logger.Error(ctx, "tracing provider init failed, continuing without spans", err)
	} else {
		defer tracingProvider.Shutdown(ctx)
		tracer = tracingProvider.Tracer()
	}

	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Error(ctx, "postgres connection failed", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Error(ctx, "redis connection failed", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	l := ledger.New(db)
	gate := idempotency.New(redisClient, cfg.Matching.IdempotencyTTL)
	submitQueue := queue.New(redisClient, cfg.Redis.SubmitQueueKey)
	cancelQueue := queue.New(redisClient, cfg.Redis.CancelQueueKey)
	bus := events.NewBroadcaster()
	ob := book.New(cfg.Matching.Instrument)

	in := intake.New(l, gate, submitQueue, cancelQueue)

	epsilon := decimal.NewFromFloat(cfg.Matching.MatchEpsilon)
	engine := matching.New(matching.Config{
		Instrument:            cfg.Matching.Instrument,
		Epsilon:               epsilon,
		EmptyBookMarketPolicy: matching.EmptyBookMarketPolicy(cfg.Matching.EmptyBookMarketPolicy),
		PopTimeout:            cfg.Matching.PopTimeout,
	}, ob, l, submitQueue, cancelQueue, bus, logger, tracer)

	if err := engine.Start(ctx); err != nil {
		logger.Error(ctx, "matching engine failed to start", err)
		os.Exit(1)
	}
	defer engine.Stop(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/events", bus.ServeWebSocket(logger))
	server := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "event bridge server failed", err)
		}
	}()
	defer server.Shutdown(context.Background())

	go runDemoFeed(ctx, logger, in)

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received", nil)
}

// runDemoFeed submits a small, deterministic sequence of orders so the
// composition root is observably doing something end to end without a
// transport layer in front of it.
func runDemoFeed(ctx context.Context, logger *observability.Logger, in *intake.Intake) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	submissions := []intake.Submission{
		{ClientID: "demo-seller", Instrument: "BTC-USD", Side: domain.SideSell, Type: domain.TypeLimit,
			Price: decimal.RequireFromString("70100"), Quantity: decimal.RequireFromString("0.5")},
		{ClientID: "demo-buyer", Instrument: "BTC-USD", Side: domain.SideBuy, Type: domain.TypeLimit,
			Price: decimal.RequireFromString("70100"), Quantity: decimal.RequireFromString("0.3")},
		{ClientID: "demo-buyer", Instrument: "BTC-USD", Side: domain.SideBuy, Type: domain.TypeMarket,
			Quantity: decimal.RequireFromString("0.1")},
	}

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if i >= len(submissions) {
				return
			}
			sub := submissions[i]
			sub.IdempotencyKey = uuid.New().String()
			i++

			order, err := in.Submit(ctx, sub)
			if err != nil {
				logger.Error(ctx, "demo submission failed", err)
				continue
			}
			logger.Info(ctx, "demo order accepted", map[string]interface{}{
				"order_id": order.OrderID.String(),
				"side":     string(order.Side),
			})
		}
	}
}
