// Package matching implements the single-consumer match state machine
// (spec.md §4.5, component C5): it drains the durable job queue in
// strict FIFO order and is the sole writer of order status and filled
// quantity after a submission is persisted as open.
package matching

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ai-agentic-browser/lob-core/internal/book"
	"github.com/ai-agentic-browser/lob-core/internal/coreerr"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/internal/events"
	"github.com/ai-agentic-browser/lob-core/internal/ledger"
	"github.com/ai-agentic-browser/lob-core/internal/queue"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// EmptyBookMarketPolicy controls what happens to a market order
// submitted against an empty opposite side. spec.md leaves this an
// open question; SPEC_FULL.md resolves it as a configurable policy
// rather than a single hardcoded behavior.
type EmptyBookMarketPolicy string

const (
	// PolicyPartiallyFilled leaves a market order that matched nothing
	// (or only partially matched) against an empty or exhausted
	// opposite side in status partially_filled, same as any other
	// unfilled market taker.
	PolicyPartiallyFilled EmptyBookMarketPolicy = "partially_filled"
	// PolicyRejected rejects a market order outright when it matches
	// nothing at all, rather than leaving a zero-fill order terminal
	// as partially_filled.
	PolicyRejected EmptyBookMarketPolicy = "rejected"
)

// Config bundles the matching engine's tunables (SPEC_FULL.md's
// Configuration Surface plus the empty-book policy decision).
type Config struct {
	Instrument            string
	Epsilon               decimal.Decimal
	EmptyBookMarketPolicy EmptyBookMarketPolicy
	PopTimeout            time.Duration
}

// Engine is the single-consumer matcher for one instrument. Its
// lifecycle (Start/Stop via an atomic running flag plus a WaitGroup for
// the consumer goroutine) follows the teacher's HFT engine idiom,
// narrowed to one consumption loop instead of four.
type Engine struct {
	cfg    Config
	book   *book.Book
	ledger *ledger.Ledger
	queue  *queue.Queue
	cancel *queue.Queue
	bus    *events.Broadcaster
	logger *observability.Logger
	tracer oteltrace.Tracer

	running  int32
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, b *book.Book, l *ledger.Ledger, submitQueue, cancelQueue *queue.Queue, bus *events.Broadcaster, logger *observability.Logger, tracer oteltrace.Tracer) *Engine {
	return &Engine{
		cfg:      cfg,
		book:     b,
		ledger:   l,
		queue:    submitQueue,
		cancel:   cancelQueue,
		bus:      bus,
		logger:   logger,
		tracer:   tracer,
		stopChan: make(chan struct{}),
	}
}

// Start launches the single consumption goroutine. Calling Start twice
// without an intervening Stop is a programmer error.
func (e *Engine) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return fmt.Errorf("matching engine is already running")
	}
	e.logger.Info(ctx, "starting matching engine", map[string]interface{}{
		"instrument": e.cfg.Instrument,
	})
	e.wg.Add(1)
	go e.consume(ctx)
	return nil
}

// Stop signals the consumption goroutine to exit and waits for the
// in-flight job, if any, to finish its step before returning.
func (e *Engine) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		return fmt.Errorf("matching engine is not running")
	}
	close(e.stopChan)
	e.wg.Wait()
	e.logger.Info(ctx, "matching engine stopped", nil)
	return nil
}

func (e *Engine) IsRunning() bool {
	return atomic.LoadInt32(&e.running) == 1
}

// consume is the sole reader of both queues. It alternates a
// non-blocking drain of cancellations ahead of each submit pop so that
// cancels never wait behind a long submit backlog, while still
// processing jobs one at a time with effective concurrency 1 against
// the book (spec.md §5).
func (e *Engine) consume(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopChan:
			return
		default:
		}

		if job, ok, err := e.cancel.TryPop(ctx); err == nil && ok {
			e.handleCancel(ctx, job.OrderID)
			continue
		} else if err != nil {
			e.logger.Error(ctx, "cancel queue pop failed", err)
		}

		job, ok, err := e.queue.Pop(ctx, e.cfg.PopTimeout)
		if err != nil {
			e.logger.Error(ctx, "submit queue pop failed", err)
			continue
		}
		if !ok {
			continue
		}
		e.handleSubmit(ctx, job.Order)
	}
}

// handleSubmit runs the matching state machine for one submit job
// (spec.md §4.5.1-4.5.2).
func (e *Engine) handleSubmit(ctx context.Context, taker *domain.Order) {
	ctx, span := e.tracer.Start(ctx, "matching.submit")
	defer span.End()

	if e.book.Halted() {
		e.logger.Warn(ctx, "matching halted, re-queuing submit job", map[string]interface{}{"order_id": taker.OrderID.String()})
		_ = e.queue.Push(ctx, domain.Job{Kind: domain.JobSubmit, Order: taker})
		return
	}

	remaining := taker.Remaining()
	var anyTrade bool

	for remaining.GreaterThan(e.cfg.Epsilon) {
		bestPrice, _, ok := e.book.BestOpposite(taker.Side)
		if !ok {
			break
		}
		if taker.Type == domain.TypeLimit && !crossable(taker.Side, taker.Price, bestPrice) {
			break
		}

		makerID, ok := e.book.PeekOldestAt(opposite(taker.Side), bestPrice)
		if !ok {
			// orphaned price: index had an entry, sequence was empty.
			// Drop it so BestOpposite never returns this stale price again.
			e.logger.Warn(ctx, "orphaned price level encountered", map[string]interface{}{"price": bestPrice.String()})
			e.book.DropOrphanPrice(opposite(taker.Side), bestPrice)
			continue
		}

		maker, err := e.ledger.GetOrder(ctx, makerID)
		if err != nil && !coreerr.Is(err, coreerr.NotFound) {
			e.logger.Error(ctx, "maker lookup failed, job will be retried", err, map[string]interface{}{"order_id": taker.OrderID.String()})
			_ = e.queue.Push(ctx, domain.Job{Kind: domain.JobSubmit, Order: taker})
			return
		}
		if err != nil {
			// orphan id referenced by the level but missing from the
			// ledger: drop it from the book and keep matching.
			e.logger.Warn(ctx, "maker order missing from ledger, dropping from book", map[string]interface{}{"order_id": makerID.String()})
			e.book.Remove(makerID)
			continue
		}

		makerRemaining := maker.Remaining()
		tradeQty := decimal.Min(remaining, makerRemaining)
		if tradeQty.LessThanOrEqual(e.cfg.Epsilon) {
			continue
		}

		if err := e.executeTrade(ctx, taker, maker, tradeQty); err != nil {
			e.logger.Error(ctx, "trade step failed, job will be retried", err, map[string]interface{}{"order_id": taker.OrderID.String()})
			_ = e.queue.Push(ctx, domain.Job{Kind: domain.JobSubmit, Order: taker})
			return
		}

		anyTrade = true
		remaining = taker.Remaining()
	}

	e.finalizeTaker(ctx, taker, remaining, anyTrade)
}

// executeTrade implements steps 6-10 of spec.md §4.5.1: the update
// ordering discipline of §4.5.4 is enforced by issuing the ledger
// writes inside one transaction before the book is ever mutated.
func (e *Engine) executeTrade(ctx context.Context, taker, maker *domain.Order, tradeQty decimal.Decimal) error {
	var buyOrder, sellOrder *domain.Order
	if taker.Side == domain.SideBuy {
		buyOrder, sellOrder = taker, maker
	} else {
		buyOrder, sellOrder = maker, taker
	}

	trade := &domain.Trade{
		TradeID:     uuid.New(),
		BuyOrderID:  buyOrder.OrderID,
		SellOrderID: sellOrder.OrderID,
		Instrument:  e.cfg.Instrument,
		Price:       maker.Price,
		Quantity:    tradeQty,
		Timestamp:   time.Now().UTC(),
	}

	makerNewFilled := maker.FilledQuantity.Add(tradeQty)
	makerNewRemaining := maker.Quantity.Sub(makerNewFilled)
	makerFullyFilled := makerNewRemaining.LessThanOrEqual(e.cfg.Epsilon)
	makerStatus := domain.StatusPartiallyFilled
	if makerFullyFilled {
		makerStatus = domain.StatusFilled
	}

	takerNewFilled := taker.FilledQuantity.Add(tradeQty)
	takerRemainingAfter := taker.Quantity.Sub(takerNewFilled)
	takerStepStatus := domain.StatusPartiallyFilled
	if takerRemainingAfter.LessThanOrEqual(e.cfg.Epsilon) {
		takerStepStatus = domain.StatusFilled
	}

	now := time.Now().UTC()

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	if err := e.ledger.CreateTrade(ctx, tx, trade); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := e.ledger.UpdateOrderStatus(ctx, tx, maker.OrderID, makerNewFilled, makerStatus, now); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := e.ledger.UpdateOrderStatus(ctx, tx, taker.OrderID, takerNewFilled, takerStepStatus, now); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return coreerr.Wrap(coreerr.Storage, "commit trade step", err)
	}

	// The trade is now durable; only past this point may the book be
	// mutated (spec.md §4.5.4: a crash before commit must never leave
	// the book ahead of the ledger).
	e.book.ReduceOldestAt(opposite(taker.Side), maker.Price, tradeQty, makerFullyFilled)

	taker.FilledQuantity = takerNewFilled
	maker.FilledQuantity = makerNewFilled
	maker.Status = makerStatus

	e.bus.PublishTrade(trade)
	e.bus.PublishOrderUpdate(events.OrderUpdate{OrderID: maker.OrderID, Status: maker.Status, FilledQuantity: maker.FilledQuantity})
	e.bus.PublishOrderUpdate(events.OrderUpdate{OrderID: taker.OrderID, Status: takerStepStatus, FilledQuantity: taker.FilledQuantity})

	newAggregate, _ := e.book.QuantityAt(opposite(taker.Side), maker.Price)
	e.bus.PublishDelta(events.OrderbookDelta{Side: opposite(taker.Side), Price: maker.Price, NewQuantity: newAggregate})

	return nil
}

// finalizeTaker implements spec.md §4.5.2: post-loop disposition of the
// taker, distinct for market vs limit orders.
func (e *Engine) finalizeTaker(ctx context.Context, taker *domain.Order, remaining decimal.Decimal, anyTrade bool) {
	now := time.Now().UTC()

	if taker.Type == domain.TypeMarket {
		status := domain.StatusFilled
		if remaining.GreaterThan(e.cfg.Epsilon) {
			status = domain.StatusPartiallyFilled
			if !anyTrade && e.cfg.EmptyBookMarketPolicy == PolicyRejected {
				status = domain.StatusRejected
			}
		}
		e.persistTakerFinal(ctx, taker, status, now)
		return
	}

	// limit taker
	if remaining.LessThanOrEqual(e.cfg.Epsilon) {
		e.persistTakerFinal(ctx, taker, domain.StatusFilled, now)
		return
	}

	status := domain.StatusOpen
	if anyTrade {
		status = domain.StatusPartiallyFilled
	}
	e.persistTakerFinal(ctx, taker, status, now)

	e.book.Insert(taker.OrderID, taker.Side, taker.Price, remaining)
}

func (e *Engine) persistTakerFinal(ctx context.Context, taker *domain.Order, status domain.Status, now time.Time) {
	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		e.logger.Error(ctx, "begin taker finalization failed", err)
		return
	}
	if err := e.ledger.UpdateOrderStatus(ctx, tx, taker.OrderID, taker.FilledQuantity, status, now); err != nil {
		_ = tx.Rollback()
		e.logger.Error(ctx, "finalize taker status failed", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger.Error(ctx, "commit taker finalization failed", err)
		return
	}
	taker.Status = status
	e.bus.PublishOrderUpdate(events.OrderUpdate{OrderID: taker.OrderID, Status: status, FilledQuantity: taker.FilledQuantity})
}

// handleCancel implements spec.md §4.5.3.
func (e *Engine) handleCancel(ctx context.Context, orderID uuid.UUID) {
	ctx, span := e.tracer.Start(ctx, "matching.cancel")
	defer span.End()

	side, price, resting := e.book.Fetch(orderID)
	if !resting {
		// already fully filled (or never rested, e.g. a market order);
		// the ledger already reflects its terminal state. No-op success.
		return
	}

	order, err := e.ledger.GetOrder(ctx, orderID)
	if err != nil {
		e.logger.Error(ctx, "cancel: order missing from ledger despite resting in book", err, map[string]interface{}{"order_id": orderID.String()})
		return
	}

	e.book.Remove(orderID)

	now := time.Now().UTC()
	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		e.logger.Error(ctx, "cancel: begin transaction failed", err)
		return
	}
	if err := e.ledger.UpdateOrderStatus(ctx, tx, orderID, order.FilledQuantity, domain.StatusCancelled, now); err != nil {
		_ = tx.Rollback()
		e.logger.Error(ctx, "cancel: update order status failed", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger.Error(ctx, "cancel: commit failed", err)
		return
	}

	e.bus.PublishOrderUpdate(events.OrderUpdate{OrderID: orderID, Status: domain.StatusCancelled, FilledQuantity: order.FilledQuantity})

	newQuantity, _ := e.book.QuantityAt(side, price)
	e.bus.PublishDelta(events.OrderbookDelta{Side: side, Price: price, NewQuantity: newQuantity})
}

func crossable(side domain.Side, takerPrice, bestOpposite decimal.Decimal) bool {
	if side == domain.SideBuy {
		return takerPrice.GreaterThanOrEqual(bestOpposite)
	}
	return takerPrice.LessThanOrEqual(bestOpposite)
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}
