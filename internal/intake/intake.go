// Package intake is the submission/cancellation front door (spec.md
// §4.4, component C4): validates, claims the idempotency key, persists
// the order as open, and enqueues a job for the matching engine to
// consume. None of its steps touch the in-memory book directly — that
// is the matching engine's exclusive domain.
package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ai-agentic-browser/lob-core/internal/coreerr"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/internal/idempotency"
	"github.com/ai-agentic-browser/lob-core/internal/ledger"
	"github.com/ai-agentic-browser/lob-core/internal/queue"
)

// Submission is the raw payload handed to Submit before any field has
// been trusted.
type Submission struct {
	ClientID       string
	Instrument     string
	Side           domain.Side
	Type           domain.Type
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	IdempotencyKey string
}

// Intake wires the validation, idempotency, ledger, and queue steps
// into the single ordered pipeline spec.md §4.4 mandates.
type Intake struct {
	ledger *ledger.Ledger
	gate   *idempotency.Gate
	submit *queue.Queue
	cancel *queue.Queue
}

func New(l *ledger.Ledger, gate *idempotency.Gate, submitQueue, cancelQueue *queue.Queue) *Intake {
	return &Intake{ledger: l, gate: gate, submit: submitQueue, cancel: cancelQueue}
}

// Submit runs the five-step admission pipeline. Each step strictly
// precedes the next; a failure at any step short-circuits the rest.
func (in *Intake) Submit(ctx context.Context, s Submission) (*domain.Order, error) {
	if err := validate(s); err != nil {
		return nil, err
	}

	orderID := uuid.New()
	claim, err := in.gate.Claim(ctx, s.IdempotencyKey, orderID)
	if err != nil {
		return nil, err
	}
	if !claim.New {
		existing, err := in.ledger.GetOrder(ctx, claim.OrderID)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Duplicate, "idempotency key already claimed", err)
		}
		return existing, coreerr.New(coreerr.Duplicate, "idempotency key already claimed")
	}

	now := time.Now().UTC()
	order := &domain.Order{
		OrderID:        orderID,
		ClientID:       s.ClientID,
		Instrument:     s.Instrument,
		Side:           s.Side,
		Type:           s.Type,
		Price:          s.Price,
		Quantity:       s.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         domain.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := in.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.ledger.InsertOpenOrder(ctx, tx, order); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := in.ledger.RecordIdempotencyKey(ctx, tx, s.IdempotencyKey, orderID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, coreerr.Wrap(coreerr.Storage, "commit open order", err)
	}

	if err := in.submit.Push(ctx, domain.Job{Kind: domain.JobSubmit, Order: order}); err != nil {
		return nil, err
	}

	return order, nil
}

// Cancel fetches the order from the ledger and, if it is not already
// terminal, enqueues a cancel job. The matching engine is the sole
// decider of whether cancellation actually takes effect (spec.md
// §4.4): intake only rejects obviously-too-late or unknown cancels.
func (in *Intake) Cancel(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := in.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, coreerr.New(coreerr.Conflict, "order already in a terminal state")
	}
	if err := in.cancel.Push(ctx, domain.Job{Kind: domain.JobCancel, OrderID: orderID}); err != nil {
		return nil, err
	}
	return order, nil
}

func validate(s Submission) error {
	if s.ClientID == "" {
		return coreerr.New(coreerr.Validation, "client_id is required")
	}
	if s.Instrument == "" {
		return coreerr.New(coreerr.Validation, "instrument is required")
	}
	if s.Side != domain.SideBuy && s.Side != domain.SideSell {
		return coreerr.New(coreerr.Validation, "side must be buy or sell")
	}
	if s.Type != domain.TypeLimit && s.Type != domain.TypeMarket {
		return coreerr.New(coreerr.Validation, "type must be limit or market")
	}
	if !s.Quantity.IsPositive() {
		return coreerr.New(coreerr.Validation, "quantity must be positive")
	}
	if s.Type == domain.TypeLimit && !s.Price.IsPositive() {
		return coreerr.New(coreerr.Validation, "price must be positive for limit orders")
	}
	if s.IdempotencyKey == "" {
		return coreerr.New(coreerr.Validation, "idempotency_key is required")
	}
	return nil
}
