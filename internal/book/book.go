// Package book implements the in-memory, non-authoritative projection of
// the resting order book for one instrument: a per-side ordered price
// index for O(log P) best-price lookup, and a FIFO sequence per price
// level for time priority within a price (spec.md §3, "Book" and §4.2).
//
// The book is rebuilt from nothing on process start — see SPEC_FULL.md's
// Open Questions decision — and exists purely to make matching and
// depth queries fast; the ledger remains the source of truth.
package book

import (
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ai-agentic-browser/lob-core/internal/domain"
)

// location records where a resting order sits, so Remove and Fetch don't
// need to search both sides.
type location struct {
	side  domain.Side
	price decimal.Decimal
	qty   decimal.Decimal
}

// Book is the single-instrument order book. All methods assume the
// caller already holds matching's serialization discipline (spec.md
// §5: the matching loop is the only writer); the mutex here guards
// concurrent readers (depth snapshots, HTTP handlers) against that one
// writer, not writer against writer.
type Book struct {
	mu         sync.RWMutex
	instrument string
	bids       *side // highest price first
	asks       *side // lowest price first
	index      map[uuid.UUID]*location

	// Halted stops matching against this book while still allowing
	// reads, so an operator can freeze a symbol without restarting the
	// process. The matching loop checks it before applying a submit job;
	// cancel jobs are still applied while halted.
	halted bool
}

// New returns an empty book for instrument.
func New(instrument string) *Book {
	return &Book{
		instrument: instrument,
		bids:       newSide(false),
		asks:       newSide(true),
		index:      make(map[uuid.UUID]*location),
	}
}

func (b *Book) sideIndex(s domain.Side) *side {
	if s == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

// BestOpposite returns the best resting price and FIFO-head order id on
// the side opposite incoming, or ok=false if that side's index holds no
// price. An orphaned best price (index entry whose FIFO is empty) is
// still reported, with orderID uuid.Nil, so the caller can drop it.
func (b *Book) BestOpposite(incoming domain.Side) (price decimal.Decimal, orderID uuid.UUID, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lvl := b.sideIndex(opposite(incoming)).best()
	if lvl == nil {
		return decimal.Zero, uuid.Nil, false
	}
	if lvl.empty() {
		return lvl.price, uuid.Nil, true
	}
	front := lvl.orders.Front()
	return lvl.price, front.Value.(uuid.UUID), true
}

// PeekOldestAt returns the FIFO head at (side, price) without removing
// it.
func (b *Book) PeekOldestAt(s domain.Side, price decimal.Decimal) (uuid.UUID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lvl, ok := b.sideIndex(s).levelLookup(price)
	if !ok || lvl.empty() {
		return uuid.Nil, false
	}
	return lvl.orders.Front().Value.(uuid.UUID), true
}

// ReduceOldestAt reduces the FIFO head's aggregate contribution at
// (side, price) by filled, and removes it from the book entirely once
// its remaining quantity reaches zero. Returns the order id that was
// at the head.
func (b *Book) ReduceOldestAt(s domain.Side, price decimal.Decimal, filled decimal.Decimal, fullyFilled bool) (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.sideIndex(s)
	lvl, ok := idx.levelLookup(price)
	if !ok || lvl.empty() {
		return uuid.Nil, false
	}
	id := lvl.orders.Front().Value.(uuid.UUID)
	lvl.subtractAggregate(filled)
	if fullyFilled {
		lvl.orders.Remove(lvl.orders.Front())
		delete(lvl.elems, id)
		delete(b.index, id)
		idx.dropIfEmpty(price)
	} else if loc, ok := b.index[id]; ok {
		loc.qty = loc.qty.Sub(filled)
	}
	return id, true
}

// Insert adds a new resting order to the book at the tail of its price
// level (new arrivals are always the youngest at a price).
func (b *Book) Insert(orderID uuid.UUID, s domain.Side, price, remaining decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.sideIndex(s)
	lvl := idx.levelAt(price)
	lvl.pushBack(orderID, remaining)
	b.index[orderID] = &location{side: s, price: price, qty: remaining}
}

// Remove deletes orderID from the book wherever it rests (cancellation,
// or a resting order whose remaining hits zero via a taker match).
// Returns false if orderID was not resting.
func (b *Book) Remove(orderID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID uuid.UUID) bool {
	loc, ok := b.index[orderID]
	if !ok {
		return false
	}
	idx := b.sideIndex(loc.side)
	lvl, ok := idx.levelLookup(loc.price)
	if !ok {
		delete(b.index, orderID)
		return false
	}
	removed := lvl.remove(orderID, loc.qty)
	idx.dropIfEmpty(loc.price)
	delete(b.index, orderID)
	return removed
}

// Fetch reports whether orderID currently rests on the book and, if so,
// its side and price.
func (b *Book) Fetch(orderID uuid.UUID) (side domain.Side, price decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	loc, ok := b.index[orderID]
	if !ok {
		return "", decimal.Zero, false
	}
	return loc.side, loc.price, true
}

// Crosses reports whether the best opposite price would match an
// incoming order at price on side s.
func (b *Book) Crosses(s domain.Side, price decimal.Decimal) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	opp := b.sideIndex(opposite(s))
	lvl := opp.best()
	if lvl == nil || lvl.empty() {
		return false
	}
	return opp.crosses(lvl.price, price)
}

// DropOrphanPrice removes price from side's index when the matcher finds
// an index entry whose FIFO sequence is already empty (spec.md §4.2: an
// orphaned price MUST be dropped from the index, not just skipped, or
// every later lookup finds the same stale price again).
func (b *Book) DropOrphanPrice(s domain.Side, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sideIndex(s).dropIfEmpty(price)
}

// QuantityAt returns the aggregate remaining quantity at (side, price),
// or false if the level no longer exists (price removed from the
// index). Used after a removal to report the post-removal aggregate
// for an orderbook_delta event.
func (b *Book) QuantityAt(s domain.Side, price decimal.Decimal) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lvl, ok := b.sideIndex(s).levelLookup(price)
	if !ok {
		return decimal.Zero, false
	}
	return lvl.aggregate, true
}

// Halted reports whether matching is currently suspended for this book.
func (b *Book) Halted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.halted
}

// SetHalted flips the halt flag. Reads (depth, Fetch) keep working while
// halted; only the matching loop checks it, and only before applying a
// submit job.
func (b *Book) SetHalted(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = v
}

// PriceLevel is one row of a depth snapshot.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth returns up to n price levels per side, best price first.
func (b *Book) Depth(n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = collectLevels(b.bids, n)
	asks = collectLevels(b.asks, n)
	return bids, asks
}

func collectLevels(s *side, n int) []PriceLevel {
	out := make([]PriceLevel, 0, n)
	s.tree.Ascend(func(item btree.Item) bool {
		node := item.(*priceNode)
		if !node.lvl.empty() {
			out = append(out, PriceLevel{Price: node.lvl.price, Quantity: node.lvl.aggregate})
		}
		return len(out) < n
	})
	return out
}
