package book

import (
	"container/list"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// level is the FIFO sequence of resting order ids at one (side, price)
// pair, plus the aggregate remaining quantity across them (spec.md §3,
// "Price Level"). Order ids queue at the tail and are matched from the
// head, preserving arrival order within the price.
type level struct {
	price     decimal.Decimal
	orders    *list.List
	elems     map[uuid.UUID]*list.Element
	aggregate decimal.Decimal
}

func newLevel(price decimal.Decimal) *level {
	return &level{
		price:  price,
		orders: list.New(),
		elems:  make(map[uuid.UUID]*list.Element),
	}
}

func (l *level) empty() bool {
	return l.orders.Len() == 0
}

func (l *level) pushBack(id uuid.UUID, qty decimal.Decimal) {
	l.elems[id] = l.orders.PushBack(id)
	l.aggregate = l.aggregate.Add(qty)
}

func (l *level) pushFront(id uuid.UUID, qty decimal.Decimal) {
	l.elems[id] = l.orders.PushFront(id)
	l.aggregate = l.aggregate.Add(qty)
}

// popOldest removes and returns the FIFO head, or false if the level is
// empty (an orphan: present in the index with nothing queued).
func (l *level) popOldest() (uuid.UUID, bool) {
	front := l.orders.Front()
	if front == nil {
		return uuid.Nil, false
	}
	id := front.Value.(uuid.UUID)
	l.orders.Remove(front)
	delete(l.elems, id)
	return id, true
}

// remove deletes id from the sequence by identity, wherever it sits —
// used by cancellation, not just FIFO pop.
func (l *level) remove(id uuid.UUID, qty decimal.Decimal) bool {
	elem, ok := l.elems[id]
	if !ok {
		return false
	}
	l.orders.Remove(elem)
	delete(l.elems, id)
	l.aggregate = l.aggregate.Sub(qty)
	if l.aggregate.IsNegative() {
		l.aggregate = decimal.Zero
	}
	return true
}

func (l *level) subtractAggregate(qty decimal.Decimal) {
	l.aggregate = l.aggregate.Sub(qty)
	if l.aggregate.IsNegative() {
		l.aggregate = decimal.Zero
	}
}
