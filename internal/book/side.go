package book

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// priceNode is the btree.Item stored in a side's price index. Less orders
// the tree so that Min() on the bid side yields the highest price and
// Min() on the ask side yields the lowest price (see side.best below).
type priceNode struct {
	price    decimal.Decimal
	lvl      *level
	ascending bool
}

func (n *priceNode) Less(than btree.Item) bool {
	o := than.(*priceNode)
	if n.ascending {
		return n.price.LessThan(o.price)
	}
	return n.price.GreaterThan(o.price)
}

// side is the price index for one book side: bids are ordered highest
// price first, asks lowest price first, so the best price is always the
// tree minimum under the side's ordering (spec.md §3, "Book").
type side struct {
	tree      *btree.BTree
	levels    map[string]*level // price.String() -> level, avoids btree re-traversal for direct lookup
	ascending bool
}

// btreeDegree is the branching factor handed to btree.New. 32 keeps the
// tree shallow for the price-count range a single instrument sees in
// practice while amortizing rebalances across enough items per node.
const btreeDegree = 32

func newSide(ascending bool) *side {
	return &side{
		tree:      btree.New(btreeDegree),
		levels:    make(map[string]*level),
		ascending: ascending,
	}
}

func (s *side) key(price decimal.Decimal) string {
	return price.String()
}

// levelAt returns the level at price, creating it if absent.
func (s *side) levelAt(price decimal.Decimal) *level {
	k := s.key(price)
	if l, ok := s.levels[k]; ok {
		return l
	}
	l := newLevel(price)
	s.levels[k] = l
	s.tree.ReplaceOrInsert(&priceNode{price: price, lvl: l, ascending: s.ascending})
	return l
}

// levelLookup returns the level at price without creating it.
func (s *side) levelLookup(price decimal.Decimal) (*level, bool) {
	l, ok := s.levels[s.key(price)]
	return l, ok
}

// dropIfEmpty removes price from the index once its level has no
// resting orders, so best-price lookups never surface a stale price.
func (s *side) dropIfEmpty(price decimal.Decimal) {
	k := s.key(price)
	l, ok := s.levels[k]
	if !ok || !l.empty() {
		return
	}
	s.tree.Delete(&priceNode{price: price, ascending: s.ascending})
	delete(s.levels, k)
}

// best returns the best (highest bid / lowest ask) level, or nil if the
// side is empty.
func (s *side) best() *level {
	item := s.tree.Min()
	if item == nil {
		return nil
	}
	return item.(*priceNode).lvl
}

// crosses reports whether a resting price on this side would match an
// incoming order at incomingPrice on the opposite side: a bid level
// crosses an incoming sell when bid price >= incoming price, an ask
// level crosses an incoming buy when ask price <= incoming price.
func (s *side) crosses(restingPrice, incomingPrice decimal.Decimal) bool {
	if s.ascending {
		// this is the ask side: resting ask crosses a buy at incomingPrice
		return restingPrice.LessThanOrEqual(incomingPrice)
	}
	// this is the bid side: resting bid crosses a sell at incomingPrice
	return restingPrice.GreaterThanOrEqual(incomingPrice)
}
