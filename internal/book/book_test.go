package book

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agentic-browser/lob-core/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBestOppositeEmptyBook(t *testing.T) {
	b := New("BTC-USD")
	_, _, ok := b.BestOpposite(domain.SideBuy)
	assert.False(t, ok)
}

func TestInsertAndBestOpposite(t *testing.T) {
	b := New("BTC-USD")
	sellID := uuid.New()
	b.Insert(sellID, domain.SideSell, dec("100.00"), dec("5"))

	price, id, ok := b.BestOpposite(domain.SideBuy)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("100.00")))
	assert.Equal(t, sellID, id)
}

func TestBidOrderingHighestFirst(t *testing.T) {
	b := New("BTC-USD")
	low := uuid.New()
	high := uuid.New()
	b.Insert(low, domain.SideBuy, dec("99.00"), dec("1"))
	b.Insert(high, domain.SideBuy, dec("101.00"), dec("1"))

	price, id, ok := b.BestOpposite(domain.SideSell)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("101.00")))
	assert.Equal(t, high, id)
}

func TestAskOrderingLowestFirst(t *testing.T) {
	b := New("BTC-USD")
	low := uuid.New()
	high := uuid.New()
	b.Insert(low, domain.SideSell, dec("99.00"), dec("1"))
	b.Insert(high, domain.SideSell, dec("101.00"), dec("1"))

	price, id, ok := b.BestOpposite(domain.SideBuy)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("99.00")))
	assert.Equal(t, low, id)
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	b := New("BTC-USD")
	first := uuid.New()
	second := uuid.New()
	b.Insert(first, domain.SideSell, dec("100.00"), dec("1"))
	b.Insert(second, domain.SideSell, dec("100.00"), dec("1"))

	_, id, ok := b.BestOpposite(domain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, first, id, "earlier arrival at the same price matches first")
}

func TestReduceOldestAtPartialKeepsOrderResting(t *testing.T) {
	b := New("BTC-USD")
	id := uuid.New()
	b.Insert(id, domain.SideSell, dec("100.00"), dec("5"))

	got, ok := b.ReduceOldestAt(domain.SideSell, dec("100.00"), dec("2"), false)
	require.True(t, ok)
	assert.Equal(t, id, got)

	side, price, ok := b.Fetch(id)
	require.True(t, ok)
	assert.Equal(t, domain.SideSell, side)
	assert.True(t, price.Equal(dec("100.00")))

	_, asks := b.Depth(10)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Quantity.Equal(dec("3")))
}

func TestReduceOldestAtFullRemovesLevel(t *testing.T) {
	b := New("BTC-USD")
	id := uuid.New()
	b.Insert(id, domain.SideBuy, dec("100.00"), dec("5"))

	_, ok := b.ReduceOldestAt(domain.SideBuy, dec("100.00"), dec("5"), true)
	require.True(t, ok)

	_, _, ok = b.Fetch(id)
	assert.False(t, ok)

	_, _, ok = b.BestOpposite(domain.SideSell)
	assert.False(t, ok, "level should be pruned from the index once empty")
}

func TestRemoveCancelsRestingOrder(t *testing.T) {
	b := New("BTC-USD")
	id := uuid.New()
	b.Insert(id, domain.SideBuy, dec("50.00"), dec("10"))

	assert.True(t, b.Remove(id))
	assert.False(t, b.Remove(id), "second removal of the same id is a no-op")

	_, _, ok := b.Fetch(id)
	assert.False(t, ok)
}

func TestCrosses(t *testing.T) {
	b := New("BTC-USD")
	b.Insert(uuid.New(), domain.SideSell, dec("100.00"), dec("1"))

	assert.True(t, b.Crosses(domain.SideBuy, dec("100.00")))
	assert.True(t, b.Crosses(domain.SideBuy, dec("101.00")))
	assert.False(t, b.Crosses(domain.SideBuy, dec("99.00")))
}

func TestDepthOrderingAndLimit(t *testing.T) {
	b := New("BTC-USD")
	for _, p := range []string{"101.00", "100.00", "99.00"} {
		b.Insert(uuid.New(), domain.SideBuy, dec(p), dec("1"))
	}

	bids, _ := b.Depth(2)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(dec("101.00")))
	assert.True(t, bids[1].Price.Equal(dec("100.00")))
}

func TestDropOrphanPriceRemovesStaleIndexEntry(t *testing.T) {
	b := New("BTC-USD")
	id := uuid.New()
	b.Insert(id, domain.SideSell, dec("100.00"), dec("1"))

	// Simulate the orphan the matcher encounters when a price survives in
	// the index after its FIFO sequence has already drained: empty the
	// level directly without going through Remove/ReduceOldestAt, which
	// would normally prune the index themselves.
	lvl, ok := b.asks.levelLookup(dec("100.00"))
	require.True(t, ok)
	lvl.popOldest()
	require.True(t, lvl.empty())

	_, _, ok = b.BestOpposite(domain.SideBuy)
	require.True(t, ok, "stale price still resolves as best until dropped")

	b.DropOrphanPrice(domain.SideSell, dec("100.00"))

	_, _, ok = b.BestOpposite(domain.SideBuy)
	assert.False(t, ok, "orphaned price must be gone from the index")
}

func TestHaltFlag(t *testing.T) {
	b := New("BTC-USD")
	assert.False(t, b.Halted())
	b.SetHalted(true)
	assert.True(t, b.Halted())
}
