package domain

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBook(t *testing.T) *OrderBook {
	symbol, err := NewMarketSymbol("BTC", "USDT")
	require.NoError(t, err)
	return NewOrderBook("MockProvider", symbol)
}

func TestOrderBook_SnapshotIsIdempotent(t *testing.T) {
	ob := newTestBook(t)
	snapshot := NewSnapshot(
		[][]string{{"10000", "1"}, {"9900", "2"}},
		[][]string{{"10100", "1.5"}, {"10200", "2.5"}},
		123,
	)

	ob.ApplyUpdate(snapshot)
	bids1, asks1 := ob.Materialize(0, decimal.Zero)

	ob.ApplyUpdate(snapshot)
	bids2, asks2 := ob.Materialize(0, decimal.Zero)

	assert.Equal(t, bids1, bids2)
	assert.Equal(t, asks1, asks2)
	nb, na := ob.Len()
	assert.Equal(t, 2, nb)
	assert.Equal(t, 2, na)
}

func TestOrderBook_SnapshotReplacesState(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot([][]string{{"10000", "1"}}, [][]string{{"10100", "1"}}, 1))
	ob.ApplyUpdate(NewSnapshot([][]string{{"9000", "3"}}, nil, 2))

	_, ok := ob.Quantity(SideBid, "10000")
	assert.False(t, ok)
	qty, ok := ob.Quantity(SideBid, "9000")
	assert.True(t, ok)
	assert.Equal(t, "3", qty)
	_, asks := ob.Len()
	assert.Zero(t, asks)
}

func TestOrderBook_DeletionSentinel(t *testing.T) {
	zeros := []string{"0", "0.0", "0.00000000"}

	for _, zero := range zeros {
		t.Run(zero, func(t *testing.T) {
			ob := newTestBook(t)
			ob.ApplyUpdate(NewSnapshot([][]string{{"100", "2"}, {"99", "1"}}, nil, 1))

			del := NewDelta([][]string{{"100", zero}}, nil, 2, 2)
			ob.ApplyUpdate(del)
			_, ok := ob.Quantity(SideBid, "100")
			assert.False(t, ok)

			// applying it again is a no-op
			ob.ApplyUpdate(del)
			bids, _ := ob.Len()
			assert.Equal(t, 1, bids)
		})
	}
}

func TestOrderBook_ApplyUpdate(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot(
		[][]string{{"10000", "1"}, {"9900", "2"}},
		[][]string{{"10.300", "1.5"}, {"10200", "2.5"}},
		123,
	))
	ob.ApplyUpdate(NewDelta(
		[][]string{{"9800", "3"}},
		[][]string{{"10.300", "2"}, {"10200", "0"}},
		124, 124,
	))

	bids, asks := ob.Materialize(0, decimal.Zero)
	assert.Equal(t, []OrderbookEntry{
		{Price: "10000", Qty: "1", Total: "1"},
		{Price: "9900", Qty: "2", Total: "3"},
		{Price: "9800", Qty: "3", Total: "6"},
	}, bids)
	assert.Equal(t, []OrderbookEntry{
		{Price: "10.300", Qty: "2", Total: "2"},
	}, asks)
}

func TestOrderBook_SkipsUnparsableLevels(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewDelta(
		[][]string{{"abc", "1"}, {"100", "x"}, {"99", "-1"}, {"98", "1"}, {"only-price"}},
		nil, 0, 0,
	))

	bids, _ := ob.Len()
	assert.Equal(t, 1, bids)
	_, ok := ob.Quantity(SideBid, "98")
	assert.True(t, ok)
}

func TestOrderBook_PruningBound(t *testing.T) {
	ob := newTestBook(t)
	ob.SetPruneTarget(10)

	for i := 1; i <= 20; i++ {
		ob.ApplyUpdate(NewDelta(
			[][]string{{fmt.Sprint(1000 - i), "1"}},
			[][]string{{fmt.Sprint(1000 + i), "1"}},
			0, 0,
		))
	}
	bids, asks := ob.Len()
	assert.Equal(t, 20, bids, "below the high-water mark nothing is pruned")
	assert.Equal(t, 20, asks)

	ob.ApplyUpdate(NewDelta([][]string{{"1", "1"}}, [][]string{{"5000", "1"}}, 0, 0))
	bids, asks = ob.Len()
	assert.Equal(t, 10, bids)
	assert.Equal(t, 10, asks)

	// the best levels survive
	_, ok := ob.Quantity(SideBid, "999")
	assert.True(t, ok)
	_, ok = ob.Quantity(SideBid, "1")
	assert.False(t, ok)
	_, ok = ob.Quantity(SideAsk, "1001")
	assert.True(t, ok)
	_, ok = ob.Quantity(SideAsk, "5000")
	assert.False(t, ok)
}

func TestOrderBook_MaterializeSortOrder(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot(
		[][]string{{"99.5", "1"}, {"100", "0.5"}, {"98", "2"}, {"99.75", "1.25"}},
		[][]string{{"102", "1"}, {"100.5", "0.1"}, {"101", "3"}},
		1,
	))

	bids, asks := ob.Materialize(0, decimal.Zero)
	require.Len(t, bids, 4)
	require.Len(t, asks, 3)

	for i := 1; i < len(bids); i++ {
		prev := decimal.RequireFromString(bids[i-1].Price)
		cur := decimal.RequireFromString(bids[i].Price)
		assert.True(t, prev.GreaterThanOrEqual(cur), "bids must not increase")
		assert.True(t, decimal.RequireFromString(bids[i].Total).GreaterThanOrEqual(decimal.RequireFromString(bids[i-1].Total)))
	}
	for i := 1; i < len(asks); i++ {
		prev := decimal.RequireFromString(asks[i-1].Price)
		cur := decimal.RequireFromString(asks[i].Price)
		assert.True(t, prev.LessThanOrEqual(cur), "asks must not decrease")
		assert.True(t, decimal.RequireFromString(asks[i].Total).GreaterThanOrEqual(decimal.RequireFromString(asks[i-1].Total)))
	}
	assert.Equal(t, "4.75", bids[3].Total)
	assert.Equal(t, "4.1", asks[2].Total)
}

func TestOrderBook_MaterializeDepth(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot(
		[][]string{{"10000", "1"}, {"9900", "2"}},
		[][]string{{"10.300", "1.5"}, {"10200", "2.5"}},
		123,
	))

	bids, asks := ob.Materialize(3, decimal.Zero)
	assert.Len(t, bids, 2)
	assert.Len(t, asks, 2)

	bids, asks = ob.Materialize(1, decimal.Zero)
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)
	assert.Equal(t, "10000", bids[0].Price)
	assert.Equal(t, "10.300", asks[0].Price)
}

func TestOrderBook_TickGrouping(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot(
		[][]string{{"100.07", "1"}, {"100.01", "2"}, {"99.99", "0.5"}},
		[][]string{{"100.11", "1"}, {"100.2", "3"}, {"100.21", "0.25"}},
		1,
	))

	bids, asks := ob.Materialize(0, decimal.RequireFromString("0.1"))
	assert.Equal(t, []OrderbookEntry{
		{Price: "100.0", Qty: "3", Total: "3"},
		{Price: "99.9", Qty: "0.5", Total: "3.5"},
	}, bids)
	assert.Equal(t, []OrderbookEntry{
		{Price: "100.2", Qty: "4", Total: "4"},
		{Price: "100.3", Qty: "0.25", Total: "4.25"},
	}, asks)
}

func TestOrderBook_TickGroupingConservesQuantity(t *testing.T) {
	ob := newTestBook(t)
	var bidLevels, askLevels [][]string
	for i := 0; i < 40; i++ {
		bidLevels = append(bidLevels, []string{fmt.Sprintf("%d.%02d", 900+i/7, (i*13)%100), fmt.Sprintf("0.%03d", i+1)})
		askLevels = append(askLevels, []string{fmt.Sprintf("%d.%02d", 1000+i/7, (i*17)%100), fmt.Sprintf("1.%03d", i)})
	}
	ob.ApplyUpdate(NewSnapshot(bidLevels, askLevels, 1))

	rawBids, rawAsks := ob.Materialize(0, decimal.Zero)

	for _, tick := range []string{"0.01", "0.5", "1", "10"} {
		t.Run(tick, func(t *testing.T) {
			bids, asks := ob.Materialize(0, decimal.RequireFromString(tick))
			assert.Equal(t, rawBids[len(rawBids)-1].Total, bids[len(bids)-1].Total)
			assert.Equal(t, rawAsks[len(rawAsks)-1].Total, asks[len(asks)-1].Total)
		})
	}
}

func TestOrderBook_RepairCrossed(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot([][]string{{"100", "1"}}, [][]string{{"99", "1"}}, 1))

	// repairs a crossing; it does not reconstruct the true market state
	result := ob.RepairCrossed()
	assert.True(t, result.Crossed)
	assert.Equal(t, 1, result.Removed)

	bestBid, okBid := ob.BestBid()
	bestAsk, okAsk := ob.BestAsk()
	assert.True(t, !okBid || !okAsk || bestBid.LessThan(bestAsk))
}

func TestOrderBook_RepairCrossedPrunesSideWithFewerOffenders(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot(
		[][]string{{"105", "1"}, {"99", "1"}, {"98", "1"}},
		[][]string{{"100", "1"}, {"101", "1"}, {"102", "1"}},
		1,
	))

	result := ob.RepairCrossed()
	assert.True(t, result.Crossed)
	assert.Equal(t, SideBid, result.PrunedSide)
	assert.Equal(t, 1, result.Removed)

	bestBid, _ := ob.BestBid()
	assert.Equal(t, "99", bestBid.String())
	_, asks := ob.Len()
	assert.Equal(t, 3, asks)
}

func TestOrderBook_RepairLockedBook(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot([][]string{{"100", "1"}, {"99", "1"}}, [][]string{{"100", "2"}, {"101", "1"}}, 1))

	result := ob.RepairCrossed()
	assert.True(t, result.Crossed)

	bestBid, _ := ob.BestBid()
	bestAsk, _ := ob.BestAsk()
	assert.True(t, bestBid.LessThan(bestAsk))
}

func TestOrderBook_RepairNoop(t *testing.T) {
	ob := newTestBook(t)
	ob.ApplyUpdate(NewSnapshot([][]string{{"99", "1"}}, [][]string{{"100", "1"}}, 1))

	assert.Equal(t, RepairResult{}, ob.RepairCrossed())
	assert.False(t, ob.IsEmpty())
}

func TestLevelsFromStrings(t *testing.T) {
	result := LevelsFromStrings([][]string{{"10000", "1", "3"}, {"9900"}, {"9800", "2"}})

	assert.Equal(t, []PriceLevel{{Price: "10000", Qty: "1"}, {Price: "9800", Qty: "2"}}, result)
}
