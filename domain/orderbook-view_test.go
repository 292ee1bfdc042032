package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewBuilder_SnapshotThenDelete(t *testing.T) {
	ob := newTestBook(t)
	b := NewViewBuilder(DefaultViewDepth)

	ob.ApplyUpdate(NewSnapshot([][]string{{"100", "2"}}, [][]string{{"101", "3"}}, 0))
	view, _ := b.Build(ob, decimal.Zero)

	require.True(t, view.MidPrice.Valid)
	assert.Equal(t, "100.5", view.MidPrice.Decimal.String())
	assert.Equal(t, "1", view.Spread.Decimal.String())
	assert.Equal(t, "0.995", view.SpreadPercent.Decimal.String())

	ob.ApplyUpdate(NewDelta([][]string{{"100", "0"}}, nil, 0, 0))
	view, _ = b.Build(ob, decimal.Zero)

	assert.Empty(t, view.Bids)
	assert.Equal(t, []OrderbookEntry{{Price: "101", Qty: "3", Total: "3"}}, view.Asks)
	assert.False(t, view.MidPrice.Valid)
	assert.False(t, view.Spread.Valid)
	assert.False(t, view.SpreadPercent.Valid)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"midPrice":null`)
}

func TestViewBuilder_EdgeContinuity(t *testing.T) {
	ob := newTestBook(t)
	b := NewViewBuilder(DefaultViewDepth)

	ob.ApplyUpdate(NewSnapshot(
		[][]string{{"100", "1"}, {"99", "1"}, {"98", "1"}},
		[][]string{{"101", "1"}, {"102", "1"}, {"103", "1"}},
		0,
	))
	b.Build(ob, decimal.Zero)

	ob.ApplyUpdate(NewDelta([][]string{{"98", "0"}}, [][]string{{"103", "0"}}, 0, 0))
	view, _ := b.Build(ob, decimal.Zero)

	require.Len(t, view.Asks, 3)
	assert.Equal(t, OrderbookEntry{Price: "103", Qty: "0", Total: "2"}, view.Asks[2])
	require.Len(t, view.Bids, 3)
	assert.Equal(t, OrderbookEntry{Price: "98", Qty: "0", Total: "2"}, view.Bids[2])

	// the placeholder lives for one flush only
	view, _ = b.Build(ob, decimal.Zero)
	assert.Len(t, view.Asks, 2)
	assert.Len(t, view.Bids, 2)
}

func TestViewBuilder_NoPlaceholderWhenEdgeGrows(t *testing.T) {
	ob := newTestBook(t)
	b := NewViewBuilder(DefaultViewDepth)

	ob.ApplyUpdate(NewSnapshot([][]string{{"100", "1"}}, [][]string{{"101", "1"}}, 0))
	b.Build(ob, decimal.Zero)

	ob.ApplyUpdate(NewDelta([][]string{{"100", "0"}, {"99", "1"}}, [][]string{{"101", "0"}, {"105", "1"}}, 0, 0))
	view, _ := b.Build(ob, decimal.Zero)

	assert.Len(t, view.Asks, 1)
	// 100 was above the new lowest bid, not beyond it
	assert.Len(t, view.Bids, 1)
}

func TestViewBuilder_RepairsCrossedBook(t *testing.T) {
	ob := newTestBook(t)
	b := NewViewBuilder(10)

	ob.ApplyUpdate(NewSnapshot([][]string{{"100", "1"}}, [][]string{{"99", "1"}}, 0))
	view, repair := b.Build(ob, decimal.Zero)

	assert.True(t, repair.Crossed)
	assert.True(t, len(view.Bids) == 0 || len(view.Asks) == 0)
	assert.False(t, view.MidPrice.Valid)
}

func TestViewBuilder_Reset(t *testing.T) {
	ob := newTestBook(t)
	b := NewViewBuilder(0)

	ob.ApplyUpdate(NewSnapshot([][]string{{"100", "1"}, {"90", "1"}}, [][]string{{"101", "1"}}, 0))
	b.Build(ob, decimal.Zero)

	b.Reset()
	ob.ApplyUpdate(NewDelta([][]string{{"90", "0"}}, nil, 0, 0))
	view, _ := b.Build(ob, decimal.Zero)
	assert.Len(t, view.Bids, 1)
}
