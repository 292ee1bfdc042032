package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(start, end int64, bids ...[]string) *OrderBookUpdate {
	return NewDelta(bids, nil, start, end)
}

func TestMaintainer_BuffersUntilSnapshot(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	assert.Equal(t, SyncModeBuffering, m.Mode())

	assert.Equal(t, OutcomeBuffered, m.Process(delta(90, 95, []string{"1", "1"})))
	assert.Equal(t, OutcomeBuffered, m.Process(delta(96, 101, []string{"2", "1"})))
	assert.Equal(t, OutcomeBuffered, m.Process(delta(102, 104, []string{"3", "1"})))
	assert.Equal(t, 3, m.PendingLen())
	assert.True(t, m.OrderBook().IsEmpty(), "buffered deltas are not applied")

	replayed := m.ApplySnapshot(NewSnapshot([][]string{{"10", "1"}}, nil, 99))

	// [90-95] is covered by the snapshot and dropped
	assert.Equal(t, 2, replayed)
	assert.Equal(t, SyncModeSynced, m.Mode())
	assert.Equal(t, int64(104), m.LastAppliedSeq())
	assert.Zero(t, m.PendingLen())

	_, ok := m.OrderBook().Quantity(SideBid, "1")
	assert.False(t, ok)
	_, ok = m.OrderBook().Quantity(SideBid, "3")
	assert.True(t, ok)
}

func TestMaintainer_SnapshotGapStopsDraining(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)

	m.Process(delta(105, 110, []string{"1", "1"}))
	m.Process(delta(111, 115, []string{"2", "1"}))

	replayed := m.ApplySnapshot(NewSnapshot([][]string{{"10", "1"}}, nil, 99))

	assert.Zero(t, replayed)
	assert.Equal(t, SyncModeSynced, m.Mode())
	assert.Equal(t, int64(99), m.LastAppliedSeq())
	assert.Zero(t, m.PendingLen())
	bids, _ := m.OrderBook().Len()
	assert.Equal(t, 1, bids)
}

func TestMaintainer_SnapshotStopsAtInternalGap(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)

	m.Process(delta(100, 105, []string{"1", "1"}))
	m.Process(delta(107, 110, []string{"2", "1"}))

	replayed := m.ApplySnapshot(NewSnapshot(nil, nil, 99))

	assert.Equal(t, 1, replayed)
	assert.Equal(t, int64(105), m.LastAppliedSeq())
	_, ok := m.OrderBook().Quantity(SideBid, "2")
	assert.False(t, ok)
}

func TestMaintainer_GapDetection(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	m.ApplySnapshot(NewSnapshot([][]string{{"10", "1"}}, nil, 99))

	assert.Equal(t, OutcomeApplied, m.Process(delta(100, 105, []string{"1", "1"})))
	assert.Equal(t, int64(105), m.LastAppliedSeq())

	// 107 > 105+1
	assert.Equal(t, OutcomeNeedSnapshot, m.Process(delta(107, 110, []string{"2", "1"})))
	assert.Equal(t, SyncModeBuffering, m.Mode())
	assert.Equal(t, 1, m.PendingLen(), "the new buffering cycle is seeded with the gapped delta")
	assert.Equal(t, 1, m.OutOfSequenceErrCount)

	assert.Equal(t, OutcomeBuffered, m.Process(delta(111, 112, []string{"3", "1"})))
	replayed := m.ApplySnapshot(NewSnapshot(nil, nil, 108))
	assert.Equal(t, 2, replayed)
	assert.Equal(t, int64(112), m.LastAppliedSeq())
}

func TestMaintainer_DropsOutdated(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	m.ApplySnapshot(NewSnapshot(nil, nil, 99))

	assert.Equal(t, OutcomeDropped, m.Process(delta(90, 99, []string{"1", "1"})))
	assert.True(t, m.OrderBook().IsEmpty())
	assert.Equal(t, OutcomeDropped, m.Process(nil))
}

func TestMaintainer_SnapshotFailed(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	m.Process(delta(100, 105, []string{"1", "1"}))
	m.Process(delta(120, 130, []string{"2", "1"}))

	applied := m.SnapshotFailed()

	assert.Equal(t, 2, applied)
	assert.Equal(t, SyncModeSynced, m.Mode())
	assert.Equal(t, int64(130), m.LastAppliedSeq())
	bids, _ := m.OrderBook().Len()
	assert.Equal(t, 2, bids)
}

func TestMaintainer_SnapshotFailedWithoutBuffer(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	m.SnapshotFailed()

	assert.Equal(t, OutcomeApplied, m.Process(delta(500, 510, []string{"1", "1"})))
	assert.Equal(t, int64(510), m.LastAppliedSeq())
	assert.Equal(t, OutcomeApplied, m.Process(delta(511, 512, []string{"2", "1"})))
}

func TestMaintainer_UnsequencedSourceAppliesDirectly(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, false)
	assert.Equal(t, SyncModeSynced, m.Mode())

	assert.Equal(t, OutcomeApplied, m.Process(NewDelta([][]string{{"100", "1"}}, nil, 0, 0)))
	assert.Equal(t, OutcomeApplied, m.Process(NewSnapshot([][]string{{"99", "1"}}, nil, 0)))

	_, ok := m.OrderBook().Quantity(SideBid, "100")
	assert.False(t, ok, "stream snapshot replaces the book")
}

func TestMaintainer_StreamSnapshotSyncs(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	m.Process(delta(1, 2, []string{"1", "1"}))

	assert.Equal(t, OutcomeApplied, m.Process(NewSnapshot([][]string{{"99", "1"}}, nil, 50)))
	assert.Equal(t, SyncModeSynced, m.Mode())
	assert.Zero(t, m.PendingLen())
	assert.Equal(t, int64(50), m.LastAppliedSeq())
}

func TestMaintainer_Reset(t *testing.T) {
	m := NewOrderBookMaintainer(newTestBook(t), nil, true)
	m.ApplySnapshot(NewSnapshot([][]string{{"99", "1"}}, nil, 50))
	m.Process(delta(51, 52, []string{"1", "1"}))

	m.Reset()

	require.True(t, m.OrderBook().IsEmpty())
	assert.Equal(t, SyncModeBuffering, m.Mode())
	assert.Zero(t, m.LastAppliedSeq())
	assert.Equal(t, OutcomeBuffered, m.Process(delta(60, 61, []string{"1", "1"})))
}
