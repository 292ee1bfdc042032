package domain

import (
	"github.com/gammazero/deque"
)

type SyncMode int

const (
	SyncModeBuffering SyncMode = iota
	SyncModeSynced
)

func (m SyncMode) String() string {
	if m == SyncModeSynced {
		return "synced"
	}
	return "buffering"
}

// Outcome tells the owning session what Process did with an update.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeBuffered
	OutcomeDropped
	// OutcomeNeedSnapshot means a gap was found and a fresh snapshot must be fetched.
	OutcomeNeedSnapshot
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDropped:
		return "dropped"
	default:
		return "need_snapshot"
	}
}

// OrderbookMaintainer keeps an OrderBook consistent with a sequenced delta stream.
// Deltas are queued while Buffering and replayed on top of a snapshot; once Synced every
// delta is validated against the last applied sequence number.
//
// Not safe for concurrent use.
type OrderbookMaintainer struct {
	orderBook *OrderBook
	validator IDepthUpdateValidator

	snapshotSync   bool
	mode           SyncMode
	lastAppliedSeq int64

	depthUpdateQueue deque.Deque[*OrderBookUpdate]

	OutOfSequenceErrCount int
}

// NewOrderBookMaintainer creates a maintainer for orderBook. When snapshotSync is false
// the source has no snapshot endpoint and every update is applied directly.
func NewOrderBookMaintainer(orderBook *OrderBook, validator IDepthUpdateValidator, snapshotSync bool) *OrderbookMaintainer {
	if validator == nil {
		validator = &SequenceValidator{}
	}
	m := &OrderbookMaintainer{
		orderBook:    orderBook,
		validator:    validator,
		snapshotSync: snapshotSync,
	}
	m.Reset()
	return m
}

func (m *OrderbookMaintainer) OrderBook() *OrderBook {
	return m.orderBook
}

func (m *OrderbookMaintainer) Mode() SyncMode {
	return m.mode
}

func (m *OrderbookMaintainer) LastAppliedSeq() int64 {
	return m.lastAppliedSeq
}

func (m *OrderbookMaintainer) PendingLen() int {
	return m.depthUpdateQueue.Len()
}

// Process routes one update from the stream.
func (m *OrderbookMaintainer) Process(update *OrderBookUpdate) Outcome {
	if update == nil {
		return OutcomeDropped
	}

	// snapshots pushed by the stream itself are a full baseline
	if update.IsSnapshot() {
		m.orderBook.ApplyUpdate(update)
		m.depthUpdateQueue.Clear()
		m.lastAppliedSeq = update.SequenceEnd
		m.mode = SyncModeSynced
		return OutcomeApplied
	}

	if !m.snapshotSync || !update.IsSequenced() {
		m.orderBook.ApplyUpdate(update)
		return OutcomeApplied
	}

	if m.mode == SyncModeBuffering {
		m.depthUpdateQueue.PushBack(update)
		return OutcomeBuffered
	}

	// synced without any baseline (snapshot failed, nothing buffered): take the first delta as-is
	if m.lastAppliedSeq == 0 {
		m.apply(update)
		return OutcomeApplied
	}

	err := m.validator.IsValidUpd(update, m.lastAppliedSeq)
	switch {
	case m.validator.IsErrOutdated(err):
		return OutcomeDropped
	case m.validator.IsErrOutOfSequence(err):
		m.OutOfSequenceErrCount++
		m.mode = SyncModeBuffering
		m.depthUpdateQueue.Clear()
		m.depthUpdateQueue.PushBack(update)
		return OutcomeNeedSnapshot
	}

	m.apply(update)
	return OutcomeApplied
}

// ApplySnapshot replaces the book with snapshot and replays the buffered deltas that follow it.
// Draining stops at the first gap; the remaining deltas are discarded and the book stays at
// reduced depth until the next gap triggers a resync. Returns the number of replayed deltas.
func (m *OrderbookMaintainer) ApplySnapshot(snapshot *OrderBookUpdate) int {
	if snapshot == nil {
		return 0
	}
	if !snapshot.IsSnapshot() {
		s := *snapshot
		s.Kind = UpdateKindSnapshot
		snapshot = &s
	}

	m.orderBook.ApplyUpdate(snapshot)
	m.lastAppliedSeq = snapshot.SequenceEnd
	m.mode = SyncModeSynced

	replayed := 0
	for m.depthUpdateQueue.Len() > 0 {
		update := m.depthUpdateQueue.PopFront()

		err := m.validator.IsValidUpd(update, m.lastAppliedSeq)
		if m.validator.IsErrOutdated(err) {
			continue
		}
		if m.validator.IsErrOutOfSequence(err) {
			m.OutOfSequenceErrCount++
			m.depthUpdateQueue.Clear()
			break
		}

		m.apply(update)
		replayed++
	}
	return replayed
}

// SnapshotFailed leaves Buffering without a baseline, applying every buffered delta best-effort.
func (m *OrderbookMaintainer) SnapshotFailed() int {
	applied := 0
	for m.depthUpdateQueue.Len() > 0 {
		m.apply(m.depthUpdateQueue.PopFront())
		applied++
	}
	m.mode = SyncModeSynced
	return applied
}

// Reset drops the book and any buffered deltas. Snapshot-synced maintainers go back to Buffering.
func (m *OrderbookMaintainer) Reset() {
	m.orderBook.Clear()
	m.depthUpdateQueue.Clear()
	m.lastAppliedSeq = 0
	if m.snapshotSync {
		m.mode = SyncModeBuffering
	} else {
		m.mode = SyncModeSynced
	}
}

func (m *OrderbookMaintainer) apply(update *OrderBookUpdate) {
	m.orderBook.ApplyUpdate(update)
	if update.SequenceEnd > 0 {
		m.lastAppliedSeq = update.SequenceEnd
	}
}
