package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPruneTarget is the number of best-ranked levels a side keeps after pruning.
// Pruning only kicks in once a side grows beyond twice this size.
const DefaultPruneTarget = 2000

type UpdateKind int

const (
	UpdateKindDelta UpdateKind = iota
	UpdateKindSnapshot
)

func (k UpdateKind) String() string {
	if k == UpdateKindSnapshot {
		return "snapshot"
	}
	return "delta"
}

type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// PriceLevel is a (price, qty) pair kept as decimal strings exactly as the source sent it.
type PriceLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// OrderBookUpdate is the canonical update every adapter produces.
// SequenceStart and SequenceEnd are zero for sources without ordered update ids.
type OrderBookUpdate struct {
	Kind          UpdateKind
	Bids          []PriceLevel
	Asks          []PriceLevel
	SequenceStart int64
	SequenceEnd   int64
}

func NewSnapshot(bids [][]string, asks [][]string, lastUpdateID int64) *OrderBookUpdate {
	return &OrderBookUpdate{
		Kind:          UpdateKindSnapshot,
		Bids:          LevelsFromStrings(bids),
		Asks:          LevelsFromStrings(asks),
		SequenceStart: lastUpdateID,
		SequenceEnd:   lastUpdateID,
	}
}

func NewDelta(bids [][]string, asks [][]string, sequenceStart int64, sequenceEnd int64) *OrderBookUpdate {
	return &OrderBookUpdate{
		Kind:          UpdateKindDelta,
		Bids:          LevelsFromStrings(bids),
		Asks:          LevelsFromStrings(asks),
		SequenceStart: sequenceStart,
		SequenceEnd:   sequenceEnd,
	}
}

func (u *OrderBookUpdate) IsSnapshot() bool {
	return u.Kind == UpdateKindSnapshot
}

func (u *OrderBookUpdate) IsSequenced() bool {
	return u.SequenceEnd > 0
}

// LevelsFromStrings converts the [["price","qty",...]] wire shape most exchanges use.
// Rows with fewer than two columns are dropped.
func LevelsFromStrings(depth [][]string) []PriceLevel {
	result := make([]PriceLevel, 0, len(depth))
	for _, level := range depth {
		if len(level) < 2 {
			continue
		}
		result = append(result, PriceLevel{Price: level[0], Qty: level[1]})
	}
	return result
}

type bookLevel struct {
	price decimal.Decimal
	qty   decimal.Decimal
	raw   string
}

// OrderBook is the authoritative local copy of one market's book.
// It is not safe for concurrent use; the owning session serialises access.
type OrderBook struct {
	Provider string
	Symbol   *MarketSymbol

	bids        map[string]bookLevel
	asks        map[string]bookLevel
	pruneTarget int
}

func NewOrderBook(provider string, symbol *MarketSymbol) *OrderBook {
	return &OrderBook{
		Provider:    provider,
		Symbol:      symbol,
		bids:        make(map[string]bookLevel),
		asks:        make(map[string]bookLevel),
		pruneTarget: DefaultPruneTarget,
	}
}

func (ob *OrderBook) SetPruneTarget(target int) {
	if target > 0 {
		ob.pruneTarget = target
	}
}

// ApplyUpdate merges the update into the book and prunes both sides.
// A snapshot replaces the whole book. Levels whose price or quantity do not parse are skipped.
func (ob *OrderBook) ApplyUpdate(update *OrderBookUpdate) {
	if update == nil {
		return
	}
	if update.IsSnapshot() {
		ob.Clear()
	}

	applyLevels(ob.bids, update.Bids)
	applyLevels(ob.asks, update.Asks)

	ob.Prune()
}

func applyLevels(side map[string]bookLevel, levels []PriceLevel) {
	for _, level := range levels {
		qty, err := decimal.NewFromString(strings.TrimSpace(level.Qty))
		if err != nil || qty.IsNegative() {
			continue
		}
		if qty.IsZero() {
			delete(side, level.Price)
			continue
		}

		price, err := decimal.NewFromString(strings.TrimSpace(level.Price))
		if err != nil || !price.IsPositive() {
			continue
		}
		side[level.Price] = bookLevel{price: price, qty: qty, raw: level.Qty}
	}
}

// Prune trims each side back to the prune target once it exceeds twice that size.
// It returns the number of removed levels.
func (ob *OrderBook) Prune() int {
	return pruneSide(ob.bids, SideBid, ob.pruneTarget) + pruneSide(ob.asks, SideAsk, ob.pruneTarget)
}

func pruneSide(side map[string]bookLevel, s Side, target int) int {
	if len(side) <= target*2 {
		return 0
	}

	ranked := rankedKeys(side, s)
	for _, key := range ranked[target:] {
		delete(side, key)
	}
	return len(ranked) - target
}

// rankedKeys returns the side's price keys best-first.
func rankedKeys(side map[string]bookLevel, s Side) []string {
	keys := make([]string, 0, len(side))
	for key := range side {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return better(side[keys[i]].price, side[keys[j]].price, keys[i], keys[j], s)
	})
	return keys
}

func better(a, b decimal.Decimal, keyA, keyB string, s Side) bool {
	c := a.Cmp(b)
	if c == 0 {
		return keyA < keyB
	}
	if s == SideBid {
		return c > 0
	}
	return c < 0
}

func (ob *OrderBook) Clear() {
	ob.bids = make(map[string]bookLevel)
	ob.asks = make(map[string]bookLevel)
}

func (ob *OrderBook) Len() (bids int, asks int) {
	return len(ob.bids), len(ob.asks)
}

func (ob *OrderBook) IsEmpty() bool {
	return len(ob.bids) == 0 && len(ob.asks) == 0
}

// Quantity returns the stored quantity string at an exact price key.
func (ob *OrderBook) Quantity(s Side, price string) (string, bool) {
	level, ok := ob.side(s)[price]
	return level.raw, ok
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	return bestOf(ob.bids, SideBid)
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return bestOf(ob.asks, SideAsk)
}

func bestOf(side map[string]bookLevel, s Side) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, level := range side {
		if !found || (s == SideBid && level.price.GreaterThan(best)) || (s == SideAsk && level.price.LessThan(best)) {
			best = level.price
			found = true
		}
	}
	return best, found
}

func (ob *OrderBook) side(s Side) map[string]bookLevel {
	if s == SideAsk {
		return ob.asks
	}
	return ob.bids
}

// Materialize returns both sides sorted best-first, grouped by tick when tick is positive,
// and limited to depth rows (depth <= 0 means unlimited).
func (ob *OrderBook) Materialize(depth int, tick decimal.Decimal) (bids []OrderbookEntry, asks []OrderbookEntry) {
	return materializeSide(ob.bids, SideBid, depth, tick), materializeSide(ob.asks, SideAsk, depth, tick)
}

type row struct {
	price decimal.Decimal
	key   string
	qty   decimal.Decimal
	raw   string
}

func materializeSide(side map[string]bookLevel, s Side, depth int, tick decimal.Decimal) []OrderbookEntry {
	var rows []*row

	if tick.IsPositive() {
		places := TickPrecision(tick)
		buckets := make(map[string]*row, len(side))
		for _, level := range side {
			bucket := BucketPrice(level.price, tick, s)
			key := bucket.StringFixed(places)
			if r, ok := buckets[key]; ok {
				r.qty = r.qty.Add(level.qty)
				continue
			}
			r := &row{price: bucket, key: key, qty: level.qty}
			buckets[key] = r
			rows = append(rows, r)
		}
		for _, r := range rows {
			r.raw = r.qty.String()
		}
	} else {
		rows = make([]*row, 0, len(side))
		for key, level := range side {
			rows = append(rows, &row{price: level.price, key: key, qty: level.qty, raw: level.raw})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		return better(rows[i].price, rows[j].price, rows[i].key, rows[j].key, s)
	})
	if depth > 0 && len(rows) > depth {
		rows = rows[:depth]
	}

	total := decimal.Zero
	entries := make([]OrderbookEntry, len(rows))
	for i, r := range rows {
		total = total.Add(r.qty)
		entries[i] = OrderbookEntry{Price: r.key, Qty: r.raw, Total: total.String()}
	}
	return entries
}

// RepairResult describes what RepairCrossed removed.
type RepairResult struct {
	Crossed    bool
	PrunedSide Side
	Removed    int
}

// RepairCrossed resolves a crossed or locked book (best bid >= best ask).
// The side with fewer levels past the opposite best price is treated as corrupted and
// its through-levels are deleted; ties prune the bid side. This repairs a crossing, it
// does not reconstruct the true market state.
func (ob *OrderBook) RepairCrossed() RepairResult {
	bestBid, okBid := ob.BestBid()
	bestAsk, okAsk := ob.BestAsk()
	if !okBid || !okAsk || bestBid.LessThan(bestAsk) {
		return RepairResult{}
	}

	badBids := countThrough(ob.bids, SideBid, bestAsk, false)
	badAsks := countThrough(ob.asks, SideAsk, bestBid, false)
	if badBids == 0 && badAsks == 0 {
		badBids = countThrough(ob.bids, SideBid, bestAsk, true)
		badAsks = countThrough(ob.asks, SideAsk, bestBid, true)
	}

	result := RepairResult{Crossed: true, PrunedSide: SideBid}
	if badAsks < badBids {
		result.PrunedSide = SideAsk
	}

	if result.PrunedSide == SideBid {
		result.Removed = removeThrough(ob.bids, SideBid, bestAsk)
	} else {
		result.Removed = removeThrough(ob.asks, SideAsk, bestBid)
	}
	return result
}

// through reports whether price sits on the wrong side of the opposite best.
func through(price, opposite decimal.Decimal, s Side, inclusive bool) bool {
	c := price.Cmp(opposite)
	if inclusive && c == 0 {
		return true
	}
	if s == SideBid {
		return c > 0
	}
	return c < 0
}

func countThrough(side map[string]bookLevel, s Side, opposite decimal.Decimal, inclusive bool) int {
	n := 0
	for _, level := range side {
		if through(level.price, opposite, s, inclusive) {
			n++
		}
	}
	return n
}

func removeThrough(side map[string]bookLevel, s Side, opposite decimal.Decimal) int {
	n := 0
	for key, level := range side {
		if through(level.price, opposite, s, true) {
			delete(side, key)
			n++
		}
	}
	return n
}
