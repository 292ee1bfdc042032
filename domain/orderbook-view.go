package domain

import (
	"github.com/shopspring/decimal"
)

// DefaultViewDepth caps the rows materialized per side.
const DefaultViewDepth = 50

var hundred = decimal.NewFromInt(100)

type OrderbookEntry struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
	// cumulative qty, best-first
	Total string `json:"total"`
}

// OrderbookView is a complete materialization of the book at one point in time.
// MidPrice, Spread and SpreadPercent are null unless both sides have levels.
type OrderbookView struct {
	Bids          []OrderbookEntry    `json:"bids"`
	Asks          []OrderbookEntry    `json:"asks"`
	MidPrice      decimal.NullDecimal `json:"midPrice"`
	Spread        decimal.NullDecimal `json:"spread"`
	SpreadPercent decimal.NullDecimal `json:"spreadPercent"`
}

func EmptyView() OrderbookView {
	return OrderbookView{Bids: []OrderbookEntry{}, Asks: []OrderbookEntry{}}
}

// ViewBuilder turns an OrderBook into an OrderbookView. It remembers the outermost
// levels of the previous build so a vanished edge can be shown once as a zero-qty row.
type ViewBuilder struct {
	depth int

	prevTopAsk    string
	prevBottomBid string
}

func NewViewBuilder(depth int) *ViewBuilder {
	if depth <= 0 {
		depth = DefaultViewDepth
	}
	return &ViewBuilder{depth: depth}
}

// Reset forgets the tracked edges, e.g. after the book was replaced.
func (b *ViewBuilder) Reset() {
	b.prevTopAsk = ""
	b.prevBottomBid = ""
}

// Build repairs a crossed book, then materializes it at the given tick.
func (b *ViewBuilder) Build(book *OrderBook, tick decimal.Decimal) (OrderbookView, RepairResult) {
	repair := book.RepairCrossed()
	bids, asks := book.Materialize(b.depth, tick)

	topAsk, bottomBid := lastPrice(asks), lastPrice(bids)

	// asks ascend, so the outermost ask is the highest; bids descend
	asks = withEdge(asks, b.prevTopAsk, func(prev, current decimal.Decimal) bool { return prev.GreaterThan(current) })
	bids = withEdge(bids, b.prevBottomBid, func(prev, current decimal.Decimal) bool { return prev.LessThan(current) })

	b.prevTopAsk, b.prevBottomBid = topAsk, bottomBid

	view := OrderbookView{Bids: bids, Asks: asks}
	if len(bids) == 0 || len(asks) == 0 {
		return view, repair
	}

	bestBid, errBid := decimal.NewFromString(bids[0].Price)
	bestAsk, errAsk := decimal.NewFromString(asks[0].Price)
	if errBid != nil || errAsk != nil {
		return view, repair
	}

	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	spread := bestAsk.Sub(bestBid)
	view.MidPrice = decimal.NewNullDecimal(mid)
	view.Spread = decimal.NewNullDecimal(spread)
	if bestBid.IsPositive() {
		view.SpreadPercent = decimal.NewNullDecimal(spread.Div(mid).Mul(hundred).Round(4))
	}
	return view, repair
}

func lastPrice(entries []OrderbookEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Price
}

// withEdge appends a placeholder at prevEdge when it lay beyond the current outermost row
// and no row exists at that exact price.
func withEdge(entries []OrderbookEntry, prevEdge string, beyond func(prev, current decimal.Decimal) bool) []OrderbookEntry {
	if len(entries) == 0 || prevEdge == "" {
		return entries
	}

	prev, err := decimal.NewFromString(prevEdge)
	if err != nil {
		return entries
	}
	last := entries[len(entries)-1]
	current, err := decimal.NewFromString(last.Price)
	if err != nil || !beyond(prev, current) {
		return entries
	}
	for _, e := range entries {
		if e.Price == prevEdge {
			return entries
		}
	}
	return append(entries, OrderbookEntry{Price: prevEdge, Qty: "0", Total: last.Total})
}
