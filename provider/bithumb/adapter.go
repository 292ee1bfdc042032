package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
	"golang.org/x/time/rate"
)

const (
	ID = "bithumb"

	defaultRESTURL   = "https://api.bithumb.com"
	defaultStreamURL = "wss://ws-api.bithumb.com/websocket/v1"
	quoteKRW         = "KRW"
)

type Options struct {
	RESTBaseURL string
	StreamURL   string
	Limiter     *rate.Limiter
}

// BithumbAdapter speaks the upbit-style v1 websocket. Server grouping takes a multiplier of
// the native KRW tick rather than a price, so the tick is remembered per market.
type BithumbAdapter struct {
	http      *provider.HTTPClient
	streamURL string

	mu          sync.Mutex
	nativeTicks map[string]decimal.Decimal
}

func NewBithumbAdapter(opts Options) *BithumbAdapter {
	restURL := defaultRESTURL
	if opts.RESTBaseURL != "" {
		restURL = opts.RESTBaseURL
	}
	streamURL := defaultStreamURL
	if opts.StreamURL != "" {
		streamURL = opts.StreamURL
	}
	return &BithumbAdapter{
		http:        provider.NewHTTPClient(restURL, opts.Limiter),
		streamURL:   streamURL,
		nativeTicks: make(map[string]decimal.Decimal),
	}
}

func (b *BithumbAdapter) ID() string { return ID }

func (b *BithumbAdapter) Endpoint(context.Context, *domain.MarketSymbol) (string, error) {
	return b.streamURL, nil
}

// market is QUOTE-BASE, e.g. KRW-BTC.
func market(pair *domain.MarketSymbol) string {
	return pair.Quote() + "-" + pair.Base()
}

type ticketField struct {
	Ticket string `json:"ticket"`
}

type typeField struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
	Level int64    `json:"level"`
}

type formatField struct {
	Format string `json:"format"`
}

// multiplier converts a grouping price into multiples of the native tick. 1 is the native book.
func (b *BithumbAdapter) multiplier(pair *domain.MarketSymbol, level decimal.Decimal) int64 {
	b.mu.Lock()
	native, ok := b.nativeTicks[market(pair)]
	b.mu.Unlock()

	if !ok || !native.IsPositive() || !level.IsPositive() {
		return 1
	}
	m := level.Div(native).Round(0).IntPart()
	if m < 1 {
		return 1
	}
	return m
}

func (b *BithumbAdapter) SubscribeMessage(pair *domain.MarketSymbol, level decimal.Decimal) []byte {
	msg := []any{
		ticketField{Ticket: uuid.NewString()},
		typeField{
			Type:  "orderbook",
			Codes: []string{market(pair)},
			Level: b.multiplier(pair, level),
		},
		formatField{Format: "SIMPLE"},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}

// Bithumb has no unsubscribe.
func (b *BithumbAdapter) UnsubscribeMessage(*domain.MarketSymbol, decimal.Decimal) []byte {
	return nil
}

type orderbookUnit struct {
	AskPrice json.Number `json:"ap"`
	AskSize  json.Number `json:"as"`
	BidPrice json.Number `json:"bp"`
	BidSize  json.Number `json:"bs"`
}

type orderbookMessage struct {
	Type  string          `json:"ty"`
	Code  string          `json:"cd"`
	Units []orderbookUnit `json:"obu"`
}

func (b *BithumbAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
	var msg orderbookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal orderbook message: %w", err)
	}
	if msg.Type != "orderbook" || msg.Units == nil {
		return nil, nil
	}

	bids := make([][]string, 0, len(msg.Units))
	asks := make([][]string, 0, len(msg.Units))
	for _, unit := range msg.Units {
		bids = append(bids, []string{unit.BidPrice.String(), unit.BidSize.String()})
		asks = append(asks, []string{unit.AskPrice.String(), unit.AskSize.String()})
	}
	return domain.NewSnapshot(bids, asks, 0), nil
}

type marketItem struct {
	Market string `json:"market"`
}

func (b *BithumbAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	var markets []marketItem
	if err := b.http.GetJSON(ctx, "/v1/market/all", nil, &markets); err != nil {
		return nil, fmt.Errorf("bithumb: markets: %w", err)
	}

	prefix := strings.ToUpper(quote) + "-"
	var bases []string
	for _, m := range markets {
		if strings.HasPrefix(m.Market, prefix) {
			bases = append(bases, strings.TrimPrefix(m.Market, prefix))
		}
	}
	return bases, nil
}

type tickerItem struct {
	Market     string      `json:"market"`
	TradePrice json.Number `json:"trade_price"`
}

// FetchServerAggregationLevels derives the native tick from the KRW price table and offers
// 10x and 100x groupings. Other quotes have no server grouping.
func (b *BithumbAdapter) FetchServerAggregationLevels(ctx context.Context, pair *domain.MarketSymbol) (domain.AggregationLevels, error) {
	if pair.Quote() != quoteKRW {
		return domain.AggregationLevels{}, nil
	}

	var tickers []tickerItem
	if err := b.http.GetJSON(ctx, "/v1/ticker", url.Values{"markets": {market(pair)}}, &tickers); err != nil {
		return domain.AggregationLevels{}, fmt.Errorf("bithumb: ticker %s: %w", market(pair), err)
	}
	if len(tickers) == 0 {
		return domain.AggregationLevels{}, nil
	}
	price, err := decimal.NewFromString(tickers[0].TradePrice.String())
	if err != nil {
		return domain.AggregationLevels{}, fmt.Errorf("bithumb: ticker %s: invalid trade price: %w", market(pair), err)
	}

	native := domain.KRWNativeTick(price)
	if !native.IsPositive() {
		return domain.AggregationLevels{}, nil
	}

	b.mu.Lock()
	b.nativeTicks[market(pair)] = native
	b.mu.Unlock()

	return domain.AggregationLevels{
		NativeTick: native,
		Levels:     []decimal.Decimal{native.Mul(decimal.NewFromInt(10)), native.Mul(decimal.NewFromInt(100))},
	}, nil
}
