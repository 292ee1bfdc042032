package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
	"golang.org/x/time/rate"
)

const (
	ID = "upbit"

	defaultRESTURL   = "https://api.upbit.com"
	defaultStreamURL = "wss://api.upbit.com/websocket/v1"
	// orderbook units per message
	unitCount = 30
)

type Options struct {
	RESTBaseURL string
	StreamURL   string
	Limiter     *rate.Limiter
}

// UpbitAdapter reads full orderbook snapshots, optionally grouped server side by a price level.
type UpbitAdapter struct {
	http      *provider.HTTPClient
	streamURL string
}

func NewUpbitAdapter(opts Options) *UpbitAdapter {
	restURL := defaultRESTURL
	if opts.RESTBaseURL != "" {
		restURL = opts.RESTBaseURL
	}
	streamURL := defaultStreamURL
	if opts.StreamURL != "" {
		streamURL = opts.StreamURL
	}
	return &UpbitAdapter{
		http:      provider.NewHTTPClient(restURL, opts.Limiter),
		streamURL: streamURL,
	}
}

func (u *UpbitAdapter) ID() string { return ID }

func (u *UpbitAdapter) Endpoint(context.Context, *domain.MarketSymbol) (string, error) {
	return u.streamURL, nil
}

// market is QUOTE-BASE, e.g. KRW-BTC.
func market(pair *domain.MarketSymbol) string {
	return pair.Quote() + "-" + pair.Base()
}

type ticketField struct {
	Ticket string `json:"ticket"`
}

type typeField struct {
	Type  string      `json:"type"`
	Codes []string    `json:"codes"`
	Level json.Number `json:"level"`
}

type formatField struct {
	Format string `json:"format"`
}

func (u *UpbitAdapter) SubscribeMessage(pair *domain.MarketSymbol, level decimal.Decimal) []byte {
	if level.IsNegative() {
		level = decimal.Zero
	}
	msg := []any{
		ticketField{Ticket: uuid.NewString()},
		typeField{
			Type:  "orderbook",
			Codes: []string{fmt.Sprintf("%s.%d", market(pair), unitCount)},
			Level: json.Number(level.String()),
		},
		formatField{Format: "SIMPLE"},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return b
}

// Upbit has no unsubscribe; changing the subscription means a new connection.
func (u *UpbitAdapter) UnsubscribeMessage(*domain.MarketSymbol, decimal.Decimal) []byte {
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
	Level json.Number     `json:"lv"`
}

// Parse turns every orderbook frame into a full snapshot.
func (u *UpbitAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
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
	Market      string `json:"market"`
	EnglishName string `json:"english_name"`
}

func (u *UpbitAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	var markets []marketItem
	if err := u.http.GetJSON(ctx, "/v1/market/all", nil, &markets); err != nil {
		return nil, fmt.Errorf("upbit: markets: %w", err)
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

type instrumentItem struct {
	Market          string        `json:"market"`
	QuoteCurrency   string        `json:"quote_currency"`
	TickSize        json.Number   `json:"tick_size"`
	SupportedLevels []json.Number `json:"supported_levels"`
}

func (u *UpbitAdapter) FetchServerAggregationLevels(ctx context.Context, pair *domain.MarketSymbol) (domain.AggregationLevels, error) {
	var items []instrumentItem
	if err := u.http.GetJSON(ctx, "/v1/orderbook/instruments", url.Values{"markets": {market(pair)}}, &items); err != nil {
		return domain.AggregationLevels{}, fmt.Errorf("upbit: orderbook instruments %s: %w", market(pair), err)
	}
	if len(items) == 0 {
		return domain.AggregationLevels{}, nil
	}

	item := items[0]
	var result domain.AggregationLevels
	result.NativeTick, _ = decimal.NewFromString(item.TickSize.String())
	for _, l := range item.SupportedLevels {
		level, err := decimal.NewFromString(l.String())
		if err != nil || !level.IsPositive() {
			continue
		}
		result.Levels = append(result.Levels, level)
	}
	return result, nil
}
