package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
	"golang.org/x/time/rate"
)

const (
	ID = "coinbase"

	defaultRESTURL   = "https://api.exchange.coinbase.com"
	defaultStreamURL = "wss://advanced-trade-ws.coinbase.com"
	channelLevel2    = "level2"
	channelData      = "l2_data"
)

type Options struct {
	RESTBaseURL string
	StreamURL   string
	Limiter     *rate.Limiter
}

// CoinbaseAdapter reads the advanced trade level2 channel, which opens with a snapshot event.
type CoinbaseAdapter struct {
	http      *provider.HTTPClient
	streamURL string
}

func NewCoinbaseAdapter(opts Options) *CoinbaseAdapter {
	restURL := defaultRESTURL
	if opts.RESTBaseURL != "" {
		restURL = opts.RESTBaseURL
	}
	streamURL := defaultStreamURL
	if opts.StreamURL != "" {
		streamURL = opts.StreamURL
	}
	return &CoinbaseAdapter{
		http:      provider.NewHTTPClient(restURL, opts.Limiter),
		streamURL: streamURL,
	}
}

func (c *CoinbaseAdapter) ID() string { return ID }

func (c *CoinbaseAdapter) Endpoint(context.Context, *domain.MarketSymbol) (string, error) {
	return c.streamURL, nil
}

func productID(pair *domain.MarketSymbol) string {
	return pair.Upper("-")
}

type channelMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (c *CoinbaseAdapter) SubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	return marshal(channelMessage{Type: "subscribe", ProductIDs: []string{productID(pair)}, Channel: channelLevel2})
}

func (c *CoinbaseAdapter) UnsubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	return marshal(channelMessage{Type: "unsubscribe", ProductIDs: []string{productID(pair)}, Channel: channelLevel2})
}

type level2Update struct {
	Side        string `json:"side"`
	PriceLevel  string `json:"price_level"`
	NewQuantity string `json:"new_quantity"`
}

type level2Message struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type      string         `json:"type"`
		ProductID string         `json:"product_id"`
		Updates   []level2Update `json:"updates"`
	} `json:"events"`
}

// Parse ignores subscription and heartbeat channels.
func (c *CoinbaseAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
	var msg level2Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal level2 message: %w", err)
	}
	if msg.Channel != channelData || len(msg.Events) == 0 {
		return nil, nil
	}

	event := msg.Events[0]
	var bids, asks [][]string
	for _, u := range event.Updates {
		level := []string{u.PriceLevel, u.NewQuantity}
		switch u.Side {
		case "bid":
			bids = append(bids, level)
		case "offer":
			asks = append(asks, level)
		}
	}

	if event.Type == "snapshot" {
		return domain.NewSnapshot(bids, asks, 0), nil
	}
	return domain.NewDelta(bids, asks, 0, 0), nil
}

type product struct {
	ID             string `json:"id"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	QuoteIncrement string `json:"quote_increment"`
	Status         string `json:"status"`
}

type ticker struct {
	Price string `json:"price"`
}

func (c *CoinbaseAdapter) FetchNativeTick(ctx context.Context, pair *domain.MarketSymbol) (domain.NativeTick, error) {
	id := productID(pair)

	var p product
	if err := c.http.GetJSON(ctx, "/products/"+id, nil, &p); err != nil {
		return domain.NativeTick{}, fmt.Errorf("coinbase: product %s: %w", id, err)
	}
	var t ticker
	if err := c.http.GetJSON(ctx, "/products/"+id+"/ticker", nil, &t); err != nil {
		return domain.NativeTick{}, fmt.Errorf("coinbase: ticker %s: %w", id, err)
	}

	var result domain.NativeTick
	result.NativeTick, _ = decimal.NewFromString(p.QuoteIncrement)
	result.Price, _ = decimal.NewFromString(t.Price)
	return result, nil
}

func (c *CoinbaseAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	var products []product
	if err := c.http.GetJSON(ctx, "/products", nil, &products); err != nil {
		return nil, fmt.Errorf("coinbase: products: %w", err)
	}

	quote = strings.ToUpper(quote)
	var bases []string
	for _, p := range products {
		if p.QuoteCurrency == quote && p.Status != "delisted" {
			bases = append(bases, p.BaseCurrency)
		}
	}
	return bases, nil
}
