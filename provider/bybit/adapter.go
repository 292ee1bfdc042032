package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	bybitapi "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"golang.org/x/time/rate"
)

const (
	ID = "bybit"

	defaultRESTURL   = "https://api.bybit.com"
	defaultStreamURL = "wss://stream.bybit.com/v5/public/spot"
	heartbeatEvery   = 20 * time.Second
	bookDepth        = 200
	topicPrefix      = "orderbook."
	categorySpot     = "spot"
	httpTimeout      = 8 * time.Second
)

type Options struct {
	RESTBaseURL string
	StreamURL   string
	Limiter     *rate.Limiter
}

// BybitAdapter reads the v5 spot orderbook topic. The stream sends its own snapshot on
// subscribe, REST goes through the official SDK.
type BybitAdapter struct {
	client    *bybitapi.Client
	limiter   *rate.Limiter
	streamURL string
}

func NewBybitAdapter(opts Options) *BybitAdapter {
	restURL := defaultRESTURL
	if opts.RESTBaseURL != "" {
		restURL = opts.RESTBaseURL
	}
	streamURL := defaultStreamURL
	if opts.StreamURL != "" {
		streamURL = opts.StreamURL
	}

	client := bybitapi.NewBybitHttpClient("", "", bybitapi.WithBaseURL(strings.TrimRight(restURL, "/")))
	client.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &BybitAdapter{
		client:    client,
		limiter:   opts.Limiter,
		streamURL: streamURL,
	}
}

func (b *BybitAdapter) ID() string { return ID }

func (b *BybitAdapter) Endpoint(context.Context, *domain.MarketSymbol) (string, error) {
	return b.streamURL, nil
}

func symbolOf(pair *domain.MarketSymbol) string {
	return pair.Upper("")
}

func topic(pair *domain.MarketSymbol) string {
	return fmt.Sprintf("%s%d.%s", topicPrefix, bookDepth, symbolOf(pair))
}

type opMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func (b *BybitAdapter) SubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	return marshal(opMessage{Op: "subscribe", Args: []string{topic(pair)}})
}

func (b *BybitAdapter) UnsubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	return marshal(opMessage{Op: "unsubscribe", Args: []string{topic(pair)}})
}

func (b *BybitAdapter) Heartbeat() domain.Heartbeat {
	return domain.Heartbeat{
		Message:  func() []byte { return marshal(opMessage{Op: "ping"}) },
		Interval: heartbeatEvery,
	}
}

type bookMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  *struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	} `json:"data"`
}

// Parse ignores pongs and subscribe acks, which carry no topic.
func (b *BybitAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
	var msg bookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal orderbook message: %w", err)
	}
	if !strings.HasPrefix(msg.Topic, topicPrefix) || msg.Data == nil {
		return nil, nil
	}

	if msg.Type == "snapshot" {
		return domain.NewSnapshot(msg.Data.Bids, msg.Data.Asks, 0), nil
	}
	return domain.NewDelta(msg.Data.Bids, msg.Data.Asks, 0, 0), nil
}

type instrumentsResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
	} `json:"list"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// call waits on the limiter, runs one SDK request and decodes its result into out.
func (b *BybitAdapter) call(ctx context.Context, name string, do func(context.Context) (*bybitapi.ServerResponse, error), out any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	resp, err := do(ctx)
	if err != nil {
		return fmt.Errorf("bybit: %s: %w", name, err)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("bybit: %s: retCode %d: %s", name, resp.RetCode, resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("bybit: %s: failed to marshal result: %w", name, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("bybit: %s: failed to unmarshal result: %w", name, err)
	}
	return nil
}

func (b *BybitAdapter) instruments(ctx context.Context, params map[string]interface{}) (instrumentsResult, error) {
	var result instrumentsResult
	err := b.call(ctx, "instruments-info", func(ctx context.Context) (*bybitapi.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	}, &result)
	return result, err
}

func (b *BybitAdapter) tickers(ctx context.Context, params map[string]interface{}) (tickersResult, error) {
	var result tickersResult
	err := b.call(ctx, "tickers", func(ctx context.Context) (*bybitapi.ServerResponse, error) {
		return b.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	}, &result)
	return result, err
}

func (b *BybitAdapter) FetchNativeTick(ctx context.Context, pair *domain.MarketSymbol) (domain.NativeTick, error) {
	params := map[string]interface{}{"category": categorySpot, "symbol": symbolOf(pair)}

	instruments, err := b.instruments(ctx, params)
	if err != nil {
		return domain.NativeTick{}, err
	}
	tickers, err := b.tickers(ctx, params)
	if err != nil {
		return domain.NativeTick{}, err
	}

	var result domain.NativeTick
	if len(instruments.List) > 0 {
		result.NativeTick, _ = decimal.NewFromString(instruments.List[0].PriceFilter.TickSize)
	}
	if len(tickers.List) > 0 {
		result.Price, _ = decimal.NewFromString(tickers.List[0].LastPrice)
	}
	return result, nil
}

func (b *BybitAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	tickers, err := b.tickers(ctx, map[string]interface{}{"category": categorySpot})
	if err != nil {
		return nil, err
	}

	suffix := strings.ToUpper(quote)
	var bases []string
	for _, t := range tickers.List {
		if strings.HasSuffix(t.Symbol, suffix) && len(t.Symbol) > len(suffix) {
			bases = append(bases, strings.TrimSuffix(t.Symbol, suffix))
		}
	}
	return bases, nil
}
