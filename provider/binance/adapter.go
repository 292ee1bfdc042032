package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gbinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"golang.org/x/time/rate"
)

const (
	ID = "binance"

	defaultStreamURL = "wss://stream.binance.com:9443"
	snapshotLimit    = 1000
)

type Options struct {
	// RESTBaseURL overrides the go-binance default (https://api.binance.com).
	RESTBaseURL string
	StreamURL   string
	Limiter     *rate.Limiter
}

// BinanceAdapter reads the diff depth stream and seeds it with a REST snapshot.
type BinanceAdapter struct {
	client    *gbinance.Client
	streamURL string
	limiter   *rate.Limiter
}

func NewBinanceAdapter(opts Options) *BinanceAdapter {
	client := gbinance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 7 * time.Second}
	if opts.RESTBaseURL != "" {
		client.BaseURL = strings.TrimRight(opts.RESTBaseURL, "/")
	}
	streamURL := defaultStreamURL
	if opts.StreamURL != "" {
		streamURL = strings.TrimRight(opts.StreamURL, "/")
	}
	return &BinanceAdapter{
		client:    client,
		streamURL: streamURL,
		limiter:   opts.Limiter,
	}
}

func (b *BinanceAdapter) ID() string { return ID }

func (b *BinanceAdapter) Endpoint(_ context.Context, pair *domain.MarketSymbol) (string, error) {
	return fmt.Sprintf("%s/ws/%s@depth@100ms", b.streamURL, pair.Join("")), nil
}

// The stream is selected by URL, no subscribe payload.
func (b *BinanceAdapter) SubscribeMessage(*domain.MarketSymbol, decimal.Decimal) []byte {
	return nil
}

func (b *BinanceAdapter) UnsubscribeMessage(*domain.MarketSymbol, decimal.Decimal) []byte {
	return nil
}

type DepthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId int64      `json:"U"`
	FinalUpdateId int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func (b *BinanceAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
	var msg DepthUpdateData
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal depth update: %w", err)
	}
	if msg.Bids == nil && msg.Asks == nil {
		return nil, nil
	}
	return domain.NewDelta(msg.Bids, msg.Asks, msg.FirstUpdateId, msg.FinalUpdateId), nil
}

func (b *BinanceAdapter) FetchSnapshot(ctx context.Context, pair *domain.MarketSymbol) (*domain.OrderBookUpdate, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	depth, err := b.client.NewDepthService().Symbol(pair.Upper("")).Limit(snapshotLimit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: depth snapshot %s: %w", pair.Upper(""), err)
	}

	bids := make([][]string, 0, len(depth.Bids))
	for _, l := range depth.Bids {
		bids = append(bids, []string{l.Price, l.Quantity})
	}
	asks := make([][]string, 0, len(depth.Asks))
	for _, l := range depth.Asks {
		asks = append(asks, []string{l.Price, l.Quantity})
	}
	return domain.NewSnapshot(bids, asks, depth.LastUpdateID), nil
}

func (b *BinanceAdapter) FetchNativeTick(ctx context.Context, pair *domain.MarketSymbol) (domain.NativeTick, error) {
	symbol := pair.Upper("")
	if err := b.wait(ctx); err != nil {
		return domain.NativeTick{}, err
	}
	info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.NativeTick{}, fmt.Errorf("binance: exchange info %s: %w", symbol, err)
	}
	if err := b.wait(ctx); err != nil {
		return domain.NativeTick{}, err
	}
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.NativeTick{}, fmt.Errorf("binance: ticker price %s: %w", symbol, err)
	}

	var result domain.NativeTick
	if len(info.Symbols) > 0 {
		if pf := info.Symbols[0].PriceFilter(); pf != nil {
			result.NativeTick, _ = decimal.NewFromString(pf.TickSize)
		}
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			result.Price, _ = decimal.NewFromString(p.Price)
		}
	}
	return result, nil
}

func (b *BinanceAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}

	quote = strings.ToUpper(quote)
	var bases []string
	for _, s := range info.Symbols {
		if s.QuoteAsset == quote && s.Status == "TRADING" {
			bases = append(bases, s.BaseAsset)
		}
	}
	return bases, nil
}

func (b *BinanceAdapter) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}
