package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"golang.org/x/time/rate"
)

const (
	ID = "kucoin"

	apiSuccess   = "200000"
	pingInterval = 18 * time.Second
)

type Options struct {
	// RESTBaseURL overrides the SDK default (https://api.kucoin.com).
	RESTBaseURL string
	Limiter     *rate.Limiter
}

// KucoinAdapter reads level2 deltas and seeds them with the aggregated full book.
type KucoinAdapter struct {
	apiService *kucoin.ApiService
	limiter    *rate.Limiter
}

func NewKucoinAdapter(opts Options) *KucoinAdapter {
	options := []kucoin.ApiServiceOption{
		kucoin.ApiKeyOption(os.Getenv("KUCOIN_API_KEY")),
		kucoin.ApiSecretOption(os.Getenv("KUCOIN_SECRET_KEY")),
		kucoin.ApiPassPhraseOption(os.Getenv("KUCOIN_PASSPHRASE")),
	}
	if opts.RESTBaseURL != "" {
		options = append(options, kucoin.ApiBaseURIOption(opts.RESTBaseURL))
	}
	return &KucoinAdapter{
		apiService: kucoin.NewApiService(options...),
		limiter:    opts.Limiter,
	}
}

func (k *KucoinAdapter) ID() string { return ID }

func symbolOf(pair *domain.MarketSymbol) string {
	return pair.Upper("-")
}

func topicOf(pair *domain.MarketSymbol) string {
	return "/market/level2:" + symbolOf(pair)
}

// Endpoint requests a public bullet token; every connection needs a fresh one.
func (k *KucoinAdapter) Endpoint(ctx context.Context, _ *domain.MarketSymbol) (string, error) {
	if err := k.wait(ctx); err != nil {
		return "", err
	}
	resp, err := k.apiService.WebSocketPublicToken()
	if err != nil {
		return "", fmt.Errorf("failed to get ws connection options: %w", err)
	}
	if resp.Code != apiSuccess {
		return "", fmt.Errorf("kucoin: bullet-public: code %s: %s", resp.Code, resp.Message)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err := json.Unmarshal(resp.RawData, data); err != nil {
		return "", fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.Message)
	}
	if data.Token == "" || len(data.Servers) == 0 {
		return "", fmt.Errorf("kucoin: bullet-public returned no instance servers")
	}

	q := url.Values{}
	q.Set("token", data.Token)
	q.Set("connectId", uuid.NewString())
	return data.Servers[0].Endpoint + "?" + q.Encode(), nil
}

func (k *KucoinAdapter) SubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	m := kucoin.NewSubscribeMessage(topicOf(pair), false)
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func (k *KucoinAdapter) UnsubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	m := kucoin.NewUnsubscribeMessage(topicOf(pair), false)
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func (k *KucoinAdapter) Heartbeat() domain.Heartbeat {
	return domain.Heartbeat{
		Message: func() []byte {
			b, _ := json.Marshal(map[string]string{"id": uuid.NewString(), "type": kucoin.PingMessage})
			return b
		},
		Interval: pingInterval,
	}
}

type downstreamMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

type DepthUpdateModel struct {
	Changes       OrderBookChanges `json:"changes"`
	SequenceEnd   int64            `json:"sequenceEnd"`
	SequenceStart int64            `json:"sequenceStart"`
	Symbol        string           `json:"symbol"`
	Time          int64            `json:"time"`
}

// OrderBookChanges rows are [price, size, sequence].
type OrderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

func (k *KucoinAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
	var msg downstreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	// welcome, ack, pong
	if msg.Type != kucoin.Message || !strings.HasPrefix(msg.Topic, "/market/level2:") {
		return nil, nil
	}

	var update DepthUpdateModel
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return nil, fmt.Errorf("failed to unmarshal level2 update: %w", err)
	}
	return domain.NewDelta(update.Changes.Bids, update.Changes.Asks, update.SequenceStart, update.SequenceEnd), nil
}

type OrderBookSnapshot struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (k *KucoinAdapter) FetchSnapshot(ctx context.Context, pair *domain.MarketSymbol) (*domain.OrderBookUpdate, error) {
	if err := k.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := k.apiService.AggregatedFullOrderBookV3(symbolOf(pair))
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp.Code != apiSuccess {
		return nil, fmt.Errorf("kucoin: order book snapshot: code %s: %s", resp.Code, resp.Message)
	}

	data := &OrderBookSnapshot{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	lastUpdId, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sequence to int: %w, response: %s", err, resp.RawData)
	}

	return domain.NewSnapshot(data.Bids, data.Asks, lastUpdId), nil
}

type symbolModel struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	PriceIncrement string `json:"priceIncrement"`
	EnableTrading  bool   `json:"enableTrading"`
}

func (k *KucoinAdapter) symbols(ctx context.Context) ([]symbolModel, error) {
	if err := k.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := k.apiService.Symbols("")
	if err != nil {
		return nil, fmt.Errorf("failed to get symbols: %w", err)
	}
	if resp.Code != apiSuccess {
		return nil, fmt.Errorf("kucoin: symbols: code %s: %s", resp.Code, resp.Message)
	}
	var symbols []symbolModel
	if err := json.Unmarshal(resp.RawData, &symbols); err != nil {
		return nil, fmt.Errorf("failed to unmarshal symbols: %w", err)
	}
	return symbols, ctx.Err()
}

func (k *KucoinAdapter) FetchNativeTick(ctx context.Context, pair *domain.MarketSymbol) (domain.NativeTick, error) {
	symbols, err := k.symbols(ctx)
	if err != nil {
		return domain.NativeTick{}, err
	}

	var result domain.NativeTick
	for _, s := range symbols {
		if s.Symbol == symbolOf(pair) {
			result.NativeTick, _ = decimal.NewFromString(s.PriceIncrement)
			break
		}
	}

	if err := k.wait(ctx); err != nil {
		return domain.NativeTick{}, err
	}
	resp, err := k.apiService.TickerLevel1(symbolOf(pair))
	if err != nil {
		return domain.NativeTick{}, fmt.Errorf("failed to get ticker: %w", err)
	}
	if resp.Code == apiSuccess {
		var ticker struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(resp.RawData, &ticker); err == nil {
			result.Price, _ = decimal.NewFromString(ticker.Price)
		}
	}
	return result, nil
}

func (k *KucoinAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	symbols, err := k.symbols(ctx)
	if err != nil {
		return nil, err
	}

	quote = strings.ToUpper(quote)
	var bases []string
	for _, s := range symbols {
		if s.QuoteCurrency == quote && s.EnableTrading {
			bases = append(bases, s.BaseCurrency)
		}
	}
	return bases, nil
}

func (k *KucoinAdapter) wait(ctx context.Context) error {
	if k.limiter == nil {
		return ctx.Err()
	}
	return k.limiter.Wait(ctx)
}
