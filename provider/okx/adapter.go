package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
	"golang.org/x/time/rate"
)

const (
	ID = "okx"

	defaultRESTURL   = "https://www.okx.com"
	defaultStreamURL = "wss://ws.okx.com:8443/ws/v5/public"
	heartbeatEvery   = 25 * time.Second
	codeOK           = "0"
)

type Options struct {
	RESTBaseURL string
	StreamURL   string
	Limiter     *rate.Limiter
}

// OkxAdapter reads the public "books" channel. The stream delivers its own snapshot on
// subscribe and the seqId chain resets on reconnect, so updates are treated as unsequenced.
type OkxAdapter struct {
	http      *provider.HTTPClient
	streamURL string
}

func NewOkxAdapter(opts Options) *OkxAdapter {
	restURL := defaultRESTURL
	if opts.RESTBaseURL != "" {
		restURL = opts.RESTBaseURL
	}
	streamURL := defaultStreamURL
	if opts.StreamURL != "" {
		streamURL = opts.StreamURL
	}
	return &OkxAdapter{
		http:      provider.NewHTTPClient(restURL, opts.Limiter),
		streamURL: streamURL,
	}
}

func (o *OkxAdapter) ID() string { return ID }

func (o *OkxAdapter) Endpoint(context.Context, *domain.MarketSymbol) (string, error) {
	return o.streamURL, nil
}

type channelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type opMessage struct {
	Op   string       `json:"op"`
	Args []channelArg `json:"args"`
}

func instID(pair *domain.MarketSymbol) string {
	return pair.Upper("-")
}

func (o *OkxAdapter) SubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	return marshal(opMessage{Op: "subscribe", Args: []channelArg{{Channel: "books", InstID: instID(pair)}}})
}

func (o *OkxAdapter) UnsubscribeMessage(pair *domain.MarketSymbol, _ decimal.Decimal) []byte {
	return marshal(opMessage{Op: "unsubscribe", Args: []channelArg{{Channel: "books", InstID: instID(pair)}}})
}

func (o *OkxAdapter) Heartbeat() domain.Heartbeat {
	return domain.Heartbeat{
		Message:  func() []byte { return []byte("ping") },
		Interval: heartbeatEvery,
	}
}

type bookMessage struct {
	Arg    *channelArg `json:"arg"`
	Action string      `json:"action"`
	Data   []struct {
		// [price, size, liquidatedOrders, numOrders]
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"data"`
}

func (o *OkxAdapter) Parse(raw []byte) (*domain.OrderBookUpdate, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return nil, nil
	}

	var msg bookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book message: %w", err)
	}
	// subscribe acks and error events carry no data
	if msg.Arg == nil || msg.Arg.Channel != "books" || len(msg.Data) == 0 {
		return nil, nil
	}

	book := msg.Data[0]
	if msg.Action == "snapshot" {
		return domain.NewSnapshot(book.Bids, book.Asks, 0), nil
	}
	return domain.NewDelta(book.Bids, book.Asks, 0, 0), nil
}

type response[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

type instrument struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
}

type ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

// FetchNativeTick returns zero values for whichever half the venue rejects.
func (o *OkxAdapter) FetchNativeTick(ctx context.Context, pair *domain.MarketSymbol) (domain.NativeTick, error) {
	id := instID(pair)

	var instruments response[instrument]
	if err := o.http.GetJSON(ctx, "/api/v5/public/instruments", url.Values{"instType": {"SPOT"}, "instId": {id}}, &instruments); err != nil {
		return domain.NativeTick{}, fmt.Errorf("okx: instruments %s: %w", id, err)
	}
	var tickers response[ticker]
	if err := o.http.GetJSON(ctx, "/api/v5/market/ticker", url.Values{"instId": {id}}, &tickers); err != nil {
		return domain.NativeTick{}, fmt.Errorf("okx: ticker %s: %w", id, err)
	}

	var result domain.NativeTick
	if instruments.Code == codeOK && len(instruments.Data) > 0 {
		result.NativeTick, _ = decimal.NewFromString(instruments.Data[0].TickSz)
	}
	if tickers.Code == codeOK && len(tickers.Data) > 0 {
		result.Price, _ = decimal.NewFromString(tickers.Data[0].Last)
	}
	return result, nil
}

func (o *OkxAdapter) FetchAvailablePairs(ctx context.Context, quote string) ([]string, error) {
	var tickers response[ticker]
	if err := o.http.GetJSON(ctx, "/api/v5/market/tickers", url.Values{"instType": {"SPOT"}}, &tickers); err != nil {
		return nil, fmt.Errorf("okx: tickers: %w", err)
	}
	if tickers.Code != codeOK {
		return nil, nil
	}

	suffix := "-" + strings.ToUpper(quote)
	var bases []string
	for _, t := range tickers.Data {
		if strings.HasSuffix(t.InstID, suffix) {
			bases = append(bases, strings.TrimSuffix(t.InstID, suffix))
		}
	}
	return bases, nil
}

// marshal returns nil on failure; a nil message is never sent.
func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
