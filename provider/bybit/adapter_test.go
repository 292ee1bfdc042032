package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcusdt(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)
	return symbol
}

func TestBybitAdapter_Messages(t *testing.T) {
	a := NewBybitAdapter(Options{})

	assert.JSONEq(t, `{"op":"subscribe","args":["orderbook.200.BTCUSDT"]}`, string(a.SubscribeMessage(btcusdt(t), decimal.Zero)))
	assert.JSONEq(t, `{"op":"unsubscribe","args":["orderbook.200.BTCUSDT"]}`, string(a.UnsubscribeMessage(btcusdt(t), decimal.Zero)))

	caps := domain.CapabilitiesOf(a)
	require.NotNil(t, caps.Heartbeat)
	assert.JSONEq(t, `{"op":"ping"}`, string(caps.Heartbeat.Message()))
	assert.Equal(t, heartbeatEvery, caps.Heartbeat.Interval)
	assert.NotNil(t, caps.NativeTick)
	assert.Nil(t, caps.Snapshot)
	assert.Nil(t, caps.ServerAggregation)
}

func TestBybitAdapter_Parse(t *testing.T) {
	a := NewBybitAdapter(Options{})

	upd, err := a.Parse([]byte(`{"topic":"orderbook.200.BTCUSDT","type":"snapshot","ts":1,
		"data":{"s":"BTCUSDT","b":[["65000.1","0.5"]],"a":[["65000.2","1.25"]],"u":10,"seq":100}}`))
	require.NoError(t, err)
	require.NotNil(t, upd)
	assert.True(t, upd.IsSnapshot())
	assert.Equal(t, []domain.PriceLevel{{Price: "65000.1", Qty: "0.5"}}, upd.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: "65000.2", Qty: "1.25"}}, upd.Asks)

	upd, err = a.Parse([]byte(`{"topic":"orderbook.200.BTCUSDT","type":"delta",
		"data":{"s":"BTCUSDT","b":[["65000.1","0"]],"a":[]}}`))
	require.NoError(t, err)
	require.NotNil(t, upd)
	assert.False(t, upd.IsSnapshot())
	assert.Equal(t, []domain.PriceLevel{{Price: "65000.1", Qty: "0"}}, upd.Bids)

	upd, err = a.Parse([]byte(`{"success":true,"ret_msg":"pong","op":"ping"}`))
	assert.NoError(t, err)
	assert.Nil(t, upd)

	upd, err = a.Parse([]byte(`{"topic":"tickers.BTCUSDT","data":{"s":"BTCUSDT"}}`))
	assert.NoError(t, err)
	assert.Nil(t, upd)

	_, err = a.Parse([]byte(`{"topic":`))
	assert.Error(t, err)
}

func TestBybitAdapter_REST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		switch r.URL.Path {
		case "/v5/market/instruments-info":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot",
				"list":[{"symbol":"BTCUSDT","priceFilter":{"tickSize":"0.01"}}]}}`))
		case "/v5/market/tickers":
			if r.URL.Query().Get("symbol") == "" {
				_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot",
					"list":[{"symbol":"BTCUSDT","lastPrice":"65000"},{"symbol":"ETHUSDT","lastPrice":"3000"},{"symbol":"ETHBTC","lastPrice":"0.05"}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot",
				"list":[{"symbol":"BTCUSDT","lastPrice":"65000.5"}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewBybitAdapter(Options{RESTBaseURL: srv.URL})

	tick, err := a.FetchNativeTick(context.Background(), btcusdt(t))
	require.NoError(t, err)
	assert.Equal(t, "0.01", tick.NativeTick.String())
	assert.Equal(t, "65000.5", tick.Price.String())

	pairs, err := a.FetchAvailablePairs(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, pairs)
}

func TestBybitAdapter_RESTRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"retCode": 10001, "retMsg": "params error", "result": map[string]any{}})
	}))
	defer srv.Close()

	a := NewBybitAdapter(Options{RESTBaseURL: srv.URL})

	_, err := a.FetchNativeTick(context.Background(), btcusdt(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retCode 10001")
}
