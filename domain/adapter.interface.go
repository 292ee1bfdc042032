package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Adapter translates one market-data source into canonical updates.
// A zero level means the source's native (unaggregated) book.
type Adapter interface {
	ID() string
	// Endpoint resolves the websocket URL; some sources need a REST round trip for a token.
	Endpoint(ctx context.Context, pair *MarketSymbol) (string, error)
	// SubscribeMessage and UnsubscribeMessage return nil when the source needs none.
	SubscribeMessage(pair *MarketSymbol, level decimal.Decimal) []byte
	UnsubscribeMessage(pair *MarketSymbol, level decimal.Decimal) []byte
	// Parse returns nil, nil for control frames (acks, pongs, welcome messages).
	Parse(raw []byte) (*OrderBookUpdate, error)
	FetchAvailablePairs(ctx context.Context, quote string) ([]string, error)
}

type Heartbeat struct {
	Message  func() []byte
	Interval time.Duration
}

type HeartbeatProvider interface {
	Heartbeat() Heartbeat
}

type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, pair *MarketSymbol) (*OrderBookUpdate, error)
}

type NativeTick struct {
	NativeTick decimal.Decimal
	Price      decimal.Decimal
}

type NativeTickFetcher interface {
	FetchNativeTick(ctx context.Context, pair *MarketSymbol) (NativeTick, error)
}

type AggregationLevels struct {
	NativeTick decimal.Decimal
	Levels     []decimal.Decimal
}

type ServerAggregationFetcher interface {
	FetchServerAggregationLevels(ctx context.Context, pair *MarketSymbol) (AggregationLevels, error)
}

// Capabilities is the optional half of an adapter, resolved once. Nil fields are unsupported.
type Capabilities struct {
	Heartbeat         *Heartbeat
	Snapshot          SnapshotFetcher
	NativeTick        NativeTickFetcher
	ServerAggregation ServerAggregationFetcher
}

func CapabilitiesOf(a Adapter) Capabilities {
	var c Capabilities
	if hb, ok := a.(HeartbeatProvider); ok {
		h := hb.Heartbeat()
		if h.Message != nil && h.Interval > 0 {
			c.Heartbeat = &h
		}
	}
	if s, ok := a.(SnapshotFetcher); ok {
		c.Snapshot = s
	}
	if n, ok := a.(NativeTickFetcher); ok {
		c.NativeTick = n
	}
	if l, ok := a.(ServerAggregationFetcher); ok {
		c.ServerAggregation = l
	}
	return c
}
