package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/config"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
)

// OrderBookSnapshotUseCase keeps one running session per (provider, symbol) and starts them on first use.
type OrderBookSnapshotUseCase struct {
	connManager *provider.ConnectionManager
	cfg         config.SessionConfig
	storage     *domain.OrderBookStorage[*OrderBookSession]
	log         *logger.Entry
}

func NewOrderBookSnapshotUseCase(
	connManager *provider.ConnectionManager, cfg config.SessionConfig,
) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{
		connManager: connManager,
		cfg:         cfg,
		storage:     domain.NewOrderBookStorage[*OrderBookSession](),
		log:         logger.GetLogger().WithComponent("orderbook-snapshot-usecase"),
	}
}

// GetOrderBookSnapshot returns the latest frame of the local order book. The first call for a
// pair starts its session and returns an empty, connecting frame.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	provider string, symbol *domain.MarketSymbol,
) (Frame, error) {
	session, err := o.session(provider, symbol)
	if err != nil {
		return Frame{}, err
	}

	if frame, ok := session.Latest(); ok && frame.Symbol == symbol.String() {
		return frame, nil
	}
	return Frame{
		Provider:  provider,
		Symbol:    symbol.String(),
		View:      domain.EmptyView(),
		Timestamp: time.Now(),
		Status:    domain.StatusConnecting,
	}, nil
}

// Watch subscribes to every frame of the pair, starting its session if needed.
func (o *OrderBookSnapshotUseCase) Watch(provider string, symbol *domain.MarketSymbol) (domain.Subscription[Frame], error) {
	session, err := o.session(provider, symbol)
	if err != nil {
		return domain.Subscription[Frame]{}, err
	}
	sub := session.Subscribe()
	sub.Topic = provider + ":" + symbol.String()
	return sub, nil
}

// SetPaused gates flush delivery of the pair's session. Sessions are shared, so every
// watcher of the pair is paused, not only the caller.
func (o *OrderBookSnapshotUseCase) SetPaused(provider string, symbol *domain.MarketSymbol, paused bool) error {
	session, err := o.storage.Get(provider, symbol)
	if err != nil {
		return fmt.Errorf("set paused %s %s: %w", provider, symbol, err)
	}
	return session.SetPaused(paused)
}

func (o *OrderBookSnapshotUseCase) SetTick(provider string, symbol *domain.MarketSymbol, tick decimal.Decimal) error {
	session, err := o.storage.Get(provider, symbol)
	if err != nil {
		return fmt.Errorf("set tick %s %s: %w", provider, symbol, err)
	}
	return session.SetTick(tick)
}

// Close stops the pair's session. Reports whether one was running.
func (o *OrderBookSnapshotUseCase) Close(provider string, symbol *domain.MarketSymbol) bool {
	session, ok := o.storage.Remove(provider, symbol)
	if !ok {
		return false
	}
	session.Stop()
	o.log.WithFields(logger.Fields{"provider": provider, "symbol": symbol.String()}).Info("order book session closed")
	return true
}

// CloseIfIdle stops the pair's session once nobody watches it. Reports whether it was stopped.
func (o *OrderBookSnapshotUseCase) CloseIfIdle(provider string, symbol *domain.MarketSymbol) bool {
	session, err := o.storage.Get(provider, symbol)
	if err != nil || session.SubscriberCount() > 0 {
		return false
	}
	return o.Close(provider, symbol)
}

func (o *OrderBookSnapshotUseCase) CloseAll() {
	sessions := o.storage.Drain()
	for _, s := range sessions {
		s.Stop()
	}
	o.log.WithFields(logger.Fields{"sessions": len(sessions)}).Info("all order book sessions closed")
}

// ListPairs returns the base assets the provider lists against quote.
func (o *OrderBookSnapshotUseCase) ListPairs(ctx context.Context, provider string, quote string) ([]string, error) {
	adapter, err := o.connManager.Adapter(provider)
	if err != nil {
		return nil, err
	}
	pairs, err := adapter.FetchAvailablePairs(ctx, quote)
	if err != nil {
		return nil, fmt.Errorf("list pairs %s %s: %w", provider, quote, err)
	}
	return pairs, nil
}

// ActiveSessions returns the number of running sessions for provider.
func (o *OrderBookSnapshotUseCase) ActiveSessions(provider string) int {
	if n := o.storage.OrderBookCount(provider); n > 0 {
		return n
	}
	return 0
}

func (o *OrderBookSnapshotUseCase) session(provider string, symbol *domain.MarketSymbol) (*OrderBookSession, error) {
	if !o.connManager.IsSupportedProvider(provider) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, provider)
	}
	if symbol == nil {
		return nil, fmt.Errorf("symbol is required")
	}

	var selectErr error
	session, loaded := o.storage.LoadOrAdd(provider, symbol, func() *OrderBookSession {
		s := NewOrderBookSession(o.connManager, o.cfg)
		selectErr = s.Select(provider, symbol)
		return s
	})
	if selectErr != nil {
		o.storage.Remove(provider, symbol)
		session.Stop()
		return nil, selectErr
	}

	if !loaded {
		o.log.WithFields(logger.Fields{
			"provider": provider,
			"symbol":   symbol.String(),
			"session":  session.ID,
		}).Info("order book session started")
	}
	return session, nil
}
