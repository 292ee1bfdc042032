package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/config"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
)

// ConnectionManager resolves adapters by provider id and builds stream clients for them.
type ConnectionManager struct {
	adapters  map[string]domain.Adapter
	transport config.TransportConfig
	log       *logger.Entry
}

func NewConnectionManager(transport config.TransportConfig, adapters ...domain.Adapter) *ConnectionManager {
	cm := &ConnectionManager{
		adapters:  make(map[string]domain.Adapter, len(adapters)),
		transport: transport,
		log:       logger.GetLogger().WithComponent("connection-manager"),
	}
	for _, a := range adapters {
		cm.adapters[a.ID()] = a
	}
	return cm
}

// Restrict keeps only the listed provider ids. Unknown ids are reported, not fatal.
func (cm *ConnectionManager) Restrict(available []string) {
	keep := make(map[string]domain.Adapter, len(available))
	for _, id := range available {
		id = strings.ToLower(strings.TrimSpace(id))
		a, ok := cm.adapters[id]
		if !ok {
			cm.log.WithFields(logger.Fields{"provider": id}).Warn("no adapter registered for provider")
			continue
		}
		keep[id] = a
	}
	cm.adapters = keep
}

func (cm *ConnectionManager) Adapter(provider string) (domain.Adapter, error) {
	a, ok := cm.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, provider)
	}
	return a, nil
}

func (cm *ConnectionManager) IsSupportedProvider(provider string) bool {
	_, ok := cm.adapters[provider]
	return ok
}

func (cm *ConnectionManager) Providers() []string {
	ids := make([]string, 0, len(cm.adapters))
	for id := range cm.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StreamFor builds a stream client subscribed to pair at level. The client is not connected.
func (cm *ConnectionManager) StreamFor(a domain.Adapter, pair *domain.MarketSymbol, level decimal.Decimal) *StreamClient {
	caps := domain.CapabilitiesOf(a)
	return NewStreamClient(StreamOptions{
		Name: a.ID() + ":" + pair.String(),
		Endpoint: func(ctx context.Context) (string, error) {
			return a.Endpoint(ctx, pair)
		},
		Subscribe:        a.SubscribeMessage(pair, level),
		Unsubscribe:      a.UnsubscribeMessage(pair, level),
		Heartbeat:        caps.Heartbeat,
		Reconnect:        NewReconnectPolicy(cm.transport.Reconnect),
		HandshakeTimeout: cm.transport.HandshakeTimeout,
		WriteTimeout:     cm.transport.WriteTimeout,
	})
}
