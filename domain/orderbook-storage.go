package domain

import (
	"errors"
	"sync"
)

var ErrOrderBookNotFound = errors.New("order book not found")
var ErrProviderNotFound = errors.New("provider not found")

// OrderBookStorage indexes values (sessions, books) by provider and symbol. Safe for concurrent use.
type OrderBookStorage[T any] struct {
	mu      sync.RWMutex
	storage map[string]map[string]T
}

func NewOrderBookStorage[T any]() *OrderBookStorage[T] {
	return &OrderBookStorage[T]{
		storage: make(map[string]map[string]T),
	}
}

func (o *OrderBookStorage[T]) Add(provider string, symbol *MarketSymbol, value T) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.storage[provider]; !ok {
		o.storage[provider] = make(map[string]T)
	}

	o.storage[provider][symbol.String()] = value
}

func (o *OrderBookStorage[T]) Get(provider string, symbol *MarketSymbol) (T, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var zero T
	if _, ok := o.storage[provider]; !ok {
		return zero, ErrProviderNotFound
	}

	value, ok := o.storage[provider][symbol.String()]
	if !ok {
		return zero, ErrOrderBookNotFound
	}

	return value, nil
}

// LoadOrAdd returns the stored value or stores the one built by create. create runs under the lock.
func (o *OrderBookStorage[T]) LoadOrAdd(provider string, symbol *MarketSymbol, create func() T) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.storage[provider]; !ok {
		o.storage[provider] = make(map[string]T)
	}
	if value, ok := o.storage[provider][symbol.String()]; ok {
		return value, true
	}

	value := create()
	o.storage[provider][symbol.String()] = value
	return value, false
}

func (o *OrderBookStorage[T]) Remove(provider string, symbol *MarketSymbol) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var zero T
	value, ok := o.storage[provider][symbol.String()]
	if !ok {
		return zero, false
	}
	delete(o.storage[provider], symbol.String())
	if len(o.storage[provider]) == 0 {
		delete(o.storage, provider)
	}
	return value, true
}

// OrderBookCount returns -1 for an unknown provider.
func (o *OrderBookStorage[T]) OrderBookCount(provider string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if _, ok := o.storage[provider]; !ok {
		return -1
	}

	return len(o.storage[provider])
}

// Drain removes and returns every stored value.
func (o *OrderBookStorage[T]) Drain() []T {
	o.mu.Lock()
	defer o.mu.Unlock()

	var values []T
	for _, bySymbol := range o.storage {
		for _, v := range bySymbol {
			values = append(values, v)
		}
	}
	o.storage = make(map[string]map[string]T)
	return values
}
