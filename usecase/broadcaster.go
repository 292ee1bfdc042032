package usecase

import (
	"sync"

	"github.com/spooky-finn/go-orderbook-mirror/domain"
)

// Broadcaster fans values out to subscribers. Every value is a complete state, so a slow
// subscriber has its oldest undelivered value replaced instead of blocking the publisher.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	buffer    int
	subs      map[uint64]chan T
	next      uint64
	latest    T
	hasLatest bool
	closed    bool
}

func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster[T]{
		buffer: buffer,
		subs:   make(map[uint64]chan T),
	}
}

// Subscribe starts a feed primed with the latest value, if any.
func (b *Broadcaster[T]) Subscribe(topic string) domain.Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return domain.Subscription[T]{Stream: ch, Unsubscribe: func() {}, Topic: topic}
	}
	if b.hasLatest {
		ch <- b.latest
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return domain.Subscription[T]{
		Stream: ch,
		Unsubscribe: func() {
			once.Do(func() { b.remove(id) })
		},
		Topic: topic,
	}
}

func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = v
	b.hasLatest = true

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// only Publish sends, under the lock, so after one receive the send cannot block
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later Publish calls are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
