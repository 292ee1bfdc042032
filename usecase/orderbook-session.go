package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/config"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	promclient "github.com/spooky-finn/go-orderbook-mirror/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
)

var ErrSessionStopped = errors.New("session stopped")

// Frame is what a consumer receives on every flush or status transition.
type Frame struct {
	Provider    string                  `json:"provider"`
	Symbol      string                  `json:"symbol"`
	View        domain.OrderbookView    `json:"view"`
	Timestamp   time.Time               `json:"timestamp"`
	Status      domain.ConnectionStatus `json:"status"`
	TickOptions []decimal.Decimal       `json:"tickOptions"`
	TickSize    decimal.Decimal         `json:"tickSize"`
	// ServerAggregated is set when TickSize is applied by the source rather than locally.
	ServerAggregated bool `json:"serverAggregated"`
}

// OrderBookSession keeps one local order book in sync with one (provider, symbol) selection.
// A single loop goroutine owns the book, the maintainer, the scheduler and the view builder;
// the exported methods only enqueue commands for it.
type OrderBookSession struct {
	ID string

	connManager *provider.ConnectionManager
	cfg         config.SessionConfig
	log         *logger.Entry

	commands chan func()
	results  chan fetchResult
	frames   *Broadcaster[Frame]

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// loop-owned state below
	gen       int
	sel       *selection
	scheduler *FlushScheduler
	status    domain.ConnectionStatus
	lastView  domain.OrderbookView
}

type selection struct {
	gen     int
	adapter domain.Adapter
	caps    domain.Capabilities
	pair    *domain.MarketSymbol
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logger.Entry

	stream *provider.StreamClient
	events <-chan provider.StreamEvent
	opened bool

	book       *domain.OrderBook
	maintainer *domain.OrderbookMaintainer
	view       *domain.ViewBuilder

	snapshotSeq    int
	snapshotCancel context.CancelFunc

	tickOptions      []decimal.Decimal
	tickSize         decimal.Decimal
	nativeTick       decimal.Decimal
	serverAggregated bool
	serverLevel      decimal.Decimal
	tickChosen       bool
	discovering      bool
}

// fetchResult carries the outcome of an asynchronous fetch back to the loop. apply runs on the
// loop only if the selection that started the fetch is still current.
type fetchResult struct {
	gen   int
	apply func()
}

func NewOrderBookSession(connManager *provider.ConnectionManager, cfg config.SessionConfig) *OrderBookSession {
	id := uuid.NewString()
	s := &OrderBookSession{
		ID:          id,
		connManager: connManager,
		cfg:         cfg,
		log:         logger.GetLogger().WithComponent("orderbook-session").WithFields(logger.Fields{"session": id}),
		commands:    make(chan func(), 16),
		results:     make(chan fetchResult, 16),
		frames:      NewBroadcaster[Frame](cfg.SubscriberBuffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		scheduler:   NewFlushScheduler(cfg.RefreshInterval),
		status:      domain.StatusDisconnected,
		lastView:    domain.EmptyView(),
	}
	go s.loop()
	return s
}

// Select switches the session to a new (provider, symbol). Everything tied to the previous
// selection, in-flight fetches included, is discarded.
func (s *OrderBookSession) Select(providerID string, pair *domain.MarketSymbol) error {
	adapter, err := s.connManager.Adapter(providerID)
	if err != nil {
		return err
	}
	if pair == nil {
		return fmt.Errorf("symbol is required")
	}
	return s.do(func() { s.selectPair(adapter, pair) })
}

// SetTick changes the display grouping. For server-aggregated sources this resubscribes.
func (s *OrderBookSession) SetTick(tick decimal.Decimal) error {
	if tick.IsNegative() {
		return fmt.Errorf("tick size must not be negative")
	}
	return s.do(func() { s.setTick(tick) })
}

func (s *OrderBookSession) SetPaused(paused bool) error {
	return s.do(func() {
		s.scheduler.SetPaused(paused)
		s.log.WithFields(logger.Fields{"paused": paused}).Debug("flush delivery toggled")
	})
}

func (s *OrderBookSession) Subscribe() domain.Subscription[Frame] {
	topic := ""
	if f, ok := s.frames.Latest(); ok {
		topic = f.Provider + ":" + f.Symbol
	}
	return s.frames.Subscribe(topic)
}

func (s *OrderBookSession) Latest() (Frame, bool) {
	return s.frames.Latest()
}

// SubscriberCount is the number of open subscriptions.
func (s *OrderBookSession) SubscriberCount() int {
	return s.frames.SubscriberCount()
}

// Stop disconnects the transport, cancels fetches and closes every subscription.
func (s *OrderBookSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// do runs fn on the loop and returns once it has run. A command the loop never reaches
// because the session stopped reports ErrSessionStopped.
func (s *OrderBookSession) do(fn func()) error {
	select {
	case <-s.done:
		return ErrSessionStopped
	default:
	}

	ran := make(chan struct{})
	cmd := func() {
		fn()
		close(ran)
	}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrSessionStopped
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrSessionStopped
		}
	}
}

func (s *OrderBookSession) loop() {
	defer close(s.done)
	defer s.frames.Close()
	defer s.scheduler.Stop()
	defer s.teardown()

	for {
		var events <-chan provider.StreamEvent
		if s.sel != nil {
			events = s.sel.events
		}

		select {
		case <-s.stop:
			return
		case fn := <-s.commands:
			fn()
		case ev, ok := <-events:
			if !ok {
				s.sel.events = nil
				continue
			}
			s.handleEvent(ev)
		case res := <-s.results:
			if s.sel == nil || res.gen != s.sel.gen || s.sel.ctx.Err() != nil {
				continue
			}
			res.apply()
		case <-s.scheduler.C():
			if s.scheduler.Fire() {
				s.flush()
			}
		}
	}
}

func (s *OrderBookSession) selectPair(adapter domain.Adapter, pair *domain.MarketSymbol) {
	s.teardown()

	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	sel := &selection{
		gen:     s.gen,
		adapter: adapter,
		caps:    domain.CapabilitiesOf(adapter),
		pair:    pair,
		ctx:     ctx,
		cancel:  cancel,
		log:     s.log.WithFields(logger.Fields{"provider": adapter.ID(), "symbol": pair.String()}),
	}
	sel.book = domain.NewOrderBook(adapter.ID(), pair)
	sel.book.SetPruneTarget(s.cfg.PruneTarget)
	sel.maintainer = domain.NewOrderBookMaintainer(sel.book, nil, sel.caps.Snapshot != nil)
	sel.view = domain.NewViewBuilder(s.cfg.Depth)
	s.sel = sel

	s.scheduler.Reset()
	s.lastView = domain.EmptyView()
	promclient.OpenOrderBookGauge.WithLabelValues(adapter.ID()).Inc()

	sel.log.Info("selection changed")
	s.setStatus(domain.StatusConnecting)

	s.connect(decimal.Zero)
	s.discover()
}

// teardown releases the current selection. Safe to call with none.
func (s *OrderBookSession) teardown() {
	sel := s.sel
	if sel == nil {
		return
	}
	s.sel = nil

	if sel.stream != nil {
		sel.stream.Disconnect()
	}
	sel.cancel()
	promclient.OpenOrderBookGauge.WithLabelValues(sel.adapter.ID()).Dec()
	s.setStatus(domain.StatusDisconnected)
}

func (s *OrderBookSession) connect(level decimal.Decimal) {
	sel := s.sel
	if sel.stream != nil {
		sel.stream.Disconnect()
	}
	sel.serverLevel = level
	sel.opened = false
	sel.stream = s.connManager.StreamFor(sel.adapter, sel.pair, level)
	sel.events = sel.stream.Connect(sel.ctx)
}

func (s *OrderBookSession) handleEvent(ev provider.StreamEvent) {
	sel := s.sel

	switch ev.Kind {
	case provider.EventOpen:
		s.setStatus(domain.StatusConnected)
		reopened := sel.opened
		sel.opened = true
		if sel.caps.Snapshot == nil {
			return
		}
		if reopened && !sel.book.IsEmpty() {
			sel.log.Info("stream reopened, resyncing from a fresh snapshot")
			s.resetBook()
		}
		s.requestSnapshot()

	case provider.EventMessage:
		update, err := sel.adapter.Parse(ev.Data)
		if err != nil {
			sel.log.WithError(err).Debug("dropping malformed frame")
			return
		}
		if update == nil {
			return
		}
		s.process(update)

	case provider.EventClose:
		s.setStatus(domain.StatusDisconnected)

	case provider.EventError:
		sel.log.WithError(ev.Err).Warn("stream error")
		s.setStatus(domain.StatusError)

	case provider.EventReconnecting:
		promclient.ReconnectCounter.WithLabelValues(sel.adapter.ID()).Inc()
		s.setStatus(domain.StatusConnecting)

	case provider.EventTerminal:
		sel.log.WithFields(logger.Fields{"attempts": ev.Attempt}).Error("stream gave up reconnecting")
		s.setStatus(domain.StatusError)
	}
}

func (s *OrderBookSession) process(update *domain.OrderBookUpdate) {
	sel := s.sel

	outcome := sel.maintainer.Process(update)
	if config.DebugMode {
		sel.log.WithFields(logger.Fields{
			"kind":    update.Kind.String(),
			"start":   update.SequenceStart,
			"end":     update.SequenceEnd,
			"outcome": outcome.String(),
		}).Debug("update processed")
	}

	switch outcome {
	case domain.OutcomeApplied:
		promclient.UpdatesAppliedCounter.WithLabelValues(sel.adapter.ID()).Inc()
		s.scheduler.MarkDirty()
	case domain.OutcomeNeedSnapshot:
		promclient.SequenceGapCounter.WithLabelValues(sel.adapter.ID()).Inc()
		sel.log.WithFields(logger.Fields{
			"last_applied": sel.maintainer.LastAppliedSeq(),
			"start":        update.SequenceStart,
		}).Warn("sequence gap detected, resyncing")
		s.requestSnapshot()
	}
}

func (s *OrderBookSession) resetBook() {
	sel := s.sel
	if sel.snapshotCancel != nil {
		sel.snapshotCancel()
		sel.snapshotCancel = nil
	}
	sel.snapshotSeq++
	sel.maintainer.Reset()
	sel.view.Reset()
	s.scheduler.MarkDirty()
}

// requestSnapshot starts a snapshot fetch unless one for the current buffering cycle is running.
// The fetch is retried once after SnapshotRetryDelay; a second failure degrades to applying
// the buffered deltas without a baseline.
func (s *OrderBookSession) requestSnapshot() {
	sel := s.sel
	if sel.caps.Snapshot == nil || sel.snapshotCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(sel.ctx)
	sel.snapshotCancel = cancel
	seq := sel.snapshotSeq
	fetcher, pair, id := sel.caps.Snapshot, sel.pair, sel.adapter.ID()

	done := func() {
		if sel.snapshotSeq == seq {
			sel.snapshotCancel = nil
		}
		cancel()
	}

	go func() {
		snapshot, err := retryOnce(ctx, s.cfg.SnapshotRetryDelay, func() (*domain.OrderBookUpdate, error) {
			snapshot, err := fetcher.FetchSnapshot(ctx, pair)
			if err != nil && ctx.Err() == nil {
				promclient.SnapshotFetchCounter.WithLabelValues(id, "retry").Inc()
				sel.log.WithError(err).Warn("snapshot fetch failed")
			}
			return snapshot, err
		})

		s.deliver(ctx, sel.gen, func() {
			if sel.snapshotSeq != seq {
				return
			}
			done()
			if err != nil {
				promclient.SnapshotFetchCounter.WithLabelValues(id, "failed").Inc()
				n := sel.maintainer.SnapshotFailed()
				sel.log.WithError(err).WithFields(logger.Fields{"applied": n}).Error("snapshot unavailable, applying buffered updates without a baseline")
				s.scheduler.MarkDirty()
				return
			}
			promclient.SnapshotFetchCounter.WithLabelValues(id, "ok").Inc()
			n := sel.maintainer.ApplySnapshot(snapshot)
			sel.view.Reset()
			sel.log.WithFields(logger.Fields{
				"last_update_id": snapshot.SequenceEnd,
				"replayed":       n,
			}).Info("order book synced from snapshot")
			s.scheduler.MarkDirty()
		})
	}()
}

// discover resolves tick options. Failures only narrow the options offered.
func (s *OrderBookSession) discover() {
	sel := s.sel
	pair := sel.pair

	switch {
	case sel.caps.ServerAggregation != nil:
		sel.discovering = true
		fetcher := sel.caps.ServerAggregation
		go func() {
			levels, err := retryOnce(sel.ctx, s.cfg.DiscoveryRetryDelay, func() (domain.AggregationLevels, error) {
				return fetcher.FetchServerAggregationLevels(sel.ctx, pair)
			})
			s.deliver(sel.ctx, sel.gen, func() {
				sel.discovering = false
				if err != nil || levels.NativeTick.IsZero() {
					sel.log.WithError(err).Warn("server aggregation levels unavailable, falling back to client-side ticks")
					return
				}
				sel.serverAggregated = true
				sel.nativeTick = levels.NativeTick
				sel.tickOptions = append([]decimal.Decimal{levels.NativeTick}, levels.Levels...)
				if !sel.tickChosen || !domain.ContainsTick(sel.tickOptions, sel.tickSize) {
					sel.tickSize = levels.NativeTick
				}
				if !sel.tickSize.Equal(levels.NativeTick) {
					s.resubscribe(sel.tickSize)
				}
				s.publish()
			})
		}()

	case sel.caps.NativeTick != nil:
		sel.discovering = true
		fetcher := sel.caps.NativeTick
		go func() {
			native, err := fetcher.FetchNativeTick(sel.ctx, pair)
			s.deliver(sel.ctx, sel.gen, func() {
				sel.discovering = false
				if err != nil {
					sel.log.WithError(err).Warn("native tick unavailable")
					return
				}
				sel.nativeTick = native.NativeTick
				price := native.Price
				if price.IsZero() {
					if bid, ok := sel.book.BestBid(); ok {
						price = bid
					}
				}
				if price.IsZero() {
					return
				}
				s.applyTickOptions(domain.TickOptionsFrom(native.NativeTick, price, pair.Quote()))
			})
		}()
	}
}

func (s *OrderBookSession) applyTickOptions(options []decimal.Decimal) {
	sel := s.sel
	if len(options) == 0 {
		return
	}
	sel.tickOptions = options
	if !sel.tickChosen || !domain.ContainsTick(options, sel.tickSize) {
		sel.tickSize = options[0]
		sel.view.Reset()
	}
	s.scheduler.MarkDirty()
	s.publish()
}

func (s *OrderBookSession) setTick(tick decimal.Decimal) {
	sel := s.sel
	if sel == nil {
		return
	}
	sel.tickChosen = true

	if sel.serverAggregated {
		if !domain.ContainsTick(sel.tickOptions, tick) {
			sel.log.WithFields(logger.Fields{"tick": tick.String()}).Warn("unsupported aggregation level")
			return
		}
		if tick.Equal(sel.tickSize) {
			return
		}
		sel.tickSize = tick
		s.resubscribe(tick)
		s.publish()
		return
	}

	sel.tickSize = tick
	sel.view.Reset()
	s.scheduler.MarkDirty()
	s.publish()
}

// resubscribe reconnects with a new server-side level. Native means level 0.
func (s *OrderBookSession) resubscribe(tick decimal.Decimal) {
	sel := s.sel
	level := tick
	if tick.Equal(sel.nativeTick) {
		level = decimal.Zero
	}
	if level.Equal(sel.serverLevel) && sel.stream != nil {
		return
	}

	sel.log.WithFields(logger.Fields{"level": level.String()}).Info("resubscribing with server-side aggregation level")
	s.resetBook()
	s.setStatus(domain.StatusConnecting)
	s.connect(level)
}

func (s *OrderBookSession) flush() {
	sel := s.sel
	if sel == nil {
		return
	}

	// without discovered options the ladder is derived from the first observed price
	if len(sel.tickOptions) == 0 && !sel.discovering && !sel.serverAggregated {
		if bid, ok := sel.book.BestBid(); ok {
			sel.tickOptions = domain.TickOptionsFrom(sel.nativeTick, bid, sel.pair.Quote())
		}
	}

	view, repair := sel.view.Build(sel.book, s.clientTick())
	if repair.Crossed {
		promclient.CrossedRepairCounter.WithLabelValues(sel.adapter.ID()).Inc()
		sel.log.WithFields(logger.Fields{
			"pruned_side": repair.PrunedSide.String(),
			"removed":     repair.Removed,
		}).Debug("crossed book repaired")
	}
	s.lastView = view
	promclient.FlushCounter.WithLabelValues(sel.adapter.ID()).Inc()
	s.publish()
}

// clientTick is zero when grouping happens server side.
func (s *OrderBookSession) clientTick() decimal.Decimal {
	if s.sel == nil || s.sel.serverAggregated {
		return decimal.Zero
	}
	return s.sel.tickSize
}

func (s *OrderBookSession) setStatus(status domain.ConnectionStatus) {
	if s.status == status {
		return
	}
	s.status = status
	if s.sel != nil {
		s.sel.log.WithFields(logger.Fields{"status": status.String()}).Info("connection status changed")
	}
	s.publish()
}

func (s *OrderBookSession) publish() {
	frame := Frame{
		View:      s.lastView,
		Timestamp: time.Now(),
		Status:    s.status,
	}
	if sel := s.sel; sel != nil {
		frame.Provider = sel.adapter.ID()
		frame.Symbol = sel.pair.String()
		frame.TickOptions = append([]decimal.Decimal(nil), sel.tickOptions...)
		frame.TickSize = sel.tickSize
		frame.ServerAggregated = sel.serverAggregated
	}
	s.frames.Publish(frame)
}

// deliver hands a fetch result to the loop, giving up once the selection is gone.
func (s *OrderBookSession) deliver(ctx context.Context, gen int, apply func()) {
	select {
	case s.results <- fetchResult{gen: gen, apply: apply}:
	case <-ctx.Done():
	case <-s.done:
	}
}

func retryOnce[T any](ctx context.Context, delay time.Duration, fetch func() (T, error)) (T, error) {
	v, err := fetch()
	if err == nil || ctx.Err() != nil {
		return v, err
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-timer.C:
	}
	return fetch()
}
