package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
)

type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
	EventReconnecting
	// EventTerminal: the reconnect budget is spent, no further events follow.
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventReconnecting:
		return "reconnecting"
	case EventTerminal:
		return "terminal"
	}
	return "unknown"
}

type StreamEvent struct {
	Kind    EventKind
	Data    []byte
	Attempt int
	Err     error
}

type StreamState int

const (
	StateIdle StreamState = iota
	StateConnecting
	StateOpen
	StateClosed
)

type EndpointFunc func(ctx context.Context) (string, error)

type StreamOptions struct {
	Name        string
	Endpoint    EndpointFunc
	Subscribe   []byte
	Unsubscribe []byte
	Heartbeat   *domain.Heartbeat
	Reconnect   ReconnectPolicy
	// HandshakeTimeout defaults to 5s.
	HandshakeTimeout time.Duration
	// EventBuffer is the capacity of the event channel, default 256.
	EventBuffer int
	// WriteTimeout bounds every outgoing frame, default 5s.
	WriteTimeout time.Duration
}

// StreamClient owns one websocket connection at a time and replaces it wholesale on
// reconnect. Every Connect starts a fresh run goroutine that delivers events on its own channel.
type StreamClient struct {
	opts   StreamOptions
	dialer websocket.Dialer
	log    *logger.Entry

	mu     sync.Mutex
	state  StreamState
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func NewStreamClient(opts StreamOptions) *StreamClient {
	if opts.Reconnect == nil {
		opts.Reconnect = DefaultReconnect()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	return &StreamClient{
		opts: opts,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		log: logger.GetLogger().WithComponent("stream-client").WithFields(logger.Fields{"stream": opts.Name}),
	}
}

func (c *StreamClient) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect tears down any previous run and starts a new one. The returned channel is closed
// when the run ends, either after Disconnect or after EventTerminal.
func (c *StreamClient) Connect(ctx context.Context) <-chan StreamEvent {
	c.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan StreamEvent, c.opts.EventBuffer)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.state = StateConnecting
	c.mu.Unlock()

	go c.run(runCtx, events, done)
	return events
}

// Disconnect is an intentional close: the unsubscribe payload is sent if the connection is
// open, timers stop and no further events are delivered. Safe to call repeatedly.
func (c *StreamClient) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	if conn != nil && c.opts.Unsubscribe != nil {
		if err := c.write(conn, c.opts.Unsubscribe); err != nil {
			c.log.WithError(err).Debug("failed to send unsubscribe message")
		}
	}
	cancel()
	<-done

	c.setState(StateIdle)
}

func (c *StreamClient) run(ctx context.Context, events chan<- StreamEvent, done chan struct{}) {
	defer close(done)
	defer close(events)

	attempt := 0
	for {
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			c.serve(ctx, conn, events)
		} else if ctx.Err() == nil {
			c.log.WithError(err).Warn("dial failed")
			c.emit(ctx, events, StreamEvent{Kind: EventError, Err: err})
		}

		c.setState(StateClosed)
		if ctx.Err() != nil {
			return
		}
		c.emit(ctx, events, StreamEvent{Kind: EventClose})

		delay, ok := c.opts.Reconnect.Next(attempt)
		if !ok {
			c.log.WithFields(logger.Fields{"attempts": attempt}).Error("reconnect attempts exhausted")
			c.emit(ctx, events, StreamEvent{Kind: EventTerminal, Attempt: attempt})
			return
		}
		attempt++

		c.log.WithFields(logger.Fields{"attempt": attempt, "delay": delay.String()}).Info("reconnecting")
		if !c.emit(ctx, events, StreamEvent{Kind: EventReconnecting, Attempt: attempt}) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.opts.Endpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve endpoint: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// serve runs one open connection until it closes or ctx is cancelled.
func (c *StreamClient) serve(ctx context.Context, conn *websocket.Conn, events chan<- StreamEvent) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if !c.emit(ctx, events, StreamEvent{Kind: EventOpen}) {
		return
	}

	if c.opts.Subscribe != nil {
		if err := c.write(conn, c.opts.Subscribe); err != nil {
			c.emit(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("failed to send subscribe message: %w", err)})
		}
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	if c.opts.Heartbeat != nil {
		go c.heartbeat(hbCtx, conn, *c.opts.Heartbeat)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).Info("connection closed")
			}
			return
		}
		if !c.emit(ctx, events, StreamEvent{Kind: EventMessage, Data: msg}) {
			return
		}
	}
}

func (c *StreamClient) heartbeat(ctx context.Context, conn *websocket.Conn, hb domain.Heartbeat) {
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, hb.Message()); err != nil {
				c.log.WithError(err).Debug("failed to send heartbeat")
				return
			}
		}
	}
}

func (c *StreamClient) write(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *StreamClient) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *StreamClient) setState(s StreamState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
