package provider

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsServer struct {
	srv      *httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	s := &wsServer{
		received: make(chan string, 100),
		conns:    make(chan *websocket.Conn, 10),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- string(msg)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) endpoint() EndpointFunc {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	return func(context.Context) (string, error) { return url, nil }
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting on channel")
	}
	var zero T
	return zero
}

func expectKinds(t *testing.T, events <-chan StreamEvent, kinds ...EventKind) []StreamEvent {
	t.Helper()
	got := make([]StreamEvent, 0, len(kinds))
	for _, kind := range kinds {
		ev := recv(t, events)
		require.Equal(t, kind, ev.Kind, "expected %s, got %s", kind, ev.Kind)
		got = append(got, ev)
	}
	return got
}

func expectClosed(t *testing.T, events <-chan StreamEvent) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			assert.NotEqual(t, EventClose, ev.Kind, "intentional disconnect must not report a close")
		case <-timeout:
			t.Fatal("event channel was not closed")
		}
	}
}

func TestStreamClient_SubscribeAndDeliverInOrder(t *testing.T) {
	s := newWSServer(t)
	client := NewStreamClient(StreamOptions{
		Name:        "test",
		Endpoint:    s.endpoint(),
		Subscribe:   []byte("sub"),
		Unsubscribe: []byte("unsub"),
	})

	events := client.Connect(context.Background())
	expectKinds(t, events, EventOpen)
	assert.Equal(t, "sub", recv(t, s.received))
	assert.Equal(t, StateOpen, client.State())

	conn := recv(t, s.conns)
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	got := expectKinds(t, events, EventMessage, EventMessage, EventMessage)
	assert.Equal(t, "a", string(got[0].Data))
	assert.Equal(t, "b", string(got[1].Data))
	assert.Equal(t, "c", string(got[2].Data))

	client.Disconnect()
	assert.Equal(t, "unsub", recv(t, s.received))
	expectClosed(t, events)
	assert.Equal(t, StateIdle, client.State())

	// idempotent
	client.Disconnect()
}

func TestStreamClient_DisconnectBoundedByWriteTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	opened := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		opened <- struct{}{}
		// never reads, so the client's send buffer fills up
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewStreamClient(StreamOptions{
		Endpoint:     func(context.Context) (string, error) { return url, nil },
		Unsubscribe:  bytes.Repeat([]byte("x"), 32<<20),
		WriteTimeout: 50 * time.Millisecond,
	})

	events := client.Connect(context.Background())
	expectKinds(t, events, EventOpen)
	recv(t, opened)

	start := time.Now()
	client.Disconnect()
	assert.Less(t, time.Since(start), 2*time.Second)
	expectClosed(t, events)
	assert.Equal(t, StateIdle, client.State())
}

func TestStreamClient_Heartbeat(t *testing.T) {
	s := newWSServer(t)
	client := NewStreamClient(StreamOptions{
		Endpoint: s.endpoint(),
		Heartbeat: &domain.Heartbeat{
			Message:  func() []byte { return []byte("ping") },
			Interval: 10 * time.Millisecond,
		},
	})
	defer client.Disconnect()

	events := client.Connect(context.Background())
	expectKinds(t, events, EventOpen)

	assert.Equal(t, "ping", recv(t, s.received))
	assert.Equal(t, "ping", recv(t, s.received))
}

func TestStreamClient_ReconnectsAfterAbnormalClose(t *testing.T) {
	s := newWSServer(t)
	client := NewStreamClient(StreamOptions{
		Endpoint:  s.endpoint(),
		Subscribe: []byte("sub"),
		Reconnect: FixedReconnect{MaxAttempts: 3, Delay: 10 * time.Millisecond},
	})
	defer client.Disconnect()

	events := client.Connect(context.Background())
	expectKinds(t, events, EventOpen)
	conn := recv(t, s.conns)
	conn.Close()

	got := expectKinds(t, events, EventClose, EventReconnecting, EventOpen)
	assert.Equal(t, 1, got[1].Attempt)

	// resubscribes on the new connection
	assert.Equal(t, "sub", recv(t, s.received))
	assert.Equal(t, "sub", recv(t, s.received))
}

func TestStreamClient_TerminalAfterReconnectBudget(t *testing.T) {
	s := newWSServer(t)
	endpoint := s.endpoint()
	s.srv.Close()

	client := NewStreamClient(StreamOptions{
		Endpoint:  endpoint,
		Reconnect: FixedReconnect{MaxAttempts: 2, Delay: 5 * time.Millisecond},
	})
	defer client.Disconnect()

	events := client.Connect(context.Background())
	got := expectKinds(t, events,
		EventError, EventClose, EventReconnecting,
		EventError, EventClose, EventReconnecting,
		EventError, EventClose, EventTerminal,
	)
	assert.Equal(t, 1, got[2].Attempt)
	assert.Equal(t, 2, got[5].Attempt)

	_, ok := <-events
	assert.False(t, ok, "no reconnect is scheduled past the budget")
	assert.Equal(t, StateClosed, client.State())
}

func TestStreamClient_EndpointError(t *testing.T) {
	boom := errors.New("token endpoint down")
	client := NewStreamClient(StreamOptions{
		Endpoint:  func(context.Context) (string, error) { return "", boom },
		Reconnect: FixedReconnect{MaxAttempts: 0, Delay: time.Millisecond},
	})
	defer client.Disconnect()

	events := client.Connect(context.Background())
	got := expectKinds(t, events, EventError, EventClose, EventTerminal)
	assert.ErrorIs(t, got[0].Err, boom)
}

func TestStreamClient_ConnectReplacesPreviousRun(t *testing.T) {
	s := newWSServer(t)
	client := NewStreamClient(StreamOptions{Endpoint: s.endpoint()})
	defer client.Disconnect()

	first := client.Connect(context.Background())
	expectKinds(t, first, EventOpen)

	second := client.Connect(context.Background())
	expectClosed(t, first)
	expectKinds(t, second, EventOpen)
}

func TestStreamClient_ContextCancel(t *testing.T) {
	s := newWSServer(t)
	client := NewStreamClient(StreamOptions{Endpoint: s.endpoint()})
	defer client.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	events := client.Connect(ctx)
	expectKinds(t, events, EventOpen)

	cancel()
	expectClosed(t, events)
}

func TestFixedReconnect(t *testing.T) {
	p := DefaultReconnect()
	assert.Equal(t, 10, p.MaxAttempts)
	assert.Equal(t, 3000*time.Millisecond, p.Delay)

	for attempt := 0; attempt < 10; attempt++ {
		delay, ok := p.Next(attempt)
		assert.True(t, ok)
		assert.Equal(t, 3*time.Second, delay)
	}
	_, ok := p.Next(10)
	assert.False(t, ok, "the eleventh close does not schedule a reconnect")
}

func TestExponentialReconnect(t *testing.T) {
	p := NewExponentialReconnect(4, 100*time.Millisecond, time.Second, 2)

	for attempt := 0; attempt < 4; attempt++ {
		delay, ok := p.Next(attempt)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		assert.LessOrEqual(t, delay, time.Second)
	}
	_, ok := p.Next(4)
	assert.False(t, ok)
}
