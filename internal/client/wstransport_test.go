package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicesell/bridge/internal/wire"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startWsServer upgrades inbound connections, reports each request's query
// string, and discards frames until the peer disconnects.
func startWsServer(t *testing.T) (*httptest.Server, <-chan url.Values) {
	t.Helper()
	queries := make(chan url.Values, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, queries
}

func dialTestWs(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

// An endpoint that already carries query parameters keeps them; the token is
// added alongside, not appended blindly.
func TestWebsocketTransport_EndpointWithQuery(t *testing.T) {
	srv, queries := startWsServer(t)
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rtc?region=west"
	token := issueTestToken(t, "room_q", "user_q")

	conn, err := NewWebsocketTransport().Connect(context.Background(), endpoint, token)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	q := <-queries
	if q.Get("token") != token {
		t.Errorf("token query param = %q, want the grant token", q.Get("token"))
	}
	if q.Get("region") != "west" {
		t.Errorf("region query param = %q, endpoint's own parameters lost", q.Get("region"))
	}
	if conn.LocalIdentity() != "user_q" {
		t.Errorf("LocalIdentity() = %s", conn.LocalIdentity())
	}
}

// A ping that cannot even be queued means the writer side is wedged; the
// connection must be torn down, not left half-alive with a dead writer.
func TestWsConn_PingFailureClosesConn(t *testing.T) {
	srv, _ := startWsServer(t)
	ws := dialTestWs(t, srv)

	c := newWsConn(ws, "user-1", nil, 5*time.Millisecond)
	// Unbuffered send with nobody queuing into it: the ping's non-blocking
	// enqueue fails immediately.
	c.send = make(chan []byte)
	go c.writeLoop()

	select {
	case ev := <-c.events:
		if ev.Kind != EventDisconnected {
			t.Fatalf("event = %s, want disconnected", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down after ping could not be queued")
	}
	select {
	case <-c.done:
	default:
		t.Error("done channel still open after teardown")
	}
}

// Inbound handlers run under the connection's lifetime: closing the
// connection cancels a handler still in flight.
func TestWsConn_InboundHandlerContextEndsWithConn(t *testing.T) {
	srv, _ := startWsServer(t)
	ws := dialTestWs(t, srv)

	c := newWsConn(ws, "user-1", nil, time.Minute)
	started := make(chan struct{})
	finished := make(chan error, 1)
	c.RegisterRPCHandler("slow", func(ctx context.Context, payload []byte) (string, error) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return "", ctx.Err()
	})

	go c.dispatchInbound(wire.Envelope{
		Type:   wire.TypeRPCRequest,
		ID:     "req-1",
		From:   "agent-1",
		Method: "slow",
	})
	<-started

	_ = c.Close()

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("handler context error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler kept running after the connection closed")
	}
}
