package comms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"zenx.org/zenxw/client/auth"
	"zenx.org/zenxw/zenx"
)

var tLogger = zenx.StdOutLogger("TCOMMS", slog.LevelError, true)

type tAuth struct{}

func (tAuth) GetOrCreateBrowserID() string { return "b-feed" }
func (tAuth) GetOrCreateSecret() string    { return "feedsecret" }
func (tAuth) SignRequest(method, path string, timestamp int64, body []byte) string {
	return auth.Sign("feedsecret", method, path, timestamp, body)
}

var upgrader = websocket.Upgrader{}

// newFeedServer runs a websocket server whose handler receives each accepted
// connection.
func newFeedServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		defer ws.Close()
		handler(ws, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeedDelivery(t *testing.T) {
	var gotID string
	srv := newFeedServer(t, func(ws *websocket.Conn, r *http.Request) {
		gotID = r.Header.Get("X-Browser-Id")
		ws.WriteJSON(map[string]any{
			"event": "balance_update",
			"data": map[string]any{
				"chain": "bitcoin", "address": "bc1q", "balance": 1.5,
			},
		})
		// An unrelated event must be skipped, not delivered or fatal.
		ws.WriteJSON(map[string]any{"event": "price_tick", "data": map[string]any{}})
		ws.WriteJSON(map[string]any{
			"event": "balance_update",
			"data": map[string]any{
				"chain": "tron", "address": "Taddr", "balance": 22,
			},
		})
		time.Sleep(time.Second)
	})

	feed, err := NewBalanceFeed(&FeedCfg{URL: wsURL(srv), Auth: tAuth{}, Logger: tLogger})
	if err != nil {
		t.Fatalf("NewBalanceFeed error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Connect(ctx)
	feed.Connect(ctx) // idempotent

	expect := func(chain string, balance float64) {
		t.Helper()
		select {
		case update := <-feed.Updates():
			if update.Chain != chain || update.Balance != balance {
				t.Fatalf("wrong update %+v", update)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out awaiting %s update", chain)
		}
	}
	expect("bitcoin", 1.5)
	expect("tron", 22)

	if gotID != "b-feed" {
		t.Fatalf("handshake missing identity header, got %q", gotID)
	}
}

func TestFeedHandshakeSignature(t *testing.T) {
	verified := make(chan error, 1)
	var srv *httptest.Server
	srv = newFeedServer(t, func(ws *websocket.Conn, r *http.Request) {
		stamp := r.Header.Get("X-Client-Timestamp")
		sig := r.Header.Get("X-Client-Signature")
		var ts int64
		for _, c := range stamp {
			ts = ts*10 + int64(c-'0')
		}
		verified <- auth.CheckSignature("feedsecret", http.MethodGet, r.URL.Path, ts, nil, sig)
		time.Sleep(time.Second)
	})

	feed, err := NewBalanceFeed(&FeedCfg{URL: wsURL(srv) + "/api/v1/ws", Auth: tAuth{}, Logger: tLogger})
	if err != nil {
		t.Fatalf("NewBalanceFeed error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Connect(ctx)

	select {
	case err := <-verified:
		if err != nil {
			t.Fatalf("handshake signature invalid: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}
}

func TestFeedReconnect(t *testing.T) {
	conns := make(chan struct{}, 4)
	srv := newFeedServer(t, func(ws *websocket.Conn, r *http.Request) {
		conns <- struct{}{}
		// Drop the connection immediately and let the feed heal itself.
	})

	feed, err := NewBalanceFeed(&FeedCfg{
		URL:      wsURL(srv),
		Logger:   tLogger,
		PingWait: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBalanceFeed error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Connect(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-conns:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never arrived", i+1)
		}
	}
}

func TestFeedShutdown(t *testing.T) {
	srv := newFeedServer(t, func(ws *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed, err := NewBalanceFeed(&FeedCfg{URL: wsURL(srv), Logger: tLogger})
	if err != nil {
		t.Fatalf("NewBalanceFeed error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	feed.Connect(ctx)

	// Wait until connected before tearing down.
	for i := 0; i < 100 && !feed.IsConnected(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		feed.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not shut down")
	}

	// The updates channel must be closed.
	select {
	case _, open := <-feed.Updates():
		if open {
			t.Fatal("unexpected update after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("updates channel not closed")
	}
}
