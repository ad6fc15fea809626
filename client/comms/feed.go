// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package comms manages the persistent websocket connection that delivers
// realtime balance updates from the backend. The connection is maintained
// with automatic reconnection until the context is canceled.
package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"zenx.org/zenxw/zenx"
)

const (
	// readBuffSize is the buffer size for the feed's update channel. Balance
	// pushes are small and infrequent, so a full channel indicates a stuck
	// consumer and further updates are dropped with a warning.
	readBuffSize = 128

	// writeWait is the maximum time to wait for a control-frame write.
	writeWait = time.Second * 3

	// defaultPingWait is how long to wait for a server ping before assuming
	// the connection is dead.
	defaultPingWait = time.Minute
)

// BalanceUpdate is a single pushed balance change for one wallet.
type BalanceUpdate struct {
	Chain      string  `json:"chain"`
	Address    string  `json:"address"`
	Balance    float64 `json:"balance"`
	BalanceUSD float64 `json:"balanceUsd"`
}

// feedMessage is the wire envelope for inbound events.
type feedMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Authenticator produces the identity headers for the websocket handshake.
// Satisfied by *auth.Authenticator via client/api's interface of the same
// shape.
type Authenticator interface {
	GetOrCreateBrowserID() string
	GetOrCreateSecret() string
	SignRequest(method, path string, timestamp int64, body []byte) string
}

// FeedCfg is the configuration struct for initializing a BalanceFeed.
type FeedCfg struct {
	// URL is the full websocket URL, e.g. wss://host/api/v1/ws.
	URL string
	// Auth signs the connection handshake.
	Auth Authenticator
	// PingWait is the maximum time to wait for a ping from the server. Zero
	// means defaultPingWait.
	PingWait time.Duration
	// ReconnectSync runs after every successful reconnection, so the owner
	// can resync state that changed while disconnected.
	ReconnectSync func()
	Logger        zenx.Logger
}

// BalanceFeed is a self-healing websocket subscription delivering
// BalanceUpdate events. Connect starts it, the context stops it. At most one
// connection exists per feed at any time.
type BalanceFeed struct {
	cfg        *FeedCfg
	log        zenx.Logger
	reconnects uint64

	wsMtx sync.Mutex
	ws    *websocket.Conn

	connectedMtx sync.RWMutex
	connected    bool

	updateCh    chan *BalanceUpdate
	reconnectCh chan struct{}

	started atomic.Bool
	wg      sync.WaitGroup
	readWg  sync.WaitGroup
}

// NewBalanceFeed creates a BalanceFeed. No connection is attempted until
// Connect.
func NewBalanceFeed(cfg *FeedCfg) (*BalanceFeed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no websocket URL configured")
	}
	if cfg.PingWait < 0 {
		return nil, fmt.Errorf("ping wait cannot be negative")
	}
	if cfg.PingWait == 0 {
		cfg.PingWait = defaultPingWait
	}
	return &BalanceFeed{
		cfg:         cfg,
		log:         cfg.Logger,
		updateCh:    make(chan *BalanceUpdate, readBuffSize),
		reconnectCh: make(chan struct{}, 1),
	}, nil
}

// Updates is the channel on which balance updates are delivered, in delivery
// order. The channel is closed when the feed shuts down.
func (f *BalanceFeed) Updates() <-chan *BalanceUpdate {
	return f.updateCh
}

// Connect starts the connection maintenance loop. Calling Connect on an
// already-started feed is a no-op. The feed runs until ctx is canceled.
func (f *BalanceFeed) Connect(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	f.wg.Add(1)
	go f.keepAlive(ctx)
	f.reconnectCh <- struct{}{}
}

// WaitForShutdown blocks until the feed's processes are stopped.
func (f *BalanceFeed) WaitForShutdown() {
	f.wg.Wait()
}

// IsConnected returns the connection state.
func (f *BalanceFeed) IsConnected() bool {
	f.connectedMtx.RLock()
	defer f.connectedMtx.RUnlock()
	return f.connected
}

func (f *BalanceFeed) setConnected(connected bool) {
	f.connectedMtx.Lock()
	f.connected = connected
	f.connectedMtx.Unlock()
}

// close terminates the current websocket connection, if any.
func (f *BalanceFeed) close() {
	f.wsMtx.Lock()
	defer f.wsMtx.Unlock()

	if f.ws == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	f.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	f.ws.Close()
	f.ws = nil
}

// handshakeHeader builds the signed identity headers for the websocket
// upgrade request.
func (f *BalanceFeed) handshakeHeader() http.Header {
	header := make(http.Header)
	if f.cfg.Auth == nil {
		return header
	}
	stamp := time.Now().Unix()
	path := "/ws"
	if i := strings.Index(f.cfg.URL, "://"); i >= 0 {
		if j := strings.IndexByte(f.cfg.URL[i+3:], '/'); j >= 0 {
			path = f.cfg.URL[i+3+j:]
		}
	}
	header.Set("X-Browser-Id", f.cfg.Auth.GetOrCreateBrowserID())
	header.Set("X-Client-Timestamp", strconv.FormatInt(stamp, 10))
	header.Set("X-Client-Signature", f.cfg.Auth.SignRequest(http.MethodGet, path, stamp, nil))
	return header
}

// connect attempts to establish the websocket connection.
func (f *BalanceFeed) connect(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	ws, _, err := dialer.DialContext(ctx, f.cfg.URL, f.handshakeHeader())
	if err != nil {
		return err
	}

	ws.SetPingHandler(func(string) error {
		now := time.Now()
		if err := ws.SetReadDeadline(now.Add(f.cfg.PingWait)); err != nil {
			f.log.Errorf("read deadline error: %v", err)
			return err
		}
		return ws.WriteControl(websocket.PongMessage, []byte{}, now.Add(writeWait))
	})

	f.wsMtx.Lock()
	f.ws = ws
	f.wsMtx.Unlock()

	return nil
}

// read fetches and parses incoming messages. Runs as a goroutine, one per
// established connection.
func (f *BalanceFeed) read(ctx context.Context) {
	defer f.readWg.Done()

	for {
		f.wsMtx.Lock()
		ws := f.ws
		f.wsMtx.Unlock()
		if ws == nil {
			return
		}

		msg := new(feedMessage)
		err := ws.ReadJSON(msg)
		if err != nil {
			if _, ok := err.(*json.UnmarshalTypeError); ok {
				// Decode errors are not fatal.
				f.log.Errorf("json decode error: %v", err)
				continue
			}

			if websocket.IsCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure) ||
				strings.Contains(err.Error(), "websocket: close sent") {
				return
			}

			if opErr, ok := err.(*net.OpError); ok && opErr.Op == "read" &&
				strings.Contains(opErr.Err.Error(), "use of closed network connection") {
				return
			}

			if ctx.Err() != nil {
				return
			}

			f.log.Errorf("read error: %v", err)
			select {
			case f.reconnectCh <- struct{}{}:
			default:
			}
			return
		}

		if msg.Event != "balance_update" {
			continue
		}
		update := new(BalanceUpdate)
		if err := json.Unmarshal(msg.Data, update); err != nil {
			f.log.Errorf("malformed balance_update payload: %v", err)
			continue
		}
		select {
		case f.updateCh <- update:
		default:
			f.log.Warnf("balance update channel full, dropping update for %s", update.Chain)
		}
	}
}

// keepAlive maintains an active connection by reconnecting whenever the
// established connection breaks. Runs as a goroutine.
func (f *BalanceFeed) keepAlive(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-f.reconnectCh:
			f.setConnected(false)

			if atomic.AddUint64(&f.reconnects, 1) > 1 {
				f.close()
			}

			if err := f.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				f.log.Errorf("connection error: %v", err)
				go func() {
					select {
					case <-time.After(f.cfg.PingWait):
						select {
						case f.reconnectCh <- struct{}{}:
						default:
						}
					case <-ctx.Done():
					}
				}()
				continue
			}

			f.readWg.Add(1)
			go f.read(ctx)

			if f.cfg.ReconnectSync != nil {
				f.cfg.ReconnectSync()
			}

			f.setConnected(true)

		case <-ctx.Done():
			f.setConnected(false)
			f.close()
			// All readers must be done before the update channel closes.
			f.readWg.Wait()
			close(f.updateCh)
			return
		}
	}
}
