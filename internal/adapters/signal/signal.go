// Package signal carries call signaling over WebSocket: a hub-side server and
// the client transport a peer uses to reach it.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/peercall/internal/app/hub"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type ServerOptions struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// SignalRate and SignalBurst bound inbound frames per connection.
	SignalRate  float64
	SignalBurst int
	// CallsPerMinute bounds create_call per user.
	CallsPerMinute int
	// JanitorPeriod is how often idle per-user limiters are dropped; zero
	// keeps them.
	JanitorPeriod time.Duration
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		ReadLimit:      64 << 10,
		PingPeriod:     30 * time.Second,
		SignalRate:     50,
		SignalBurst:    100,
		CallsPerMinute: 10,
	}
}

// SignalWSController serves the hub over WebSocket.
type SignalWSController struct {
	Hub   *hub.Hub
	opts  ServerOptions
	calls *UserRateLimiter
}

// NewSignalWSController builds the controller. Per-user limiters are pruned
// in the background until ctx is done.
func NewSignalWSController(ctx context.Context, h *hub.Hub, opts ServerOptions) *SignalWSController {
	def := DefaultServerOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.SignalRate <= 0 {
		opts.SignalRate = def.SignalRate
	}
	if opts.SignalBurst <= 0 {
		opts.SignalBurst = def.SignalBurst
	}
	if opts.CallsPerMinute <= 0 {
		opts.CallsPerMinute = def.CallsPerMinute
	}
	ctl := &SignalWSController{
		Hub:   h,
		opts:  opts,
		calls: NewUserRateLimiter(rate.Every(time.Minute/time.Duration(opts.CallsPerMinute)), opts.CallsPerMinute),
	}
	go ctl.calls.Janitor(ctx, opts.JanitorPeriod)
	return ctl
}

// WsSignalConn is a core.SignalConnection over one WebSocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, 256)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// peer is the server-side state of one client connection.
type peer struct {
	user    domain.UserID
	sid     core.SessionID
	conn    *WsSignalConn
	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[string]core.Disposer
}

func subKey(topic string, id domain.CallID) string { return topic + ":" + string(id) }

func (p *peer) addSub(key string, d core.Disposer) {
	p.mu.Lock()
	old := p.subs[key]
	p.subs[key] = d
	p.mu.Unlock()
	if old != nil {
		old()
	}
}

func (p *peer) dropSub(key string) bool {
	p.mu.Lock()
	d, ok := p.subs[key]
	delete(p.subs, key)
	p.mu.Unlock()
	if ok {
		d()
	}
	return ok
}

func (p *peer) dropAll() {
	p.mu.Lock()
	subs := p.subs
	p.subs = map[string]core.Disposer{}
	p.mu.Unlock()
	for _, d := range subs {
		d()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request. The peer is named by ?user=, falling
// back to the client token cookie.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	user, err := domain.ParseUserID(c.Query("user"))
	if err != nil {
		user, err = domain.ParseUserID(string(sid))
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "adapters.signal").Str("sid", string(sid)).Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}

	p := &peer{
		user:    user,
		sid:     sid,
		conn:    newWsSignalConn(ws),
		limiter: rate.NewLimiter(rate.Limit(ctl.opts.SignalRate), ctl.opts.SignalBurst),
		subs:    make(map[string]core.Disposer),
	}
	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, p.conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, p)
	}()
}
