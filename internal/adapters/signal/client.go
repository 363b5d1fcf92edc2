package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// RemoteError is an error reply from the hub.
type RemoteError struct {
	Code string
}

func (e *RemoteError) Error() string { return "hub: " + e.Code }

// Client is the peer side of the hub protocol. It implements
// core.SignalTransport and core.CallLog; every failure to publish is a
// core.ErrSignalDelivery.
type Client struct {
	user   domain.UserID
	conn   *WsSignalConn
	logger zerolog.Logger

	seq  atomic.Uint64
	done chan struct{}

	mu        sync.Mutex
	pending   map[string]chan envelope
	onSignals map[domain.CallID]map[uint64]core.SignalHandler
	onCall    map[domain.CallID]map[uint64]core.CallHandler
}

var (
	_ core.SignalTransport = (*Client)(nil)
	_ core.CallLog         = (*Client)(nil)
)

// Dial connects to the hub's WebSocket endpoint as user.
func Dial(ctx context.Context, rawURL string, user domain.UserID) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("hub url: %w", err)
	}
	q := u.Query()
	q.Set("user", string(user))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, core.Wrap(core.ErrSignalDelivery, err)
	}
	c := &Client{
		user:      user,
		conn:      newWsSignalConn(ws),
		logger:    log.With().Str("module", "adapters.signal").Str("user", string(user)).Logger(),
		done:      make(chan struct{}),
		pending:   make(map[string]chan envelope),
		onSignals: make(map[domain.CallID]map[uint64]core.SignalHandler),
		onCall:    make(map[domain.CallID]map[uint64]core.CallHandler),
	}
	go c.writeLoop()
	go c.readLoop()
	c.logger.Info().Str("url", u.Redacted()).Msg("connected to hub")
	return c, nil
}

func (c *Client) User() domain.UserID { return c.user }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) writeLoop() {
	for data := range c.conn.send {
		if err := c.conn.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			break
		}
		if err := c.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Warn().Err(err).Msg("write")
			break
		}
	}
	c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.conn.Close()
	for {
		_, data, err := c.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("read")
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Error().Err(err).Msg("bad json from hub")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	if env.ReqID != "" {
		c.mu.Lock()
		ch, ok := c.pending[env.ReqID]
		delete(c.pending, env.ReqID)
		c.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}

	switch env.Type {
	case typeSignal:
		if env.Signal == nil {
			return
		}
		c.mu.Lock()
		hs := make([]core.SignalHandler, 0, len(c.onSignals[env.CallID]))
		for _, h := range c.onSignals[env.CallID] {
			hs = append(hs, h)
		}
		c.mu.Unlock()
		for _, h := range hs {
			h(*env.Signal)
		}
	case typeCall:
		if env.Call == nil {
			return
		}
		c.mu.Lock()
		hs := make([]core.CallHandler, 0, len(c.onCall[env.CallID]))
		for _, h := range c.onCall[env.CallID] {
			hs = append(hs, h)
		}
		c.mu.Unlock()
		for _, h := range hs {
			h(*env.Call)
		}
	case typeError:
		c.logger.Warn().Str("error", env.Error).Msg("hub error")
	}
}

func (c *Client) post(env envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.conn.TrySend(b); err != nil {
		return core.Wrap(core.ErrSignalDelivery, err)
	}
	return nil
}

// request sends env and waits for the reply carrying the same request id.
func (c *Client) request(ctx context.Context, env envelope) (envelope, error) {
	env.ReqID = strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan envelope, 1)
	c.mu.Lock()
	c.pending[env.ReqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ReqID)
		c.mu.Unlock()
	}()

	if err := c.post(env); err != nil {
		return envelope{}, err
	}
	select {
	case r := <-ch:
		if r.Type == typeError {
			return r, core.Wrap(core.ErrSignalDelivery, &RemoteError{Code: r.Error})
		}
		return r, nil
	case <-c.done:
		return envelope{}, core.Wrap(core.ErrSignalDelivery, ErrConnClosed)
	case <-ctx.Done():
		return envelope{}, core.Wrap(core.ErrSignalDelivery, ctx.Err())
	}
}

func (c *Client) CreateCall(ctx context.Context, callee domain.UserID, kind domain.CallKind) (domain.Call, error) {
	r, err := c.request(ctx, envelope{Type: typeCreateCall, Callee: callee, Kind: kind})
	if err != nil {
		return domain.Call{}, err
	}
	if r.Call == nil {
		return domain.Call{}, core.Wrap(core.ErrSignalDelivery, &RemoteError{Code: "empty_reply"})
	}
	return *r.Call, nil
}

func (c *Client) GetCall(ctx context.Context, id domain.CallID) (domain.Call, error) {
	r, err := c.request(ctx, envelope{Type: typeGetCall, CallID: id})
	if err != nil {
		return domain.Call{}, err
	}
	if r.Call == nil {
		return domain.Call{}, core.Wrap(core.ErrSignalDelivery, &RemoteError{Code: "empty_reply"})
	}
	return *r.Call, nil
}

func (c *Client) WhoAmI(ctx context.Context) (domain.UserID, error) {
	r, err := c.request(ctx, envelope{Type: typeWhoAmI})
	if err != nil {
		return "", err
	}
	return r.User, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, envelope{Type: typePing})
	return err
}

// SubscribeToSignals always asks the hub to (re)subscribe, so a new handler
// gets the history replayed. Handlers already registered may see repeats.
func (c *Client) SubscribeToSignals(ctx context.Context, id domain.CallID, h core.SignalHandler) (core.Disposer, error) {
	key := c.seq.Add(1)
	c.mu.Lock()
	if c.onSignals[id] == nil {
		c.onSignals[id] = make(map[uint64]core.SignalHandler)
	}
	c.onSignals[id][key] = h
	c.mu.Unlock()

	remove := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onSignals[id], key)
		if len(c.onSignals[id]) > 0 {
			return false
		}
		delete(c.onSignals, id)
		return true
	}
	if _, err := c.request(ctx, envelope{Type: typeSubscribeSignals, CallID: id}); err != nil {
		remove()
		return nil, err
	}
	return c.disposer(ctx, topicSignals, id, remove), nil
}

func (c *Client) SubscribeToCall(ctx context.Context, id domain.CallID, h core.CallHandler) (core.Disposer, error) {
	key := c.seq.Add(1)
	c.mu.Lock()
	if c.onCall[id] == nil {
		c.onCall[id] = make(map[uint64]core.CallHandler)
	}
	c.onCall[id][key] = h
	c.mu.Unlock()

	remove := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onCall[id], key)
		if len(c.onCall[id]) > 0 {
			return false
		}
		delete(c.onCall, id)
		return true
	}
	if _, err := c.request(ctx, envelope{Type: typeSubscribeCall, CallID: id}); err != nil {
		remove()
		return nil, err
	}
	return c.disposer(ctx, topicCall, id, remove), nil
}

// disposer drops the local handler and, when it was the last one for the
// call, the hub subscription too. It also runs when ctx ends.
func (c *Client) disposer(ctx context.Context, topic string, id domain.CallID, remove func() bool) core.Disposer {
	var once sync.Once
	dispose := func() {
		once.Do(func() {
			if remove() {
				_ = c.post(envelope{Type: typeUnsubscribe, Topic: topic, CallID: id})
			}
		})
	}
	context.AfterFunc(ctx, dispose)
	return dispose
}

// WriteSignal publishes as the connected user; the hub ignores sender.
func (c *Client) WriteSignal(ctx context.Context, id domain.CallID, _ domain.UserID, t domain.SignalType, data string) error {
	_, err := c.request(ctx, envelope{Type: typeSignal, CallID: id, Signal: &domain.Signal{Type: t, Data: data}})
	return err
}

func (c *Client) EndCall(ctx context.Context, id domain.CallID) error {
	_, err := c.request(ctx, envelope{Type: typeEnd, CallID: id})
	return err
}

func (c *Client) UpdateCallStatus(ctx context.Context, id domain.CallID, status domain.CallStatus) error {
	_, err := c.request(ctx, envelope{Type: typeStatus, CallID: id, Status: status})
	return err
}

// Record appends a call-log message attributed to author. Both the connected
// user and author must be parties of the call.
func (c *Client) Record(ctx context.Context, id domain.CallID, author domain.UserID, text string) error {
	_, err := c.request(ctx, envelope{Type: typeMessage, CallID: id, User: author, Text: text})
	return err
}
