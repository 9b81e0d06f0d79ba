package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mybrain/internal/logging"
	"mybrain/internal/remote"
)

type ClientOptions struct {
	Logger *zap.Logger
	Header http.Header
	// HandshakeTimeout defaults to 10s.
	HandshakeTimeout time.Duration
}

// Client is a remote.Store backed by a relay server. Snapshots received for a
// subscription are handed to a local Feed, so delivery keeps the Store
// guarantees: asynchronous, in order, and coalesced when the consumer is slow.
type Client struct {
	ws   *websocket.Conn
	log  *zap.Logger
	feed *remote.Feed

	wmu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*clientSub
	reqs   map[string]chan Message
	closed bool
	err    error

	done chan struct{}
	wg   sync.WaitGroup
}

var _ remote.Store = (*Client)(nil)

type clientSub struct {
	mu    sync.Mutex
	docs  []remote.Doc
	err   error
	ready chan struct{}
	once  sync.Once

	gone     chan struct{}
	goneOnce sync.Once
}

func (s *clientSub) deliver(docs []remote.Doc, err error) {
	s.mu.Lock()
	if s.err == nil {
		s.docs, s.err = docs, err
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
}

// Dial connects to a relay websocket endpoint, e.g. ws://127.0.0.1:7464/ws.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  32 * 1024,
	}
	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	ws.SetReadLimit(maxFrame)
	c := &Client{
		ws:   ws,
		log:  logging.OrNop(opts.Logger).Named("relay-client"),
		feed: remote.NewFeed(),
		subs: map[string]*clientSub{},
		reqs: map[string]chan Message{},
		done: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Client) send(m Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(m)
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	var failure error
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			failure = err
			break
		}
		c.dispatch(m)
	}
	c.shutdown(fmt.Errorf("%w: relay connection lost: %v", remote.ErrClosed, failure))
}

func (c *Client) dispatch(m Message) {
	switch m.Type {
	case MsgSnapshot:
		c.mu.Lock()
		sub := c.subs[m.Sub]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		docs := m.Docs
		if docs == nil {
			docs = []remote.Doc{}
		}
		sub.deliver(docs, nil)
		c.feed.Notify(m.Sub)
	case MsgResult, MsgError:
		if m.Req != "" {
			c.mu.Lock()
			ch := c.reqs[m.Req]
			delete(c.reqs, m.Req)
			c.mu.Unlock()
			if ch != nil {
				ch <- m
			}
			return
		}
		if m.Sub != "" {
			c.mu.Lock()
			sub := c.subs[m.Sub]
			delete(c.subs, m.Sub)
			c.mu.Unlock()
			if sub != nil {
				sub.deliver(nil, m.err())
				c.feed.Notify(m.Sub)
			}
			return
		}
		c.log.Warn("relay error", zap.String("code", string(m.Code)), zap.String("error", m.Error))
	default:
		c.log.Debug("ignoring relay frame", zap.String("type", string(m.Type)))
	}
}

// shutdown fails every subscription and pending write with err.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	subs := c.subs
	reqs := c.reqs
	c.subs = map[string]*clientSub{}
	c.reqs = map[string]chan Message{}
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	for id, sub := range subs {
		sub.deliver(nil, err)
		c.feed.Notify(id)
	}
	for _, ch := range reqs {
		ch <- errorFrame(err)
	}
	if !alreadyClosed {
		close(c.done)
	}
}

func (c *Client) Subscribe(ctx context.Context, scope remote.Scope, q remote.Query, onSnapshot func(remote.Snapshot), onError func(error)) (remote.Unsubscribe, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	sub := &clientSub{ready: make(chan struct{}), gone: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, remote.ErrClosed
	}
	c.subs[id] = sub
	c.mu.Unlock()

	load := func(ctx context.Context) ([]remote.Doc, error) {
		select {
		case <-sub.ready:
		case <-sub.gone:
			return nil, remote.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.err != nil {
			return nil, sub.err
		}
		return sub.docs, nil
	}
	stopFeed, err := c.feed.Add(ctx, id, q.Collection, load, onSnapshot, onError)
	if err != nil {
		c.forget(id)
		return nil, err
	}

	if err := c.send(Message{Type: MsgSubscribe, Sub: id, Scope: &scope, Query: &q}); err != nil {
		stopFeed()
		c.forget(id)
		return nil, fmt.Errorf("%w: %v", remote.ErrClosed, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			stopFeed()
			sub.goneOnce.Do(func() { close(sub.gone) })
			if c.forget(id) {
				_ = c.send(Message{Type: MsgUnsubscribe, Sub: id})
			}
		})
	}, nil
}

// forget drops a subscription and reports whether it was still registered.
func (c *Client) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	return ok
}

func (c *Client) Write(ctx context.Context, scope remote.Scope, w remote.Write) (remote.Result, error) {
	if err := scope.Validate(); err != nil {
		return remote.Result{}, err
	}
	if err := w.Validate(); err != nil {
		return remote.Result{}, err
	}
	id := uuid.NewString()
	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return remote.Result{}, remote.ErrClosed
	}
	c.reqs[id] = ch
	c.mu.Unlock()

	if err := c.send(Message{Type: MsgWrite, Req: id, Scope: &scope, Write: &w}); err != nil {
		c.mu.Lock()
		delete(c.reqs, id)
		c.mu.Unlock()
		return remote.Result{}, fmt.Errorf("%w: %v", remote.ErrClosed, err)
	}

	select {
	case m := <-ch:
		if m.Type == MsgError {
			return remote.Result{}, m.err()
		}
		if m.Result == nil {
			return remote.Result{}, errors.New("relay: result frame without result")
		}
		return *m.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.reqs, id)
		c.mu.Unlock()
		return remote.Result{}, ctx.Err()
	}
}

// Err returns why the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. Subscriptions still live receive an error
// wrapping remote.ErrClosed; pending writes fail the same way.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	_ = c.ws.Close()
	c.wg.Wait()
	c.feed.Close()
	return nil
}
