package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mybrain/internal/logging"
	"mybrain/internal/remote"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 8 << 20
)

type ServerConfig struct {
	Addr   string
	Store  remote.Store
	Logger *zap.Logger
	// Namespace, when set, rejects scopes from any other namespace.
	Namespace string
}

type Server struct {
	cfg      ServerConfig
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay: missing store")
	}
	return &Server{
		cfg: cfg,
		log: logging.OrNop(cfg.Logger).Named("relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				// Basic same-origin check.
				return strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
			},
		},
		conns: map[*serverConn]struct{}{},
	}, nil
}

func (s *Server) Addr() string {
	return strings.TrimSpace(s.cfg.Addr)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ListenAndServe serves until ctx is done, then closes every connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Addr() == "" {
		return errors.New("relay: missing addr")
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("relay listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	<-errCh
	return err
}

// Close drops every connection and waits for their handlers to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	s.wg.Wait()
}

func (s *Server) track(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	c := &serverConn{
		srv:  s,
		ws:   ws,
		log:  s.log.With(zap.String("remote", r.RemoteAddr)),
		subs: map[string]remote.Unsubscribe{},
	}
	if !s.track(c) {
		_ = ws.Close()
		return
	}
	defer s.untrack(c)
	c.serve()
}

type serverConn struct {
	srv *Server
	ws  *websocket.Conn
	log *zap.Logger

	wmu sync.Mutex

	mu   sync.Mutex
	subs map[string]remote.Unsubscribe
}

func (c *serverConn) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { _ = c.ws.Close() }()
	defer c.unsubscribeAll()

	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(ctx)
	}()
	defer func() { <-pingDone }()
	defer cancel()

	c.log.Debug("relay client connected")
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("relay client gone", zap.Error(err))
			}
			return
		}
		c.handle(ctx, m)
	}
}

func (c *serverConn) pingLoop(ctx context.Context) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *serverConn) send(m Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(m)
}

func (c *serverConn) checkScope(scope *remote.Scope) error {
	if scope == nil {
		return fmt.Errorf("%w: missing scope", remote.ErrInvalidScope)
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	if ns := c.srv.cfg.Namespace; ns != "" && scope.Namespace != ns {
		return fmt.Errorf("%w: namespace %q not served", remote.ErrInvalidScope, scope.Namespace)
	}
	return nil
}

func (c *serverConn) handle(ctx context.Context, m Message) {
	switch m.Type {
	case MsgSubscribe:
		c.subscribe(ctx, m)
	case MsgUnsubscribe:
		c.mu.Lock()
		unsub := c.subs[m.Sub]
		delete(c.subs, m.Sub)
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	case MsgWrite:
		c.write(ctx, m)
	default:
		out := errorFrame(fmt.Errorf("unknown message type %q", m.Type))
		out.Code = CodeBadRequest
		out.Sub, out.Req = m.Sub, m.Req
		_ = c.send(out)
	}
}

func (c *serverConn) subscribe(ctx context.Context, m Message) {
	fail := func(err error) {
		out := errorFrame(err)
		out.Sub = m.Sub
		_ = c.send(out)
	}
	if m.Sub == "" || m.Query == nil {
		fail(fmt.Errorf("subscribe needs sub and query"))
		return
	}
	if err := c.checkScope(m.Scope); err != nil {
		fail(err)
		return
	}

	// The id is reserved before subscribing so that an error delivered while
	// Subscribe is still running finds and drops it.
	sub := m.Sub
	c.mu.Lock()
	_, dup := c.subs[sub]
	if !dup {
		c.subs[sub] = nil
	}
	c.mu.Unlock()
	if dup {
		fail(fmt.Errorf("duplicate subscription id %s", sub))
		return
	}

	unsub, err := c.srv.cfg.Store.Subscribe(ctx, *m.Scope, *m.Query,
		func(snap remote.Snapshot) {
			// An empty collection travels without docs.
			_ = c.send(Message{Type: MsgSnapshot, Sub: sub, Collection: snap.Collection, Docs: snap.Docs})
		},
		func(err error) {
			c.mu.Lock()
			delete(c.subs, sub)
			c.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			fail(err)
		})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		fail(err)
		return
	}

	c.mu.Lock()
	_, live := c.subs[sub]
	if live {
		c.subs[sub] = unsub
	}
	c.mu.Unlock()
	if !live {
		// Ended or unsubscribed while Subscribe was running.
		unsub()
		return
	}
	c.log.Debug("subscribed", zap.String("sub", sub), zap.String("collection", string(m.Query.Collection)))
}

func (c *serverConn) write(ctx context.Context, m Message) {
	fail := func(err error) {
		out := errorFrame(err)
		out.Req = m.Req
		_ = c.send(out)
	}
	if m.Req == "" || m.Write == nil {
		fail(fmt.Errorf("%w: write needs req and write", remote.ErrInvalidWrite))
		return
	}
	if err := c.checkScope(m.Scope); err != nil {
		fail(err)
		return
	}
	res, err := c.srv.cfg.Store.Write(ctx, *m.Scope, *m.Write)
	if err != nil {
		fail(err)
		return
	}
	_ = c.send(Message{Type: MsgResult, Req: m.Req, Result: &res})
}

func (c *serverConn) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]remote.Unsubscribe{}
	c.mu.Unlock()
	for _, unsub := range subs {
		if unsub != nil {
			unsub()
		}
	}
}
