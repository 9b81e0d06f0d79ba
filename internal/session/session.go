// Package session ties the engine together for one signed-in owner: it keeps
// the three collection subscriptions feeding the mirror, derives navigation
// and views from the latest publication, and routes writes through the
// mutation coordinator.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mybrain/internal/hierarchy"
	"mybrain/internal/logging"
	"mybrain/internal/mirror"
	"mybrain/internal/model"
	"mybrain/internal/mutate"
	"mybrain/internal/perm"
	"mybrain/internal/remote"
	"mybrain/internal/view"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrUnknownFolder = errors.New("unknown folder")
)

const (
	defaultDiagnosticsLimit = 32
	defaultCloseTimeout     = 5 * time.Second
)

type Config struct {
	Scope  remote.Scope
	Logger *zap.Logger
	// DiagnosticsLimit bounds the number of retained errors. Zero means 32.
	DiagnosticsLimit int
	// CloseTimeout bounds how long Close waits for issued writes. Zero means 5s.
	CloseTimeout time.Duration
}

// Queries returns the three subscriptions a session holds.
func Queries() []remote.Query {
	return []remote.Query{
		{Collection: remote.Settings},
		{Collection: remote.Folders, OrderBy: remote.CreatedAtKey, Direction: remote.Ascending},
		{Collection: remote.Items, OrderBy: remote.CreatedAtKey, Direction: remote.Descending},
	}
}

// State is passed to change listeners.
type State struct {
	Version uint64
	Nav     Nav
	Locked  bool
	Stale   bool
}

type Session struct {
	scope remote.Scope
	log   *zap.Logger

	mirror *mirror.Mirror
	gate   *perm.Gate
	coord  *mutate.Coordinator
	proj   view.Projector

	cancel       context.CancelFunc
	closeTimeout time.Duration

	mu        sync.Mutex
	closed    bool
	nav       navState
	tree      *hierarchy.Tree
	diags     *ring
	listeners []func(State)
	unsubs    []remote.Unsubscribe

	seq uint64

	// notifyMu keeps listener calls in publication order.
	notifyMu  sync.Mutex
	delivered uint64
}

// Start subscribes to the owner's settings, folders and items and waits until
// each collection has delivered its first snapshot or failed. A collection
// that fails is served stale (empty) and reported in Diagnostics.
func Start(ctx context.Context, store remote.Store, cfg Config) (*Session, error) {
	if err := cfg.Scope.Validate(); err != nil {
		return nil, err
	}
	log := logging.OrNop(cfg.Logger).Named("session").With(zap.String("owner", cfg.Scope.Owner))
	limit := cfg.DiagnosticsLimit
	if limit <= 0 {
		limit = defaultDiagnosticsLimit
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	m := mirror.New()
	s := &Session{
		scope:        cfg.Scope,
		log:          log,
		mirror:       m,
		gate:         perm.NewGate(),
		closeTimeout: closeTimeout,
		nav:          newNavState(),
		tree:         hierarchy.New(nil),
		diags:        newRing(limit),
	}
	s.coord = mutate.New(store, cfg.Scope, mutate.Options{Logger: cfg.Logger, OnError: s.recordWriteError})

	// Subscriptions outlive the start context; Close ends them.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	queries := Queries()
	ready := make([]chan struct{}, len(queries))
	for i, q := range queries {
		ch := make(chan struct{})
		ready[i] = ch
		var once sync.Once
		signal := func() { once.Do(func() { close(ch) }) }

		c := q.Collection
		unsub, err := store.Subscribe(subCtx, cfg.Scope, q,
			func(snap remote.Snapshot) {
				s.applySnapshot(snap)
				signal()
			},
			func(err error) {
				s.failCollection(c, err)
				signal()
			})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("subscribe %s: %w", c, err)
		}
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range ready {
		ch := ready[i]
		c := queries[i].Collection
		g.Go(func() error {
			select {
			case <-ch:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("waiting for %s: %w", c, gctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		s.Close()
		return nil, err
	}

	log.Debug("session started", zap.Uint64("version", m.Version()))
	return s, nil
}

func (s *Session) applySnapshot(snap remote.Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	pub, err := s.mirror.Apply(snap)
	if err != nil {
		s.log.Warn("skipped undecodable documents", zap.String("collection", string(snap.Collection)), zap.Error(err))
		s.diags.add(err)
	}
	switch snap.Collection {
	case remote.Folders:
		s.tree = hierarchy.New(pub.Folders)
		for _, w := range s.tree.Warnings() {
			s.log.Debug("folder integrity", zap.Error(w))
		}
		s.relocateLocked()
	case remote.Settings:
		s.gate.Observe(pub.Settings, pub.HasSettings)
	}
	s.publishLocked()
}

func (s *Session) failCollection(c remote.Collection, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	pub := s.mirror.Fail(c, err)
	s.log.Warn("subscription failed; serving last known data", zap.String("collection", string(c)), zap.Error(err))
	s.diags.add(pub.Err(c))
	if c == remote.Settings && !pub.Loaded(remote.Settings) {
		// Without settings the gate would wait forever; treat as no password.
		s.gate.Observe(model.Settings{}, false)
	}
	s.publishLocked()
}

func (s *Session) recordWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.diags.add(err)
}

// publishLocked hands the current state to listeners. It must be called with
// s.mu held and releases it. A state overtaken by a newer one before delivery
// is dropped, so listeners only ever move forward.
func (s *Session) publishLocked() {
	s.seq++
	seq := s.seq
	st := s.stateLocked()
	listeners := s.listeners
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq
	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Session) stateLocked() State {
	pub := s.mirror.Snapshot()
	return State{
		Version: pub.Version,
		Nav:     s.nav.export(),
		Locked:  s.gate.Locked(),
		Stale:   pub.Stale(),
	}
}

// OnChange registers fn to be called after each snapshot application and each
// navigation or gate change. fn runs on a store or caller goroutine and must
// not call back into methods that change session state.
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]func(State), len(s.listeners), len(s.listeners)+1)
	copy(next, s.listeners)
	s.listeners = append(next, fn)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Snapshot returns the current mirror publication.
func (s *Session) Snapshot() *mirror.Snapshot {
	return s.mirror.Snapshot()
}

// Diagnostics describes what the session could not keep in sync.
type Diagnostics struct {
	Stale              bool
	SubscriptionErrors []error
	// Recent holds the latest subscription, decode and write errors, oldest first.
	Recent   []error
	Warnings []hierarchy.IntegrityWarning
}

func (s *Session) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub := s.mirror.Snapshot()
	return Diagnostics{
		Stale:              pub.Stale(),
		SubscriptionErrors: pub.Errors(),
		Recent:             s.diags.list(),
		Warnings:           s.tree.Warnings(),
	}
}

// Close ends the subscriptions and stops the coordinator. Snapshots and write
// completions that arrive afterwards are ignored. Close waits a bounded time
// for already issued writes to be handed to the store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.listeners = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.cancel()
	s.coord.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()
	if err := s.coord.Wait(ctx); err != nil {
		s.log.Warn("writes still in flight at close", zap.Error(err))
		return err
	}
	return nil
}

// ring keeps the most recent errors.
type ring struct {
	buf  []error
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]error, n)}
}

func (r *ring) add(err error) {
	if err == nil {
		return
	}
	r.buf[r.next] = err
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) list() []error {
	if !r.full {
		return append([]error(nil), r.buf[:r.next]...)
	}
	out := make([]error, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
