package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"mybrain/internal/remote"
	"mybrain/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testScope = remote.Scope{Namespace: "my-brain-app", Owner: "u1"}

type harness struct {
	store *remote.MemoryStore
	srv   *Server
	http  *httptest.Server
	url   string
}

func newHarness(t *testing.T, namespace string) *harness {
	t.Helper()
	store := remote.NewMemoryStore()
	srv, err := NewServer(ServerConfig{Store: store, Logger: zaptest.NewLogger(t), Namespace: namespace})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	h := &harness{
		store: store,
		srv:   srv,
		http:  ts,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		_ = store.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, h.url, ClientOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type collector struct {
	mu    sync.Mutex
	snaps []remote.Snapshot
	errs  []error
}

func (c *collector) onSnapshot(s remote.Snapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, s)
	c.mu.Unlock()
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *collector) last() (remote.Snapshot, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return remote.Snapshot{}, 0
	}
	return c.snaps[len(c.snaps)-1], len(c.snaps)
}

func (c *collector) errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func data(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, "")
	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_SubscribeReceivesInitialAndLaterSnapshots(t *testing.T) {
	h := newHarness(t, "")
	h.store.Seed(testScope, remote.Folders, remote.Doc{
		ID: "f1", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Data: data(t, map[string]any{"title": "Work"}),
	})
	c := h.dial(t)

	var col collector
	unsub, err := c.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Folders, Direction: remote.Ascending}, col.onSnapshot, col.onError)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		s, n := col.last()
		return n >= 1 && len(s.Docs) == 1 && s.Docs[0].ID == "f1"
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Write(ctx, testScope, remote.Write{Op: remote.OpCreate, Collection: remote.Folders, Data: data(t, map[string]any{"title": "Home"})})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)

	require.Eventually(t, func() bool {
		s, _ := col.last()
		return len(s.Docs) == 2 && s.Docs[1].ID == res.ID
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, col.errors())
	assert.Len(t, h.store.Docs(testScope, remote.Folders), 2)
}

func TestClient_EmptyCollectionYieldsEmptySnapshot(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t)

	var col collector
	unsub, err := c.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Items, Direction: remote.Descending}, col.onSnapshot, col.onError)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		s, n := col.last()
		return n == 1 && s.Collection == remote.Items && len(s.Docs) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_WriteErrorsKeepSentinels(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Write(ctx, testScope, remote.Write{Op: remote.OpUpdate, Collection: remote.Items, ID: "missing", Data: data(t, map[string]any{"title": "x"})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrNotFound), "got %v", err)

	var re RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeNotFound, re.Code)

	h.store.FailWrites(errors.New("disk on fire"))
	_, err = c.Write(ctx, testScope, remote.Write{Op: remote.OpCreate, Collection: remote.Items, Data: data(t, map[string]any{"title": "x"})})
	require.Error(t, err)
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeInternal, re.Code)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestServer_NamespaceRestriction(t *testing.T) {
	h := newHarness(t, "my-brain-app")
	c := h.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	other := remote.Scope{Namespace: "someone-else", Owner: "u1"}
	_, err := c.Write(ctx, other, remote.Write{Op: remote.OpCreate, Collection: remote.Folders, Data: data(t, map[string]any{"title": "x"})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrInvalidScope), "got %v", err)

	var col collector
	unsub, err := c.Subscribe(context.Background(), other, remote.Query{Collection: remote.Folders}, col.onSnapshot, col.onError)
	require.NoError(t, err)
	defer unsub()
	require.Eventually(t, func() bool { return len(col.errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(col.errors()[0], remote.ErrInvalidScope))
	_, n := col.last()
	assert.Zero(t, n)
}

func TestClient_InvalidScopeRejectedLocally(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t)
	_, err := c.Subscribe(context.Background(), remote.Scope{Namespace: "", Owner: "u1"}, remote.Query{Collection: remote.Folders}, func(remote.Snapshot) {}, func(error) {})
	assert.True(t, errors.Is(err, remote.ErrInvalidScope))
}

func TestClient_UnsubscribeReleasesServerSubscription(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t)

	var col collector
	unsub, err := c.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Folders}, col.onSnapshot, col.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.store.Subscriptions() == 1 }, 2*time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.Eventually(t, func() bool { return h.store.Subscriptions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

// failFastStore ends every subscription from inside Subscribe, before the
// caller has its Unsubscribe.
type failFastStore struct {
	*remote.MemoryStore
	err error
}

func (s failFastStore) Subscribe(ctx context.Context, scope remote.Scope, q remote.Query, onSnapshot func(remote.Snapshot), onError func(error)) (remote.Unsubscribe, error) {
	onError(s.err)
	return func() {}, nil
}

// serverSubs counts the subscriptions registered across live connections.
func serverSubs(srv *Server) int {
	srv.mu.Lock()
	conns := make([]*serverConn, 0, len(srv.conns))
	for c := range srv.conns {
		conns = append(conns, c)
	}
	srv.mu.Unlock()
	n := 0
	for _, c := range conns {
		c.mu.Lock()
		n += len(c.subs)
		c.mu.Unlock()
	}
	return n
}

func TestServer_SubscriptionEndingDuringSubscribeIsNotKept(t *testing.T) {
	mem := remote.NewMemoryStore()
	denied := errors.New("permission denied")
	srv, err := NewServer(ServerConfig{Store: failFastStore{MemoryStore: mem, err: denied}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		_ = mem.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", ClientOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var col collector
	unsub, err := c.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Items}, col.onSnapshot, col.onError)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return len(col.errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, col.errors()[0].Error(), "permission denied")
	assert.Zero(t, serverSubs(srv))
}

func TestClient_ServerGoneFailsSubscriptionsAndWrites(t *testing.T) {
	h := newHarness(t, "")
	c := h.dial(t)

	var col collector
	unsub, err := c.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Folders}, col.onSnapshot, col.onError)
	require.NoError(t, err)
	defer unsub()
	require.Eventually(t, func() bool { _, n := col.last(); return n == 1 }, 2*time.Second, 5*time.Millisecond)

	h.srv.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not notice the server going away")
	}
	assert.True(t, errors.Is(c.Err(), remote.ErrClosed))
	require.Eventually(t, func() bool { return len(col.errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(col.errors()[0], remote.ErrClosed))

	_, err = c.Write(context.Background(), testScope, remote.Write{Op: remote.OpDelete, Collection: remote.Folders, ID: "f1"})
	assert.True(t, errors.Is(err, remote.ErrClosed))
}

func TestSession_OverRelay(t *testing.T) {
	h := newHarness(t, "")
	h.store.Seed(testScope, remote.Folders, remote.Doc{
		ID: "a", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Data: data(t, map[string]any{"title": "A"}),
	})

	// Two processes share the relay; a write from one shows up in the other.
	c1 := h.dial(t)
	c2 := h.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s1, err := session.Start(ctx, c1, session.Config{Scope: testScope, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer s1.Close()
	s2, err := session.Start(ctx, c2, session.Config{Scope: testScope, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s1.Navigate(ptrTo("a")))
	p, err := s1.CreateFolder(ctx, "B")
	require.NoError(t, err)
	res, err := p.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f, ok := s2.Snapshot().Folder(res.ID)
		return ok && f.ParentID != nil && *f.ParentID == "a"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s2.Navigate(ptrTo(res.ID)))
	crumbs := s2.Breadcrumbs()
	require.Len(t, crumbs, 3)
	assert.Equal(t, "A", crumbs[1].Name)
	assert.Equal(t, "B", crumbs[2].Name)
}

func ptrTo(s string) *string { return &s }
