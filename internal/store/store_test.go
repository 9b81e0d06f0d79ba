package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"mybrain/internal/remote"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testScope = remote.Scope{Namespace: "my-brain-app", Owner: "u1"}

func openTestStore(t *testing.T, dir string, watch bool) *Store {
	t.Helper()
	s, err := Open(context.Background(), dir, Options{Logger: zaptest.NewLogger(t), Watch: watch})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// collector records the latest snapshot of one subscription.
type collector struct {
	mu   sync.Mutex
	last *remote.Snapshot
	n    int
	err  error
}

func (c *collector) onSnapshot(s remote.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &s
	c.n++
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	out := make([]string, 0, len(c.last.Docs))
	for _, d := range c.last.Docs {
		out = append(out, d.ID)
	}
	return out
}

func (c *collector) loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil
}

func create(t *testing.T, s remote.Store, c remote.Collection, body string) remote.Result {
	t.Helper()
	res, err := s.Write(context.Background(), testScope, remote.Write{Collection: c, Op: remote.OpCreate, Data: json.RawMessage(body)})
	require.NoError(t, err)
	return res
}

func TestWrite_CreateAssignsPrefixedIDAndCreatedAt(t *testing.T) {
	s := openTestStore(t, t.TempDir(), false)

	f := create(t, s, remote.Folders, `{"title":"Work","parentId":null}`)
	assert.Regexp(t, `^fld-[a-z2-7]{8}$`, f.ID)
	assert.False(t, f.CreatedAt.IsZero())

	it := create(t, s, remote.Items, `{"title":"x"}`)
	assert.Regexp(t, `^itm-[a-z2-7]{8}$`, it.ID)
	assert.True(t, it.CreatedAt.After(f.CreatedAt))

	_, err := s.Write(context.Background(), testScope, remote.Write{Collection: remote.Folders, Op: remote.OpCreate, ID: f.ID, Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, remote.ErrInvalidWrite)
}

func TestWrite_UpdateMergesAndMissingIsNotFound(t *testing.T) {
	s := openTestStore(t, t.TempDir(), false)
	ctx := context.Background()

	res := create(t, s, remote.Items, `{"title":"a","content":"body","isCompleted":false}`)
	_, err := s.Write(ctx, testScope, remote.Write{Collection: remote.Items, Op: remote.OpUpdate, ID: res.ID, Data: json.RawMessage(`{"isCompleted":true}`)})
	require.NoError(t, err)

	docs, err := s.load(ctx, testScope.Path(remote.Items), remote.Descending)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"title":"a","content":"body","isCompleted":true}`, string(docs[0].Data))
	assert.Equal(t, res.CreatedAt, docs[0].CreatedAt)

	_, err = s.Write(ctx, testScope, remote.Write{Collection: remote.Items, Op: remote.OpUpdate, ID: "itm-missing", Data: json.RawMessage(`{}`)})
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	_, err = s.Write(ctx, testScope, remote.Write{Collection: remote.Items, Op: remote.OpDelete, ID: "itm-missing"})
	assert.NoError(t, err)
}

func TestSubscribe_OrderingAndScopeIsolation(t *testing.T) {
	s := openTestStore(t, t.TempDir(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := create(t, s, remote.Items, `{"title":"a"}`)
	b := create(t, s, remote.Items, `{"title":"b"}`)
	other := remote.Scope{Namespace: testScope.Namespace, Owner: "u2"}
	_, err := s.Write(ctx, other, remote.Write{Collection: remote.Items, Op: remote.OpCreate, Data: json.RawMessage(`{"title":"foreign"}`)})
	require.NoError(t, err)

	var desc, asc collector
	unsubDesc, err := s.Subscribe(ctx, testScope, remote.Query{Collection: remote.Items, OrderBy: remote.CreatedAtKey, Direction: remote.Descending}, desc.onSnapshot, desc.onError)
	require.NoError(t, err)
	defer unsubDesc()
	unsubAsc, err := s.Subscribe(ctx, testScope, remote.Query{Collection: remote.Items, OrderBy: remote.CreatedAtKey, Direction: remote.Ascending}, asc.onSnapshot, asc.onError)
	require.NoError(t, err)
	defer unsubAsc()

	require.Eventually(t, func() bool { return desc.loaded() && asc.loaded() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{b.ID, a.ID}, desc.ids())
	assert.Equal(t, []string{a.ID, b.ID}, asc.ids())

	c := create(t, s, remote.Items, `{"title":"c"}`)
	require.Eventually(t, func() bool { return len(desc.ids()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, desc.ids())
}

func TestSubscribe_RejectsInvalidScope(t *testing.T) {
	s := openTestStore(t, t.TempDir(), false)
	_, err := s.Subscribe(context.Background(), remote.Scope{Namespace: "my-brain-app"}, remote.Query{Collection: remote.Items}, nil, nil)
	assert.ErrorIs(t, err, remote.ErrInvalidScope)
	_, err = s.Write(context.Background(), remote.Scope{Namespace: "a/b", Owner: "u"}, remote.Write{Collection: remote.Items, Op: remote.OpCreate})
	assert.ErrorIs(t, err, remote.ErrInvalidScope)
}

func TestWatch_PicksUpOtherProcessWrites(t *testing.T) {
	dir := t.TempDir()
	reader := openTestStore(t, dir, true)
	writer := openTestStore(t, dir, false)

	var got collector
	unsub, err := reader.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Folders, Direction: remote.Ascending}, got.onSnapshot, got.onError)
	require.NoError(t, err)
	defer unsub()
	require.Eventually(t, got.loaded, 2*time.Second, 5*time.Millisecond)

	res := create(t, writer, remote.Folders, `{"title":"from elsewhere"}`)
	require.Eventually(t, func() bool {
		ids := got.ids()
		return len(ids) == 1 && ids[0] == res.ID
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClose_EndsSubscriptionsAndRejectsWrites(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir(), Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	var got collector
	_, err = s.Subscribe(context.Background(), testScope, remote.Query{Collection: remote.Items}, got.onSnapshot, got.onError)
	require.NoError(t, err)
	require.Eventually(t, got.loaded, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Subscriptions())

	_, err = s.Write(context.Background(), testScope, remote.Write{Collection: remote.Items, Op: remote.OpCreate, Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, remote.ErrClosed)
}

func TestBackup_CopiesDatabase(t *testing.T) {
	s := openTestStore(t, t.TempDir(), false)
	res := create(t, s, remote.Folders, `{"title":"Work"}`)

	dest := filepath.Join(t.TempDir(), "backups", "copy.sqlite")
	require.NoError(t, s.Backup(context.Background(), dest))
	_, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Error(t, s.Backup(context.Background(), dest))

	restoreDir := t.TempDir()
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(restoreDir, dbFileName), raw, 0o644))

	restored := openTestStore(t, restoreDir, false)
	docs, err := restored.load(context.Background(), testScope.Path(remote.Folders), remote.Ascending)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.ID, docs[0].ID)
}

func TestStamp_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(context.Background(), t.TempDir(), Options{Now: func() time.Time { return fixed }})
	require.NoError(t, err)
	defer s.Close()

	a := create(t, s, remote.Items, `{"title":"a"}`)
	b := create(t, s, remote.Items, `{"title":"b"}`)
	assert.Equal(t, fixed, a.CreatedAt)
	assert.Equal(t, fixed.Add(time.Millisecond), b.CreatedAt)
}
