package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scopeA = Scope{Namespace: "my-brain-app", Owner: "alice"}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryStore_CreateUpdateDelete(t *testing.T) {
	m := newStore(t)
	ctx := context.Background()

	res, err := m.Write(ctx, scopeA, Write{Collection: Items, Op: OpCreate, Data: mustJSON(t, map[string]any{"title": "A", "isCompleted": false})})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	require.False(t, res.CreatedAt.IsZero())

	_, err = m.Write(ctx, scopeA, Write{Collection: Items, Op: OpUpdate, ID: res.ID, Data: mustJSON(t, map[string]any{"isCompleted": true})})
	require.NoError(t, err)

	docs := m.Docs(scopeA, Items)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"title":"A","isCompleted":true}`, string(docs[0].Data))
	assert.Equal(t, res.CreatedAt, docs[0].CreatedAt, "updates keep createdAt")

	_, err = m.Write(ctx, scopeA, Write{Collection: Items, Op: OpDelete, ID: res.ID})
	require.NoError(t, err)
	assert.Empty(t, m.Docs(scopeA, Items))

	_, err = m.Write(ctx, scopeA, Write{Collection: Items, Op: OpDelete, ID: res.ID})
	assert.NoError(t, err, "deleting a missing document succeeds")
}

func TestMemoryStore_UpdateMissingAndDuplicateCreate(t *testing.T) {
	m := newStore(t)
	ctx := context.Background()

	_, err := m.Write(ctx, scopeA, Write{Collection: Folders, Op: OpUpdate, ID: "nope", Data: mustJSON(t, map[string]any{"title": "x"})})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Write(ctx, scopeA, Write{Collection: Settings, Op: OpCreate, ID: SettingsDocID, Data: mustJSON(t, map[string]any{"password": "1234"})})
	require.NoError(t, err)
	_, err = m.Write(ctx, scopeA, Write{Collection: Settings, Op: OpCreate, ID: SettingsDocID})
	assert.ErrorIs(t, err, ErrInvalidWrite)
}

func TestMemoryStore_TimestampsStrictlyIncrease(t *testing.T) {
	m := newStore(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	var last time.Time
	for i := 0; i < 3; i++ {
		res, err := m.Write(context.Background(), scopeA, Write{Collection: Items, Op: OpCreate})
		require.NoError(t, err)
		assert.True(t, res.CreatedAt.After(last))
		last = res.CreatedAt
	}
}

func TestMemoryStore_SubscribeOrdersAndFollowsWrites(t *testing.T) {
	m := newStore(t)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Seed(scopeA, Items,
		Doc{ID: "old", CreatedAt: t0},
		Doc{ID: "new", CreatedAt: t0.Add(time.Hour)},
	)

	var rec recorder
	unsub, err := m.Subscribe(context.Background(), scopeA, Query{Collection: Items, OrderBy: CreatedAtKey, Direction: Descending}, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return len(rec.lastDocs()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "new", rec.lastDocs()[0].ID)

	m.SetClock(func() time.Time { return t0.Add(2 * time.Hour) })
	res, err := m.Write(context.Background(), scopeA, Write{Collection: Items, Op: OpCreate})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		docs := rec.lastDocs()
		return len(docs) == 3 && docs[0].ID == res.ID
	}, time.Second, time.Millisecond)
}

func TestMemoryStore_ScopesAreIsolated(t *testing.T) {
	m := newStore(t)
	scopeB := Scope{Namespace: "my-brain-app", Owner: "bob"}

	var rec recorder
	unsub, err := m.Subscribe(context.Background(), scopeB, Query{Collection: Folders}, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()
	require.Eventually(t, func() bool { n, _ := rec.counts(); return n == 1 }, time.Second, time.Millisecond)

	_, err = m.Write(context.Background(), scopeA, Write{Collection: Folders, Op: OpCreate})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	n, _ := rec.counts()
	assert.Equal(t, 1, n, "writes in another scope do not notify")
	assert.Empty(t, m.Docs(scopeB, Folders))

	_, err = m.Subscribe(context.Background(), Scope{Owner: "bob"}, Query{Collection: Folders}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	m := newStore(t)
	ctx := context.Background()

	boom := errors.New("quota exceeded")
	m.FailWrites(boom)
	_, err := m.Write(ctx, scopeA, Write{Collection: Items, Op: OpCreate})
	assert.ErrorIs(t, err, boom)
	m.FailWrites(nil)

	var hooked []Op
	m.OnWrite(func(w Write) { hooked = append(hooked, w.Op) })
	_, err = m.Write(ctx, scopeA, Write{Collection: Items, Op: OpCreate})
	require.NoError(t, err)
	assert.Equal(t, []Op{OpCreate}, hooked)

	var rec recorder
	_, err = m.Subscribe(ctx, scopeA, Query{Collection: Items}, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Subscriptions() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { n, _ := rec.counts(); return n == 1 }, time.Second, time.Millisecond)

	denied := errors.New("permission denied")
	m.FailSubscriptions(scopeA, Items, denied)
	require.Eventually(t, func() bool { _, e := rec.counts(); return e == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.Subscriptions() == 0 }, time.Second, time.Millisecond)
}

func TestMemoryStore_ClosedStoreRefusesSubscriptions(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Close())
	_, err := m.Subscribe(context.Background(), scopeA, Query{Collection: Items}, nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
