package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store intended for tests and examples. It keeps
// documents per scoped collection path, assigns createdAt at write time, and
// delivers snapshots asynchronously through a Feed.
//
// Failure injection: FailWrites makes subsequent writes fail, FailSubscriptions
// terminates the live subscriptions of one collection.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string][]Doc // scoped collection path -> insertion order
	writeErr  error
	writeHook func(Write)
	now       func() time.Time
	lastTS    time.Time

	feed *Feed
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: map[string][]Doc{},
		now:  time.Now,
		feed: NewFeed(),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Subscribe(ctx context.Context, scope Scope, q Query, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	key := scope.Path(q.Collection)
	load := func(context.Context) ([]Doc, error) {
		m.mu.RLock()
		out := make([]Doc, len(m.docs[key]))
		copy(out, m.docs[key])
		m.mu.RUnlock()
		SortDocs(out, q.Direction)
		return out, nil
	}
	return m.feed.Add(ctx, key, q.Collection, load, onSnapshot, onError)
}

func (m *MemoryStore) Write(ctx context.Context, scope Scope, w Write) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, err
	}
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key := scope.Path(w.Collection)

	m.mu.Lock()
	hook := m.writeHook
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return Result{}, err
	}
	res, err := m.applyLocked(key, w)
	m.mu.Unlock()
	if err != nil {
		return Result{}, err
	}

	if hook != nil {
		hook(w)
	}
	m.feed.Notify(key)
	return res, nil
}

func (m *MemoryStore) applyLocked(key string, w Write) (Result, error) {
	docs := m.docs[key]
	idx := -1
	for i := range docs {
		if docs[i].ID == w.ID {
			idx = i
			break
		}
	}

	switch w.Op {
	case OpCreate:
		id := w.ID
		if id == "" {
			id = uuid.NewString()
		} else if idx >= 0 {
			return Result{}, fmt.Errorf("%w: %s already exists", ErrInvalidWrite, id)
		}
		data, err := MergeData(nil, w.Data)
		if err != nil {
			return Result{}, err
		}
		ts := m.stampLocked()
		m.docs[key] = append(docs, Doc{ID: id, CreatedAt: ts, Data: data})
		return Result{ID: id, CreatedAt: ts}, nil
	case OpUpdate:
		if idx < 0 {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, w.ID)
		}
		data, err := MergeData(docs[idx].Data, w.Data)
		if err != nil {
			return Result{}, err
		}
		next := make([]Doc, len(docs))
		copy(next, docs)
		next[idx].Data = data
		m.docs[key] = next
		return Result{ID: w.ID, CreatedAt: docs[idx].CreatedAt}, nil
	case OpDelete:
		if idx < 0 {
			// Deleting a missing document is not an error.
			return Result{ID: w.ID}, nil
		}
		next := make([]Doc, 0, len(docs)-1)
		next = append(next, docs[:idx]...)
		next = append(next, docs[idx+1:]...)
		m.docs[key] = next
		return Result{ID: w.ID}, nil
	}
	return Result{}, fmt.Errorf("%w: unknown op %q", ErrInvalidWrite, w.Op)
}

// stampLocked returns a strictly increasing server timestamp.
func (m *MemoryStore) stampLocked() time.Time {
	ts := m.now().UTC()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Microsecond)
	}
	m.lastTS = ts
	return ts
}

// Seed inserts documents directly, bypassing write validation. Subscribers are notified.
func (m *MemoryStore) Seed(scope Scope, c Collection, docs ...Doc) {
	key := scope.Path(c)
	m.mu.Lock()
	m.docs[key] = append(m.docs[key], docs...)
	m.mu.Unlock()
	m.feed.Notify(key)
}

// Docs returns a copy of the stored documents of one collection in insertion order.
func (m *MemoryStore) Docs(scope Scope, c Collection) []Doc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Doc, len(m.docs[scope.Path(c)]))
	copy(out, m.docs[scope.Path(c)])
	return out
}

// FailWrites makes every later write return err. Pass nil to recover.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// OnWrite installs a hook called after each committed write, before subscribers are notified.
func (m *MemoryStore) OnWrite(fn func(Write)) {
	m.mu.Lock()
	m.writeHook = fn
	m.mu.Unlock()
}

// FailSubscriptions terminates the live subscriptions of one collection with err.
func (m *MemoryStore) FailSubscriptions(scope Scope, c Collection, err error) {
	m.feed.Fail(scope.Path(c), err)
}

// SetClock overrides the timestamp source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Subscriptions returns the number of live subscriptions.
func (m *MemoryStore) Subscriptions() int {
	return m.feed.Len()
}

func (m *MemoryStore) Close() error {
	m.feed.Close()
	return nil
}
