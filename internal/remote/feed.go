package remote

import (
	"context"
	"sync"
)

// Loader reads the current, ordered contents of one subscribed query.
type Loader func(ctx context.Context) ([]Doc, error)

// Feed fans change notifications out to subscriptions. Each subscription owns
// one delivery goroutine with a single-slot mailbox: notifications that arrive
// while a snapshot is being built are coalesced into the next one, and
// snapshots for one subscription are delivered strictly in order.
//
// Store implementations call Notify after each committed write and let the
// Feed reload and deliver.
type Feed struct {
	mu     sync.Mutex
	subs   map[uint64]*feedSub
	nextID uint64
	closed bool

	wg sync.WaitGroup
}

type feedSub struct {
	key        string
	collection Collection
	load       Loader
	onSnapshot func(Snapshot)
	onError    func(error)

	wake chan struct{}
	fail chan error
	done chan struct{}
	once sync.Once
}

func NewFeed() *Feed {
	return &Feed{subs: map[uint64]*feedSub{}}
}

// Add registers a subscription keyed by key (stores use the scoped collection
// path). The first snapshot is delivered asynchronously.
func (f *Feed) Add(ctx context.Context, key string, c Collection, load Loader, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if onSnapshot == nil {
		onSnapshot = func(Snapshot) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	sub := &feedSub{
		key:        key,
		collection: c,
		load:       load,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		fail:       make(chan error, 1),
		done:       make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	f.wg.Add(1)
	f.mu.Unlock()

	sub.wake <- struct{}{}
	go func() {
		defer f.wg.Done()
		defer f.remove(id)
		sub.run(ctx)
	}()

	return func() { sub.stop() }, nil
}

// Notify schedules a fresh snapshot for every subscription on key.
func (f *Feed) Notify(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.key == key {
			sub.poke()
		}
	}
}

// NotifyAll schedules a fresh snapshot for every subscription.
func (f *Feed) NotifyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.poke()
	}
}

// Fail terminates every subscription on key with err.
func (f *Feed) Fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.key != key {
			continue
		}
		select {
		case sub.fail <- err:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close stops every subscription and waits for their goroutines to exit.
// Callbacks already running are allowed to finish.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	subs := make([]*feedSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	f.wg.Wait()
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (s *feedSub) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *feedSub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *feedSub) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *feedSub) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			if !s.stopped() {
				s.onError(ctx.Err())
			}
			return
		case err := <-s.fail:
			if !s.stopped() {
				s.onError(err)
			}
			return
		case <-s.wake:
		}

		docs, err := s.load(ctx)
		if s.stopped() {
			return
		}
		if err != nil {
			s.onError(err)
			return
		}
		s.onSnapshot(Snapshot{Collection: s.collection, Docs: docs})
	}
}
