// Package mutate issues create/update/delete requests against the remote store.
//
// Writes are fire-and-observe: a request is validated synchronously, queued,
// and sent in submission order by a single worker. The coordinator never
// touches mirrored data; the effect of a write becomes visible only when the
// store republishes a snapshot that includes it.
package mutate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mybrain/internal/model"
	"mybrain/internal/remote"
)

// After is called on the worker goroutine once a write settles, unless the
// coordinator was closed in the meantime. It runs before the Pending is done.
type After func(res remote.Result, err error)

type Options struct {
	Logger *zap.Logger
	// OnError receives every failed write while the coordinator is open.
	OnError func(error)
}

type Coordinator struct {
	store   remote.Store
	scope   remote.Scope
	log     *zap.Logger
	onError func(error)

	mu     sync.Mutex
	queue  []*job
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

type job struct {
	pending *Pending
	ctx     context.Context
	run     func(ctx context.Context) (remote.Result, error)
	after   []After
}

// Pending tracks one issued write. Waiting on it is optional.
type Pending struct {
	Op         remote.Op
	Collection remote.Collection
	ID         string

	done chan struct{}
	res  remote.Result
	err  error
}

// Done is closed when the write has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the write settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) (remote.Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return remote.Result{}, ctx.Err()
	}
}

func New(store remote.Store, scope remote.Scope, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		store:   store,
		scope:   scope,
		log:     log.Named("mutate"),
		onError: opts.OnError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.worker()
	return c
}

// Close stops accepting writes. Writes already issued are still sent, but
// their completions and errors are no longer reported.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

// Wait blocks until the worker has drained the queue after Close, or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) worker() {
	defer close(c.done)
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			<-c.wake
			continue
		}
		j := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.execute(j)
	}
}

func (c *Coordinator) execute(j *job) {
	p := j.pending
	res, err := j.run(j.ctx)
	if err != nil {
		err = WriteError{Op: p.Op, Collection: p.Collection, ID: p.ID, Err: err}
	}
	p.res, p.err = res, err
	defer close(p.done)

	if c.isClosed() {
		c.log.Debug("write settled after close", zap.String("op", string(p.Op)), zap.String("collection", string(p.Collection)), zap.Error(err))
		return
	}
	if err != nil {
		c.log.Warn("write failed",
			zap.String("op", string(p.Op)),
			zap.String("collection", string(p.Collection)),
			zap.String("id", p.ID),
			zap.Error(err))
		if c.onError != nil {
			c.onError(err)
		}
	} else {
		c.log.Debug("write acknowledged",
			zap.String("op", string(p.Op)),
			zap.String("collection", string(p.Collection)),
			zap.String("id", res.ID))
	}
	for _, fn := range j.after {
		fn(res, err)
	}
}

func (c *Coordinator) enqueue(ctx context.Context, p *Pending, run func(ctx context.Context) (remote.Result, error), after []After) (*Pending, error) {
	p.done = make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.queue = append(c.queue, &job{
		pending: p,
		// Issued writes are not cancellable.
		ctx:   context.WithoutCancel(ctx),
		run:   run,
		after: after,
	})
	c.mu.Unlock()
	c.signal()
	return p, nil
}

func (c *Coordinator) submit(ctx context.Context, w remote.Write, after []After) (*Pending, error) {
	p := &Pending{Op: w.Op, Collection: w.Collection, ID: w.ID}
	return c.enqueue(ctx, p, func(ctx context.Context) (remote.Result, error) {
		return c.store.Write(ctx, c.scope, w)
	}, after)
}

func requireTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ValidationError{Field: "title", Reason: "must not be empty"}
	}
	return nil
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return ValidationError{Field: kind + " id", Reason: "must not be empty"}
	}
	return nil
}

func encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateFolder creates a folder under parentID (nil for the root).
func (c *Coordinator) CreateFolder(ctx context.Context, title string, parentID *string, after ...After) (*Pending, error) {
	if err := requireTitle(title); err != nil {
		return nil, err
	}
	data, err := encode(map[string]any{
		"title":    title,
		"parentId": parentID,
	})
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Folders, Op: remote.OpCreate, Data: data}, after)
}

// ItemDraft is the input of CreateItem.
type ItemDraft struct {
	Title      string
	Content    string
	Kind       model.Kind
	CategoryID *string
	Schedule   *string
	// AtRoot files the item at the root even when the caller would otherwise
	// default a nil CategoryID to its current folder.
	AtRoot bool
}

func validKind(k model.Kind) error {
	for _, known := range model.Kinds() {
		if k == known {
			return nil
		}
	}
	return ValidationError{Field: "kind", Reason: "unknown kind " + string(k)}
}

// CreateItem creates an open item. An empty kind means text.
func (c *Coordinator) CreateItem(ctx context.Context, d ItemDraft, after ...After) (*Pending, error) {
	if err := requireTitle(d.Title); err != nil {
		return nil, err
	}
	if d.Kind == "" {
		d.Kind = model.KindText
	}
	if err := validKind(d.Kind); err != nil {
		return nil, err
	}
	if d.AtRoot {
		d.CategoryID = nil
	}
	data, err := encode(map[string]any{
		"title":       d.Title,
		"content":     d.Content,
		"type":        d.Kind,
		"categoryId":  d.CategoryID,
		"schedule":    d.Schedule,
		"isCompleted": false,
	})
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Items, Op: remote.OpCreate, Data: data}, after)
}

// UpdateFolder renames a folder.
func (c *Coordinator) UpdateFolder(ctx context.Context, id, title string, after ...After) (*Pending, error) {
	if err := requireID("folder", id); err != nil {
		return nil, err
	}
	if err := requireTitle(title); err != nil {
		return nil, err
	}
	data, err := encode(map[string]any{"title": title})
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Folders, Op: remote.OpUpdate, ID: id, Data: data}, after)
}

// ItemPatch is a partial item update; nil fields are left unchanged.
// ClearSchedule removes the schedule and takes precedence over Schedule.
type ItemPatch struct {
	Title         *string
	Content       *string
	Kind          *model.Kind
	Schedule      *string
	ClearSchedule bool
}

func (p ItemPatch) fields() (map[string]any, error) {
	out := map[string]any{}
	if p.Title != nil {
		if err := requireTitle(*p.Title); err != nil {
			return nil, err
		}
		out["title"] = *p.Title
	}
	if p.Content != nil {
		out["content"] = *p.Content
	}
	if p.Kind != nil {
		if err := validKind(*p.Kind); err != nil {
			return nil, err
		}
		out["type"] = *p.Kind
	}
	switch {
	case p.ClearSchedule:
		out["schedule"] = nil
	case p.Schedule != nil:
		out["schedule"] = *p.Schedule
	}
	return out, nil
}

// UpdateItem applies a partial update.
func (c *Coordinator) UpdateItem(ctx context.Context, id string, patch ItemPatch, after ...After) (*Pending, error) {
	if err := requireID("item", id); err != nil {
		return nil, err
	}
	fields, err := patch.fields()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ValidationError{Field: "patch", Reason: "no fields to update"}
	}
	data, err := encode(fields)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Items, Op: remote.OpUpdate, ID: id, Data: data}, after)
}

// DeleteFolder removes the folder record only. Child folders and items keep
// their references and become orphans.
func (c *Coordinator) DeleteFolder(ctx context.Context, id string, after ...After) (*Pending, error) {
	if err := requireID("folder", id); err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Folders, Op: remote.OpDelete, ID: id}, after)
}

func (c *Coordinator) DeleteItem(ctx context.Context, id string, after ...After) (*Pending, error) {
	if err := requireID("item", id); err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Items, Op: remote.OpDelete, ID: id}, after)
}

// ToggleCompletion writes the negation of it.IsCompleted. Callers decide
// whether the item kind supports completion.
func (c *Coordinator) ToggleCompletion(ctx context.Context, it model.Item, after ...After) (*Pending, error) {
	if err := requireID("item", it.ID); err != nil {
		return nil, err
	}
	data, err := encode(map[string]any{"isCompleted": !it.IsCompleted})
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, remote.Write{Collection: remote.Items, Op: remote.OpUpdate, ID: it.ID, Data: data}, after)
}

// SetPassword stores the gate password in the settings record, creating the
// record when it does not exist yet.
func (c *Coordinator) SetPassword(ctx context.Context, password string, after ...After) (*Pending, error) {
	if password == "" {
		return nil, ValidationError{Field: "password", Reason: "must not be empty"}
	}
	data, err := encode(map[string]any{"password": password})
	if err != nil {
		return nil, err
	}
	p := &Pending{Op: remote.OpUpdate, Collection: remote.Settings, ID: remote.SettingsDocID}
	return c.enqueue(ctx, p, func(ctx context.Context) (remote.Result, error) {
		res, err := c.store.Write(ctx, c.scope, remote.Write{Collection: remote.Settings, Op: remote.OpUpdate, ID: remote.SettingsDocID, Data: data})
		if errors.Is(err, remote.ErrNotFound) {
			return c.store.Write(ctx, c.scope, remote.Write{Collection: remote.Settings, Op: remote.OpCreate, ID: remote.SettingsDocID, Data: data})
		}
		return res, err
	}, after)
}
