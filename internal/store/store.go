// Package store is a remote.Store kept in a local SQLite database. Several
// processes may share one database file; each picks up the others' commits
// through a file watcher and republishes snapshots to its subscribers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mybrain/internal/logging"
	"mybrain/internal/remote"
)

type Options struct {
	Logger *zap.Logger
	// Watch republishes snapshots when another process writes the database.
	Watch bool
	// Now overrides the createdAt clock.
	Now func() time.Time
}

type Store struct {
	Dir string

	db   *sql.DB
	log  *zap.Logger
	feed *remote.Feed

	mu     sync.Mutex // guards lastMs and closed
	now    func() time.Time
	lastMs int64
	closed bool

	watcher *watcher
}

var _ remote.Store = (*Store)(nil)

// Open opens (creating if needed) the database in dir.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: missing data dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := openSQLite(ctx, sqlitePath(dir))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", sqlitePath(dir), err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		Dir:  dir,
		db:   db,
		log:  logging.OrNop(opts.Logger).Named("store"),
		feed: remote.NewFeed(),
		now:  now,
	}
	if opts.Watch {
		w, err := newWatcher(ctx, s)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.watcher = w
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return sqlitePath(s.Dir)
}

func (s *Store) Subscribe(ctx context.Context, scope remote.Scope, q remote.Query, onSnapshot func(remote.Snapshot), onError func(error)) (remote.Unsubscribe, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	switch q.Collection {
	case remote.Settings, remote.Folders, remote.Items:
	default:
		return nil, fmt.Errorf("unknown collection %q", q.Collection)
	}
	key := scope.Path(q.Collection)
	load := func(ctx context.Context) ([]remote.Doc, error) {
		return s.load(ctx, key, q.Direction)
	}
	return s.feed.Add(ctx, key, q.Collection, load, onSnapshot, onError)
}

func (s *Store) load(ctx context.Context, key string, dir remote.Direction) ([]remote.Doc, error) {
	q := `SELECT id, created_at_unixms, json FROM documents WHERE path = ?`
	switch dir {
	case remote.Ascending:
		q += ` ORDER BY created_at_unixms ASC, rowid ASC`
	case remote.Descending:
		q += ` ORDER BY created_at_unixms DESC, rowid DESC`
	default:
		q += ` ORDER BY rowid ASC`
	}
	rows, err := s.db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []remote.Doc{}
	for rows.Next() {
		var (
			id   string
			ms   int64
			body string
		)
		if err := rows.Scan(&id, &ms, &body); err != nil {
			return nil, err
		}
		out = append(out, remote.Doc{ID: id, CreatedAt: time.UnixMilli(ms).UTC(), Data: json.RawMessage(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Write(ctx context.Context, scope remote.Scope, w remote.Write) (remote.Result, error) {
	if err := scope.Validate(); err != nil {
		return remote.Result{}, err
	}
	if err := w.Validate(); err != nil {
		return remote.Result{}, err
	}
	if s.isClosed() {
		return remote.Result{}, remote.ErrClosed
	}
	key := scope.Path(w.Collection)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Result{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.applyTx(ctx, tx, key, w)
	if err != nil {
		return remote.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return remote.Result{}, err
	}

	s.log.Debug("write committed",
		zap.String("path", key),
		zap.String("op", string(w.Op)),
		zap.String("id", res.ID))
	s.feed.Notify(key)
	return res, nil
}

func (s *Store) applyTx(ctx context.Context, tx *sql.Tx, key string, w remote.Write) (remote.Result, error) {
	var (
		stored    string
		createdMs int64
	)
	exists := false
	if w.ID != "" {
		err := tx.QueryRowContext(ctx, `SELECT json, created_at_unixms FROM documents WHERE path = ? AND id = ?`, key, w.ID).Scan(&stored, &createdMs)
		switch {
		case err == nil:
			exists = true
		case errors.Is(err, sql.ErrNoRows):
		default:
			return remote.Result{}, err
		}
	}

	nowMs := s.stamp()
	switch w.Op {
	case remote.OpCreate:
		if exists {
			return remote.Result{}, fmt.Errorf("%w: %s already exists", remote.ErrInvalidWrite, w.ID)
		}
		id := w.ID
		if id == "" {
			var err error
			if id, err = newRandomID(idPrefix(w.Collection)); err != nil {
				return remote.Result{}, err
			}
		}
		data, err := remote.MergeData(nil, w.Data)
		if err != nil {
			return remote.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents(path, id, created_at_unixms, json, updated_at_unixms) VALUES(?, ?, ?, ?, ?)`,
			key, id, nowMs, string(data), nowMs); err != nil {
			return remote.Result{}, err
		}
		return remote.Result{ID: id, CreatedAt: time.UnixMilli(nowMs).UTC()}, nil

	case remote.OpUpdate:
		if !exists {
			return remote.Result{}, fmt.Errorf("%w: %s", remote.ErrNotFound, w.ID)
		}
		data, err := remote.MergeData(json.RawMessage(stored), w.Data)
		if err != nil {
			return remote.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET json = ?, updated_at_unixms = ? WHERE path = ? AND id = ?`,
			string(data), nowMs, key, w.ID); err != nil {
			return remote.Result{}, err
		}
		return remote.Result{ID: w.ID, CreatedAt: time.UnixMilli(createdMs).UTC()}, nil

	case remote.OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ? AND id = ?`, key, w.ID); err != nil {
			return remote.Result{}, err
		}
		return remote.Result{ID: w.ID}, nil
	}
	return remote.Result{}, fmt.Errorf("%w: unknown op %q", remote.ErrInvalidWrite, w.Op)
}

// stamp returns a createdAt in unix ms that is strictly increasing within this process.
func (s *Store) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UTC().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms
	return ms
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Refresh republishes every live subscription.
func (s *Store) Refresh() {
	s.feed.NotifyAll()
}

// Subscriptions returns the number of live subscriptions.
func (s *Store) Subscriptions() int {
	return s.feed.Len()
}

// Close stops the watcher, ends all subscriptions and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.close()
	}
	s.feed.Close()
	return s.db.Close()
}
