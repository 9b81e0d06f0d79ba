// Package mirror holds the latest snapshot of the remote settings, folders and
// items collections. Each inbound snapshot replaces one collection wholesale
// and publishes a new immutable Snapshot; readers never observe a partially
// applied update.
package mirror

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"mybrain/internal/model"
	"mybrain/internal/remote"
)

// SubscriptionError reports a failed snapshot stream. The mirror keeps serving
// the last known-good data for that collection.
type SubscriptionError struct {
	Collection remote.Collection
	Err        error
}

func (e SubscriptionError) Error() string {
	return fmt.Sprintf("%s subscription failed: %v", e.Collection, e.Err)
}

func (e SubscriptionError) Unwrap() error { return e.Err }

// Snapshot is one publication of the mirror. It must be treated as read-only;
// the mirror never mutates a published snapshot.
type Snapshot struct {
	Version uint64

	// Folders are ordered by creation, oldest first.
	Folders []model.Folder
	// Items are ordered by creation, newest first.
	Items []model.Item

	Settings model.Settings
	// HasSettings reports whether the settings record exists, even when its
	// fields could not be decoded.
	HasSettings bool

	loaded    map[remote.Collection]bool
	errs      map[remote.Collection]error
	folderIdx map[string]int
	itemIdx   map[string]int
}

func (s *Snapshot) Folder(id string) (model.Folder, bool) {
	if s == nil {
		return model.Folder{}, false
	}
	i, ok := s.folderIdx[id]
	if !ok {
		return model.Folder{}, false
	}
	return s.Folders[i], true
}

func (s *Snapshot) Item(id string) (model.Item, bool) {
	if s == nil {
		return model.Item{}, false
	}
	i, ok := s.itemIdx[id]
	if !ok {
		return model.Item{}, false
	}
	return s.Items[i], true
}

// Loaded reports whether at least one snapshot of c has been applied.
func (s *Snapshot) Loaded(c remote.Collection) bool {
	return s != nil && s.loaded[c]
}

// Err returns the subscription error recorded for c, if any.
func (s *Snapshot) Err(c remote.Collection) error {
	if s == nil {
		return nil
	}
	return s.errs[c]
}

// Stale reports whether any collection stream has failed.
func (s *Snapshot) Stale() bool {
	return s != nil && len(s.errs) > 0
}

// Errors returns the recorded subscription errors in a stable order.
func (s *Snapshot) Errors() []error {
	if s == nil {
		return nil
	}
	var out []error
	for _, c := range []remote.Collection{remote.Settings, remote.Folders, remote.Items} {
		if err, ok := s.errs[c]; ok {
			out = append(out, err)
		}
	}
	return out
}

// Mirror is the local mirror store. One writer path (the Replace* methods and
// Fail) and any number of readers.
type Mirror struct {
	mu  sync.RWMutex
	cur *Snapshot
}

func New() *Mirror {
	return &Mirror{cur: &Snapshot{
		loaded:    map[remote.Collection]bool{},
		errs:      map[remote.Collection]error{},
		folderIdx: map[string]int{},
		itemIdx:   map[string]int{},
	}}
}

// Snapshot returns the current publication.
func (m *Mirror) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Version returns the current publication version.
func (m *Mirror) Version() uint64 {
	return m.Snapshot().Version
}

// Apply routes a remote snapshot to the matching Replace method.
func (m *Mirror) Apply(snap remote.Snapshot) (*Snapshot, error) {
	switch snap.Collection {
	case remote.Folders:
		return m.ReplaceFolders(snap.Docs)
	case remote.Items:
		return m.ReplaceItems(snap.Docs)
	case remote.Settings:
		return m.ReplaceSettings(snap.Docs)
	default:
		return m.Snapshot(), fmt.Errorf("unknown collection %q", snap.Collection)
	}
}

// ReplaceFolders replaces the folder mapping. Documents that fail to decode
// are skipped and reported in the returned error; the rest are applied.
func (m *Mirror) ReplaceFolders(docs []remote.Doc) (*Snapshot, error) {
	folders := make([]model.Folder, 0, len(docs))
	var errs []error
	for _, d := range docs {
		f, err := DecodeFolder(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		folders = append(folders, f)
	}
	slices.SortStableFunc(folders, func(a, b model.Folder) int { return a.CreatedAt.Compare(b.CreatedAt) })
	idx := make(map[string]int, len(folders))
	for i, f := range folders {
		idx[f.ID] = i
	}

	return m.publish(remote.Folders, func(next *Snapshot) {
		next.Folders = folders
		next.folderIdx = idx
	}), errors.Join(errs...)
}

// ReplaceItems replaces the item mapping, newest first.
func (m *Mirror) ReplaceItems(docs []remote.Doc) (*Snapshot, error) {
	items := make([]model.Item, 0, len(docs))
	var errs []error
	for _, d := range docs {
		it, err := DecodeItem(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, it)
	}
	slices.SortStableFunc(items, func(a, b model.Item) int { return b.CreatedAt.Compare(a.CreatedAt) })
	idx := make(map[string]int, len(items))
	for i, it := range items {
		idx[it.ID] = i
	}

	return m.publish(remote.Items, func(next *Snapshot) {
		next.Items = items
		next.itemIdx = idx
	}), errors.Join(errs...)
}

// ReplaceSettings applies the settings collection. Only the config document is
// used. When it exists but does not decode, the previous settings are kept and
// HasSettings stays true.
func (m *Mirror) ReplaceSettings(docs []remote.Doc) (*Snapshot, error) {
	var (
		settings model.Settings
		found    bool
		err      error
	)
	for _, d := range docs {
		if d.ID != remote.SettingsDocID {
			continue
		}
		found = true
		settings, err = DecodeSettings(d)
		break
	}
	return m.publish(remote.Settings, func(next *Snapshot) {
		next.HasSettings = found
		switch {
		case !found:
			next.Settings = model.Settings{}
		case err == nil:
			next.Settings = settings
		}
	}), err
}

// Fail records a subscription failure for c. The data of c is kept as-is.
func (m *Mirror) Fail(c remote.Collection, err error) *Snapshot {
	if err == nil {
		return m.Snapshot()
	}
	var subErr SubscriptionError
	if !errors.As(err, &subErr) {
		subErr = SubscriptionError{Collection: c, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneLocked()
	next.errs[c] = subErr
	m.cur = next
	return next
}

func (m *Mirror) publish(c remote.Collection, fill func(next *Snapshot)) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneLocked()
	fill(next)
	next.loaded[c] = true
	delete(next.errs, c)
	m.cur = next
	return next
}

// cloneLocked copies the publication header. Collection slices and indexes are
// shared because they are never mutated after publication.
func (m *Mirror) cloneLocked() *Snapshot {
	prev := m.cur
	next := *prev
	next.Version = prev.Version + 1
	next.loaded = make(map[remote.Collection]bool, len(prev.loaded)+1)
	for k, v := range prev.loaded {
		next.loaded[k] = v
	}
	next.errs = make(map[remote.Collection]error, len(prev.errs))
	for k, v := range prev.errs {
		next.errs[k] = v
	}
	return &next
}
