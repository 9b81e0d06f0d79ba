// Package view computes the visible item list from the mirrored items and the
// user's navigation and filter choices.
package view

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"mybrain/internal/model"
)

// Filter is the full set of view inputs besides the items themselves.
type Filter struct {
	// FolderID is the active folder; nil is the root.
	FolderID *string
	// Search, when non-empty, replaces folder scoping with a global
	// case-insensitive match on title or content.
	Search        string
	ShowCompleted bool
	// Kind keeps only items of this kind unless it is model.KindAll or empty.
	Kind model.Kind
}

// Project applies the filter pipeline in fixed order: context selection,
// completion filter, kind filter. The input order is preserved.
func Project(items []model.Item, f Filter) []model.Item {
	out := make([]model.Item, 0, len(items))

	// A Caser is stateful; one per call keeps Project safe for concurrent use.
	folder := cases.Fold()
	var needle string
	if f.Search != "" {
		needle = folder.String(f.Search)
	}

	for _, it := range items {
		if f.Search != "" {
			if !strings.Contains(folder.String(it.Title), needle) && !strings.Contains(folder.String(it.Content), needle) {
				continue
			}
		} else if !model.SameID(it.CategoryID, f.FolderID) {
			continue
		}

		if !f.ShowCompleted && it.IsCompleted {
			continue
		}

		if f.Kind != "" && f.Kind != model.KindAll && it.Kind != f.Kind {
			continue
		}

		out = append(out, it)
	}
	return out
}

type memoKey struct {
	version       uint64
	hasFolder     bool
	folderID      string
	search        string
	showCompleted bool
	kind          model.Kind
}

func keyFor(version uint64, f Filter) memoKey {
	k := memoKey{
		version:       version,
		search:        f.Search,
		showCompleted: f.ShowCompleted,
		kind:          f.Kind,
	}
	if k.kind == "" {
		k.kind = model.KindAll
	}
	if f.FolderID != nil {
		k.hasFolder = true
		k.folderID = *f.FolderID
	}
	return k
}

// Projector memoizes Project for the last (mirror version, filter) tuple.
// Identical inputs return the identical slice; callers must not modify it.
type Projector struct {
	mu     sync.Mutex
	key    memoKey
	result []model.Item
	valid  bool

	hits, misses uint64
}

// Project returns the projection of items for the given mirror version.
// items must be the item slice of that version.
func (p *Projector) Project(version uint64, items []model.Item, f Filter) []model.Item {
	k := keyFor(version, f)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid && p.key == k {
		p.hits++
		return p.result
	}
	p.misses++
	p.result = Project(items, f)
	p.key = k
	p.valid = true
	return p.result
}

// Stats returns memo hits and misses.
func (p *Projector) Stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
