// Package hierarchy derives parent/child structure and breadcrumb paths from a
// flat folder mapping. A Tree is built once per mirror publication and is
// read-only afterwards.
package hierarchy

import (
	"fmt"

	"mybrain/internal/model"
)

// rootKey is the adjacency key for folders whose parent is nil. Folder ids are
// never empty, so it cannot collide.
const rootKey = ""

type WarningKind string

const (
	WarningOrphan WarningKind = "orphan"
	WarningCycle  WarningKind = "cycle"
)

// IntegrityWarning describes a folder whose parent chain is broken. It is never
// fatal: the resolver treats a broken reference as the root.
type IntegrityWarning struct {
	Kind     WarningKind
	FolderID string
	ParentID string
}

func (w IntegrityWarning) Error() string {
	switch w.Kind {
	case WarningCycle:
		return fmt.Sprintf("folder %s is part of a parent cycle", w.FolderID)
	default:
		return fmt.Sprintf("folder %s references missing parent %s", w.FolderID, w.ParentID)
	}
}

type Tree struct {
	byID     map[string]model.Folder
	children map[string][]string // parent id (rootKey for nil) -> child ids, creation order
	order    []string
}

// New indexes folders. Input order is kept for siblings; the mirror supplies
// folders oldest first.
func New(folders []model.Folder) *Tree {
	t := &Tree{
		byID:     make(map[string]model.Folder, len(folders)),
		children: map[string][]string{},
		order:    make([]string, 0, len(folders)),
	}
	for _, f := range folders {
		if _, dup := t.byID[f.ID]; dup {
			continue
		}
		t.byID[f.ID] = f
		t.order = append(t.order, f.ID)
	}
	for _, id := range t.order {
		key := parentKey(t.byID[id].ParentID)
		t.children[key] = append(t.children[key], id)
	}
	return t
}

func parentKey(id *string) string {
	if id == nil {
		return rootKey
	}
	return *id
}

func (t *Tree) Len() int {
	return len(t.order)
}

func (t *Tree) Folder(id string) (model.Folder, bool) {
	f, ok := t.byID[id]
	return f, ok
}

func (t *Tree) Contains(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// AncestorPath returns the breadcrumb chain for folderID, starting with the
// synthetic home entry and ending with folderID itself. The walk stops at a nil
// parent, at a reference to a missing folder, or when an id repeats.
func (t *Tree) AncestorPath(folderID *string) []model.Crumb {
	var chain []model.Crumb
	seen := map[string]bool{}
	cur := folderID
	for cur != nil {
		id := *cur
		if seen[id] {
			break
		}
		seen[id] = true
		f, ok := t.byID[id]
		if !ok {
			break
		}
		fid := f.ID
		chain = append(chain, model.Crumb{ID: &fid, Name: f.Title})
		cur = f.ParentID
	}

	out := make([]model.Crumb, 0, len(chain)+1)
	out = append(out, model.HomeCrumb())
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i])
	}
	return out
}

// ChildrenOf returns the direct children of folderID (nil for the root).
func (t *Tree) ChildrenOf(folderID *string) []model.Folder {
	ids := t.children[parentKey(folderID)]
	out := make([]model.Folder, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[id])
	}
	return out
}

func (t *Tree) HasChildren(folderID string) bool {
	return len(t.children[folderID]) > 0
}

// Descendants returns every folder id below folderID, breadth first.
func (t *Tree) Descendants(folderID string) []string {
	var out []string
	seen := map[string]bool{folderID: true}
	queue := []string{folderID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range t.children[id] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// Node is one visible row of a rendered folder tree.
type Node struct {
	Folder      model.Folder
	Depth       int
	HasChildren bool
}

// Flatten walks the tree from the root in pre-order using an explicit stack.
// expanded decides whether a folder's children are visited; nil expands all.
// Folders unreachable from the root (orphans, cycles) are not returned.
func (t *Tree) Flatten(expanded func(id string) bool) []Node {
	type frame struct {
		id    string
		depth int
	}

	out := make([]Node, 0, len(t.order))
	seen := make(map[string]bool, len(t.order))

	stack := make([]frame, 0, len(t.children[rootKey]))
	pushChildren := func(parent string, depth int) {
		ids := t.children[parent]
		// Reverse push so the oldest sibling is popped first.
		for i := len(ids) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: ids[i], depth: depth})
		}
	}
	pushChildren(rootKey, 0)

	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[fr.id] {
			continue
		}
		seen[fr.id] = true

		out = append(out, Node{
			Folder:      t.byID[fr.id],
			Depth:       fr.depth,
			HasChildren: t.HasChildren(fr.id),
		})
		if expanded == nil || expanded(fr.id) {
			pushChildren(fr.id, fr.depth+1)
		}
	}
	return out
}

// Warnings reports orphans (missing parent) and folders that sit on a parent cycle.
func (t *Tree) Warnings() []IntegrityWarning {
	var out []IntegrityWarning
	onCycle := map[string]bool{}

	for _, id := range t.order {
		f := t.byID[id]
		if f.ParentID != nil {
			if _, ok := t.byID[*f.ParentID]; !ok {
				out = append(out, IntegrityWarning{Kind: WarningOrphan, FolderID: id, ParentID: *f.ParentID})
			}
		}

		if onCycle[id] {
			continue
		}
		// Walk up; if we come back to id, every folder on the way is on the cycle.
		seen := map[string]bool{id: true}
		path := []string{id}
		cur := f.ParentID
		for cur != nil {
			if *cur == id {
				for _, p := range path {
					onCycle[p] = true
				}
				break
			}
			if seen[*cur] {
				break
			}
			next, ok := t.byID[*cur]
			if !ok {
				break
			}
			seen[*cur] = true
			path = append(path, *cur)
			cur = next.ParentID
		}
	}

	for _, id := range t.order {
		if onCycle[id] {
			out = append(out, IntegrityWarning{Kind: WarningCycle, FolderID: id, ParentID: model.Deref(t.byID[id].ParentID)})
		}
	}
	return out
}
