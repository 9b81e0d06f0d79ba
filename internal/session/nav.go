package session

import (
	"mybrain/internal/hierarchy"
	"mybrain/internal/model"
	"mybrain/internal/view"
)

// Nav is the user's navigation and filter intent. Breadcrumbs are always the
// ancestor chain of CurrentFolderID under the current folder mapping.
type Nav struct {
	CurrentFolderID *string       `json:"currentFolderId"`
	Breadcrumbs     []model.Crumb `json:"breadcrumbs"`
	Search          string        `json:"searchQuery"`
	ShowCompleted   bool          `json:"showCompleted"`
	Kind            model.Kind    `json:"kind"`
}

type navState struct {
	current       *string
	crumbs        []model.Crumb
	search        string
	showCompleted bool
	kind          model.Kind
}

func newNavState() navState {
	return navState{
		crumbs: []model.Crumb{model.HomeCrumb()},
		kind:   model.KindAll,
	}
}

func (n navState) export() Nav {
	out := Nav{
		Breadcrumbs:   append([]model.Crumb(nil), n.crumbs...),
		Search:        n.search,
		ShowCompleted: n.showCompleted,
		Kind:          n.kind,
	}
	if n.current != nil {
		id := *n.current
		out.CurrentFolderID = &id
	}
	return out
}

func (n navState) filter() view.Filter {
	return view.Filter{
		FolderID:      n.current,
		Search:        n.search,
		ShowCompleted: n.showCompleted,
		Kind:          n.kind,
	}
}

// moveLocked sets the current folder and rebuilds the breadcrumbs.
func (s *Session) moveLocked(folderID *string) {
	if folderID != nil {
		id := *folderID
		folderID = &id
	}
	s.nav.current = folderID
	s.nav.crumbs = s.tree.AncestorPath(folderID)
}

// relocateLocked runs after every folders snapshot. Breadcrumbs are recomputed
// so renames show up; if the current folder is gone the session moves to the
// nearest former ancestor that still exists, or to the root.
func (s *Session) relocateLocked() {
	cur := s.nav.current
	if cur == nil || s.tree.Contains(*cur) {
		s.moveLocked(cur)
		return
	}

	var target *string
	// Crumbs run home, ..., parent, current.
	for i := len(s.nav.crumbs) - 2; i >= 1; i-- {
		id := s.nav.crumbs[i].ID
		if id != nil && s.tree.Contains(*id) {
			target = id
			break
		}
	}
	s.log.Debug("current folder disappeared; relocating")
	s.moveLocked(target)
}

// Navigate moves to folderID (nil for the root) and clears the search.
func (s *Session) Navigate(folderID *string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if folderID != nil && !s.tree.Contains(*folderID) {
		s.mu.Unlock()
		return ErrUnknownFolder
	}
	s.nav.search = ""
	s.moveLocked(folderID)
	s.publishLocked()
	return nil
}

// NavigateCrumb moves to a breadcrumb entry.
func (s *Session) NavigateCrumb(c model.Crumb) error {
	return s.Navigate(c.ID)
}

// Up moves to the parent of the current folder. At the root it does nothing.
func (s *Session) Up() error {
	s.mu.Lock()
	var parent *string
	if n := len(s.nav.crumbs); n >= 2 {
		parent = s.nav.crumbs[n-2].ID
	}
	s.mu.Unlock()
	return s.Navigate(parent)
}

// SetSearch replaces the search query. A non-empty query searches all items
// regardless of the current folder.
func (s *Session) SetSearch(q string) error {
	return s.updateNav(func(n *navState) { n.search = q })
}

func (s *Session) SetShowCompleted(show bool) error {
	return s.updateNav(func(n *navState) { n.showCompleted = show })
}

// SetKindFilter restricts the view to one kind; model.KindAll shows every kind.
func (s *Session) SetKindFilter(k model.Kind) error {
	parsed, ok := model.ParseKind(string(k))
	if !ok {
		return unknownKindError(k)
	}
	if k == "" {
		parsed = model.KindAll
	}
	return s.updateNav(func(n *navState) { n.kind = parsed })
}

func (s *Session) updateNav(fn func(n *navState)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	fn(&s.nav)
	s.publishLocked()
	return nil
}

func (s *Session) Nav() Nav {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.export()
}

func (s *Session) Breadcrumbs() []model.Crumb {
	return s.Nav().Breadcrumbs
}

// View returns the visible items for the current navigation state. The slice
// is shared with later calls that hit the same inputs and must not be modified.
func (s *Session) View() []model.Item {
	s.mu.Lock()
	f := s.nav.filter()
	s.mu.Unlock()
	pub := s.mirror.Snapshot()
	return s.proj.Project(pub.Version, pub.Items, f)
}

// Subfolders returns the direct children of the current folder.
func (s *Session) Subfolders() []model.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.ChildrenOf(s.nav.current)
}

// Tree flattens the folder hierarchy; expanded nil expands everything.
func (s *Session) Tree(expanded func(id string) bool) []hierarchy.Node {
	s.mu.Lock()
	t := s.tree
	s.mu.Unlock()
	return t.Flatten(expanded)
}

// Hierarchy returns the resolver built from the current folder mapping.
func (s *Session) Hierarchy() *hierarchy.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}
