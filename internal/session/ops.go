package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mybrain/internal/model"
	"mybrain/internal/mutate"
	"mybrain/internal/perm"
	"mybrain/internal/remote"
)

func unknownKindError(k model.Kind) error {
	return mutate.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", k)}
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// CreateFolder creates a folder inside the current folder.
func (s *Session) CreateFolder(ctx context.Context, title string) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.coord.CreateFolder(ctx, title, s.Nav().CurrentFolderID)
}

// CreateItem creates an item. When d.CategoryID is nil the item is filed in
// the current folder, unless d.AtRoot is set.
func (s *Session) CreateItem(ctx context.Context, d mutate.ItemDraft) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if d.CategoryID == nil && !d.AtRoot {
		d.CategoryID = s.Nav().CurrentFolderID
	}
	return s.coord.CreateItem(ctx, d)
}

func (s *Session) RenameFolder(ctx context.Context, id, title string) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.coord.UpdateFolder(ctx, id, title)
}

func (s *Session) UpdateItem(ctx context.Context, id string, p mutate.ItemPatch) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.coord.UpdateItem(ctx, id, p)
}

func (s *Session) DeleteItem(ctx context.Context, id string) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.coord.DeleteItem(ctx, id)
}

// ToggleCompletion flips the completion flag of an item as currently mirrored.
func (s *Session) ToggleCompletion(ctx context.Context, itemID string) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	it, ok := s.mirror.Snapshot().Item(itemID)
	if !ok {
		return nil, mutate.NotFoundError{Kind: "item", ID: itemID}
	}
	return s.coord.ToggleCompletion(ctx, it)
}

// DeleteFolder deletes a folder record. Its children and items are left in
// place and become unreachable. If the session is still inside the folder
// when the store acknowledges the delete, it moves to the folder's former
// parent.
func (s *Session) DeleteFolder(ctx context.Context, id string) (*mutate.Pending, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	f, ok := s.tree.Folder(id)
	s.mu.Unlock()
	if !ok {
		return nil, mutate.NotFoundError{Kind: "folder", ID: id}
	}
	parent := f.ParentID

	return s.coord.DeleteFolder(ctx, id, func(_ remote.Result, err error) {
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed || s.nav.current == nil || *s.nav.current != id {
			s.mu.Unlock()
			return
		}
		target := parent
		if target != nil && !s.tree.Contains(*target) {
			target = nil
		}
		s.log.Debug("current folder deleted; moving to parent", zap.String("folder", id))
		s.nav.search = ""
		s.moveLocked(target)
		s.publishLocked()
	})
}

// Locked reports whether the soft lock is engaged.
func (s *Session) Locked() bool {
	return s.gate.Locked()
}

func (s *Session) HasPassword() bool {
	return s.gate.HasPassword()
}

func (s *Session) GateMode() perm.Mode {
	return s.gate.Mode()
}

// Unlock compares input with the stored password.
func (s *Session) Unlock(input string) error {
	if err := s.gate.Unlock(input); err != nil {
		return err
	}
	return s.updateNav(func(*navState) {})
}

func (s *Session) Lock() {
	s.gate.Lock()
	_ = s.updateNav(func(*navState) {})
}

// SetupPassword writes a new password. The gate opens once the store
// acknowledges the write.
func (s *Session) SetupPassword(ctx context.Context, password string) (*mutate.Pending, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := perm.ValidatePassword(password); err != nil {
		return nil, err
	}
	return s.coord.SetPassword(ctx, password, func(_ remote.Result, err error) {
		if err != nil {
			return
		}
		s.gate.Grant(password)
		_ = s.updateNav(func(*navState) {})
	})
}
