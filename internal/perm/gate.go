// Package perm implements the soft lock shown before the organizer opens.
//
// The gate compares the input with the stored password by plain equality. It
// keeps casual onlookers out of an unattended session and nothing more: the
// stored value is readable by anyone who can read the settings record.
package perm

import (
	"errors"
	"sync"
	"unicode/utf8"

	"mybrain/internal/model"
)

// MinPasswordLength is the shortest password SetupPassword accepts.
const MinPasswordLength = 4

var (
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordTooShort = errors.New("password must be at least 4 characters")
	ErrNoPassword       = errors.New("no password set")
	ErrSettingsPending  = errors.New("settings not loaded yet")
)

// Mode tells the caller which prompt to show while the gate is locked.
type Mode string

const (
	// ModeLoading: settings have not arrived yet.
	ModeLoading Mode = "loading"
	// ModeSetup: no settings record is stored; the user must choose a password.
	ModeSetup Mode = "setup"
	// ModeUnlock: a settings record is stored; the user must enter its password.
	ModeUnlock Mode = "unlock"
)

// Gate starts locked. It never touches the remote store; the session feeds it
// settings snapshots and performs the setup write itself.
type Gate struct {
	mu     sync.Mutex
	locked bool
	loaded bool
	// exists is true once a settings record is stored, whatever its fields.
	exists   bool
	password *string
}

func NewGate() *Gate {
	return &Gate{locked: true}
}

// Observe applies the latest settings snapshot. exists reports whether the
// settings record is stored; a stored record keeps the gate in unlock mode
// even when its password is missing or unreadable.
func (g *Gate) Observe(s model.Settings, exists bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loaded = true
	g.exists = exists
	if s.Password != nil {
		pw := *s.Password
		g.password = &pw
	} else {
		g.password = nil
	}
}

func (g *Gate) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

func (g *Gate) HasPassword() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exists
}

func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.loaded:
		return ModeLoading
	case !g.exists:
		return ModeSetup
	default:
		return ModeUnlock
	}
}

// Unlock opens the gate when input equals the stored password.
func (g *Gate) Unlock(input string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loaded {
		return ErrSettingsPending
	}
	if !g.exists {
		return ErrNoPassword
	}
	if g.password == nil || input != *g.password {
		return ErrWrongPassword
	}
	g.locked = false
	return nil
}

func (g *Gate) Lock() {
	g.mu.Lock()
	g.locked = true
	g.mu.Unlock()
}

// Grant opens the gate after a password was set by this session. The stored
// value is remembered so Unlock works before the settings snapshot arrives.
func (g *Gate) Grant(password string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pw := password
	g.password = &pw
	g.loaded = true
	g.exists = true
	g.locked = false
}

// ValidatePassword checks a new password before it is written.
func ValidatePassword(p string) error {
	if utf8.RuneCountInString(p) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
