// Package remote defines the boundary between the view engine and a real-time
// document store: ordered collection subscriptions that push complete snapshots,
// and asynchronous writes whose effects come back only through those snapshots.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type Collection string

const (
	Settings Collection = "settings"
	Folders  Collection = "folders"
	Items    Collection = "items"
)

// SettingsDocID is the id of the singleton settings record.
const SettingsDocID = "config"

// CreatedAtKey is the only ordering key the engine uses.
const CreatedAtKey = "createdAt"

type Direction string

const (
	Unordered  Direction = ""
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

type Query struct {
	Collection Collection `json:"collection"`
	OrderBy    string     `json:"orderBy,omitempty"`
	Direction  Direction  `json:"direction,omitempty"`
}

// Scope is the partition key: a fixed application namespace plus the
// authenticated owner. Stores never serve documents outside a scope.
type Scope struct {
	Namespace string `json:"namespace"`
	Owner     string `json:"owner"`
}

var (
	ErrNotFound     = errors.New("document not found")
	ErrClosed       = errors.New("store closed")
	ErrInvalidScope = errors.New("invalid scope")
	ErrInvalidWrite = errors.New("invalid write")
)

func (s Scope) Validate() error {
	if strings.TrimSpace(s.Namespace) == "" || strings.TrimSpace(s.Owner) == "" {
		return ErrInvalidScope
	}
	if strings.Contains(s.Namespace, "/") || strings.Contains(s.Owner, "/") {
		return ErrInvalidScope
	}
	return nil
}

// Path returns the collection path for this scope, e.g.
// artifacts/my-brain-app/users/u1/items.
func (s Scope) Path(c Collection) string {
	return fmt.Sprintf("artifacts/%s/users/%s/%s", s.Namespace, s.Owner, c)
}

// Doc is one stored document. Data holds the document fields without id and createdAt.
type Doc struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// Snapshot is a complete, ordered listing of a collection.
type Snapshot struct {
	Collection Collection `json:"collection"`
	Docs       []Doc      `json:"docs"`
}

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Write is a single mutation request. For OpCreate, ID may be empty in which
// case the store assigns one. For OpUpdate, Data is a partial object whose keys
// overwrite the stored fields.
type Write struct {
	Collection Collection      `json:"collection"`
	Op         Op              `json:"op"`
	ID         string          `json:"id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (w Write) Validate() error {
	switch w.Collection {
	case Settings, Folders, Items:
	default:
		return fmt.Errorf("%w: unknown collection %q", ErrInvalidWrite, w.Collection)
	}
	switch w.Op {
	case OpCreate:
	case OpUpdate, OpDelete:
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("%w: %s requires an id", ErrInvalidWrite, w.Op)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidWrite, w.Op)
	}
	return nil
}

// Result is the store acknowledgment of a write.
type Result struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Unsubscribe stops a subscription. It is safe to call more than once and from
// inside a snapshot callback.
type Unsubscribe func()

// Store is a real-time document store.
//
// Subscribe delivers the first snapshot asynchronously and a new complete
// snapshot after every change that affects the query; consecutive changes may
// be coalesced into one snapshot. After onError is called the subscription is
// dead and delivers nothing more.
type Store interface {
	Subscribe(ctx context.Context, scope Scope, q Query, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error)
	Write(ctx context.Context, scope Scope, w Write) (Result, error)
}

// MergeData overlays the top-level keys of patch onto base.
func MergeData(base, patch json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
	}
	if len(patch) > 0 {
		overlay := map[string]json.RawMessage{}
		if err := json.Unmarshal(patch, &overlay); err != nil {
			return nil, fmt.Errorf("%w: decode patch: %v", ErrInvalidWrite, err)
		}
		for k, v := range overlay {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// SortDocs orders docs by createdAt in the query direction. Ties keep their
// input order, which stores use to preserve insertion order.
func SortDocs(docs []Doc, dir Direction) {
	switch dir {
	case Ascending:
		slices.SortStableFunc(docs, func(a, b Doc) int { return a.CreatedAt.Compare(b.CreatedAt) })
	case Descending:
		slices.SortStableFunc(docs, func(a, b Doc) int { return b.CreatedAt.Compare(a.CreatedAt) })
	}
}
