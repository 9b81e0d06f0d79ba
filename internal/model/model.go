package model

import (
	"strings"
	"time"
)

type Kind string

const (
	KindText     Kind = "text"
	KindTodo     Kind = "todo"
	KindVideo    Kind = "video"
	KindReminder Kind = "reminder"

	// KindAll is the wildcard value for kind filters. It is never stored.
	KindAll Kind = "all"
)

// Kinds lists the storable item kinds in display order.
func Kinds() []Kind {
	return []Kind{KindText, KindTodo, KindVideo, KindReminder}
}

// ParseKind normalizes a user-provided kind. The empty string maps to text.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindText:
		return KindText, true
	case KindTodo:
		return KindTodo, true
	case KindVideo:
		return KindVideo, true
	case KindReminder:
		return KindReminder, true
	case KindAll:
		return KindAll, true
	default:
		return "", false
	}
}

type Folder struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ParentID  *string   `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Kind        Kind      `json:"type"`
	CategoryID  *string   `json:"categoryId"`
	Schedule    *string   `json:"schedule"`
	IsCompleted bool      `json:"isCompleted"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Settings struct {
	Password *string `json:"password"`
}

// Crumb is one breadcrumb entry. ID is nil for the synthetic home entry.
type Crumb struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

const HomeName = "home"

func HomeCrumb() Crumb {
	return Crumb{ID: nil, Name: HomeName}
}

// scheduleLayout is the ISO local datetime format produced by date + time inputs.
const scheduleLayout = "2006-01-02T15:04"

// JoinSchedule combines a date (YYYY-MM-DD) and a time (HH:MM).
// A schedule only exists when both parts are present.
func JoinSchedule(date, clock string) *string {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return nil
	}
	s := date + "T" + clock
	return &s
}

// SplitSchedule is the inverse of JoinSchedule.
func SplitSchedule(schedule *string) (date, clock string) {
	if schedule == nil {
		return "", ""
	}
	date, clock, _ = strings.Cut(*schedule, "T")
	return date, clock
}

// ParseSchedule interprets a schedule string in the given location.
func ParseSchedule(schedule string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(schedule)
	if t, err := time.ParseInLocation(scheduleLayout, s, loc); err == nil {
		return t, nil
	}
	// Seconds are tolerated for schedules written by other clients.
	return time.ParseInLocation("2006-01-02T15:04:05", s, loc)
}

// IsOverdue reports whether the item's schedule is in the past and the item is still open.
func (it Item) IsOverdue(now time.Time) bool {
	if it.Schedule == nil || it.IsCompleted {
		return false
	}
	at, err := ParseSchedule(*it.Schedule, now.Location())
	if err != nil {
		return false
	}
	return at.Before(now)
}

// SameID compares two nullable ids; nil equals nil.
func SameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// StrPtr returns a pointer to s, or nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to id, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
