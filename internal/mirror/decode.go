package mirror

import (
	"encoding/json"
	"fmt"

	"mybrain/internal/model"
	"mybrain/internal/remote"
)

type folderFields struct {
	Title    string  `json:"title"`
	ParentID *string `json:"parentId"`
}

type itemFields struct {
	Title       string  `json:"title"`
	Content     *string `json:"content"`
	Type        string  `json:"type"`
	Kind        string  `json:"kind"`
	CategoryID  *string `json:"categoryId"`
	Schedule    *string `json:"schedule"`
	IsCompleted bool    `json:"isCompleted"`
}

type settingsFields struct {
	Password *string `json:"password"`
}

// DecodeFolder converts a stored folder document.
func DecodeFolder(d remote.Doc) (model.Folder, error) {
	var f folderFields
	if err := decodeData(d, &f); err != nil {
		return model.Folder{}, err
	}
	return model.Folder{
		ID:        d.ID,
		Title:     f.Title,
		ParentID:  normalizeRef(f.ParentID),
		CreatedAt: d.CreatedAt,
	}, nil
}

// DecodeItem converts a stored item document. Unknown kinds fall back to text
// so that a record written by a newer client still renders.
func DecodeItem(d remote.Doc) (model.Item, error) {
	var f itemFields
	if err := decodeData(d, &f); err != nil {
		return model.Item{}, err
	}
	raw := f.Type
	if raw == "" {
		raw = f.Kind
	}
	kind, ok := model.ParseKind(raw)
	if !ok || kind == model.KindAll {
		kind = model.KindText
	}
	it := model.Item{
		ID:          d.ID,
		Title:       f.Title,
		Kind:        kind,
		CategoryID:  normalizeRef(f.CategoryID),
		Schedule:    f.Schedule,
		IsCompleted: f.IsCompleted,
		CreatedAt:   d.CreatedAt,
	}
	if f.Content != nil {
		it.Content = *f.Content
	}
	return it, nil
}

// DecodeSettings converts the settings document.
func DecodeSettings(d remote.Doc) (model.Settings, error) {
	var f settingsFields
	if err := decodeData(d, &f); err != nil {
		return model.Settings{}, err
	}
	return model.Settings{Password: f.Password}, nil
}

func decodeData(d remote.Doc, v any) error {
	if len(d.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.ID, err)
	}
	return nil
}

// normalizeRef maps an empty-string reference to nil (root).
func normalizeRef(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	return id
}
