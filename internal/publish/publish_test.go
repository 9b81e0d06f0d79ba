package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mybrain/internal/hierarchy"
	"mybrain/internal/mirror"
	"mybrain/internal/remote"
)

func fixture(t *testing.T) (*mirror.Snapshot, *hierarchy.Tree) {
	t.Helper()

	now := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)
	doc := func(id string, minute int, v map[string]any) remote.Doc {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return remote.Doc{ID: id, CreatedAt: now.Add(time.Duration(minute) * time.Minute), Data: b}
	}

	m := mirror.New()
	if _, err := m.ReplaceFolders([]remote.Doc{
		doc("fld-work", 0, map[string]any{"title": "Work", "parentId": nil}),
		doc("fld-ops", 1, map[string]any{"title": "Ops", "parentId": "fld-work"}),
	}); err != nil {
		t.Fatalf("ReplaceFolders: %v", err)
	}
	snap, err := m.ReplaceItems([]remote.Doc{
		doc("itm-3", 5, map[string]any{"title": "Rotate keys", "type": "todo", "categoryId": "fld-ops", "isCompleted": false}),
		doc("itm-2", 4, map[string]any{"title": "Old task", "type": "todo", "categoryId": "fld-work", "isCompleted": true}),
		doc("itm-1", 3, map[string]any{"title": "Plan", "type": "text", "content": "Some **markdown**.", "categoryId": "fld-work", "schedule": "2025-12-21T09:00"}),
	})
	if err != nil {
		t.Fatalf("ReplaceItems: %v", err)
	}
	return snap, hierarchy.New(snap.Folders)
}

func TestRenderItemMarkdown_IncludesMetaAndContent(t *testing.T) {
	t.Parallel()
	snap, tree := fixture(t)

	md, err := RenderItemMarkdown(snap, tree, "itm-1")
	if err != nil {
		t.Fatalf("RenderItemMarkdown: %v", err)
	}
	for _, want := range []string{
		"# Plan",
		"- Kind: text",
		"- Folder: home / Work (fld-work)",
		"- Scheduled: 2025-12-21 09:00",
		"## Content",
		"Some **markdown**.",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("expected %q in markdown:\n%s", want, md)
		}
	}
	if strings.Contains(md, "Completed") {
		t.Fatalf("did not expect a completion line for a text item:\n%s", md)
	}

	if _, err := RenderItemMarkdown(snap, tree, "itm-nope"); err == nil {
		t.Fatalf("expected error for unknown item")
	}
}

func TestWriteFolder_RecursiveSkipsCompleted(t *testing.T) {
	t.Parallel()
	snap, tree := fixture(t)
	dir := t.TempDir()

	work := "fld-work"
	res, err := WriteFolder(snap, tree, &work, dir, WriteOptions{Recursive: true})
	if err != nil {
		t.Fatalf("WriteFolder: %v", err)
	}
	want := []string{
		filepath.Join(dir, "folders", "fld-work", "index.md"),
		filepath.Join(dir, "folders", "fld-work", "items", "itm-1.md"),
		filepath.Join(dir, "folders", "fld-ops", "index.md"),
		filepath.Join(dir, "folders", "fld-ops", "items", "itm-3.md"),
	}
	if len(res.Written) != len(want) {
		t.Fatalf("expected %d files; got %v", len(want), res.Written)
	}
	for i := range want {
		if res.Written[i] != want[i] {
			t.Fatalf("written[%d]: got %s want %s", i, res.Written[i], want[i])
		}
	}

	index, err := os.ReadFile(want[0])
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !strings.Contains(string(index), "- [Ops](../fld-ops/index.md)") {
		t.Fatalf("expected subfolder link in index:\n%s", index)
	}
	if strings.Contains(string(index), "Old task") {
		t.Fatalf("expected completed todo to be skipped:\n%s", index)
	}

	if _, err := WriteFolder(snap, tree, &work, dir, WriteOptions{}); err == nil {
		t.Fatalf("expected refusal to overwrite without Overwrite")
	}
	if _, err := WriteFolder(snap, tree, &work, dir, WriteOptions{Overwrite: true, IncludeCompleted: true}); err != nil {
		t.Fatalf("WriteFolder overwrite: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "folders", "fld-work", "items", "itm-2.md")); err != nil {
		t.Fatalf("expected completed todo exported with IncludeCompleted: %v", err)
	}
}

func TestWriteItem(t *testing.T) {
	t.Parallel()
	snap, tree := fixture(t)
	dir := t.TempDir()

	res, err := WriteItem(snap, tree, "itm-3", dir, WriteOptions{})
	if err != nil {
		t.Fatalf("WriteItem: %v", err)
	}
	b, err := os.ReadFile(res.Written[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "- Completed: false") || !strings.Contains(string(b), "home / Work / Ops") {
		t.Fatalf("unexpected item markdown:\n%s", b)
	}
}
