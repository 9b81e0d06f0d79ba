package publish

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"mybrain/internal/hierarchy"
	"mybrain/internal/mirror"
	"mybrain/internal/model"
)

type RenderOptions struct {
	IncludeCompleted bool
}

func folderLabel(tree *hierarchy.Tree, id *string) string {
	crumbs := tree.AncestorPath(id)
	names := make([]string, 0, len(crumbs))
	for _, c := range crumbs {
		names = append(names, c.Name)
	}
	return strings.Join(names, " / ")
}

func RenderItemMarkdown(snap *mirror.Snapshot, tree *hierarchy.Tree, itemID string) (string, error) {
	item, ok := snap.Item(strings.TrimSpace(itemID))
	if !ok {
		return "", fmt.Errorf("item not found: %s", itemID)
	}

	var buf bytes.Buffer
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	writeLn("# " + strings.TrimSpace(item.Title))
	writeLn("")
	writeLn("## Meta")
	writeLn("")
	writeLn("- ID: " + item.ID)
	writeLn("- Kind: " + string(item.Kind))
	if item.CategoryID != nil {
		if tree.Contains(*item.CategoryID) {
			writeLn("- Folder: " + folderLabel(tree, item.CategoryID) + " (" + *item.CategoryID + ")")
		} else {
			writeLn("- Folder: " + *item.CategoryID + " (missing)")
		}
	} else {
		writeLn("- Folder: " + model.HomeName)
	}
	if item.Kind == model.KindTodo || item.IsCompleted {
		writeLn(fmt.Sprintf("- Completed: %t", item.IsCompleted))
	}
	if date, clock := model.SplitSchedule(item.Schedule); date != "" {
		writeLn("- Scheduled: " + date + " " + clock)
	}
	writeLn("- Created: " + item.CreatedAt.UTC().Format(time.RFC3339))

	content := strings.TrimSpace(item.Content)
	if content != "" {
		writeLn("")
		writeLn("## Content")
		writeLn("")
		writeLn(content)
	}
	return buf.String(), nil
}

// RenderFolderIndexMarkdown lists a folder's subfolders and items. Links are
// relative to the folder's own directory in the export layout.
func RenderFolderIndexMarkdown(tree *hierarchy.Tree, folderID *string, items []model.Item, opt RenderOptions) (string, error) {
	title := model.HomeName
	if folderID != nil {
		f, ok := tree.Folder(*folderID)
		if !ok {
			return "", fmt.Errorf("folder not found: %s", *folderID)
		}
		title = strings.TrimSpace(f.Title) + " (" + f.ID + ")"
	}

	var buf bytes.Buffer
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	writeLn("# " + title)
	writeLn("")
	if folderID != nil {
		writeLn("Path: " + folderLabel(tree, folderID))
		writeLn("")
	}

	if subs := tree.ChildrenOf(folderID); len(subs) > 0 {
		writeLn("## Folders")
		writeLn("")
		for _, f := range subs {
			fmt.Fprintf(&buf, "- [%s](../%s/index.md)\n", strings.TrimSpace(f.Title), f.ID)
		}
		writeLn("")
	}

	writeLn("## Items")
	writeLn("")
	for _, it := range items {
		if it.IsCompleted && !opt.IncludeCompleted {
			continue
		}
		box := ""
		if it.Kind == model.KindTodo {
			box = "[ ] "
			if it.IsCompleted {
				box = "[x] "
			}
		}
		fmt.Fprintf(&buf, "- %s[%s](items/%s.md) (%s)\n", box, strings.TrimSpace(it.Title), it.ID, it.Kind)
	}
	return buf.String(), nil
}

// itemsIn returns the items filed directly in folderID, newest first.
func itemsIn(snap *mirror.Snapshot, folderID *string) []model.Item {
	out := make([]model.Item, 0)
	for _, it := range snap.Items {
		if model.SameID(it.CategoryID, folderID) {
			out = append(out, it)
		}
	}
	return out
}
