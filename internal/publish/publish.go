// Package publish exports folders and items as plain Markdown files.
//
// Layout under the target dir:
//
//	items/<item-id>.md                    single item export
//	folders/<folder-id|home>/index.md     folder index
//	folders/<folder-id|home>/items/*.md   items filed in that folder
package publish

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"mybrain/internal/hierarchy"
	"mybrain/internal/mirror"
	"mybrain/internal/model"
)

type WriteOptions struct {
	IncludeCompleted bool
	// Recursive also exports every folder below the requested one.
	Recursive bool
	Overwrite bool
}

type WriteResult struct {
	Written []string `json:"written"`
}

func WriteItem(snap *mirror.Snapshot, tree *hierarchy.Tree, itemID string, toDir string, opt WriteOptions) (WriteResult, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return WriteResult{}, errors.New("missing itemID")
	}
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	toDir = filepath.Clean(toDir)

	md, err := RenderItemMarkdown(snap, tree, itemID)
	if err != nil {
		return WriteResult{}, err
	}

	outDir := filepath.Join(toDir, "items")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return WriteResult{}, err
	}
	outPath := filepath.Join(outDir, itemID+".md")
	if err := writeFile(outPath, []byte(md), opt.Overwrite); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Written: []string{outPath}}, nil
}

func folderDirName(folderID *string) string {
	if folderID == nil {
		return model.HomeName
	}
	return *folderID
}

// WriteFolder exports one folder (nil is home), and with opt.Recursive every
// folder reachable below it.
func WriteFolder(snap *mirror.Snapshot, tree *hierarchy.Tree, folderID *string, toDir string, opt WriteOptions) (WriteResult, error) {
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	toDir = filepath.Clean(toDir)
	if folderID != nil && !tree.Contains(*folderID) {
		return WriteResult{}, errors.New("folder not found: " + *folderID)
	}

	targets := []*string{folderID}
	if opt.Recursive {
		var below []string
		if folderID == nil {
			for _, n := range tree.Flatten(nil) {
				below = append(below, n.Folder.ID)
			}
		} else {
			below = tree.Descendants(*folderID)
		}
		for _, id := range below {
			targets = append(targets, &id)
		}
	}

	var written []string
	for _, id := range targets {
		out, err := writeOneFolder(snap, tree, id, toDir, opt)
		if err != nil {
			return WriteResult{}, err
		}
		written = append(written, out...)
	}
	return WriteResult{Written: written}, nil
}

func writeOneFolder(snap *mirror.Snapshot, tree *hierarchy.Tree, folderID *string, toDir string, opt WriteOptions) ([]string, error) {
	folderDir := filepath.Join(toDir, "folders", folderDirName(folderID))
	itemsDir := filepath.Join(folderDir, "items")
	if err := os.MkdirAll(itemsDir, 0o755); err != nil {
		return nil, err
	}

	items := itemsIn(snap, folderID)
	indexMD, err := RenderFolderIndexMarkdown(tree, folderID, items, RenderOptions{IncludeCompleted: opt.IncludeCompleted})
	if err != nil {
		return nil, err
	}
	indexPath := filepath.Join(folderDir, "index.md")
	if err := writeFile(indexPath, []byte(indexMD), opt.Overwrite); err != nil {
		return nil, err
	}

	written := []string{indexPath}
	for _, it := range items {
		if it.IsCompleted && !opt.IncludeCompleted {
			continue
		}
		md, err := RenderItemMarkdown(snap, tree, it.ID)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(itemsDir, it.ID+".md")
		if err := writeFile(p, []byte(md), opt.Overwrite); err != nil {
			return nil, err
		}
		written = append(written, p)
	}
	return written, nil
}

func writeFile(path string, b []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.New("file exists (use --overwrite): " + path)
		}
	}
	return os.WriteFile(path, b, 0o644)
}
