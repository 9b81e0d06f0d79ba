package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mybrain/internal/model"
	"mybrain/internal/mutate"
	"mybrain/internal/remote"
	"mybrain/internal/session"
)

// writeTimeout bounds how long a command waits for the store to acknowledge.
const writeTimeout = 10 * time.Second

// waitWrite returns a func that waits for a queued write, so calls read as
// waitWrite(ctx)(s.CreateFolder(ctx, title)).
func waitWrite(ctx context.Context) func(*mutate.Pending, error) (remote.Result, error) {
	return func(p *mutate.Pending, err error) (remote.Result, error) {
		if err != nil {
			return remote.Result{}, err
		}
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return p.Wait(ctx)
	}
}

// folderRef turns a --in/--parent flag value into a folder id; "" and "home"
// mean the root.
func folderRef(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" || v == model.HomeName {
		return nil
	}
	return &v
}

func newFoldersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "folders",
		Aliases: []string{"folder"},
		Short:   "Folders (categories)",
	}
	cmd.AddCommand(newFoldersListCmd(app))
	cmd.AddCommand(newFoldersCreateCmd(app))
	cmd.AddCommand(newFoldersRenameCmd(app))
	cmd.AddCommand(newFoldersDeleteCmd(app))
	return cmd
}

func newFoldersListCmd(app *App) *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the subfolders of a folder (default: home)",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if err := s.Navigate(folderRef(in)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{
					"data": s.Subfolders(),
					"meta": map[string]any{"breadcrumbs": s.Breadcrumbs()},
				})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Parent folder id (default: home)")
	return cmd
}

func newFoldersCreateCmd(app *App) *cobra.Command {
	var title, parent string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if err := s.Navigate(folderRef(parent)); err != nil {
					return err
				}
				res, err := waitWrite(ctx)(s.CreateFolder(ctx, title))
				if err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{
					"data": model.Folder{ID: res.ID, Title: strings.TrimSpace(title), ParentID: folderRef(parent), CreatedAt: res.CreatedAt},
				})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Folder title")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent folder id (default: home)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newFoldersRenameCmd(app *App) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "rename <folder-id>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if _, ok := s.Snapshot().Folder(id); !ok {
					return mutate.NotFoundError{Kind: "folder", ID: id}
				}
				if _, err := waitWrite(ctx)(s.RenameFolder(ctx, id, title)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "title": strings.TrimSpace(title)}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newFoldersDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <folder-id>",
		Short: "Delete a folder (subfolders and items are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				orphans := len(s.Hierarchy().ChildrenOf(&id))
				if _, err := waitWrite(ctx)(s.DeleteFolder(ctx, id)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{
					"data":   map[string]any{"id": id, "deleted": true},
					"meta":   map[string]any{"orphanedSubfolders": orphans},
					"_hints": orphanHints(orphans),
				})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	return cmd
}

func orphanHints(n int) []string {
	if n == 0 {
		return nil
	}
	return []string{"mybrain diagnostics"}
}
