package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"mybrain/internal/publish"
	"mybrain/internal/session"
)

func newPublishCmd(app *App) *cobra.Command {
	var to string
	var opt publish.WriteOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Export folders and items as Markdown files",
	}
	cmd.PersistentFlags().StringVar(&to, "to", "", "Target directory")
	cmd.PersistentFlags().BoolVar(&opt.Overwrite, "overwrite", false, "Overwrite existing files")
	_ = cmd.MarkPersistentFlagRequired("to")

	itemCmd := &cobra.Command{
		Use:   "item <item-id>",
		Short: "Export one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				res, err := publish.WriteItem(s.Snapshot(), s.Hierarchy(), args[0], to, opt)
				if err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": res})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}

	folderCmd := &cobra.Command{
		Use:   "folder [folder-id]",
		Short: "Export a folder index and its items (default: home)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = strings.TrimSpace(args[0])
			}
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				res, err := publish.WriteFolder(s.Snapshot(), s.Hierarchy(), folderRef(id), to, opt)
				if err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": res, "meta": map[string]any{"files": len(res.Written)}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	folderCmd.Flags().BoolVar(&opt.Recursive, "recursive", false, "Also export every folder below")
	folderCmd.Flags().BoolVar(&opt.IncludeCompleted, "include-completed", false, "Include completed items")

	cmd.AddCommand(itemCmd, folderCmd)
	return cmd
}
