package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mybrain/internal/session"
)

func newTreeCmd(app *App) *cobra.Command {
	var in string
	var depth, width int
	var structured bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the folder tree",
		Long: strings.TrimSpace(`
Print the folder tree from home. Folders whose parent is missing, or that sit
on a parent cycle, cannot be reached from home; they are listed as warnings.
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if err := s.Navigate(folderRef(in)); err != nil {
					return err
				}
				tree := s.Hierarchy()
				expanded := func(id string) bool { return true }
				if depth > 0 {
					depths := map[string]int{}
					expanded = func(id string) bool {
						d := depths[id]
						if d+1 >= depth {
							return false
						}
						for _, c := range tree.ChildrenOf(&id) {
							depths[c.ID] = d + 1
						}
						return true
					}
				}
				nodes := s.Tree(expanded)
				if structured {
					rows := make([]map[string]any, 0, len(nodes))
					for _, n := range nodes {
						rows = append(rows, map[string]any{
							"id":          n.Folder.ID,
							"title":       n.Folder.Title,
							"parentId":    n.Folder.ParentID,
							"depth":       n.Depth,
							"hasChildren": n.HasChildren,
						})
					}
					return writeOut(cmd, app, map[string]any{
						"data": rows,
						"meta": map[string]any{"warnings": len(tree.Warnings()), "current": s.Nav().CurrentFolderID},
					})
				}
				out := renderTree(nodes, s.Nav().CurrentFolderID, width) + renderWarnings(tree.Warnings(), width)
				_, err := fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Highlight this folder")
	cmd.Flags().IntVar(&depth, "depth", 0, "Limit the number of levels shown (0: all)")
	cmd.Flags().IntVar(&width, "width", 100, "Truncate lines to this many cells (0: no limit)")
	cmd.Flags().BoolVar(&structured, "structured", false, "Write nodes using --format instead of drawing")
	return cmd
}

func newSearchCmd(app *App) *cobra.Command {
	var f viewFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search item titles and content across all folders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.search = strings.Join(args, " ")
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if err := f.apply(s); err != nil {
					return err
				}
				return writeView(cmd, app, s, &f)
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newDiagnosticsCmd(app *App) *cobra.Command {
	var fail bool
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Report sync errors and folder integrity problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			var problems int
			err := app.withGate(cmd, func(ctx context.Context, s *session.Session) error {
				d := s.Diagnostics()
				problems = len(d.SubscriptionErrors) + len(d.Warnings)
				warnings := make([]map[string]any, 0, len(d.Warnings))
				for _, w := range d.Warnings {
					warnings = append(warnings, map[string]any{
						"kind":     w.Kind,
						"folderId": w.FolderID,
						"parentId": w.ParentID,
						"message":  w.Error(),
					})
				}
				return writeOut(cmd, app, map[string]any{
					"data": map[string]any{
						"stale":              d.Stale,
						"subscriptionErrors": errorStrings(d.SubscriptionErrors),
						"recent":             errorStrings(d.Recent),
						"warnings":           warnings,
						"locked":             s.Locked(),
						"gate":               s.GateMode(),
					},
					"meta": map[string]any{"problems": problems},
				})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			if fail && problems > 0 {
				return fmt.Errorf("%d problem(s) found", problems)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fail, "fail", false, "Exit with non-zero status if problems are found")
	return cmd
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
