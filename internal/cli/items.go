package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mybrain/internal/model"
	"mybrain/internal/mutate"
	"mybrain/internal/session"
)

func newItemsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "items",
		Aliases: []string{"item"},
		Short:   "Notes, todos, videos and reminders",
	}
	cmd.AddCommand(newItemsListCmd(app))
	cmd.AddCommand(newItemsShowCmd(app))
	cmd.AddCommand(newItemsCreateCmd(app))
	cmd.AddCommand(newItemsUpdateCmd(app))
	cmd.AddCommand(newItemsToggleCmd(app))
	cmd.AddCommand(newItemsDeleteCmd(app))
	return cmd
}

type viewFlags struct {
	in        string
	search    string
	completed bool
	kind      string
	human     bool
	width     int
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.in, "in", "", "Folder id (default: home)")
	cmd.Flags().BoolVar(&f.completed, "completed", false, "Show completed items instead of open ones")
	cmd.Flags().StringVar(&f.kind, "kind", string(model.KindAll), "Kind filter (all|text|todo|video|reminder)")
	cmd.Flags().BoolVar(&f.human, "human", false, "Print one line per item instead of structured output")
	cmd.Flags().IntVar(&f.width, "width", 100, "Line width for --human")
}

// apply sets navigation and filters on s in the order a user would.
func (f *viewFlags) apply(s *session.Session) error {
	if err := s.Navigate(folderRef(f.in)); err != nil {
		return err
	}
	if err := s.SetShowCompleted(f.completed); err != nil {
		return err
	}
	kind := model.KindAll
	if v := strings.TrimSpace(f.kind); v != "" {
		k, ok := model.ParseKind(v)
		if !ok {
			return fmt.Errorf("unknown kind: %s", f.kind)
		}
		kind = k
	}
	if err := s.SetKindFilter(kind); err != nil {
		return err
	}
	return s.SetSearch(f.search)
}

func writeView(cmd *cobra.Command, app *App, s *session.Session, f *viewFlags) error {
	items := s.View()
	if f.human {
		_, err := fmt.Fprint(cmd.OutOrStdout(), renderItems(items, f.width))
		return err
	}
	nav := s.Nav()
	return writeOut(cmd, app, map[string]any{
		"data": items,
		"meta": map[string]any{
			"count":         len(items),
			"breadcrumbs":   nav.Breadcrumbs,
			"searchQuery":   nav.Search,
			"showCompleted": nav.ShowCompleted,
			"kind":          nav.Kind,
		},
	})
}

func newItemsListCmd(app *App) *cobra.Command {
	var f viewFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the items of a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
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

func newItemsShowCmd(app *App) *cobra.Command {
	var render bool
	var width int
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				it, ok := s.Snapshot().Item(id)
				if !ok {
					return mutate.NotFoundError{Kind: "item", ID: id}
				}
				if render {
					out := "# " + it.Title + "\n\n" + it.Content
					_, err := fmt.Fprintln(cmd.OutOrStdout(), renderMarkdown(out, width))
					return err
				}
				var crumbs []model.Crumb
				if it.CategoryID != nil && s.Hierarchy().Contains(*it.CategoryID) {
					crumbs = s.Hierarchy().AncestorPath(it.CategoryID)
				}
				return writeOut(cmd, app, map[string]any{
					"data": it,
					"meta": map[string]any{"breadcrumbs": crumbs},
				})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "Render the content as markdown for the terminal")
	cmd.Flags().IntVar(&width, "width", 80, "Wrap width for --render")
	return cmd
}

type scheduleFlags struct {
	date  string
	clock string
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Schedule date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.clock, "time", "", "Schedule time (HH:MM)")
}

// schedule returns the joined schedule, nil when neither part was given.
func (f *scheduleFlags) schedule() (*string, error) {
	date, clock := strings.TrimSpace(f.date), strings.TrimSpace(f.clock)
	if date == "" && clock == "" {
		return nil, nil
	}
	if date == "" || clock == "" {
		return nil, mutate.ValidationError{Field: "schedule", Reason: "--date and --time go together"}
	}
	sched := model.JoinSchedule(date, clock)
	if _, err := model.ParseSchedule(*sched, nil); err != nil {
		return nil, mutate.ValidationError{Field: "schedule", Reason: err.Error()}
	}
	return sched, nil
}

func newItemsCreateCmd(app *App) *cobra.Command {
	var title, content, kind, in string
	var sf scheduleFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an item in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				sched, err := sf.schedule()
				if err != nil {
					return err
				}
				if err := s.Navigate(folderRef(in)); err != nil {
					return err
				}
				folderID := folderRef(in)
				draft := mutate.ItemDraft{
					Title:      title,
					Content:    content,
					Kind:       model.Kind(strings.ToLower(strings.TrimSpace(kind))),
					CategoryID: folderID,
					AtRoot:     folderID == nil,
					Schedule:   sched,
				}
				res, err := waitWrite(ctx)(s.CreateItem(ctx, draft))
				if err != nil {
					return err
				}
				k := draft.Kind
				if k == "" {
					k = model.KindText
				}
				return writeOut(cmd, app, map[string]any{
					"data": model.Item{
						ID:         res.ID,
						Title:      strings.TrimSpace(title),
						Content:    content,
						Kind:       k,
						CategoryID: folderID,
						Schedule:   sched,
						CreatedAt:  res.CreatedAt,
					},
				})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Item title")
	cmd.Flags().StringVar(&content, "content", "", "Item content (markdown)")
	cmd.Flags().StringVar(&kind, "kind", string(model.KindText), "Item kind (text|todo|video|reminder)")
	cmd.Flags().StringVar(&in, "in", "", "Folder id (default: home)")
	sf.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newItemsUpdateCmd(app *App) *cobra.Command {
	var title, content, kind string
	var clearSchedule bool
	var sf scheduleFlags
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Update fields of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				var patch mutate.ItemPatch
				if cmd.Flags().Changed("title") {
					patch.Title = &title
				}
				if cmd.Flags().Changed("content") {
					patch.Content = &content
				}
				if cmd.Flags().Changed("kind") {
					k := model.Kind(strings.ToLower(strings.TrimSpace(kind)))
					patch.Kind = &k
				}
				sched, err := sf.schedule()
				if err != nil {
					return err
				}
				patch.Schedule = sched
				patch.ClearSchedule = clearSchedule
				if _, err := waitWrite(ctx)(s.UpdateItem(ctx, id, patch)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "updated": true}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().StringVar(&kind, "kind", "", "New kind")
	cmd.Flags().BoolVar(&clearSchedule, "clear-schedule", false, "Remove the schedule")
	sf.register(cmd)
	return cmd
}

func newItemsToggleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <item-id>",
		Short: "Flip the completion flag of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				before, ok := s.Snapshot().Item(id)
				if !ok {
					return mutate.NotFoundError{Kind: "item", ID: id}
				}
				if _, err := waitWrite(ctx)(s.ToggleCompletion(ctx, id)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "isCompleted": !before.IsCompleted}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	return cmd
}

func newItemsDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if _, err := waitWrite(ctx)(s.DeleteItem(ctx, id)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "deleted": true}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	return cmd
}
