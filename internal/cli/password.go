package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"mybrain/internal/perm"
	"mybrain/internal/session"
)

func newPasswordCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Soft lock password",
		Long: `The password is a UX gate, not access control: it is stored in plain text
alongside the data and anyone with store access can read it.`,
	}
	cmd.AddCommand(newPasswordStatusCmd(app))
	cmd.AddCommand(newPasswordSetCmd(app))
	cmd.AddCommand(newPasswordCheckCmd(app))
	return cmd
}

func newPasswordStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a password is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withGate(cmd, func(ctx context.Context, s *session.Session) error {
				return writeOut(cmd, app, map[string]any{"data": map[string]any{
					"hasPassword": s.HasPassword(),
					"mode":        s.GateMode(),
				}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
}

func newPasswordSetCmd(app *App) *cobra.Command {
	var next string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the password (the current one is required when one exists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if _, err := waitWrite(ctx)(s.SetupPassword(ctx, next)); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"data": map[string]any{"hasPassword": true, "locked": s.Locked()}})
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&next, "new", "", "New password (at least 4 characters)")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func newPasswordCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check --password against the stored password",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withGate(cmd, func(ctx context.Context, s *session.Session) error {
				err := s.Unlock(app.Password)
				if err != nil && !errors.Is(err, perm.ErrWrongPassword) {
					return err
				}
				if err := writeOut(cmd, app, map[string]any{"data": map[string]any{"unlocked": err == nil}}); err != nil {
					return err
				}
				return err
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
}
