package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mybrain/internal/relay"
	"mybrain/internal/store"
)

func newBackupCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <dest-file>",
		Short: "Write a consistent copy of the local database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(app.cfg.RelayURL) != "" {
				return writeErr(cmd, errors.New("backup: only the local database can be backed up (drop --relay)"))
			}
			dest, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return writeErr(cmd, err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := store.Open(ctx, app.cfg.DataDir, store.Options{Logger: app.log})
			if err != nil {
				return writeErr(cmd, err)
			}
			defer func() { _ = st.Close() }()
			if err := st.Backup(ctx, dest); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"source": st.Path(), "dest": dest}})
		},
	}
	return cmd
}

func newServeCmd(app *App) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local database to other processes over a websocket relay",
		Long: strings.TrimSpace(`
Serve the local database over a websocket relay. Clients connect with
--relay ws://<addr>/ws and see each other's writes as live snapshots.
Only the configured namespace is served.
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(app.cfg.RelayURL) != "" {
				return writeErr(cmd, errors.New("serve: a relay cannot serve another relay (drop --relay)"))
			}
			listenAddr := strings.TrimSpace(addr)
			if listenAddr == "" {
				listenAddr = app.cfg.RelayAddr
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, app.cfg.DataDir, store.Options{Logger: app.log, Watch: app.cfg.Watch})
			if err != nil {
				return writeErr(cmd, err)
			}
			defer func() { _ = st.Close() }()

			srv, err := relay.NewServer(relay.ServerConfig{
				Addr:      listenAddr,
				Store:     st,
				Logger:    app.log,
				Namespace: app.cfg.Namespace,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			app.log.Info("serving", zap.String("addr", listenAddr), zap.String("db", st.Path()))
			cmd.PrintErrf("mybrain relay on ws://%s/ws (db %s)\n", listenAddr, st.Path())
			if err := srv.ListenAndServe(ctx); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: config relay_addr)")
	return cmd
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOut(cmd, app, map[string]any{"data": app.cfg})
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(app.ConfigFile)
			if path == "" {
				p, err := store.ConfigPath()
				if err != nil {
					return writeErr(cmd, err)
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return writeErr(cmd, errors.New("config init: "+path+" exists (use --force)"))
			}
			if err := store.WriteConfig(app.cfg, path); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"path": path}})
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
