package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mybrain/internal/format"
	"mybrain/internal/logging"
	"mybrain/internal/perm"
	"mybrain/internal/relay"
	"mybrain/internal/remote"
	"mybrain/internal/session"
	"mybrain/internal/store"
)

type App struct {
	ConfigFile string
	Dir        string
	Namespace  string
	Owner      string
	Relay      string
	Password   string
	LogLevel   string
	PrettyJSON bool
	Format     string

	cfg *store.Config
	log *zap.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "mybrain",
		Short:        "mybrain folders, notes and todos (local or via relay)",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Create a folder and a todo inside it
  mybrain folders create --title Work
  mybrain items create --in fld-1a2b3c4d --kind todo --title "Ship it"

  # Browse
  mybrain tree
  mybrain items list --in fld-1a2b3c4d --completed
  mybrain search ship

  # Share one database between processes
  mybrain serve --addr 127.0.0.1:7464
  mybrain --relay ws://127.0.0.1:7464/ws items list
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.init()
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.log != nil {
			_ = app.log.Sync()
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.ConfigFile, "config", envOr("MYBRAIN_CONFIG", ""), "Config file (default: ~/.mybrain/config.yaml)")
	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("MYBRAIN_DIR", ""), "Data dir holding the local database (overrides config data_dir)")
	cmd.PersistentFlags().StringVar(&app.Namespace, "namespace", "", "Application namespace (overrides config)")
	cmd.PersistentFlags().StringVar(&app.Owner, "owner", "", "Owner id (overrides config)")
	cmd.PersistentFlags().StringVar(&app.Relay, "relay", envOr("MYBRAIN_RELAY", ""), "Relay websocket URL; when set the local database is not opened")
	cmd.PersistentFlags().StringVar(&app.Password, "password", envOr("MYBRAIN_PASSWORD", ""), "Password for the soft lock, when one is set")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("MYBRAIN_FORMAT", "json"), "Output format ("+strings.Join(format.Formats, "|")+")")

	cmd.AddCommand(newFoldersCmd(app))
	cmd.AddCommand(newItemsCmd(app))
	cmd.AddCommand(newTreeCmd(app))
	cmd.AddCommand(newSearchCmd(app))
	cmd.AddCommand(newPasswordCmd(app))
	cmd.AddCommand(newDiagnosticsCmd(app))
	cmd.AddCommand(newPublishCmd(app))
	cmd.AddCommand(newBackupCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newConfigCmd(app))

	return cmd
}

// init loads config and applies flag overrides.
func (app *App) init() error {
	cfg, err := store.LoadConfig(app.ConfigFile)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(app.Dir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(app.Namespace); v != "" {
		cfg.Namespace = v
	}
	if v := strings.TrimSpace(app.Owner); v != "" {
		cfg.Owner = v
	}
	if v := strings.TrimSpace(app.Relay); v != "" {
		cfg.RelayURL = v
	}
	if v := strings.TrimSpace(app.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Console: true})
	if err != nil {
		return err
	}
	app.cfg = cfg
	app.log = log
	return nil
}

func (app *App) scope() remote.Scope {
	return remote.Scope{Namespace: app.cfg.Namespace, Owner: app.cfg.Owner}
}

// openStore returns the relay client when a relay URL is configured and the
// local database otherwise.
func (app *App) openStore(ctx context.Context, watch bool) (remote.Store, func() error, error) {
	if u := strings.TrimSpace(app.cfg.RelayURL); u != "" {
		c, err := relay.Dial(ctx, u, relay.ClientOptions{Logger: app.log})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	st, err := store.Open(ctx, app.cfg.DataDir, store.Options{Logger: app.log, Watch: watch})
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

var errLocked = errors.New("locked: a password is set; pass --password or MYBRAIN_PASSWORD")

// withGate starts a session without opening the soft lock and runs fn. The
// session and store are closed afterwards.
func (app *App) withGate(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, closeStore, err := app.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	s, err := session.Start(ctx, st, session.Config{Scope: app.scope(), Logger: app.log})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, s)
}

// withSession is withGate plus two checks: every collection must have
// loaded, and when a password is stored --password must match it.
func (app *App) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	return app.withGate(cmd, func(ctx context.Context, s *session.Session) error {
		if pub := s.Snapshot(); pub.Stale() {
			return fmt.Errorf("store unavailable: %w", errors.Join(pub.Errors()...))
		}
		if s.GateMode() == perm.ModeUnlock {
			if app.Password == "" {
				return errLocked
			}
			if err := s.Unlock(app.Password); err != nil {
				return err
			}
		}
		return fn(ctx, s)
	})
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
