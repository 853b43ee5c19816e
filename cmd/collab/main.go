// Command collab is a terminal client for collaborative editing sessions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/collabify/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdin).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by subcommands after the root pre-run.
type app struct {
	v   *viper.Viper
	in  io.Reader
	cfg config.Config
	log *zap.Logger
}

func newRootCmd(in io.Reader) *cobra.Command {
	a := &app{v: viper.New(), in: in, log: zap.NewNop()}
	root := &cobra.Command{
		Use:           "collab",
		Short:         "Join collaborative document and whiteboard sessions from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config-dir", "", "configuration directory (default $XDG_CONFIG_HOME/collabify)")
	pf.String("relay", "", "relay websocket URL")
	pf.String("api", "", "REST store base URL")
	pf.String("store", "", "persistence backend: http, postgres or none")
	pf.String("dsn", "", "PostgreSQL DSN for store=postgres")
	pf.String("token", "", "auth token (overrides saved credentials)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	for key, flag := range map[string]string{
		config.KeyRelayURL:    "relay",
		config.KeyAPIURL:      "api",
		config.KeyStore:       "store",
		config.KeyDatabaseDSN: "dsn",
		config.KeyToken:       "token",
		config.KeyLogLevel:    "log-level",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newVersionCmd(),
		newLoginCmd(a),
		newRegisterCmd(a),
		newWhoamiCmd(a),
		newLogoutCmd(a),
		newJoinCmd(a),
		newDocsCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config-dir")
	if dir == "" {
		d, err := config.DefaultDir()
		if err != nil {
			return err
		}
		dir = d
	}
	cfg, err := config.Load(a.v, dir)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.log = log.With(zap.String("cmd", cmd.Name()))
	return nil
}

// newLogger builds a console logger for debug and a JSON one otherwise.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)
	if lvl == zapcore.DebugLevel {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// syncWriter serializes writes from engine callbacks and the command goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, format, args...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "collab %s (%s)\n", version, buildDate)
			return err
		},
	}
}
