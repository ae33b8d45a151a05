package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/planora/planora-sync/internal/outbox"
	"github.com/planora/planora-sync/internal/state"
	"github.com/planora/planora-sync/internal/stream"
	syncengine "github.com/planora/planora-sync/internal/sync"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "psync",
	Short: "Planner sync engine",
	Long: `psync keeps the local planner cache in sync with the server.

It maintains per-table caches of courses, assignments, schedules, events,
and calendars, consumes the server's change streams, resolves conflicting
concurrent edits, and validates the cached graph for consistency.

Configuration is read from psync.yaml (or --config) and PSYNC_* environment
variables. The interesting keys:

  server.url    sync server base URL
  server.token  bearer token for the session
  auth.user_id  the signed-in user's id
  data.dir      local state directory (default ~/.planora)
  log.file      optional rotated log file for the daemon`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default psync.yaml)")
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("psync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".planora"))
		}
	}

	viper.SetEnvPrefix("PSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("data.dir", defaultDataDir())

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; env and flags can carry it all.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planora"
	}
	return filepath.Join(home, ".planora")
}

// newLogger builds the daemon logger, routing through a rotated file when
// log.file is configured.
func newLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if logFile := viper.GetString("log.file"); logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}

// session bundles everything a connected command needs.
type session struct {
	store     *state.DB
	transport *stream.WSTransport
	outbox    *outbox.Outbox
	engine    *syncengine.Engine
}

// connect assembles the full engine stack from configuration.
func connect(ctx context.Context) (*session, error) {
	baseURL := viper.GetString("server.url")
	if baseURL == "" {
		return nil, fmt.Errorf("server.url is not configured")
	}
	userID := viper.GetString("auth.user_id")
	if userID == "" {
		return nil, fmt.Errorf("auth.user_id is not configured")
	}

	dataDir := viper.GetString("data.dir")
	store, err := state.Open(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return nil, err
	}

	transport, err := stream.DialWS(ctx, stream.WSConfig{
		BaseURL:     baseURL,
		AccessToken: viper.GetString("server.token"),
		Logger:      newLogger("[transport] "),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	obCfg := outbox.DefaultConfig()
	obCfg.Logger = newLogger("[outbox] ")
	ob, err := outbox.New(filepath.Join(dataDir, "outbox"), transport, obCfg)
	if err != nil {
		_ = transport.Close()
		_ = store.Close()
		return nil, err
	}

	engineCfg := syncengine.DefaultConfig()
	engineCfg.Logger = newLogger("[engine] ")
	engine, err := syncengine.New(transport, store, ob, engineCfg)
	if err != nil {
		_ = transport.Close()
		_ = store.Close()
		return nil, err
	}

	if err := engine.SignIn(userID); err != nil {
		_ = transport.Close()
		_ = store.Close()
		return nil, err
	}

	return &session{store: store, transport: transport, outbox: ob, engine: engine}, nil
}

func (s *session) close() {
	s.outbox.Stop()
	s.engine.Cleanup()
	_ = s.transport.Close()
	_ = s.store.Close()
}

// openStore opens just the local state database, for commands that work
// offline (conflict queue inspection, status).
func openStore() (*state.DB, error) {
	dataDir := viper.GetString("data.dir")
	return state.Open(filepath.Join(dataDir, "state.db"))
}
