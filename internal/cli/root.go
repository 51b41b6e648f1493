// Package cli implements the ai-change CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LEE-hyeon0771/AI-change-app/internal/app"
	"github.com/LEE-hyeon0771/AI-change-app/internal/config"
)

var (
	configPath string
	dataDir    string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "ai-change",
	Short:         "Record and search building design changes",
	Long:          "Records design changes to an append-only log and answers questions about them by vector similarity.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (default: $AICHANGE_DATA_DIR or ./data)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig reads .env, the config file and the environment, then applies
// persistent flags.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.WithDataDir(dataDir)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if errs := cfg.Validate(); len(errs) > 0 {
			return nil, errs[0]
		}
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, opErr("load config", err)
	}
	a, err := app.Open(cfg, app.Options{Logger: newLogger(cmd.ErrOrStderr(), cfg.Log)})
	if err != nil {
		return nil, opErr("open", err)
	}
	return a, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return opErr("encode output", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// opErr prefixes err with the failed operation, as printed by main.
func opErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
