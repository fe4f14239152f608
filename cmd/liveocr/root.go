package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/phiasco12/liveocr/internal/config"
	"github.com/phiasco12/liveocr/internal/core"
)

const defaultConfigPath = "config/liveocr.yaml"

var (
	rootCmd = &cobra.Command{
		Use:   "liveocr",
		Short: "Capture a stable reading from a live camera or recorded stream",
		Long: `liveocr watches a stream of observations (camera frames or recognized
text) and commits a single result once the reading has stayed stable for
the configured number of observations or hold time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr())
		},
	}

	configPath string
	debug      bool
	logFormat  string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(serveCmd, runCmd, replayCmd)
}

func setupLogging(w io.Writer) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch logFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown --log-format %q (want text or json)", logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// applyConfigLevel lowers the log level to the config's when --debug is off.
func applyConfigLevel(w io.Writer, cfg *config.Config) {
	if debug {
		return
	}
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyConfigLevel(cmd.ErrOrStderr(), cfg)
	slog.Info("configuration loaded", "path", configPath, "instance_id", cfg.InstanceID)
	return cfg, nil
}

// Exit codes.
const (
	exitFailure   = 1
	exitNoResult  = 2
	exitBadConfig = 3
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, core.ErrTimeout), errors.Is(err, core.ErrStopped), errors.Is(err, core.ErrSourceFailed):
		return exitNoResult
	case errors.Is(err, config.ErrInvalid), errors.Is(err, os.ErrNotExist):
		return exitBadConfig
	default:
		return exitFailure
	}
}
