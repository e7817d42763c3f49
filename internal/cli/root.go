// Package cli implements the flowcapture command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/flowcapture/internal/browser"
	"github.com/dgnsrekt/flowcapture/internal/config"
	"github.com/dgnsrekt/flowcapture/internal/encoder"
	"github.com/dgnsrekt/flowcapture/internal/recorder"
	"github.com/dgnsrekt/flowcapture/internal/store"
)

var headless bool

var rootCmd = &cobra.Command{
	Use:           "flowcapture",
	Short:         "Record interactive prototypes into video files",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "run the browser without a window")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(serveCmd, recordCmd, depsCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}
	return cfg, nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}

// engine bundles the wired core components shared by serve and record.
type engine struct {
	manager  *browser.Manager
	recorder *recorder.Recorder
	store    *store.Store
}

func buildEngine(cfg *config.Config) (*engine, error) {
	st, err := store.New(cfg.RecordingsDir)
	if err != nil {
		return nil, err
	}

	manager := browser.NewManager(browser.ManagerConfig{
		CDPAddress:      cfg.CDPAddress,
		CDPPort:         cfg.CDPPort,
		ProfileDir:      cfg.ProfileDir,
		LaunchAttempts:  cfg.LaunchAttempts,
		NavigateTimeout: time.Duration(cfg.NavigateTimeoutMS) * time.Millisecond,
		EvalTimeout:     time.Duration(cfg.EvalTimeoutMS) * time.Millisecond,
		Headless:        headless,
	})

	rec := recorder.New(
		recorder.ManagerBrowser{Manager: manager},
		&encoder.FFmpeg{},
		st,
		recorder.Config{
			NavigateAttempts: cfg.NavigateAttempts,
			StopFlushTimeout: time.Duration(cfg.StopFlushTimeoutS) * time.Second,
			HeuristicCeiling: time.Duration(cfg.HeuristicCeilingS) * time.Second,
		},
	)

	return &engine{manager: manager, recorder: rec, store: st}, nil
}
