package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/flowcapture/internal/api"
	"github.com/dgnsrekt/flowcapture/internal/deps"
	"github.com/dgnsrekt/flowcapture/internal/events"
	"github.com/dgnsrekt/flowcapture/internal/netutil"
	"github.com/dgnsrekt/flowcapture/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		slog.Info("config loaded",
			"bind_addr", cfg.BindAddr,
			"recordings_dir", cfg.RecordingsDir,
			"cdp_url", cfg.CDPURL(),
			"log_level", cfg.LogLevel,
		)

		bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
		if err != nil {
			return err
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.manager.Shutdown()

		broker := events.NewBroker()
		registry := session.NewRegistry(session.RecorderFactory{Recorder: eng.recorder}, broker)
		svc := api.NewEngine(registry, eng.store, deps.NewChecker())

		srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}

		go func() {
			slog.Info("server listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server failed", "error", err)
				os.Exit(1)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		registry.Shutdown(ctx)
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		return nil
	},
}
