package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/queryscope/queryscope/internal/cache"
	"github.com/queryscope/queryscope/internal/config"
	"github.com/queryscope/queryscope/internal/engine"
	"github.com/queryscope/queryscope/internal/monitoring"
	"github.com/queryscope/queryscope/internal/sqltrace"
)

var (
	serveFile   string
	serveDriver string
	serveDSN    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live engine stats over HTTP",
	Long: `Starts the monitoring HTTP server (JSON stats, Prometheus metrics,
websocket stream). With --file, the statements are replayed through the
instrumented driver first so the server has data to show; the engine
keeps tracking anything executed afterwards.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFile, "file", "", "optional SQL file to replay at startup")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "sqlite3", "database driver (sqlite3, postgres)")
	serveCmd.Flags().StringVar(&serveDSN, "dsn", ":memory:", "data source name")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	resultCache := cache.New(cfg.Cache, logger.Named("cache"))
	eng := engine.New(cfg.Engine, logger.Named("engine"),
		engine.WithCache(resultCache),
		engine.WithPrometheus(registry),
	)

	if serveFile != "" {
		statements, err := readStatements(serveFile)
		if err != nil {
			return err
		}
		db, err := sqltrace.Open(serveDriver, serveDSN, eng)
		if err != nil {
			return fmt.Errorf("failed to open %s database: %w", serveDriver, err)
		}
		defer db.Close()
		for _, stmt := range statements {
			if _, err := db.ExecContext(cmd.Context(), stmt); err != nil {
				logger.Warn("Statement failed", zap.String("query", truncate(stmt, 120)), zap.Error(err))
			}
		}
	}

	srv := monitoring.New(logger.Named("monitoring"), cfg.Monitoring, eng, resultCache, registry)
	srv.Start()

	// Hot-reload thresholds when the config file changes.
	if cfgPath != "" {
		watcher, err := config.NewWatcher(logger.Named("config"), cfgPath)
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			if err := watcher.Start(func(updated *config.Config) {
				eng.ApplyConfig(updated.Engine)
			}); err != nil {
				logger.Warn("Config watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
