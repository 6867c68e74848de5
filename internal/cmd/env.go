// Package cmd implements the mainthreadctl subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Swind/go-mainthread/config"
	"github.com/Swind/go-mainthread/core"
	obsprom "github.com/Swind/go-mainthread/observability/prometheus"
	"github.com/Swind/go-mainthread/observability/zaplog"
)

// GlobalFlags are shared by every subcommand.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML config file",
			EnvVars: []string{"MAINTHREAD_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level (debug, info, warn, error)",
		},
	}
}

// env is the process wiring built from the loaded configuration.
type env struct {
	cfg     *config.Config
	zap     *zap.Logger
	logger  core.Logger
	reg     *prom.Registry
	metrics *obsprom.MetricsExporter
	poller  *obsprom.SnapshotPoller
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func newEnv(cfg *config.Config) (*env, error) {
	zl, err := zaplog.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}
	e := &env{cfg: cfg, zap: zl, logger: zaplog.NewAdapter(zl)}

	if cfg.Metrics.Enable {
		e.reg = prom.NewRegistry()
		if e.metrics, err = obsprom.NewMetricsExporter(cfg.Metrics.Namespace, e.reg, obsprom.ExporterOptions{}); err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
		if e.poller, err = obsprom.NewSnapshotPoller(e.reg, cfg.Metrics.Namespace, cfg.Metrics.PollInterval); err != nil {
			return nil, fmt.Errorf("snapshot poller: %w", err)
		}
	}
	return e, nil
}

// coreConfig returns the queue configuration shared by the scheduler and bridge.
func (e *env) coreConfig() *core.Config {
	cfg := &core.Config{
		Name:            e.cfg.AppName,
		Logger:          e.logger,
		ErrorHandler:    &core.LoggingErrorHandler{Logger: e.logger},
		HistoryCapacity: e.cfg.Scheduler.HistoryCapacity,
	}
	if e.metrics != nil {
		cfg.Metrics = e.metrics
	}
	return cfg
}

// serveMetrics starts the poller and the /metrics endpoint when enabled. The returned
// func stops both.
func (e *env) serveMetrics(ctx context.Context) func() {
	if e.reg == nil {
		return func() {}
	}
	e.poller.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: e.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", core.F("listen", e.cfg.Metrics.Listen), core.F("error", err))
		}
	}()
	e.logger.Info("metrics endpoint up", core.F("listen", e.cfg.Metrics.Listen))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		e.poller.Stop()
	}
}

func (e *env) close() {
	_ = e.zap.Sync()
}
