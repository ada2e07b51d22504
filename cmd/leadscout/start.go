package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/leadscout/internal/scheduler"
	"github.com/amishk599/leadscout/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduler and all pipeline workers",
	Long: "Start the daemon: cron-triggered collect and notify cycles plus the collect,\n" +
		"analyze and notify workers. Blocks until SIGINT/SIGTERM.",
	RunE: runStart,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline workers without the scheduler",
	Long: "Consume collect tasks, raw leads and notify tasks until SIGINT/SIGTERM.\n" +
		"Use with a redis or s3 queue to scale workers separately from the scheduler.",
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(workerCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	return runDaemon(true)
}

func runWorker(cmd *cobra.Command, args []string) error {
	return runDaemon(false)
}

func runDaemon(withScheduler bool) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.Close()

	logger.Info("config loaded",
		"store", cfg.Store.Driver,
		"queue", cfg.Queue.Driver,
		"sources", len(cfg.Sources),
		"ai", cfg.AI.Enabled,
		"scheduler", withScheduler,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx, logger, a.stages()...) })

	if withScheduler {
		sched, err := a.scheduler()
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, a.registry, logger) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("daemon stopped", "error", err)
		return err
	}
	logger.Info("goodbye")
	return nil
}

// stages returns the three consumer stages sized by config.
func (a *app) stages() []worker.Stage {
	return []worker.Stage{
		worker.NewStage("collect", a.collectQ, worker.CollectHandler(a.collector, a.logger), a.cfg.Workers.Collect),
		worker.NewStage("analyze", a.rawQ, worker.AnalyzeHandler(a.analyzer, a.logger), a.cfg.Workers.Analyze),
		worker.NewStage("notify", a.notifyQ, worker.NotifyHandler(a.notifier, a.logger), a.cfg.Workers.Notify),
	}
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	loc := time.Local
	if tz := a.cfg.Schedule.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
		}
		loc = l
	}
	sched := scheduler.New(a.logger,
		scheduler.WithLocation(loc),
		scheduler.WithRunOnStart(a.cfg.Schedule.RunOnStart),
	)
	if err := sched.Add("collect", a.cfg.Schedule.Collect, func(ctx context.Context) error {
		_, err := a.orchestrator.RunDailyCycle(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Add("notify", a.cfg.Schedule.Notify, func(ctx context.Context) error {
		_, err := a.orchestrator.RunNotifyCycle(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return sched, nil
}

// serveMetrics exposes reg on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
