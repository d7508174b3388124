package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"ragpipe/internal/activities"
	"ragpipe/internal/app"
	"ragpipe/internal/config"
	"ragpipe/internal/workflows"
)

const cleanupCronWorkflowID = "cleanup-sweep-cron"

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: log.NewStructuredLogger(logger)})
	if err != nil {
		logger.Error("temporal dial failed", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Pipeline, a.Documents, a.Sweeper))

	if cfg.CleanupCron != "" {
		_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:           cleanupCronWorkflowID,
			TaskQueue:    cfg.TemporalTaskQueue,
			CronSchedule: cfg.CleanupCron,
		}, workflows.CleanupSweepWorkflow, workflows.CleanupSweepInput{Trigger: "cron"})
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if err != nil && !errors.As(err, &started) {
			logger.Error("start cleanup cron failed", "error", err)
			os.Exit(1)
		}
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		interrupt := make(chan interface{})
		go func() {
			<-gctx.Done()
			close(interrupt)
		}()
		return w.Run(interrupt)
	})

	logger.Info("ragpipe worker listening", "temporal", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue, "metrics_addr", cfg.MetricsAddr, "cleanup_cron", cfg.CleanupCron)
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
