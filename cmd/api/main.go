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
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"ragpipe/internal/api"
	"ragpipe/internal/app"
	"ragpipe/internal/config"
)

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

	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress, Logger: log.NewStructuredLogger(logger)})
	if err != nil {
		logger.Error("temporal dial failed", "error", err)
		os.Exit(1)
	}
	defer tc.Close()

	srv := api.NewServer(cfg, api.Deps{
		Documents: a.Documents,
		Chunks:    a.Chunks,
		Preview:   a.Pipeline,
		Retriever: a.Engine,
		Jobs:      a.Queue,
		Stats:     a.Jobs,
		Temporal:  tc,
		Metrics:   promhttp.Handler(),
		Ping:      a.DB.Ping,
		Logger:    logger,
	})
	httpServer := &http.Server{Addr: cfg.APIAddr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("ragpipe api listening", "addr", cfg.APIAddr, "embed_providers", cfg.EmbedProviders, "vector_backend", cfg.VectorBackend)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}
