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

	"github.com/spf13/cobra"

	sdhttp "github.com/Strob0t/SectorDesk/internal/adapter/http"
	"github.com/Strob0t/SectorDesk/internal/adapter/otel"
	"github.com/Strob0t/SectorDesk/internal/middleware"
	"github.com/Strob0t/SectorDesk/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime hub and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "load the default sectors and agents before serving")
	return cmd
}

func runServe(parent context.Context, a *app, seed bool) error {
	cfg := a.cfg
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
		"scheduler", cfg.Scheduler.Enabled,
	)

	// --- Telemetry ---
	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	// --- Infrastructure + services ---
	rt, err := openRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.close()

	if seed {
		report, err := service.Seed(ctx, rt.sectors, rt.agents)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		slog.Info("seeded", "sectors", len(report.Sectors), "agents", len(report.Agents), "skipped", len(report.Skipped))
	}

	// --- Command intake + scheduler ---
	if rt.queue != nil {
		cancels, err := rt.scheduler.StartSubscribers(ctx, rt.queue)
		if err != nil {
			return fmt.Errorf("command subscribers: %w", err)
		}
		defer func() {
			for _, c := range cancels {
				c()
			}
		}()
	}
	rt.scheduler.Start(ctx)
	defer rt.scheduler.Stop()

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	opts := sdhttp.RouterOptions{
		CORSOrigin:     cfg.Server.CORSOrigin,
		IdempotencyTTL: cfg.Server.IdempotencyTTL,
		Idempotency:    rt.views,
		Tracing:        otel.HTTPMiddleware(cfg.Logging.Service),
		WebSocket:      rt.hub.HandleWS,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if cfg.Server.RateLimitRPS > 0 {
		opts.RateLimiter = limiter
	}
	router := sdhttp.NewRouter(rt.handlers(), opts)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
