package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/config"
	"suggestbox/api/internal/httpapi"
	"suggestbox/api/internal/logger"
	"suggestbox/api/internal/ratelimit"
	"suggestbox/api/internal/session"
	"suggestbox/api/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The log bridge needs the OTel logger provider, so telemetry goes first.
	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	logger.Setup(cfg)
	if tel != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	}
	slog.InfoContext(ctx, "suggestbox api starting", "env", cfg.Env, "store", cfg.StoreDriver)

	data, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer data.Close()

	options := []app.Option{}
	extraChecks := map[string]httpapi.Pinger{}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.SubmitRateLimit, cfg.SubmitRateWindow)
	if cfg.RedisEnabled() {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisStore.Close()
		options = append(options, app.WithRevocations(redisStore))
		limiter = ratelimit.NewRedisLimiter(redisStore.Client(), cfg.SubmitRateLimit, cfg.SubmitRateWindow)
		extraChecks["redis"] = redisStore
		slog.InfoContext(ctx, "redis connected, token revocations and throttling shared")
	}

	svc, err := app.New(cfg, data.store, options...)
	if err != nil {
		return err
	}
	if err := prepare(ctx, cfg, svc); err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		CORSOrigin:    cfg.CORSOrigin,
		ServiceName:   cfg.OTel.ServiceName,
		Tracing:       cfg.OTel.Enabled(),
		SubmitLimiter: limiter,
	}, svc, extraChecks)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(gctx, "http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if data.postgres != nil && !cfg.RedisEnabled() {
		g.Go(func() error {
			purgeRevocations(gctx, data)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// prepare creates the root account and applies the seed file when present.
func prepare(ctx context.Context, cfg config.Config, svc *app.Service) error {
	if err := svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if cfg.SeedFile == "" {
		return nil
	}
	seed, err := app.LoadSeed(cfg.SeedFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.InfoContext(ctx, "no seed file", "path", cfg.SeedFile)
			return nil
		}
		return err
	}
	if _, err := svc.Seed(ctx, seed); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

// purgeRevocations drops revoked tokens past their expiry from Postgres.
func purgeRevocations(ctx context.Context, data *backend) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := data.postgres.PurgeExpiredRevocations(ctx)
			if err != nil {
				slog.WarnContext(ctx, "purge revoked tokens failed", "error", err)
				continue
			}
			if purged > 0 {
				slog.InfoContext(ctx, "purged revoked tokens", "count", purged)
			}
		}
	}
}
