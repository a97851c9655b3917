// data-console serves the D.A.T.A. browser console: JSON views, forms and
// charts backed by the remote API, plus /healthz, /readyz and /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/detectionlab/data/internal/config"
	"github.com/detectionlab/data/internal/console"
	"github.com/detectionlab/data/internal/health"
	"github.com/detectionlab/data/internal/logging"
	"github.com/detectionlab/data/internal/telemetry"
	"github.com/detectionlab/data/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	bootLogger, _ := zap.NewProduction()

	// ── Configuration ────────────────────────────────────────────────────────
	v := config.New("console", "DATA", "configs", ".")
	found, err := config.Read(v)
	if err != nil {
		bootLogger.Fatal("load config", zap.Error(err))
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		bootLogger.Fatal("invalid config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		bootLogger.Fatal("build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck
	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("console exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName+"-console", version, logger)
	if err != nil {
		return err
	}
	defer telemetry.Flush(shutdownTracing, logger)

	// ── API client ───────────────────────────────────────────────────────────
	api, err := client.New(cfg.API.URL,
		client.WithTimeout(cfg.API.Timeout),
		client.WithWeightsKey(cfg.API.WeightsKey),
		client.WithCacheTTL(cfg.API.CacheTTL),
		client.WithLogger(logger.Named("client")),
		client.WithTracer(otel.Tracer("github.com/detectionlab/data/pkg/client")),
		client.WithUserAgent("data-console/"+version),
	)
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}
	logger.Info("API client ready",
		zap.String("api", api.BaseURL()),
		zap.String("weights_key", api.Weights().Key()),
	)

	// ── Health ───────────────────────────────────────────────────────────────
	checker := health.New(health.APITargets(api.BaseURL()), health.Config{
		CheckInterval: cfg.Health.Interval,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger.Named("health"))
	checker.SetMetricsRecord(console.RecordHealthCheck)
	checker.SetChangeHook(func(t health.TargetStatus) {
		console.SetAPIUp(t.Name, t.Status == health.StatusHealthy)
	})
	go checker.Start(ctx)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	h := console.NewHandler(api, api.Weights(), logger)
	router := console.NewRouter(ctx, console.RouterConfig{
		CORSOrigins:      cfg.Console.CORSOrigins,
		RateLimitRPS:     cfg.Console.RateLimitRPS,
		RateLimitBurst:   cfg.Console.RateLimitBurst,
		UploadLimitBytes: cfg.Console.UploadLimitBytes,
	}, h, checker, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Console.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console listening", zap.Int("port", cfg.Console.Port), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down console...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("console stopped")
	return nil
}
