package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gazouio/gazou/internal/config"
	"github.com/gazouio/gazou/internal/web"
	"github.com/gazouio/gazou/pkg/auth"
	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/events"
	"github.com/gazouio/gazou/pkg/kv"
	"github.com/gazouio/gazou/pkg/metrics"
	"github.com/gazouio/gazou/pkg/ratelimit"
	"github.com/gazouio/gazou/pkg/search"
	"github.com/gazouio/gazou/pkg/session"
	"github.com/gazouio/gazou/pkg/storage"
	"github.com/gazouio/gazou/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gallery backend",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config validation failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	st := store.New(backend)

	engine := search.New(st, search.Options{
		MaxIntersections:      cfg.MaxIntersections,
		MaxConcurrentSearches: cfg.MaxConcurrentSearches,
		MaxLifespan:           cfg.MaxIntersectionLifespan,
	})
	defer engine.Close()

	limiter := ratelimit.New(cfg.RateLimitInterval, cfg.RateLimitMax)
	defer limiter.Close()

	gateway := auth.New(auth.LogNotifier{}, auth.Options{
		TokenLength: cfg.AuthTokenLength,
		Expiry:      cfg.AuthTokenExpiry,
		MaxTries:    cfg.AuthMaxTries,
	})

	blobs, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region, cfg.MaxUploadsPerSecond)
	if err != nil {
		return err
	}

	handlers := events.New(st, engine, gateway, blobs, events.Options{
		ImageURL:       cfg.ImageURL,
		UploadURL:      cfg.UploadURL,
		MaxTagSearch:   cfg.MaxTagSearch,
		MaxSearchCount: cfg.MaxSearchCount,
	})

	registry := session.NewRegistry()
	handlers.RegisterAll(registry)

	sess := session.NewServer(registry, limiter, session.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	defer sess.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(metrics.NewCollector(engine, sess))

	webSrv := web.NewServer(st, handlers, blobs, promReg, web.Options{
		ImageURL:     cfg.ImageURL,
		MaxImageSize: cfg.MaxImageSize,
	})

	wsServer := &http.Server{Addr: cfg.WSAddr, Handler: sess}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: webSrv}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("ws_listening", "addr", cfg.WSAddr, "events", len(registry.Events()))
		errCh <- wsServer.ListenAndServe()
	}()
	go func() {
		slog.Info("http_listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown_signal")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listener failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http_shutdown_failed", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ws_shutdown_failed", "error", err)
	}
	return nil
}

func newBackend(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	if cfg.KVBackend == "memory" {
		slog.Warn("kv_memory_backend", "note", "metadata will not survive restarts")
		return kv.NewMemory(), nil
	}
	return kv.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}
