// Command coinfeedd runs the crypto news aggregation daemon: it keeps
// the feed cache warm on a schedule and serves the query interface over
// HTTP for the host application's UI.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"coinfeed/internal/api"
	"coinfeed/internal/config"
	"coinfeed/internal/feed"
	"coinfeed/internal/logger"
	"coinfeed/internal/news"
	"coinfeed/internal/store"
)

func main() {
	// Missing .env is fine; the environment may be set by the host.
	_ = godotenv.Load()

	cfg := config.Load()

	lg, err := logger.New(cfg.LogPath, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := selectStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	registry, err := feed.LoadRegistry(cfg.SourcesPath)
	if err != nil {
		log.Fatalf("failed to load feed sources: %v", err)
	}
	lg.Info("registry loaded with %d feed sources", registry.Len())

	service := news.NewService(store.New(kv, lg), registry, feed.NewClient(lg), lg)

	// Background warming keeps the cache fresh so UI queries rarely pay
	// fetch-cycle latency; the refresh policy still decides per call.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.WarmCron, func() {
		service.GetNews(ctx, 0)
	}); err != nil {
		log.Fatalf("invalid warm cron spec %q: %v", cfg.WarmCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(service, lg).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	go func() {
		lg.Info("coinfeedd listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("http server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown failed: %v", err)
	}
}

// selectStore picks the Redis backend when configured, otherwise the
// file-backed store under the data directory.
func selectStore(ctx context.Context, cfg *config.Config) (store.KV, error) {
	if cfg.RedisAddr != "" {
		return store.NewRedisStore(ctx, cfg.RedisAddr)
	}
	return store.NewFileStore(cfg.DataDir)
}
