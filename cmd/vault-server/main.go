// Vault Server
//
// Features:
// - Per-folder encryption with PBKDF2-derived keys
// - File browse/upload/download API and embedded web UI
// - Resumable chunked uploads
// - SSE change stream
// - Retention sweeps with optional archiving (local or S3)
// - JWT/API-key auth, rate limiting & per-account storage limits
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/api"
	"github.com/nanome-ai/plugin-vault/internal/auth"
	"github.com/nanome-ai/plugin-vault/internal/config"
	"github.com/nanome-ai/plugin-vault/internal/events"
	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/quota"
	"github.com/nanome-ai/plugin-vault/internal/retention"
	"github.com/nanome-ai/plugin-vault/internal/storage"
	"github.com/nanome-ai/plugin-vault/internal/uploads"
)

const (
	sweepInterval         = time.Hour
	rateLimitCleanup      = time.Hour
	rateLimitBucketMaxAge = 24 * time.Hour
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("vault server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("root", cfg.VaultRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := filestore.New(filestore.Options{
		Root:          cfg.VaultRoot,
		KDFIterations: cfg.KDFIterations,
		UserStorage:   cfg.UserStorage,
	})
	if err != nil {
		logging.Fatal("vault root init failed", zap.Error(err))
	}

	broadcaster := events.NewBroadcaster()

	archive, err := storage.NewArchiveFromConfig(ctx, cfg)
	if err != nil {
		logging.Fatal("archive backend init failed", zap.Error(err))
	}
	if archive != nil {
		defer archive.Close()
		logging.Info("archive backend initialized", zap.String("backend", archive.Type()))
	}

	sweeper := retention.New(retention.Options{
		Root:    store.Root(),
		Archive: archive,
		Locker:  store.RLocker(),
		OnExpire: func(rel string) {
			broadcaster.Publish(events.EventExpire, rel)
		},
	})
	sweeper.Start(ctx, cfg.KeepFilesDays, sweepInterval)

	uploadManager, err := uploads.Open(uploads.Options{
		Dir:     cfg.UploadsDir,
		MaxSize: cfg.MaxUploadSize,
	}, store)
	if err != nil {
		logging.Fatal("upload sessions init failed", zap.Error(err))
	}
	defer uploadManager.Close()
	uploadManager.StartCleanup(ctx)

	rateLimiter := quota.NewRateLimiter(cfg.RequestsPerMinute)
	rateLimiter.StartCleanup(ctx, rateLimitCleanup, rateLimitBucketMaxAge)

	var authHandler *auth.Auth
	if cfg.EnableAuth {
		authHandler = auth.New(cfg.JWTSecret, cfg.APIKey)
		logging.Info("authentication enabled")
	}

	srv, err := api.NewServer(api.Deps{
		Store:         store,
		Uploads:       uploadManager,
		Sweeper:       sweeper,
		Broadcaster:   broadcaster,
		Auth:          authHandler,
		RateLimiter:   rateLimiter,
		KeepFilesDays: cfg.KeepFilesDays,
		UIMessage:     cfg.UIMessage,
		AssetDir:      cfg.AssetDir,
		MaxUploadSize: cfg.MaxUploadSize,
	})
	if err != nil {
		logging.Fatal("server init failed", zap.Error(err))
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		adminMux := http.NewServeMux()
		adminMux.Handle("/metrics", metrics.Handler())
		adminMux.Handle("/loglevel", logging.LevelHandler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: adminMux,
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("graceful shutdown failed", zap.Error(err))
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", zap.Error(err))
	}
	// in-flight requests drain before deferred closes run
	<-stopped
}
