// Cloudstore server
//
// Content storage and secure sharing:
// - Pluggable storage backends (local filesystem, S3/MinIO)
// - File/folder catalog in PostgreSQL
// - Direct and team shares with folder inheritance
// - Public share links with expiry and optional passwords
// - Streaming download gateway with presigned S3 URLs
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliterp/cloudstore/internal/access"
	"github.com/eliterp/cloudstore/internal/api"
	"github.com/eliterp/cloudstore/internal/auth"
	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/config"
	"github.com/eliterp/cloudstore/internal/events"
	"github.com/eliterp/cloudstore/internal/logging"
	"github.com/eliterp/cloudstore/internal/metrics"
	"github.com/eliterp/cloudstore/internal/quota"
	"github.com/eliterp/cloudstore/internal/share"
	"github.com/eliterp/cloudstore/internal/storage"
	"github.com/eliterp/cloudstore/internal/storage/local"
	s3storage "github.com/eliterp/cloudstore/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
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

	logging.Info("cloudstore server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info("connecting to PostgreSQL...")
	catalogStore, err := catalog.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer catalogStore.Close()

	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := catalogStore.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	db := catalogStore.DB()
	authHandler := auth.New(db, cfg.JWTSecret)
	shareStore := share.NewStore(db)
	resolver := access.New(catalogStore, shareStore)
	quotaStore := quota.NewStore(db)
	limiter := quota.NewRateLimiter()
	broadcaster := events.NewBroadcaster()

	// Storage backends. Local is always available; S3 is registered
	// alongside so historical rows on either disk keep resolving.
	backends := storage.NewRegistry(cfg.DefaultDisk)
	defer backends.Close()

	localBackend, err := local.New(local.Config{
		RootPath:   cfg.LocalStoragePath,
		CreateDirs: true,
	})
	if err != nil {
		logging.Fatal("local storage init failed", zap.Error(err))
	}
	backends.Register("local", localBackend)

	if cfg.DefaultDisk == "s3" || cfg.S3Endpoint != "" {
		s3Backend, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			if cfg.DefaultDisk == "s3" {
				logging.Fatal("s3 storage init failed", zap.Error(err))
			}
			logging.Warn("s3 storage unavailable", zap.Error(err))
		} else {
			backends.Register("s3", s3Backend)
		}
	}

	srv := api.NewServer(catalogStore, shareStore, resolver, authHandler, backends,
		quotaStore, limiter, broadcaster, cfg)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Periodic gauges: DB connections and active public links.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				catalogStore.UpdateConnectionMetrics()
				if n, err := shareStore.CountActivePublicLinks(ctx); err == nil {
					metrics.SetPublicLinksActive(n)
				}
			}
		}
	}()

	// Drop idle rate-limit buckets.
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(time.Hour)
			}
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
