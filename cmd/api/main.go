package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docgate/api/internal/app"
	"docgate/api/internal/config"
	"docgate/api/internal/session"
	"docgate/api/internal/store"
	"docgate/api/internal/upload"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	docs, err := store.Open(ctx, store.Options{
		Backend:       cfg.Backend,
		DataDir:       cfg.DataDir,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsDir,
	})
	if err != nil {
		log.Fatalf("document store failed: %v", err)
	}
	defer docs.Close()
	log.Printf("Using %s document backend", cfg.Backend)

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for login sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		sessions = redisStore
	} else {
		log.Printf("Using process memory for login sessions")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	var blobs upload.Blobs
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO bucket %s for uploads", cfg.MinioBucket)
		blobs, err = upload.NewMinioBlobs(ctx, upload.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	} else {
		log.Printf("Using process memory for uploads")
		blobs = upload.NewMemoryBlobs()
	}

	service := app.NewService(cfg, docs, sessions, blobs)
	if cfg.DevEmail != "" && cfg.DevPassword != "" {
		if err := service.SeedDeveloper(ctx, cfg.DevEmail, cfg.DevPassword); err != nil {
			log.Printf("WARNING: developer seed failed: %v", err)
		}
	}
	if cfg.Superuser == "" {
		log.Printf("WARNING: DOCGATE_SUPERUSER is empty, nobody can edit Admin/Developers")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("docgate listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
