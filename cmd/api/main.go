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

	"memodesk/api/internal/app"
	"memodesk/api/internal/archive"
	"memodesk/api/internal/artifact"
	"memodesk/api/internal/cache"
	"memodesk/api/internal/config"
	"memodesk/api/internal/eventlog"
	"memodesk/api/internal/review"
	"memodesk/api/internal/revision"
	"memodesk/api/internal/search"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := eventlog.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := eventlog.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ArchivesDir, 0o755); err != nil {
		log.Fatalf("failed to create archives dir: %v", err)
	}

	eventStore := eventlog.NewPostgresLog(db)
	archiveService := archive.New(cfg.ArchivesDir)

	var reviser review.Reviser
	if strings.TrimSpace(cfg.RevisionURL) != "" {
		reviser = revision.NewClient(cfg.RevisionURL)
	} else {
		log.Printf("revision collaborator not configured, edit application disabled")
	}

	var blobs review.BlobStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err = artifact.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	} else {
		log.Printf("artifact store not configured, imports disabled")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var snapshots *cache.Snapshots
	if strings.TrimSpace(cfg.RedisURL) != "" {
		snapshots, err = cache.New(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer snapshots.Close()
	} else {
		log.Printf("redis not configured, projection snapshots disabled")
	}

	reviewService := review.New(eventStore, reviser, blobs)
	service := app.NewService(cfg, eventStore, reviewService, archiveService, snapshots, searchService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Memodesk API listening on %s", cfg.Addr)
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
