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

	"github.com/lurioneli/Sleep-Suivour/internal/account"
	"github.com/lurioneli/Sleep-Suivour/internal/app"
	"github.com/lurioneli/Sleep-Suivour/internal/archive"
	"github.com/lurioneli/Sleep-Suivour/internal/config"
	"github.com/lurioneli/Sleep-Suivour/internal/fanout"
	"github.com/lurioneli/Sleep-Suivour/internal/search"
	"github.com/lurioneli/Sleep-Suivour/internal/session"
	"github.com/lurioneli/Sleep-Suivour/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	accounts := account.NewService(dataStore)
	archiveService := archive.New(cfg.ReposDir)

	pgfts := search.NewPgFTS(dataStore)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	// Redis carries both refresh tokens and the snapshot fan-out when
	// configured; without it a single node runs on Postgres sessions and an
	// in-process hub.
	var service *app.Service
	var hub fanout.Hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh tokens and snapshot fan-out")
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSessions.Close()
		redisHub, err := fanout.NewRedisHub(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis hub failed: %v", err)
		}
		hub = redisHub
		service = app.NewWithSessionStore(cfg, dataStore, redisSessions, accounts, hub, archiveService, searchService)
	} else {
		log.Printf("Using PostgreSQL for refresh tokens and an in-process fan-out hub")
		hub = fanout.NewMemoryHub()
		service = app.New(cfg, dataStore, accounts, hub, archiveService, searchService)
	}
	defer hub.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.StreamKeepAlive)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("suivour sync server listening on %s", cfg.Addr)
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
