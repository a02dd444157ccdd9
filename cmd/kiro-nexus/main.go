package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/kiro-nexus/internal/auth/social"
	"github.com/pysugar/kiro-nexus/internal/config"
	"github.com/pysugar/kiro-nexus/internal/db"
	"github.com/pysugar/kiro-nexus/internal/pool"
	"github.com/pysugar/kiro-nexus/internal/server"
	"github.com/pysugar/kiro-nexus/internal/tokens"
	"github.com/pysugar/kiro-nexus/internal/upstream/assistant"
	"github.com/pysugar/kiro-nexus/internal/upstream/portal"
)

func main() {
	configPath := os.Getenv("KIRO_NEXUS_CONFIG")
	if configPath == "" {
		configPath = "kiro-nexus.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	portalClient := portal.NewClient(cfg.Portal.Endpoint, cfg.PortalTimeout())
	tokenService := tokens.NewService(store, portalClient, cfg.Region)

	credentialPool := pool.New(tokenService, pool.Policy{
		BanKeywords:    cfg.Pool.BanKeywords,
		ErrorThreshold: cfg.Pool.ErrorThreshold,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	count, err := credentialPool.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load credential pool: %v", err)
	}
	if count == 0 {
		log.Printf("[Main] Pool is empty; use POST /api/auth/login to add a credential")
	}

	assistantClient := assistant.NewClient(credentialPool, cfg.Assistant.DefaultModel, cfg.AssistantTimeout())
	flow := social.NewFlow(portalClient, store, cfg.OAuth.CallbackPort, cfg.Region,
		cfg.OAuthWaitTimeout(), cfg.ExchangeTimeout())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.New(credentialPool, portalClient, assistantClient, flow).Router(),
	}

	go func() {
		log.Printf("[Main] kiro-nexus listening on http://%s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] Shutdown error: %v", err)
	}
}
