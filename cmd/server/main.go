package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/dasher-monitor/internal/alerttext"
	"github.com/ignite/dasher-monitor/internal/api"
	"github.com/ignite/dasher-monitor/internal/classify"
	"github.com/ignite/dasher-monitor/internal/config"
	"github.com/ignite/dasher-monitor/internal/events"
	"github.com/ignite/dasher-monitor/internal/mailapi"
	"github.com/ignite/dasher-monitor/internal/pkg/distlock"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
	"github.com/ignite/dasher-monitor/internal/repository/postgres"
	"github.com/ignite/dasher-monitor/internal/scanner"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}
	if os.Getenv("LOG_REDACT_PII") == "false" {
		logger.SetRedactPII(false)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	db, err := postgres.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unreachable, scan lock falls back to Postgres: %v", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
		cancel()
	}

	inboxes := postgres.NewInboxRepo(db)
	analyses := postgres.NewClassificationRepo(db)
	alerts := postgres.NewAlertRepo(db)
	scanLogs := postgres.NewScanLogRepo(db)
	portalUsers := postgres.NewPortalUserRepo(db)

	mailClient := mailapi.NewClient(cfg.Mail)

	var llm classify.LLMTier
	if cfg.LLM.Enabled() {
		llm = classify.NewLLMClassifier(cfg.LLM)
		log.Printf("LLM classification enabled (model %s)", cfg.LLM.Model)
	} else {
		log.Println("LLM classification disabled, running rules-only")
	}
	pipeline, err := classify.NewPipeline(analyses, llm, cfg.Classifier)
	if err != nil {
		log.Fatalf("Failed to build classification pipeline: %v", err)
	}

	bus := events.NewBus(0)
	renderer := alerttext.NewRenderer(cfg.Alerts.Templates)

	sc := scanner.New(scanner.Deps{
		Inboxes:     inboxes,
		Alerts:      alerts,
		ScanLogs:    scanLogs,
		PortalUsers: portalUsers,
		Mail:        mailClient,
		Pipeline:    pipeline,
		Bus:         bus,
		AlertText:   renderer,
		NewLock: func() distlock.DistLock {
			return distlock.NewLock(redisClient, db, "fleet-scan", cfg.Scanner.LockTTL())
		},
	}, cfg.Scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sc.AutoSync(ctx)

	server := api.NewServer(cfg.Server, api.Deps{
		DB:              db,
		Inboxes:         inboxes,
		Classifications: analyses,
		Alerts:          alerts,
		ScanLogs:        scanLogs,
		Scanner:         sc,
		Mail:            mailClient,
		Bus:             bus,
		BaseCtx:         ctx,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server listening on %s:%d", host, port)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
