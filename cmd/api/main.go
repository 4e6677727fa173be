package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skorbantu/advisor/backend/internal/config"
	"github.com/skorbantu/advisor/backend/internal/handler"
	"github.com/skorbantu/advisor/backend/internal/handler/history"
	"github.com/skorbantu/advisor/backend/internal/handler/status"
	whatsappHandler "github.com/skorbantu/advisor/backend/internal/handler/whatsapp"
	"github.com/skorbantu/advisor/backend/internal/handler/ws"
	"github.com/skorbantu/advisor/backend/internal/service/ai"
	"github.com/skorbantu/advisor/backend/internal/service/credit"
	"github.com/skorbantu/advisor/backend/internal/service/knowledge"
	sessionservice "github.com/skorbantu/advisor/backend/internal/service/session"
	"github.com/skorbantu/advisor/backend/internal/service/transcript"
	whatsappservice "github.com/skorbantu/advisor/backend/internal/service/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Credit data store: conversations degrade to a per-turn apology
	// without it, but the process still serves.
	creditStore, err := credit.Open(cfg.Credit.Path)
	if err != nil {
		log.Fatalf("failed to open credit store: %v", err)
	}
	defer creditStore.Close()
	if creditStore.Enabled() {
		log.Println("credit data store connected")
	} else {
		log.Println("warning: CREDIT_DB_PATH is not set, credit data operations will fail")
	}

	// Transcript store: fully optional.
	transcriptLogger, err := transcript.Open(cfg.Transcript.Path)
	if err != nil {
		log.Fatalf("failed to open transcript store: %v", err)
	}
	defer transcriptLogger.Close()
	if transcriptLogger.IsEnabled() {
		log.Println("chat logging is enabled")
	} else {
		log.Println("warning: chat logging is disabled (TRANSCRIPT_DB_PATH not configured)")
	}

	kb := knowledge.NewBase(cfg.Knowledge.Path)
	registry := sessionservice.NewRegistry(transcriptLogger, kb, cfg.Chat.HistoryLimit)

	if cfg.AI.Enabled() {
		log.Printf("completion service configured (model=%s)", cfg.AI.Model)
	} else {
		log.Println("warning: OPENROUTER_API_KEY is not configured, every turn will be refused")
	}
	completer := ai.NewOpenRouterClient(cfg.AI)
	assembler := credit.NewAssembler(creditStore)
	orchestrator := ai.NewOrchestrator(completer, assembler, registry, transcriptLogger,
		cfg.AI.Enabled(), creditStore.Enabled(), cfg.AI.Timeout)
	defer orchestrator.Wait()

	sender := whatsappservice.NewSender(cfg.WhatsApp)
	if cfg.WhatsApp.Enabled() {
		log.Println("whatsapp integration is configured and ready")
	} else {
		log.Println("warning: whatsapp integration is not fully configured, check META_* environment variables")
	}

	wsHandler := ws.New(registry, orchestrator, cfg.Chat.WebResponseDelay)
	webhookHandler := whatsappHandler.New(cfg.WhatsApp, creditStore, registry, orchestrator, sender, cfg.Chat.WhatsAppResponseDelay)
	historyHandler := history.New(transcriptLogger)
	statusHandler := status.New(webhookHandler, orchestrator, registry, kb)

	go runSweep(ctx, registry, cfg.Chat.SessionMaxIdle)
	if cfg.Chat.CleanupEnabled && transcriptLogger.IsEnabled() {
		go runCleanup(ctx, transcriptLogger, cfg.Chat.CleanupMaxAgeDays)
	}

	router := handler.NewRouter(wsHandler, webhookHandler, historyHandler, statusHandler)
	startServer(ctx, cfg.Server, router)
}

// runSweep ends sessions idle longer than maxIdle, hourly.
func runSweep(ctx context.Context, registry *sessionservice.Registry, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.SweepIdle(ctx, maxIdle)
		}
	}
}

// runCleanup prunes old ended transcript sessions, daily.
func runCleanup(ctx context.Context, logger *transcript.Logger, maxAgeDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := logger.CleanupOldSessions(ctx, maxAgeDays)
			if err != nil {
				log.Printf("transcript cleanup failed: %v", err)
			} else if n > 0 {
				log.Printf("cleaned up %d old transcript sessions", n)
			}
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("credit advisor backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
