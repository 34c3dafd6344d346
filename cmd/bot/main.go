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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/intake-bot/internal/config"
	"github.com/zhouzirui/intake-bot/internal/handler"
	"github.com/zhouzirui/intake-bot/internal/metrics"
	"github.com/zhouzirui/intake-bot/internal/model/form"
	"github.com/zhouzirui/intake-bot/internal/service/conversation"
	"github.com/zhouzirui/intake-bot/internal/service/delivery"
	"github.com/zhouzirui/intake-bot/internal/service/render"
	"github.com/zhouzirui/intake-bot/internal/service/session"
	"github.com/zhouzirui/intake-bot/internal/transport/telegram"
)

const (
	documentTitle = "Compressor selection request"
	mailSubject   = "Compressor intake request from Telegram bot"
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

	catalog, err := loadCatalog(cfg.Bot.CatalogPath)
	if err != nil {
		log.Fatalf("failed to load question catalog: %v", err)
	}
	log.Printf("question catalog loaded (%d questions)", catalog.Len())

	store := session.NewStore()
	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	metrics.RegisterSessionGauge(prometheus.DefaultRegisterer, store.Active)

	renderer := render.NewPDF(documentTitle)
	mailer := delivery.NewMailer(delivery.Config{
		Host:    cfg.Mail.Host,
		Port:    cfg.Mail.Port,
		User:    cfg.Mail.User,
		Pass:    cfg.Mail.Pass,
		To:      cfg.Mail.To,
		Timeout: cfg.Mail.Timeout,
	}, mailSubject)
	if !cfg.Mail.Complete() {
		log.Println("warning: mail settings incomplete, finished submissions will fail at delivery")
	}

	controller := conversation.New(catalog, store, renderer, mailer, recorder)

	bot, err := telegram.New(cfg.Bot.Token, cfg.Bot.PollTimeout, controller)
	if err != nil {
		log.Fatalf("failed to initialize telegram bot: %v", err)
	}

	go func() {
		if err := runOpsServer(ctx, cfg.Ops, handler.NewRouter(prometheus.DefaultGatherer)); err != nil {
			log.Printf("ops server error: %v", err)
		}
	}()

	log.Println("intake bot running")
	if err := bot.Run(ctx); err != nil {
		log.Fatalf("telegram loop error: %v", err)
	}
}

func loadCatalog(path string) (form.Catalog, error) {
	if path != "" {
		return form.LoadFile(path)
	}
	return form.NewCatalog(form.Seed())
}

func runOpsServer(ctx context.Context, opsCfg config.OpsConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              opsCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("ops server listening on %s", opsCfg.Addr)

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
